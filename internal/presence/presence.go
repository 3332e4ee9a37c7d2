// Package presence keeps track of which users currently hold at least one
// relay connection. Redis backs it when several relay instances share the
// load; a process-local store serves single-instance deployments and tests.
package presence

import (
	"context"
	"sync"

	"github.com/samber/lo"
)

// Store counts live connections per user.
type Store interface {
	// Online records one more connection for the user.
	Online(ctx context.Context, userID string) error
	// Offline records one connection less; the user goes offline at zero.
	Offline(ctx context.Context, userID string) error
	IsOnline(ctx context.Context, userID string) (bool, error)
	OnlineUsers(ctx context.Context) ([]string, error)
	Close() error
}

// MemoryStore is a process-local Store.
type MemoryStore struct {
	mu    sync.Mutex
	conns map[string]int
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{conns: make(map[string]int)}
}

func (s *MemoryStore) Online(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conns[userID]++
	return nil
}

func (s *MemoryStore) Offline(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conns[userID] <= 1 {
		delete(s.conns, userID)
		return nil
	}
	s.conns[userID]--
	return nil
}

func (s *MemoryStore) IsOnline(_ context.Context, userID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conns[userID] > 0, nil
}

func (s *MemoryStore) OnlineUsers(_ context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return lo.Keys(s.conns), nil
}

func (s *MemoryStore) Close() error { return nil }
