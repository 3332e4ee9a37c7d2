package presence

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/Tyrowin/gochat-relay/internal/relay"
)

type update struct {
	online bool
	userID string
	conn   relay.ConnID
}

// Tracker feeds relay lifecycle transitions into a Store. Updates are queued
// and applied in order by one worker goroutine, so the relay's event loop never
// waits on the store.
type Tracker struct {
	store   Store
	log     *slog.Logger
	timeout time.Duration
	updates chan update
	done    chan struct{}
	once    sync.Once
}

// NewTracker starts a Tracker. Each store call is bounded by timeout; at most
// queueSize updates may be pending before new ones are dropped.
func NewTracker(store Store, log *slog.Logger, timeout time.Duration, queueSize int) *Tracker {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	if queueSize <= 0 {
		queueSize = 1024
	}
	t := &Tracker{
		store:   store,
		log:     log,
		timeout: timeout,
		updates: make(chan update, queueSize),
		done:    make(chan struct{}),
	}
	go t.run()
	return t
}

var _ relay.LifecycleListener = (*Tracker)(nil)

func (t *Tracker) UserOnline(userID string, id relay.ConnID) {
	t.enqueue(update{online: true, userID: userID, conn: id})
}

func (t *Tracker) UserOffline(userID string, id relay.ConnID) {
	t.enqueue(update{online: false, userID: userID, conn: id})
}

// Store returns the underlying store.
func (t *Tracker) Store() Store {
	return t.store
}

// Close stops accepting updates and waits until the queued ones are applied.
// It must not race with UserOnline/UserOffline.
func (t *Tracker) Close() {
	t.once.Do(func() {
		close(t.updates)
	})
	<-t.done
}

func (t *Tracker) enqueue(u update) {
	select {
	case t.updates <- u:
	default:
		t.log.Warn("presence queue full; dropping update", "user", u.userID, "conn", u.conn, "online", u.online)
	}
}

func (t *Tracker) run() {
	defer close(t.done)
	for u := range t.updates {
		t.apply(u)
	}
}

func (t *Tracker) apply(u update) {
	ctx, cancel := context.WithTimeout(context.Background(), t.timeout)
	defer cancel()

	op, fn := "offline", t.store.Offline
	if u.online {
		op, fn = "online", t.store.Online
	}
	if err := fn(ctx, u.userID); err != nil {
		t.log.Error("presence update failed", "op", op, "user", u.userID, "conn", u.conn, "error", err)
	}
}
