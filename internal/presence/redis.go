package presence

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

const DefaultKeyPrefix = "presence"

// offlineScript decrements the user's connection counter and removes the user
// from the online set once the counter reaches zero.
var offlineScript = redis.NewScript(`
local n = redis.call('DECR', KEYS[1])
if n <= 0 then
  redis.call('DEL', KEYS[1])
  redis.call('SREM', KEYS[2], ARGV[1])
  return 0
end
return n
`)

// RedisStore is a Store shared by every relay instance pointing at the same
// Redis. It keeps a set of online users and one connection counter per user.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore wraps an existing client. An empty prefix selects
// DefaultKeyPrefix.
func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	return &RedisStore{client: client, prefix: prefix}
}

// DialRedis connects to the Redis server at redisURL and checks it responds.
func DialRedis(ctx context.Context, redisURL, prefix string) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return NewRedisStore(client, prefix), nil
}

func (s *RedisStore) onlineKey() string {
	return s.prefix + ":online"
}

func (s *RedisStore) connsKey(userID string) string {
	return s.prefix + ":conns:" + userID
}

func (s *RedisStore) Online(ctx context.Context, userID string) error {
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Incr(ctx, s.connsKey(userID))
		pipe.SAdd(ctx, s.onlineKey(), userID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("mark %s online: %w", userID, err)
	}
	return nil
}

func (s *RedisStore) Offline(ctx context.Context, userID string) error {
	keys := []string{s.connsKey(userID), s.onlineKey()}
	if err := offlineScript.Run(ctx, s.client, keys, userID).Err(); err != nil {
		return fmt.Errorf("mark %s offline: %w", userID, err)
	}
	return nil
}

func (s *RedisStore) IsOnline(ctx context.Context, userID string) (bool, error) {
	return s.client.SIsMember(ctx, s.onlineKey(), userID).Result()
}

func (s *RedisStore) OnlineUsers(ctx context.Context) ([]string, error) {
	return s.client.SMembers(ctx, s.onlineKey()).Result()
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
