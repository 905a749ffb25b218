package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/lac-hong-legacy/guard_api/shared"
	"github.com/redis/go-redis/v9"
)

// hitScript increments a fixed window counter and sets its expiry in one
// round trip. It also repairs a key that lost its TTL.
var hitScript = redis.NewScript(`
local c = redis.call('INCR', KEYS[1])
if c == 1 then
  redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
local ttl = redis.call('PTTL', KEYS[1])
if ttl < 0 then
  redis.call('PEXPIRE', KEYS[1], ARGV[1])
  ttl = tonumber(ARGV[1])
end
return {c, ttl}
`)

type RedisStore struct {
	client  redis.UniversalClient
	prefix  string
	timeout time.Duration
	clock   shared.Clock
}

type RedisStoreOption func(*RedisStore)

func WithPrefix(prefix string) RedisStoreOption {
	return func(s *RedisStore) { s.prefix = prefix }
}

func WithTimeout(d time.Duration) RedisStoreOption {
	return func(s *RedisStore) { s.timeout = d }
}

func WithClock(c shared.Clock) RedisStoreOption {
	return func(s *RedisStore) { s.clock = c }
}

func NewRedisStore(client redis.UniversalClient, opts ...RedisStoreOption) *RedisStore {
	s := &RedisStore{
		client:  client,
		prefix:  "guard:",
		timeout: 250 * time.Millisecond,
		clock:   shared.SystemClock{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *RedisStore) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.timeout)
}

func (s *RedisStore) Hit(ctx context.Context, key string, window time.Duration) (Counter, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	now := s.clock.Now()
	res, err := hitScript.Run(ctx, s.client, []string{s.prefix + key}, window.Milliseconds()).Int64Slice()
	if err != nil {
		return Counter{}, fmt.Errorf("redis hit %s: %w", key, err)
	}
	if len(res) != 2 {
		return Counter{}, fmt.Errorf("redis hit %s: unexpected reply length %d", key, len(res))
	}

	remaining := time.Duration(res[1]) * time.Millisecond
	elapsed := window - remaining
	if elapsed < 0 {
		elapsed = 0
	}
	return Counter{Count: res[0], WindowStart: now.Add(-elapsed), ResetAt: now.Add(remaining)}, nil
}

func (s *RedisStore) Bump(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var incr *redis.IntCmd
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, s.prefix+key)
		pipe.PExpire(ctx, s.prefix+key, ttl)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("redis bump %s: %w", key, err)
	}
	return incr.Val(), nil
}

func (s *RedisStore) Peek(ctx context.Context, key string) (int64, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	n, err := s.client.Get(ctx, s.prefix+key).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("redis peek %s: %w", key, err)
	}
	return n, nil
}

func (s *RedisStore) Reset(ctx context.Context, key string) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	if err := s.client.Del(ctx, s.prefix+key).Err(); err != nil {
		return fmt.Errorf("redis reset %s: %w", key, err)
	}
	return nil
}

func (s *RedisStore) Ping(ctx context.Context) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	return s.client.Ping(ctx).Err()
}
