package ratelimit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/lac-hong-legacy/guard_api/shared"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var epoch = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func TestLocalStore_Hit(t *testing.T) {
	clock := shared.NewManualClock(epoch)
	store := NewLocalStore(clock)
	ctx := context.Background()

	t.Run("counts within a window", func(t *testing.T) {
		for i := 1; i <= 3; i++ {
			c, err := store.Hit(ctx, "a", time.Minute)
			require.NoError(t, err)
			assert.Equal(t, int64(i), c.Count)
			assert.Equal(t, epoch, c.WindowStart)
		}
	})

	t.Run("starts a fresh window after expiry", func(t *testing.T) {
		clock.Advance(time.Minute)
		c, err := store.Hit(ctx, "a", time.Minute)
		require.NoError(t, err)
		assert.Equal(t, int64(1), c.Count)
		assert.Equal(t, epoch.Add(time.Minute), c.WindowStart)
	})

	t.Run("keys are independent", func(t *testing.T) {
		c, err := store.Hit(ctx, "b", time.Minute)
		require.NoError(t, err)
		assert.Equal(t, int64(1), c.Count)
	})
}

func TestLocalStore_BumpRefreshesExpiry(t *testing.T) {
	clock := shared.NewManualClock(epoch)
	store := NewLocalStore(clock)
	ctx := context.Background()

	n, err := store.Bump(ctx, "v", time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	clock.Advance(50 * time.Minute)
	n, err = store.Bump(ctx, "v", time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	// Still alive 50 minutes after the second bump.
	clock.Advance(50 * time.Minute)
	got, err := store.Peek(ctx, "v")
	require.NoError(t, err)
	assert.Equal(t, int64(2), got)

	clock.Advance(11 * time.Minute)
	got, err = store.Peek(ctx, "v")
	require.NoError(t, err)
	assert.Zero(t, got)
}

func TestLocalStore_ResetAndEvict(t *testing.T) {
	clock := shared.NewManualClock(epoch)
	store := NewLocalStore(clock)
	ctx := context.Background()

	_, _ = store.Hit(ctx, "a", time.Minute)
	_, _ = store.Hit(ctx, "b", time.Hour)
	require.NoError(t, store.Reset(ctx, "a"))

	n, err := store.Peek(ctx, "a")
	require.NoError(t, err)
	assert.Zero(t, n)

	clock.Advance(2 * time.Hour)
	assert.Equal(t, 1, store.evictExpired())
	assert.Equal(t, 0, store.Len())
}

func TestLocalStore_ConcurrentHits(t *testing.T) {
	store := NewLocalStore(nil)
	defer store.Close()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = store.Hit(ctx, "k", time.Minute)
		}()
	}
	wg.Wait()

	n, err := store.Peek(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, int64(100), n)
}

func newMiniredis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestRedisStore_Hit(t *testing.T) {
	mr, client := newMiniredis(t)
	clock := shared.NewManualClock(epoch)
	store := NewRedisStore(client, WithClock(clock), WithPrefix("t:"))
	ctx := context.Background()

	t.Run("first hit sets expiry", func(t *testing.T) {
		c, err := store.Hit(ctx, "a", time.Minute)
		require.NoError(t, err)
		assert.Equal(t, int64(1), c.Count)
		assert.Equal(t, epoch, c.WindowStart)
		assert.Equal(t, time.Minute, mr.TTL("t:a"))
	})

	t.Run("window start follows remaining ttl", func(t *testing.T) {
		mr.FastForward(20 * time.Second)
		clock.Advance(20 * time.Second)

		c, err := store.Hit(ctx, "a", time.Minute)
		require.NoError(t, err)
		assert.Equal(t, int64(2), c.Count)
		assert.Equal(t, epoch, c.WindowStart)
	})

	t.Run("expired key starts a new window", func(t *testing.T) {
		mr.FastForward(time.Minute)
		clock.Advance(time.Minute)

		c, err := store.Hit(ctx, "a", time.Minute)
		require.NoError(t, err)
		assert.Equal(t, int64(1), c.Count)
		assert.Equal(t, clock.Now(), c.WindowStart)
	})

	t.Run("repairs a key without ttl", func(t *testing.T) {
		require.NoError(t, mr.Set("t:b", "4"))
		c, err := store.Hit(ctx, "b", time.Minute)
		require.NoError(t, err)
		assert.Equal(t, int64(5), c.Count)
		assert.Equal(t, time.Minute, mr.TTL("t:b"))
	})
}

func TestRedisStore_BumpPeekReset(t *testing.T) {
	mr, client := newMiniredis(t)
	store := NewRedisStore(client, WithPrefix("t:"))
	ctx := context.Background()

	n, err := store.Bump(ctx, "viol", 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	mr.FastForward(23 * time.Hour)
	n, err = store.Bump(ctx, "viol", 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.Equal(t, 24*time.Hour, mr.TTL("t:viol"))

	got, err := store.Peek(ctx, "viol")
	require.NoError(t, err)
	assert.Equal(t, int64(2), got)

	require.NoError(t, store.Reset(ctx, "viol"))
	got, err = store.Peek(ctx, "viol")
	require.NoError(t, err)
	assert.Zero(t, got)
}

// flakyStore fails on demand and counts how often it was asked.
type flakyStore struct {
	*LocalStore
	mu    sync.Mutex
	fail  bool
	calls int
}

func (f *flakyStore) setFail(v bool) {
	f.mu.Lock()
	f.fail = v
	f.mu.Unlock()
}

func (f *flakyStore) check() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.fail {
		return errors.New("connection refused")
	}
	return nil
}

func (f *flakyStore) Hit(ctx context.Context, key string, window time.Duration) (Counter, error) {
	if err := f.check(); err != nil {
		return Counter{}, err
	}
	return f.LocalStore.Hit(ctx, key, window)
}

func (f *flakyStore) Bump(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	if err := f.check(); err != nil {
		return 0, err
	}
	return f.LocalStore.Bump(ctx, key, ttl)
}

func (f *flakyStore) Peek(ctx context.Context, key string) (int64, error) {
	if err := f.check(); err != nil {
		return 0, err
	}
	return f.LocalStore.Peek(ctx, key)
}

func (f *flakyStore) Reset(ctx context.Context, key string) error {
	if err := f.check(); err != nil {
		return err
	}
	return f.LocalStore.Reset(ctx, key)
}

type modeRecorder struct {
	mu    sync.Mutex
	modes []bool
}

func (m *modeRecorder) SetDegraded(d bool) {
	m.mu.Lock()
	m.modes = append(m.modes, d)
	m.mu.Unlock()
}

func TestFallbackStore_DegradesAndRecovers(t *testing.T) {
	clock := shared.NewManualClock(epoch)
	primary := &flakyStore{LocalStore: NewLocalStore(clock)}
	local := NewLocalStore(clock)
	obs := &modeRecorder{}
	store := NewFallbackStore(primary, local,
		WithFallbackClock(clock),
		WithRetryInterval(5*time.Second),
		WithObserver(obs),
	)
	ctx := context.Background()

	c, err := store.Hit(ctx, "k", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(1), c.Count)
	assert.False(t, store.Degraded())

	primary.setFail(true)
	c, err = store.Hit(ctx, "k", time.Minute)
	require.NoError(t, err, "primary outage must not surface")
	assert.Equal(t, int64(1), c.Count, "served from the local store")
	assert.True(t, store.Degraded())

	callsBefore := primary.calls
	_, err = store.Hit(ctx, "k", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, callsBefore, primary.calls, "primary is not probed inside the retry interval")

	primary.setFail(false)
	clock.Advance(5 * time.Second)
	c, err = store.Hit(ctx, "k", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(2), c.Count, "primary counter resumes")
	assert.False(t, store.Degraded())

	assert.Equal(t, []bool{true, false}, obs.modes)
}

func TestFallbackStore_BothFail(t *testing.T) {
	primary := &flakyStore{LocalStore: NewLocalStore(nil), fail: true}
	local := &flakyStore{LocalStore: NewLocalStore(nil), fail: true}
	store := NewFallbackStore(primary, local)

	_, err := store.Hit(context.Background(), "k", time.Minute)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrStoreUnavailable)
}

func TestFallbackStore_RedisOutage(t *testing.T) {
	mr, client := newMiniredis(t)
	store := NewFallbackStore(NewRedisStore(client), NewLocalStore(nil), WithRetryInterval(time.Hour))
	ctx := context.Background()

	_, err := store.Hit(ctx, "k", time.Minute)
	require.NoError(t, err)

	mr.Close()
	c, err := store.Hit(ctx, "k", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(1), c.Count)
	assert.True(t, store.Degraded())
}
