package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/lac-hong-legacy/guard_api/shared"
	log "github.com/sirupsen/logrus"
)

// ModeObserver is told whenever the fallback store changes mode.
type ModeObserver interface {
	SetDegraded(degraded bool)
}

type FallbackOption func(*FallbackStore)

func WithRetryInterval(d time.Duration) FallbackOption {
	return func(s *FallbackStore) { s.retryInterval = d }
}

func WithObserver(o ModeObserver) FallbackOption {
	return func(s *FallbackStore) { s.observer = o }
}

func WithFallbackClock(c shared.Clock) FallbackOption {
	return func(s *FallbackStore) { s.clock = c }
}

// FallbackStore serves from the shared primary and drops to a process-local
// store while the primary is failing. The primary is re-probed at most once
// per retry interval.
type FallbackStore struct {
	primary CounterStore
	local   CounterStore

	clock         shared.Clock
	retryInterval time.Duration
	observer      ModeObserver

	mu        sync.Mutex
	degraded  bool
	nextProbe time.Time
}

func NewFallbackStore(primary, local CounterStore, opts ...FallbackOption) *FallbackStore {
	s := &FallbackStore{
		primary:       primary,
		local:         local,
		clock:         shared.SystemClock{},
		retryInterval: 5 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *FallbackStore) Degraded() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.degraded
}

func (s *FallbackStore) usePrimary() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.degraded || !s.clock.Now().Before(s.nextProbe)
}

func (s *FallbackStore) markFailed(op string, err error) {
	s.mu.Lock()
	wasDegraded := s.degraded
	s.degraded = true
	s.nextProbe = s.clock.Now().Add(s.retryInterval)
	s.mu.Unlock()

	if !wasDegraded {
		log.WithError(err).WithField("op", op).Warn("Counter store degraded mode: falling back to local counters")
		if s.observer != nil {
			s.observer.SetDegraded(true)
		}
	}
}

func (s *FallbackStore) markHealthy() {
	s.mu.Lock()
	wasDegraded := s.degraded
	s.degraded = false
	s.mu.Unlock()

	if wasDegraded {
		log.Info("Counter store recovered: shared counters back in use")
		if s.observer != nil {
			s.observer.SetDegraded(false)
		}
	}
}

func fallbackDo[T any](s *FallbackStore, op string, fn func(CounterStore) (T, error)) (T, error) {
	if s.usePrimary() {
		v, err := fn(s.primary)
		if err == nil {
			s.markHealthy()
			return v, nil
		}
		s.markFailed(op, err)
	}

	v, err := fn(s.local)
	if err != nil {
		var zero T
		return zero, fmt.Errorf("%w: %s: %v", ErrStoreUnavailable, op, err)
	}
	return v, nil
}

func (s *FallbackStore) Hit(ctx context.Context, key string, window time.Duration) (Counter, error) {
	return fallbackDo(s, "hit", func(cs CounterStore) (Counter, error) {
		return cs.Hit(ctx, key, window)
	})
}

func (s *FallbackStore) Bump(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	return fallbackDo(s, "bump", func(cs CounterStore) (int64, error) {
		return cs.Bump(ctx, key, ttl)
	})
}

func (s *FallbackStore) Peek(ctx context.Context, key string) (int64, error) {
	return fallbackDo(s, "peek", func(cs CounterStore) (int64, error) {
		return cs.Peek(ctx, key)
	})
}

// Reset clears the key in both stores so a later recovery does not resurrect it.
func (s *FallbackStore) Reset(ctx context.Context, key string) error {
	_ = s.local.Reset(ctx, key)
	_, err := fallbackDo(s, "reset", func(cs CounterStore) (struct{}, error) {
		return struct{}{}, cs.Reset(ctx, key)
	})
	return err
}
