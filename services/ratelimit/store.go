package ratelimit

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/lac-hong-legacy/guard_api/shared"
)

var (
	ErrStoreUnavailable = errors.New("counter store unavailable")
	ErrUnknownClass     = errors.New("unknown endpoint class")
)

// Counter is the state of one fixed window after an increment.
type Counter struct {
	Count       int64
	WindowStart time.Time
	ResetAt     time.Time
}

// CounterStore is an atomically incrementable key counter with expiry.
type CounterStore interface {
	// Hit increments key inside a fixed window, starting a new window of the
	// given length when the previous one has expired. A running window keeps
	// the length it was started with.
	Hit(ctx context.Context, key string, window time.Duration) (Counter, error)
	// Bump increments key and pushes its expiry out to ttl from now.
	Bump(ctx context.Context, key string, ttl time.Duration) (int64, error)
	Peek(ctx context.Context, key string) (int64, error)
	Reset(ctx context.Context, key string) error
}

type localEntry struct {
	count     int64
	start     time.Time
	expiresAt time.Time
}

// LocalStore keeps counters in process memory. It is accurate for a single
// instance only.
type LocalStore struct {
	mu      sync.Mutex
	entries map[string]*localEntry
	clock   shared.Clock

	stop chan struct{}
	once sync.Once
}

func NewLocalStore(clock shared.Clock) *LocalStore {
	if clock == nil {
		clock = shared.SystemClock{}
	}
	return &LocalStore{
		entries: make(map[string]*localEntry),
		clock:   clock,
		stop:    make(chan struct{}),
	}
}

// StartJanitor evicts expired entries every interval until Close is called.
func (s *LocalStore) StartJanitor(interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.evictExpired()
			case <-s.stop:
				return
			}
		}
	}()
}

func (s *LocalStore) Close() {
	s.once.Do(func() { close(s.stop) })
}

func (s *LocalStore) evictExpired() int {
	now := s.clock.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for k, e := range s.entries {
		if !now.Before(e.expiresAt) {
			delete(s.entries, k)
			n++
		}
	}
	return n
}

// live returns the entry for key, dropping it first if expired. Caller holds mu.
func (s *LocalStore) live(key string, now time.Time) *localEntry {
	e, ok := s.entries[key]
	if !ok {
		return nil
	}
	if !now.Before(e.expiresAt) {
		delete(s.entries, key)
		return nil
	}
	return e
}

func (s *LocalStore) Hit(_ context.Context, key string, window time.Duration) (Counter, error) {
	now := s.clock.Now()
	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.live(key, now)
	if e == nil {
		e = &localEntry{start: now, expiresAt: now.Add(window)}
		s.entries[key] = e
	}
	e.count++
	return Counter{Count: e.count, WindowStart: e.start, ResetAt: e.expiresAt}, nil
}

func (s *LocalStore) Bump(_ context.Context, key string, ttl time.Duration) (int64, error) {
	now := s.clock.Now()
	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.live(key, now)
	if e == nil {
		e = &localEntry{start: now}
		s.entries[key] = e
	}
	e.count++
	e.expiresAt = now.Add(ttl)
	return e.count, nil
}

func (s *LocalStore) Peek(_ context.Context, key string) (int64, error) {
	now := s.clock.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	if e := s.live(key, now); e != nil {
		return e.count, nil
	}
	return 0, nil
}

func (s *LocalStore) Reset(_ context.Context, key string) error {
	s.mu.Lock()
	delete(s.entries, key)
	s.mu.Unlock()
	return nil
}

func (s *LocalStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}
