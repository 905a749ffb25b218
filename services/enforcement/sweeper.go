package enforcement

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lac-hong-legacy/guard_api/model"
	"github.com/lac-hong-legacy/guard_api/shared"
	"github.com/robfig/cron/v3"
	log "github.com/sirupsen/logrus"
)

const (
	DefaultSweepSchedule = "@every 1m"
	defaultSweepBatch    = 200
)

// SweepObserver receives the outcome of every sweep run.
type SweepObserver interface {
	ObserveSweep(deactivated int64, err error, ranAt time.Time)
}

// Sweeper deactivates temporary blocks whose expiry has passed.
type Sweeper struct {
	blocks   BlockStore
	clock    shared.Clock
	batch    int
	observer SweepObserver

	mu   sync.Mutex
	cron *cron.Cron
}

type SweeperOption func(*Sweeper)

func WithSweepClock(c shared.Clock) SweeperOption {
	return func(s *Sweeper) { s.clock = c }
}

func WithSweepBatch(n int) SweeperOption {
	return func(s *Sweeper) {
		if n > 0 {
			s.batch = n
		}
	}
}

func WithSweepObserver(o SweepObserver) SweeperOption {
	return func(s *Sweeper) { s.observer = o }
}

func NewSweeper(blocks BlockStore, opts ...SweeperOption) *Sweeper {
	s := &Sweeper{
		blocks: blocks,
		clock:  shared.SystemClock{},
		batch:  defaultSweepBatch,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Sweep runs one pass and returns how many blocks it deactivated. Each row is
// expired by a conditional update, so concurrent extends, unblocks and
// overlapping sweeps are safe and a second pass finds nothing to do.
func (s *Sweeper) Sweep(ctx context.Context) (int64, error) {
	now := s.clock.Now()
	var total int64

	for {
		ids, err := s.blocks.SweepCandidates(ctx, now, s.batch)
		if err != nil {
			return s.done(total, fmt.Errorf("load sweep candidates: %w", err), now)
		}

		var changed int64
		for _, id := range ids {
			event := &model.BlockEvent{
				ID:        uuid.NewString(),
				Type:      model.BlockEventExpired,
				Actor:     model.SystemActor,
				CreatedAt: now,
			}
			ok, err := s.blocks.ExpireIfDue(ctx, id, now, event)
			if err != nil {
				return s.done(total, fmt.Errorf("expire block %s: %w", id, err), now)
			}
			if ok {
				changed++
			}
		}
		total += changed

		if len(ids) < s.batch || changed == 0 {
			return s.done(total, nil, now)
		}
	}
}

func (s *Sweeper) done(n int64, err error, ranAt time.Time) (int64, error) {
	fields := log.Fields{"deactivated": n, "ran_at": ranAt}
	switch {
	case err != nil:
		log.WithFields(fields).WithError(err).Error("Expiry sweep failed")
	case n > 0:
		log.WithFields(fields).Info("Expiry sweep deactivated blocks")
	default:
		log.WithFields(fields).Debug("Expiry sweep found nothing to do")
	}
	if s.observer != nil {
		s.observer.ObserveSweep(n, err, ranAt)
	}
	return n, err
}

// Start schedules Sweep on a cron spec such as "@every 1m". Runs that would
// overlap a still-running sweep are skipped.
func (s *Sweeper) Start(spec string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cron != nil {
		return nil
	}
	if spec == "" {
		spec = DefaultSweepSchedule
	}

	c := cron.New(cron.WithChain(cron.Recover(cron.DefaultLogger), cron.SkipIfStillRunning(cron.DefaultLogger)))
	if _, err := c.AddFunc(spec, func() {
		_, _ = s.Sweep(context.Background())
	}); err != nil {
		return fmt.Errorf("schedule sweeper %q: %w", spec, err)
	}
	c.Start()
	s.cron = c

	log.WithField("schedule", spec).Info("Expiry sweeper scheduled")
	return nil
}

// Stop waits for a running sweep to finish.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	c := s.cron
	s.cron = nil
	s.mu.Unlock()
	if c != nil {
		<-c.Stop().Done()
	}
}
