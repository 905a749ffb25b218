package ratelimit

import (
	"context"
	"time"
)

const DefaultViolationHorizon = 24 * time.Hour

// Ledger counts denials per key. Each new denial pushes the horizon out again,
// so a record disappears only after a full horizon without denials.
type Ledger struct {
	store   CounterStore
	horizon time.Duration
}

func NewLedger(store CounterStore, horizon time.Duration) *Ledger {
	if horizon <= 0 {
		horizon = DefaultViolationHorizon
	}
	return &Ledger{store: store, horizon: horizon}
}

func violationKey(class EndpointClass, key Key) string {
	return "viol:" + string(class) + ":" + key.String()
}

func (l *Ledger) RecordViolation(ctx context.Context, class EndpointClass, key Key) (int, error) {
	n, err := l.store.Bump(ctx, violationKey(class, key), l.horizon)
	return int(n), err
}

func (l *Ledger) ViolationCount(ctx context.Context, class EndpointClass, key Key) (int, error) {
	n, err := l.store.Peek(ctx, violationKey(class, key))
	return int(n), err
}

func (l *Ledger) Forgive(ctx context.Context, class EndpointClass, key Key) error {
	return l.store.Reset(ctx, violationKey(class, key))
}
