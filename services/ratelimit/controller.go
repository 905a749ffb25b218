package ratelimit

import (
	"context"
	"strconv"
	"time"

	"github.com/lac-hong-legacy/guard_api/shared"
	log "github.com/sirupsen/logrus"
)

const (
	DefaultMaxBackoffExponent = 10
	ReasonRateLimited         = "RATE_LIMITED"
)

type Request struct {
	Identity Identity
	Class    EndpointClass
}

type Decision struct {
	Allowed     bool
	Class       EndpointClass
	Limit       int
	Remaining   int
	RetryAfter  time.Duration
	ResetAt     time.Time
	DeniedScope string
	Message     string
	ReasonCode  string
	// Degraded is set when some counter could not be consulted or the shared
	// store is unreachable and local counters were used.
	Degraded bool
}

// RetryAfterSeconds rounds up so clients never retry early.
func (d Decision) RetryAfterSeconds() int {
	if d.RetryAfter <= 0 {
		return 0
	}
	return int((d.RetryAfter + time.Second - 1) / time.Second)
}

// Headers renders the decision as response headers. Inactive policies
// produce none.
func (d Decision) Headers() map[string]string {
	if d.Limit < 0 {
		return nil
	}
	h := map[string]string{
		shared.HeaderRateLimitLimit:     strconv.Itoa(d.Limit),
		shared.HeaderRateLimitRemaining: strconv.Itoa(d.Remaining),
	}
	if !d.ResetAt.IsZero() {
		h[shared.HeaderRateLimitReset] = strconv.FormatInt(d.ResetAt.Unix(), 10)
	}
	if !d.Allowed {
		h[shared.HeaderRetryAfter] = strconv.Itoa(d.RetryAfterSeconds())
	}
	return h
}

// DecisionObserver receives every admission outcome.
type DecisionObserver interface {
	ObserveDecision(class EndpointClass, allowed, degraded bool)
}

type ControllerConfig struct {
	MaxBackoffExponent int
	Clock              shared.Clock
	Observer           DecisionObserver
}

type Controller struct {
	registry *Registry
	store    CounterStore
	ledger   *Ledger

	maxExp   int
	clock    shared.Clock
	observer DecisionObserver
}

func NewController(registry *Registry, store CounterStore, ledger *Ledger, cfg ControllerConfig) *Controller {
	if cfg.MaxBackoffExponent <= 0 {
		cfg.MaxBackoffExponent = DefaultMaxBackoffExponent
	}
	if cfg.Clock == nil {
		cfg.Clock = shared.SystemClock{}
	}
	return &Controller{
		registry: registry,
		store:    store,
		ledger:   ledger,
		maxExp:   cfg.MaxBackoffExponent,
		clock:    cfg.Clock,
		observer: cfg.Observer,
	}
}

func (c *Controller) Registry() *Registry {
	return c.registry
}

// Effective applies progressive backoff for v recent violations.
func Effective(baseMax int, baseWindow time.Duration, v, maxExp int) (int, time.Duration) {
	max := 1
	if v < 62 {
		max = baseMax >> uint(v)
	}
	if max < 1 {
		max = 1
	}
	exp := v
	if exp > maxExp {
		exp = maxExp
	}
	return max, baseWindow * time.Duration(int64(1)<<uint(exp))
}

func counterKey(class EndpointClass, key Key) string {
	return "rl:" + string(class) + ":" + key.String()
}

// Check counts the request against every key the policy derives from the
// identity. The request is admitted only if every key admits it.
func (c *Controller) Check(ctx context.Context, req Request) (Decision, error) {
	policy, err := c.registry.Policy(req.Class)
	if err != nil {
		return Decision{}, err
	}

	now := c.clock.Now()
	if !policy.Active {
		return Decision{Allowed: true, Class: req.Class, Limit: -1, Remaining: -1, ResetAt: now}, nil
	}

	base := c.registry.ScaledMax(policy.MaxRequests, req.Identity.EffectiveRole())
	dec := Decision{
		Allowed:   true,
		Class:     req.Class,
		Limit:     base,
		Remaining: base,
		ResetAt:   now.Add(policy.Window),
		Message:   policy.Message,
	}

	first := true
	for _, key := range policy.Keys(req.Identity) {
		fields := log.Fields{"class": req.Class, "scope": key.Scope}

		violations, err := c.ledger.ViolationCount(ctx, req.Class, key)
		if err != nil {
			log.WithError(err).WithFields(fields).Warn("Violation lookup failed, using base policy")
			dec.Degraded = true
			violations = 0
		}

		effMax, effWindow := Effective(base, policy.Window, violations, c.maxExp)
		counter, err := c.store.Hit(ctx, counterKey(req.Class, key), effWindow)
		if err != nil {
			log.WithError(err).WithFields(fields).Error("Counter store unavailable, admitting request")
			dec.Degraded = true
			continue
		}

		resetAt := counter.ResetAt
		remaining := effMax - int(counter.Count)
		if remaining < 0 {
			remaining = 0
		}
		if first || remaining < dec.Remaining {
			dec.Limit = effMax
			dec.Remaining = remaining
			if dec.Allowed {
				dec.ResetAt = resetAt
			}
		}
		first = false

		if counter.Count <= int64(effMax) {
			continue
		}

		retry := resetAt.Sub(now)
		if retry < 0 {
			retry = 0
		}
		if dec.Allowed || retry > dec.RetryAfter {
			dec.RetryAfter = retry
			dec.DeniedScope = key.Scope
			dec.ResetAt = resetAt
		}
		dec.Allowed = false

		total, err := c.ledger.RecordViolation(ctx, req.Class, key)
		if err != nil {
			log.WithError(err).WithFields(fields).Warn("Failed to record violation")
			dec.Degraded = true
		}
		log.WithFields(fields).WithFields(log.Fields{
			"count":      counter.Count,
			"max":        effMax,
			"violations": total,
			"retry":      retry,
		}).Debug("Admission denied")
	}

	if !dec.Allowed {
		dec.Remaining = 0
		dec.ReasonCode = ReasonRateLimited
	}
	if d, ok := c.store.(interface{ Degraded() bool }); ok && d.Degraded() {
		dec.Degraded = true
	}
	if c.observer != nil {
		c.observer.ObserveDecision(req.Class, dec.Allowed, dec.Degraded)
	}
	return dec, nil
}

// ResetIdentity clears the counter and violation record for every key the
// identity maps to under class.
func (c *Controller) ResetIdentity(ctx context.Context, req Request) (int, error) {
	policy, err := c.registry.Policy(req.Class)
	if err != nil {
		return 0, err
	}

	keys := policy.Keys(req.Identity)
	for _, key := range keys {
		if err := c.store.Reset(ctx, counterKey(req.Class, key)); err != nil {
			return 0, err
		}
		if err := c.ledger.Forgive(ctx, req.Class, key); err != nil {
			return 0, err
		}
	}

	log.WithFields(log.Fields{"class": req.Class, "keys": len(keys)}).Info("Admission state reset")
	return len(keys), nil
}
