package ratelimit

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/lac-hong-legacy/guard_api/model"
	"github.com/lac-hong-legacy/guard_api/shared"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestController(t *testing.T) (*Controller, *shared.ManualClock) {
	t.Helper()
	clock := shared.NewManualClock(epoch)
	store := NewLocalStore(clock)
	ctrl := NewController(NewRegistry(), store, NewLedger(store, 0), ControllerConfig{Clock: clock})
	return ctrl, clock
}

func setMax(t *testing.T, c *Controller, class EndpointClass, max int, window time.Duration) {
	t.Helper()
	_, err := c.Registry().Update(class, PolicyUpdate{MaxRequests: &max, Window: &window})
	require.NoError(t, err)
}

func TestEffective(t *testing.T) {
	cases := []struct {
		v          int
		wantMax    int
		wantWindow time.Duration
	}{
		{0, 10, time.Minute},
		{1, 5, 2 * time.Minute},
		{2, 2, 4 * time.Minute},
		{3, 1, 8 * time.Minute},
		{5, 1, 32 * time.Minute},
		{12, 1, 1024 * time.Minute},
		{100, 1, 1024 * time.Minute},
	}
	for _, tc := range cases {
		max, window := Effective(10, time.Minute, tc.v, 10)
		assert.Equal(t, tc.wantMax, max, "v=%d", tc.v)
		assert.Equal(t, tc.wantWindow, window, "v=%d", tc.v)
	}
}

func TestController_WindowEnforcement(t *testing.T) {
	ctrl, clock := newTestController(t)
	ctx := context.Background()
	setMax(t, ctrl, ClassLogin, 5, 10*time.Minute)

	req := Request{Class: ClassLogin, Identity: Identity{IP: "1.2.3.4", Email: "a@b.c"}}
	for i := 1; i <= 5; i++ {
		dec, err := ctrl.Check(ctx, req)
		require.NoError(t, err)
		assert.True(t, dec.Allowed, "request %d", i)
		assert.Equal(t, 5-i, dec.Remaining)
		assert.Equal(t, 5, dec.Limit)
	}

	clock.Advance(4 * time.Minute)
	dec, err := ctrl.Check(ctx, req)
	require.NoError(t, err)
	assert.False(t, dec.Allowed)
	assert.Equal(t, ReasonRateLimited, dec.ReasonCode)
	assert.Equal(t, 6*time.Minute, dec.RetryAfter)
	assert.LessOrEqual(t, dec.RetryAfter, 10*time.Minute)
	assert.Equal(t, "ip+email", dec.DeniedScope)
	assert.Equal(t, 360, dec.RetryAfterSeconds())
	assert.Zero(t, dec.Remaining)

	// One violation halves the limit and doubles the window for the next 24h.
	clock.Advance(6 * time.Minute)
	dec, err = ctrl.Check(ctx, req)
	require.NoError(t, err)
	assert.True(t, dec.Allowed)
	assert.Equal(t, 2, dec.Limit)
}

func TestController_WindowResetWithoutViolations(t *testing.T) {
	ctrl, clock := newTestController(t)
	ctx := context.Background()
	setMax(t, ctrl, ClassLogin, 3, time.Minute)

	req := Request{Class: ClassLogin, Identity: Identity{IP: "1.2.3.4", Email: "a@b.c"}}
	for i := 0; i < 3; i++ {
		dec, err := ctrl.Check(ctx, req)
		require.NoError(t, err)
		require.True(t, dec.Allowed)
	}

	clock.Advance(time.Minute)
	dec, err := ctrl.Check(ctx, req)
	require.NoError(t, err)
	assert.True(t, dec.Allowed)
	assert.Equal(t, 2, dec.Remaining, "counter restarted")
}

func TestController_ProgressiveBackoff(t *testing.T) {
	ctrl, clock := newTestController(t)
	ctx := context.Background()
	setMax(t, ctrl, ClassPasswordReset, 8, time.Minute)

	id := Identity{IP: "9.9.9.9", Email: "x@y.z"}
	req := Request{Class: ClassPasswordReset, Identity: id}
	p, _ := ctrl.Registry().Policy(ClassPasswordReset)
	key := p.Keys(id)[0]

	// Each denial records a violation; once the running window closes the
	// next one is half as large and twice as long.
	for v, limit := range []int{8, 4, 2, 1, 1} {
		for i := 0; i < limit; i++ {
			dec, err := ctrl.Check(ctx, req)
			require.NoError(t, err)
			require.True(t, dec.Allowed, "v=%d request %d", v, i)
			assert.Equal(t, limit, dec.Limit)
		}
		dec, err := ctrl.Check(ctx, req)
		require.NoError(t, err)
		require.False(t, dec.Allowed, "v=%d", v)
		_, window := Effective(8, time.Minute, v, DefaultMaxBackoffExponent)
		assert.Equal(t, window, dec.RetryAfter)

		got, err := ctrl.ledger.ViolationCount(ctx, ClassPasswordReset, key)
		require.NoError(t, err)
		assert.Equal(t, v+1, got)

		clock.Advance(dec.RetryAfter)
	}

	t.Run("fresh key uses the unscaled policy", func(t *testing.T) {
		other := Request{Class: ClassPasswordReset, Identity: Identity{IP: "9.9.9.9", Email: "other@y.z"}}
		dec, err := ctrl.Check(ctx, other)
		require.NoError(t, err)
		assert.Equal(t, 8, dec.Limit)
	})

	t.Run("violations lapse after the horizon", func(t *testing.T) {
		clock.Advance(25 * time.Hour)
		v, err := ctrl.ledger.ViolationCount(ctx, ClassPasswordReset, key)
		require.NoError(t, err)
		assert.Zero(t, v)

		dec, err := ctrl.Check(ctx, req)
		require.NoError(t, err)
		assert.True(t, dec.Allowed)
		assert.Equal(t, 8, dec.Limit)
	})
}

func TestController_BackoffFormula(t *testing.T) {
	ctrl, _ := newTestController(t)
	ctx := context.Background()
	setMax(t, ctrl, ClassLogin, 10, time.Minute)

	id := Identity{IP: "5.5.5.5", Email: "v@w.x"}
	p, _ := ctrl.Registry().Policy(ClassLogin)
	key := p.Keys(id)[0]

	for v := 0; v <= 4; v++ {
		if v > 0 {
			_, err := ctrl.ledger.RecordViolation(ctx, ClassLogin, key)
			require.NoError(t, err)
		}
		require.NoError(t, ctrl.store.Reset(ctx, counterKey(ClassLogin, key)))
		dec, err := ctrl.Check(ctx, Request{Class: ClassLogin, Identity: id})
		require.NoError(t, err)
		want := 10 >> uint(v)
		if want < 1 {
			want = 1
		}
		assert.Equal(t, want, dec.Limit, "v=%d", v)
	}
}

func TestController_ScopeIsolation(t *testing.T) {
	ctrl, _ := newTestController(t)
	ctx := context.Background()
	setMax(t, ctrl, ClassReportSubmission, 2, time.Hour)

	a := Request{Class: ClassReportSubmission, Identity: Identity{BrowserUUID: "browser-a"}}
	b := Request{Class: ClassReportSubmission, Identity: Identity{BrowserUUID: "browser-b"}}

	for i := 0; i < 2; i++ {
		dec, err := ctrl.Check(ctx, a)
		require.NoError(t, err)
		require.True(t, dec.Allowed)
	}
	dec, err := ctrl.Check(ctx, a)
	require.NoError(t, err)
	assert.False(t, dec.Allowed)

	dec, err = ctrl.Check(ctx, b)
	require.NoError(t, err)
	assert.True(t, dec.Allowed, "exhausting one browser must not affect another")
}

func TestController_AllScopesMustPass(t *testing.T) {
	ctrl, _ := newTestController(t)
	ctx := context.Background()
	setMax(t, ctrl, ClassReportSubmission, 3, time.Hour)

	// Rotating browser ids behind one IP still trips the IP scope.
	var last Decision
	for i := 0; i < 4; i++ {
		dec, err := ctrl.Check(ctx, Request{
			Class:    ClassReportSubmission,
			Identity: Identity{IP: "7.7.7.7", BrowserUUID: string(rune('a' + i))},
		})
		require.NoError(t, err)
		last = dec
	}
	assert.False(t, last.Allowed)
	assert.Equal(t, "ip", last.DeniedScope)
}

func TestController_OnlyDeniedKeyIsPenalised(t *testing.T) {
	ctrl, _ := newTestController(t)
	ctx := context.Background()
	setMax(t, ctrl, ClassReportSubmission, 1, time.Hour)

	// Exhaust the browser scope from a different IP.
	first := Request{Class: ClassReportSubmission, Identity: Identity{IP: "1.1.1.1", BrowserUUID: "shared"}}
	_, err := ctrl.Check(ctx, first)
	require.NoError(t, err)

	second := Request{Class: ClassReportSubmission, Identity: Identity{IP: "2.2.2.2", BrowserUUID: "shared"}}
	dec, err := ctrl.Check(ctx, second)
	require.NoError(t, err)
	require.False(t, dec.Allowed)
	assert.Equal(t, "uuid", dec.DeniedScope)

	p, _ := ctrl.Registry().Policy(ClassReportSubmission)
	keys := p.Keys(second.Identity)
	ipViolations, _ := ctrl.ledger.ViolationCount(ctx, ClassReportSubmission, keys[0])
	browserViolations, _ := ctrl.ledger.ViolationCount(ctx, ClassReportSubmission, keys[1])
	assert.Zero(t, ipViolations)
	assert.Equal(t, 1, browserViolations)
}

func TestController_RoleScaling(t *testing.T) {
	ctrl, _ := newTestController(t)
	ctx := context.Background()

	anon, err := ctrl.Check(ctx, Request{Class: ClassAPI, Identity: Identity{IP: "1.1.1.1"}})
	require.NoError(t, err)
	admin, err := ctrl.Check(ctx, Request{Class: ClassAPI, Identity: Identity{IP: "1.1.1.2", UserID: "u", Role: model.RoleAdmin}})
	require.NoError(t, err)

	assert.Equal(t, 100, anon.Limit)
	assert.Equal(t, 1000, admin.Limit)
}

func TestController_InactivePolicyAdmits(t *testing.T) {
	ctrl, _ := newTestController(t)
	off := false
	_, err := ctrl.Registry().Update(ClassLogin, PolicyUpdate{Active: &off})
	require.NoError(t, err)

	for i := 0; i < 50; i++ {
		dec, err := ctrl.Check(context.Background(), Request{Class: ClassLogin, Identity: Identity{IP: "1.1.1.1"}})
		require.NoError(t, err)
		require.True(t, dec.Allowed)
	}
}

func TestController_UnknownClass(t *testing.T) {
	ctrl, _ := newTestController(t)
	_, err := ctrl.Check(context.Background(), Request{Class: "uploads"})
	assert.ErrorIs(t, err, ErrUnknownClass)
}

func TestController_FailsOpenWhenStoresFail(t *testing.T) {
	broken := &flakyStore{LocalStore: NewLocalStore(nil), fail: true}
	store := NewFallbackStore(broken, &flakyStore{LocalStore: NewLocalStore(nil), fail: true})
	ctrl := NewController(NewRegistry(), store, NewLedger(store, 0), ControllerConfig{})

	dec, err := ctrl.Check(context.Background(), Request{Class: ClassLogin, Identity: Identity{IP: "1.1.1.1"}})
	require.NoError(t, err)
	assert.True(t, dec.Allowed)
	assert.True(t, dec.Degraded)
}

func TestController_ResetIdentity(t *testing.T) {
	ctrl, _ := newTestController(t)
	ctx := context.Background()
	setMax(t, ctrl, ClassLogin, 1, time.Hour)

	req := Request{Class: ClassLogin, Identity: Identity{IP: "1.1.1.1", Email: "r@s.t"}}
	_, _ = ctrl.Check(ctx, req)
	dec, _ := ctrl.Check(ctx, req)
	require.False(t, dec.Allowed)

	n, err := ctrl.ResetIdentity(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	dec, err = ctrl.Check(ctx, req)
	require.NoError(t, err)
	assert.True(t, dec.Allowed)
	assert.Equal(t, 1, dec.Limit, "violations were forgiven")
}

type decisionCounter struct {
	mu      sync.Mutex
	allowed int
	denied  int
}

func (d *decisionCounter) ObserveDecision(_ EndpointClass, allowed, _ bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if allowed {
		d.allowed++
	} else {
		d.denied++
	}
}

func TestController_ConcurrentChecksNeverOverAdmit(t *testing.T) {
	clock := shared.NewManualClock(epoch)
	store := NewLocalStore(clock)
	obs := &decisionCounter{}
	ctrl := NewController(NewRegistry(), store, NewLedger(store, 0), ControllerConfig{Clock: clock, Observer: obs})
	setMax(t, ctrl, ClassExtensionSync, 25, time.Minute)

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = ctrl.Check(context.Background(), Request{Class: ClassExtensionSync, Identity: Identity{ExtensionID: "ext-1"}})
		}()
	}
	wg.Wait()

	assert.Equal(t, 25, obs.allowed, "denials inside the running window never reopen it")
	assert.Equal(t, 75, obs.denied)
}
