package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	alphactx "github.com/alphabatem/common/context"
	"github.com/gofiber/fiber/v2"
	"github.com/lac-hong-legacy/guard_api/dto"
	"github.com/lac-hong-legacy/guard_api/model"
	"github.com/lac-hong-legacy/guard_api/services/handlers"
	"github.com/lac-hong-legacy/guard_api/services/ratelimit"
	"github.com/lac-hong-legacy/guard_api/services/repositories"
	"github.com/lac-hong-legacy/guard_api/shared"
	"github.com/robfig/cron/v3"
	log "github.com/sirupsen/logrus"
)

// AdmissionService owns the quota table, the counter store and the
// admission controller. Its Admit middleware guards every route class.
type AdmissionService struct {
	alphactx.DefaultService

	policyFile     string
	reloadSchedule string
	maxBackoff     int
	horizon        time.Duration
	janitor        time.Duration
	retryPrimary   time.Duration

	registry   *ratelimit.Registry
	local      *ratelimit.LocalStore
	store      ratelimit.CounterStore
	controller *ratelimit.Controller
	quotaRepo  *repositories.QuotaRepository
	cron       *cron.Cron
}

const ADMISSION_SVC = "admission_svc"

const DefaultQuotaReloadSchedule = "@every 5m"

func (svc AdmissionService) Id() string {
	return ADMISSION_SVC
}

func (svc *AdmissionService) Configure(ctx *alphactx.Context) error {
	svc.policyFile = shared.GetEnv("QUOTA_POLICY_FILE", "")
	svc.reloadSchedule = shared.GetEnv("QUOTA_RELOAD_SCHEDULE", DefaultQuotaReloadSchedule)
	svc.maxBackoff = shared.GetEnvInt("ADMISSION_MAX_BACKOFF_EXPONENT", ratelimit.DefaultMaxBackoffExponent)
	svc.horizon = shared.GetEnvDuration("ADMISSION_VIOLATION_HORIZON", ratelimit.DefaultViolationHorizon)
	svc.janitor = shared.GetEnvDuration("ADMISSION_JANITOR_INTERVAL", time.Minute)
	svc.retryPrimary = shared.GetEnvDuration("ADMISSION_REDIS_RETRY", 5*time.Second)

	svc.registry = ratelimit.NewRegistry()
	if svc.policyFile != "" {
		if err := svc.registry.LoadFile(svc.policyFile); err != nil {
			return fmt.Errorf("quota policy file: %w", err)
		}
	}
	return svc.DefaultService.Configure(ctx)
}

func (svc *AdmissionService) Start() error {
	monitoring, _ := svc.Service(MONITORING_SVC).(*MonitoringService)
	redisSvc, _ := svc.Service(REDIS_SVC).(*RedisService)
	db := svc.Service(DATABASE_SVC).(*DatabaseService)

	svc.local = ratelimit.NewLocalStore(shared.SystemClock{})
	svc.local.StartJanitor(svc.janitor)

	var observer ratelimit.DecisionObserver
	if monitoring != nil {
		observer = monitoring
	}

	svc.store = svc.local
	if redisSvc != nil && redisSvc.GetClient() != nil {
		opts := []ratelimit.FallbackOption{ratelimit.WithRetryInterval(svc.retryPrimary)}
		if monitoring != nil {
			opts = append(opts, ratelimit.WithObserver(monitoring))
		}
		primary := ratelimit.NewRedisStore(redisSvc.GetClient(), ratelimit.WithTimeout(redisSvc.Timeout()))
		svc.store = ratelimit.NewFallbackStore(primary, svc.local, opts...)
		log.Info("Admission counters backed by redis")
	} else {
		log.Warn("REDIS_ADDR not set, admission counters are process local")
	}

	svc.controller = ratelimit.NewController(svc.registry, svc.store, ratelimit.NewLedger(svc.store, svc.horizon), ratelimit.ControllerConfig{
		MaxBackoffExponent: svc.maxBackoff,
		Observer:           observer,
	})

	svc.quotaRepo = repositories.NewQuotaRepository(db.Db())
	if err := svc.ApplyOverrides(context.Background()); err != nil {
		log.WithError(err).Warn("Failed to apply stored quota overrides")
	}

	svc.cron = cron.New(cron.WithChain(cron.Recover(cron.DefaultLogger)))
	if _, err := svc.cron.AddFunc(svc.reloadSchedule, func() {
		if err := svc.ApplyOverrides(context.Background()); err != nil {
			log.WithError(err).Warn("Quota override reload failed")
		}
	}); err != nil {
		return fmt.Errorf("quota reload schedule %q: %w", svc.reloadSchedule, err)
	}
	svc.cron.Start()
	return nil
}

func (svc *AdmissionService) Shutdown() {
	if svc.cron != nil {
		<-svc.cron.Stop().Done()
	}
	if svc.local != nil {
		svc.local.Close()
	}
}

func (svc *AdmissionService) Controller() *ratelimit.Controller {
	return svc.controller
}

func (svc *AdmissionService) Registry() *ratelimit.Registry {
	return svc.registry
}

// Degraded reports whether counters are currently served from memory.
func (svc *AdmissionService) Degraded() bool {
	if fb, ok := svc.store.(*ratelimit.FallbackStore); ok {
		return fb.Degraded()
	}
	return false
}

func (svc *AdmissionService) Check(ctx context.Context, req ratelimit.Request) (ratelimit.Decision, error) {
	return svc.controller.Check(ctx, req)
}

// ApplyOverrides folds persisted admin changes into the registry so every
// instance converges on the same quota table.
func (svc *AdmissionService) ApplyOverrides(ctx context.Context) error {
	overrides, err := svc.quotaRepo.List(ctx)
	if err != nil {
		return err
	}
	for _, o := range overrides {
		if err := applyOverride(svc.registry, o); err != nil {
			log.WithError(err).WithField("class", o.EndpointClass).Warn("Skipping stored quota override")
		}
	}
	return nil
}

func applyOverride(reg *ratelimit.Registry, o model.QuotaPolicyOverride) error {
	current, err := reg.Policy(ratelimit.EndpointClass(o.EndpointClass))
	if err != nil {
		return err
	}
	window := time.Duration(o.WindowSeconds) * time.Second
	if current.MaxRequests == o.MaxRequests && current.Window == window && current.Active == o.IsActive {
		return nil
	}
	_, err = reg.Update(current.Class, ratelimit.PolicyUpdate{
		MaxRequests: &o.MaxRequests,
		Window:      &window,
		Active:      &o.IsActive,
	})
	return err
}

// UpdatePolicy applies an admin change locally and persists it for the
// other instances.
func (svc *AdmissionService) UpdatePolicy(ctx context.Context, class string, req dto.UpdatePolicyRequest, actor string) (*dto.PolicyResponse, error) {
	upd := ratelimit.PolicyUpdate{MaxRequests: req.MaxRequests, Active: req.IsActive}
	if req.Window != "" {
		window, err := time.ParseDuration(req.Window)
		if err != nil {
			return nil, shared.NewBadRequestError(err, "Invalid window duration")
		}
		// overrides persist whole seconds
		if window < time.Second || window%time.Second != 0 {
			return nil, shared.NewBadRequestError(fmt.Errorf("window %s is not a whole number of seconds", window), "Invalid window duration")
		}
		upd.Window = &window
	}

	policy, err := svc.registry.Update(ratelimit.EndpointClass(class), upd)
	if err != nil {
		if errors.Is(err, ratelimit.ErrUnknownClass) {
			return nil, shared.NewNotFoundError(err, "Unknown endpoint class")
		}
		return nil, shared.NewBadRequestError(err, err.Error())
	}

	err = svc.quotaRepo.Upsert(ctx, &model.QuotaPolicyOverride{
		EndpointClass: string(policy.Class),
		MaxRequests:   policy.MaxRequests,
		WindowSeconds: int(policy.Window / time.Second),
		IsActive:      policy.Active,
		UpdatedBy:     actor,
	})
	if err != nil {
		return nil, shared.NewInternalError(err, "Failed to persist quota policy")
	}

	resp := dto.NewPolicyResponse(policy)
	return &resp, nil
}

func (svc *AdmissionService) Policies() *dto.PolicyListResponse {
	policies := svc.registry.Policies()
	resp := &dto.PolicyListResponse{
		Version:         svc.registry.Version(),
		Policies:        make([]dto.PolicyResponse, 0, len(policies)),
		RoleMultipliers: make(map[string]float64),
		ExemptPaths:     svc.registry.ExemptPaths(),
	}
	for _, p := range policies {
		resp.Policies = append(resp.Policies, dto.NewPolicyResponse(p))
	}
	for role, m := range svc.registry.Multipliers() {
		resp.RoleMultipliers[string(role)] = m
	}
	return resp
}

func (svc *AdmissionService) ResetIdentity(ctx context.Context, req dto.ResetAdmissionRequest) (int, error) {
	n, err := svc.controller.ResetIdentity(ctx, ratelimit.Request{
		Class: ratelimit.EndpointClass(req.Class),
		Identity: ratelimit.Identity{
			IP:          req.IP,
			Email:       req.Email,
			UserID:      req.UserID,
			Role:        model.ParseRole(req.Role),
			BrowserUUID: req.BrowserUUID,
			ExtensionID: req.ExtensionID,
		},
	})
	if errors.Is(err, ratelimit.ErrUnknownClass) {
		return 0, shared.NewNotFoundError(err, "Unknown endpoint class")
	}
	return n, err
}

// Admit guards a route group with the quota of class. Exempt paths pass
// untouched; a denial ends the request with 429 and Retry-After.
func (svc *AdmissionService) Admit(class ratelimit.EndpointClass) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if svc.registry.IsExempt(c.Path()) {
			return c.Next()
		}

		id := handlers.RequestIdentity(c)
		if id.Email == "" && credentialClass(class) {
			id.Email = emailFromBody(c)
		}

		dec, err := svc.controller.Check(c.UserContext(), ratelimit.Request{Identity: id, Class: class})
		if err != nil {
			log.WithError(err).WithField("class", class).Error("Admission check failed, admitting request")
			return c.Next()
		}

		handlers.SetRateLimitHeaders(c, dec)
		if !dec.Allowed {
			return RateLimitedError(dec)
		}
		return c.Next()
	}
}

// RateLimitedError renders a denial as a 429 carrying the decision.
func RateLimitedError(dec ratelimit.Decision) error {
	msg := dec.Message
	if msg == "" {
		msg = "Too many requests. Please try again later."
	}
	return shared.NewTooManyRequestsError(nil, msg).WithData(dto.NewRateLimitInfo(dec))
}

func credentialClass(class ratelimit.EndpointClass) bool {
	switch class {
	case ratelimit.ClassLogin, ratelimit.ClassRegistration, ratelimit.ClassPasswordReset:
		return true
	}
	return false
}

func emailFromBody(c *fiber.Ctx) string {
	if len(c.Body()) == 0 {
		return ""
	}
	var body map[string]interface{}
	if err := c.BodyParser(&body); err != nil {
		return ""
	}
	for _, field := range []string{"email", "email_or_username"} {
		if v, ok := body[field].(string); ok && v != "" {
			return v
		}
	}
	return ""
}
