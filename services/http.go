package services

import (
	"fmt"
	"time"

	"github.com/alphabatem/common/context"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/lac-hong-legacy/guard_api/dto"
	"github.com/lac-hong-legacy/guard_api/model"
	"github.com/lac-hong-legacy/guard_api/services/handlers"
	"github.com/lac-hong-legacy/guard_api/services/ratelimit"
	"github.com/lac-hong-legacy/guard_api/shared"
	log "github.com/sirupsen/logrus"
)

// IdentityResolver is implemented by the auth middleware, which lives in a
// package that depends on this one.
type IdentityResolver interface {
	ResolveIdentity() fiber.Handler
	RequireRole(roles ...model.Role) fiber.Handler
}

const AUTH_SVC = "auth"

type HttpService struct {
	context.DefaultService

	port      int
	logLevel  string
	proxy     ProxyConfig
	startedAt time.Time

	app *fiber.App
}

const HTTP_SVC = "http_svc"

func (svc HttpService) Id() string {
	return HTTP_SVC
}

func (svc *HttpService) Configure(ctx *context.Context) error {
	svc.port = shared.GetEnvInt("HTTP_PORT", 8000)
	svc.logLevel = shared.GetEnv("LOG_LEVEL", "INFO")
	svc.proxy = ProxyConfig{
		Header:  shared.GetEnv("PROXY_HEADER", fiber.HeaderXForwardedFor),
		Trusted: shared.GetEnvList("TRUSTED_PROXIES"),
	}
	if len(svc.proxy.Trusted) == 0 {
		log.Warn("TRUSTED_PROXIES not set, client addresses come from the socket peer")
	}
	return svc.DefaultService.Configure(ctx)
}

func (svc *HttpService) Start() error {
	auth := svc.Service(AUTH_SVC).(IdentityResolver)
	admission := svc.Service(ADMISSION_SVC).(*AdmissionService)
	reports := svc.Service(REPORT_SVC).(*ReportService)
	blocks := svc.Service(ENFORCEMENT_SVC).(*EnforcementService)
	scoring := svc.Service(CLASSIFIER_SVC).(*ClassifierService)

	svc.startedAt = time.Now()
	svc.app = NewApp(svc.logLevel == "TRACE", svc.proxy)
	svc.app.Get("/ping", svc.ping)

	v1 := svc.app.Group("/api/v1", auth.ResolveIdentity())
	v1.Get("/ping", svc.ping)
	v1.Get("/status", svc.status(admission))

	RegisterRoutes(v1, auth, admission, Handlers{
		Reports:   handlers.NewReportHandler(reports),
		Blocks:    handlers.NewBlockHandler(blocks),
		Admission: handlers.NewAdmissionHandler(admission, reports, blocks),
		Extension: handlers.NewExtensionHandler(scoring),
	})

	svc.app.Use(func(c *fiber.Ctx) error {
		return shared.NewNotFoundError(nil, "Not Found")
	})

	log.WithField("port", svc.port).Info("HTTP server listening")
	return svc.app.Listen(fmt.Sprintf(":%v", svc.port))
}

func (svc *HttpService) Shutdown() {
	if svc.app != nil {
		_ = svc.app.ShutdownWithTimeout(10 * time.Second)
	}
}

// ProxyConfig controls where c.IP() reads the client address. Forwarding
// headers are honoured only when the socket peer is one of Trusted.
type ProxyConfig struct {
	Header  string
	Trusted []string
}

// AppConfig is the fiber configuration shared by the server and tests.
func AppConfig(proxy ProxyConfig) fiber.Config {
	return fiber.Config{
		DisableStartupMessage:   true,
		JSONEncoder:             shared.JSONMarshal,
		JSONDecoder:             shared.JSONUnmarshal,
		ErrorHandler:            shared.ErrorHandler,
		BodyLimit:               1 << 20,
		ProxyHeader:             proxy.Header,
		EnableTrustedProxyCheck: true,
		TrustedProxies:          proxy.Trusted,
		EnableIPValidation:      true,
	}
}

// NewApp builds the fiber app with the shared encoder, error renderer and
// request metrics.
func NewApp(accessLog bool, proxy ProxyConfig) *fiber.App {
	app := fiber.New(AppConfig(proxy))
	app.Use(recover.New())
	if accessLog {
		app.Use(logger.New())
	}
	app.Use(cors.New(cors.Config{
		AllowOrigins:  "*",
		AllowHeaders:  "Origin, Content-Type, Accept, Authorization, " + shared.HeaderBrowserUUID + ", " + shared.HeaderExtensionID,
		ExposeHeaders: shared.HeaderRateLimitLimit + ", " + shared.HeaderRateLimitRemaining + ", " + shared.HeaderRateLimitReset + ", " + shared.HeaderRetryAfter,
	}))
	app.Use(MonitoringMiddleware())
	return app
}

type Handlers struct {
	Reports   *handlers.ReportHandler
	Blocks    *handlers.BlockHandler
	Admission *handlers.AdmissionHandler
	Extension *handlers.ExtensionHandler
}

// Admitter guards a route with an endpoint class quota.
type Admitter interface {
	Admit(class ratelimit.EndpointClass) fiber.Handler
}

func RegisterRoutes(v1 fiber.Router, auth IdentityResolver, admission Admitter, h Handlers) {
	// Report submission is admitted inside the lifecycle so the decision
	// can be returned with the result.
	reports := v1.Group("/reports")
	reports.Post("/", h.Reports.SubmitReport)
	reports.Post("/:reportId/withdraw", admission.Admit(ratelimit.ClassAPI), h.Reports.WithdrawReport)

	v1.Post("/extension/sync", admission.Admit(ratelimit.ClassExtensionSync), h.Extension.Sync)

	mod := v1.Group("/admin", auth.RequireRole(model.RoleMod, model.RoleAdmin), admission.Admit(ratelimit.ClassAdmin))
	mod.Get("/stats", h.Admission.Stats)

	mod.Get("/reports", h.Reports.ListReports)
	mod.Get("/reports/:reportId", h.Reports.GetReport)
	mod.Post("/reports/:reportId/claim", h.Reports.ClaimReport)
	mod.Post("/reports/:reportId/review", h.Reports.ReviewReport)

	mod.Get("/blocks", h.Blocks.ListBlocks)
	mod.Post("/blocks", h.Blocks.CreateBlock)
	mod.Post("/blocks/violations", h.Blocks.AddViolation)
	mod.Get("/blocks/:blockId", h.Blocks.GetBlock)
	mod.Post("/blocks/:blockId/extend", h.Blocks.ExtendBlock)
	mod.Post("/blocks/:blockId/unblock", h.Blocks.Unblock)
	mod.Post("/targets/evaluate", h.Blocks.EvaluateTarget)
	mod.Post("/sweeps", h.Blocks.Sweep)

	admin := mod.Group("/admission", auth.RequireRole(model.RoleAdmin))
	admin.Get("/policies", h.Admission.ListPolicies)
	admin.Put("/policies/:class", h.Admission.UpdatePolicy)
	admin.Post("/reset", h.Admission.ResetIdentity)
}

// @Summary Ping
// @Description This endpoint checks the health of the service
// @Tags health
// @Produce json
// @Success 200 {object} shared.Response{data=string}
// @Router /ping [get]
func (svc *HttpService) ping(c *fiber.Ctx) error {
	c.Set(fiber.HeaderCacheControl, "max-age=10")
	return shared.ResponseOK(c, "pong")
}

// @Summary Status
// @Tags health
// @Produce json
// @Success 200 {object} shared.Response{data=dto.StatusResponse}
// @Router /api/v1/status [get]
func (svc *HttpService) status(admission *AdmissionService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		status := "healthy"
		degraded := admission.Degraded()
		if degraded {
			status = "degraded"
		}
		return shared.ResponseOK(c, dto.StatusResponse{
			Status:        status,
			Timestamp:     time.Now().UTC(),
			Uptime:        time.Since(svc.startedAt).Round(time.Second).String(),
			StoreDegraded: degraded,
			PolicyVersion: admission.Registry().Version(),
		})
	}
}
