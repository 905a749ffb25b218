package services

import (
	"fmt"
	"runtime"
	"strconv"
	"time"

	"github.com/alphabatem/common/context"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/lac-hong-legacy/guard_api/model"
	"github.com/lac-hong-legacy/guard_api/services/ratelimit"
	"github.com/lac-hong-legacy/guard_api/shared"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

const (
	MONITORING_SVC          = "monitoring_svc"
	SERVICE_NAME            = "guard_api"
	DEFAULT_PROMETHEUS_PORT = 2112
)

// HTTP Metrics
var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"endpoint", "method", "status"},
	)

	httpRequestsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "http_requests_active",
			Help: "Number of active concurrent HTTP requests",
		},
	)

	httpRequestDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"endpoint", "method", "status"},
	)
)

// Admission and enforcement metrics
var (
	admissionDecisionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "admission_decisions_total",
			Help: "Admission decisions by endpoint class and outcome",
		},
		[]string{"class", "outcome"},
	)

	counterStoreDegraded = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "counter_store_degraded",
			Help: "1 while counters are served from process memory",
		},
	)

	blockEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "block_events_total",
			Help: "Block history events written by type",
		},
		[]string{"type"},
	)

	sweepDeactivatedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "sweep_deactivated_total",
			Help: "Blocks deactivated by the expiry sweeper",
		},
	)

	sweepFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "sweep_failures_total",
			Help: "Expiry sweeper runs that failed",
		},
	)

	sweepLastRunTimestamp = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "sweep_last_run_timestamp_seconds",
			Help: "Unix time of the last completed sweep",
		},
	)

	reportsSubmittedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reports_submitted_total",
			Help: "Reports accepted by platform",
		},
		[]string{"platform"},
	)
)

// System Metrics
var (
	heapAllocBytes = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "heap_alloc_bytes",
			Help: "Heap memory allocated in bytes",
		},
	)

	gcTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "gc_total",
			Help: "Total number of garbage collections",
		},
	)
)

type MonitoringService struct {
	context.DefaultService

	port     int
	register *prometheus.Registry

	closed      chan struct{}
	server      *fiber.App
	lastGCCount uint32
}

func (svc MonitoringService) Id() string {
	return MONITORING_SVC
}

func (svc *MonitoringService) Configure(ctx *context.Context) error {
	svc.port = shared.GetEnvInt("PROMETHEUS_PORT", DEFAULT_PROMETHEUS_PORT)
	svc.closed = make(chan struct{}, 1)

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	reg.MustRegister(
		httpRequestsTotal,
		httpRequestsActive,
		httpRequestDurationSeconds,
		admissionDecisionsTotal,
		counterStoreDegraded,
		blockEventsTotal,
		sweepDeactivatedTotal,
		sweepFailuresTotal,
		sweepLastRunTimestamp,
		reportsSubmittedTotal,
		heapAllocBytes,
		gcTotal,
	)
	svc.register = reg

	return svc.DefaultService.Configure(ctx)
}

func (svc *MonitoringService) Start() error {
	svc.server = fiber.New(fiber.Config{
		DisableStartupMessage: true,
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			return c.Status(fiber.StatusInternalServerError).SendString("Internal Server Error")
		},
	})
	svc.server.Use(recover.New())

	svc.server.Get("/metrics", svc.metricsHandler)
	svc.server.Get("/health", svc.healthHandler)

	go svc.updateMemoryMetrics()
	go func() {
		if err := svc.server.Listen(fmt.Sprintf(":%v", svc.port)); err != nil {
			log.Error().Err(err).Msg("Prometheus metrics server stopped")
		}
	}()

	log.Info().Int("port", svc.port).Msg("Prometheus metrics server started")
	return nil
}

func (svc *MonitoringService) Shutdown() {
	select {
	case svc.closed <- struct{}{}:
	default:
	}
	if svc.server != nil {
		_ = svc.server.Shutdown()
	}
}

func (svc *MonitoringService) Registry() *prometheus.Registry {
	return svc.register
}

func (svc *MonitoringService) metricsHandler(c *fiber.Ctx) error {
	handler := promhttp.HandlerFor(svc.register, promhttp.HandlerOpts{})
	return adaptor.HTTPHandler(handler)(c)
}

func (svc *MonitoringService) healthHandler(c *fiber.Ctx) error {
	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"status":    "healthy",
		"service":   SERVICE_NAME,
		"timestamp": time.Now().Unix(),
	})
}

func (svc *MonitoringService) updateMemoryMetrics() {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			var m runtime.MemStats
			runtime.ReadMemStats(&m)
			heapAllocBytes.Set(float64(m.Alloc))
			if m.NumGC > svc.lastGCCount {
				gcTotal.Add(float64(m.NumGC - svc.lastGCCount))
				svc.lastGCCount = m.NumGC
			}
		case <-svc.closed:
			return
		}
	}
}

// SetDegraded implements ratelimit.ModeObserver.
func (svc *MonitoringService) SetDegraded(degraded bool) {
	if degraded {
		counterStoreDegraded.Set(1)
		return
	}
	counterStoreDegraded.Set(0)
}

// ObserveDecision implements ratelimit.DecisionObserver.
func (svc *MonitoringService) ObserveDecision(class ratelimit.EndpointClass, allowed, degraded bool) {
	outcome := "allowed"
	switch {
	case !allowed:
		outcome = "denied"
	case degraded:
		outcome = "allowed_degraded"
	}
	admissionDecisionsTotal.WithLabelValues(string(class), outcome).Inc()
}

// ObserveBlockEvent implements enforcement.EventObserver.
func (svc *MonitoringService) ObserveBlockEvent(t model.BlockEventType) {
	blockEventsTotal.WithLabelValues(string(t)).Inc()
}

// ObserveSweep implements enforcement.SweepObserver.
func (svc *MonitoringService) ObserveSweep(deactivated int64, err error, ranAt time.Time) {
	if err != nil {
		sweepFailuresTotal.Inc()
	}
	sweepDeactivatedTotal.Add(float64(deactivated))
	blockEventsTotal.WithLabelValues(string(model.BlockEventExpired)).Add(float64(deactivated))
	sweepLastRunTimestamp.Set(float64(ranAt.Unix()))
}

func (svc *MonitoringService) ObserveReport(platform string) {
	reportsSubmittedTotal.WithLabelValues(platform).Inc()
}

// MonitoringMiddleware records request metrics per route pattern.
func MonitoringMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		method := c.Method()

		httpRequestsActive.Inc()
		defer httpRequestsActive.Dec()

		err := c.Next()

		endpoint := c.Route().Path
		status := strconv.Itoa(c.Response().StatusCode())
		httpRequestsTotal.WithLabelValues(endpoint, method, status).Inc()
		httpRequestDurationSeconds.WithLabelValues(endpoint, method, status).Observe(time.Since(start).Seconds())
		return err
	}
}
