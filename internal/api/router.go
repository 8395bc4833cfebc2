package api

import (
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/trace"

	"github.com/northcloud/jobforge/internal/config"
	"github.com/northcloud/jobforge/internal/database"
	"github.com/northcloud/jobforge/internal/logger"
	"github.com/northcloud/jobforge/internal/observability"
	"github.com/northcloud/jobforge/internal/ratelimit"
	"github.com/northcloud/jobforge/internal/registry"
)

// Services bundles the repositories and components the Administrative API
// (§6.1) and the MCP JSON-RPC surface (Dispatcher, dispatcher.go) both
// dispatch into.
type Services struct {
	Tasks       *database.TaskRepository
	Jobs        *database.JobRepository
	Executions  *database.ExecutionRepository
	Schedules   *database.ScheduleRepository
	Delivery    *database.DeliveryRepository
	Registry    *registry.Monitor
	Degradation *observability.DegradationManager
	Metrics     *observability.Metrics
	ExecCfg     config.ExecutionConfig
	Limiter     *ratelimit.Limiter // nil disables rate limiting
}

// NewRouter builds the gin.Engine for §6.1's surface: recovery, logging,
// optional rate limiting (mcp.security.rate_limiting.global_per_minute),
// optional JWT auth (admin.jwt_secret), then the Task/Execution/Job/Schedule
// routes. tracer emits the per-request spans spec.md §2 assigns to the
// Observability Core; pass observability.Tracer() in production and a noop
// tracer (or trace.NewNoopTracerProvider().Tracer("")) in tests.
func NewRouter(log logger.Logger, cfg config.AdminConfig, rateLimit config.RateLimitingConfig, svc *Services, tracer trace.Tracer) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(RecoveryMiddleware(log))
	r.Use(LoggerMiddleware(log))
	r.Use(observability.CorrelationMiddleware(log))
	r.Use(observability.TracingMiddleware(tracer))

	if svc.Limiter != nil {
		r.Use(ratelimit.Middleware(svc.Limiter, ratelimit.ByRemoteAddr, rateLimit.GlobalPerMinute))
	}

	if cfg.JWTSecret != "" {
		r.Use(AuthMiddleware(cfg.JWTSecret))
	}

	r.GET("/health", func(c *gin.Context) {
		status := "healthy"
		if svc.Degradation != nil && !svc.Degradation.Healthy() {
			status = "unhealthy"
		}
		c.JSON(200, gin.H{"status": status})
	})

	h := &handlers{svc: svc, log: log}

	tasks := r.Group("/api/v1/tasks")
	{
		tasks.POST("", h.createTask)
		tasks.GET("", h.listTasks)
		tasks.GET("/:uuid", h.getTask)
		tasks.PUT("/:uuid", h.updateTask)
		tasks.DELETE("/:uuid", h.deleteTask)
	}

	jobs := r.Group("/api/v1/jobs")
	{
		jobs.POST("", h.createJob)
		jobs.GET("", h.listJobs)
		jobs.GET("/:uuid", h.getJob)
		jobs.POST("/:uuid/retry", h.retryJob)
		jobs.POST("/:uuid/cancel", h.cancelJob)
	}

	executions := r.Group("/api/v1/executions")
	{
		executions.GET("", h.listExecutions)
		executions.GET("/:uuid", h.getExecution)
		executions.POST("/:uuid/cancel", h.cancelExecution)
	}

	schedules := r.Group("/api/v1/schedules")
	{
		schedules.POST("", h.createSchedule)
		schedules.GET("", h.listSchedules)
		schedules.GET("/:uuid", h.getSchedule)
		schedules.PUT("/:uuid", h.updateSchedule)
		schedules.DELETE("/:uuid", h.deleteSchedule)
		schedules.POST("/:uuid/trigger", h.triggerSchedule)
		schedules.POST("/:uuid/pause", h.pauseSchedule)
		schedules.POST("/:uuid/resume", h.resumeSchedule)
	}

	r.GET("/api/v1/stats", h.stats)
	r.GET("/api/v1/registry/health", h.registryHealth)

	return r
}

// handlers holds the shared Services the route closures operate on.
type handlers struct {
	svc *Services
	log logger.Logger
}
