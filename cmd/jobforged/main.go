// Command jobforged is the orchestrator daemon: it owns the database
// connection, the Dispatcher/Scheduler/WorkerPool, the registry syncer, and
// the Administrative + MCP HTTP surface, grounded on crawler/cmd/httpd.go's
// cobra-command-plus-graceful-shutdown shape.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/northcloud/jobforge/internal/api"
	"github.com/northcloud/jobforge/internal/config"
	"github.com/northcloud/jobforge/internal/database"
	"github.com/northcloud/jobforge/internal/delivery"
	"github.com/northcloud/jobforge/internal/logger"
	"github.com/northcloud/jobforge/internal/observability"
	"github.com/northcloud/jobforge/internal/orchestrator"
	"github.com/northcloud/jobforge/internal/ratelimit"
	"github.com/northcloud/jobforge/internal/registry"
	"github.com/northcloud/jobforge/internal/session"
)

const shutdownTimeout = 15 * time.Second

var rootCmd = &cobra.Command{
	Use:   "jobforged",
	Short: "Task orchestration server",
	RunE:  run,
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	rootCmd.SetContext(ctx)
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, _ []string) error {
	if err := config.InitializeViper(); err != nil {
		return fmt.Errorf("initialize config: %w", err)
	}
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log, err := logger.New(cfg.Logging)
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer log.Sync() //nolint:errcheck

	tracerProvider := observability.NewTracerProvider(cfg.Tracing)
	defer func() {
		if shutdownErr := observability.ShutdownTracerProvider(tracerProvider); shutdownErr != nil {
			log.Warn("tracer provider shutdown failed", logger.Error(shutdownErr))
		}
	}()

	db, err := database.Connect(cfg.Server.Database.URL, cfg.Server.Database.MaxConnections)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer db.Close()

	ctx := cmd.Context()
	if err := database.NewMigrator(db, log).Migrate(ctx); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	app, err := wireApplication(ctx, log, cfg, db)
	if err != nil {
		return fmt.Errorf("wire application: %w", err)
	}
	defer app.shutdown(log)

	app.start(ctx, log)

	srv := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Server.BindAddress, cfg.Server.Port),
		Handler: app.router,
	}

	errC := make(chan error, 1)
	go func() {
		log.Info("jobforged listening", logger.String("addr", srv.Addr))
		if serveErr := srv.ListenAndServe(); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			errC <- serveErr
		}
	}()

	select {
	case serveErr := <-errC:
		return fmt.Errorf("http server: %w", serveErr)
	case <-ctx.Done():
		log.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if shutdownErr := srv.Shutdown(shutdownCtx); shutdownErr != nil {
			log.Error("http server shutdown failed", logger.Error(shutdownErr))
		}
		return nil
	}
}

// application bundles every long-running component wireApplication builds,
// so run's main body only has to Start/Stop/shut them down, not know their
// construction order.
type application struct {
	router http.Handler

	dispatcher *orchestrator.Dispatcher
	scheduler  *orchestrator.Scheduler
	pool       *orchestrator.WorkerPool
	syncer     *registry.Syncer
	watcher    *registry.Watcher
	sessionMgr *session.Manager
	workers    []*orchestrator.ProcessWorker
}

func (a *application) start(ctx context.Context, log logger.Logger) {
	a.dispatcher.Start(ctx)
	a.scheduler.Start(ctx)
	go a.pool.MonitorHeartbeats(ctx)
	a.syncer.Start(ctx)
	if a.watcher != nil {
		if err := a.watcher.Start(ctx); err != nil {
			log.Warn("registry watcher failed to start", logger.Error(err))
		}
	}
	a.sessionMgr.Start(ctx)
}

func (a *application) shutdown(log logger.Logger) {
	a.dispatcher.Stop()
	a.scheduler.Stop()
	a.syncer.Stop()
	if a.watcher != nil {
		_ = a.watcher.Close()
	}
	a.sessionMgr.Stop()

	drainCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	for _, w := range a.workers {
		if err := w.Shutdown(drainCtx); err != nil {
			log.Warn("worker shutdown", logger.String("worker_id", w.ID()), logger.Error(err))
		}
	}
}

// wireApplication constructs every repository, orchestrator component, and
// HTTP surface the daemon runs, mirroring crawler/cmd/root.go's single big
// dependency-construction function rather than a DI container.
func wireApplication(ctx context.Context, log logger.Logger, cfg *config.Config, db *sqlx.DB) (*application, error) {
	tasks := database.NewTaskRepository(db)
	jobs := database.NewJobRepository(db)
	executions := database.NewExecutionRepository(db)
	schedules := database.NewScheduleRepository(db)
	deliveries := database.NewDeliveryRepository(db)
	repoHealth := database.NewRepositoryHealthRepository(db)
	sessions := database.NewSessionRepository(db)

	taskNameOf := func(taskID int64) (string, string) {
		t, err := tasks.GetByID(ctx, taskID)
		if err != nil {
			return "", ""
		}
		return t.Name, t.Version
	}

	httpClient := &http.Client{Timeout: cfg.HTTP.Timeout}
	senders := delivery.Senders{
		Webhook:     delivery.NewWebhookSender(httpClient, cfg.Output.Security),
		Filesystem:  delivery.NewFilesystemSender(),
		Database:    delivery.NewDatabaseSender(),
		ObjectStore: delivery.NewObjectStoreSender(),
	}
	pipeline := delivery.NewPipeline(log, deliveries, senders, int64(cfg.Output.MaxConcurrentDeliveries), taskNameOf)

	pool := orchestrator.NewWorkerPool(log)
	workers, err := spawnWorkers(ctx, log, cfg)
	if err != nil {
		return nil, fmt.Errorf("spawn workers: %w", err)
	}
	for _, w := range workers {
		pool.Register(w)
	}

	dispatcher := orchestrator.NewDispatcher(log, jobs, tasks, executions, pool, pipeline)
	scheduler := orchestrator.NewScheduler(log, schedules, jobs)

	cfg.Registry.SetDefaults()
	syncer := registry.NewSyncer(log, tasks, repoHealth, cfg.Registry)
	var watcher *registry.Watcher
	if hasFilesystemSource(cfg.Registry) {
		watcher, err = registry.NewWatcher(log, syncer)
		if err != nil {
			log.Warn("registry watcher disabled", logger.Error(err))
			watcher = nil
		}
	}
	monitor := registry.NewMonitor(log, repoHealth, cfg.Registry.UnhealthyThreshold, cfg.Registry.AlertThreshold)

	degradation := observability.NewDegradationManager(log, observability.DefaultDegradationConfig())
	metrics := observability.NewMetrics(nil)

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Server.Redis.Addr,
		Password: cfg.Server.Redis.Password,
		DB:       cfg.Server.Redis.DB,
	})

	var limiter *ratelimit.Limiter
	if cfg.MCP.Security.RateLimiting.GlobalPerMinute > 0 {
		limiter = ratelimit.NewLimiter(redisClient, "jobforge:ratelimit")
	}

	eventStore := session.NewRedisEventStore(redisClient, "jobforge:session", cfg.MCP.Session.MaxEventsPerSession)
	sessionMgr := session.NewManager(sessions, eventStore, log, session.ManagerConfig{
		SessionTimeout:      time.Duration(cfg.MCP.Session.TimeoutSeconds) * time.Second,
		CleanupInterval:     time.Duration(cfg.MCP.Session.CleanupIntervalSeconds) * time.Second,
		MaxEventsPerSession: cfg.MCP.Session.MaxEventsPerSession,
	})

	svc := &api.Services{
		Tasks:       tasks,
		Jobs:        jobs,
		Executions:  executions,
		Schedules:   schedules,
		Delivery:    deliveries,
		Registry:    monitor,
		Degradation: degradation,
		Metrics:     metrics,
		ExecCfg:     cfg.Execution,
		Limiter:     limiter,
	}
	rpcDispatcher := api.NewDispatcher(svc)

	router := api.NewRouter(log, cfg.Admin, cfg.MCP.Security.RateLimiting, svc, observability.Tracer())
	if cfg.MCP.Enabled {
		router.Any("/mcp", session.Handler(sessionMgr, rpcDispatcher, log))
	}

	return &application{
		router:     router,
		dispatcher: dispatcher,
		scheduler:  scheduler,
		pool:       pool,
		syncer:     syncer,
		watcher:    watcher,
		sessionMgr: sessionMgr,
		workers:    workers,
	}, nil
}

// defaultWorkerCount is used when execution.max_concurrent_tasks is unset.
const defaultWorkerCount = 4

// spawnWorkers starts one jobworker child process per configured execution
// slot, expecting the jobworker binary alongside jobforged's own executable
// (the layout `go build ./...` produces under cmd/).
func spawnWorkers(ctx context.Context, log logger.Logger, cfg *config.Config) ([]*orchestrator.ProcessWorker, error) {
	n := cfg.Execution.MaxConcurrentTasks
	if n <= 0 {
		n = defaultWorkerCount
	}

	binaryPath, err := workerBinaryPath()
	if err != nil {
		return nil, err
	}

	workers := make([]*orchestrator.ProcessWorker, 0, n)
	for i := 0; i < n; i++ {
		id := fmt.Sprintf("worker-%d", i)
		w, err := orchestrator.SpawnProcessWorker(ctx, log, id, binaryPath, nil, cfg.HTTP, cfg.Output.Security)
		if err != nil {
			for _, started := range workers {
				_ = started.Shutdown(ctx)
			}
			return nil, fmt.Errorf("spawn %s: %w", id, err)
		}
		workers = append(workers, w)
	}
	return workers, nil
}

// workerBinaryPath resolves the jobworker executable relative to jobforged's
// own binary, falling back to a bare "jobworker" lookup on $PATH.
func workerBinaryPath() (string, error) {
	self, err := os.Executable()
	if err == nil {
		candidate := filepath.Join(filepath.Dir(self), "jobworker")
		if _, statErr := os.Stat(candidate); statErr == nil {
			return candidate, nil
		}
	}
	return "jobworker", nil
}

func hasFilesystemSource(cfg config.RegistryConfig) bool {
	for _, s := range cfg.Sources {
		if s.Type == "filesystem" {
			return true
		}
	}
	return false
}
