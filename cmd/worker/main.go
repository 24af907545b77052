package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/robfig/cron/v3"

	"calmfetch/internal/behavior"
	"calmfetch/internal/config"
	"calmfetch/internal/identity"
	pgRepo "calmfetch/internal/infra/adapter/persistence/postgres"
	"calmfetch/internal/infra/db"
	workerPkg "calmfetch/internal/infra/worker"
	"calmfetch/internal/observability/logging"
	"calmfetch/internal/repository"
	"calmfetch/internal/resilience/circuitbreaker"
	"calmfetch/internal/resilience/health"
	"calmfetch/internal/usecase/ingest"
)

func main() {
	logger := logging.NewLogger()
	slog.SetDefault(logger)

	database := initDatabase(logger)
	defer func() {
		if err := database.Close(); err != nil {
			logger.Error("failed to close database", slog.Any("error", err))
		}
	}()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// Load worker configuration (fail-open strategy)
	sweepMetrics := workerPkg.NewSweepMetrics()
	sweepMetrics.MustRegister()
	workerConfig, err := workerPkg.LoadConfigFromEnv(logger, sweepMetrics)
	if err != nil {
		logger.Error("failed to load worker configuration", slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("worker configuration loaded",
		slog.String("sweep_schedule", workerConfig.SweepSchedule),
		slog.String("timezone", workerConfig.Timezone),
		slog.Int("sweep_max_concurrent", workerConfig.SweepMaxConcurrent),
		slog.Duration("sweep_timeout", workerConfig.SweepTimeout),
		slog.Int("health_port", workerConfig.HealthPort),
		slog.String("registry_path", workerConfig.RegistryPath))

	// The source registry is the worker's reason to exist; a broken
	// registry is fatal, unlike a broken environment variable.
	registry, err := config.LoadRegistry(workerConfig.RegistryPath)
	if err != nil {
		logger.Error("failed to load source registry", slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("source registry loaded",
		slog.Int("sources", len(registry.Sources)),
		slog.Int("enabled", len(registry.EnabledSources())),
		slog.Int("proxies", len(registry.Proxies)))

	db.StartStatsReporter(ctx, database, 15*time.Second)

	controller, repo := setupFetchController(logger, database, registry)
	if err := syncRegistryIntervals(ctx, repo, registry); err != nil {
		logger.Error("failed to seed source records", slog.Any("error", err))
		os.Exit(1)
	}

	startMetricsServer(ctx, logger, controller, registry)

	healthAddr := fmt.Sprintf(":%d", workerConfig.HealthPort)
	healthServer := workerPkg.NewHealthServer(healthAddr, logger)
	go func() {
		if err := healthServer.Start(ctx); err != nil && err != http.ErrServerClosed {
			logger.Error("health server failed", slog.Any("error", err))
		}
	}()
	logger.Info("health check server started", slog.String("addr", healthAddr))

	sweeper := workerPkg.NewSweeper(controller, repo, registry.EnabledSources(),
		workerConfig.SweepMaxConcurrent, logger)
	startCronWorker(ctx, logger, sweeper, workerConfig, sweepMetrics, healthServer)
}

// initDatabase opens the database connection and runs the schema migration.
func initDatabase(logger *slog.Logger) *sql.DB {
	database := db.Open()
	if err := db.MigrateUp(database); err != nil {
		logger.Error("migration failed", slog.Any("error", err))
		os.Exit(1)
	}
	return database
}

// setupFetchController wires the gated fetch stack: guarded persistence,
// identity pool and manager, behavior engine, health monitor and per-source
// breakers, all feeding the single fetch client behind the controller.
func setupFetchController(logger *slog.Logger, database *sql.DB, registry *config.Registry) (*ingest.Controller, repository.SourceRecordRepository) {
	guard := circuitbreaker.NewDBGuard(database)
	repo := pgRepo.NewSourceRecordRepo(guard)

	pool := identity.NewPool(proxyEndpoints(registry), logger)
	manager := identity.NewManager(pool, logger)

	engine := behavior.NewEngine(logger)
	scheduler := behavior.NewScheduler(engine)
	monitor := health.NewMonitor(logger)
	breakers := circuitbreaker.NewRegistry(logger)

	client := ingest.NewClient(repo, monitor, scheduler, breakers, manager, pool, logger,
		ingest.WithClassResolver(func(sourceID string) identity.Class {
			return identity.Class(registry.ClassFor(sourceID))
		}))

	return ingest.NewController(client, repo, scheduler, logger), repo
}

// proxyEndpoints converts the registry's proxy declarations for the pool.
func proxyEndpoints(registry *config.Registry) []identity.Endpoint {
	out := make([]identity.Endpoint, 0, len(registry.Proxies))
	for _, proxy := range registry.Proxies {
		out = append(out, identity.Endpoint{
			URL:    proxy.URL,
			Tier:   identity.Tier(proxy.Tier),
			Region: proxy.Region,
		})
	}
	return out
}

// syncRegistryIntervals makes sure every enabled source has a durable record
// and that its configured visit interval is applied.
func syncRegistryIntervals(ctx context.Context, repo repository.SourceRecordRepository, registry *config.Registry) error {
	for _, src := range registry.EnabledSources() {
		record, err := repo.GetOrCreate(ctx, src.Key)
		if err != nil {
			return fmt.Errorf("seed %s: %w", src.Key, err)
		}
		if interval := src.Interval.Std(); interval > 0 && record.AvgInterval != interval {
			record.AvgInterval = interval
			if err := repo.Update(ctx, record); err != nil {
				return fmt.Errorf("seed %s: %w", src.Key, err)
			}
		}
	}
	return nil
}

// startCronWorker runs the sweep on the configured cron schedule and blocks
// until the context is cancelled.
func startCronWorker(
	ctx context.Context,
	logger *slog.Logger,
	sweeper *workerPkg.Sweeper,
	cfg *workerPkg.WorkerConfig,
	metrics *workerPkg.SweepMetrics,
	healthServer *workerPkg.HealthServer,
) {
	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		logger.Error("invalid timezone, using UTC", slog.String("timezone", cfg.Timezone), slog.Any("error", err))
		loc = time.UTC
	}
	c := cron.New(cron.WithLocation(loc))

	_, err = c.AddFunc(cfg.SweepSchedule, func() {
		runSweep(ctx, logger, sweeper, cfg, metrics)
	})
	if err != nil {
		logger.Error("failed to add cron job", slog.Any("error", err))
		os.Exit(1)
	}
	c.Start()

	healthServer.SetReady(true)
	logger.Info("worker started",
		slog.String("schedule", cfg.SweepSchedule),
		slog.String("timezone", cfg.Timezone))

	<-ctx.Done()
	healthServer.SetReady(false)

	stopCtx := c.Stop()
	select {
	case <-stopCtx.Done():
	case <-time.After(cfg.SweepTimeout):
		logger.Warn("sweep still running at shutdown deadline")
	}
	logger.Info("worker stopped")
}

// runSweep executes a single sweep with timeout and metrics.
func runSweep(
	ctx context.Context,
	logger *slog.Logger,
	sweeper *workerPkg.Sweeper,
	cfg *workerPkg.WorkerConfig,
	metrics *workerPkg.SweepMetrics,
) {
	metrics.RecordSweepRun("started")

	sweepCtx, cancel := context.WithTimeout(ctx, cfg.SweepTimeout)
	defer cancel()

	stats := sweeper.Run(sweepCtx)

	status := "success"
	if stats.Errors > 0 {
		status = "failure"
	}
	metrics.RecordSweepRun(status)
	metrics.RecordSweepDuration(stats.Duration.Seconds())
	metrics.RecordSourcesAttempted(stats.Attempted)
	if stats.Errors == 0 {
		metrics.RecordLastSuccess()
	}

	logger.Info("sweep completed",
		slog.Int("sources", stats.Sources),
		slog.Int("attempted", stats.Attempted),
		slog.Int("refused", stats.Refused),
		slog.Int("succeeded", stats.Succeeded),
		slog.Int("tripped", stats.Tripped),
		slog.Int("errors", stats.Errors),
		slog.Duration("duration", stats.Duration),
	)
}
