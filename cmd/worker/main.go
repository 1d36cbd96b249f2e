package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hibiken/asynq"

	"github.com/axolop/axolop-crm/internal/access"
	"github.com/axolop/axolop-crm/internal/agency"
	"github.com/axolop/axolop-crm/internal/app"
	"github.com/axolop/axolop-crm/internal/auth"
	jobmetrics "github.com/axolop/axolop-crm/internal/jobs"
	"github.com/axolop/axolop-crm/internal/observability"
	"github.com/axolop/axolop-crm/internal/platform/cache"
	"github.com/axolop/axolop-crm/internal/platform/db"
	"github.com/axolop/axolop-crm/internal/shared"
	"github.com/axolop/axolop-crm/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping worker startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	pool, err := db.New(ctx, cfg.PGDSN, db.WithApplicationName("axolop-worker"))
	if err != nil {
		logger.Error("connect database", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cache.Options{Addr: cfg.RedisAddr})
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	metrics := observability.NewMetrics()
	jobMetrics := jobmetrics.NewMetrics(metrics.Registerer())

	agencyRepo := agency.NewRepository(pool)
	resolver := access.NewResolver(
		auth.NewAuthenticator(cfg.AuthJWTSecret, cfg.AuthJWTIssuer, cfg.AuthJWTAudience),
		agencyRepo,
		access.WithMembershipCache(access.NewMembershipCache(redisClient, cfg.AccessCacheTTL)),
		access.WithResolverLogger(logger),
	)
	provider := access.NewProvider(resolver, agencyRepo, agencyRepo, metrics, logger)

	refreshJob := jobs.NewAccessRefreshJob(provider, logger, jobMetrics)
	sweepJob := jobs.NewBillingSweepJob(agencyRepo, logger, jobMetrics)
	cleanupJob := jobs.NewWebhookCleanupJob(shared.NewIdempotencyStore(pool), logger, jobMetrics)

	cleanupTask, err := jobs.NewWebhookCleanupTask(cfg.WebhookRetention)
	if err != nil {
		logger.Error("build cleanup task", slog.Any("error", err))
		os.Exit(1)
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts:   asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:      logger,
		Concurrency: cfg.WorkerConcurrency,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskAccessRefresh, Handler: refreshJob.Handle},
			{Type: jobs.TaskBillingSweep, Handler: sweepJob.Handle},
			{Type: jobs.TaskWebhookCleanup, Handler: cleanupJob.Handle},
		},
		Cron: []jobs.CronRegistration{
			{Spec: jobs.BillingSweepSchedule, Task: jobs.NewBillingSweepTask(), Options: []asynq.Option{asynq.MaxRetry(1)}},
			{Spec: jobs.WebhookCleanupSchedule, Task: cleanupTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	mux := chi.NewRouter()
	mux.Method(http.MethodGet, "/metrics", metrics.Handler())
	metricsServer := &http.Server{Addr: cfg.WorkerMetricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		logger.Info("starting worker metrics server", slog.String("addr", cfg.WorkerMetricsAddr))
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("worker metrics server", slog.Any("error", err))
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metricsServer.Shutdown(shutdownCtx)
	}()

	if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
