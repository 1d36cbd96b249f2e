package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/axolop/axolop-crm/internal/access"
	accesshttp "github.com/axolop/axolop-crm/internal/access/http"
	"github.com/axolop/axolop-crm/internal/agency"
	"github.com/axolop/axolop-crm/internal/app"
	"github.com/axolop/axolop-crm/internal/audit"
	audithttp "github.com/axolop/axolop-crm/internal/audit/http"
	"github.com/axolop/axolop-crm/internal/auth"
	"github.com/axolop/axolop-crm/internal/billing"
	"github.com/axolop/axolop-crm/internal/observability"
	"github.com/axolop/axolop-crm/internal/platform/cache"
	"github.com/axolop/axolop-crm/internal/platform/db"
	"github.com/axolop/axolop-crm/internal/rbac"
	"github.com/axolop/axolop-crm/internal/shared"
	"github.com/axolop/axolop-crm/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
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

	dbpool, err := db.New(ctx, cfg.PGDSN, db.WithApplicationName("axolop-api"))
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer dbpool.Close()

	var membershipCache access.MembershipCache
	redisClient, err := cache.New(ctx, cache.Options{Addr: cfg.RedisAddr})
	if err != nil {
		logger.Warn("redis unavailable, membership cache disabled", slog.Any("error", err))
	} else {
		defer func() {
			if err := redisClient.Close(); err != nil {
				logger.Warn("redis close", slog.Any("error", err))
			}
		}()
		if cfg.AccessCacheTTL > 0 {
			membershipCache = access.NewMembershipCache(redisClient, cfg.AccessCacheTTL)
		}
	}

	metrics := observability.NewMetrics()

	agencyRepo := agency.NewRepository(dbpool)
	auditLogger := shared.NewAuditLogger(dbpool)
	idempotencyStore := shared.NewIdempotencyStore(dbpool)

	authenticator := auth.NewAuthenticator(cfg.AuthJWTSecret, cfg.AuthJWTIssuer, cfg.AuthJWTAudience)
	resolverOpts := []access.ResolverOption{access.WithResolverLogger(logger)}
	if membershipCache != nil {
		resolverOpts = append(resolverOpts, access.WithMembershipCache(membershipCache))
	}
	resolver := access.NewResolver(authenticator, agencyRepo, resolverOpts...)
	provider := access.NewProvider(resolver, agencyRepo, agencyRepo, metrics, logger)

	redisOpts := asynq.RedisClientOpt{Addr: cfg.RedisAddr}
	jobClient := jobs.NewClient(redisOpts)
	defer func() {
		if err := jobClient.Close(); err != nil {
			logger.Warn("job client close", slog.Any("error", err))
		}
	}()
	inspector := asynq.NewInspector(redisOpts)
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()

	guards := rbac.Middleware{Logger: logger, Recorder: metrics}
	agencyService := agency.NewService(agencyRepo, auditLogger, logger)
	billingService := billing.NewService(agencyRepo, idempotencyStore, jobClient, logger)

	router := app.NewRouter(app.RouterParams{
		Logger:             logger,
		Config:             cfg,
		AccessMiddleware:   accesshttp.NewMiddleware(provider, logger),
		AccessHandler:      accesshttp.NewHandler(cfg.BillingPortalURL),
		AgencyHandler:      agency.NewHandler(logger, agencyService, guards),
		AuditHandler:       audithttp.NewHandler(logger, audit.NewService(audit.NewRepository(dbpool)), guards),
		BillingHandler:     billing.NewHandler(billingService, cfg.BillingWebhookSecret, logger),
		JobHandler:         jobs.NewHandler(inspector, logger),
		PermissionsHandler: rbac.NewPermissionsHandler(),
		Metrics:            metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}
