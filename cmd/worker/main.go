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

	"github.com/hibiken/asynq"

	"github.com/armslicense/armslicense/internal/app"
	"github.com/armslicense/armslicense/internal/auth"
	jobmetrics "github.com/armslicense/armslicense/internal/jobs"
	"github.com/armslicense/armslicense/internal/memstore"
	"github.com/armslicense/armslicense/internal/notify"
	"github.com/armslicense/armslicense/internal/observability"
	"github.com/armslicense/armslicense/internal/platform/cache"
	"github.com/armslicense/armslicense/internal/platform/db"
	"github.com/armslicense/armslicense/internal/seed"
	"github.com/armslicense/armslicense/internal/shared"
	"github.com/armslicense/armslicense/jobs"
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

	redisClient, err := cache.New(ctx, cfg.RedisOptions())
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	var (
		users       auth.Repository
		idempotency shared.IdempotencyChecker
	)
	if cfg.UsesMemoryStore() {
		f, err := seed.LoadOrDefault(cfg.SeedFile)
		if err != nil {
			logger.Error("load seed", slog.Any("error", err))
			os.Exit(1)
		}
		store := memstore.New()
		if err := store.ApplySeed(f); err != nil {
			logger.Error("apply seed", slog.Any("error", err))
			os.Exit(1)
		}
		users = store
		idempotency = shared.NewMemoryIdempotencyStore()
	} else {
		pool, err := db.New(ctx, cfg.PGDSN)
		if err != nil {
			logger.Error("connect database", slog.Any("error", err))
			os.Exit(1)
		}
		defer pool.Close()
		users = auth.NewRepository(pool)
		idempotency = shared.NewIdempotencyStore(pool)
	}

	metrics := observability.NewMetrics()
	jobMetrics := jobmetrics.NewMetrics(metrics.Registerer())

	mailClient, err := jobs.NewClient(cfg.AsynqRedis())
	if err != nil {
		logger.Error("asynq client", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := mailClient.Close(); err != nil {
			logger.Warn("asynq client close", slog.Any("error", err))
		}
	}()

	notifyJob := jobs.NewRoutingNotifyJob(auth.NewService(users), mailClient, notify.NewBroadcaster(redisClient), logger, jobMetrics)
	cleanupJob := jobs.NewIdempotencyCleanupJob(idempotency, logger, jobMetrics)

	cleanupTask, err := jobs.NewIdempotencyCleanupTask(cfg.IdempotencyRetentionHours)
	if err != nil {
		logger.Error("build cleanup task", slog.Any("error", err))
		os.Exit(1)
	}

	var mailer jobs.Mailer
	if cfg.SMTPHost != "" {
		mailer = jobs.NewSMTPMailer(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUser, cfg.SMTPPassword, cfg.SMTPFrom)
	} else {
		logger.Warn("SMTP_HOST not set, mail is logged only")
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts:   cfg.AsynqRedis(),
		Logger:      logger,
		Concurrency: cfg.WorkerConcurrency,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskRoutingNotify, Handler: notifyJob.Handle},
			{Type: jobs.TaskTypeSendEmail, Handler: jobs.NewMailJob(logger, jobMetrics, mailer).Handle},
			{Type: jobs.TaskIdempotencyCleanup, Handler: cleanupJob.Handle},
		},
		Cron: []jobs.CronRegistration{
			{Spec: cfg.IdempotencyCleanupCron, Task: cleanupTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	metricsServer := &http.Server{Addr: cfg.WorkerMetricsAddr, Handler: metrics.Handler(), ReadHeaderTimeout: 5 * time.Second}
	go func() {
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
