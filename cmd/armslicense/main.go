package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/armslicense/armslicense/internal/app"
	"github.com/armslicense/armslicense/internal/applications"
	applicationshttp "github.com/armslicense/armslicense/internal/applications/http"
	"github.com/armslicense/armslicense/internal/auth"
	"github.com/armslicense/armslicense/internal/memstore"
	"github.com/armslicense/armslicense/internal/notify"
	"github.com/armslicense/armslicense/internal/observability"
	"github.com/armslicense/armslicense/internal/platform/cache"
	"github.com/armslicense/armslicense/internal/platform/db"
	"github.com/armslicense/armslicense/internal/queues"
	queueshttp "github.com/armslicense/armslicense/internal/queues/http"
	"github.com/armslicense/armslicense/internal/rbac"
	"github.com/armslicense/armslicense/internal/reference"
	"github.com/armslicense/armslicense/internal/routing"
	"github.com/armslicense/armslicense/internal/seed"
	"github.com/armslicense/armslicense/internal/shared"
	"github.com/armslicense/armslicense/jobs"
)

// Version is stamped at build time.
var Version = "dev"

func main() {
	if err := rootCmd().Execute(); err != nil {
		var exit exitError
		if errors.As(err, &exit) {
			os.Exit(exit.code)
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "armslicense",
		Short:         "Arms license application routing service",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context())
		},
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "serve",
			Short: "Run the HTTP API",
			RunE: func(cmd *cobra.Command, args []string) error {
				return serve(cmd.Context())
			},
		},
		referenceCmd(),
		jobsCmd(),
		&cobra.Command{
			Use:   "version",
			Short: "Print version information",
			Run: func(cmd *cobra.Command, args []string) {
				fmt.Fprintf(cmd.OutOrStdout(), "armslicense %s\n", Version)
			},
		},
	)
	return cmd
}

// storage bundles the repositories of one storage driver.
type storage struct {
	applications applications.Repository
	routing      routing.Repository
	queues       queues.Repository
	auth         auth.Repository
	idempotency  shared.IdempotencyChecker
	loader       reference.Loader
	health       app.HealthChecker
	close        func()
}

func openStorage(ctx context.Context, cfg *app.Config, logger *slog.Logger) (*storage, error) {
	if cfg.UsesMemoryStore() {
		f, err := seed.LoadOrDefault(cfg.SeedFile)
		if err != nil {
			return nil, err
		}
		store := memstore.New()
		if err := store.ApplySeed(f); err != nil {
			return nil, err
		}
		logger.Warn("using in-memory storage; state is lost on restart")
		return &storage{
			applications: store,
			routing:      store,
			queues:       store,
			auth:         store,
			idempotency:  shared.NewMemoryIdempotencyStore(),
			loader:       f.Loader(),
			close:        func() {},
		}, nil
	}

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		return nil, err
	}
	if cfg.AutoMigrate {
		if err := db.Migrate(ctx, pool, logger); err != nil {
			pool.Close()
			return nil, err
		}
	}
	return &storage{
		applications: applications.NewPGRepository(pool),
		routing:      routing.NewPGRepository(pool),
		queues:       queues.NewPGRepository(pool),
		auth:         auth.NewRepository(pool),
		idempotency:  shared.NewIdempotencyStore(pool),
		loader:       reference.NewPGLoader(pool),
		health:       pool.Ping,
		close:        pool.Close,
	}, nil
}

func serve(parent context.Context) error {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return nil
	}
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger := app.NewLogger(cfg)

	redisClient, err := cache.New(ctx, cfg.RedisOptions())
	if err != nil {
		return err
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	st, err := openStorage(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer st.close()

	registry := reference.NewRegistry(st.loader, cfg.AdminRole, logger)
	if _, err := registry.Reload(ctx); err != nil {
		return fmt.Errorf("load reference data: %w", err)
	}

	metrics := observability.NewMetrics()

	jobClient, err := jobs.NewClient(cfg.AsynqRedis())
	if err != nil {
		return fmt.Errorf("asynq client: %w", err)
	}
	defer func() {
		if err := jobClient.Close(); err != nil {
			logger.Warn("asynq client close", slog.Any("error", err))
		}
	}()
	inspector := asynq.NewInspector(cfg.AsynqRedis())
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()

	resolver := queues.NewResolver(st.queues, registry, queues.NewCache(redisClient, cfg.QueueCacheTTL), logger)
	engine := routing.NewEngine(st.routing, registry, routing.Config{
		MaxAttempts:    cfg.RoutingMaxAttempts,
		PublishTimeout: cfg.RoutingPublishWait,
		AdminRole:      cfg.AdminRole,
	}, logger)
	engine.SetPublisher(jobClient)
	engine.SetInvalidator(resolver)
	engine.SetMetrics(metrics)

	hub := notify.NewHub(cfg.AdminRole, logger)
	go hub.Run(ctx)
	go relay(ctx, hub, redisClient, logger)

	sessionManager := shared.NewSessionManager(redisClient, "armslicense_session", cfg.SessionSecret, cfg.SessionTTL, cfg.IsProduction())
	csrfManager := shared.NewCSRFManager(cfg.CSRFSecret)

	authService := auth.NewService(st.auth)
	rbacMiddleware := rbac.Middleware{Principals: authService, Registry: registry, Logger: logger}

	healthChecks := map[string]app.HealthChecker{
		"redis": func(ctx context.Context) error { return redisClient.Ping(ctx).Err() },
	}
	if st.health != nil {
		healthChecks["postgres"] = st.health
	}

	router := app.NewRouter(app.RouterParams{
		Logger:         logger,
		Config:         cfg,
		SessionManager: sessionManager,
		CSRFManager:    csrfManager,
		RBACMiddleware: rbacMiddleware,
		AuthHandler:    auth.NewHandler(logger, authService, sessionManager, csrfManager),
		ApplicationHandler: applicationshttp.NewHandler(logger,
			applications.NewService(st.applications, cfg.IntakeRole, logger),
			engine, registry, st.idempotency, rbacMiddleware),
		QueueHandler:     queueshttp.NewHandler(logger, resolver, rbacMiddleware),
		ReferenceHandler: rbac.NewReferenceHandler(logger, registry, registry, rbacMiddleware),
		NotifyHandler:    notify.NewHandler(hub, logger, cfg.OriginChecker()),
		JobHandler:       jobs.NewHandler(inspector, logger),
		Metrics:          metrics,
		HealthChecks:     healthChecks,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr), slog.String("storage", cfg.StorageDriver))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
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
	engine.Wait()
	return nil
}

// relay keeps the hub subscribed to the routing event channel, resubscribing
// after Redis drops the connection.
func relay(ctx context.Context, hub *notify.Hub, client *redis.Client, logger *slog.Logger) {
	for {
		err := hub.Relay(ctx, client)
		if ctx.Err() != nil {
			return
		}
		logger.Warn("routing event relay stopped", slog.Any("error", err))
		select {
		case <-ctx.Done():
			return
		case <-time.After(2 * time.Second):
		}
	}
}
