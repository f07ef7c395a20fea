package app

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	applicationshttp "github.com/armslicense/armslicense/internal/applications/http"
	"github.com/armslicense/armslicense/internal/auth"
	"github.com/armslicense/armslicense/internal/notify"
	"github.com/armslicense/armslicense/internal/observability"
	"github.com/armslicense/armslicense/internal/platform/httpx"
	queueshttp "github.com/armslicense/armslicense/internal/queues/http"
	"github.com/armslicense/armslicense/internal/rbac"
	"github.com/armslicense/armslicense/internal/shared"
	"github.com/armslicense/armslicense/jobs"
)

// HealthChecker reports whether a backing store is reachable.
type HealthChecker func(ctx context.Context) error

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger             *slog.Logger
	Config             *Config
	SessionManager     *shared.SessionManager
	CSRFManager        *shared.CSRFManager
	RBACMiddleware     rbac.Middleware
	AuthHandler        *auth.Handler
	ApplicationHandler *applicationshttp.Handler
	QueueHandler       *queueshttp.Handler
	ReferenceHandler   *rbac.ReferenceHandler
	NotifyHandler      *notify.Handler
	JobHandler         *jobs.Handler
	Metrics            *observability.Metrics
	HealthChecks       map[string]HealthChecker
}

// NewRouter constructs the chi.Router with the service defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:         params.Logger,
		Config:         params.Config,
		SessionManager: params.SessionManager,
		CSRFManager:    params.CSRFManager,
		Metrics:        params.Metrics,
		RBAC:           params.RBACMiddleware,
	}) {
		r.Use(mw)
	}
	if !InTestMode() {
		r.Use(chimw.Logger)
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		status := map[string]string{"status": "ok"}
		code := http.StatusOK
		for name, check := range params.HealthChecks {
			if err := check(ctx); err != nil {
				params.Logger.Warn("health check failed", slog.String("component", name), slog.Any("error", err))
				status[name] = "down"
				status["status"] = "degraded"
				code = http.StatusServiceUnavailable
				continue
			}
			status[name] = "ok"
		}
		httpx.JSON(w, code, status)
	})
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	if params.AuthHandler != nil {
		r.Route("/auth", params.AuthHandler.MountRoutes)
	}
	if params.ApplicationHandler != nil {
		params.ApplicationHandler.MountRoutes(r)
	}
	if params.QueueHandler != nil {
		params.QueueHandler.MountRoutes(r)
	}
	if params.ReferenceHandler != nil {
		params.ReferenceHandler.MountRoutes(r)
	}
	if params.NotifyHandler != nil {
		r.With(params.RBACMiddleware.RequireAuth).Group(params.NotifyHandler.MountRoutes)
	}
	if params.JobHandler != nil {
		r.Route("/jobs", func(r chi.Router) {
			r.Use(params.RBACMiddleware.RequireAuth)
			params.JobHandler.MountRoutes(r)
		})
	}

	return r
}
