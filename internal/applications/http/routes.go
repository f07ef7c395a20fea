package applicationshttp

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"

	"github.com/armslicense/armslicense/internal/catalog"
	"github.com/armslicense/armslicense/internal/platform/httpx"
	"github.com/armslicense/armslicense/internal/shared"
)

const (
	routeRateLimit  = 30
	routeRateWindow = time.Minute
)

// MountRoutes registers the application endpoints.
func (h *Handler) MountRoutes(r chi.Router) {
	if h == nil {
		return
	}
	limiter := httprate.Limit(routeRateLimit, routeRateWindow,
		httprate.WithKeyFuncs(rateLimitKey),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			httpx.Problem(w, http.StatusTooManyRequests, http.StatusText(http.StatusTooManyRequests), "")
		}),
	)
	r.Route("/applications", func(r chi.Router) {
		r.Use(h.rbac.RequireAuth)
		r.With(h.rbac.RequireAny(catalog.PermSubmitApplication)).Post("/", h.handleCreate)
		r.Get("/{id}", h.handleGet)
		r.Get("/{id}/history", h.handleHistory)
		r.Get("/{id}/actions", h.handleAllowedActions)
		r.With(limiter).Post("/{id}/actions", h.handleRoute)
	})
}

func rateLimitKey(r *http.Request) (string, error) {
	if p, ok := shared.PrincipalFromContext(r.Context()); ok {
		return "user:" + strconv.FormatInt(p.UserID, 10), nil
	}
	key, err := httprate.KeyByIP(r)
	if err != nil {
		return "", err
	}
	return "ip:" + key, nil
}
