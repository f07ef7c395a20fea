package queueshttp

import "github.com/go-chi/chi/v5"

// MountRoutes registers queue endpoints.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/queues", func(r chi.Router) {
		r.Use(h.rbac.RequireAuth)
		r.Get("/", h.handleCounts)
		r.Get("/{queue}", h.handleList)
	})
}
