package queueshttp

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/armslicense/armslicense/internal/platform/httpx"
	"github.com/armslicense/armslicense/internal/queues"
	"github.com/armslicense/armslicense/internal/rbac"
	"github.com/armslicense/armslicense/internal/shared"
)

// Handler exposes officer work queues.
type Handler struct {
	logger   *slog.Logger
	resolver *queues.Resolver
	rbac     rbac.Middleware
}

// NewHandler builds the queue handler.
func NewHandler(logger *slog.Logger, resolver *queues.Resolver, rbac rbac.Middleware) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, resolver: resolver, rbac: rbac}
}

type queueSummary struct {
	Queue queues.Queue `json:"queue"`
	Count int          `json:"count"`
}

type listResponse struct {
	Queue      queues.Queue      `json:"queue"`
	Items      []queues.Item     `json:"items"`
	Pagination shared.Pagination `json:"pagination"`
}

func (h *Handler) handleCounts(w http.ResponseWriter, r *http.Request) {
	viewer := viewerFrom(r)
	counts, err := h.resolver.Counts(r.Context(), viewer)
	if err != nil {
		h.logger.Error("queue counts", slog.Any("error", err), slog.String("role", viewer.Role))
		httpx.RespondError(w, err)
		return
	}
	out := make([]queueSummary, 0, len(counts))
	for _, q := range queues.All() {
		out = append(out, queueSummary{Queue: q, Count: counts[q]})
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"queues": out})
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	q, err := queues.Parse(chi.URLParam(r, "queue"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	viewer := viewerFrom(r)
	page := shared.PaginationFromRequest(r)

	items, err := h.resolver.List(r.Context(), viewer, q, queues.Page{Limit: page.PerPage, Offset: page.Offset()})
	if err != nil {
		h.logger.Error("queue list", slog.Any("error", err), slog.String("queue", string(q)))
		httpx.RespondError(w, err)
		return
	}
	counts, err := h.resolver.Counts(r.Context(), viewer)
	if err != nil {
		h.logger.Error("queue counts", slog.Any("error", err), slog.String("queue", string(q)))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, listResponse{
		Queue:      q,
		Items:      items,
		Pagination: shared.NewPagination(page.Page, page.PerPage, counts[q]),
	})
}

func viewerFrom(r *http.Request) queues.Viewer {
	principal, _ := shared.PrincipalFromContext(r.Context())
	return queues.Viewer{Role: principal.Role, UserID: principal.UserID}
}
