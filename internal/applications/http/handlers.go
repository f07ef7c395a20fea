package applicationshttp

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/armslicense/armslicense/internal/applications"
	"github.com/armslicense/armslicense/internal/assignment"
	"github.com/armslicense/armslicense/internal/catalog"
	"github.com/armslicense/armslicense/internal/platform/httpx"
	"github.com/armslicense/armslicense/internal/rbac"
	"github.com/armslicense/armslicense/internal/reference"
	"github.com/armslicense/armslicense/internal/routing"
	"github.com/armslicense/armslicense/internal/shared"
	"github.com/armslicense/armslicense/internal/workflow"
)

// IdempotencyHeader carries the client-chosen key for intake and routing requests.
const IdempotencyHeader = "Idempotency-Key"

const idempotencyModule = "applications"

// Handler serves intake, routing and history endpoints.
type Handler struct {
	logger   *slog.Logger
	service  *applications.Service
	engine   *routing.Engine
	registry *reference.Registry
	idem     shared.IdempotencyChecker
	rbac     rbac.Middleware
	validate *validator.Validate
}

// NewHandler constructs the applications HTTP handler.
func NewHandler(logger *slog.Logger, service *applications.Service, engine *routing.Engine, registry *reference.Registry, idem shared.IdempotencyChecker, rbac rbac.Middleware) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		logger:   logger,
		service:  service,
		engine:   engine,
		registry: registry,
		idem:     idem,
		rbac:     rbac,
		validate: validator.New(),
	}
}

type actionRequest struct {
	Action     string `json:"action" validate:"required,max=64"`
	TargetRole string `json:"target_role" validate:"omitempty,max=32"`
	Remarks    string `json:"remarks" validate:"max=2000"`
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	principal, _ := shared.PrincipalFromContext(r.Context())
	var details applications.PersonalDetails
	if err := httpx.DecodeJSON(r, &details); err != nil {
		httpx.RespondError(w, fmt.Errorf("%w: %v", httpx.ErrValidation, err))
		return
	}

	key := strings.TrimSpace(r.Header.Get(IdempotencyHeader))
	if key != "" && h.idem != nil {
		if err := h.idem.CheckAndInsert(r.Context(), key, idempotencyModule); err != nil {
			httpx.RespondError(w, err)
			return
		}
	}

	app, err := h.service.CreateDraft(r.Context(), applications.CreateDraftInput{
		ApplicantID: principal.UserID,
		Details:     details,
	})
	if err != nil {
		if key != "" && h.idem != nil {
			if delErr := h.idem.Delete(r.Context(), key); delErr != nil {
				h.logger.Warn("release idempotency key", slog.Any("error", delErr))
			}
		}
		h.respondError(w, "create application", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, app)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	app, ok := h.visibleApplication(w, r)
	if !ok {
		return
	}
	httpx.JSON(w, http.StatusOK, app)
}

func (h *Handler) handleRoute(w http.ResponseWriter, r *http.Request) {
	principal, _ := shared.PrincipalFromContext(r.Context())
	id, ok := applicationID(w, r)
	if !ok {
		return
	}
	var req actionRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, fmt.Errorf("%w: %v", httpx.ErrValidation, err))
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.RespondError(w, fmt.Errorf("%w: %v", httpx.ErrValidation, err))
		return
	}
	rec, err := h.engine.Route(r.Context(), routing.Request{
		ApplicationID: id,
		ActorRole:     principal.Role,
		ActorUserID:   principal.UserID,
		Action:        req.Action,
		TargetRole:    req.TargetRole,
		Remarks:       req.Remarks,
		RequestKey:    strings.TrimSpace(r.Header.Get(IdempotencyHeader)),
	})
	if err != nil {
		h.respondError(w, "route application", err)
		return
	}
	httpx.JSON(w, http.StatusOK, rec)
}

func (h *Handler) handleAllowedActions(w http.ResponseWriter, r *http.Request) {
	principal, _ := shared.PrincipalFromContext(r.Context())
	id, ok := applicationID(w, r)
	if !ok {
		return
	}
	actions, err := h.engine.AllowedActions(r.Context(), id, routing.Actor{UserID: principal.UserID, Role: principal.Role})
	if err != nil {
		h.respondError(w, "allowed actions", err)
		return
	}
	if actions == nil {
		actions = []routing.AvailableAction{}
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"application_id": id, "actions": actions})
}

func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	app, ok := h.visibleApplication(w, r)
	if !ok {
		return
	}
	records, err := h.engine.History(r.Context(), app.ID)
	if err != nil {
		h.respondError(w, "application history", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"application_id": app.ID, "history": records})
}

// visibleApplication loads the application in the URL. Applicants see only
// their own; officers need at least one queue permission.
func (h *Handler) visibleApplication(w http.ResponseWriter, r *http.Request) (applications.Application, bool) {
	principal, _ := shared.PrincipalFromContext(r.Context())
	id, ok := applicationID(w, r)
	if !ok {
		return applications.Application{}, false
	}
	app, err := h.service.Get(r.Context(), id)
	if err != nil {
		h.respondError(w, "load application", err)
		return applications.Application{}, false
	}
	if app.ApplicantID == principal.UserID {
		return app, true
	}
	snap, err := h.registry.Current()
	if err != nil {
		h.respondError(w, "load reference", err)
		return applications.Application{}, false
	}
	if !snap.Catalog.HasAny(principal.Role, catalog.ViewScopes()...) {
		httpx.RespondError(w, applications.ErrNotFound)
		return applications.Application{}, false
	}
	return app, true
}

func (h *Handler) respondError(w http.ResponseWriter, op string, err error) {
	if expected(err) {
		h.logger.Debug(op+" rejected", slog.Any("error", err))
	} else {
		h.logger.Error(op, slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}

var expectedErrors = []error{
	routing.ErrPermissionDenied,
	routing.ErrIllegalHierarchyEdge,
	routing.ErrConcurrentModification,
	routing.ErrInvalidRequest,
	workflow.ErrInvalidTransition,
	assignment.ErrNotFound,
	applications.ErrNotFound,
	applications.ErrInvalidInput,
	catalog.ErrUnknownRole,
	httpx.ErrValidation,
}

func expected(err error) bool {
	for _, known := range expectedErrors {
		if errors.Is(err, known) {
			return true
		}
	}
	return false
}

func applicationID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		httpx.RespondError(w, fmt.Errorf("%w: invalid application id", httpx.ErrValidation))
		return 0, false
	}
	return id, true
}
