package rbac

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/armslicense/armslicense/internal/catalog"
	"github.com/armslicense/armslicense/internal/platform/httpx"
	"github.com/armslicense/armslicense/internal/reference"
)

// Reloader refreshes the reference snapshot.
type Reloader interface {
	Reload(ctx context.Context) (*reference.Snapshot, error)
}

// ReferenceHandler exposes roles, permissions and forwarding targets.
type ReferenceHandler struct {
	logger   *slog.Logger
	registry *reference.Registry
	reloader Reloader
	rbac     Middleware
}

// NewReferenceHandler builds a ReferenceHandler.
func NewReferenceHandler(logger *slog.Logger, registry *reference.Registry, reloader Reloader, rbac Middleware) *ReferenceHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &ReferenceHandler{logger: logger, registry: registry, reloader: reloader, rbac: rbac}
}

// MountRoutes registers reference routes.
func (h *ReferenceHandler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAuth)
		r.Get("/reference/roles", h.listRoles)
		r.Get("/reference/roles/{code}/targets", h.listTargets)
		r.Get("/reference/permissions", h.listPermissions)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAny(catalog.PermManageReference))
		r.Post("/admin/reference/reload", h.reload)
	})
}

type roleView struct {
	Code        string   `json:"code"`
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Precedence  int      `json:"precedence"`
	Permissions []string `json:"permissions,omitempty"`
}

type permissionView struct {
	Code     string `json:"code"`
	Name     string `json:"name"`
	Category string `json:"category"`
}

func (h *ReferenceHandler) listRoles(w http.ResponseWriter, r *http.Request) {
	snap, err := h.registry.Current()
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	roles := snap.Catalog.Roles()
	out := make([]roleView, 0, len(roles))
	for _, role := range roles {
		view := toRoleView(role)
		view.Permissions = snap.Catalog.PermissionsOf(role.Code)
		out = append(out, view)
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"roles": out})
}

func (h *ReferenceHandler) listTargets(w http.ResponseWriter, r *http.Request) {
	snap, err := h.registry.Current()
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	code := catalog.NormalizeCode(chi.URLParam(r, "code"))
	if _, ok := snap.Catalog.Role(code); !ok {
		httpx.RespondError(w, catalog.ErrUnknownRole)
		return
	}
	targets := snap.Graph.AllowedTargets(code)
	out := make([]roleView, 0, len(targets))
	for _, role := range targets {
		out = append(out, toRoleView(role))
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"role": code, "targets": out})
}

func (h *ReferenceHandler) listPermissions(w http.ResponseWriter, r *http.Request) {
	snap, err := h.registry.Current()
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	perms := snap.Catalog.Permissions()
	out := make([]permissionView, 0, len(perms))
	for _, p := range perms {
		out = append(out, permissionView{Code: p.Code, Name: p.Name, Category: string(p.Category)})
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"permissions": out})
}

func (h *ReferenceHandler) reload(w http.ResponseWriter, r *http.Request) {
	if h.reloader == nil {
		httpx.Problem(w, http.StatusNotImplemented, "Not Implemented", "reference reload unavailable")
		return
	}
	snap, err := h.reloader.Reload(r.Context())
	if err != nil {
		h.logger.Error("reference reload", slog.Any("error", err))
		httpx.Problem(w, http.StatusUnprocessableEntity, "Reload Failed", err.Error())
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"loaded_at": snap.LoadedAt,
		"roles":     len(snap.Catalog.Roles()),
		"edges":     len(snap.Graph.Edges()),
	})
}

func toRoleView(role catalog.Role) roleView {
	return roleView{Code: role.Code, Name: role.Name, Description: role.Description, Precedence: role.Precedence}
}
