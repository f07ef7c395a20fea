package rbac_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/armslicense/armslicense/internal/catalog"
	"github.com/armslicense/armslicense/internal/rbac"
	"github.com/armslicense/armslicense/internal/reference"
	"github.com/armslicense/armslicense/internal/shared"
)

type reloaderFunc func(ctx context.Context) (*reference.Snapshot, error)

func (f reloaderFunc) Reload(ctx context.Context) (*reference.Snapshot, error) { return f(ctx) }

func newReferenceRouter(t *testing.T, reloader rbac.Reloader, as *shared.Principal) (http.Handler, *reference.Registry) {
	t.Helper()
	registry := seedRegistry(t)
	m := rbac.Middleware{Registry: registry}
	h := rbac.NewReferenceHandler(nil, registry, reloader, m)

	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			if as != nil {
				req = req.WithContext(shared.ContextWithPrincipal(req.Context(), *as))
			}
			next.ServeHTTP(w, req)
		})
	})
	h.MountRoutes(r)
	return r, registry
}

func get(t *testing.T, h http.Handler, method, path string, out any) int {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, path, nil))
	if out != nil && rec.Code < 300 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), out))
	}
	return rec.Code
}

func TestReferenceRequiresAuth(t *testing.T) {
	h, _ := newReferenceRouter(t, nil, nil)
	require.Equal(t, http.StatusUnauthorized, get(t, h, http.MethodGet, "/reference/roles", nil))
	require.Equal(t, http.StatusUnauthorized, get(t, h, http.MethodPost, "/admin/reference/reload", nil))
}

func TestReferenceListsRolesAndPermissions(t *testing.T) {
	zs := shared.Principal{UserID: 10, Role: catalog.RoleZS}
	h, _ := newReferenceRouter(t, nil, &zs)

	var roles struct {
		Roles []struct {
			Code        string   `json:"code"`
			Permissions []string `json:"permissions"`
		} `json:"roles"`
	}
	require.Equal(t, http.StatusOK, get(t, h, http.MethodGet, "/reference/roles", &roles))
	require.Len(t, roles.Roles, 12)
	var zsPerms []string
	for _, r := range roles.Roles {
		if r.Code == catalog.RoleZS {
			zsPerms = r.Permissions
		}
	}
	require.Contains(t, zsPerms, catalog.PermViewFreshForm)
	require.Contains(t, zsPerms, catalog.ForwardPermission(catalog.RoleACP))

	var perms struct {
		Permissions []struct {
			Code     string `json:"code"`
			Category string `json:"category"`
		} `json:"permissions"`
	}
	require.Equal(t, http.StatusOK, get(t, h, http.MethodGet, "/reference/permissions", &perms))
	require.NotEmpty(t, perms.Permissions)
}

func TestReferenceTargets(t *testing.T) {
	zs := shared.Principal{UserID: 10, Role: catalog.RoleZS}
	h, _ := newReferenceRouter(t, nil, &zs)

	var body struct {
		Role    string `json:"role"`
		Targets []struct {
			Code string `json:"code"`
		} `json:"targets"`
	}
	require.Equal(t, http.StatusOK, get(t, h, http.MethodGet, "/reference/roles/zs/targets", &body))
	require.Equal(t, catalog.RoleZS, body.Role)
	codes := make([]string, 0, len(body.Targets))
	for _, target := range body.Targets {
		codes = append(codes, target.Code)
	}
	require.ElementsMatch(t, []string{catalog.RoleACP, catalog.RoleSHO}, codes)

	require.Equal(t, http.StatusNotFound, get(t, h, http.MethodGet, "/reference/roles/NOBODY/targets", nil))
}

func TestReferenceReload(t *testing.T) {
	admin := shared.Principal{UserID: 1, Role: catalog.RoleAdmin}
	zs := shared.Principal{UserID: 10, Role: catalog.RoleZS}

	h, _ := newReferenceRouter(t, nil, &admin)
	require.Equal(t, http.StatusNotImplemented, get(t, h, http.MethodPost, "/admin/reference/reload", nil))

	calls := 0
	var registry *reference.Registry
	reloader := reloaderFunc(func(context.Context) (*reference.Snapshot, error) {
		calls++
		return registry.Current()
	})
	h, registry = newReferenceRouter(t, reloader, &admin)

	var body struct {
		Roles int `json:"roles"`
		Edges int `json:"edges"`
	}
	require.Equal(t, http.StatusOK, get(t, h, http.MethodPost, "/admin/reference/reload", &body))
	require.Equal(t, 1, calls)
	require.Equal(t, 12, body.Roles)
	require.Positive(t, body.Edges)

	h, _ = newReferenceRouter(t, reloader, &zs)
	require.Equal(t, http.StatusForbidden, get(t, h, http.MethodPost, "/admin/reference/reload", nil))
	require.Equal(t, 1, calls)

	failing := reloaderFunc(func(context.Context) (*reference.Snapshot, error) {
		return nil, errors.New("edge cycle")
	})
	h, _ = newReferenceRouter(t, failing, &admin)
	require.Equal(t, http.StatusUnprocessableEntity, get(t, h, http.MethodPost, "/admin/reference/reload", nil))
}
