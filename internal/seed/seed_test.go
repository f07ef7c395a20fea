package seed

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"

	"github.com/armslicense/armslicense/internal/catalog"
	"github.com/armslicense/armslicense/internal/reference"
)

func TestDefaultSeedCompiles(t *testing.T) {
	f, err := Default()
	require.NoError(t, err)

	snap, err := reference.Compile(f.Data(), catalog.RoleAdmin)
	require.NoError(t, err)

	cat := snap.Catalog
	require.True(t, cat.HasPermission(catalog.RoleZS, catalog.ForwardPermission(catalog.RoleACP)))
	require.True(t, cat.HasPermission(catalog.RoleACP, catalog.ForwardPermission(catalog.RoleZS)))
	require.True(t, cat.HasPermission(catalog.RoleAdmin, catalog.PermForwardAny))
	require.False(t, cat.HasPermission(catalog.RoleApplicant, catalog.PermViewFreshForm))

	require.True(t, snap.Graph.CanForward(catalog.RoleZS, catalog.RoleACP))
	require.True(t, snap.Graph.CanForward(catalog.RoleApplicant, catalog.RoleZS))
	require.False(t, snap.Graph.CanForward(catalog.RoleZS, catalog.RoleCP))
	require.True(t, snap.Graph.CanForward(catalog.RoleAdmin, catalog.RoleCP))

	for _, r := range cat.Roles() {
		_, ok := cat.Permission(catalog.ForwardPermission(r.Code))
		require.True(t, ok, "forward permission for %s", r.Code)
	}
	require.Len(t, f.Users, len(cat.Roles()))
}

func TestParseRejectsUnknownEdgeTarget(t *testing.T) {
	doc := `
permissions:
  - {code: VIEW_FORWARDED, name: v, category: VIEW}
roles:
  - {code: ZS, name: Zonal, precedence: 1, forward_to: [GHOST]}
`
	_, err := Parse(strings.NewReader(doc))
	require.ErrorIs(t, err, ErrInvalidSeed)
}

func TestParseRejectsUnknownFields(t *testing.T) {
	doc := `
roles:
  - {code: ZS, name: Zonal, rank: 1}
`
	_, err := Parse(strings.NewReader(doc))
	require.ErrorIs(t, err, ErrInvalidSeed)
}

func TestParseRejectsUserWithUnknownRole(t *testing.T) {
	doc := `
roles:
  - {code: ZS, name: Zonal, precedence: 1}
users:
  - {email: a@b.c, name: A, role: CP, password: secret123}
`
	_, err := Parse(strings.NewReader(doc))
	require.ErrorIs(t, err, ErrInvalidSeed)
}

func TestLoaderServesSeedData(t *testing.T) {
	f, err := Default()
	require.NoError(t, err)

	reg := reference.NewRegistry(f.Loader(), catalog.RoleAdmin, nil)
	snap, err := reg.Reload(context.Background())
	require.NoError(t, err)
	require.True(t, snap.Graph.CanForward(catalog.RoleDCP, catalog.RoleJTCP))
}

type recordingExecer struct {
	statements []string
	failOn     string
}

func (r *recordingExecer) Exec(_ context.Context, sql string, _ ...any) (pgconn.CommandTag, error) {
	if r.failOn != "" && strings.Contains(sql, r.failOn) {
		return pgconn.CommandTag{}, errors.New("boom")
	}
	r.statements = append(r.statements, sql)
	return pgconn.NewCommandTag("INSERT 0 1"), nil
}

func TestWriteUpsertsEverything(t *testing.T) {
	doc := `
permissions:
  - {code: VIEW_FORWARDED, name: v, category: VIEW}
roles:
  - {code: ZS, name: Zonal, precedence: 1, permissions: [VIEW_FORWARDED], forward_to: [SHO]}
  - {code: SHO, name: Station, precedence: 2}
users:
  - {email: zs@x.local, name: Z, role: ZS, password: secret123}
`
	f, err := Parse(strings.NewReader(doc))
	require.NoError(t, err)

	ex := &recordingExecer{}
	stats, err := Write(context.Background(), ex, f)
	require.NoError(t, err)
	require.Equal(t, Stats{Roles: 2, Permissions: 3, Grants: 2, Edges: 1, Users: 1}, stats)
	require.Len(t, ex.statements, 9)
}

func TestWriteStopsOnError(t *testing.T) {
	f, err := Default()
	require.NoError(t, err)

	_, err = Write(context.Background(), &recordingExecer{failOn: "role_hierarchy_edges"}, f)
	require.Error(t, err)
	require.Contains(t, err.Error(), "seed: edge")
}
