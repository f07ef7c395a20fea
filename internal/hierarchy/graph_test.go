package hierarchy

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/armslicense/armslicense/internal/catalog"
)

func testRoles() []catalog.Role {
	return []catalog.Role{
		{Code: catalog.RoleAdmin, Precedence: 0},
		{Code: catalog.RoleCP, Precedence: 1},
		{Code: catalog.RoleDCP, Precedence: 3},
		{Code: catalog.RoleACP, Precedence: 4},
		{Code: catalog.RoleArmsSupdt, Precedence: 6},
		{Code: catalog.RoleArmsSeat, Precedence: 7},
		{Code: catalog.RoleZS, Precedence: 9},
	}
}

func testEdges() []Edge {
	return []Edge{
		{From: catalog.RoleZS, To: catalog.RoleACP},
		{From: catalog.RoleACP, To: catalog.RoleDCP},
		{From: catalog.RoleDCP, To: catalog.RoleACP},
		{From: catalog.RoleDCP, To: catalog.RoleArmsSupdt},
		{From: catalog.RoleArmsSupdt, To: catalog.RoleArmsSeat},
		{From: catalog.RoleArmsSeat, To: catalog.RoleArmsSupdt},
		{From: catalog.RoleArmsSupdt, To: catalog.RoleCP},
	}
}

func TestCanForwardFollowsSeededEdgesOnly(t *testing.T) {
	g, err := Build(testRoles(), testEdges(), catalog.RoleAdmin)
	require.NoError(t, err)

	seeded := make(map[Edge]bool)
	for _, e := range testEdges() {
		seeded[e] = true
	}
	for _, from := range testRoles() {
		if from.Code == catalog.RoleAdmin {
			continue
		}
		for _, to := range testRoles() {
			want := seeded[Edge{From: from.Code, To: to.Code}]
			require.Equal(t, want, g.CanForward(from.Code, to.Code), "%s -> %s", from.Code, to.Code)
		}
	}
}

func TestAdminForwardsToEveryOtherRole(t *testing.T) {
	g, err := Build(testRoles(), nil, catalog.RoleAdmin)
	require.NoError(t, err)

	for _, r := range testRoles() {
		if r.Code == catalog.RoleAdmin {
			require.False(t, g.CanForward(catalog.RoleAdmin, r.Code))
			continue
		}
		require.True(t, g.CanForward(catalog.RoleAdmin, r.Code), r.Code)
	}
	targets := g.AllowedTargets(catalog.RoleAdmin)
	require.Len(t, targets, len(testRoles())-1)
	require.Equal(t, catalog.RoleCP, targets[0].Code)
	require.False(t, g.CanForward(catalog.RoleAdmin, "UNKNOWN"))
}

func TestBuildRejectsInvalidEdges(t *testing.T) {
	_, err := Build(testRoles(), []Edge{{From: catalog.RoleZS, To: "zs"}}, "")
	require.ErrorIs(t, err, ErrSelfLoop)

	_, err = Build(testRoles(), []Edge{{From: catalog.RoleZS, To: "GHOST"}}, "")
	require.ErrorIs(t, err, ErrUnknownRole)
}

func TestCyclesAndReachability(t *testing.T) {
	g, err := Build(testRoles(), testEdges(), catalog.RoleAdmin)
	require.NoError(t, err)

	require.True(t, g.CanForward(catalog.RoleACP, catalog.RoleDCP))
	require.True(t, g.CanForward(catalog.RoleDCP, catalog.RoleACP))
	require.True(t, g.Reachable(catalog.RoleZS, catalog.RoleCP))
	require.True(t, g.Reachable(catalog.RoleArmsSeat, catalog.RoleCP))
	require.False(t, g.Reachable(catalog.RoleCP, catalog.RoleZS))

	targets := g.AllowedTargets(catalog.RoleArmsSupdt)
	require.Len(t, targets, 2)
	require.Equal(t, catalog.RoleCP, targets[0].Code)
	require.Equal(t, catalog.RoleArmsSeat, targets[1].Code)
}
