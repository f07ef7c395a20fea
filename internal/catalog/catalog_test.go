package catalog

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestCatalog(t *testing.T) *Catalog {
	t.Helper()
	c, err := New(
		[]Role{
			{Code: RoleZS, Name: "Zonal Superintendent", Precedence: 9},
			{Code: RoleACP, Name: "Assistant Commissioner", Precedence: 4},
			{Code: RoleAdmin, Name: "Administrator", Precedence: 0},
		},
		[]Permission{
			{Code: PermViewFreshForm, Category: CategoryView},
			{Code: ForwardPermission(RoleACP), Category: CategoryAction},
			{Code: PermRedFlag, Category: CategoryAction},
		},
		[]Grant{
			{RoleCode: RoleZS, PermissionCode: PermViewFreshForm},
			{RoleCode: RoleZS, PermissionCode: "forward_to_acp"},
			{RoleCode: RoleZS, PermissionCode: PermViewFreshForm},
			{RoleCode: RoleACP, PermissionCode: PermRedFlag},
		},
	)
	require.NoError(t, err)
	return c
}

func TestHasPermission(t *testing.T) {
	c := newTestCatalog(t)

	require.True(t, c.HasPermission(RoleZS, PermViewFreshForm))
	require.True(t, c.HasPermission("zs", "FORWARD_TO_ACP"))
	require.False(t, c.HasPermission(RoleACP, PermViewFreshForm))
	require.False(t, c.HasPermission("NOPE", PermViewFreshForm))
	require.False(t, c.HasPermission(RoleZS, "NOPE"))

	var nilCatalog *Catalog
	require.False(t, nilCatalog.HasPermission(RoleZS, PermViewFreshForm))
}

func TestHasPermissionIsDeterministic(t *testing.T) {
	c := newTestCatalog(t)
	before := c.PermissionsOf(RoleZS)
	for i := 0; i < 50; i++ {
		require.True(t, c.HasPermission(RoleZS, PermViewFreshForm))
		require.False(t, c.HasPermission(RoleZS, PermRedFlag))
	}
	require.Equal(t, before, c.PermissionsOf(RoleZS))
}

func TestNewRejectsBadReferenceData(t *testing.T) {
	_, err := New([]Role{{Code: "A"}, {Code: "a"}}, nil, nil)
	require.ErrorIs(t, err, ErrDuplicateCode)

	_, err = New([]Role{{Code: "A"}}, []Permission{{Code: "P", Category: "WRITE"}}, nil)
	require.ErrorIs(t, err, ErrInvalidCategory)

	_, err = New([]Role{{Code: "A"}}, []Permission{{Code: "P", Category: CategoryView}}, []Grant{{RoleCode: "B", PermissionCode: "P"}})
	require.ErrorIs(t, err, ErrUnknownRole)

	_, err = New([]Role{{Code: "A"}}, []Permission{{Code: "P", Category: CategoryView}}, []Grant{{RoleCode: "A", PermissionCode: "Q"}})
	require.ErrorIs(t, err, ErrUnknownPermission)
}

func TestRolesOrderedByPrecedence(t *testing.T) {
	c := newTestCatalog(t)
	roles := c.Roles()
	require.Len(t, roles, 3)
	require.Equal(t, RoleAdmin, roles[0].Code)
	require.Equal(t, RoleACP, roles[1].Code)
	require.Equal(t, RoleZS, roles[2].Code)

	require.Equal(t, []string{"FORWARD_TO_ACP", PermViewFreshForm}, c.PermissionsOf(RoleZS))
}
