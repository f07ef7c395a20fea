package catalog

import (
	"fmt"
	"sort"
)

type grantKey struct {
	role       string
	permission string
}

// Catalog is an immutable snapshot of roles, permissions and grants. It is safe
// for concurrent use without synchronisation.
type Catalog struct {
	roles       map[string]Role
	permissions map[string]Permission
	grants      map[grantKey]struct{}
	byRole      map[string][]string
}

// New validates reference rows and builds a Catalog.
func New(roles []Role, permissions []Permission, grants []Grant) (*Catalog, error) {
	c := &Catalog{
		roles:       make(map[string]Role, len(roles)),
		permissions: make(map[string]Permission, len(permissions)),
		grants:      make(map[grantKey]struct{}, len(grants)),
		byRole:      make(map[string][]string),
	}
	for _, r := range roles {
		r.Code = NormalizeCode(r.Code)
		if r.Code == "" {
			return nil, fmt.Errorf("%w: empty role code", ErrUnknownRole)
		}
		if _, ok := c.roles[r.Code]; ok {
			return nil, fmt.Errorf("%w: role %s", ErrDuplicateCode, r.Code)
		}
		c.roles[r.Code] = r
	}
	for _, p := range permissions {
		p.Code = NormalizeCode(p.Code)
		if p.Code == "" {
			return nil, fmt.Errorf("%w: empty permission code", ErrUnknownPermission)
		}
		if !p.Category.Valid() {
			return nil, fmt.Errorf("%w: %s has %q", ErrInvalidCategory, p.Code, p.Category)
		}
		if _, ok := c.permissions[p.Code]; ok {
			return nil, fmt.Errorf("%w: permission %s", ErrDuplicateCode, p.Code)
		}
		c.permissions[p.Code] = p
	}
	for _, g := range grants {
		role := NormalizeCode(g.RoleCode)
		perm := NormalizeCode(g.PermissionCode)
		if _, ok := c.roles[role]; !ok {
			return nil, fmt.Errorf("%w: grant references %s", ErrUnknownRole, role)
		}
		if _, ok := c.permissions[perm]; !ok {
			return nil, fmt.Errorf("%w: grant references %s", ErrUnknownPermission, perm)
		}
		key := grantKey{role: role, permission: perm}
		if _, ok := c.grants[key]; ok {
			continue
		}
		c.grants[key] = struct{}{}
		c.byRole[role] = append(c.byRole[role], perm)
	}
	for role := range c.byRole {
		sort.Strings(c.byRole[role])
	}
	return c, nil
}

// HasPermission reports whether role holds permission. Unknown codes yield false.
func (c *Catalog) HasPermission(role, permission string) bool {
	if c == nil {
		return false
	}
	_, ok := c.grants[grantKey{role: NormalizeCode(role), permission: NormalizeCode(permission)}]
	return ok
}

// HasAny reports whether role holds at least one of the permissions.
func (c *Catalog) HasAny(role string, permissions ...string) bool {
	for _, p := range permissions {
		if c.HasPermission(role, p) {
			return true
		}
	}
	return false
}

// Role looks up a role by code.
func (c *Catalog) Role(code string) (Role, bool) {
	if c == nil {
		return Role{}, false
	}
	r, ok := c.roles[NormalizeCode(code)]
	return r, ok
}

// Permission looks up a permission by code.
func (c *Catalog) Permission(code string) (Permission, bool) {
	if c == nil {
		return Permission{}, false
	}
	p, ok := c.permissions[NormalizeCode(code)]
	return p, ok
}

// Roles returns all roles ordered by precedence then code.
func (c *Catalog) Roles() []Role {
	if c == nil {
		return nil
	}
	roles := make([]Role, 0, len(c.roles))
	for _, r := range c.roles {
		roles = append(roles, r)
	}
	sort.Slice(roles, func(i, j int) bool {
		if roles[i].Precedence != roles[j].Precedence {
			return roles[i].Precedence < roles[j].Precedence
		}
		return roles[i].Code < roles[j].Code
	})
	return roles
}

// Permissions returns all permissions ordered by code.
func (c *Catalog) Permissions() []Permission {
	if c == nil {
		return nil
	}
	perms := make([]Permission, 0, len(c.permissions))
	for _, p := range c.permissions {
		perms = append(perms, p)
	}
	sort.Slice(perms, func(i, j int) bool { return perms[i].Code < perms[j].Code })
	return perms
}

// PermissionsOf returns the sorted permission codes granted to role.
func (c *Catalog) PermissionsOf(role string) []string {
	if c == nil {
		return nil
	}
	granted := c.byRole[NormalizeCode(role)]
	out := make([]string, len(granted))
	copy(out, granted)
	return out
}
