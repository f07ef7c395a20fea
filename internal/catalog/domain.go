package catalog

import "errors"

// Category splits permissions into queue visibility and workflow actions.
type Category string

const (
	CategoryView   Category = "VIEW"
	CategoryAction Category = "ACTION"
)

// Role represents a position in the licensing hierarchy.
type Role struct {
	ID          int64
	Code        string
	Name        string
	Description string
	// Precedence orders seniority; lower is more senior.
	Precedence int
}

// Permission represents an atomic capability.
type Permission struct {
	ID       int64
	Code     string
	Name     string
	Category Category
}

// Grant ties a permission to a role.
type Grant struct {
	RoleCode       string
	PermissionCode string
}

var (
	// ErrUnknownRole indicates a role code that is not part of the catalog.
	ErrUnknownRole = errors.New("catalog: unknown role")
	// ErrUnknownPermission indicates a permission code that is not part of the catalog.
	ErrUnknownPermission = errors.New("catalog: unknown permission")
	// ErrDuplicateCode indicates two reference rows share the same code.
	ErrDuplicateCode = errors.New("catalog: duplicate code")
	// ErrInvalidCategory indicates a permission with neither VIEW nor ACTION category.
	ErrInvalidCategory = errors.New("catalog: invalid permission category")
)

// Valid reports whether the category is one of the known values.
func (c Category) Valid() bool {
	return c == CategoryView || c == CategoryAction
}
