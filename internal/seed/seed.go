// Package seed parses the YAML reference seed and applies it to storage.
package seed

import (
	"bytes"
	"context"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/armslicense/armslicense/internal/catalog"
	"github.com/armslicense/armslicense/internal/hierarchy"
	"github.com/armslicense/armslicense/internal/reference"
)

//go:embed default.yaml
var defaultSeed []byte

// ErrInvalidSeed wraps structural problems in a seed file.
var ErrInvalidSeed = errors.New("seed: invalid seed file")

// File is the decoded seed document.
type File struct {
	Permissions []PermissionEntry `yaml:"permissions"`
	Roles       []RoleEntry       `yaml:"roles"`
	Edges       []EdgeEntry       `yaml:"edges"`
	Users       []UserEntry       `yaml:"users"`
}

// PermissionEntry declares one permission.
type PermissionEntry struct {
	Code     string `yaml:"code"`
	Name     string `yaml:"name"`
	Category string `yaml:"category"`
}

// RoleEntry declares a role, its grants and its forwarding targets.
type RoleEntry struct {
	Code        string   `yaml:"code"`
	Name        string   `yaml:"name"`
	Description string   `yaml:"description"`
	Precedence  int      `yaml:"precedence"`
	Permissions []string `yaml:"permissions"`
	ForwardTo   []string `yaml:"forward_to"`
}

// EdgeEntry declares an edge without granting the forward permission.
type EdgeEntry struct {
	From string `yaml:"from"`
	To   string `yaml:"to"`
}

// UserEntry declares a demo account.
type UserEntry struct {
	Email    string `yaml:"email"`
	Name     string `yaml:"name"`
	Role     string `yaml:"role"`
	Password string `yaml:"password"`
}

// Parse decodes a seed document and checks it compiles into reference data.
func Parse(r io.Reader) (*File, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	var f File
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSeed, err)
	}
	if len(f.Roles) == 0 {
		return nil, fmt.Errorf("%w: no roles", ErrInvalidSeed)
	}
	if _, err := reference.Compile(f.Data(), catalog.RoleAdmin); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidSeed, err)
	}
	for _, u := range f.Users {
		if u.Email == "" || u.Password == "" {
			return nil, fmt.Errorf("%w: user entries need email and password", ErrInvalidSeed)
		}
		if !f.hasRole(u.Role) {
			return nil, fmt.Errorf("%w: user %s has unknown role %s", ErrInvalidSeed, u.Email, u.Role)
		}
	}
	return &f, nil
}

// Load reads and parses the seed at path.
func Load(path string) (*File, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("seed: read %s: %w", path, err)
	}
	return Parse(bytes.NewReader(raw))
}

// Default returns the embedded seed.
func Default() (*File, error) {
	return Parse(bytes.NewReader(defaultSeed))
}

// LoadOrDefault loads path, or the embedded seed when path is empty.
func LoadOrDefault(path string) (*File, error) {
	if path == "" {
		return Default()
	}
	return Load(path)
}

// Data converts the seed into reference data. A FORWARD_TO_<ROLE> permission
// is declared for every role so that grants and edges can refer to it.
func (f *File) Data() reference.Data {
	var d reference.Data
	declared := make(map[string]struct{})
	for _, p := range f.Permissions {
		code := catalog.NormalizeCode(p.Code)
		declared[code] = struct{}{}
		d.Permissions = append(d.Permissions, catalog.Permission{
			Code:     code,
			Name:     p.Name,
			Category: catalog.Category(catalog.NormalizeCode(p.Category)),
		})
	}
	for _, r := range f.Roles {
		code := catalog.NormalizeCode(r.Code)
		d.Roles = append(d.Roles, catalog.Role{
			Code:        code,
			Name:        r.Name,
			Description: r.Description,
			Precedence:  r.Precedence,
		})
		fwd := catalog.ForwardPermission(code)
		if _, ok := declared[fwd]; !ok {
			declared[fwd] = struct{}{}
			d.Permissions = append(d.Permissions, catalog.Permission{
				Code:     fwd,
				Name:     "Forward to " + code,
				Category: catalog.CategoryAction,
			})
		}
	}
	for _, r := range f.Roles {
		code := catalog.NormalizeCode(r.Code)
		for _, p := range r.Permissions {
			d.Grants = append(d.Grants, catalog.Grant{RoleCode: code, PermissionCode: p})
		}
		for _, target := range r.ForwardTo {
			d.Grants = append(d.Grants, catalog.Grant{RoleCode: code, PermissionCode: catalog.ForwardPermission(target)})
			d.Edges = append(d.Edges, hierarchy.Edge{From: code, To: catalog.NormalizeCode(target)})
		}
	}
	for _, e := range f.Edges {
		d.Edges = append(d.Edges, hierarchy.Edge{From: e.From, To: e.To})
	}
	return d
}

// Loader exposes the seed as a reference.Loader.
func (f *File) Loader() reference.Loader {
	return reference.LoaderFunc(func(ctx context.Context) (reference.Data, error) {
		return f.Data(), nil
	})
}

func (f *File) hasRole(code string) bool {
	code = catalog.NormalizeCode(code)
	for _, r := range f.Roles {
		if catalog.NormalizeCode(r.Code) == code {
			return true
		}
	}
	return false
}
