// Package reference compiles roles, permissions, grants and hierarchy edges
// into immutable snapshots and publishes the current one atomically.
package reference

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/armslicense/armslicense/internal/catalog"
	"github.com/armslicense/armslicense/internal/hierarchy"
)

// ErrNotLoaded is returned before the first successful load.
var ErrNotLoaded = errors.New("reference: data not loaded")

// Data is the raw reference data as stored or seeded.
type Data struct {
	Roles       []catalog.Role
	Permissions []catalog.Permission
	Grants      []catalog.Grant
	Edges       []hierarchy.Edge
}

// Snapshot is a compiled, read-only view of Data.
type Snapshot struct {
	Catalog  *catalog.Catalog
	Graph    *hierarchy.Graph
	LoadedAt time.Time
}

// Compile validates d and builds a Snapshot. admin names the role allowed to
// forward to everyone.
func Compile(d Data, admin string) (*Snapshot, error) {
	cat, err := catalog.New(d.Roles, d.Permissions, d.Grants)
	if err != nil {
		return nil, err
	}
	graph, err := hierarchy.Build(d.Roles, d.Edges, admin)
	if err != nil {
		return nil, err
	}
	return &Snapshot{Catalog: cat, Graph: graph, LoadedAt: time.Now().UTC()}, nil
}

// Loader fetches reference data from a backing store.
type Loader interface {
	LoadReference(ctx context.Context) (Data, error)
}

// LoaderFunc adapts a function to Loader.
type LoaderFunc func(ctx context.Context) (Data, error)

// LoadReference implements Loader.
func (f LoaderFunc) LoadReference(ctx context.Context) (Data, error) {
	return f(ctx)
}

// Registry holds the current Snapshot. Readers never block; Reload swaps the
// pointer only after the new data compiled cleanly.
type Registry struct {
	loader  Loader
	admin   string
	logger  *slog.Logger
	current atomic.Pointer[Snapshot]
}

// NewRegistry constructs an empty Registry. Call Reload before use.
func NewRegistry(loader Loader, admin string, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{loader: loader, admin: admin, logger: logger}
}

// NewStaticRegistry returns a Registry already holding snap.
func NewStaticRegistry(snap *Snapshot) *Registry {
	r := &Registry{logger: slog.Default()}
	r.current.Store(snap)
	return r
}

// Reload fetches and compiles fresh data. On failure the previous snapshot
// remains current.
func (r *Registry) Reload(ctx context.Context) (*Snapshot, error) {
	if r.loader == nil {
		return nil, fmt.Errorf("reference: no loader configured")
	}
	data, err := r.loader.LoadReference(ctx)
	if err != nil {
		return nil, fmt.Errorf("reference: load: %w", err)
	}
	snap, err := Compile(data, r.admin)
	if err != nil {
		r.logger.Error("reference data rejected", slog.Any("error", err))
		return nil, err
	}
	r.current.Store(snap)
	r.logger.Info("reference data loaded",
		slog.Int("roles", len(data.Roles)),
		slog.Int("permissions", len(data.Permissions)),
		slog.Int("grants", len(data.Grants)),
		slog.Int("edges", len(data.Edges)),
	)
	return snap, nil
}

// Current returns the active snapshot.
func (r *Registry) Current() (*Snapshot, error) {
	snap := r.current.Load()
	if snap == nil {
		return nil, ErrNotLoaded
	}
	return snap, nil
}
