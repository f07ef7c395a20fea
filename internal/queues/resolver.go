package queues

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"golang.org/x/sync/singleflight"

	"github.com/armslicense/armslicense/internal/catalog"
	"github.com/armslicense/armslicense/internal/reference"
)

const (
	defaultLimit = 50
	maxLimit     = 200
)

// Resolver lists queues for a viewer, honouring VIEW permissions.
type Resolver struct {
	repo     Repository
	registry *reference.Registry
	cache    *Cache
	logger   *slog.Logger
	group    singleflight.Group
}

// NewResolver constructs a Resolver. cache may be nil.
func NewResolver(repo Repository, registry *reference.Registry, cache *Cache, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{repo: repo, registry: registry, cache: cache, logger: logger}
}

// List returns the rows of q visible to viewer. A viewer lacking the queue's
// VIEW permission gets an empty list rather than an error.
func (r *Resolver) List(ctx context.Context, viewer Viewer, q Queue, page Page) ([]Item, error) {
	if _, ok := queuePermissions[q]; !ok {
		return nil, ErrUnknownQueue
	}
	allowed, err := r.allowed(viewer, q)
	if err != nil {
		return nil, err
	}
	if !allowed {
		return []Item{}, nil
	}
	f := Filter{
		Queue:  q,
		Role:   catalog.NormalizeCode(viewer.Role),
		UserID: viewer.UserID,
		Limit:  clampLimit(page.Limit),
		Offset: max(page.Offset, 0),
	}
	key, err := r.cache.BuildKey(ctx, "list", string(q), f.Role, strconv.FormatInt(f.UserID, 10), strconv.Itoa(f.Limit), strconv.Itoa(f.Offset))
	if err != nil {
		return nil, err
	}
	val, err, _ := r.collapse(ctx, key, func(ctx context.Context) (any, error) {
		var items []Item
		err := r.cache.FetchJSON(ctx, key, &items, func(ctx context.Context) (any, error) {
			rows, err := r.repo.ListQueue(ctx, f)
			if err != nil {
				return nil, err
			}
			if rows == nil {
				rows = []Item{}
			}
			return rows, nil
		})
		return items, err
	})
	if err != nil {
		return nil, fmt.Errorf("queues: list %s: %w", q, err)
	}
	return val.([]Item), nil
}

// Counts returns the size of every queue for viewer. Queues the viewer cannot
// see count as zero.
func (r *Resolver) Counts(ctx context.Context, viewer Viewer) (map[Queue]int, error) {
	role := catalog.NormalizeCode(viewer.Role)
	key, err := r.cache.BuildKey(ctx, "counts", role, strconv.FormatInt(viewer.UserID, 10))
	if err != nil {
		return nil, err
	}
	val, err, _ := r.collapse(ctx, key, func(ctx context.Context) (any, error) {
		var counts map[Queue]int
		err := r.cache.FetchJSON(ctx, key, &counts, func(ctx context.Context) (any, error) {
			out := make(map[Queue]int, len(queuePermissions))
			for _, q := range All() {
				allowed, err := r.allowed(viewer, q)
				if err != nil {
					return nil, err
				}
				if !allowed {
					out[q] = 0
					continue
				}
				n, err := r.repo.CountQueue(ctx, Filter{Queue: q, Role: role, UserID: viewer.UserID})
				if err != nil {
					return nil, err
				}
				out[q] = n
			}
			return out, nil
		})
		return counts, err
	})
	if err != nil {
		return nil, fmt.Errorf("queues: counts: %w", err)
	}
	return val.(map[Queue]int), nil
}

// Invalidate drops every cached queue.
func (r *Resolver) Invalidate(ctx context.Context) error {
	return r.cache.Bump(ctx)
}

func (r *Resolver) allowed(viewer Viewer, q Queue) (bool, error) {
	snap, err := r.registry.Current()
	if err != nil {
		return false, err
	}
	return snap.Catalog.HasPermission(viewer.Role, q.Permission()), nil
}

func (r *Resolver) collapse(ctx context.Context, key string, fn func(context.Context) (any, error)) (any, error, bool) {
	ch := r.group.DoChan(key, func() (any, error) {
		return fn(context.WithoutCancel(ctx))
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err(), false
	case res := <-ch:
		return res.Val, res.Err, res.Shared
	}
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return defaultLimit
	}
	if limit > maxLimit {
		return maxLimit
	}
	return limit
}
