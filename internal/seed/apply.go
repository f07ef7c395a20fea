package seed

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/armslicense/armslicense/internal/auth"
	"github.com/armslicense/armslicense/internal/platform/db"
)

// Execer is the subset of pgx.Tx used while applying a seed.
type Execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Stats summarises what Apply wrote.
type Stats struct {
	Roles       int
	Permissions int
	Grants      int
	Edges       int
	Users       int
}

// Apply upserts the seed into Postgres inside a single transaction.
func Apply(ctx context.Context, pool *pgxpool.Pool, f *File, logger *slog.Logger) (Stats, error) {
	var stats Stats
	err := db.WithTx(ctx, pool, func(tx pgx.Tx) error {
		var err error
		stats, err = Write(ctx, tx, f)
		return err
	})
	if err != nil {
		return Stats{}, err
	}
	if logger != nil {
		logger.Info("reference seed applied",
			slog.Int("roles", stats.Roles),
			slog.Int("permissions", stats.Permissions),
			slog.Int("grants", stats.Grants),
			slog.Int("edges", stats.Edges),
			slog.Int("users", stats.Users))
	}
	return stats, nil
}

// Write issues the upsert statements for f against ex. Users keep their
// existing password hash when they are already present.
func Write(ctx context.Context, ex Execer, f *File) (Stats, error) {
	d := f.Data()
	var stats Stats
	for _, r := range d.Roles {
		if _, err := ex.Exec(ctx, `
INSERT INTO roles (code, name, description, precedence)
VALUES ($1, $2, $3, $4)
ON CONFLICT (code) DO UPDATE SET name = EXCLUDED.name, description = EXCLUDED.description, precedence = EXCLUDED.precedence`,
			r.Code, r.Name, r.Description, r.Precedence); err != nil {
			return Stats{}, fmt.Errorf("seed: role %s: %w", r.Code, err)
		}
		stats.Roles++
	}
	for _, p := range d.Permissions {
		if _, err := ex.Exec(ctx, `
INSERT INTO permissions (code, name, category)
VALUES ($1, $2, $3)
ON CONFLICT (code) DO UPDATE SET name = EXCLUDED.name, category = EXCLUDED.category`,
			p.Code, p.Name, string(p.Category)); err != nil {
			return Stats{}, fmt.Errorf("seed: permission %s: %w", p.Code, err)
		}
		stats.Permissions++
	}
	for _, g := range d.Grants {
		if _, err := ex.Exec(ctx, `
INSERT INTO role_permissions (role_id, permission_id)
SELECT r.id, p.id FROM roles r, permissions p WHERE r.code = $1 AND p.code = $2
ON CONFLICT DO NOTHING`, g.RoleCode, g.PermissionCode); err != nil {
			return Stats{}, fmt.Errorf("seed: grant %s/%s: %w", g.RoleCode, g.PermissionCode, err)
		}
		stats.Grants++
	}
	for _, e := range d.Edges {
		if _, err := ex.Exec(ctx, `
INSERT INTO role_hierarchy_edges (from_role_id, to_role_id)
SELECT f.id, t.id FROM roles f, roles t WHERE f.code = $1 AND t.code = $2
ON CONFLICT DO NOTHING`, e.From, e.To); err != nil {
			return Stats{}, fmt.Errorf("seed: edge %s->%s: %w", e.From, e.To, err)
		}
		stats.Edges++
	}
	for _, u := range f.Users {
		hash, err := auth.HashPassword(u.Password)
		if err != nil {
			return Stats{}, fmt.Errorf("seed: hash password for %s: %w", u.Email, err)
		}
		if _, err := ex.Exec(ctx, `
INSERT INTO users (email, name, password_hash, role_code, is_active)
VALUES ($1, $2, $3, $4, TRUE)
ON CONFLICT (email) DO UPDATE SET name = EXCLUDED.name, role_code = EXCLUDED.role_code, updated_at = NOW()`,
			u.Email, u.Name, hash, u.Role); err != nil {
			return Stats{}, fmt.Errorf("seed: user %s: %w", u.Email, err)
		}
		stats.Users++
	}
	return stats, nil
}
