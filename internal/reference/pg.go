package reference

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/armslicense/armslicense/internal/catalog"
	"github.com/armslicense/armslicense/internal/hierarchy"
)

// DBTX is satisfied by *pgxpool.Pool and pgx.Tx.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PGLoader reads reference data from Postgres.
type PGLoader struct {
	db DBTX
}

// NewPGLoader constructs a PGLoader.
func NewPGLoader(db DBTX) *PGLoader {
	return &PGLoader{db: db}
}

// LoadReference implements Loader.
func (l *PGLoader) LoadReference(ctx context.Context) (Data, error) {
	var (
		d   Data
		err error
	)
	d.Roles, err = collect(ctx, l.db, `SELECT id, code, name, description, precedence FROM roles ORDER BY precedence, code`,
		func(row pgx.CollectableRow) (catalog.Role, error) {
			var r catalog.Role
			err := row.Scan(&r.ID, &r.Code, &r.Name, &r.Description, &r.Precedence)
			return r, err
		})
	if err != nil {
		return Data{}, fmt.Errorf("roles: %w", err)
	}
	d.Permissions, err = collect(ctx, l.db, `SELECT id, code, name, category FROM permissions ORDER BY code`,
		func(row pgx.CollectableRow) (catalog.Permission, error) {
			var (
				p        catalog.Permission
				category string
			)
			err := row.Scan(&p.ID, &p.Code, &p.Name, &category)
			p.Category = catalog.Category(category)
			return p, err
		})
	if err != nil {
		return Data{}, fmt.Errorf("permissions: %w", err)
	}
	d.Grants, err = collect(ctx, l.db, `
SELECT r.code, p.code
FROM role_permissions rp
JOIN roles r ON r.id = rp.role_id
JOIN permissions p ON p.id = rp.permission_id`,
		func(row pgx.CollectableRow) (catalog.Grant, error) {
			var g catalog.Grant
			err := row.Scan(&g.RoleCode, &g.PermissionCode)
			return g, err
		})
	if err != nil {
		return Data{}, fmt.Errorf("grants: %w", err)
	}
	d.Edges, err = collect(ctx, l.db, `
SELECT f.code, t.code
FROM role_hierarchy_edges e
JOIN roles f ON f.id = e.from_role_id
JOIN roles t ON t.id = e.to_role_id`,
		func(row pgx.CollectableRow) (hierarchy.Edge, error) {
			var e hierarchy.Edge
			err := row.Scan(&e.From, &e.To)
			return e, err
		})
	if err != nil {
		return Data{}, fmt.Errorf("edges: %w", err)
	}
	return d, nil
}

func collect[T any](ctx context.Context, db DBTX, sql string, fn pgx.RowToFunc[T]) ([]T, error) {
	rows, err := db.Query(ctx, sql)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, fn)
}
