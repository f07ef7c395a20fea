package queues

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/armslicense/armslicense/internal/catalog"
	"github.com/armslicense/armslicense/internal/workflow"
)

// DBTX is satisfied by *pgxpool.Pool and pgx.Tx.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PGRepository reads queues from Postgres.
type PGRepository struct {
	db DBTX
}

// NewPGRepository constructs a PGRepository.
func NewPGRepository(db DBTX) *PGRepository {
	return &PGRepository{db: db}
}

// ListQueue implements Repository.
func (r *PGRepository) ListQueue(ctx context.Context, f Filter) ([]Item, error) {
	where, args, err := queueWhere(f)
	if err != nil {
		return nil, err
	}
	args = append(args, f.Limit, f.Offset)
	sql := fmt.Sprintf(`
SELECT a.id, a.applicant_id, COALESCE(a.personal_details->>'full_name', ''), a.state,
       a.owner_role, a.owner_user_id, a.updated_at
FROM applications a
WHERE %s
ORDER BY a.updated_at DESC, a.id DESC
LIMIT $%d OFFSET $%d`, where, len(args)-1, len(args))
	rows, err := r.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("queues: list: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (Item, error) {
		var (
			it    Item
			state string
		)
		err := row.Scan(&it.ApplicationID, &it.ApplicantID, &it.ApplicantName, &state, &it.OwnerRole, &it.OwnerUserID, &it.UpdatedAt)
		it.State = workflow.State(state)
		return it, err
	})
}

// CountQueue implements Repository.
func (r *PGRepository) CountQueue(ctx context.Context, f Filter) (int, error) {
	where, args, err := queueWhere(f)
	if err != nil {
		return 0, err
	}
	var n int
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM applications a WHERE `+where, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("queues: count: %w", err)
	}
	return n, nil
}

func queueWhere(f Filter) (string, []any, error) {
	if states := f.Queue.GlobalStates(); states != nil {
		return "a.state = ANY($1)", []any{stateStrings(states)}, nil
	}
	if f.Queue == QueueSent {
		return `a.owner_role <> $1 AND EXISTS (
    SELECT 1 FROM transition_records t
    WHERE t.application_id = a.id
      AND t.seq = (SELECT MAX(l.seq) FROM transition_records l WHERE l.application_id = a.id)
      AND t.from_role = $1 AND t.actor_role = $1 AND t.to_role <> $1
      AND ($2::BIGINT = 0 OR t.actor_user_id = $2)
)`, []any{f.Role, f.UserID}, nil
	}
	states := f.Queue.OwnedStates()
	if states == nil {
		return "", nil, ErrUnknownQueue
	}
	clauses := []string{
		"a.state = ANY($1)",
		"a.owner_role = $2",
		"($3::BIGINT = 0 OR a.owner_user_id IS NULL OR a.owner_user_id = $3)",
	}
	args := []any{stateStrings(states), f.Role, f.UserID}
	if f.Queue == QueueFresh {
		clauses = append(clauses, "NOT EXISTS (SELECT 1 FROM transition_records t WHERE t.application_id = a.id AND starts_with(t.action, $4))")
		args = append(args, catalog.ForwardPrefix)
	}
	return strings.Join(clauses, " AND "), args, nil
}

func stateStrings(states []workflow.State) []string {
	out := make([]string, len(states))
	for i, s := range states {
		out[i] = string(s)
	}
	return out
}

var _ Repository = (*PGRepository)(nil)
