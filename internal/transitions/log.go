package transitions

import (
	"context"
	"errors"
	"fmt"

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

// Log appends and reads transition records in Postgres.
type Log struct {
	db DBTX
}

// New constructs a Log bound to db.
func New(db DBTX) *Log {
	return &Log{db: db}
}

// WithTx returns a Log bound to tx.
func (l *Log) WithTx(tx pgx.Tx) *Log {
	return &Log{db: tx}
}

const columns = `id, application_id, seq, from_role, to_role, to_user_id, from_state, to_state,
actor_user_id, actor_role, action, remarks, COALESCE(request_key, ''), created_at`

const appendRecord = `
INSERT INTO transition_records (
    application_id, seq, from_role, to_role, to_user_id, from_state, to_state,
    actor_user_id, actor_role, action, remarks, request_key
)
VALUES (
    $1,
    COALESCE((SELECT MAX(seq) FROM transition_records WHERE application_id = $1), 0) + 1,
    $2, $3, $4, $5, $6, $7, $8, $9, $10, NULLIF($11, '')
)
RETURNING ` + columns

// Append stores rec and returns it with its id, sequence and timestamp set.
func (l *Log) Append(ctx context.Context, rec Record) (Record, error) {
	row := l.db.QueryRow(ctx, appendRecord,
		rec.ApplicationID,
		rec.FromRole,
		rec.ToRole,
		rec.ToUserID,
		string(rec.FromState),
		string(rec.ToState),
		rec.ActorUserID,
		rec.ActorRole,
		rec.Action,
		rec.Remarks,
		rec.RequestKey,
	)
	out, err := scanRecord(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" && pgErr.ConstraintName == "transition_records_request_key_key" {
			return Record{}, ErrDuplicateRequestKey
		}
		return Record{}, fmt.Errorf("transitions: append: %w", err)
	}
	return out, nil
}

// List returns the history of an application ordered by sequence.
func (l *Log) List(ctx context.Context, applicationID int64) ([]Record, error) {
	rows, err := l.db.Query(ctx, `SELECT `+columns+` FROM transition_records WHERE application_id = $1 ORDER BY seq`, applicationID)
	if err != nil {
		return nil, fmt.Errorf("transitions: list: %w", err)
	}
	defer rows.Close()
	var out []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("transitions: scan: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// ByRequestKey returns the record stored under key.
func (l *Log) ByRequestKey(ctx context.Context, key string) (Record, error) {
	return l.one(ctx, `SELECT `+columns+` FROM transition_records WHERE request_key = $1`, key)
}

// LatestForwardInto returns the most recent forward that handed the case to role.
func (l *Log) LatestForwardInto(ctx context.Context, applicationID int64, role string) (Record, error) {
	return l.one(ctx, `SELECT `+columns+`
FROM transition_records
WHERE application_id = $1 AND to_role = $2 AND starts_with(action, $3) AND from_role <> to_role
ORDER BY seq DESC
LIMIT 1`, applicationID, role, catalog.ForwardPrefix)
}

// LatestFlag returns the most recent record that raised a red flag.
func (l *Log) LatestFlag(ctx context.Context, applicationID int64) (Record, error) {
	return l.one(ctx, `SELECT `+columns+`
FROM transition_records
WHERE application_id = $1 AND to_state = $2 AND from_state <> $2
ORDER BY seq DESC
LIMIT 1`, applicationID, string(workflow.StateRedFlagged))
}

func (l *Log) one(ctx context.Context, sql string, args ...any) (Record, error) {
	rec, err := scanRecord(l.db.QueryRow(ctx, sql, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Record{}, ErrNotFound
		}
		return Record{}, fmt.Errorf("transitions: query: %w", err)
	}
	return rec, nil
}

func scanRecord(row pgx.Row) (Record, error) {
	var (
		rec                Record
		fromState, toState string
	)
	err := row.Scan(
		&rec.ID, &rec.ApplicationID, &rec.Seq, &rec.FromRole, &rec.ToRole, &rec.ToUserID,
		&fromState, &toState, &rec.ActorUserID, &rec.ActorRole, &rec.Action, &rec.Remarks,
		&rec.RequestKey, &rec.CreatedAt,
	)
	if err != nil {
		return Record{}, err
	}
	rec.FromState = workflow.State(fromState)
	rec.ToState = workflow.State(toState)
	return rec, nil
}
