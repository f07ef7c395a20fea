package assignment

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/armslicense/armslicense/internal/workflow"
)

// DBTX is satisfied by *pgxpool.Pool and pgx.Tx.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store reads and reassigns application ownership in Postgres.
type Store struct {
	db DBTX
}

// New constructs a Store bound to db.
func New(db DBTX) *Store {
	return &Store{db: db}
}

// WithTx returns a Store bound to tx.
func (s *Store) WithTx(tx pgx.Tx) *Store {
	return &Store{db: tx}
}

const getCase = `
SELECT id, applicant_id, state, owner_role, owner_user_id, version, is_submitted, updated_at
FROM applications
WHERE id = $1`

// Get loads the routing state of an application.
func (s *Store) Get(ctx context.Context, id int64) (Case, error) {
	c, err := scanCase(s.db.QueryRow(ctx, getCase, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Case{}, ErrNotFound
		}
		return Case{}, fmt.Errorf("assignment: get: %w", err)
	}
	return c, nil
}

// GetOwner returns the current owner of an application.
func (s *Store) GetOwner(ctx context.Context, id int64) (Owner, error) {
	c, err := s.Get(ctx, id)
	if err != nil {
		return Owner{}, err
	}
	return c.Owner, nil
}

const reassign = `
UPDATE applications
SET state = $1,
    owner_role = $2,
    owner_user_id = $3,
    is_submitted = is_submitted OR $4,
    version = version + 1,
    updated_at = NOW()
WHERE id = $5 AND version = $6 AND owner_role = $7
RETURNING id, applicant_id, state, owner_role, owner_user_id, version, is_submitted, updated_at`

// Reassign applies r only when the stored owner role and version still match
// the expected values.
func (s *Store) Reassign(ctx context.Context, r Reassignment) (Case, error) {
	row := s.db.QueryRow(ctx, reassign,
		string(r.NewState),
		r.NewOwner.Role,
		r.NewOwner.UserID,
		r.Submitted,
		r.ApplicationID,
		r.ExpectedVersion,
		r.ExpectedRole,
	)
	c, err := scanCase(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) || isSerializationFailure(err) {
			return Case{}, ErrStaleOwnership
		}
		return Case{}, fmt.Errorf("assignment: reassign: %w", err)
	}
	return c, nil
}

func scanCase(row pgx.Row) (Case, error) {
	var (
		c     Case
		state string
	)
	if err := row.Scan(&c.ApplicationID, &c.ApplicantID, &state, &c.Owner.Role, &c.Owner.UserID, &c.Version, &c.IsSubmitted, &c.UpdatedAt); err != nil {
		return Case{}, err
	}
	c.State = workflow.State(state)
	return c, nil
}

func isSerializationFailure(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "40001"
}
