package applications

import (
	"context"
	"encoding/json"
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

// PGRepository implements Repository on Postgres.
type PGRepository struct {
	db DBTX
}

// NewPGRepository constructs a PGRepository.
func NewPGRepository(db DBTX) *PGRepository {
	return &PGRepository{db: db}
}

const applicationColumns = `id, applicant_id, state, owner_role, owner_user_id, version, is_submitted,
personal_details, created_at, updated_at`

// CreateApplication inserts a DRAFT application.
func (r *PGRepository) CreateApplication(ctx context.Context, in NewApplication) (Application, error) {
	details, err := json.Marshal(in.Details)
	if err != nil {
		return Application{}, fmt.Errorf("applications: encode details: %w", err)
	}
	row := r.db.QueryRow(ctx, `
INSERT INTO applications (applicant_id, state, owner_role, personal_details)
VALUES ($1, $2, $3, $4)
RETURNING `+applicationColumns, in.ApplicantID, string(workflow.StateDraft), in.OwnerRole, details)
	app, err := scanApplication(row)
	if err != nil {
		return Application{}, fmt.Errorf("applications: create: %w", err)
	}
	return app, nil
}

// GetApplication loads one application.
func (r *PGRepository) GetApplication(ctx context.Context, id int64) (Application, error) {
	app, err := scanApplication(r.db.QueryRow(ctx, `SELECT `+applicationColumns+` FROM applications WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Application{}, ErrNotFound
		}
		return Application{}, fmt.Errorf("applications: get: %w", err)
	}
	return app, nil
}

func scanApplication(row pgx.Row) (Application, error) {
	var (
		app     Application
		state   string
		details []byte
	)
	if err := row.Scan(&app.ID, &app.ApplicantID, &state, &app.OwnerRole, &app.OwnerUserID, &app.Version,
		&app.IsSubmitted, &details, &app.CreatedAt, &app.UpdatedAt); err != nil {
		return Application{}, err
	}
	app.State = workflow.State(state)
	if len(details) > 0 {
		if err := json.Unmarshal(details, &app.Details); err != nil {
			return Application{}, err
		}
	}
	return app, nil
}

var _ Repository = (*PGRepository)(nil)
