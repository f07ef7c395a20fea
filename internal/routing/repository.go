package routing

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/armslicense/armslicense/internal/assignment"
	"github.com/armslicense/armslicense/internal/platform/db"
	"github.com/armslicense/armslicense/internal/transitions"
)

// PGRepository implements Repository on Postgres.
type PGRepository struct {
	pool  *pgxpool.Pool
	cases *assignment.Store
	log   *transitions.Log
}

// NewPGRepository constructs a PGRepository.
func NewPGRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{
		pool:  pool,
		cases: assignment.New(pool),
		log:   transitions.New(pool),
	}
}

// GetCase loads the routing state of an application.
func (r *PGRepository) GetCase(ctx context.Context, id int64) (assignment.Case, error) {
	return r.cases.Get(ctx, id)
}

// TransitionByRequestKey returns the record stored under key.
func (r *PGRepository) TransitionByRequestKey(ctx context.Context, key string) (transitions.Record, error) {
	return r.log.ByRequestKey(ctx, key)
}

// History lists the transition records of an application.
func (r *PGRepository) History(ctx context.Context, applicationID int64) ([]transitions.Record, error) {
	return r.log.List(ctx, applicationID)
}

// WithTx runs fn inside a repeatable-read transaction.
func (r *PGRepository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, pgTx{cases: r.cases.WithTx(tx), log: r.log.WithTx(tx)})
	})
}

type pgTx struct {
	cases *assignment.Store
	log   *transitions.Log
}

func (t pgTx) GetCase(ctx context.Context, id int64) (assignment.Case, error) {
	return t.cases.Get(ctx, id)
}

func (t pgTx) Reassign(ctx context.Context, r assignment.Reassignment) (assignment.Case, error) {
	return t.cases.Reassign(ctx, r)
}

func (t pgTx) AppendTransition(ctx context.Context, rec transitions.Record) (transitions.Record, error) {
	return t.log.Append(ctx, rec)
}

func (t pgTx) LatestForwardInto(ctx context.Context, applicationID int64, role string) (transitions.Record, error) {
	return t.log.LatestForwardInto(ctx, applicationID, role)
}

func (t pgTx) LatestFlag(ctx context.Context, applicationID int64) (transitions.Record, error) {
	return t.log.LatestFlag(ctx, applicationID)
}

var _ Repository = (*PGRepository)(nil)
