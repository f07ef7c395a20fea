package transitions

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"

	"github.com/armslicense/armslicense/internal/catalog"
	"github.com/armslicense/armslicense/internal/workflow"
)

type errRow struct{ err error }

func (r errRow) Scan(...any) error { return r.err }

type stubDB struct {
	rowErr error
	sqls   []string
	args   [][]any
}

func (s *stubDB) Exec(context.Context, string, ...any) (pgconn.CommandTag, error) {
	return pgconn.CommandTag{}, nil
}

func (s *stubDB) Query(context.Context, string, ...any) (pgx.Rows, error) {
	return nil, errors.New("not implemented")
}

func (s *stubDB) QueryRow(_ context.Context, sql string, args ...any) pgx.Row {
	s.sqls = append(s.sqls, sql)
	s.args = append(s.args, args)
	return errRow{err: s.rowErr}
}

func TestAppendMapsRequestKeyConflict(t *testing.T) {
	db := &stubDB{rowErr: &pgconn.PgError{Code: "23505", ConstraintName: "transition_records_request_key_key"}}
	_, err := New(db).Append(context.Background(), Record{ApplicationID: 7, RequestKey: "k-1"})
	require.ErrorIs(t, err, ErrDuplicateRequestKey)
	require.Equal(t, int64(7), db.args[0][0])
	require.Equal(t, "k-1", db.args[0][10])
}

func TestAppendKeepsOtherUniqueViolations(t *testing.T) {
	db := &stubDB{rowErr: &pgconn.PgError{Code: "23505", ConstraintName: "transition_records_application_id_seq_key"}}
	_, err := New(db).Append(context.Background(), Record{ApplicationID: 7})
	require.Error(t, err)
	require.NotErrorIs(t, err, ErrDuplicateRequestKey)
}

func TestLookupsMapMissingRows(t *testing.T) {
	log := New(&stubDB{rowErr: pgx.ErrNoRows})
	_, err := log.ByRequestKey(context.Background(), "missing")
	require.ErrorIs(t, err, ErrNotFound)
	_, err = log.LatestForwardInto(context.Background(), 1, catalog.RoleACP)
	require.ErrorIs(t, err, ErrNotFound)
	_, err = log.LatestFlag(context.Background(), 1)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestLatestForwardIntoMatchesPrefixLiterally(t *testing.T) {
	db := &stubDB{rowErr: pgx.ErrNoRows}
	_, _ = New(db).LatestForwardInto(context.Background(), 3, catalog.RoleZS)
	require.Len(t, db.sqls, 1)
	require.Contains(t, db.sqls[0], "starts_with(action, $3)")
	require.NotContains(t, db.sqls[0], "LIKE")
	require.Equal(t, []any{int64(3), catalog.RoleZS, catalog.ForwardPrefix}, db.args[0])
}

func TestRecordClassification(t *testing.T) {
	fwd := Record{Action: catalog.ForwardPermission(catalog.RoleACP), FromState: workflow.StateSubmitted, ToState: workflow.StateForwarded}
	require.True(t, fwd.IsForward())
	require.False(t, fwd.OpensFlag())

	flag := Record{Action: catalog.PermRedFlag, FromState: workflow.StateForwarded, ToState: workflow.StateRedFlagged}
	require.True(t, flag.OpensFlag())
	require.False(t, flag.IsForward())

	cleared := Record{Action: catalog.PermRedFlag, FromState: workflow.StateRedFlagged, ToState: workflow.StateForwarded}
	require.False(t, cleared.OpensFlag())
}
