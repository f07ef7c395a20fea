package assignment

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"
)

type errRow struct{ err error }

func (r errRow) Scan(...any) error { return r.err }

type stubDB struct {
	rowErr error
	sql    []string
}

func (s *stubDB) Exec(context.Context, string, ...any) (pgconn.CommandTag, error) {
	return pgconn.CommandTag{}, nil
}

func (s *stubDB) Query(context.Context, string, ...any) (pgx.Rows, error) {
	return nil, errors.New("not implemented")
}

func (s *stubDB) QueryRow(_ context.Context, sql string, _ ...any) pgx.Row {
	s.sql = append(s.sql, sql)
	return errRow{err: s.rowErr}
}

func TestGetMapsMissingRowToNotFound(t *testing.T) {
	store := New(&stubDB{rowErr: pgx.ErrNoRows})
	_, err := store.Get(context.Background(), 42)
	require.ErrorIs(t, err, ErrNotFound)

	_, err = store.GetOwner(context.Background(), 42)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestReassignReportsStaleOwnership(t *testing.T) {
	cases := map[string]error{
		"no row matched":        pgx.ErrNoRows,
		"serialization failure": &pgconn.PgError{Code: "40001"},
	}
	for name, rowErr := range cases {
		t.Run(name, func(t *testing.T) {
			db := &stubDB{rowErr: rowErr}
			_, err := New(db).Reassign(context.Background(), Reassignment{ApplicationID: 1, ExpectedRole: "ZS", ExpectedVersion: 3})
			require.ErrorIs(t, err, ErrStaleOwnership)
			require.Len(t, db.sql, 1)
			require.Contains(t, db.sql[0], "version = $6 AND owner_role = $7")
		})
	}
}

func TestReassignWrapsOtherErrors(t *testing.T) {
	boom := &pgconn.PgError{Code: "23503"}
	_, err := New(&stubDB{rowErr: boom}).Reassign(context.Background(), Reassignment{ApplicationID: 1})
	require.Error(t, err)
	require.NotErrorIs(t, err, ErrStaleOwnership)
	require.ErrorAs(t, err, &boom)
}

func TestOwnerEqual(t *testing.T) {
	one, two := int64(1), int64(2)
	require.True(t, Owner{Role: "ZS"}.Equal(Owner{Role: "ZS"}))
	require.False(t, Owner{Role: "ZS"}.Equal(Owner{Role: "ACP"}))
	require.False(t, Owner{Role: "ZS", UserID: &one}.Equal(Owner{Role: "ZS"}))
	require.True(t, Owner{Role: "ZS", UserID: &one}.Equal(Owner{Role: "ZS", UserID: &one}))
	require.False(t, Owner{Role: "ZS", UserID: &one}.Equal(Owner{Role: "ZS", UserID: &two}))
}
