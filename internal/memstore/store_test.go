package memstore_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/armslicense/armslicense/internal/applications"
	"github.com/armslicense/armslicense/internal/assignment"
	"github.com/armslicense/armslicense/internal/catalog"
	"github.com/armslicense/armslicense/internal/memstore"
	"github.com/armslicense/armslicense/internal/queues"
	"github.com/armslicense/armslicense/internal/routing"
	"github.com/armslicense/armslicense/internal/seed"
	"github.com/armslicense/armslicense/internal/transitions"
	"github.com/armslicense/armslicense/internal/workflow"
)

func newDraft(t *testing.T, s *memstore.Store, applicant int64) assignment.Case {
	t.Helper()
	app, err := s.CreateApplication(context.Background(), applications.NewApplication{
		ApplicantID: applicant,
		OwnerRole:   "zs",
		Details:     applications.PersonalDetails{FullName: "Ravi Kumar"},
	})
	require.NoError(t, err)
	require.Equal(t, catalog.RoleZS, app.OwnerRole)
	c, err := s.GetCase(context.Background(), app.ID)
	require.NoError(t, err)
	return c
}

// move applies one reassignment plus its record in a single transaction.
func move(t *testing.T, s *memstore.Store, c assignment.Case, to assignment.Owner, state workflow.State, action string, actor int64) transitions.Record {
	t.Helper()
	var rec transitions.Record
	err := s.WithTx(context.Background(), func(ctx context.Context, tx routing.TxRepository) error {
		if _, err := tx.Reassign(ctx, assignment.Reassignment{
			ApplicationID:   c.ApplicationID,
			ExpectedRole:    c.Owner.Role,
			ExpectedVersion: c.Version,
			NewOwner:        to,
			NewState:        state,
		}); err != nil {
			return err
		}
		var err error
		rec, err = tx.AppendTransition(ctx, transitions.Record{
			ApplicationID: c.ApplicationID,
			FromRole:      c.Owner.Role,
			ToRole:        to.Role,
			FromState:     c.State,
			ToState:       state,
			ActorUserID:   actor,
			ActorRole:     c.Owner.Role,
			Action:        action,
		})
		return err
	})
	require.NoError(t, err)
	return rec
}

func TestWithTxRollsBackOnError(t *testing.T) {
	s := memstore.New()
	c := newDraft(t, s, 100)

	boom := errors.New("boom")
	err := s.WithTx(context.Background(), func(ctx context.Context, tx routing.TxRepository) error {
		_, err := tx.Reassign(ctx, assignment.Reassignment{
			ApplicationID:   c.ApplicationID,
			ExpectedRole:    c.Owner.Role,
			ExpectedVersion: c.Version,
			NewOwner:        assignment.Owner{Role: catalog.RoleACP},
			NewState:        workflow.StateForwarded,
		})
		require.NoError(t, err)
		staged, err := tx.GetCase(ctx, c.ApplicationID)
		require.NoError(t, err)
		require.Equal(t, catalog.RoleACP, staged.Owner.Role, "writes are visible inside the transaction")
		return boom
	})
	require.ErrorIs(t, err, boom)

	after, err := s.GetCase(context.Background(), c.ApplicationID)
	require.NoError(t, err)
	require.Equal(t, c, after)
}

func TestReassignCompareAndSwap(t *testing.T) {
	s := memstore.New()
	c := newDraft(t, s, 100)
	move(t, s, c, c.Owner, workflow.StateSubmitted, catalog.PermSubmitApplication, 100)

	err := s.WithTx(context.Background(), func(ctx context.Context, tx routing.TxRepository) error {
		_, err := tx.Reassign(ctx, assignment.Reassignment{
			ApplicationID:   c.ApplicationID,
			ExpectedRole:    c.Owner.Role,
			ExpectedVersion: c.Version,
			NewOwner:        assignment.Owner{Role: catalog.RoleACP},
			NewState:        workflow.StateForwarded,
		})
		return err
	})
	require.ErrorIs(t, err, assignment.ErrStaleOwnership)

	err = s.WithTx(context.Background(), func(ctx context.Context, tx routing.TxRepository) error {
		_, err := tx.Reassign(ctx, assignment.Reassignment{ApplicationID: 999})
		return err
	})
	require.ErrorIs(t, err, assignment.ErrNotFound)
}

func TestAppendAssignsSequenceAndRejectsDuplicateKeys(t *testing.T) {
	s := memstore.New()
	c := newDraft(t, s, 100)

	first := move(t, s, c, c.Owner, workflow.StateSubmitted, catalog.PermSubmitApplication, 100)
	require.Equal(t, 1, first.Seq)
	c, _ = s.GetCase(context.Background(), c.ApplicationID)
	second := move(t, s, c, assignment.Owner{Role: catalog.RoleACP}, workflow.StateForwarded,
		workflow.ForwardAction(catalog.RoleACP).Code, 10)
	require.Equal(t, 2, second.Seq)
	require.True(t, second.IsForward())

	history, err := s.History(context.Background(), c.ApplicationID)
	require.NoError(t, err)
	require.Equal(t, []transitions.Record{first, second}, history)

	err = s.WithTx(context.Background(), func(ctx context.Context, tx routing.TxRepository) error {
		if _, err := tx.AppendTransition(ctx, transitions.Record{ApplicationID: c.ApplicationID, RequestKey: "k"}); err != nil {
			return err
		}
		_, err := tx.AppendTransition(ctx, transitions.Record{ApplicationID: c.ApplicationID, RequestKey: "k"})
		return err
	})
	require.ErrorIs(t, err, transitions.ErrDuplicateRequestKey)
	_, err = s.TransitionByRequestKey(context.Background(), "k")
	require.ErrorIs(t, err, transitions.ErrNotFound)
}

func TestLatestForwardIntoAndFlag(t *testing.T) {
	s := memstore.New()
	c := newDraft(t, s, 100)
	move(t, s, c, c.Owner, workflow.StateSubmitted, catalog.PermSubmitApplication, 100)
	c, _ = s.GetCase(context.Background(), c.ApplicationID)
	move(t, s, c, assignment.Owner{Role: catalog.RoleACP}, workflow.StateForwarded, workflow.ForwardAction(catalog.RoleACP).Code, 10)
	c, _ = s.GetCase(context.Background(), c.ApplicationID)
	move(t, s, c, c.Owner, workflow.StateRedFlagged, catalog.PermRedFlag, 20)

	err := s.WithTx(context.Background(), func(ctx context.Context, tx routing.TxRepository) error {
		fwd, err := tx.LatestForwardInto(ctx, c.ApplicationID, catalog.RoleACP)
		require.NoError(t, err)
		require.Equal(t, catalog.RoleZS, fwd.FromRole)
		require.Equal(t, int64(10), fwd.ActorUserID)

		_, err = tx.LatestForwardInto(ctx, c.ApplicationID, catalog.RoleDCP)
		require.ErrorIs(t, err, transitions.ErrNotFound)

		flag, err := tx.LatestFlag(ctx, c.ApplicationID)
		require.NoError(t, err)
		require.Equal(t, workflow.StateForwarded, flag.FromState)
		return nil
	})
	require.NoError(t, err)
}

func TestQueueMatching(t *testing.T) {
	s := memstore.New()
	clock := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	s.WithNow(func() time.Time { clock = clock.Add(time.Minute); return clock })
	ctx := context.Background()

	var ids []int64
	for i := 0; i < 3; i++ {
		c := newDraft(t, s, int64(100+i))
		move(t, s, c, c.Owner, workflow.StateSubmitted, catalog.PermSubmitApplication, int64(100+i))
		ids = append(ids, c.ApplicationID)
	}

	fresh := queues.Filter{Queue: queues.QueueFresh, Role: catalog.RoleZS, UserID: 10}
	n, err := s.CountQueue(ctx, fresh)
	require.NoError(t, err)
	require.Equal(t, 3, n)

	items, err := s.ListQueue(ctx, queues.Filter{Queue: queues.QueueFresh, Role: catalog.RoleZS, Limit: 2})
	require.NoError(t, err)
	require.Len(t, items, 2)
	require.Equal(t, ids[2], items[0].ApplicationID, "most recently updated first")
	require.Equal(t, "Ravi Kumar", items[0].ApplicantName)

	items, err = s.ListQueue(ctx, queues.Filter{Queue: queues.QueueFresh, Role: catalog.RoleZS, Offset: 5})
	require.NoError(t, err)
	require.Empty(t, items)

	c, _ := s.GetCase(ctx, ids[0])
	move(t, s, c, assignment.Owner{Role: catalog.RoleACP}, workflow.StateForwarded, workflow.ForwardAction(catalog.RoleACP).Code, 10)

	n, _ = s.CountQueue(ctx, fresh)
	require.Equal(t, 2, n)
	n, _ = s.CountQueue(ctx, queues.Filter{Queue: queues.QueueSent, Role: catalog.RoleZS, UserID: 10})
	require.Equal(t, 1, n)
	n, _ = s.CountQueue(ctx, queues.Filter{Queue: queues.QueueSent, Role: catalog.RoleZS, UserID: 11})
	require.Zero(t, n, "sent is scoped to the acting officer")
	n, _ = s.CountQueue(ctx, queues.Filter{Queue: queues.QueueForwarded, Role: catalog.RoleACP})
	require.Equal(t, 1, n)

	_, err = s.CountQueue(ctx, queues.Filter{Queue: "BOGUS", Role: catalog.RoleZS})
	require.ErrorIs(t, err, queues.ErrUnknownQueue)
}

func TestApplySeedIsIdempotent(t *testing.T) {
	f, err := seed.Default()
	require.NoError(t, err)
	s := memstore.New()
	require.NoError(t, s.ApplySeed(f))
	require.NoError(t, s.ApplySeed(f))

	zs, err := s.ListByRole(context.Background(), "zs")
	require.NoError(t, err)
	require.Len(t, zs, 1)

	u, err := s.FindByEmail(context.Background(), " ZS@armslicense.local ")
	require.NoError(t, err)
	require.Equal(t, catalog.RoleZS, u.RoleCode)
	require.NotEqual(t, "officer12345", u.PasswordHash)
}
