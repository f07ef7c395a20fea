package queues_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/armslicense/armslicense/internal/applications"
	"github.com/armslicense/armslicense/internal/catalog"
	"github.com/armslicense/armslicense/internal/memstore"
	"github.com/armslicense/armslicense/internal/queues"
	"github.com/armslicense/armslicense/internal/reference"
	"github.com/armslicense/armslicense/internal/routing"
	"github.com/armslicense/armslicense/internal/seed"
)

const (
	applicantID = int64(100)
	zsUser      = int64(10)
	acpUser     = int64(20)
)

type fixture struct {
	store    *memstore.Store
	engine   *routing.Engine
	registry *reference.Registry
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f, err := seed.Default()
	require.NoError(t, err)
	snap, err := reference.Compile(f.Data(), catalog.RoleAdmin)
	require.NoError(t, err)
	registry := reference.NewStaticRegistry(snap)
	store := memstore.New()
	return &fixture{
		store:    store,
		engine:   routing.NewEngine(store, registry, routing.Config{}, nil),
		registry: registry,
	}
}

func (fx *fixture) submit(t *testing.T, name string) int64 {
	t.Helper()
	app, err := fx.store.CreateApplication(context.Background(), applications.NewApplication{
		ApplicantID: applicantID,
		OwnerRole:   catalog.RoleZS,
		Details:     applications.PersonalDetails{FullName: name},
	})
	require.NoError(t, err)
	fx.route(t, app.ID, catalog.RoleApplicant, applicantID, catalog.PermSubmitApplication)
	return app.ID
}

func (fx *fixture) route(t *testing.T, id int64, role string, user int64, action string) {
	t.Helper()
	_, err := fx.engine.Route(context.Background(), routing.Request{
		ApplicationID: id,
		ActorRole:     role,
		ActorUserID:   user,
		Action:        action,
	})
	require.NoError(t, err)
}

func ids(items []queues.Item) []int64 {
	out := make([]int64, 0, len(items))
	for _, it := range items {
		out = append(out, it.ApplicationID)
	}
	return out
}

func TestQueuesFollowRouting(t *testing.T) {
	fx := newFixture(t)
	resolver := queues.NewResolver(fx.store, fx.registry, nil, nil)
	ctx := context.Background()

	fresh := fx.submit(t, "Fresh Applicant")
	forwarded := fx.submit(t, "Forwarded Applicant")
	fx.route(t, forwarded, catalog.RoleZS, zsUser, catalog.ForwardPermission(catalog.RoleACP))
	returned := fx.submit(t, "Returned Applicant")
	fx.route(t, returned, catalog.RoleZS, zsUser, catalog.ForwardPermission(catalog.RoleACP))
	fx.route(t, returned, catalog.RoleACP, acpUser, catalog.PermReturnApplication)

	zs := queues.Viewer{Role: catalog.RoleZS, UserID: zsUser}
	acp := queues.Viewer{Role: catalog.RoleACP, UserID: acpUser}

	items, err := resolver.List(ctx, zs, queues.QueueFresh, queues.Page{})
	require.NoError(t, err)
	require.Equal(t, []int64{fresh}, ids(items))
	require.Equal(t, "Fresh Applicant", items[0].ApplicantName)

	items, err = resolver.List(ctx, acp, queues.QueueForwarded, queues.Page{})
	require.NoError(t, err)
	require.Equal(t, []int64{forwarded}, ids(items))

	items, err = resolver.List(ctx, zs, queues.QueueReturned, queues.Page{})
	require.NoError(t, err)
	require.Equal(t, []int64{returned}, ids(items))

	items, err = resolver.List(ctx, queues.Viewer{Role: catalog.RoleZS, UserID: zsUser + 1}, queues.QueueReturned, queues.Page{})
	require.NoError(t, err)
	require.Empty(t, items, "returned case is narrowed to the forwarding officer")

	items, err = resolver.List(ctx, zs, queues.QueueSent, queues.Page{})
	require.NoError(t, err)
	require.Equal(t, []int64{forwarded}, ids(items))

	fx.route(t, forwarded, catalog.RoleCompliance, 40, catalog.PermRedFlag)
	items, err = resolver.List(ctx, acp, queues.QueueRedFlagged, queues.Page{})
	require.NoError(t, err)
	require.Equal(t, []int64{forwarded}, ids(items))
	items, err = resolver.List(ctx, acp, queues.QueueForwarded, queues.Page{})
	require.NoError(t, err)
	require.Empty(t, items)
}

func TestSentTracksOnlyLatestHandoff(t *testing.T) {
	fx := newFixture(t)
	resolver := queues.NewResolver(fx.store, fx.registry, nil, nil)
	ctx := context.Background()
	zs := queues.Viewer{Role: catalog.RoleZS, UserID: zsUser}
	acp := queues.Viewer{Role: catalog.RoleACP, UserID: acpUser}

	id := fx.submit(t, "Onward Applicant")
	fx.route(t, id, catalog.RoleZS, zsUser, catalog.ForwardPermission(catalog.RoleACP))
	items, err := resolver.List(ctx, zs, queues.QueueSent, queues.Page{})
	require.NoError(t, err)
	require.Equal(t, []int64{id}, ids(items))

	fx.route(t, id, catalog.RoleACP, acpUser, catalog.ForwardPermission(catalog.RoleDCP))
	items, err = resolver.List(ctx, zs, queues.QueueSent, queues.Page{})
	require.NoError(t, err)
	require.Empty(t, items, "an onward forward supersedes the earlier handoff")

	items, err = resolver.List(ctx, acp, queues.QueueSent, queues.Page{})
	require.NoError(t, err)
	require.Equal(t, []int64{id}, ids(items))
}

func TestReturnAfterAdminForwardReachesWholeRole(t *testing.T) {
	fx := newFixture(t)
	resolver := queues.NewResolver(fx.store, fx.registry, nil, nil)
	id := fx.submit(t, "Admin Routed")
	fx.route(t, id, catalog.RoleAdmin, 1, catalog.ForwardPermission(catalog.RoleACP))
	fx.route(t, id, catalog.RoleACP, acpUser, catalog.PermReturnApplication)

	for _, user := range []int64{zsUser, zsUser + 1} {
		items, err := resolver.List(context.Background(), queues.Viewer{Role: catalog.RoleZS, UserID: user}, queues.QueueReturned, queues.Page{})
		require.NoError(t, err)
		require.Equal(t, []int64{id}, ids(items))
	}
}

func TestMissingViewPermissionYieldsEmptyQueue(t *testing.T) {
	fx := newFixture(t)
	resolver := queues.NewResolver(fx.store, fx.registry, nil, nil)
	fx.submit(t, "Someone")

	items, err := resolver.List(context.Background(), queues.Viewer{Role: catalog.RoleApplicant, UserID: applicantID}, queues.QueueFresh, queues.Page{})
	require.NoError(t, err)
	require.NotNil(t, items)
	require.Empty(t, items)

	_, err = resolver.List(context.Background(), queues.Viewer{Role: catalog.RoleZS}, queues.Queue("ARCHIVE"), queues.Page{})
	require.ErrorIs(t, err, queues.ErrUnknownQueue)
}

func TestCounts(t *testing.T) {
	fx := newFixture(t)
	resolver := queues.NewResolver(fx.store, fx.registry, nil, nil)
	fx.submit(t, "One")
	second := fx.submit(t, "Two")
	fx.route(t, second, catalog.RoleZS, zsUser, catalog.ForwardPermission(catalog.RoleSHO))

	counts, err := resolver.Counts(context.Background(), queues.Viewer{Role: catalog.RoleZS, UserID: zsUser})
	require.NoError(t, err)
	require.Equal(t, 1, counts[queues.QueueFresh])
	require.Equal(t, 1, counts[queues.QueueSent])
	require.Equal(t, 0, counts[queues.QueueForwarded])
	require.Equal(t, 0, counts[queues.QueueDisposed], "ZS lacks VIEW_DISPOSED")
	require.Len(t, counts, len(queues.All()))
}

func TestPaging(t *testing.T) {
	fx := newFixture(t)
	resolver := queues.NewResolver(fx.store, fx.registry, nil, nil)
	for i := 0; i < 5; i++ {
		fx.submit(t, "Applicant")
	}
	viewer := queues.Viewer{Role: catalog.RoleZS, UserID: zsUser}

	page, err := resolver.List(context.Background(), viewer, queues.QueueFresh, queues.Page{Limit: 2, Offset: 4})
	require.NoError(t, err)
	require.Len(t, page, 1)

	all, err := resolver.List(context.Background(), viewer, queues.QueueFresh, queues.Page{Limit: 1000})
	require.NoError(t, err)
	require.Len(t, all, 5)
}

func TestCachedListsInvalidatedAfterRoute(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	fx := newFixture(t)
	resolver := queues.NewResolver(fx.store, fx.registry, queues.NewCache(client, time.Minute), nil)
	viewer := queues.Viewer{Role: catalog.RoleZS, UserID: zsUser}
	ctx := context.Background()

	fx.submit(t, "First")
	items, err := resolver.List(ctx, viewer, queues.QueueFresh, queues.Page{})
	require.NoError(t, err)
	require.Len(t, items, 1)

	fx.submit(t, "Second")
	items, err = resolver.List(ctx, viewer, queues.QueueFresh, queues.Page{})
	require.NoError(t, err)
	require.Len(t, items, 1, "served from cache until invalidated")

	fx.engine.SetInvalidator(resolver)
	fx.submit(t, "Third")

	items, err = resolver.List(ctx, viewer, queues.QueueFresh, queues.Page{})
	require.NoError(t, err)
	require.Len(t, items, 3)

	ver, err := client.Get(ctx, "queues:version").Int64()
	require.NoError(t, err)
	require.Equal(t, int64(2), ver)
}

func TestCachedListReadAfterRouteIsFresh(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	fx := newFixture(t)
	resolver := queues.NewResolver(fx.store, fx.registry, queues.NewCache(client, time.Minute), nil)
	fx.engine.SetInvalidator(resolver)
	viewer := queues.Viewer{Role: catalog.RoleZS, UserID: zsUser}
	ctx := context.Background()

	for i := 0; i < 20; i++ {
		id := fx.submit(t, "Applicant")
		items, err := resolver.List(ctx, viewer, queues.QueueFresh, queues.Page{})
		require.NoError(t, err)
		require.Contains(t, ids(items), id)

		fx.route(t, id, catalog.RoleZS, zsUser, catalog.ForwardPermission(catalog.RoleACP))
		items, err = resolver.List(ctx, viewer, queues.QueueFresh, queues.Page{})
		require.NoError(t, err)
		require.NotContains(t, ids(items), id, "iteration %d", i)
	}
}
