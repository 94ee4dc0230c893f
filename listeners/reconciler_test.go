package listeners

import (
	"context"
	"errors"
	"io"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.pilab.hu/linksync/domain"
	"go.pilab.hu/linksync/eventbus"
	"go.pilab.hu/linksync/internal/audit"
	"go.pilab.hu/linksync/log"
	"go.pilab.hu/linksync/memory"
	"go.pilab.hu/linksync/services"
)

func TestMain(m *testing.M) {
	audit.SetOutput(io.Discard)
	os.Exit(m.Run())
}

type fixture struct {
	store    *memory.Store
	bus      *eventbus.InProcessBus
	agencies *services.AgencyService
	links    *services.ConnectionLinkService
	rec      *Reconciler
}

func newFixture(t *testing.T, users domain.UserDirectory) *fixture {
	t.Helper()
	store := memory.NewStore()
	if users == nil {
		users = store
	}
	bus := eventbus.NewInProcessBus(log.Nop())
	agencies := services.NewAgencyService(store, bus, log.Nop())
	links := services.NewConnectionLinkService(store, store, log.Nop(), 0)
	linkMerge := services.NewConnectionLinkMergeService(store, store, links, log.Nop())
	agencyMerge := services.NewAgencyMergeService(store, store, store, linkMerge, bus, log.Nop())

	rec := NewReconciler(Config{
		Agencies:    agencies,
		Links:       links,
		LinkMerge:   linkMerge,
		AgencyMerge: agencyMerge,
		Users:       users,
		Bus:         bus,
		Logger:      log.Nop(),
	})
	rec.Register()
	t.Cleanup(rec.Close)

	return &fixture{store: store, bus: bus, agencies: agencies, links: links, rec: rec}
}

func (f *fixture) defaults(t *testing.T, agencyID string, accessType domain.AccessType) []*domain.ConnectionLink {
	t.Helper()
	isDefault := true
	links, err := f.store.ListConnectionLinks(context.Background(), domain.ConnectionLinkFilter{
		AgencyIDs: []string{agencyID}, Type: accessType, IsDefault: &isDefault,
	})
	require.NoError(t, err)
	return links
}

func googleUser(id string) *domain.User {
	return &domain.User{
		ID:    id,
		Email: id + "@example.com",
		Google: &domain.GoogleIdentity{
			UserID: "g-" + id,
			Email:  id + "@gmail.com",
			Scopes: domain.GoogleScopes{Ads: true, Analytics: true},
		},
	}
}

func TestReconciler_AccountsDataUpdatedCreatesAgencyAndLinks(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	f.store.PutUser(googleUser("u1"))

	var mu sync.Mutex
	var checked []eventbus.EmittedEvent
	f.bus.Subscribe(eventbus.AgencyCheckedAfterGoogleAccountDataUpdated, "recorder", func(_ context.Context, ev eventbus.EmittedEvent) error {
		mu.Lock()
		defer mu.Unlock()
		checked = append(checked, ev)
		return nil
	})

	err := f.bus.EmitAsync(ctx, eventbus.UserGoogleAccountsDataUpdated, eventbus.UserPayload{UserID: "u1"}, "oauth", "corr-42")
	require.NoError(t, err)

	agency, err := f.agencies.FindAgency(ctx, domain.AgencyFilter{UserID: "u1"})
	require.NoError(t, err)
	assert.Equal(t, "u1@example.com", agency.Email)

	for _, typ := range domain.AccessTypes {
		defaults := f.defaults(t, agency.ID, typ)
		require.Len(t, defaults, 1, typ)
		require.NotNil(t, defaults[0].Google, typ)
		assert.True(t, defaults[0].Google.GoogleAds.IsEnabled)
		assert.Nil(t, defaults[0].Facebook)
	}

	require.Len(t, checked, 1)
	assert.Equal(t, "corr-42", checked[0].CorrelationID)
	p, err := eventbus.DecodePayload[eventbus.AgencyCheckedPayload](checked[0])
	require.NoError(t, err)
	assert.Equal(t, agency.ID, p.AgencyID)
	assert.True(t, p.AgencyCreated)
}

func TestReconciler_AccountsDataUpdatedIsIdempotent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	f.store.PutUser(googleUser("u1"))

	for i := 0; i < 2; i++ {
		require.NoError(t, f.bus.EmitAsync(ctx, eventbus.UserGoogleAccountsDataUpdated, eventbus.UserPayload{UserID: "u1"}, "oauth", ""))
	}

	agencies, err := f.agencies.FindAgencies(ctx, domain.AgencyFilter{UserID: "u1"})
	require.NoError(t, err)
	require.Len(t, agencies, 1)
	for _, typ := range domain.AccessTypes {
		assert.Len(t, f.defaults(t, agencies[0].ID, typ), 1)
	}
}

func TestReconciler_CheckCompletedSkipsOnlyForNewAgencies(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	user := googleUser("u1")
	f.store.PutUser(user)
	require.NoError(t, f.bus.EmitAsync(ctx, eventbus.UserGoogleAccountsDataUpdated, eventbus.UserPayload{UserID: "u1"}, "oauth", ""))
	agency, err := f.agencies.FindAgency(ctx, domain.AgencyFilter{UserID: "u1"})
	require.NoError(t, err)

	link := f.defaults(t, agency.ID, domain.AccessTypeView)[0]
	edited := link.Google.Clone()
	edited.GoogleAds.Email = "hand-edited@example.com"
	_, err = f.links.UpdateConnectionLink(ctx, link.ID, domain.ConnectionLinkPatch{Google: edited})
	require.NoError(t, err)

	first := eventbus.AgencyCheckedPayload{AgencyID: agency.ID, UserID: "u1", AgencyCreated: true}
	require.NoError(t, f.bus.EmitAsync(ctx, eventbus.AgencyCheckedAfterGoogleAccountDataUpdated, first, "test", ""))
	got := f.defaults(t, agency.ID, domain.AccessTypeView)[0]
	assert.Equal(t, edited, got.Google)

	refresh := eventbus.AgencyCheckedPayload{AgencyID: agency.ID, UserID: "u1"}
	require.NoError(t, f.bus.EmitAsync(ctx, eventbus.AgencyCheckedAfterGoogleAccountDataUpdated, refresh, "test", ""))
	got = f.defaults(t, agency.ID, domain.AccessTypeView)[0]
	assert.Equal(t, "u1@gmail.com", got.Google.GoogleAds.Email)
}

func TestReconciler_ConnectedRefreshesFromCurrentScopes(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	user := googleUser("u1")
	f.store.PutUser(user)
	require.NoError(t, f.bus.EmitAsync(ctx, eventbus.UserGoogleAccountsDataUpdated, eventbus.UserPayload{UserID: "u1"}, "oauth", ""))
	agency, err := f.agencies.FindAgency(ctx, domain.AgencyFilter{UserID: "u1"})
	require.NoError(t, err)

	user.Google.Scopes.TagManager = true
	user.Google.AdsManagerCustomerID = "123-456-7890"
	f.store.PutUser(user)
	f.bus.Emit(ctx, eventbus.GoogleConnectedInternal, eventbus.UserPayload{UserID: "u1"}, "oauth", "")

	view := f.defaults(t, agency.ID, domain.AccessTypeView)[0]
	assert.True(t, view.Google.GoogleTagManager.IsEnabled)
	assert.Equal(t, domain.AdsMethodEmail, view.Google.GoogleAds.Method)
	manage := f.defaults(t, agency.ID, domain.AccessTypeManage)[0]
	assert.Equal(t, domain.AdsMethodManagerAccount, manage.Google.GoogleAds.Method)
}

func TestReconciler_DisconnectClearsEveryReferencingLink(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	require.NoError(t, f.store.CreateAgency(ctx, &domain.Agency{ID: "a1", UserID: "u1"}))
	require.NoError(t, f.store.CreateAgency(ctx, &domain.Agency{ID: "a2", UserID: "u2"}))

	fb := &domain.FacebookServices{FacebookPages: &domain.FacebookService{IsEnabled: true, BusinessPortfolioID: "bp"}}
	google := &domain.GoogleServices{GoogleAnalytics: &domain.GoogleService{IsEnabled: true, Email: "x@gmail.com"}}
	for _, l := range []*domain.ConnectionLink{
		{ID: "d", AgencyID: "a1", Type: domain.AccessTypeView, IsDefault: true, Facebook: fb, Google: google},
		{ID: "c1", AgencyID: "a1", Type: domain.AccessTypeView, Facebook: fb},
		{ID: "c2", AgencyID: "a1", Type: domain.AccessTypeManage, Facebook: fb},
		{ID: "x", AgencyID: "a2", Type: domain.AccessTypeView, Facebook: fb},
	} {
		require.NoError(t, f.store.CreateConnectionLink(ctx, l))
	}

	f.bus.Emit(ctx, eventbus.FacebookDisconnectedInternal, eventbus.UserPayload{UserID: "u1"}, "oauth", "")

	for _, id := range []string{"d", "c1", "c2"} {
		l, err := f.store.GetConnectionLinkByID(ctx, id)
		require.NoError(t, err)
		assert.Nil(t, l.Facebook, id)
	}
	d, err := f.store.GetConnectionLinkByID(ctx, "d")
	require.NoError(t, err)
	assert.NotNil(t, d.Google)
	x, err := f.store.GetConnectionLinkByID(ctx, "x")
	require.NoError(t, err)
	assert.NotNil(t, x.Facebook)
}

func TestReconciler_LoginMergesDuplicateAgencies(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	t1 := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, f.store.CreateAgency(ctx, &domain.Agency{ID: "A1", UserID: "U", Email: "e1@example.com", CreatedAt: t1}))
	require.NoError(t, f.store.CreateAgency(ctx, &domain.Agency{ID: "A2", UserID: "U", Email: "e2@example.com", CreatedAt: t1.Add(time.Hour)}))
	require.NoError(t, f.store.CreateConnectionLink(ctx, &domain.ConnectionLink{
		ID: "L1", AgencyID: "A1", Type: domain.AccessTypeManage, IsDefault: true, CreatedAt: t1,
		Google: &domain.GoogleServices{GoogleAnalytics: &domain.GoogleService{IsEnabled: true}},
	}))
	require.NoError(t, f.store.CreateConnectionLink(ctx, &domain.ConnectionLink{
		ID: "L2", AgencyID: "A2", Type: domain.AccessTypeManage, IsDefault: true, CreatedAt: t1.Add(time.Hour),
		Facebook: &domain.FacebookServices{FacebookPages: &domain.FacebookService{IsEnabled: true}},
	}))
	require.NoError(t, f.store.CreateConnectionLink(ctx, &domain.ConnectionLink{
		ID: "C1", AgencyID: "A1", Name: "custom", Type: domain.AccessTypeView, CreatedAt: t1,
	}))

	f.bus.Emit(ctx, eventbus.AuthLoginGoogle, eventbus.UserPayload{UserID: "U"}, "oauth", "")

	agencies, err := f.agencies.FindAgencies(ctx, domain.AgencyFilter{UserID: "U"})
	require.NoError(t, err)
	require.Len(t, agencies, 1)
	assert.Equal(t, "A2", agencies[0].ID)
	assert.Equal(t, "e2@example.com", agencies[0].Email)

	defaults := f.defaults(t, "A2", domain.AccessTypeManage)
	require.Len(t, defaults, 1)
	assert.True(t, defaults[0].Google.GoogleAnalytics.IsEnabled)
	assert.True(t, defaults[0].Facebook.FacebookPages.IsEnabled)

	left, err := f.store.ListConnectionLinks(ctx, domain.ConnectionLinkFilter{AgencyIDs: []string{"A1"}})
	require.NoError(t, err)
	assert.Empty(t, left)

	custom, err := f.store.GetConnectionLinkByID(ctx, "C1")
	require.NoError(t, err)
	assert.Equal(t, "A2", custom.AgencyID)
	assert.False(t, custom.IsDefault)
	assert.Equal(t, "custom", custom.Name)
}

func TestReconciler_AgenciesMergedPropagatesErrors(t *testing.T) {
	f := newFixture(t, nil)
	err := f.bus.EmitAsync(context.Background(), eventbus.AgenciesMerged, eventbus.AgenciesMergedPayload{AgencyIDs: []string{"a1"}}, "test", "")
	assert.ErrorIs(t, err, domain.ErrInvariantViolation)
}

func TestReconciler_SwallowsHandlerErrors(t *testing.T) {
	err := newFixture(t, nil).bus.EmitAsync(context.Background(), eventbus.GoogleDisconnectedInternal, "not a payload", "test", "")
	assert.NoError(t, err)
}

type mockUserDirectory struct {
	mock.Mock
}

func (m *mockUserDirectory) FindUser(ctx context.Context, id string) (*domain.User, error) {
	args := m.Called(ctx, id)
	user, _ := args.Get(0).(*domain.User)
	return user, args.Error(1)
}

func TestReconciler_UserDirectoryFailureLeavesLinksAlone(t *testing.T) {
	ctx := context.Background()
	users := &mockUserDirectory{}
	users.On("FindUser", mock.Anything, "u1").Return(nil, errors.New("identity service down"))
	f := newFixture(t, users)

	require.NoError(t, f.store.CreateAgency(ctx, &domain.Agency{ID: "a1", UserID: "u1"}))
	require.NoError(t, f.bus.EmitAsync(ctx, eventbus.FacebookConnectedInternal, eventbus.UserPayload{UserID: "u1"}, "oauth", ""))

	assert.Empty(t, f.defaults(t, "a1", domain.AccessTypeView))
	users.AssertCalled(t, "FindUser", mock.Anything, "u1")
}

func TestReconciler_CloseUnsubscribes(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	f.store.PutUser(googleUser("u1"))
	f.rec.Close()

	assert.False(t, f.bus.Emit(ctx, eventbus.UserGoogleAccountsDataUpdated, eventbus.UserPayload{UserID: "u1"}, "oauth", ""))
	_, err := f.agencies.FindAgency(ctx, domain.AgencyFilter{UserID: "u1"})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
