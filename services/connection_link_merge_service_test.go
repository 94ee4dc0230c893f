package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.pilab.hu/linksync/domain"
)

func TestConnectionLinkMerge_EarliestWinsWithServiceUnion(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.seedAgency(t, "A", "u1", at(0))
	env.seedAgency(t, "B", "u1", at(1))

	env.seedLink(t, &domain.ConnectionLink{
		ID: "L1", AgencyID: "A", Type: domain.AccessTypeView, IsDefault: true, CreatedAt: at(1),
		Google: &domain.GoogleServices{
			GoogleAds: &domain.GoogleAdsService{IsEnabled: false, Method: domain.AdsMethodEmail, Email: "x@example.com"},
		},
	})
	env.seedLink(t, &domain.ConnectionLink{
		ID: "L2", AgencyID: "B", Type: domain.AccessTypeView, IsDefault: true, CreatedAt: at(2),
		Google: &domain.GoogleServices{
			GoogleAds:       &domain.GoogleAdsService{IsEnabled: true, Email: "y@example.com"},
			GoogleAnalytics: &domain.GoogleService{IsEnabled: true, Email: "y@example.com"},
		},
	})

	res, err := env.linkMerge.Merge(ctx, []string{"A", "B"}, "B")
	require.NoError(t, err)
	require.NotNil(t, res)
	require.NotNil(t, res.View)
	assert.Nil(t, res.Manage)
	assert.Equal(t, "L1", res.View.MergedLinkID)
	assert.Equal(t, []string{"L2"}, res.View.DeletedLinkIDs)

	defaults := env.defaultsOf(t, "B", domain.AccessTypeView)
	require.Len(t, defaults, 1)
	merged := defaults[0]
	assert.Equal(t, "L1", merged.ID)
	assert.True(t, merged.Google.GoogleAds.IsEnabled)
	assert.Equal(t, "x@example.com", merged.Google.GoogleAds.Email)
	require.NotNil(t, merged.Google.GoogleAnalytics)
	assert.True(t, merged.Google.GoogleAnalytics.IsEnabled)
	assert.Equal(t, "y@example.com", merged.Google.GoogleAnalytics.Email)

	_, err = env.links.GetConnectionLink(ctx, "L2")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	agency, err := env.agencies.GetAgency(ctx, "B")
	require.NoError(t, err)
	require.NotNil(t, agency.DefaultAccessLink)
	assert.Equal(t, "L1", agency.DefaultAccessLink.View.LinkID)
}

func TestConnectionLinkMerge_SingleDefaultIsRepointed(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.seedLink(t, &domain.ConnectionLink{ID: "L1", AgencyID: "A", Type: domain.AccessTypeManage, IsDefault: true})

	res, err := env.linkMerge.Merge(ctx, []string{"A", "B"}, "B")
	require.NoError(t, err)
	assert.Nil(t, res)

	link, err := env.links.GetConnectionLink(ctx, "L1")
	require.NoError(t, err)
	assert.Equal(t, "B", link.AgencyID)
	assert.True(t, link.IsDefault)
}

func TestConnectionLinkMerge_TransfersNonDefaultLinks(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.seedLink(t, &domain.ConnectionLink{ID: "V", AgencyID: "A", Type: domain.AccessTypeView, IsDefault: true, CreatedAt: at(1)})
	env.seedLink(t, &domain.ConnectionLink{ID: "X", AgencyID: "A", Type: domain.AccessTypeView, CreatedAt: at(2)})
	env.seedLink(t, &domain.ConnectionLink{ID: "Y", AgencyID: "A", Type: domain.AccessTypeManage, CreatedAt: at(3)})
	env.seedLink(t, &domain.ConnectionLink{ID: "Z", AgencyID: "B", Type: domain.AccessTypeManage, CreatedAt: at(4)})

	res, err := env.linkMerge.Merge(ctx, []string{"A", "B"}, "B")
	require.NoError(t, err)
	assert.Nil(t, res)

	for _, id := range []string{"V", "X", "Y", "Z"} {
		link, err := env.links.GetConnectionLink(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, "B", link.AgencyID, id)
	}
	assert.Len(t, env.defaultsOf(t, "B", domain.AccessTypeView), 1)
}

func TestConnectionLinkMerge_ReportsTransferredLinksWhenMerged(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.seedLink(t, &domain.ConnectionLink{ID: "M1", AgencyID: "A", Type: domain.AccessTypeManage, IsDefault: true, CreatedAt: at(1)})
	env.seedLink(t, &domain.ConnectionLink{ID: "M2", AgencyID: "B", Type: domain.AccessTypeManage, IsDefault: true, CreatedAt: at(2)})
	env.seedLink(t, &domain.ConnectionLink{ID: "C", AgencyID: "A", Type: domain.AccessTypeView, CreatedAt: at(3)})

	res, err := env.linkMerge.Merge(ctx, []string{"A", "B"}, "B")
	require.NoError(t, err)
	require.NotNil(t, res)
	require.NotNil(t, res.Manage)
	assert.Equal(t, "M1", res.Manage.MergedLinkID)
	assert.Equal(t, int64(1), res.TransferredLinks)
}

func TestConnectionLinkMerge_IsIdempotent(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.seedLink(t, &domain.ConnectionLink{ID: "L1", AgencyID: "A", Type: domain.AccessTypeView, IsDefault: true, CreatedAt: at(1)})
	env.seedLink(t, &domain.ConnectionLink{ID: "L2", AgencyID: "B", Type: domain.AccessTypeView, IsDefault: true, CreatedAt: at(2)})

	_, err := env.linkMerge.Merge(ctx, []string{"A", "B"}, "B")
	require.NoError(t, err)
	res, err := env.linkMerge.Merge(ctx, []string{"A", "B"}, "B")
	require.NoError(t, err)
	assert.Nil(t, res)
	assert.Len(t, env.defaultsOf(t, "B", domain.AccessTypeView), 1)
}

func TestConnectionLinkMerge_ToleratesUnknownAgencies(t *testing.T) {
	env := newTestEnv(t)
	res, err := env.linkMerge.Merge(context.Background(), []string{"ghost-1", "ghost-2"}, "ghost-2")
	require.NoError(t, err)
	assert.Nil(t, res)
}

func TestConnectionLinkMerge_RequiresTarget(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.linkMerge.Merge(context.Background(), []string{"A"}, "")
	assert.ErrorIs(t, err, domain.ErrInvariantViolation)
}

func TestUnionFacebookServices(t *testing.T) {
	a := &domain.FacebookServices{FacebookAds: &domain.FacebookService{IsEnabled: false}}
	b := &domain.FacebookServices{
		FacebookAds:   &domain.FacebookService{IsEnabled: true, BusinessPortfolioID: "bp-b"},
		FacebookPixel: &domain.FacebookService{IsEnabled: true, BusinessPortfolioID: "bp-b"},
	}

	got := UnionFacebookServices(a, b)
	assert.True(t, got.FacebookAds.IsEnabled)
	assert.Equal(t, "bp-b", got.FacebookAds.BusinessPortfolioID)
	assert.Equal(t, "bp-b", got.FacebookPixel.BusinessPortfolioID)
	assert.Nil(t, got.FacebookPages)

	got.FacebookPixel.IsEnabled = false
	assert.True(t, b.FacebookPixel.IsEnabled)

	assert.Nil(t, UnionFacebookServices(nil, nil))
}

func TestConnectionLinkMerge_ThreeWayUnionAccumulates(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.seedLink(t, &domain.ConnectionLink{
		ID: "L1", AgencyID: "A", Type: domain.AccessTypeView, IsDefault: true, CreatedAt: at(1),
		Google: &domain.GoogleServices{
			GoogleAds: &domain.GoogleAdsService{IsEnabled: true, Method: domain.AdsMethodEmail, Email: "a@example.com"},
		},
	})
	env.seedLink(t, &domain.ConnectionLink{
		ID: "L2", AgencyID: "B", Type: domain.AccessTypeView, IsDefault: true, CreatedAt: at(2),
		Google: &domain.GoogleServices{
			GoogleAnalytics:  &domain.GoogleService{IsEnabled: true, Email: "b@example.com"},
			GoogleTagManager: &domain.GoogleService{IsEnabled: false, Email: "b@example.com"},
		},
	})
	env.seedLink(t, &domain.ConnectionLink{
		ID: "L3", AgencyID: "C", Type: domain.AccessTypeView, IsDefault: true, CreatedAt: at(3),
		Google: &domain.GoogleServices{
			GoogleTagManager: &domain.GoogleService{IsEnabled: true, Email: "c@example.com"},
		},
		Facebook: &domain.FacebookServices{
			FacebookPages: &domain.FacebookService{IsEnabled: true, BusinessPortfolioID: "bp-3"},
		},
	})

	res, err := env.linkMerge.Merge(ctx, []string{"A", "B", "C"}, "C")
	require.NoError(t, err)
	require.NotNil(t, res)
	require.NotNil(t, res.View)
	assert.Equal(t, "L1", res.View.MergedLinkID)
	assert.ElementsMatch(t, []string{"L2", "L3"}, res.View.DeletedLinkIDs)

	defaults := env.defaultsOf(t, "C", domain.AccessTypeView)
	require.Len(t, defaults, 1)
	merged := defaults[0]
	assert.Equal(t, "L1", merged.ID)
	require.NotNil(t, merged.Google)
	assert.Equal(t, "a@example.com", merged.Google.GoogleAds.Email)

	require.NotNil(t, merged.Google.GoogleAnalytics, "service only on the middle link must survive")
	assert.True(t, merged.Google.GoogleAnalytics.IsEnabled)
	assert.Equal(t, "b@example.com", merged.Google.GoogleAnalytics.Email)

	require.NotNil(t, merged.Google.GoogleTagManager)
	assert.True(t, merged.Google.GoogleTagManager.IsEnabled)
	assert.Equal(t, "b@example.com", merged.Google.GoogleTagManager.Email)

	require.NotNil(t, merged.Facebook)
	require.NotNil(t, merged.Facebook.FacebookPages)
	assert.Equal(t, "bp-3", merged.Facebook.FacebookPages.BusinessPortfolioID)

	for _, agencyID := range []string{"A", "B"} {
		assert.Empty(t, env.defaultsOf(t, agencyID, domain.AccessTypeView))
	}
}
