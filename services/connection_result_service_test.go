package services

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.pilab.hu/linksync/domain"
)

func seedResults(t *testing.T, env *testEnv, agencyID string, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		require.NoError(t, env.results.CreateConnectionResult(context.Background(), &domain.ConnectionResult{
			ID:               fmt.Sprintf("%s-r%02d", agencyID, i),
			AgencyID:         agencyID,
			ConnectionLinkID: "l1",
			AccessType:       domain.AccessTypeView,
			CreatedAt:        at(i),
			GrantedAccesses: map[string][]domain.GrantedAccess{
				"google": {{Service: "google_ads", ResourceID: "123", Status: domain.GrantStatusGranted}},
			},
		}))
	}
}

func TestConnectionResultService_ListPaginates(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	seedResults(t, env, "a1", 25)
	seedResults(t, env, "a2", 3)

	items, total, err := env.results.ListConnectionResults(ctx, domain.ConnectionResultFilter{AgencyID: "a1"}, domain.ListOptions{Page: 2, PageSize: 10})
	require.NoError(t, err)
	assert.Equal(t, int64(25), total)
	require.Len(t, items, 10)
	assert.Equal(t, "a1-r10", items[0].ID)

	items, _, err = env.results.ListConnectionResults(ctx, domain.ConnectionResultFilter{AgencyID: "a1"}, domain.ListOptions{SortDesc: true})
	require.NoError(t, err)
	require.Len(t, items, 20)
	assert.Equal(t, "a1-r24", items[0].ID)
}

func TestConnectionResultService_CreateRequiresAgency(t *testing.T) {
	env := newTestEnv(t)
	err := env.results.CreateConnectionResult(context.Background(), &domain.ConnectionResult{ConnectionLinkID: "l1"})
	assert.ErrorIs(t, err, domain.ErrInvariantViolation)
}

func TestConnectionResultService_Transfer(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	seedResults(t, env, "a1", 2)
	seedResults(t, env, "a2", 3)

	n, err := env.results.TransferConnectionResultsToAgency(ctx, []string{"a1", "a2"}, "a2")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	_, total, err := env.results.ListConnectionResults(ctx, domain.ConnectionResultFilter{AgencyID: "a2"}, domain.ListOptions{})
	require.NoError(t, err)
	assert.Equal(t, int64(5), total)

	n, err = env.results.TransferConnectionResultsToAgency(ctx, []string{"nobody"}, "a2")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestConnectionResultService_Delete(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	seedResults(t, env, "a1", 1)

	require.NoError(t, env.results.DeleteConnectionResult(ctx, "a1-r00"))
	_, err := env.results.GetConnectionResult(ctx, "a1-r00")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
