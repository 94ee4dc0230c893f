package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.pilab.hu/linksync/config"
	"go.pilab.hu/linksync/domain"
	"go.pilab.hu/linksync/eventbus"
	"go.pilab.hu/linksync/log"
	"go.pilab.hu/linksync/memory"
	"go.pilab.hu/linksync/services"
)

func newMemoryApp(t *testing.T) *app {
	t.Helper()
	cfg := &config.Config{StorageBackend: config.StorageMemory, DefaultLinkCacheTTL: time.Second}
	a, err := newApp(context.Background(), cfg, log.Nop(), nil)
	require.NoError(t, err)
	t.Cleanup(func() { a.close(context.Background()) })
	a.start()
	return a
}

func TestNewAppRejectsUnknownBackend(t *testing.T) {
	_, err := newApp(context.Background(), &config.Config{StorageBackend: "sqlite"}, log.Nop(), nil)
	assert.ErrorContains(t, err, "unknown storage_backend")
}

func TestRunMergeRequiresUserID(t *testing.T) {
	a := newMemoryApp(t)
	err := runMerge(context.Background(), a.agencyMerge, "", &bytes.Buffer{})
	assert.ErrorContains(t, err, "--user-id")
}

func TestRunMergeNothingToMerge(t *testing.T) {
	a := newMemoryApp(t)
	var out bytes.Buffer

	require.NoError(t, runMerge(context.Background(), a.agencyMerge, "nobody", &out))

	var got mergeOutput
	require.NoError(t, json.Unmarshal(out.Bytes(), &got))
	assert.False(t, got.Merged)
	assert.Nil(t, got.Result)
}

func TestRunMergeCollapsesAgencies(t *testing.T) {
	ctx := context.Background()
	a := newMemoryApp(t)
	for _, email := range []string{"first@example.com", "second@example.com"} {
		_, err := a.agencies.CreateAgency(ctx, services.CreateAgencyInput{UserID: "u1", Email: email}, "")
		require.NoError(t, err)
	}

	var out bytes.Buffer
	require.NoError(t, runMerge(ctx, a.agencyMerge, "u1", &out))

	var got mergeOutput
	require.NoError(t, json.Unmarshal(out.Bytes(), &got))
	require.True(t, got.Merged)
	assert.Len(t, got.Result.DeletedAgencyIDs, 1)
	assert.Empty(t, got.Warning)

	remaining, err := a.agencies.FindAgencies(ctx, domain.AgencyFilter{UserID: "u1"})
	require.NoError(t, err)
	require.Len(t, remaining, 1)
	assert.Equal(t, got.Result.MergedAgencyID, remaining[0].ID)
}

type unreachableLinks struct {
	*memory.Store
}

func (unreachableLinks) ListConnectionLinks(context.Context, domain.ConnectionLinkFilter) ([]*domain.ConnectionLink, error) {
	return nil, errors.New("connection reset")
}

func TestRunMergeFailsOnIncompleteLinkMerge(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	require.NoError(t, store.CreateAgency(ctx, &domain.Agency{ID: "a1", UserID: "u1", CreatedAt: time.Unix(1, 0)}))
	require.NoError(t, store.CreateAgency(ctx, &domain.Agency{ID: "a2", UserID: "u1", CreatedAt: time.Unix(2, 0)}))

	linkMerge := services.NewConnectionLinkMergeService(unreachableLinks{store}, store, nil, log.Nop())
	merger := services.NewAgencyMergeService(store, store, store, linkMerge, eventbus.NewInProcessBus(log.Nop()), log.Nop())

	var out bytes.Buffer
	err := runMerge(ctx, merger, "u1", &out)
	require.Error(t, err)
	var partial *domain.PartialCascadeError
	require.ErrorAs(t, err, &partial)
	assert.Equal(t, "a2", partial.MergedAgencyID)

	var got mergeOutput
	require.NoError(t, json.Unmarshal(out.Bytes(), &got))
	assert.True(t, got.Merged)
	assert.NotEmpty(t, got.Warning)
	assert.Equal(t, "a2", got.Result.MergedAgencyID)
}
