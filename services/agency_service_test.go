package services

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.pilab.hu/linksync/domain"
	"go.pilab.hu/linksync/eventbus"
	"go.pilab.hu/linksync/log"
)

func TestAgencyService_CreateAgencyEmitsOnce(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	var got []eventbus.EmittedEvent
	env.bus.Subscribe(eventbus.AgencyCreated, "recorder", func(_ context.Context, ev eventbus.EmittedEvent) error {
		got = append(got, ev)
		return nil
	})

	agency, err := env.agencies.CreateAgency(ctx, CreateAgencyInput{UserID: "u1", Email: "  Owner@Example.COM "}, "corr-1")
	require.NoError(t, err)
	assert.NotEmpty(t, agency.ID)
	assert.Equal(t, "owner@example.com", agency.Email)

	require.Len(t, got, 1)
	assert.Equal(t, "corr-1", got[0].CorrelationID)
	p, err := eventbus.DecodePayload[eventbus.AgencyCreatedPayload](got[0])
	require.NoError(t, err)
	assert.Equal(t, agency.ID, p.AgencyID)
	assert.Equal(t, "u1", p.UserID)
}

func TestAgencyService_CreateAgencyReportsHandlerFailure(t *testing.T) {
	env := newTestEnv(t)
	env.bus.Subscribe(eventbus.AgencyCreated, "broken", func(context.Context, eventbus.EmittedEvent) error {
		return errors.New("seed failed")
	})

	agency, err := env.agencies.CreateAgency(context.Background(), CreateAgencyInput{UserID: "u1"}, "")
	require.Error(t, err)
	require.NotNil(t, agency)

	stored, err := env.agencies.GetAgency(context.Background(), agency.ID)
	require.NoError(t, err)
	assert.Equal(t, "u1", stored.UserID)
}

func TestAgencyService_CreateAgencyRequiresUser(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.agencies.CreateAgency(context.Background(), CreateAgencyInput{Email: "x@example.com"}, "")
	assert.ErrorIs(t, err, domain.ErrInvariantViolation)
}

func TestAgencyService_FindAndUpdate(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.seedAgency(t, "a1", "u1", at(0))

	found, err := env.agencies.FindAgency(ctx, domain.AgencyFilter{Email: "A1@example.com"})
	require.NoError(t, err)
	assert.Equal(t, "a1", found.ID)

	billing := "cus_123"
	updated, err := env.agencies.UpdateAgency(ctx, "a1", domain.AgencyPatch{BillingID: &billing})
	require.NoError(t, err)
	assert.Equal(t, "cus_123", updated.BillingID)

	_, err = env.agencies.UpdateAgency(ctx, "missing", domain.AgencyPatch{BillingID: &billing})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

type vanishingStore struct {
	domain.AgencyRepository
}

func (vanishingStore) UpdateAgency(context.Context, string, domain.AgencyPatch) error { return nil }

func (vanishingStore) GetAgencyByID(_ context.Context, id string) (*domain.Agency, error) {
	return nil, domain.NotFoundf("agency %s", id)
}

func TestAgencyService_UpdateVanished(t *testing.T) {
	env := newTestEnv(t)
	svc := NewAgencyService(vanishingStore{env.store}, env.bus, log.Nop())
	email := "x@example.com"
	_, err := svc.UpdateAgency(context.Background(), "a1", domain.AgencyPatch{Email: &email})
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.Contains(t, err.Error(), "vanished")
}

func TestAgencyService_RemoveAgency(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.seedAgency(t, "a1", "u1", at(0))

	require.NoError(t, env.agencies.RemoveAgency(ctx, "a1"))
	_, err := env.agencies.GetAgency(ctx, "a1")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
