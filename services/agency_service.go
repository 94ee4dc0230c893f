package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.pilab.hu/linksync/domain"
	"go.pilab.hu/linksync/eventbus"
	"go.pilab.hu/linksync/log"
)

const agencyServiceSource = "agency_service"

// CreateAgencyInput is the data an agency is created from.
type CreateAgencyInput struct {
	UserID    string
	Email     string
	BillingID string
}

// AgencyService owns agency documents.
type AgencyService struct {
	repo   domain.AgencyRepository
	bus    eventbus.Bus
	logger log.Logger
}

// NewAgencyService creates an AgencyService.
func NewAgencyService(repo domain.AgencyRepository, bus eventbus.Bus, logger log.Logger) *AgencyService {
	if logger == nil {
		logger = log.Nop()
	}
	return &AgencyService{
		repo:   repo,
		bus:    bus,
		logger: logger.With(map[string]interface{}{"component": agencyServiceSource}),
	}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// CreateAgency inserts an agency and then emits AgencyCreated through
// EmitAsync, once, after the insert succeeded. When the insert succeeded but
// a handler failed, both the agency and the handler error are returned.
func (s *AgencyService) CreateAgency(ctx context.Context, in CreateAgencyInput, correlationID string) (*domain.Agency, error) {
	if strings.TrimSpace(in.UserID) == "" {
		return nil, domain.Invariantf("agency requires a user id")
	}
	agency := &domain.Agency{
		UserID:    in.UserID,
		Email:     normalizeEmail(in.Email),
		BillingID: in.BillingID,
	}
	if err := s.repo.CreateAgency(ctx, agency); err != nil {
		return nil, fmt.Errorf("create agency for user %s: %w", in.UserID, err)
	}
	s.logger.Info(ctx, "Agency created", map[string]interface{}{"agency_id": agency.ID, "user_id": agency.UserID})

	payload := eventbus.AgencyCreatedPayload{AgencyID: agency.ID, UserID: agency.UserID}
	if err := s.bus.EmitAsync(ctx, eventbus.AgencyCreated, payload, agencyServiceSource, correlationID); err != nil {
		return agency, fmt.Errorf("agency %s created, %s handlers failed: %w", agency.ID, eventbus.AgencyCreated, err)
	}
	return agency, nil
}

// GetAgency returns the agency with id.
func (s *AgencyService) GetAgency(ctx context.Context, id string) (*domain.Agency, error) {
	return s.repo.GetAgencyByID(ctx, id)
}

// FindAgency returns the oldest agency matching filter, or domain.ErrNotFound.
func (s *AgencyService) FindAgency(ctx context.Context, filter domain.AgencyFilter) (*domain.Agency, error) {
	filter.Email = normalizeEmail(filter.Email)
	return s.repo.FindAgency(ctx, filter)
}

// FindAgencies returns every agency matching filter, oldest first.
func (s *AgencyService) FindAgencies(ctx context.Context, filter domain.AgencyFilter) ([]*domain.Agency, error) {
	filter.Email = normalizeEmail(filter.Email)
	return s.repo.ListAgencies(ctx, filter)
}

// UpdateAgency applies patch and returns the re-read agency. It returns
// domain.ErrNotFound when the agency is gone, including when it vanished
// between the write and the read-back.
func (s *AgencyService) UpdateAgency(ctx context.Context, id string, patch domain.AgencyPatch) (*domain.Agency, error) {
	if patch.Email != nil {
		email := normalizeEmail(*patch.Email)
		patch.Email = &email
	}
	if !patch.IsEmpty() {
		if err := s.repo.UpdateAgency(ctx, id, patch); err != nil {
			return nil, err
		}
	}
	agency, err := s.repo.GetAgencyByID(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, domain.NotFoundf("agency %s vanished after update", id)
		}
		return nil, err
	}
	return agency, nil
}

// RemoveAgency hard-deletes an agency.
func (s *AgencyService) RemoveAgency(ctx context.Context, id string) error {
	if err := s.repo.DeleteAgency(ctx, id); err != nil {
		return err
	}
	s.logger.Info(ctx, "Agency removed", map[string]interface{}{"agency_id": id})
	return nil
}
