package memory

import (
	"context"
	"strings"
	"time"

	"go.pilab.hu/linksync/domain"
)

// CreateAgency implements domain.AgencyRepository.
func (s *Store) CreateAgency(ctx context.Context, agency *domain.Agency) error {
	defer s.enter(ctx)()
	s.mu.Lock()
	defer s.mu.Unlock()
	if agency.ID == "" {
		agency.ID = newID()
	}
	if _, exists := s.agencies[agency.ID]; exists {
		return domain.Invariantf("agency %s already exists", agency.ID)
	}
	now := s.now()
	if agency.CreatedAt.IsZero() {
		agency.CreatedAt = now
	}
	agency.UpdatedAt = now
	s.touchAgency(ctx, agency.ID)
	s.agencies[agency.ID] = agency.Clone()
	return nil
}

// GetAgencyByID implements domain.AgencyRepository.
func (s *Store) GetAgencyByID(ctx context.Context, id string) (*domain.Agency, error) {
	defer s.enter(ctx)()
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.agencies[id]
	if !ok {
		return nil, domain.NotFoundf("agency %s", id)
	}
	return a.Clone(), nil
}

// FindAgency returns the oldest agency matching filter.
func (s *Store) FindAgency(ctx context.Context, filter domain.AgencyFilter) (*domain.Agency, error) {
	defer s.enter(ctx)()
	agencies := s.listAgencies(filter)
	if len(agencies) == 0 {
		return nil, domain.NotFoundf("agency matching filter")
	}
	return agencies[0], nil
}

// ListAgencies implements domain.AgencyRepository.
func (s *Store) ListAgencies(ctx context.Context, filter domain.AgencyFilter) ([]*domain.Agency, error) {
	defer s.enter(ctx)()
	return s.listAgencies(filter), nil
}

func (s *Store) listAgencies(filter domain.AgencyFilter) []*domain.Agency {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*domain.Agency, 0)
	for _, a := range s.agencies {
		if len(filter.IDs) > 0 && !contains(filter.IDs, a.ID) {
			continue
		}
		if filter.UserID != "" && a.UserID != filter.UserID {
			continue
		}
		if filter.Email != "" && !strings.EqualFold(a.Email, filter.Email) {
			continue
		}
		out = append(out, a.Clone())
	}
	sortByCreated(out,
		func(a *domain.Agency) time.Time { return a.CreatedAt },
		func(a *domain.Agency) string { return a.ID })
	return out
}

// UpdateAgency implements domain.AgencyRepository.
func (s *Store) UpdateAgency(ctx context.Context, id string, patch domain.AgencyPatch) error {
	defer s.enter(ctx)()
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.agencies[id]
	if !ok {
		return domain.NotFoundf("agency %s", id)
	}
	s.touchAgency(ctx, id)
	if patch.UserID != nil {
		a.UserID = *patch.UserID
	}
	if patch.Email != nil {
		a.Email = *patch.Email
	}
	if patch.BillingID != nil {
		a.BillingID = *patch.BillingID
	}
	if patch.ClearDefaultAccessLink {
		a.DefaultAccessLink = nil
	}
	if patch.DefaultAccessLink != nil {
		a.DefaultAccessLink = patch.DefaultAccessLink.Clone()
	}
	a.UpdatedAt = s.now()
	return nil
}

// DeleteAgency implements domain.AgencyRepository.
func (s *Store) DeleteAgency(ctx context.Context, id string) error {
	defer s.enter(ctx)()
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.agencies[id]; !ok {
		return domain.NotFoundf("agency %s", id)
	}
	s.touchAgency(ctx, id)
	delete(s.agencies, id)
	return nil
}

// DeleteAgencies implements domain.AgencyRepository.
func (s *Store) DeleteAgencies(ctx context.Context, ids []string) (int64, error) {
	defer s.enter(ctx)()
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, id := range ids {
		if _, ok := s.agencies[id]; ok {
			s.touchAgency(ctx, id)
			delete(s.agencies, id)
			n++
		}
	}
	return n, nil
}
