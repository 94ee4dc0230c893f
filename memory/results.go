package memory

import (
	"context"
	"sort"

	"go.pilab.hu/linksync/domain"
)

// CreateConnectionResult implements domain.ConnectionResultRepository.
func (s *Store) CreateConnectionResult(ctx context.Context, result *domain.ConnectionResult) error {
	defer s.enter(ctx)()
	s.mu.Lock()
	defer s.mu.Unlock()
	if result.ID == "" {
		result.ID = newID()
	}
	if _, exists := s.results[result.ID]; exists {
		return domain.Invariantf("connection result %s already exists", result.ID)
	}
	now := s.now()
	if result.CreatedAt.IsZero() {
		result.CreatedAt = now
	}
	result.UpdatedAt = now
	s.touchResult(ctx, result.ID)
	s.results[result.ID] = result.Clone()
	return nil
}

// GetConnectionResultByID implements domain.ConnectionResultRepository.
func (s *Store) GetConnectionResultByID(ctx context.Context, id string) (*domain.ConnectionResult, error) {
	defer s.enter(ctx)()
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.results[id]
	if !ok {
		return nil, domain.NotFoundf("connection result %s", id)
	}
	return r.Clone(), nil
}

// ListConnectionResults implements domain.ConnectionResultRepository.
func (s *Store) ListConnectionResults(ctx context.Context, filter domain.ConnectionResultFilter, opts domain.ListOptions) ([]*domain.ConnectionResult, int64, error) {
	defer s.enter(ctx)()
	opts = opts.Normalize()
	s.mu.RLock()
	matched := make([]*domain.ConnectionResult, 0)
	for _, r := range s.results {
		if filter.AgencyID != "" && r.AgencyID != filter.AgencyID {
			continue
		}
		if filter.ConnectionLinkID != "" && r.ConnectionLinkID != filter.ConnectionLinkID {
			continue
		}
		if filter.AccessType != "" && r.AccessType != filter.AccessType {
			continue
		}
		matched = append(matched, r.Clone())
	}
	s.mu.RUnlock()

	sort.SliceStable(matched, func(i, j int) bool {
		a, b := matched[i], matched[j]
		ta, tb := a.CreatedAt, b.CreatedAt
		if opts.SortBy == "updated_at" {
			ta, tb = a.UpdatedAt, b.UpdatedAt
		}
		if ta.Equal(tb) {
			if opts.SortDesc {
				return a.ID > b.ID
			}
			return a.ID < b.ID
		}
		if opts.SortDesc {
			return ta.After(tb)
		}
		return ta.Before(tb)
	})

	total := int64(len(matched))
	start := opts.Skip()
	if start >= len(matched) {
		return []*domain.ConnectionResult{}, total, nil
	}
	end := start + opts.PageSize
	if end > len(matched) {
		end = len(matched)
	}
	return matched[start:end], total, nil
}

// TransferConnectionResults implements domain.ConnectionResultRepository.
func (s *Store) TransferConnectionResults(ctx context.Context, sourceAgencyIDs []string, targetAgencyID string) (int64, error) {
	defer s.enter(ctx)()
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	now := s.now()
	for _, r := range s.results {
		if r.AgencyID != targetAgencyID && contains(sourceAgencyIDs, r.AgencyID) {
			s.touchResult(ctx, r.ID)
			r.AgencyID = targetAgencyID
			r.UpdatedAt = now
			n++
		}
	}
	return n, nil
}

// DeleteConnectionResult implements domain.ConnectionResultRepository.
func (s *Store) DeleteConnectionResult(ctx context.Context, id string) error {
	defer s.enter(ctx)()
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.results[id]; !ok {
		return domain.NotFoundf("connection result %s", id)
	}
	s.touchResult(ctx, id)
	delete(s.results, id)
	return nil
}
