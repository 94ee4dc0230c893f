package memory

import (
	"context"
	"time"

	"go.pilab.hu/linksync/domain"
)

// conflictingDefault mirrors the partial unique index of the MongoDB backend:
// at most one default per (agency, type). Callers hold s.mu.
func (s *Store) conflictingDefault(link *domain.ConnectionLink) bool {
	if !link.IsDefault {
		return false
	}
	for _, other := range s.links {
		if other.ID != link.ID && other.IsDefault && other.AgencyID == link.AgencyID && other.Type == link.Type {
			return true
		}
	}
	return false
}

// CreateConnectionLink implements domain.ConnectionLinkRepository.
func (s *Store) CreateConnectionLink(ctx context.Context, link *domain.ConnectionLink) error {
	defer s.enter(ctx)()
	s.mu.Lock()
	defer s.mu.Unlock()
	if link.ID == "" {
		link.ID = newID()
	}
	if _, exists := s.links[link.ID]; exists {
		return domain.Invariantf("connection link %s already exists", link.ID)
	}
	if s.conflictingDefault(link) {
		return domain.Invariantf("agency %s already has a default %s link", link.AgencyID, link.Type)
	}
	now := s.now()
	if link.CreatedAt.IsZero() {
		link.CreatedAt = now
	}
	link.UpdatedAt = now
	s.touchLink(ctx, link.ID)
	s.links[link.ID] = link.Clone()
	return nil
}

// GetConnectionLinkByID implements domain.ConnectionLinkRepository.
func (s *Store) GetConnectionLinkByID(ctx context.Context, id string) (*domain.ConnectionLink, error) {
	defer s.enter(ctx)()
	s.mu.RLock()
	defer s.mu.RUnlock()
	l, ok := s.links[id]
	if !ok {
		return nil, domain.NotFoundf("connection link %s", id)
	}
	return l.Clone(), nil
}

// FindDefaultConnectionLink implements domain.ConnectionLinkRepository.
func (s *Store) FindDefaultConnectionLink(ctx context.Context, agencyID string, accessType domain.AccessType) (*domain.ConnectionLink, error) {
	defer s.enter(ctx)()
	isDefault := true
	links := s.listLinks(domain.ConnectionLinkFilter{
		AgencyIDs: []string{agencyID},
		Type:      accessType,
		IsDefault: &isDefault,
	})
	if len(links) == 0 {
		return nil, domain.NotFoundf("default %s link for agency %s", accessType, agencyID)
	}
	return links[0], nil
}

func matchLink(l *domain.ConnectionLink, filter domain.ConnectionLinkFilter) bool {
	if len(filter.AgencyIDs) > 0 && !contains(filter.AgencyIDs, l.AgencyID) {
		return false
	}
	if filter.Type != "" && l.Type != filter.Type {
		return false
	}
	if filter.IsDefault != nil && l.IsDefault != *filter.IsDefault {
		return false
	}
	if filter.ExcludeAgencyID != "" && l.AgencyID == filter.ExcludeAgencyID {
		return false
	}
	return true
}

// ListConnectionLinks implements domain.ConnectionLinkRepository.
func (s *Store) ListConnectionLinks(ctx context.Context, filter domain.ConnectionLinkFilter) ([]*domain.ConnectionLink, error) {
	defer s.enter(ctx)()
	return s.listLinks(filter), nil
}

func (s *Store) listLinks(filter domain.ConnectionLinkFilter) []*domain.ConnectionLink {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*domain.ConnectionLink, 0)
	for _, l := range s.links {
		if matchLink(l, filter) {
			out = append(out, l.Clone())
		}
	}
	sortByCreated(out,
		func(l *domain.ConnectionLink) time.Time { return l.CreatedAt },
		func(l *domain.ConnectionLink) string { return l.ID })
	return out
}

// UpdateConnectionLink implements domain.ConnectionLinkRepository.
func (s *Store) UpdateConnectionLink(ctx context.Context, id string, patch domain.ConnectionLinkPatch) error {
	defer s.enter(ctx)()
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.links[id]
	if !ok {
		return domain.NotFoundf("connection link %s", id)
	}
	l := current.Clone()
	if patch.AgencyID != nil {
		l.AgencyID = *patch.AgencyID
	}
	if patch.Name != nil {
		l.Name = *patch.Name
	}
	if patch.IsDefault != nil {
		l.IsDefault = *patch.IsDefault
	}
	if patch.Type != nil {
		l.Type = *patch.Type
	}
	if patch.ClearGoogle {
		l.Google = nil
	}
	if patch.Google != nil {
		l.Google = patch.Google.Clone()
	}
	if patch.ClearFacebook {
		l.Facebook = nil
	}
	if patch.Facebook != nil {
		l.Facebook = patch.Facebook.Clone()
	}
	if s.conflictingDefault(l) {
		return domain.Invariantf("agency %s already has a default %s link", l.AgencyID, l.Type)
	}
	l.UpdatedAt = s.now()
	s.touchLink(ctx, id)
	s.links[id] = l
	return nil
}

// UnsetDefaults implements domain.ConnectionLinkRepository.
func (s *Store) UnsetDefaults(ctx context.Context, agencyID string, accessType domain.AccessType, exceptID string) (int64, error) {
	defer s.enter(ctx)()
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	now := s.now()
	for _, l := range s.links {
		if l.AgencyID == agencyID && l.Type == accessType && l.IsDefault && l.ID != exceptID {
			s.touchLink(ctx, l.ID)
			l.IsDefault = false
			l.UpdatedAt = now
			n++
		}
	}
	return n, nil
}

// ReassignConnectionLinks implements domain.ConnectionLinkRepository.
func (s *Store) ReassignConnectionLinks(ctx context.Context, filter domain.ConnectionLinkFilter, agencyID string) (int64, error) {
	defer s.enter(ctx)()
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	now := s.now()
	for _, l := range s.links {
		if !matchLink(l, filter) {
			continue
		}
		moved := l.Clone()
		moved.AgencyID = agencyID
		if s.conflictingDefault(moved) {
			return n, domain.Invariantf("agency %s already has a default %s link", agencyID, l.Type)
		}
		s.touchLink(ctx, l.ID)
		l.AgencyID = agencyID
		l.UpdatedAt = now
		n++
	}
	return n, nil
}

// ClearPlatform implements domain.ConnectionLinkRepository.
func (s *Store) ClearPlatform(ctx context.Context, agencyID string, platform domain.Platform) (int64, error) {
	defer s.enter(ctx)()
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	now := s.now()
	for _, l := range s.links {
		if l.AgencyID != agencyID {
			continue
		}
		switch {
		case platform == domain.PlatformGoogle && l.Google != nil:
			s.touchLink(ctx, l.ID)
			l.Google = nil
		case platform == domain.PlatformFacebook && l.Facebook != nil:
			s.touchLink(ctx, l.ID)
			l.Facebook = nil
		default:
			continue
		}
		l.UpdatedAt = now
		n++
	}
	return n, nil
}

// DeleteConnectionLink implements domain.ConnectionLinkRepository.
func (s *Store) DeleteConnectionLink(ctx context.Context, id string) error {
	defer s.enter(ctx)()
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.links[id]; !ok {
		return domain.NotFoundf("connection link %s", id)
	}
	s.touchLink(ctx, id)
	delete(s.links, id)
	return nil
}

// DeleteConnectionLinks implements domain.ConnectionLinkRepository.
func (s *Store) DeleteConnectionLinks(ctx context.Context, ids []string) (int64, error) {
	defer s.enter(ctx)()
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, id := range ids {
		if _, ok := s.links[id]; ok {
			s.touchLink(ctx, id)
			delete(s.links, id)
			n++
		}
	}
	return n, nil
}
