package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"go.pilab.hu/linksync/domain"
	"go.pilab.hu/linksync/internal/metrics"
	"go.pilab.hu/linksync/log"
)

// UpsertOutcome reports what UpsertDefaultPlatform did.
type UpsertOutcome string

const (
	UpsertCreated UpsertOutcome = "created"
	UpsertUpdated UpsertOutcome = "updated"
	UpsertSkipped UpsertOutcome = "skipped"
)

// CreateConnectionLinkInput is the data a connection link is created from.
type CreateConnectionLinkInput struct {
	AgencyID  string
	Name      string
	IsDefault bool
	Type      domain.AccessType
	Google    *domain.GoogleServices
	Facebook  *domain.FacebookServices
}

// ConnectionLinkService owns connection links and keeps the agency's
// default-link snapshot in step with them.
//
// Making a link the default always clears the previous default first, then
// sets the new one. An interruption in between leaves zero defaults for the
// pair, never two.
type ConnectionLinkService struct {
	links    domain.ConnectionLinkRepository
	agencies domain.AgencyRepository
	cache    *ttlcache.Cache[string, *domain.ConnectionLink]
	logger   log.Logger
	now      func() time.Time

	// cacheMu orders cache fills against invalidations. A fill is dropped
	// when the agency's generation moved while its read was in flight.
	cacheMu   sync.Mutex
	globalGen uint64
	agencyGen map[string]uint64
}

type cacheGeneration struct {
	global, agency uint64
}

// NewConnectionLinkService creates a ConnectionLinkService. A positive
// cacheTTL enables caching of default-link lookups.
func NewConnectionLinkService(links domain.ConnectionLinkRepository, agencies domain.AgencyRepository, logger log.Logger, cacheTTL time.Duration) *ConnectionLinkService {
	if logger == nil {
		logger = log.Nop()
	}
	s := &ConnectionLinkService{
		links:    links,
		agencies: agencies,
		logger:   logger.With(map[string]interface{}{"component": "connection_link_service"}),
		now:      func() time.Time { return time.Now().UTC() },

		agencyGen: make(map[string]uint64),
	}
	if cacheTTL > 0 {
		s.cache = ttlcache.New(
			ttlcache.WithTTL[string, *domain.ConnectionLink](cacheTTL),
			ttlcache.WithDisableTouchOnHit[string, *domain.ConnectionLink](),
		)
		go s.cache.Start()
	}
	return s
}

// Close stops the cache janitor.
func (s *ConnectionLinkService) Close() {
	if s.cache != nil {
		s.cache.Stop()
	}
}

func cacheKey(agencyID string, accessType domain.AccessType) string {
	return agencyID + ":" + string(accessType)
}

func (s *ConnectionLinkService) generation(agencyID string) cacheGeneration {
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	return cacheGeneration{global: s.globalGen, agency: s.agencyGen[agencyID]}
}

// fill caches link unless agencyID was invalidated since gen was taken.
func (s *ConnectionLinkService) fill(key, agencyID string, gen cacheGeneration, link *domain.ConnectionLink) {
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	if gen != (cacheGeneration{global: s.globalGen, agency: s.agencyGen[agencyID]}) {
		return
	}
	s.cache.Set(key, link.Clone(), ttlcache.DefaultTTL)
}

// InvalidateAgency drops cached default links of agencyID.
func (s *ConnectionLinkService) InvalidateAgency(agencyID string) {
	if s.cache == nil {
		return
	}
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	s.agencyGen[agencyID]++
	for _, t := range domain.AccessTypes {
		s.cache.Delete(cacheKey(agencyID, t))
	}
}

// InvalidateAll drops every cached default link.
func (s *ConnectionLinkService) InvalidateAll() {
	if s.cache == nil {
		return
	}
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	s.globalGen++
	s.agencyGen = make(map[string]uint64)
	s.cache.DeleteAll()
}

func validateLinkInput(agencyID string, accessType domain.AccessType) error {
	if strings.TrimSpace(agencyID) == "" {
		return domain.Invariantf("connection link requires an agency id")
	}
	if !accessType.Valid() {
		return domain.Invariantf("unknown access type %q", accessType)
	}
	return nil
}

// CreateConnectionLink inserts a link. A default link first clears the
// previous default of its (agency, type).
func (s *ConnectionLinkService) CreateConnectionLink(ctx context.Context, in CreateConnectionLinkInput) (*domain.ConnectionLink, error) {
	if err := validateLinkInput(in.AgencyID, in.Type); err != nil {
		return nil, err
	}
	if in.IsDefault {
		if _, err := s.links.UnsetDefaults(ctx, in.AgencyID, in.Type, ""); err != nil {
			return nil, fmt.Errorf("unset previous default %s link of agency %s: %w", in.Type, in.AgencyID, err)
		}
		s.InvalidateAgency(in.AgencyID)
	}
	link := &domain.ConnectionLink{
		AgencyID:  in.AgencyID,
		Name:      in.Name,
		IsDefault: in.IsDefault,
		Type:      in.Type,
		Google:    in.Google.Clone(),
		Facebook:  in.Facebook.Clone(),
	}
	if err := s.links.CreateConnectionLink(ctx, link); err != nil {
		return nil, fmt.Errorf("create %s connection link for agency %s: %w", in.Type, in.AgencyID, err)
	}
	if link.IsDefault {
		s.refreshSnapshot(ctx, link.AgencyID)
	}
	return link, nil
}

// CreateDefaultConnectionLink seeds the default link of (agencyID, accessType).
func (s *ConnectionLinkService) CreateDefaultConnectionLink(ctx context.Context, agencyID string, accessType domain.AccessType, payload PlatformPayload) (*domain.ConnectionLink, error) {
	return s.CreateConnectionLink(ctx, CreateConnectionLinkInput{
		AgencyID:  agencyID,
		Name:      fmt.Sprintf("Default %s link", accessType),
		IsDefault: true,
		Type:      accessType,
		Google:    payload.Google,
		Facebook:  payload.Facebook,
	})
}

// FindDefaultConnectionLink returns the default link of (agencyID, accessType).
func (s *ConnectionLinkService) FindDefaultConnectionLink(ctx context.Context, agencyID string, accessType domain.AccessType) (*domain.ConnectionLink, error) {
	if s.cache == nil {
		return s.links.FindDefaultConnectionLink(ctx, agencyID, accessType)
	}
	key := cacheKey(agencyID, accessType)
	if item := s.cache.Get(key); item != nil {
		return item.Value().Clone(), nil
	}
	gen := s.generation(agencyID)
	link, err := s.links.FindDefaultConnectionLink(ctx, agencyID, accessType)
	if err != nil {
		return nil, err
	}
	s.fill(key, agencyID, gen, link)
	return link, nil
}

// GetConnectionLink returns the link with id.
func (s *ConnectionLinkService) GetConnectionLink(ctx context.Context, id string) (*domain.ConnectionLink, error) {
	return s.links.GetConnectionLinkByID(ctx, id)
}

// ListConnectionLinks returns links matching filter, oldest first.
func (s *ConnectionLinkService) ListConnectionLinks(ctx context.Context, filter domain.ConnectionLinkFilter) ([]*domain.ConnectionLink, error) {
	return s.links.ListConnectionLinks(ctx, filter)
}

// UpdateConnectionLink applies patch and returns the re-read link. Promoting
// a link to default clears the previous default of its target (agency, type)
// first. A default link cannot be demoted directly; promote another instead.
func (s *ConnectionLinkService) UpdateConnectionLink(ctx context.Context, id string, patch domain.ConnectionLinkPatch) (*domain.ConnectionLink, error) {
	current, err := s.links.GetConnectionLinkByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if patch.Type != nil && !patch.Type.Valid() {
		return nil, domain.Invariantf("unknown access type %q", *patch.Type)
	}
	if current.IsDefault && patch.IsDefault != nil && !*patch.IsDefault {
		return nil, domain.Invariantf("default link %s cannot be demoted, promote another link instead", id)
	}

	agencyID, accessType := current.AgencyID, current.Type
	if patch.AgencyID != nil {
		agencyID = *patch.AgencyID
	}
	if patch.Type != nil {
		accessType = *patch.Type
	}
	becomesDefault := (patch.IsDefault != nil && *patch.IsDefault) || current.IsDefault
	if becomesDefault && (agencyID != current.AgencyID || accessType != current.Type || !current.IsDefault) {
		if _, err := s.links.UnsetDefaults(ctx, agencyID, accessType, id); err != nil {
			return nil, fmt.Errorf("unset previous default %s link of agency %s: %w", accessType, agencyID, err)
		}
	}

	if err := s.links.UpdateConnectionLink(ctx, id, patch); err != nil {
		return nil, err
	}
	s.InvalidateAgency(current.AgencyID)
	s.InvalidateAgency(agencyID)

	updated, err := s.links.GetConnectionLinkByID(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, domain.NotFoundf("connection link %s vanished after update", id)
		}
		return nil, err
	}
	if current.IsDefault || updated.IsDefault {
		s.refreshSnapshot(ctx, current.AgencyID)
		if agencyID != current.AgencyID {
			s.refreshSnapshot(ctx, agencyID)
		}
	}
	return updated, nil
}

// SetAsDefault makes the link with id the default of its own (agency, type).
func (s *ConnectionLinkService) SetAsDefault(ctx context.Context, id string) (*domain.ConnectionLink, error) {
	link, err := s.links.GetConnectionLinkByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if _, err := s.links.UnsetDefaults(ctx, link.AgencyID, link.Type, link.ID); err != nil {
		return nil, fmt.Errorf("unset previous default %s link of agency %s: %w", link.Type, link.AgencyID, err)
	}
	isDefault := true
	if err := s.links.UpdateConnectionLink(ctx, link.ID, domain.ConnectionLinkPatch{IsDefault: &isDefault}); err != nil {
		return nil, err
	}
	s.InvalidateAgency(link.AgencyID)
	s.refreshSnapshot(ctx, link.AgencyID)
	link.IsDefault = true
	return link, nil
}

// DeleteConnectionLink deletes a non-default link.
func (s *ConnectionLinkService) DeleteConnectionLink(ctx context.Context, id string) error {
	link, err := s.links.GetConnectionLinkByID(ctx, id)
	if err != nil {
		return err
	}
	if link.IsDefault {
		return domain.Invariantf("default link %s cannot be deleted, promote another link instead", id)
	}
	if err := s.links.DeleteConnectionLink(ctx, id); err != nil {
		return err
	}
	s.InvalidateAgency(link.AgencyID)
	return nil
}

// UpsertDefaultPlatform writes one platform's section into the default link
// of (agencyID, accessType), creating the default link when there is none.
// With skipIfExists an already populated section is left as is, so a
// hand-edited link survives its first population.
func (s *ConnectionLinkService) UpsertDefaultPlatform(ctx context.Context, agencyID string, accessType domain.AccessType, platform domain.Platform, payload PlatformPayload, skipIfExists bool) (UpsertOutcome, error) {
	if err := validateLinkInput(agencyID, accessType); err != nil {
		return "", err
	}
	if !platform.Valid() {
		return "", domain.Invariantf("unknown platform %q", platform)
	}
	if payload.IsEmpty() {
		metrics.DefaultLinkUpsertsTotal.WithLabelValues(string(platform), metrics.OutcomeSkipped).Inc()
		return UpsertSkipped, nil
	}

	existing, err := s.links.FindDefaultConnectionLink(ctx, agencyID, accessType)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		if _, err := s.CreateDefaultConnectionLink(ctx, agencyID, accessType, payload); err != nil {
			return "", err
		}
		metrics.DefaultLinkUpsertsTotal.WithLabelValues(string(platform), metrics.OutcomeCreated).Inc()
		return UpsertCreated, nil
	case err != nil:
		return "", err
	}

	if skipIfExists && existing.HasPlatform(platform) {
		metrics.DefaultLinkUpsertsTotal.WithLabelValues(string(platform), metrics.OutcomeSkipped).Inc()
		return UpsertSkipped, nil
	}

	patch := domain.ConnectionLinkPatch{}
	if platform == domain.PlatformGoogle {
		patch.Google = payload.Google
	} else {
		patch.Facebook = payload.Facebook
	}
	if err := s.links.UpdateConnectionLink(ctx, existing.ID, patch); err != nil {
		return "", fmt.Errorf("upsert %s section of default %s link %s: %w", platform, accessType, existing.ID, err)
	}
	s.InvalidateAgency(agencyID)
	s.refreshSnapshot(ctx, agencyID)
	metrics.DefaultLinkUpsertsTotal.WithLabelValues(string(platform), metrics.OutcomeUpdated).Inc()
	return UpsertUpdated, nil
}

// ClearPlatform nulls the platform section on every link of agencyID that
// carries it, default or not.
func (s *ConnectionLinkService) ClearPlatform(ctx context.Context, agencyID string, platform domain.Platform) (int64, error) {
	if !platform.Valid() {
		return 0, domain.Invariantf("unknown platform %q", platform)
	}
	n, err := s.links.ClearPlatform(ctx, agencyID, platform)
	if err != nil {
		return 0, fmt.Errorf("clear %s on links of agency %s: %w", platform, agencyID, err)
	}
	s.InvalidateAgency(agencyID)
	s.refreshSnapshot(ctx, agencyID)
	return n, nil
}

// RefreshDefaultAccessLink recomputes the agency's default-link snapshot from
// the connection-link store. A missing agency is not an error.
func (s *ConnectionLinkService) RefreshDefaultAccessLink(ctx context.Context, agencyID string) error {
	snapshot := &domain.DefaultAccessLink{RefreshedAt: s.now()}
	for _, t := range domain.AccessTypes {
		link, err := s.links.FindDefaultConnectionLink(ctx, agencyID, t)
		if errors.Is(err, domain.ErrNotFound) {
			continue
		}
		if err != nil {
			return err
		}
		snap := &domain.LinkSnapshot{LinkID: link.ID, Google: link.Google, Facebook: link.Facebook}
		if t == domain.AccessTypeView {
			snapshot.View = snap
		} else {
			snapshot.Manage = snap
		}
	}

	patch := domain.AgencyPatch{DefaultAccessLink: snapshot}
	if snapshot.View == nil && snapshot.Manage == nil {
		patch = domain.AgencyPatch{ClearDefaultAccessLink: true}
	}
	err := s.agencies.UpdateAgency(ctx, agencyID, patch)
	if errors.Is(err, domain.ErrNotFound) {
		return nil
	}
	return err
}

// refreshSnapshot keeps the cached snapshot best-effort: the link write it
// follows has already succeeded.
func (s *ConnectionLinkService) refreshSnapshot(ctx context.Context, agencyID string) {
	if err := s.RefreshDefaultAccessLink(ctx, agencyID); err != nil {
		s.logger.Warn(ctx, "Failed to refresh default access link snapshot", map[string]interface{}{
			"agency_id": agencyID,
			"error":     err.Error(),
		})
	}
}
