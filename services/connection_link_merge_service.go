package services

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.pilab.hu/linksync/domain"
	"go.pilab.hu/linksync/internal/audit"
	"go.pilab.hu/linksync/internal/metrics"
	"go.pilab.hu/linksync/log"
	"go.pilab.hu/linksync/tracing"
)

// TypeMergeResult describes the default-link merge of one access type.
type TypeMergeResult struct {
	MergedLinkID   string   `json:"merged_link_id"`
	DeletedLinkIDs []string `json:"deleted_link_ids"`
}

// LinkMergeResult describes a connection-link merge.
type LinkMergeResult struct {
	View             *TypeMergeResult `json:"view,omitempty"`
	Manage           *TypeMergeResult `json:"manage,omitempty"`
	TransferredLinks int64            `json:"transferred_links"`
}

// ConnectionLinkMergeService folds the default links of merged agencies into
// the surviving agency.
type ConnectionLinkMergeService struct {
	links  domain.ConnectionLinkRepository
	tx     domain.Transactor
	linkSv *ConnectionLinkService
	logger log.Logger
}

// NewConnectionLinkMergeService creates a ConnectionLinkMergeService.
func NewConnectionLinkMergeService(links domain.ConnectionLinkRepository, tx domain.Transactor, linkSv *ConnectionLinkService, logger log.Logger) *ConnectionLinkMergeService {
	if logger == nil {
		logger = log.Nop()
	}
	return &ConnectionLinkMergeService{
		links:  links,
		tx:     tx,
		linkSv: linkSv,
		logger: logger.With(map[string]interface{}{"component": "connection_link_merge_service"}),
	}
}

// Merge makes targetAgencyID own exactly one default link per access type and
// every non-default link of agencyIDs.
//
// Per type, the earliest created default among agencyIDs and the target is
// kept, its services unioned with the others, which are then deleted, in one
// transaction. A single default owned elsewhere is just repointed. Ids of
// agencies that no longer exist are tolerated. The result is nil when no
// type had two or more defaults to merge.
func (s *ConnectionLinkMergeService) Merge(ctx context.Context, agencyIDs []string, targetAgencyID string) (res *LinkMergeResult, err error) {
	if targetAgencyID == "" {
		return nil, domain.Invariantf("link merge requires a target agency id")
	}
	ctx, span := tracing.StartSpan(ctx, "ConnectionLinkMergeService.Merge",
		attribute.String("agency.target_id", targetAgencyID),
		attribute.Int("agency.count", len(agencyIDs)),
	)
	defer func() { tracing.EndSpan(span, err) }()

	ids := mergeScope(agencyIDs, targetAgencyID)
	out := &LinkMergeResult{}
	merged := false

	for _, t := range domain.AccessTypes {
		tr, err := s.mergeType(ctx, ids, targetAgencyID, t)
		if err != nil {
			s.record(ctx, targetAgencyID, ids, nil, err)
			return nil, err
		}
		if tr == nil {
			continue
		}
		merged = true
		if t == domain.AccessTypeView {
			out.View = tr
		} else {
			out.Manage = tr
		}
	}

	notDefault := false
	moved, err := s.links.ReassignConnectionLinks(ctx, domain.ConnectionLinkFilter{
		AgencyIDs:       ids,
		IsDefault:       &notDefault,
		ExcludeAgencyID: targetAgencyID,
	}, targetAgencyID)
	if err != nil {
		err = fmt.Errorf("transfer non-default links to agency %s: %w", targetAgencyID, err)
		s.record(ctx, targetAgencyID, ids, nil, err)
		return nil, err
	}
	out.TransferredLinks = moved

	if s.linkSv != nil {
		s.linkSv.InvalidateAll()
		s.linkSv.refreshSnapshot(ctx, targetAgencyID)
	}

	if !merged {
		s.logger.Debug(ctx, "No default links needed merging", map[string]interface{}{
			"target_agency_id":  targetAgencyID,
			"transferred_links": moved,
		})
		return nil, nil
	}
	s.record(ctx, targetAgencyID, ids, out, nil)
	return out, nil
}

func mergeScope(agencyIDs []string, target string) []string {
	seen := map[string]bool{target: true}
	ids := []string{target}
	for _, id := range agencyIDs {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		ids = append(ids, id)
	}
	return ids
}

func (s *ConnectionLinkMergeService) mergeType(ctx context.Context, ids []string, target string, t domain.AccessType) (*TypeMergeResult, error) {
	isDefault := true
	defaults, err := s.links.ListConnectionLinks(ctx, domain.ConnectionLinkFilter{
		AgencyIDs: ids,
		Type:      t,
		IsDefault: &isDefault,
	})
	if err != nil {
		return nil, fmt.Errorf("list default %s links: %w", t, err)
	}

	switch len(defaults) {
	case 0:
		return nil, nil
	case 1:
		link := defaults[0]
		if link.AgencyID == target {
			return nil, nil
		}
		if err := s.links.UpdateConnectionLink(ctx, link.ID, domain.ConnectionLinkPatch{AgencyID: &target}); err != nil {
			return nil, fmt.Errorf("repoint default %s link %s: %w", t, link.ID, err)
		}
		metrics.LinkMergesTotal.WithLabelValues(string(t), "repoint").Inc()
		return nil, nil
	}

	sort.SliceStable(defaults, func(i, j int) bool {
		return defaults[i].CreatedAt.Before(defaults[j].CreatedAt)
	})
	primary := defaults[0]
	google := primary.Google.Clone()
	facebook := primary.Facebook.Clone()
	deleted := make([]string, 0, len(defaults)-1)
	for _, other := range defaults[1:] {
		google = UnionGoogleServices(google, other.Google)
		facebook = UnionFacebookServices(facebook, other.Facebook)
		deleted = append(deleted, other.ID)
	}

	err = s.tx.WithTransaction(ctx, func(ctx context.Context) error {
		n, err := s.links.DeleteConnectionLinks(ctx, deleted)
		if err != nil {
			return err
		}
		if n != int64(len(deleted)) {
			return fmt.Errorf("deleted %d of %d duplicate %s links", n, len(deleted), t)
		}
		return s.links.UpdateConnectionLink(ctx, primary.ID, domain.ConnectionLinkPatch{
			AgencyID:      &target,
			IsDefault:     &isDefault,
			Google:        google,
			Facebook:      facebook,
			ClearGoogle:   google == nil,
			ClearFacebook: facebook == nil,
		})
	})
	if err != nil {
		return nil, fmt.Errorf("%w: merge default %s links into agency %s: %w", domain.ErrTransactionFailure, t, target, err)
	}
	metrics.LinkMergesTotal.WithLabelValues(string(t), "merge").Inc()
	return &TypeMergeResult{MergedLinkID: primary.ID, DeletedLinkIDs: deleted}, nil
}

func (s *ConnectionLinkMergeService) record(ctx context.Context, target string, ids []string, res *LinkMergeResult, err error) {
	ev := audit.Event{
		Timestamp: time.Now().UTC(),
		Action:    audit.ActionLinkMerge,
		Target:    target,
		Affected:  ids,
		Success:   err == nil,
		Err:       err,
	}
	if res != nil {
		ev.Details = map[string]interface{}{"transferred_links": res.TransferredLinks}
		if res.View != nil {
			ev.Details["view_link_id"] = res.View.MergedLinkID
		}
		if res.Manage != nil {
			ev.Details["manage_link_id"] = res.Manage.MergedLinkID
		}
	}
	audit.Record(ctx, ev)
}

// UnionGoogleServices merges b into a service by service. A service only b
// has is copied; a service both have is enabled if either enables it and
// keeps a's identifier unless that is empty.
func UnionGoogleServices(a, b *domain.GoogleServices) *domain.GoogleServices {
	if a == nil {
		return b.Clone()
	}
	if b == nil {
		return a.Clone()
	}
	return &domain.GoogleServices{
		GoogleAds:            unionAds(a.GoogleAds, b.GoogleAds),
		GoogleAnalytics:      unionGoogle(a.GoogleAnalytics, b.GoogleAnalytics),
		GoogleMerchantCenter: unionGoogle(a.GoogleMerchantCenter, b.GoogleMerchantCenter),
		GoogleMyBusiness:     unionMyBusiness(a.GoogleMyBusiness, b.GoogleMyBusiness),
		GoogleSearchConsole:  unionGoogle(a.GoogleSearchConsole, b.GoogleSearchConsole),
		GoogleTagManager:     unionGoogle(a.GoogleTagManager, b.GoogleTagManager),
	}
}

// UnionFacebookServices merges b into a by the same rules as UnionGoogleServices.
func UnionFacebookServices(a, b *domain.FacebookServices) *domain.FacebookServices {
	if a == nil {
		return b.Clone()
	}
	if b == nil {
		return a.Clone()
	}
	return &domain.FacebookServices{
		FacebookAds:      unionFacebook(a.FacebookAds, b.FacebookAds),
		FacebookBusiness: unionFacebook(a.FacebookBusiness, b.FacebookBusiness),
		FacebookPages:    unionFacebook(a.FacebookPages, b.FacebookPages),
		FacebookCatalog:  unionFacebook(a.FacebookCatalog, b.FacebookCatalog),
		FacebookPixel:    unionFacebook(a.FacebookPixel, b.FacebookPixel),
	}
}

func firstNonEmpty(a, b string) string {
	if a != "" {
		return a
	}
	return b
}

func unionGoogle(a, b *domain.GoogleService) *domain.GoogleService {
	if a == nil || b == nil {
		return orCopy(a, b)
	}
	return &domain.GoogleService{IsEnabled: a.IsEnabled || b.IsEnabled, Email: firstNonEmpty(a.Email, b.Email)}
}

func unionAds(a, b *domain.GoogleAdsService) *domain.GoogleAdsService {
	if a == nil || b == nil {
		return orCopy(a, b)
	}
	return &domain.GoogleAdsService{
		IsEnabled: a.IsEnabled || b.IsEnabled,
		Method:    firstNonEmpty(a.Method, b.Method),
		Email:     firstNonEmpty(a.Email, b.Email),
	}
}

func unionMyBusiness(a, b *domain.GoogleMyBusinessService) *domain.GoogleMyBusinessService {
	if a == nil || b == nil {
		return orCopy(a, b)
	}
	return &domain.GoogleMyBusinessService{IsEnabled: a.IsEnabled || b.IsEnabled, EmailOrID: firstNonEmpty(a.EmailOrID, b.EmailOrID)}
}

func unionFacebook(a, b *domain.FacebookService) *domain.FacebookService {
	if a == nil || b == nil {
		return orCopy(a, b)
	}
	return &domain.FacebookService{
		IsEnabled:           a.IsEnabled || b.IsEnabled,
		BusinessPortfolioID: firstNonEmpty(a.BusinessPortfolioID, b.BusinessPortfolioID),
	}
}

// orCopy returns a copy of whichever of a and b is set.
func orCopy[T any](a, b *T) *T {
	v := a
	if v == nil {
		v = b
	}
	if v == nil {
		return nil
	}
	c := *v
	return &c
}
