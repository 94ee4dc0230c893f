package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.pilab.hu/linksync/domain"
	"go.pilab.hu/linksync/eventbus"
	"go.pilab.hu/linksync/internal/audit"
	"go.pilab.hu/linksync/internal/metrics"
	"go.pilab.hu/linksync/log"
	"go.pilab.hu/linksync/tracing"
)

const agencyMergeSource = "agency_merge_service"

// AgencyMergeResult describes a committed agency merge.
type AgencyMergeResult struct {
	MergedAgencyID     string           `json:"merged_agency_id"`
	DeletedAgencyIDs   []string         `json:"deleted_agency_ids"`
	TransferredResults int64            `json:"transferred_results"`
	LinkMerge          *LinkMergeResult `json:"link_merge,omitempty"`
}

// AgencyMergeService collapses the agencies of one user into a single one.
type AgencyMergeService struct {
	agencies  domain.AgencyRepository
	results   domain.ConnectionResultRepository
	tx        domain.Transactor
	linkMerge *ConnectionLinkMergeService
	bus       eventbus.Bus
	logger    log.Logger
}

// NewAgencyMergeService creates an AgencyMergeService.
func NewAgencyMergeService(
	agencies domain.AgencyRepository,
	results domain.ConnectionResultRepository,
	tx domain.Transactor,
	linkMerge *ConnectionLinkMergeService,
	bus eventbus.Bus,
	logger log.Logger,
) *AgencyMergeService {
	if logger == nil {
		logger = log.Nop()
	}
	return &AgencyMergeService{
		agencies:  agencies,
		results:   results,
		tx:        tx,
		linkMerge: linkMerge,
		bus:       bus,
		logger:    logger.With(map[string]interface{}{"component": agencyMergeSource}),
	}
}

// MergeByUserID keeps the most recently created agency of userID and deletes
// the others, moving their connection results and links over. It returns nil
// when the user has fewer than two agencies.
//
// The agency writes commit atomically. The connection-link merge runs after
// the commit; when it fails the merge is still reported, together with a
// *domain.PartialCascadeError, and the agencies.merged listener retries it.
func (s *AgencyMergeService) MergeByUserID(ctx context.Context, userID string) (res *AgencyMergeResult, err error) {
	if strings.TrimSpace(userID) == "" {
		return nil, domain.Invariantf("agency merge requires a user id")
	}
	ctx, span := tracing.StartSpan(ctx, "AgencyMergeService.MergeByUserID", attribute.String("user.id", userID))
	defer func() { tracing.EndSpan(span, err) }()

	agencies, err := s.agencies.ListAgencies(ctx, domain.AgencyFilter{UserID: userID})
	if err != nil {
		return nil, fmt.Errorf("list agencies of user %s: %w", userID, err)
	}
	if len(agencies) < 2 {
		metrics.AgencyMergesTotal.WithLabelValues(metrics.OutcomeNoop).Inc()
		return nil, nil
	}

	primary := agencies[0]
	for _, a := range agencies[1:] {
		if a.CreatedAt.After(primary.CreatedAt) {
			primary = a
		}
	}
	allIDs := make([]string, 0, len(agencies))
	deleted := make([]string, 0, len(agencies)-1)
	for _, a := range agencies {
		allIDs = append(allIDs, a.ID)
		if a.ID != primary.ID {
			deleted = append(deleted, a.ID)
		}
	}
	span.SetAttributes(attribute.String("agency.primary_id", primary.ID), attribute.Int("agency.count", len(agencies)))

	var transferred int64
	err = s.tx.WithTransaction(ctx, func(ctx context.Context) error {
		if err := s.agencies.UpdateAgency(ctx, primary.ID, domain.AgencyPatch{
			UserID: &primary.UserID,
			Email:  &primary.Email,
		}); err != nil {
			return err
		}
		n, err := s.results.TransferConnectionResults(ctx, deleted, primary.ID)
		if err != nil {
			return err
		}
		transferred = n
		removed, err := s.agencies.DeleteAgencies(ctx, deleted)
		if err != nil {
			return err
		}
		if removed != int64(len(deleted)) {
			return fmt.Errorf("deleted %d of %d duplicate agencies", removed, len(deleted))
		}
		return nil
	})
	if err != nil {
		err = fmt.Errorf("%w: merge agencies of user %s: %w", domain.ErrTransactionFailure, userID, err)
		metrics.AgencyMergesTotal.WithLabelValues(metrics.OutcomeFailed).Inc()
		s.record(ctx, primary.ID, allIDs, nil, err)
		return nil, err
	}
	metrics.AgenciesDeletedTotal.Add(float64(len(deleted)))
	s.logger.Info(ctx, "Agencies merged", map[string]interface{}{
		"user_id":             userID,
		"merged_agency_id":    primary.ID,
		"deleted_agency_ids":  deleted,
		"transferred_results": transferred,
	})

	res = &AgencyMergeResult{
		MergedAgencyID:     primary.ID,
		DeletedAgencyIDs:   deleted,
		TransferredResults: transferred,
	}

	linkRes, linkErr := s.linkMerge.Merge(ctx, allIDs, primary.ID)
	if linkErr != nil {
		s.logger.Error(ctx, "Connection link merge failed after agency merge", linkErr, map[string]interface{}{
			"merged_agency_id": primary.ID,
		})
	} else {
		res.LinkMerge = linkRes
	}

	payload := eventbus.AgenciesMergedPayload{AgencyIDs: allIDs, TargetAgencyID: primary.ID}
	if emitErr := s.bus.EmitAsync(ctx, eventbus.AgenciesMerged, payload, agencyMergeSource, ""); emitErr != nil {
		s.logger.Warn(ctx, "agencies.merged handlers failed", map[string]interface{}{
			"merged_agency_id": primary.ID,
			"error":            emitErr.Error(),
		})
		if linkErr != nil {
			linkErr = errors.Join(linkErr, emitErr)
		}
	}

	if linkErr != nil {
		metrics.AgencyMergesTotal.WithLabelValues(metrics.OutcomePartial).Inc()
		partial := &domain.PartialCascadeError{MergedAgencyID: primary.ID, AgencyIDs: allIDs, Err: linkErr}
		s.record(ctx, primary.ID, allIDs, res, partial)
		return res, partial
	}
	metrics.AgencyMergesTotal.WithLabelValues(metrics.OutcomeMerged).Inc()
	s.record(ctx, primary.ID, allIDs, res, nil)
	return res, nil
}

func (s *AgencyMergeService) record(ctx context.Context, target string, ids []string, res *AgencyMergeResult, err error) {
	ev := audit.Event{
		Timestamp: time.Now().UTC(),
		Action:    audit.ActionAgencyMerge,
		Target:    target,
		Affected:  ids,
		Success:   err == nil,
		Err:       err,
	}
	if res != nil {
		ev.Details = map[string]interface{}{
			"deleted_agency_ids":  res.DeletedAgencyIDs,
			"transferred_results": res.TransferredResults,
		}
	}
	audit.Record(ctx, ev)
}
