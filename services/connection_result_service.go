package services

import (
	"context"
	"fmt"
	"strings"

	"go.pilab.hu/linksync/domain"
	"go.pilab.hu/linksync/log"
)

// ConnectionResultService records the grants clients made through links.
type ConnectionResultService struct {
	repo   domain.ConnectionResultRepository
	logger log.Logger
}

// NewConnectionResultService creates a ConnectionResultService.
func NewConnectionResultService(repo domain.ConnectionResultRepository, logger log.Logger) *ConnectionResultService {
	if logger == nil {
		logger = log.Nop()
	}
	return &ConnectionResultService{
		repo:   repo,
		logger: logger.With(map[string]interface{}{"component": "connection_result_service"}),
	}
}

// CreateConnectionResult stores a grant outcome.
func (s *ConnectionResultService) CreateConnectionResult(ctx context.Context, result *domain.ConnectionResult) error {
	if strings.TrimSpace(result.AgencyID) == "" {
		return domain.Invariantf("connection result requires an agency id")
	}
	if result.AccessType != "" && !result.AccessType.Valid() {
		return domain.Invariantf("unknown access type %q", result.AccessType)
	}
	if err := s.repo.CreateConnectionResult(ctx, result); err != nil {
		return fmt.Errorf("create connection result for agency %s: %w", result.AgencyID, err)
	}
	return nil
}

// GetConnectionResult returns the result with id.
func (s *ConnectionResultService) GetConnectionResult(ctx context.Context, id string) (*domain.ConnectionResult, error) {
	return s.repo.GetConnectionResultByID(ctx, id)
}

// ListConnectionResults returns one page of results and the total match count.
func (s *ConnectionResultService) ListConnectionResults(ctx context.Context, filter domain.ConnectionResultFilter, opts domain.ListOptions) ([]*domain.ConnectionResult, int64, error) {
	return s.repo.ListConnectionResults(ctx, filter, opts.Normalize())
}

// DeleteConnectionResult removes the result with id.
func (s *ConnectionResultService) DeleteConnectionResult(ctx context.Context, id string) error {
	return s.repo.DeleteConnectionResult(ctx, id)
}

// TransferConnectionResultsToAgency repoints every result owned by one of
// sourceAgencyIDs to targetAgencyID and returns the number moved.
func (s *ConnectionResultService) TransferConnectionResultsToAgency(ctx context.Context, sourceAgencyIDs []string, targetAgencyID string) (int64, error) {
	if targetAgencyID == "" {
		return 0, domain.Invariantf("transfer requires a target agency id")
	}
	sources := make([]string, 0, len(sourceAgencyIDs))
	for _, id := range sourceAgencyIDs {
		if id != "" && id != targetAgencyID {
			sources = append(sources, id)
		}
	}
	if len(sources) == 0 {
		return 0, nil
	}
	n, err := s.repo.TransferConnectionResults(ctx, sources, targetAgencyID)
	if err != nil {
		return 0, fmt.Errorf("transfer connection results to agency %s: %w", targetAgencyID, err)
	}
	s.logger.Debug(ctx, "Connection results transferred", map[string]interface{}{
		"target_agency_id": targetAgencyID,
		"source_count":     len(sources),
		"transferred":      n,
	})
	return n, nil
}
