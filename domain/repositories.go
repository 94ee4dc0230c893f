package domain

import (
	"context"
)

// AgencyRepository persists agencies. List results are ordered by CreatedAt
// ascending.
type AgencyRepository interface {
	CreateAgency(ctx context.Context, agency *Agency) error
	GetAgencyByID(ctx context.Context, id string) (*Agency, error)
	FindAgency(ctx context.Context, filter AgencyFilter) (*Agency, error)
	ListAgencies(ctx context.Context, filter AgencyFilter) ([]*Agency, error)
	UpdateAgency(ctx context.Context, id string, patch AgencyPatch) error
	DeleteAgency(ctx context.Context, id string) error
	DeleteAgencies(ctx context.Context, ids []string) (int64, error)
}

// ConnectionLinkRepository persists connection links. List results are ordered
// by CreatedAt ascending.
type ConnectionLinkRepository interface {
	CreateConnectionLink(ctx context.Context, link *ConnectionLink) error
	GetConnectionLinkByID(ctx context.Context, id string) (*ConnectionLink, error)
	FindDefaultConnectionLink(ctx context.Context, agencyID string, accessType AccessType) (*ConnectionLink, error)
	ListConnectionLinks(ctx context.Context, filter ConnectionLinkFilter) ([]*ConnectionLink, error)
	UpdateConnectionLink(ctx context.Context, id string, patch ConnectionLinkPatch) error
	// UnsetDefaults clears IsDefault on every default link of (agencyID,
	// accessType) except exceptID.
	UnsetDefaults(ctx context.Context, agencyID string, accessType AccessType, exceptID string) (int64, error)
	// ReassignConnectionLinks moves every link matching filter to agencyID.
	ReassignConnectionLinks(ctx context.Context, filter ConnectionLinkFilter, agencyID string) (int64, error)
	// ClearPlatform nulls the platform section on every link of agencyID
	// that carries it.
	ClearPlatform(ctx context.Context, agencyID string, platform Platform) (int64, error)
	DeleteConnectionLink(ctx context.Context, id string) error
	DeleteConnectionLinks(ctx context.Context, ids []string) (int64, error)
}

// ConnectionResultRepository persists connection results.
type ConnectionResultRepository interface {
	CreateConnectionResult(ctx context.Context, result *ConnectionResult) error
	GetConnectionResultByID(ctx context.Context, id string) (*ConnectionResult, error)
	ListConnectionResults(ctx context.Context, filter ConnectionResultFilter, opts ListOptions) ([]*ConnectionResult, int64, error)
	TransferConnectionResults(ctx context.Context, sourceAgencyIDs []string, targetAgencyID string) (int64, error)
	DeleteConnectionResult(ctx context.Context, id string) error
}

// UserDirectory resolves end-users and their granted scopes.
type UserDirectory interface {
	FindUser(ctx context.Context, id string) (*User, error)
}

// Transactor runs fn inside a store-native transaction. Every repository call
// made with the context passed to fn joins the transaction; a returned error
// rolls all of them back.
type Transactor interface {
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}
