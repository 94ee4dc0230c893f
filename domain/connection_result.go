package domain

import "time"

// Outcomes of a single grant attempt.
const (
	GrantStatusGranted = "granted"
	GrantStatusFailed  = "failed"
)

// ConnectionResult records what a client actually granted through a link.
// It is referenced, never owned, by agencies and links.
type ConnectionResult struct {
	ID               string                     `bson:"_id,omitempty"              json:"id,omitempty"`
	AgencyID         string                     `bson:"agency_id"                  json:"agency_id"`
	ConnectionLinkID string                     `bson:"connection_link_id"         json:"connection_link_id"`
	GoogleUserID     string                     `bson:"google_user_id,omitempty"   json:"google_user_id,omitempty"`
	FacebookUserID   string                     `bson:"facebook_user_id,omitempty" json:"facebook_user_id,omitempty"`
	GrantedAccesses  map[string][]GrantedAccess `bson:"granted_accesses"           json:"granted_accesses"`
	AccessType       AccessType                 `bson:"access_type"                json:"access_type"`
	CreatedAt        time.Time                  `bson:"created_at"                 json:"created_at"`
	UpdatedAt        time.Time                  `bson:"updated_at"                 json:"updated_at"`
}

// GrantedAccess is the outcome of one grant against one resource.
type GrantedAccess struct {
	Service      string `bson:"service"                 json:"service"`
	ResourceID   string `bson:"resource_id,omitempty"   json:"resource_id,omitempty"`
	ResourceName string `bson:"resource_name,omitempty" json:"resource_name,omitempty"`
	Status       string `bson:"status"                  json:"status"`
	Error        string `bson:"error,omitempty"         json:"error,omitempty"`
}

// ConnectionResultFilter selects connection results.
type ConnectionResultFilter struct {
	AgencyID         string
	ConnectionLinkID string
	AccessType       AccessType
}

// ListOptions paginates and sorts list queries. Page is 1-based.
type ListOptions struct {
	Page     int
	PageSize int
	SortBy   string
	SortDesc bool
}

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// Normalize applies defaults and bounds.
func (o ListOptions) Normalize() ListOptions {
	if o.Page < 1 {
		o.Page = 1
	}
	if o.PageSize <= 0 {
		o.PageSize = defaultPageSize
	}
	if o.PageSize > maxPageSize {
		o.PageSize = maxPageSize
	}
	if o.SortBy == "" {
		o.SortBy = "created_at"
	}
	return o
}

// Skip is the number of documents preceding the requested page.
func (o ListOptions) Skip() int {
	return (o.Page - 1) * o.PageSize
}

// Clone returns a deep copy of the result.
func (r *ConnectionResult) Clone() *ConnectionResult {
	if r == nil {
		return nil
	}
	c := *r
	if r.GrantedAccesses != nil {
		c.GrantedAccesses = make(map[string][]GrantedAccess, len(r.GrantedAccesses))
		for k, v := range r.GrantedAccesses {
			c.GrantedAccesses[k] = append([]GrantedAccess(nil), v...)
		}
	}
	return &c
}
