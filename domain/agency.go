package domain

import "time"

// Agency is the reconciled identity record of one agency user across Google
// and Facebook sign-ins. At most one agency exists per UserID once
// reconciliation has run.
type Agency struct {
	ID                string             `bson:"_id,omitempty"                 json:"id,omitempty"`
	UserID            string             `bson:"user_id"                       json:"user_id"`
	Email             string             `bson:"email"                         json:"email"`
	DefaultAccessLink *DefaultAccessLink `bson:"default_access_link,omitempty" json:"default_access_link,omitempty"`
	BillingID         string             `bson:"billing_id,omitempty"          json:"billing_id,omitempty"`
	CreatedAt         time.Time          `bson:"created_at"                    json:"created_at"`
	UpdatedAt         time.Time          `bson:"updated_at"                    json:"updated_at"`
}

// DefaultAccessLink is a denormalized snapshot of the agency's current default
// view and manage links. The connection-link store stays the source of truth.
type DefaultAccessLink struct {
	View        *LinkSnapshot `bson:"view,omitempty"   json:"view,omitempty"`
	Manage      *LinkSnapshot `bson:"manage,omitempty" json:"manage,omitempty"`
	RefreshedAt time.Time     `bson:"refreshed_at"     json:"refreshed_at"`
}

// LinkSnapshot copies the platform data of one default link.
type LinkSnapshot struct {
	LinkID   string            `bson:"link_id"            json:"link_id"`
	Google   *GoogleServices   `bson:"google,omitempty"   json:"google,omitempty"`
	Facebook *FacebookServices `bson:"facebook,omitempty" json:"facebook,omitempty"`
}

// AgencyFilter selects agencies. Empty fields are ignored.
type AgencyFilter struct {
	IDs    []string
	UserID string
	Email  string
}

// AgencyPatch is a partial agency update. Nil fields are left untouched.
type AgencyPatch struct {
	UserID                 *string
	Email                  *string
	BillingID              *string
	DefaultAccessLink      *DefaultAccessLink
	ClearDefaultAccessLink bool
}

// IsEmpty reports whether the patch changes nothing.
func (p AgencyPatch) IsEmpty() bool {
	return p.UserID == nil && p.Email == nil && p.BillingID == nil &&
		p.DefaultAccessLink == nil && !p.ClearDefaultAccessLink
}

// Clone returns a deep copy of the agency.
func (a *Agency) Clone() *Agency {
	if a == nil {
		return nil
	}
	c := *a
	c.DefaultAccessLink = a.DefaultAccessLink.Clone()
	return &c
}

// Clone returns a deep copy of the snapshot.
func (d *DefaultAccessLink) Clone() *DefaultAccessLink {
	if d == nil {
		return nil
	}
	c := *d
	c.View = d.View.Clone()
	c.Manage = d.Manage.Clone()
	return &c
}

// Clone returns a deep copy of the link snapshot.
func (s *LinkSnapshot) Clone() *LinkSnapshot {
	if s == nil {
		return nil
	}
	return &LinkSnapshot{
		LinkID:   s.LinkID,
		Google:   s.Google.Clone(),
		Facebook: s.Facebook.Clone(),
	}
}
