package domain

import (
	"fmt"
	"time"
)

// AccessType is the level of access a connection link requests.
type AccessType string

const (
	AccessTypeView   AccessType = "view"
	AccessTypeManage AccessType = "manage"
)

// AccessTypes lists every access type a default link exists for.
var AccessTypes = []AccessType{AccessTypeView, AccessTypeManage}

// Valid reports whether t is a known access type.
func (t AccessType) Valid() bool {
	return t == AccessTypeView || t == AccessTypeManage
}

// Platform identifies the OAuth platform a link section belongs to.
type Platform string

const (
	PlatformGoogle   Platform = "google"
	PlatformFacebook Platform = "facebook"
)

// Valid reports whether p is a known platform.
func (p Platform) Valid() bool {
	return p == PlatformGoogle || p == PlatformFacebook
}

// Delivery methods for Google Ads access requests.
const (
	AdsMethodEmail          = "email"
	AdsMethodManagerAccount = "manager_account"
)

// ConnectionLink is a shareable template describing which services an agency
// asks a client to grant, at one access level. For a given (AgencyID, Type)
// exactly one link has IsDefault set.
type ConnectionLink struct {
	ID        string            `bson:"_id,omitempty"      json:"id,omitempty"`
	AgencyID  string            `bson:"agency_id"          json:"agency_id"`
	Name      string            `bson:"name,omitempty"     json:"name,omitempty"`
	IsDefault bool              `bson:"is_default"         json:"is_default"`
	Type      AccessType        `bson:"type"               json:"type"`
	Google    *GoogleServices   `bson:"google,omitempty"   json:"google,omitempty"`
	Facebook  *FacebookServices `bson:"facebook,omitempty" json:"facebook,omitempty"`
	CreatedAt time.Time         `bson:"created_at"         json:"created_at"`
	UpdatedAt time.Time         `bson:"updated_at"         json:"updated_at"`
}

// GoogleServices is the per-service Google section of a link.
type GoogleServices struct {
	GoogleAds            *GoogleAdsService        `bson:"google_ads,omitempty"             json:"google_ads,omitempty"`
	GoogleAnalytics      *GoogleService           `bson:"google_analytics,omitempty"       json:"google_analytics,omitempty"`
	GoogleMerchantCenter *GoogleService           `bson:"google_merchant_center,omitempty" json:"google_merchant_center,omitempty"`
	GoogleMyBusiness     *GoogleMyBusinessService `bson:"google_my_business,omitempty"     json:"google_my_business,omitempty"`
	GoogleSearchConsole  *GoogleService           `bson:"google_search_console,omitempty"  json:"google_search_console,omitempty"`
	GoogleTagManager     *GoogleService           `bson:"google_tag_manager,omitempty"     json:"google_tag_manager,omitempty"`
}

// GoogleService is a Google service requested against an account email.
type GoogleService struct {
	IsEnabled bool   `bson:"is_enabled"      json:"is_enabled"`
	Email     string `bson:"email,omitempty" json:"email,omitempty"`
}

// GoogleAdsService additionally carries how access is delivered.
type GoogleAdsService struct {
	IsEnabled bool   `bson:"is_enabled"       json:"is_enabled"`
	Method    string `bson:"method,omitempty" json:"method,omitempty"`
	Email     string `bson:"email,omitempty"  json:"email,omitempty"`
}

// GoogleMyBusinessService is requested against an email or a location group id.
type GoogleMyBusinessService struct {
	IsEnabled bool   `bson:"is_enabled"            json:"is_enabled"`
	EmailOrID string `bson:"email_or_id,omitempty" json:"email_or_id,omitempty"`
}

// FacebookServices is the per-service Facebook section of a link.
type FacebookServices struct {
	FacebookAds      *FacebookService `bson:"facebook_ads,omitempty"      json:"facebook_ads,omitempty"`
	FacebookBusiness *FacebookService `bson:"facebook_business,omitempty" json:"facebook_business,omitempty"`
	FacebookPages    *FacebookService `bson:"facebook_pages,omitempty"    json:"facebook_pages,omitempty"`
	FacebookCatalog  *FacebookService `bson:"facebook_catalog,omitempty"  json:"facebook_catalog,omitempty"`
	FacebookPixel    *FacebookService `bson:"facebook_pixel,omitempty"    json:"facebook_pixel,omitempty"`
}

// FacebookService is a Facebook asset requested through a business portfolio.
type FacebookService struct {
	IsEnabled           bool   `bson:"is_enabled"                      json:"is_enabled"`
	BusinessPortfolioID string `bson:"business_portfolio_id,omitempty" json:"business_portfolio_id,omitempty"`
}

// ConnectionLinkFilter selects connection links. Zero fields are ignored.
type ConnectionLinkFilter struct {
	AgencyIDs []string
	Type      AccessType
	IsDefault *bool
	// ExcludeAgencyID drops links owned by this agency from the match.
	ExcludeAgencyID string
}

// ConnectionLinkPatch is a partial connection-link update. Nil fields are left
// untouched; ClearGoogle/ClearFacebook null the platform section.
type ConnectionLinkPatch struct {
	AgencyID      *string
	Name          *string
	IsDefault     *bool
	Type          *AccessType
	Google        *GoogleServices
	Facebook      *FacebookServices
	ClearGoogle   bool
	ClearFacebook bool
}

// HasPlatform reports whether the link carries a non-empty section for p.
func (l *ConnectionLink) HasPlatform(p Platform) bool {
	switch p {
	case PlatformGoogle:
		return !l.Google.IsEmpty()
	case PlatformFacebook:
		return !l.Facebook.IsEmpty()
	}
	return false
}

// Clone returns a deep copy of the link.
func (l *ConnectionLink) Clone() *ConnectionLink {
	if l == nil {
		return nil
	}
	c := *l
	c.Google = l.Google.Clone()
	c.Facebook = l.Facebook.Clone()
	return &c
}

// IsEmpty reports whether no Google service is present.
func (g *GoogleServices) IsEmpty() bool {
	return g == nil || (g.GoogleAds == nil && g.GoogleAnalytics == nil &&
		g.GoogleMerchantCenter == nil && g.GoogleMyBusiness == nil &&
		g.GoogleSearchConsole == nil && g.GoogleTagManager == nil)
}

// Clone returns a deep copy.
func (g *GoogleServices) Clone() *GoogleServices {
	if g == nil {
		return nil
	}
	return &GoogleServices{
		GoogleAds:            clonePtr(g.GoogleAds),
		GoogleAnalytics:      clonePtr(g.GoogleAnalytics),
		GoogleMerchantCenter: clonePtr(g.GoogleMerchantCenter),
		GoogleMyBusiness:     clonePtr(g.GoogleMyBusiness),
		GoogleSearchConsole:  clonePtr(g.GoogleSearchConsole),
		GoogleTagManager:     clonePtr(g.GoogleTagManager),
	}
}

// IsEmpty reports whether no Facebook service is present.
func (f *FacebookServices) IsEmpty() bool {
	return f == nil || (f.FacebookAds == nil && f.FacebookBusiness == nil &&
		f.FacebookPages == nil && f.FacebookCatalog == nil && f.FacebookPixel == nil)
}

// Clone returns a deep copy.
func (f *FacebookServices) Clone() *FacebookServices {
	if f == nil {
		return nil
	}
	return &FacebookServices{
		FacebookAds:      clonePtr(f.FacebookAds),
		FacebookBusiness: clonePtr(f.FacebookBusiness),
		FacebookPages:    clonePtr(f.FacebookPages),
		FacebookCatalog:  clonePtr(f.FacebookCatalog),
		FacebookPixel:    clonePtr(f.FacebookPixel),
	}
}

// ParseAccessType converts s into an AccessType.
func ParseAccessType(s string) (AccessType, error) {
	t := AccessType(s)
	if !t.Valid() {
		return "", fmt.Errorf("%w: unknown access type %q", ErrInvariantViolation, s)
	}
	return t, nil
}

func clonePtr[T any](v *T) *T {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}
