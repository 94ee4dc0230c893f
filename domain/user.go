package domain

import "time"

// User is the read-only view of an end-user the identity layer exposes to
// reconciliation: who they are on each platform and which scopes they granted.
type User struct {
	ID        string            `bson:"_id,omitempty"      json:"id,omitempty"`
	Email     string            `bson:"email"              json:"email"`
	Google    *GoogleIdentity   `bson:"google,omitempty"   json:"google,omitempty"`
	Facebook  *FacebookIdentity `bson:"facebook,omitempty" json:"facebook,omitempty"`
	CreatedAt time.Time         `bson:"created_at"         json:"created_at"`
	UpdatedAt time.Time         `bson:"updated_at"         json:"updated_at"`
}

// GoogleIdentity is the user's connected Google account.
type GoogleIdentity struct {
	UserID               string       `bson:"user_id"                           json:"user_id"`
	Email                string       `bson:"email"                             json:"email"`
	AdsManagerCustomerID string       `bson:"ads_manager_customer_id,omitempty" json:"ads_manager_customer_id,omitempty"`
	Scopes               GoogleScopes `bson:"scopes"                            json:"scopes"`
}

// GoogleScopes are the granted-scope flags of a Google account.
type GoogleScopes struct {
	Ads            bool `bson:"ads"             json:"ads"`
	Analytics      bool `bson:"analytics"       json:"analytics"`
	MerchantCenter bool `bson:"merchant_center" json:"merchant_center"`
	MyBusiness     bool `bson:"my_business"     json:"my_business"`
	SearchConsole  bool `bson:"search_console"  json:"search_console"`
	TagManager     bool `bson:"tag_manager"     json:"tag_manager"`
}

// FacebookIdentity is the user's connected Facebook account.
type FacebookIdentity struct {
	UserID              string         `bson:"user_id"                         json:"user_id"`
	Email               string         `bson:"email,omitempty"                 json:"email,omitempty"`
	BusinessPortfolioID string         `bson:"business_portfolio_id,omitempty" json:"business_portfolio_id,omitempty"`
	Scopes              FacebookScopes `bson:"scopes"                          json:"scopes"`
}

// FacebookScopes are the granted-scope flags of a Facebook account.
type FacebookScopes struct {
	AdAccount bool `bson:"ad_account" json:"ad_account"`
	Business  bool `bson:"business"   json:"business"`
	Page      bool `bson:"page"       json:"page"`
	Catalog   bool `bson:"catalog"    json:"catalog"`
	Pixel     bool `bson:"pixel"      json:"pixel"`
}

// PrimaryEmail returns the email an agency created for this user should carry.
func (u *User) PrimaryEmail() string {
	switch {
	case u.Email != "":
		return u.Email
	case u.Google != nil && u.Google.Email != "":
		return u.Google.Email
	case u.Facebook != nil:
		return u.Facebook.Email
	}
	return ""
}
