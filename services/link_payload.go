package services

import "go.pilab.hu/linksync/domain"

// BuildGoogleServices derives the Google section of a default link from the
// user's connected Google account. It returns nil when the user has none.
func BuildGoogleServices(user *domain.User, accessType domain.AccessType) *domain.GoogleServices {
	if user == nil || user.Google == nil {
		return nil
	}
	g := user.Google
	method := domain.AdsMethodEmail
	if accessType == domain.AccessTypeManage && g.AdsManagerCustomerID != "" {
		method = domain.AdsMethodManagerAccount
	}
	return &domain.GoogleServices{
		GoogleAds:            &domain.GoogleAdsService{IsEnabled: g.Scopes.Ads, Method: method, Email: g.Email},
		GoogleAnalytics:      &domain.GoogleService{IsEnabled: g.Scopes.Analytics, Email: g.Email},
		GoogleMerchantCenter: &domain.GoogleService{IsEnabled: g.Scopes.MerchantCenter, Email: g.Email},
		GoogleMyBusiness:     &domain.GoogleMyBusinessService{IsEnabled: g.Scopes.MyBusiness, EmailOrID: g.Email},
		GoogleSearchConsole:  &domain.GoogleService{IsEnabled: g.Scopes.SearchConsole, Email: g.Email},
		GoogleTagManager:     &domain.GoogleService{IsEnabled: g.Scopes.TagManager, Email: g.Email},
	}
}

// BuildFacebookServices derives the Facebook section of a default link from
// the user's connected Facebook account. It returns nil when the user has none.
func BuildFacebookServices(user *domain.User) *domain.FacebookServices {
	if user == nil || user.Facebook == nil {
		return nil
	}
	f := user.Facebook
	svc := func(enabled bool) *domain.FacebookService {
		return &domain.FacebookService{IsEnabled: enabled, BusinessPortfolioID: f.BusinessPortfolioID}
	}
	return &domain.FacebookServices{
		FacebookAds:      svc(f.Scopes.AdAccount),
		FacebookBusiness: svc(f.Scopes.Business),
		FacebookPages:    svc(f.Scopes.Page),
		FacebookCatalog:  svc(f.Scopes.Catalog),
		FacebookPixel:    svc(f.Scopes.Pixel),
	}
}

// PlatformPayload is the data one platform contributes to a default link.
// Exactly one of Google and Facebook is set.
type PlatformPayload struct {
	Google   *domain.GoogleServices
	Facebook *domain.FacebookServices
}

// IsEmpty reports whether the payload carries nothing.
func (p PlatformPayload) IsEmpty() bool {
	return p.Google.IsEmpty() && p.Facebook.IsEmpty()
}

// BuildPlatformPayload rebuilds the platform section for accessType from the
// user's current grants.
func BuildPlatformPayload(user *domain.User, platform domain.Platform, accessType domain.AccessType) PlatformPayload {
	switch platform {
	case domain.PlatformGoogle:
		return PlatformPayload{Google: BuildGoogleServices(user, accessType)}
	case domain.PlatformFacebook:
		return PlatformPayload{Facebook: BuildFacebookServices(user)}
	}
	return PlatformPayload{}
}
