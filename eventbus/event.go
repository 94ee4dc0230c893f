package eventbus

import (
	"fmt"
	"time"

	"go.pilab.hu/linksync/domain"
)

// Topic names an event type.
type Topic string

// Topics published by the OAuth layer and consumed by reconciliation.
const (
	AuthLoginGoogle                 Topic = "auth.login.google"
	AuthLoginFacebook               Topic = "auth.login.facebook"
	AuthRegisterGoogle              Topic = "auth.register.google"
	AuthRegisterFacebook            Topic = "auth.register.facebook"
	UserGoogleAccountsDataUpdated   Topic = "user.google.accounts_data_updated"
	UserFacebookAccountsDataUpdated Topic = "user.facebook.accounts_data_updated"
	GoogleConnectedInternal         Topic = "google.connected.internal"
	FacebookConnectedInternal       Topic = "facebook.connected.internal"
	GoogleDisconnectedInternal      Topic = "google.disconnected.internal"
	FacebookDisconnectedInternal    Topic = "facebook.disconnected.internal"
)

// Topics published by this engine.
const (
	AgencyCreated                                Topic = "agency.created"
	AgencyCheckedAfterGoogleAccountDataUpdated   Topic = "agency.checked_after.google.account_data_updated"
	AgencyCheckedAfterFacebookAccountDataUpdated Topic = "agency.checked_after.facebook.account_data_updated"
	AgenciesMerged                               Topic = "agencies.merged"
)

// PublishedTopics are the topics downstream consumers follow.
var PublishedTopics = []Topic{
	AgencyCreated,
	AgencyCheckedAfterGoogleAccountDataUpdated,
	AgencyCheckedAfterFacebookAccountDataUpdated,
	AgenciesMerged,
}

// CheckCompletedTopic returns the check-completed topic for platform p.
func CheckCompletedTopic(p domain.Platform) Topic {
	if p == domain.PlatformFacebook {
		return AgencyCheckedAfterFacebookAccountDataUpdated
	}
	return AgencyCheckedAfterGoogleAccountDataUpdated
}

// EmittedEvent wraps every value dispatched on the bus.
type EmittedEvent struct {
	Timestamp     time.Time `json:"timestamp"`
	Source        string    `json:"source"`
	Type          Topic     `json:"type"`
	Payload       any       `json:"payload"`
	CorrelationID string    `json:"correlation_id"`
}

// UserPayload identifies the end-user an OAuth-layer event is about.
type UserPayload struct {
	UserID string `json:"user_id"`
}

// AgencyCreatedPayload is carried by AgencyCreated.
type AgencyCreatedPayload struct {
	AgencyID string `json:"agency_id"`
	UserID   string `json:"user_id"`
}

// AgencyCheckedPayload is carried by the check-completed topics.
// AgencyCreated is set when the check had to create the agency.
type AgencyCheckedPayload struct {
	AgencyID      string `json:"agency_id"`
	UserID        string `json:"user_id"`
	AgencyCreated bool   `json:"agency_created"`
}

// AgenciesMergedPayload is carried by AgenciesMerged.
type AgenciesMergedPayload struct {
	AgencyIDs      []string `json:"agency_ids"`
	TargetAgencyID string   `json:"target_agency_id"`
}

// DecodePayload extracts a T (or *T) payload from ev.
func DecodePayload[T any](ev EmittedEvent) (T, error) {
	var zero T
	switch p := ev.Payload.(type) {
	case T:
		return p, nil
	case *T:
		if p != nil {
			return *p, nil
		}
	}
	return zero, fmt.Errorf("%w: unexpected payload %T for topic %s", domain.ErrInvariantViolation, ev.Payload, ev.Type)
}
