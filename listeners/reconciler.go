// Package listeners routes domain events to the agency and connection-link
// services. Every handler is safe to run twice for the same event.
package listeners

import (
	"context"
	"errors"
	"sync"

	"go.pilab.hu/linksync/domain"
	"go.pilab.hu/linksync/eventbus"
	"go.pilab.hu/linksync/log"
	"go.pilab.hu/linksync/services"
)

const source = "reconciler"

// Reconciler keeps agencies and their default links in step with the OAuth
// layer's events.
type Reconciler struct {
	agencies    *services.AgencyService
	links       *services.ConnectionLinkService
	linkMerge   *services.ConnectionLinkMergeService
	agencyMerge *services.AgencyMergeService
	users       domain.UserDirectory
	bus         eventbus.Bus
	logger      log.Logger

	mu   sync.Mutex
	subs []eventbus.Subscription
}

// Config groups the Reconciler's collaborators.
type Config struct {
	Agencies    *services.AgencyService
	Links       *services.ConnectionLinkService
	LinkMerge   *services.ConnectionLinkMergeService
	AgencyMerge *services.AgencyMergeService
	Users       domain.UserDirectory
	Bus         eventbus.Bus
	Logger      log.Logger
}

// NewReconciler creates a Reconciler. Call Register to subscribe it.
func NewReconciler(cfg Config) *Reconciler {
	logger := cfg.Logger
	if logger == nil {
		logger = log.Nop()
	}
	return &Reconciler{
		agencies:    cfg.Agencies,
		links:       cfg.Links,
		linkMerge:   cfg.LinkMerge,
		agencyMerge: cfg.AgencyMerge,
		users:       cfg.Users,
		bus:         cfg.Bus,
		logger:      logger.With(map[string]interface{}{"component": source}),
	}
}

// Register subscribes every handler on the Reconciler's bus.
func (r *Reconciler) Register() {
	r.mu.Lock()
	defer r.mu.Unlock()

	sub := func(topic eventbus.Topic, name string, h eventbus.Handler) {
		r.subs = append(r.subs, r.bus.Subscribe(topic, name, h))
	}

	sub(eventbus.AgencyCreated, "seed_default_links", r.guard("seed_default_links", r.onAgencyCreated))
	sub(eventbus.AgenciesMerged, "merge_connection_links", r.onAgenciesMerged)

	for _, p := range []domain.Platform{domain.PlatformGoogle, domain.PlatformFacebook} {
		sub(accountsDataUpdatedTopic(p), "ensure_agency_"+string(p), r.guard("ensure_agency_"+string(p), r.onAccountsDataUpdated(p)))
		sub(eventbus.CheckCompletedTopic(p), "populate_default_links_"+string(p), r.guard("populate_default_links_"+string(p), r.onCheckCompleted(p)))
		sub(connectedTopic(p), "refresh_default_links_"+string(p), r.guard("refresh_default_links_"+string(p), r.onConnected(p)))
		sub(disconnectedTopic(p), "clear_platform_"+string(p), r.guard("clear_platform_"+string(p), r.onDisconnected(p)))
	}

	for _, t := range []eventbus.Topic{
		eventbus.AuthLoginGoogle, eventbus.AuthLoginFacebook,
		eventbus.AuthRegisterGoogle, eventbus.AuthRegisterFacebook,
	} {
		sub(t, "merge_agencies", r.guard("merge_agencies", r.onAuthenticated))
	}
}

// Close unsubscribes every handler.
func (r *Reconciler) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.subs {
		s.Unsubscribe()
	}
	r.subs = nil
}

func accountsDataUpdatedTopic(p domain.Platform) eventbus.Topic {
	if p == domain.PlatformFacebook {
		return eventbus.UserFacebookAccountsDataUpdated
	}
	return eventbus.UserGoogleAccountsDataUpdated
}

func connectedTopic(p domain.Platform) eventbus.Topic {
	if p == domain.PlatformFacebook {
		return eventbus.FacebookConnectedInternal
	}
	return eventbus.GoogleConnectedInternal
}

func disconnectedTopic(p domain.Platform) eventbus.Topic {
	if p == domain.PlatformFacebook {
		return eventbus.FacebookDisconnectedInternal
	}
	return eventbus.GoogleDisconnectedInternal
}

// guard logs and swallows the handler's error.
func (r *Reconciler) guard(name string, h eventbus.Handler) eventbus.Handler {
	return func(ctx context.Context, ev eventbus.EmittedEvent) error {
		if err := h(ctx, ev); err != nil {
			r.logger.Error(ctx, "Reconciliation handler failed", err, map[string]interface{}{
				"handler": name,
				"topic":   string(ev.Type),
			})
		}
		return nil
	}
}

// onAgencyCreated seeds the view and manage default links of a new agency
// from the owner's current grants. Existing defaults are left alone.
func (r *Reconciler) onAgencyCreated(ctx context.Context, ev eventbus.EmittedEvent) error {
	p, err := eventbus.DecodePayload[eventbus.AgencyCreatedPayload](ev)
	if err != nil {
		return err
	}
	user, err := r.findUser(ctx, p.UserID)
	if err != nil {
		return err
	}

	var errs []error
	for _, t := range domain.AccessTypes {
		_, err := r.links.FindDefaultConnectionLink(ctx, p.AgencyID, t)
		if err == nil {
			continue
		}
		if !errors.Is(err, domain.ErrNotFound) {
			errs = append(errs, err)
			continue
		}
		payload := services.PlatformPayload{
			Google:   services.BuildGoogleServices(user, t),
			Facebook: services.BuildFacebookServices(user),
		}
		if _, err := r.links.CreateDefaultConnectionLink(ctx, p.AgencyID, t, payload); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// onAccountsDataUpdated makes sure the user has an agency, then hands over to
// the check-completed handler so links are populated in one place.
func (r *Reconciler) onAccountsDataUpdated(platform domain.Platform) eventbus.Handler {
	return func(ctx context.Context, ev eventbus.EmittedEvent) error {
		p, err := eventbus.DecodePayload[eventbus.UserPayload](ev)
		if err != nil {
			return err
		}
		if p.UserID == "" {
			return domain.Invariantf("%s without user id", ev.Type)
		}

		created := false
		agency, err := r.agencies.FindAgency(ctx, domain.AgencyFilter{UserID: p.UserID})
		if errors.Is(err, domain.ErrNotFound) {
			email := ""
			if user, _ := r.findUser(ctx, p.UserID); user != nil {
				email = user.PrimaryEmail()
			}
			agency, err = r.agencies.CreateAgency(ctx, services.CreateAgencyInput{UserID: p.UserID, Email: email}, ev.CorrelationID)
			if agency == nil {
				return err
			}
			if err != nil {
				r.logger.Warn(ctx, "Agency created with failing handlers", map[string]interface{}{
					"agency_id": agency.ID,
					"error":     err.Error(),
				})
			}
			created = true
		} else if err != nil {
			return err
		}

		return r.bus.EmitAsync(ctx, eventbus.CheckCompletedTopic(platform), eventbus.AgencyCheckedPayload{
			AgencyID:      agency.ID,
			UserID:        p.UserID,
			AgencyCreated: created,
		}, source, ev.CorrelationID)
	}
}

// onCheckCompleted pushes the platform's fresh payload into both default
// links. A just-created agency only gets sections it does not have yet.
func (r *Reconciler) onCheckCompleted(platform domain.Platform) eventbus.Handler {
	return func(ctx context.Context, ev eventbus.EmittedEvent) error {
		p, err := eventbus.DecodePayload[eventbus.AgencyCheckedPayload](ev)
		if err != nil {
			return err
		}
		return r.rebuild(ctx, p.AgencyID, p.UserID, platform, p.AgencyCreated)
	}
}

func (r *Reconciler) onConnected(platform domain.Platform) eventbus.Handler {
	return func(ctx context.Context, ev eventbus.EmittedEvent) error {
		p, err := eventbus.DecodePayload[eventbus.UserPayload](ev)
		if err != nil {
			return err
		}
		agency, err := r.agencies.FindAgency(ctx, domain.AgencyFilter{UserID: p.UserID})
		if errors.Is(err, domain.ErrNotFound) {
			r.logger.Debug(ctx, "No agency to refresh", map[string]interface{}{"user_id": p.UserID})
			return nil
		}
		if err != nil {
			return err
		}
		return r.rebuild(ctx, agency.ID, p.UserID, platform, false)
	}
}

// onDisconnected nulls the platform section on every link of the agency,
// custom links included: a revoked grant invalidates all of them.
func (r *Reconciler) onDisconnected(platform domain.Platform) eventbus.Handler {
	return func(ctx context.Context, ev eventbus.EmittedEvent) error {
		p, err := eventbus.DecodePayload[eventbus.UserPayload](ev)
		if err != nil {
			return err
		}
		agency, err := r.agencies.FindAgency(ctx, domain.AgencyFilter{UserID: p.UserID})
		if errors.Is(err, domain.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		n, err := r.links.ClearPlatform(ctx, agency.ID, platform)
		if err != nil {
			return err
		}
		r.logger.Info(ctx, "Platform cleared from connection links", map[string]interface{}{
			"agency_id": agency.ID,
			"platform":  string(platform),
			"links":     n,
		})
		return nil
	}
}

// onAgenciesMerged re-runs the link merge. Its error is returned: links must
// follow a committed agency merge.
func (r *Reconciler) onAgenciesMerged(ctx context.Context, ev eventbus.EmittedEvent) error {
	p, err := eventbus.DecodePayload[eventbus.AgenciesMergedPayload](ev)
	if err != nil {
		return err
	}
	_, err = r.linkMerge.Merge(ctx, p.AgencyIDs, p.TargetAgencyID)
	return err
}

func (r *Reconciler) onAuthenticated(ctx context.Context, ev eventbus.EmittedEvent) error {
	p, err := eventbus.DecodePayload[eventbus.UserPayload](ev)
	if err != nil {
		return err
	}
	_, err = r.agencyMerge.MergeByUserID(ctx, p.UserID)
	return err
}

func (r *Reconciler) rebuild(ctx context.Context, agencyID, userID string, platform domain.Platform, skipIfExists bool) error {
	user, err := r.findUser(ctx, userID)
	if err != nil {
		return err
	}
	if user == nil {
		r.logger.Warn(ctx, "User not found, default links left as is", map[string]interface{}{"user_id": userID})
		return nil
	}

	var errs []error
	for _, t := range domain.AccessTypes {
		payload := services.BuildPlatformPayload(user, platform, t)
		outcome, err := r.links.UpsertDefaultPlatform(ctx, agencyID, t, platform, payload, skipIfExists)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		r.logger.Debug(ctx, "Default link reconciled", map[string]interface{}{
			"agency_id":   agencyID,
			"access_type": string(t),
			"platform":    string(platform),
			"outcome":     string(outcome),
		})
	}
	return errors.Join(errs...)
}

// findUser returns nil without error when the user is unknown.
func (r *Reconciler) findUser(ctx context.Context, userID string) (*domain.User, error) {
	if r.users == nil || userID == "" {
		return nil, nil
	}
	user, err := r.users.FindUser(ctx, userID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, nil
	}
	return user, err
}
