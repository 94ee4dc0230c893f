package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
)

var (
	EventsEmittedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "linksync_events_emitted_total",
		Help: "Total number of events emitted on the event bus.",
	}, []string{"topic", "mode"})
	HandlerFailuresTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "linksync_handler_failures_total",
		Help: "Total number of event handler invocations that returned an error.",
	}, []string{"topic", "handler"})
	AgencyMergesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "linksync_agency_merges_total",
		Help: "Total number of agency merge attempts by outcome.",
	}, []string{"outcome"})
	AgenciesDeletedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "linksync_agencies_deleted_by_merge_total",
		Help: "Total number of duplicate agencies deleted by merges.",
	})
	LinkMergesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "linksync_connection_link_merges_total",
		Help: "Total number of per-access-type default link merges by path.",
	}, []string{"type", "path"})
	DefaultLinkUpsertsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "linksync_default_link_upserts_total",
		Help: "Total number of default link reconciliation writes by platform and outcome.",
	}, []string{"platform", "outcome"})
)

// Outcome label values.
const (
	OutcomeNoop    = "noop"
	OutcomeMerged  = "merged"
	OutcomeFailed  = "failed"
	OutcomePartial = "partial"
	OutcomeCreated = "created"
	OutcomeUpdated = "updated"
	OutcomeSkipped = "skipped"
)

// InitCustomMetrics registers custom Prometheus metrics.
// It should be called once at application startup.
func InitCustomMetrics(reg prometheus.Registerer) {
	if reg == nil {
		log.Error().Msg("Prometheus registry is nil, cannot register custom metrics.")
		return
	}
	collectors := map[string]prometheus.Collector{
		"EventsEmittedTotal":      EventsEmittedTotal,
		"HandlerFailuresTotal":    HandlerFailuresTotal,
		"AgencyMergesTotal":       AgencyMergesTotal,
		"AgenciesDeletedTotal":    AgenciesDeletedTotal,
		"LinkMergesTotal":         LinkMergesTotal,
		"DefaultLinkUpsertsTotal": DefaultLinkUpsertsTotal,
	}
	for name, c := range collectors {
		if err := reg.Register(c); err != nil {
			log.Warn().Err(err).Str("metric", name).Msg("Failed to register metric")
		}
	}
	log.Info().Msg("Custom Prometheus metrics registered.")
}
