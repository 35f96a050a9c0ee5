// Package metrics exposes the pipeline's four running counters (spec.md
// §8's "events consumed/processed, notifications produced, duplicates
// skipped") as Prometheus collectors. Grounded on
// axonops-axonops-schema-registry/internal/metrics/metrics.go: a private
// prometheus.Registry (not the global default, so multiple Metrics
// instances never collide in tests), plain Counters for the four running
// counts and a CounterVec for the per-environment one, and a Handler()
// returning the promhttp handler for that registry.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the pipeline's Prometheus collectors.
type Metrics struct {
	EventsConsumed         prometheus.Counter
	EventsProcessed        prometheus.Counter
	NotificationsProduced  prometheus.Counter
	DuplicatesSkipped      prometheus.Counter
	RegistryLookupFailures *prometheus.CounterVec
	DedupStoreSize         prometheus.Gauge

	registry *prometheus.Registry
}

// New creates a Metrics instance with all collectors registered.
func New() *Metrics {
	m := &Metrics{registry: prometheus.NewRegistry()}

	m.EventsConsumed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "schema_change_notifier_events_consumed_total",
		Help: "Total number of audit events read from the source topic.",
	})
	m.EventsProcessed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "schema_change_notifier_events_processed_total",
		Help: "Total number of audit events that passed the relevance filter.",
	})
	m.NotificationsProduced = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "schema_change_notifier_notifications_produced_total",
		Help: "Total number of notifications published to the target topic.",
	})
	m.DuplicatesSkipped = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "schema_change_notifier_duplicates_skipped_total",
		Help: "Total number of events skipped because their dedup key was already seen.",
	})
	m.RegistryLookupFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "schema_change_notifier_registry_lookup_failures_total",
		Help: "Total number of failed schema registry lookups, by environment.",
	}, []string{"environment"})
	m.DedupStoreSize = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "schema_change_notifier_dedup_store_size",
		Help: "Current number of keys held in the dedup store.",
	})

	m.registry.MustRegister(
		m.EventsConsumed,
		m.EventsProcessed,
		m.NotificationsProduced,
		m.DuplicatesSkipped,
		m.RegistryLookupFailures,
		m.DedupStoreSize,
	)
	m.registry.MustRegister(prometheus.NewGoCollector())
	m.registry.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))

	return m
}

// Handler returns the HTTP handler serving this instance's metrics.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
