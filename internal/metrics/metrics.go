// Package metrics exposes resolver and sync counters to Prometheus.
// All methods are safe on a nil *Metrics, which records nothing.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "connectid"

// resolution outcomes
const (
	ResultHit    = "hit"
	ResultMiss   = "miss"
	ResultOptOut = "optout"
)

// Metrics holds the counters on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	syncAttempts    prometheus.Counter
	syncsSuppressed prometheus.Counter
	syncFailures    prometheus.Counter
	resolutions     *prometheus.CounterVec
}

// New registers the counters on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		syncAttempts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sync_attempts_total",
			Help:      "Requests sent to the identity-resolution endpoint.",
		}),
		syncsSuppressed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "syncs_suppressed_total",
			Help:      "Sync triggers skipped because the cached record was usable.",
		}),
		syncFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sync_failures_total",
			Help:      "Sync requests that failed or returned an unreadable body.",
		}),
		resolutions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "resolutions_total",
			Help:      "GetIDs calls by outcome.",
		}, []string{"result"}),
	}

	m.registry.MustRegister(m.syncAttempts, m.syncsSuppressed, m.syncFailures, m.resolutions)
	return m
}

// Registry returns the registry the counters live on.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) SyncAttempt() {
	if m != nil {
		m.syncAttempts.Inc()
	}
}

func (m *Metrics) SyncSuppressed() {
	if m != nil {
		m.syncsSuppressed.Inc()
	}
}

func (m *Metrics) SyncFailure() {
	if m != nil {
		m.syncFailures.Inc()
	}
}

// Resolution counts one GetIDs outcome: ResultHit, ResultMiss or ResultOptOut.
func (m *Metrics) Resolution(result string) {
	if m != nil {
		m.resolutions.WithLabelValues(result).Inc()
	}
}
