// Package metrics holds the Prometheus collectors cosbrowser exports.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "cosbrowser"

// Metrics groups every collector. A nil *Metrics is valid and records
// nothing, so components can take one optionally.
type Metrics struct {
	ListCache    *prometheus.CounterVec
	ListPages    prometheus.Counter
	ListFailures prometheus.Counter
	ListShared   prometheus.Counter
	ListDuration prometheus.Histogram
	Previews     *prometheus.CounterVec
	Completions  *prometheus.CounterVec
	CacheClears  prometheus.Counter
}

// New creates the collectors and registers them with reg. A nil reg skips
// registration.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ListCache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "listing",
			Name:      "cache_lookups_total",
			Help:      "Folder listing cache lookups by result (hit, miss).",
		}, []string{"result"}),
		ListPages: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "listing",
			Name:      "remote_pages_total",
			Help:      "Listing pages fetched from the bucket.",
		}),
		ListFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "listing",
			Name:      "remote_failures_total",
			Help:      "Folder listings that failed on any page.",
		}),
		ListShared: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "listing",
			Name:      "shared_calls_total",
			Help:      "Listings served by joining an in-flight call for the same prefix.",
		}),
		ListDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "listing",
			Name:      "remote_duration_seconds",
			Help:      "Wall time of a full paginated folder listing.",
			Buckets:   prometheus.DefBuckets,
		}),
		Previews: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "preview",
			Name:      "fetches_total",
			Help:      "Thumbnail fetches by outcome (ok, too_large, error, memo).",
		}, []string{"outcome"}),
		Completions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "completion",
			Name:      "requests_total",
			Help:      "Completion requests by outcome (served, disabled, no_trigger, unsupported_language, remote_error).",
		}, []string{"outcome"}),
		CacheClears: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_clears_total",
			Help:      "Explicit or configuration-driven cache clears.",
		}),
	}

	if reg != nil {
		reg.MustRegister(
			m.ListCache, m.ListPages, m.ListFailures, m.ListShared, m.ListDuration,
			m.Previews, m.Completions, m.CacheClears,
		)
	}
	return m
}

func (m *Metrics) CacheHit() {
	if m != nil {
		m.ListCache.WithLabelValues("hit").Inc()
	}
}

func (m *Metrics) CacheMiss() {
	if m != nil {
		m.ListCache.WithLabelValues("miss").Inc()
	}
}

func (m *Metrics) PageFetched() {
	if m != nil {
		m.ListPages.Inc()
	}
}

func (m *Metrics) ListFailed() {
	if m != nil {
		m.ListFailures.Inc()
	}
}

func (m *Metrics) ListJoined() {
	if m != nil {
		m.ListShared.Inc()
	}
}

func (m *Metrics) ObserveList(seconds float64) {
	if m != nil {
		m.ListDuration.Observe(seconds)
	}
}

func (m *Metrics) Preview(outcome string) {
	if m != nil {
		m.Previews.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) Completion(outcome string) {
	if m != nil {
		m.Completions.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) CacheCleared() {
	if m != nil {
		m.CacheClears.Inc()
	}
}
