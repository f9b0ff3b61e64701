// Package metrics exposes Prometheus collectors for registry fetches, cache
// lookups and resolution outcomes. A nil *Metrics is valid and records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the collectors registered by New.
type Metrics struct {
	FetchAttempts *prometheus.CounterVec
	FetchDuration *prometheus.HistogramVec
	CacheLookups  *prometheus.CounterVec
	Resolutions   *prometheus.CounterVec
}

// New creates the collectors and registers them with reg. A nil reg leaves
// them unregistered.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		FetchAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "outdated",
			Name:      "fetch_attempts_total",
			Help:      "Registry fetch attempts by source and outcome.",
		}, []string{"source", "outcome"}),
		FetchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "outdated",
			Name:      "fetch_duration_seconds",
			Help:      "Duration of registry fetches including retries.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"source"}),
		CacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "outdated",
			Name:      "cache_lookups_total",
			Help:      "Metadata cache lookups by result.",
		}, []string{"result"}),
		Resolutions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "outdated",
			Name:      "resolutions_total",
			Help:      "Resolved dependencies by diff.",
		}, []string{"diff"}),
	}
	if reg != nil {
		reg.MustRegister(m.FetchAttempts, m.FetchDuration, m.CacheLookups, m.Resolutions)
	}
	return m
}

// Attempt records one fetch attempt.
func (m *Metrics) Attempt(source, outcome string) {
	if m == nil {
		return
	}
	m.FetchAttempts.WithLabelValues(source, outcome).Inc()
}

// Observe records the total duration of a fetch.
func (m *Metrics) Observe(source string, d time.Duration) {
	if m == nil {
		return
	}
	m.FetchDuration.WithLabelValues(source).Observe(d.Seconds())
}

// CacheLookup records a cache hit or miss.
func (m *Metrics) CacheLookup(hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.CacheLookups.WithLabelValues(result).Inc()
}

// Resolved records the diff of a resolved dependency.
func (m *Metrics) Resolved(diff string) {
	if m == nil {
		return
	}
	m.Resolutions.WithLabelValues(diff).Inc()
}
