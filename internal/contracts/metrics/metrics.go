// Package metrics provides Prometheus metrics for the contract gateway
// response cache and upstream fetches.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains contract gateway metrics.
type Metrics struct {
	CacheHitsTotal   *prometheus.CounterVec // Cache hits by resource kind
	CacheMissesTotal *prometheus.CounterVec // Cache misses by resource kind

	FetchDurationSeconds *prometheus.HistogramVec // Upstream fetch latency by resource kind
	FetchErrorsTotal     *prometheus.CounterVec   // Failed upstream fetches by resource kind
}

// New creates a Metrics instance with all collectors registered.
func New() *Metrics {
	return &Metrics{
		CacheHitsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "covenant_gateway_cache_hits_total",
			Help: "Total number of contract gateway cache hits by resource kind",
		}, []string{"kind"}),

		CacheMissesTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "covenant_gateway_cache_misses_total",
			Help: "Total number of contract gateway cache misses by resource kind",
		}, []string{"kind"}),

		FetchDurationSeconds: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "covenant_gateway_fetch_duration_seconds",
			Help:    "Duration of upstream contract and catalog fetches by resource kind",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}, []string{"kind"}),

		FetchErrorsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "covenant_gateway_fetch_errors_total",
			Help: "Total number of failed upstream fetches by resource kind",
		}, []string{"kind"}),
	}
}

// RecordCacheHit records a cache hit for the given resource kind.
func (m *Metrics) RecordCacheHit(kind string) {
	m.CacheHitsTotal.WithLabelValues(kind).Inc()
}

// RecordCacheMiss records a cache miss for the given resource kind.
func (m *Metrics) RecordCacheMiss(kind string) {
	m.CacheMissesTotal.WithLabelValues(kind).Inc()
}

// ObserveFetch records the duration of one upstream fetch.
func (m *Metrics) ObserveFetch(kind string, durationSeconds float64) {
	m.FetchDurationSeconds.WithLabelValues(kind).Observe(durationSeconds)
}

// RecordFetchError records a failed upstream fetch.
func (m *Metrics) RecordFetchError(kind string) {
	m.FetchErrorsTotal.WithLabelValues(kind).Inc()
}
