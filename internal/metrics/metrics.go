// Package metrics provides Prometheus metrics for the snippet cache, the
// mutation dispatcher and the HTTP surface.
//
// Metrics are registered on the Registerer passed to New instead of the
// global default registry, so tests can build as many instances as they
// like. Every Record method is safe to call on a nil *Metrics, which lets
// components take metrics as an optional dependency.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "snippetvault"

// Fetch outcomes.
const (
	OutcomeSuccess   = "success"
	OutcomeError     = "error"
	OutcomeDiscarded = "discarded"
)

// Metrics holds all Prometheus metrics for the service.
type Metrics struct {
	// Cache metrics
	CacheFetchesTotal       *prometheus.CounterVec
	CacheFetchDuration      prometheus.Histogram
	CachePiggybacksTotal    prometheus.Counter
	CacheInvalidationsTotal prometheus.Counter
	CacheEvictionsTotal     prometheus.Counter
	CacheEntries            prometheus.Gauge

	// Dispatcher metrics
	MutationsTotal   *prometheus.CounterVec
	MutationDuration *prometheus.HistogramVec

	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
}

// New creates the metrics and registers them on reg. A nil reg creates
// unregistered collectors.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	m := &Metrics{}

	m.CacheFetchesTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_fetches_total",
			Help:      "Total number of owner collection fetches by outcome",
		},
		[]string{"outcome"},
	)

	m.CacheFetchDuration = factory.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "cache_fetch_duration_seconds",
			Help:      "Duration of owner collection fetches in seconds",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		},
	)

	m.CachePiggybacksTotal = factory.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_piggybacks_total",
			Help:      "Fetch requests that joined a fetch already in flight",
		},
	)

	m.CacheInvalidationsTotal = factory.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_invalidations_total",
			Help:      "Total number of cache entries marked stale",
		},
	)

	m.CacheEvictionsTotal = factory.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_evictions_total",
			Help:      "Total number of cache entries torn down on sign-out",
		},
	)

	m.CacheEntries = factory.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "cache_entries",
			Help:      "Number of owners currently held in the cache",
		},
	)

	m.MutationsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "mutations_total",
			Help:      "Total number of dispatched mutations by operation and outcome",
		},
		[]string{"op", "outcome"},
	)

	m.MutationDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "mutation_duration_seconds",
			Help:      "Duration of mutations including the follow-up refetch",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"op"},
	)

	m.HTTPRequestsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	m.HTTPRequestDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "Duration of HTTP requests in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	return m
}

// RecordFetch records a completed cache fetch.
func (m *Metrics) RecordFetch(outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.CacheFetchesTotal.WithLabelValues(outcome).Inc()
	m.CacheFetchDuration.Observe(duration.Seconds())
}

// RecordPiggyback records a caller joining an in-flight fetch.
func (m *Metrics) RecordPiggyback() {
	if m == nil {
		return
	}
	m.CachePiggybacksTotal.Inc()
}

// RecordInvalidation records an entry being marked stale.
func (m *Metrics) RecordInvalidation() {
	if m == nil {
		return
	}
	m.CacheInvalidationsTotal.Inc()
}

// RecordEviction records an entry being torn down.
func (m *Metrics) RecordEviction() {
	if m == nil {
		return
	}
	m.CacheEvictionsTotal.Inc()
}

// SetCacheEntries updates the live entry gauge.
func (m *Metrics) SetCacheEntries(n int) {
	if m == nil {
		return
	}
	m.CacheEntries.Set(float64(n))
}

// RecordMutation records a finished mutation. outcome is "success" or the
// lowercase error kind.
func (m *Metrics) RecordMutation(op, outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.MutationsTotal.WithLabelValues(op, outcome).Inc()
	m.MutationDuration.WithLabelValues(op).Observe(duration.Seconds())
}

// RecordHTTPRequest records a served request. route is the chi route
// pattern, not the raw path, to keep label cardinality bounded.
func (m *Metrics) RecordHTTPRequest(method, route string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}
