// Package metrics defines the Prometheus metric collectors used across the
// matching service and exposes an HTTP handler for scraping.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus collectors for the matching service.
type Metrics struct {
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight prometheus.Gauge
	MatchRequestsTotal   *prometheus.CounterVec
	MatchLatency         *prometheus.HistogramVec
	MatchConfidence      prometheus.Histogram
	CandidatesPerQuery   prometheus.Histogram
	BulkItemsTotal       *prometheus.CounterVec
	CacheHitsTotal       prometheus.Counter
	CacheMissesTotal     prometheus.Counter
	CorpusSize           prometheus.Gauge
	CorpusLoadsTotal     *prometheus.CounterVec
	CorpusLoadDuration   prometheus.Histogram
	CircuitBreakerState  *prometheus.GaugeVec
}

// New creates and registers all Prometheus metrics.
func New() *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests by method, path, and status.",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request latency in seconds.",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
			},
			[]string{"method", "path"},
		),
		HTTPRequestsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "http_requests_in_flight",
				Help: "Number of HTTP requests currently being processed.",
			},
		),
		MatchRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "match_requests_total",
				Help: "Total match requests by operation and result type (matched, no_match, below_threshold, corpus_unavailable, invalid_query).",
			},
			[]string{"operation", "result_type"},
		),
		MatchLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "match_latency_seconds",
				Help:    "Match request latency in seconds.",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
			},
			[]string{"operation", "cache_status"},
		),
		MatchConfidence: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "match_confidence",
				Help:    "Confidence score of returned best matches (0-100).",
				Buckets: []float64{0, 40, 60, 70, 80, 90, 95, 100},
			},
		),
		CandidatesPerQuery: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "match_candidates_per_query",
				Help:    "Number of corpus entries surviving the pre-filter per query.",
				Buckets: []float64{0, 1, 10, 50, 100, 500, 1000, 5000, 20000},
			},
		),
		BulkItemsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bulk_match_items_total",
				Help: "Total bulk match items processed by status.",
			},
			[]string{"status"},
		),
		CacheHitsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "result_cache_hits_total",
				Help: "Total number of result cache hits.",
			},
		),
		CacheMissesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "result_cache_misses_total",
				Help: "Total number of result cache misses.",
			},
		),
		CorpusSize: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "corpus_entries",
				Help: "Number of entries in the active corpus snapshot.",
			},
		),
		CorpusLoadsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "corpus_loads_total",
				Help: "Total corpus load operations by status.",
			},
			[]string{"status"},
		),
		CorpusLoadDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "corpus_load_duration_seconds",
				Help:    "Time spent loading and normalizing the corpus.",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
			},
		),
		CircuitBreakerState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "circuit_breaker_state",
				Help: "Circuit breaker state (0=closed, 1=open, 2=half-open).",
			},
			[]string{"name"},
		),
	}

	prometheus.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPRequestsInFlight,
		m.MatchRequestsTotal,
		m.MatchLatency,
		m.MatchConfidence,
		m.CandidatesPerQuery,
		m.BulkItemsTotal,
		m.CacheHitsTotal,
		m.CacheMissesTotal,
		m.CorpusSize,
		m.CorpusLoadsTotal,
		m.CorpusLoadDuration,
		m.CircuitBreakerState,
	)

	return m
}

// Handler returns the Prometheus scrape HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
