// Package metrics defines the Prometheus metric collectors used by the
// statistics API and exposes an HTTP handler for scraping.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus collectors for the service.
type Metrics struct {
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight prometheus.Gauge
	SolrQueriesTotal     *prometheus.CounterVec
	SolrQueryDuration    *prometheus.HistogramVec
	SolrRetriesTotal     *prometheus.CounterVec
	CacheHitsTotal       prometheus.Counter
	CacheMissesTotal     prometheus.Counter
	CSVExportDuration    *prometheus.HistogramVec
	CSVRowsExported      *prometheus.CounterVec
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
				Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
			},
			[]string{"method", "path"},
		),
		HTTPRequestsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "http_requests_in_flight",
				Help: "Number of HTTP requests currently being processed.",
			},
		),
		SolrQueriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "solr_queries_total",
				Help: "Total Solr queries by core, protocol variant, and outcome (ok, error).",
			},
			[]string{"core", "variant", "outcome"},
		),
		SolrQueryDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "solr_query_duration_seconds",
				Help:    "Solr query latency in seconds.",
				Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
			},
			[]string{"core", "variant"},
		),
		SolrRetriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "solr_retries_total",
				Help: "Monthly sub-query retries by outcome (recovered, dropped).",
			},
			[]string{"outcome"},
		),
		CacheHitsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "cache_hits_total",
				Help: "Total number of statistics response cache hits.",
			},
		),
		CacheMissesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "cache_misses_total",
				Help: "Total number of statistics response cache misses.",
			},
		),
		CSVExportDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "csv_export_duration_seconds",
				Help:    "CSV export duration in seconds by entity kind.",
				Buckets: []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300},
			},
			[]string{"kind"},
		),
		CSVRowsExported: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "csv_rows_exported_total",
				Help: "Total CSV data rows emitted by entity kind.",
			},
			[]string{"kind"},
		),
	}

	prometheus.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPRequestsInFlight,
		m.SolrQueriesTotal,
		m.SolrQueryDuration,
		m.SolrRetriesTotal,
		m.CacheHitsTotal,
		m.CacheMissesTotal,
		m.CSVExportDuration,
		m.CSVRowsExported,
	)
	return m
}

// Handler returns the Prometheus scrape handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
