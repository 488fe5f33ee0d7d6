// Package metrics defines the Prometheus collectors for ingestion, queries
// and the HTTP surface, and exposes a scrape handler.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all collectors. Every recording method is safe on a nil
// receiver so components can run without instrumentation.
type Metrics struct {
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight prometheus.Gauge

	DocumentsIngested prometheus.Counter
	IngestFailures    *prometheus.CounterVec
	IngestDuration    prometheus.Histogram
	OCRPages          prometheus.Counter
	Tokens            *prometheus.CounterVec

	ScansTotal   *prometheus.CounterVec
	ScanPending  prometheus.Gauge
	QueriesTotal *prometheus.CounterVec
	QueryLatency *prometheus.HistogramVec
	CacheResults *prometheus.CounterVec

	IndexTerms          prometheus.Gauge
	IndexDocuments      prometheus.Gauge
	EmbeddingCacheSize  prometheus.Gauge
	CircuitBreakerState *prometheus.GaugeVec
}

// New creates all collectors and registers them with reg. Pass
// prometheus.DefaultRegisterer in production and prometheus.NewRegistry() in
// tests.
func New(reg prometheus.Registerer) *Metrics {
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
		HTTPRequestsInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "http_requests_in_flight",
			Help: "Number of HTTP requests currently being processed.",
		}),
		DocumentsIngested: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "documents_ingested_total",
			Help: "Documents fully ingested and committed to the ledger.",
		}),
		IngestFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ingest_failures_total",
				Help: "Ingestion failures by pipeline stage.",
			},
			[]string{"stage"},
		),
		IngestDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "ingest_duration_seconds",
			Help:    "End-to-end ingestion time per document.",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300},
		}),
		OCRPages: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ocr_pages_total",
			Help: "Pages of text extracted from ingested documents.",
		}),
		Tokens: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tokens_total",
				Help: "Tokens seen during ingestion, kept or removed as stopwords.",
			},
			[]string{"kind"},
		),
		ScansTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scans_total",
				Help: "Folder scans by outcome.",
			},
			[]string{"status"},
		),
		ScanPending: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "scan_pending_files",
			Help: "Unprocessed files found by the last scan.",
		}),
		QueriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "queries_total",
				Help: "Resolved queries by resolution stage.",
			},
			[]string{"stage"},
		),
		QueryLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "query_latency_seconds",
				Help:    "Query resolution latency in seconds.",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
			},
			[]string{"stage"},
		),
		CacheResults: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "query_cache_results_total",
				Help: "Query cache lookups by outcome (hit, miss).",
			},
			[]string{"result"},
		),
		IndexTerms: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "index_terms",
			Help: "Distinct terms in the inverted index.",
		}),
		IndexDocuments: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "index_documents",
			Help: "Distinct documents in the inverted index.",
		}),
		EmbeddingCacheSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "embedding_cache_size",
			Help: "Documents with a cached embedding.",
		}),
		CircuitBreakerState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "circuit_breaker_state",
				Help: "Circuit breaker state (0=closed, 1=open, 2=half-open).",
			},
			[]string{"name"},
		),
	}

	reg.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPRequestsInFlight,
		m.DocumentsIngested,
		m.IngestFailures,
		m.IngestDuration,
		m.OCRPages,
		m.Tokens,
		m.ScansTotal,
		m.ScanPending,
		m.QueriesTotal,
		m.QueryLatency,
		m.CacheResults,
		m.IndexTerms,
		m.IndexDocuments,
		m.EmbeddingCacheSize,
		m.CircuitBreakerState,
	)

	return m
}

// ObserveIngest records a committed document and its statistics.
func (m *Metrics) ObserveIngest(d time.Duration, pages, kept, removed int) {
	if m == nil {
		return
	}
	m.DocumentsIngested.Inc()
	m.IngestDuration.Observe(d.Seconds())
	m.OCRPages.Add(float64(pages))
	m.Tokens.WithLabelValues("kept").Add(float64(kept))
	m.Tokens.WithLabelValues("removed").Add(float64(removed))
}

func (m *Metrics) IngestFailed(stage string) {
	if m == nil {
		return
	}
	m.IngestFailures.WithLabelValues(stage).Inc()
}

func (m *Metrics) ObserveScan(pending int, err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.ScansTotal.WithLabelValues("error").Inc()
		return
	}
	m.ScansTotal.WithLabelValues("ok").Inc()
	m.ScanPending.Set(float64(pending))
}

func (m *Metrics) ObserveQuery(stage string, d time.Duration) {
	if m == nil {
		return
	}
	m.QueriesTotal.WithLabelValues(stage).Inc()
	m.QueryLatency.WithLabelValues(stage).Observe(d.Seconds())
}

func (m *Metrics) CacheHit() {
	if m == nil {
		return
	}
	m.CacheResults.WithLabelValues("hit").Inc()
}

func (m *Metrics) CacheMiss() {
	if m == nil {
		return
	}
	m.CacheResults.WithLabelValues("miss").Inc()
}

// SetIndexSize publishes the index and embedding-cache cardinalities.
func (m *Metrics) SetIndexSize(terms, docs, embeddings int) {
	if m == nil {
		return
	}
	m.IndexTerms.Set(float64(terms))
	m.IndexDocuments.Set(float64(docs))
	m.EmbeddingCacheSize.Set(float64(embeddings))
}

func (m *Metrics) SetBreakerState(name string, state int) {
	if m == nil {
		return
	}
	m.CircuitBreakerState.WithLabelValues(name).Set(float64(state))
}

// Handler returns the scrape handler for g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
