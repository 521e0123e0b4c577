// Package metrics defines the Prometheus metric collectors used across
// docstore. StartServer exposes them for scraping.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds all Prometheus collectors for the service.
type Metrics struct {
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight prometheus.Gauge
	ChunksReceivedTotal  prometheus.Counter
	ChunkBytesTotal      prometheus.Counter
	ActiveUploads        prometheus.Gauge
	AssembliesTotal      *prometheus.CounterVec
	AssemblyDuration     prometheus.Histogram
	AssemblyQueueDepth   prometheus.Gauge
	SearchesTotal        *prometheus.CounterVec
	SearchLatency        *prometheus.HistogramVec
	SearchBytesScanned   prometheus.Counter
	SearchOccurrences    prometheus.Histogram
	CatalogPrunedTotal   prometheus.Counter
	CacheHitsTotal       prometheus.Counter
	CacheMissesTotal     prometheus.Counter
	CircuitBreakerState  *prometheus.GaugeVec
}

// New creates all collectors and registers them with reg. Tests pass a fresh
// prometheus.NewRegistry(); the service passes prometheus.DefaultRegisterer.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests by method, route, and status.",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request latency in seconds.",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 30},
			},
			[]string{"method", "path"},
		),
		HTTPRequestsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "http_requests_in_flight",
				Help: "Number of HTTP requests currently being processed.",
			},
		),
		ChunksReceivedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "upload_chunks_received_total",
				Help: "Total chunks accepted by the assembler.",
			},
		),
		ChunkBytesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "upload_chunk_bytes_total",
				Help: "Total payload bytes staged from chunk uploads.",
			},
		),
		ActiveUploads: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "upload_active_files",
				Help: "Logical files with at least one staged chunk awaiting assembly.",
			},
		),
		AssembliesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "upload_assemblies_total",
				Help: "Assemblies by outcome (success, failed).",
			},
			[]string{"status"},
		),
		AssemblyDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "upload_assembly_duration_seconds",
				Help:    "Time to concatenate staged chunks into the final file.",
				Buckets: prometheus.ExponentialBuckets(0.005, 2, 14),
			},
		),
		AssemblyQueueDepth: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "upload_assembly_queue_depth",
				Help: "Assembly jobs waiting for a worker.",
			},
		),
		SearchesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "search_requests_total",
				Help: "Searches by mode (batch, stream) and outcome (ok, empty, error, cancelled).",
			},
			[]string{"mode", "outcome"},
		),
		SearchLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "search_latency_seconds",
				Help:    "Wall-clock time of a full catalog scan.",
				Buckets: prometheus.ExponentialBuckets(0.001, 2, 16),
			},
			[]string{"mode"},
		),
		SearchBytesScanned: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "search_bytes_scanned_total",
				Help: "Total file bytes scanned by the search engine.",
			},
		),
		SearchOccurrences: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "search_occurrences",
				Help:    "Occurrences found per search.",
				Buckets: []float64{0, 1, 5, 10, 50, 100, 1000, 10000},
			},
		),
		CatalogPrunedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "catalog_pruned_total",
				Help: "Catalog entries removed because their file vanished from disk.",
			},
		),
		CacheHitsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "search_cache_hits_total",
				Help: "Total number of search cache hits.",
			},
		),
		CacheMissesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "search_cache_misses_total",
				Help: "Total number of search cache misses.",
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

	reg.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPRequestsInFlight,
		m.ChunksReceivedTotal,
		m.ChunkBytesTotal,
		m.ActiveUploads,
		m.AssembliesTotal,
		m.AssemblyDuration,
		m.AssemblyQueueDepth,
		m.SearchesTotal,
		m.SearchLatency,
		m.SearchBytesScanned,
		m.SearchOccurrences,
		m.CatalogPrunedTotal,
		m.CacheHitsTotal,
		m.CacheMissesTotal,
		m.CircuitBreakerState,
	)

	return m
}
