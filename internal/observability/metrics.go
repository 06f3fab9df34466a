package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	registry *prometheus.Registry

	// HTTP request rate. Watch for: sudden drops (service down) or spikes (traffic surge).
	HTTPRequestsTotal *prometheus.CounterVec

	// HTTP request latency per request. Grid loads on a cold cache dominate the tail.
	HTTPRequestDuration *prometheus.HistogramVec

	// Concurrent requests in flight.
	HTTPRequestsInFlight prometheus.Gauge

	// JMA transfers by status label. Watch for: server_error spikes (upstream outage).
	DownloadsTotal *prometheus.CounterVec

	// JMA transfer latency. Coarse files are ~1MB compressed.
	DownloadDuration *prometheus.HistogramVec

	// Bytes received from JMA.
	DownloadBytesTotal prometheus.Counter

	// Snapshot requests answered from the local data directory (no transfer).
	FileCacheHitsTotal *prometheus.CounterVec

	// Snapshots newly downloaded and decompressed.
	SnapshotsDownloadedTotal *prometheus.CounterVec

	// Snapshots the server does not have yet (404). Expected for today's date before publication.
	SnapshotsMissingTotal *prometheus.CounterVec

	// Time spent in FetchRequest when a transfer was needed.
	SnapshotFetchDuration *prometheus.HistogramVec

	// Fixed-width grid parse latency.
	GridParseDuration *prometheus.HistogramVec

	// Grid loads by result (success, no_data, error).
	GridLoadsTotal *prometheus.CounterVec

	// Concurrent grid loads for the same snapshot; >1 means coalescing is doing work.
	GridLoadStampedeTotal *prometheus.CounterVec

	// Callers that waited on another caller's grid load.
	CoalescedGridLoadsTotal prometheus.Counter

	// Reading cache hits.
	CacheHitsTotal *prometheus.CounterVec

	// Reading cache errors by operation and category.
	CacheErrorsTotal *prometheus.CounterVec

	// Reading cache operation latency.
	CacheOperationDurationSeconds *prometheus.HistogramVec

	// Point readings served by resolution.
	ReadingsTotal *prometheus.CounterVec

	// Prefetch runs, failures and duration.
	CacheWarmingTotal           prometheus.Counter
	CacheWarmingErrorsTotal     prometheus.Counter
	CacheWarmingDurationSeconds prometheus.Histogram

	// Grid-loaded events by result.
	EventsPublishedTotal *prometheus.CounterVec

	// Rate limit denials.
	RateLimitDeniedTotal prometheus.Counter

	// JMA circuit breaker: 0=closed, 1=open, 2=half_open.
	CircuitBreakerState            prometheus.Gauge
	CircuitBreakerTransitionsTotal *prometheus.CounterVec
)

func init() {
	registry = prometheus.NewRegistry()

	registry.MustRegister(
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)

	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "httpRequestsTotal",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "statusCode"},
	)
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "httpRequestDurationSeconds",
			Help:    "HTTP request latency in seconds (per request)",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)
	HTTPRequestsInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "httpRequestsInFlight",
			Help: "Number of HTTP requests currently being served",
		},
	)
	DownloadsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sstDownloadsTotal",
			Help: "Total number of snapshot transfers from JMA",
		},
		[]string{"status"},
	)
	DownloadDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sstDownloadDurationSeconds",
			Help:    "Snapshot transfer latency in seconds",
			Buckets: []float64{.25, .5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"status"},
	)
	DownloadBytesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "sstDownloadBytesTotal",
			Help: "Total bytes received from JMA",
		},
	)
	FileCacheHitsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sstFileCacheHitsTotal",
			Help: "Snapshot requests served from the local data directory",
		},
		[]string{"resolution"},
	)
	SnapshotsDownloadedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sstSnapshotsDownloadedTotal",
			Help: "Snapshots downloaded and made available locally",
		},
		[]string{"resolution"},
	)
	SnapshotsMissingTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sstSnapshotsMissingTotal",
			Help: "Snapshot requests the server answered with 404",
		},
		[]string{"resolution"},
	)
	SnapshotFetchDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sstSnapshotFetchDurationSeconds",
			Help:    "Download plus status handling latency in seconds",
			Buckets: []float64{.25, .5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"resolution"},
	)
	GridParseDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sstGridParseDurationSeconds",
			Help:    "Fixed-width grid parse latency in seconds",
			Buckets: []float64{.01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"resolution"},
	)
	GridLoadsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sstGridLoadsTotal",
			Help: "Grid loads (fetch and parse) by result",
		},
		[]string{"resolution", "result"},
	)
	GridLoadStampedeTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sstGridLoadStampedeTotal",
			Help: "Grid loads started while another load of the same snapshot was in progress",
		},
		[]string{"resolution"},
	)
	CoalescedGridLoadsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "sstCoalescedGridLoadsTotal",
			Help: "Callers that reused an in-flight grid load",
		},
	)
	CacheHitsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cacheHitsTotal",
			Help: "Total number of reading cache hits",
		},
		[]string{"cacheType"},
	)
	CacheErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cacheErrorsTotal",
			Help: "Reading cache errors by operation and category",
		},
		[]string{"operation", "category"},
	)
	CacheOperationDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cacheOperationDurationSeconds",
			Help:    "Reading cache operation latency in seconds",
			Buckets: []float64{.0005, .001, .005, .01, .05, .1, .5},
		},
		[]string{"operation", "result"},
	)
	ReadingsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sstReadingsTotal",
			Help: "Point readings served",
		},
		[]string{"resolution"},
	)
	CacheWarmingTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "cacheWarmingTotal",
			Help: "Snapshot prefetch runs",
		},
	)
	CacheWarmingErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "cacheWarmingErrorsTotal",
			Help: "Snapshot prefetch runs with at least one failure",
		},
	)
	CacheWarmingDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "cacheWarmingDurationSeconds",
			Help:    "Snapshot prefetch run duration in seconds",
			Buckets: []float64{1, 5, 10, 30, 60, 120, 300},
		},
	)
	EventsPublishedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sstEventsPublishedTotal",
			Help: "Grid-loaded events by result",
		},
		[]string{"result"},
	)
	RateLimitDeniedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "rateLimitDeniedTotal",
			Help: "Total number of requests denied by rate limiter (429)",
		},
	)
	CircuitBreakerState = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "circuitBreakerState",
			Help: "JMA circuit breaker state (0=closed, 1=open, 2=half_open)",
		},
	)
	CircuitBreakerTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuitBreakerTransitionsTotal",
			Help: "Total number of JMA circuit breaker state transitions",
		},
		[]string{"from", "to"},
	)

	registry.MustRegister(
		HTTPRequestsTotal, HTTPRequestDuration, HTTPRequestsInFlight,
		DownloadsTotal, DownloadDuration, DownloadBytesTotal,
		FileCacheHitsTotal, SnapshotsDownloadedTotal, SnapshotsMissingTotal, SnapshotFetchDuration,
		GridParseDuration, GridLoadsTotal, GridLoadStampedeTotal, CoalescedGridLoadsTotal,
		CacheHitsTotal, CacheErrorsTotal, CacheOperationDurationSeconds,
		ReadingsTotal,
		CacheWarmingTotal, CacheWarmingErrorsTotal, CacheWarmingDurationSeconds,
		EventsPublishedTotal,
		RateLimitDeniedTotal,
		CircuitBreakerState, CircuitBreakerTransitionsTotal,
	)
}

// StatusLabel maps an HTTP status code to a low-cardinality label.
func StatusLabel(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return "success"
	case statusCode == http.StatusNotFound:
		return "not_found"
	case statusCode == http.StatusTooManyRequests:
		return "rate_limited"
	case statusCode >= 400 && statusCode < 500:
		return "client_error"
	case statusCode >= 500:
		return "server_error"
	}
	return "error"
}

// MetricsHandler returns an http.Handler that serves application and runtime metrics.
func MetricsHandler() http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
