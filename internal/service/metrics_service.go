package service

import (
	"net/http"
	"runtime"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/noah-isme/gridkit/internal/models"
)

const metricsNamespace = "gridkit"

// MetricsService owns the Prometheus registry for HTTP, cache, SQL, grid
// fetch and export instrumentation. Running totals are kept alongside the
// collectors so Snapshot can answer without scraping. A nil *MetricsService
// records nothing.
type MetricsService struct {
	registry *prometheus.Registry
	handler  http.Handler

	httpDuration   *prometheus.HistogramVec
	httpRequests   *prometheus.CounterVec
	cacheLookups   *prometheus.CounterVec
	cacheLatency   prometheus.Histogram
	cacheWrite     prometheus.Histogram
	cacheHitRatio  prometheus.Gauge
	sqlDuration    *prometheus.HistogramVec
	fetchDuration  *prometheus.HistogramVec
	staleDrops     prometheus.Counter
	exportDuration *prometheus.HistogramVec
	exportRows     *prometheus.CounterVec

	hits, misses     atomic.Uint64
	requests         atomic.Uint64
	requestNanos     atomic.Uint64
	queries          atomic.Uint64
	queryNanos       atomic.Uint64
	fetches          atomic.Uint64
	stale            atomic.Uint64
	exportedRowCount atomic.Uint64
}

func histogram(subsystem, name, help string, buckets []float64, labels ...string) *prometheus.HistogramVec {
	return prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: metricsNamespace,
		Subsystem: subsystem,
		Name:      name,
		Help:      help,
		Buckets:   buckets,
	}, labels)
}

func plainHistogram(subsystem, name, help string) prometheus.Histogram {
	return prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: metricsNamespace,
		Subsystem: subsystem,
		Name:      name,
		Help:      help,
		Buckets:   prometheus.DefBuckets,
	})
}

func counter(subsystem, name, help string, labels ...string) *prometheus.CounterVec {
	return prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Subsystem: subsystem,
		Name:      name,
		Help:      help,
	}, labels)
}

// NewMetricsService registers every collector on a private registry.
func NewMetricsService() *MetricsService {
	m := &MetricsService{
		registry:       prometheus.NewRegistry(),
		httpDuration:   histogram("http", "request_duration_seconds", "Duration of HTTP requests", prometheus.DefBuckets, "method", "path", "status"),
		httpRequests:   counter("http", "requests_total", "HTTP requests served", "method", "path", "status"),
		cacheLookups:   counter("cache", "lookups_total", "Grid page cache lookups by result", "result"),
		cacheLatency:   plainHistogram("cache", "lookup_seconds", "Latency of grid page cache lookups"),
		cacheWrite:     plainHistogram("cache", "write_seconds", "Latency of grid page cache writes"),
		sqlDuration:    histogram("sql", "query_duration_seconds", "Duration of SQL source queries", prometheus.DefBuckets, "query"),
		fetchDuration:  histogram("grid", "fetch_duration_seconds", "Duration of grid page fetches by outcome", prometheus.DefBuckets, "outcome"),
		exportDuration: histogram("export", "duration_seconds", "Duration of grid exports", []float64{0.05, 0.1, 0.5, 1, 5, 15, 60, 300}, "format", "mode", "status"),
		exportRows:     counter("export", "rows_total", "Rows written by grid exports", "format"),
	}
	m.cacheHitRatio = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: metricsNamespace,
		Subsystem: "cache",
		Name:      "hit_ratio",
		Help:      "Ratio of cache hits to lookups since start",
	})
	m.staleDrops = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Subsystem: "grid",
		Name:      "stale_drops_total",
		Help:      "Fetch results discarded because a newer request superseded them",
	})

	m.registry.MustRegister(
		m.httpDuration, m.httpRequests,
		m.cacheLookups, m.cacheHitRatio,
		m.sqlDuration, m.fetchDuration, m.staleDrops,
		m.cacheLatency, m.cacheWrite,
		m.exportDuration, m.exportRows,
		collectors.NewGoCollector(),
	)
	m.handler = promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *MetricsService) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// Registry exposes the underlying registry, mainly for tests.
func (m *MetricsService) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// ObserveHTTPRequest records one served request.
func (m *MetricsService) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	code := strconv.Itoa(status)
	m.httpDuration.WithLabelValues(method, path, code).Observe(duration.Seconds())
	m.httpRequests.WithLabelValues(method, path, code).Inc()
	m.requests.Add(1)
	m.requestNanos.Add(uint64(duration.Nanoseconds()))
}

// RecordCacheOperation records a page cache lookup.
func (m *MetricsService) RecordCacheOperation(hit bool, duration time.Duration) {
	if m == nil {
		return
	}
	m.cacheLatency.Observe(duration.Seconds())
	if hit {
		m.cacheLookups.WithLabelValues("hit").Inc()
		m.hits.Add(1)
	} else {
		m.cacheLookups.WithLabelValues("miss").Inc()
		m.misses.Add(1)
	}
	m.cacheHitRatio.Set(ratio(m.hits.Load(), m.misses.Load()))
}

// ObserveCacheWrite records a page cache write.
func (m *MetricsService) ObserveCacheWrite(duration time.Duration) {
	if m == nil {
		return
	}
	m.cacheWrite.Observe(duration.Seconds())
}

// ObserveDBQuery records one SQL source query; label is "count" or "page".
func (m *MetricsService) ObserveDBQuery(label string, duration time.Duration) {
	if m == nil {
		return
	}
	m.sqlDuration.WithLabelValues(label).Observe(duration.Seconds())
	m.queries.Add(1)
	m.queryNanos.Add(uint64(duration.Nanoseconds()))
}

// ObserveGridFetch records one completed page fetch.
func (m *MetricsService) ObserveGridFetch(outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.fetchDuration.WithLabelValues(outcome).Observe(duration.Seconds())
	m.fetches.Add(1)
}

// IncGridStaleDrop counts a superseded fetch result.
func (m *MetricsService) IncGridStaleDrop() {
	if m == nil {
		return
	}
	m.staleDrops.Inc()
	m.stale.Add(1)
}

// ObserveExport records an export run. status is "ok" or "error".
func (m *MetricsService) ObserveExport(format string, mode models.ExportMode, status string, rows int, duration time.Duration) {
	if m == nil {
		return
	}
	m.exportDuration.WithLabelValues(format, string(mode), status).Observe(duration.Seconds())
	if rows > 0 {
		m.exportRows.WithLabelValues(format).Add(float64(rows))
		m.exportedRowCount.Add(uint64(rows))
	}
}

// Snapshot summarises the running totals for GET /metrics/summary.
func (m *MetricsService) Snapshot() models.SystemMetrics {
	if m == nil {
		return models.SystemMetrics{}
	}
	hits, misses := m.hits.Load(), m.misses.Load()
	requests, queries := m.requests.Load(), m.queries.Load()
	return models.SystemMetrics{
		CacheHitRatio:            ratio(hits, misses),
		CacheHits:                hits,
		CacheMisses:              misses,
		RequestsTotal:            requests,
		AverageRequestDurationMs: averageMillis(m.requestNanos.Load(), requests),
		DBQueryCount:             queries,
		AverageDBQueryDurationMs: averageMillis(m.queryNanos.Load(), queries),
		GridFetches:              m.fetches.Load(),
		GridStaleDrops:           m.stale.Load(),
		ExportRows:               m.exportedRowCount.Load(),
		Goroutines:               runtime.NumGoroutine(),
		GeneratedAt:              time.Now().UTC(),
	}
}

func ratio(hits, misses uint64) float64 {
	if hits+misses == 0 {
		return 0
	}
	return float64(hits) / float64(hits+misses)
}

func averageMillis(totalNanos, n uint64) float64 {
	if n == 0 {
		return 0
	}
	return float64(totalNanos) / float64(n) / float64(time.Millisecond)
}
