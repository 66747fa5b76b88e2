package service

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/gridkit/internal/models"
)

func TestMetricsSnapshot(t *testing.T) {
	m := NewMetricsService()

	m.RecordCacheOperation(false, time.Millisecond)
	m.RecordCacheOperation(true, time.Millisecond)
	m.RecordCacheOperation(true, time.Millisecond)
	m.ObserveHTTPRequest(http.MethodGet, "/grids", http.StatusOK, 4*time.Millisecond)
	m.ObserveHTTPRequest(http.MethodGet, "/grids", http.StatusOK, 2*time.Millisecond)
	m.ObserveDBQuery("page", 10*time.Millisecond)
	m.ObserveGridFetch("ok", time.Millisecond)
	m.ObserveGridFetch("stale", time.Millisecond)
	m.IncGridStaleDrop()
	m.ObserveExport("csv", models.ExportAllResults, "ok", 42, time.Second)

	snap := m.Snapshot()
	assert.Equal(t, uint64(2), snap.CacheHits)
	assert.Equal(t, uint64(1), snap.CacheMisses)
	assert.InDelta(t, 2.0/3.0, snap.CacheHitRatio, 1e-9)
	assert.Equal(t, uint64(2), snap.RequestsTotal)
	assert.InDelta(t, 3.0, snap.AverageRequestDurationMs, 1e-9)
	assert.Equal(t, uint64(1), snap.DBQueryCount)
	assert.InDelta(t, 10.0, snap.AverageDBQueryDurationMs, 1e-9)
	assert.Equal(t, uint64(2), snap.GridFetches)
	assert.Equal(t, uint64(1), snap.GridStaleDrops)
	assert.Equal(t, uint64(42), snap.ExportRows)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.staleDrops))
	assert.Equal(t, 42.0, testutil.ToFloat64(m.exportRows.WithLabelValues("csv")))
}

func TestMetricsHandlerExposesCollectors(t *testing.T) {
	m := NewMetricsService()
	m.ObserveGridFetch("ok", time.Millisecond)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "gridkit_grid_fetch_duration_seconds")
}

func TestNilMetricsServiceIsSafe(t *testing.T) {
	var m *MetricsService
	m.RecordCacheOperation(true, time.Millisecond)
	m.ObserveExport("csv", models.ExportCurrentPage, "ok", 1, time.Millisecond)
	assert.Equal(t, models.SystemMetrics{}, m.Snapshot())

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
