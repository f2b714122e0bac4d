package service

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMetricsServiceSnapshot(t *testing.T) {
	m := NewMetricsService()
	m.ObserveHTTPRequest(http.MethodGet, "/exports/:id", http.StatusOK, 10*time.Millisecond)
	m.RecordCacheOperation(true, time.Millisecond)
	m.RecordCacheOperation(false, time.Millisecond)
	m.ObserveExport("success", 2*time.Second)
	m.ObserveExport("failed", 4*time.Second)
	m.RecordPhotos("embedded", 3)
	m.RecordWarning("PHOTO_NOT_FOUND")

	snap := m.Snapshot()
	require.EqualValues(t, 1, snap.RequestsTotal)
	require.InDelta(t, 0.5, snap.CacheHitRatio, 0.0001)
	require.Equal(t, map[string]uint64{"success": 1, "failed": 1}, snap.Exports)
	require.InDelta(t, 3000, snap.AverageExportDurationMs, 0.001)
	require.EqualValues(t, 1, snap.Warnings)

	w := httptest.NewRecorder()
	m.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Contains(t, w.Body.String(), `checkup_export_photos_total{result="embedded"} 3`)
	require.Contains(t, w.Body.String(), `checkup_export_warnings_total{code="PHOTO_NOT_FOUND"} 1`)
}

func TestMetricsServiceNilSafe(t *testing.T) {
	var m *MetricsService
	m.ObserveExport("success", time.Second)
	m.RecordWarning("X")
	m.RecordPhotos("copied", 1)
	require.Empty(t, m.Snapshot().Exports)
}
