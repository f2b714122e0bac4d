package main

import (
	"bytes"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/checkup-export-api/internal/handler"
	"github.com/noah-isme/checkup-export-api/internal/repository"
	"github.com/noah-isme/checkup-export-api/internal/service"
	"github.com/noah-isme/checkup-export-api/pkg/config"
	"github.com/noah-isme/checkup-export-api/pkg/jobs"
	"github.com/noah-isme/checkup-export-api/pkg/storage"
)

func testRouter(t *testing.T, ready func() error) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	store, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	repo := repository.NewMemoryExportJobRepository()
	metrics := service.NewMetricsService()
	engine := service.NewExportService(service.ExportConfig{}, nil, metrics, zap.NewNop())
	worker := service.NewExportWorker(repo, engine, store, nil, zap.NewNop())
	queue := jobs.NewQueue("test", worker.Handle, jobs.QueueConfig{})
	jobSvc := service.NewExportJobService(repo, queue, worker, store, storage.NewDownloadSigner("s", time.Hour), nil, zap.NewNop(), service.ExportJobConfig{APIPrefix: "/api/v1"})

	return newRouter(routerDeps{
		cfg:     &config.Config{Env: config.EnvProduction, APIPrefix: "/api/v1"},
		logger:  zap.NewNop(),
		metrics: metrics,
		exports: handler.NewExportHandler(jobSvc),
		ready:   ready,
	})
}

func TestRouterProbes(t *testing.T) {
	r := testRouter(t, func() error { return errors.New("postgres down") })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ready", nil))
	require.Equal(t, http.StatusServiceUnavailable, w.Code)
	require.Contains(t, w.Body.String(), "postgres down")

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/docs/index.html", nil))
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestRouterExportRoutes(t *testing.T) {
	r := testRouter(t, nil)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/exports/unknown", nil))
	require.Equal(t, http.StatusNotFound, w.Code)
	require.Contains(t, w.Body.String(), "NOT_FOUND")

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/exports/download/bogus", nil))
	require.Equal(t, http.StatusForbidden, w.Code)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/exports", nil))
	require.Equal(t, http.StatusOK, w.Code)

	// the queue is not started, so the job is recorded as failed
	body := []byte(`{"checkup":{"header":{"id":"cu-1","client":{"name":"Rossi"},"technician":{"name":"Bianchi"},"island":{"type":"Saldatura"}},"sections":[]},"options":{"formats":["TEXT"]}}`)
	w = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/exports", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusInternalServerError, w.Code)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), `path="/api/v1/exports/:id"`)
}
