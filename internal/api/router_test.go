package api

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRouterRoutes(t *testing.T) {
	deps := Dependencies{
		HealthHandler: func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		},
	}
	router := NewRouter(deps)

	tests := []struct {
		method string
		path   string
		want   int
	}{
		{http.MethodGet, "/api/v1/health", http.StatusOK},
		{http.MethodPost, "/api/v1/sync", http.StatusNotImplemented},
		{http.MethodGet, "/api/v1/jobs/abc", http.StatusNotImplemented},
		{http.MethodGet, "/api/v1/queue/status", http.StatusNotImplemented},
		{http.MethodGet, "/api/v1/products/SKU-1/comparison", http.StatusNotImplemented},
		{http.MethodPost, "/api/v1/compare", http.StatusNotImplemented},
		{http.MethodGet, "/api/v1/pricing/engine", http.StatusNotImplemented},
		{http.MethodGet, "/api/v1/alerts", http.StatusNotImplemented},
		{http.MethodGet, "/api/v1/nope", http.StatusNotFound},
		{http.MethodDelete, "/api/v1/health", http.StatusMethodNotAllowed},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(tt.method, tt.path, nil)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		assert.Equal(t, tt.want, rec.Code, "%s %s", tt.method, tt.path)
	}
}

func TestRouterWiresHandlers(t *testing.T) {
	called := false
	deps := Dependencies{
		QueueStatusHandler: func(w http.ResponseWriter, r *http.Request) {
			called = true
			w.WriteHeader(http.StatusOK)
		},
	}
	router := NewRouter(deps)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/queue/status", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.True(t, called)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRouterRecoversFromPanic(t *testing.T) {
	deps := Dependencies{
		HealthHandler: func(w http.ResponseWriter, r *http.Request) {
			panic("boom")
		},
	}
	router := NewRouter(deps)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}
