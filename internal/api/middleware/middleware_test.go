package middleware_test

import (
	"compress/gzip"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carebridge-hub/backend/internal/api/middleware"
)

func okHandler(body string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(body))
	})
}

func TestCORSMiddleware(t *testing.T) {
	t.Run("configured origin is echoed", func(t *testing.T) {
		handler := middleware.CORSMiddleware([]string{"https://ward.example"})(okHandler("ok"))
		req := httptest.NewRequest(http.MethodGet, "/api/sessions", nil)
		req.Header.Set("Origin", "https://ward.example")
		rec := httptest.NewRecorder()

		handler.ServeHTTP(rec, req)

		assert.Equal(t, "https://ward.example", rec.Header().Get("Access-Control-Allow-Origin"))
		assert.Equal(t, "Origin", rec.Header().Get("Vary"))
	})

	t.Run("unknown origin gets no allow header", func(t *testing.T) {
		handler := middleware.CORSMiddleware([]string{"https://ward.example"})(okHandler("ok"))
		req := httptest.NewRequest(http.MethodGet, "/api/sessions", nil)
		req.Header.Set("Origin", "https://elsewhere.example")
		rec := httptest.NewRecorder()

		handler.ServeHTTP(rec, req)

		assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
	})

	t.Run("preflight short-circuits", func(t *testing.T) {
		called := false
		handler := middleware.CORSMiddleware(nil)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
			called = true
		}))
		req := httptest.NewRequest(http.MethodOptions, "/api/sessions", nil)
		req.Header.Set("Origin", "https://any.example")
		rec := httptest.NewRecorder()

		handler.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusNoContent, rec.Code)
		assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
		assert.False(t, called)
	})
}

func TestResponseOptimization(t *testing.T) {
	t.Run("compresses and marks session data no-store", func(t *testing.T) {
		handler := middleware.ResponseOptimization(okHandler(`{"id":"s-1"}`))
		req := httptest.NewRequest(http.MethodGet, "/api/sessions/s-1/form", nil)
		req.Header.Set("Accept-Encoding", "gzip")
		rec := httptest.NewRecorder()

		handler.ServeHTTP(rec, req)

		assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))
		require.Equal(t, "gzip", rec.Header().Get("Content-Encoding"))
		zr, err := gzip.NewReader(rec.Body)
		require.NoError(t, err)
		body, err := io.ReadAll(zr)
		require.NoError(t, err)
		assert.Equal(t, `{"id":"s-1"}`, string(body))
	})

	t.Run("event streams are not compressed", func(t *testing.T) {
		handler := middleware.ResponseOptimization(okHandler("data: {}\n\n"))
		req := httptest.NewRequest(http.MethodGet, "/api/sessions/s-1/stream", nil)
		req.Header.Set("Accept-Encoding", "gzip")
		req.Header.Set("Accept", "text/event-stream")
		rec := httptest.NewRecorder()

		handler.ServeHTTP(rec, req)

		assert.Empty(t, rec.Header().Get("Content-Encoding"))
		assert.Equal(t, "data: {}\n\n", rec.Body.String())
	})

	t.Run("health stays cacheable", func(t *testing.T) {
		handler := middleware.ResponseOptimization(okHandler("OK"))
		rec := httptest.NewRecorder()

		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

		assert.Empty(t, rec.Header().Get("Cache-Control"))
	})
}

func TestObservabilityMiddleware_UsesMatchedRoute(t *testing.T) {
	mux := http.NewServeMux()
	var seen string
	mux.HandleFunc("GET /api/sessions/{id}/status", func(w http.ResponseWriter, r *http.Request) {
		seen = r.PathValue("id")
		w.WriteHeader(http.StatusAccepted)
	})
	handler := middleware.ObservabilityMiddleware(nil)(middleware.LoggingMiddleware(mux))
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/sessions/s-9/status", nil))

	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, "s-9", seen)
}
