package geolocation

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carebridge-hub/backend/internal/adapters/cache"
	"github.com/carebridge-hub/backend/internal/domain/providers"
)

func newLookupServer(t *testing.T, calls *int32) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("GET /us/94110", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(calls, 1)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"post code":"94110","places":[{"latitude":"37.7484","longitude":"-122.4156"}]}`))
	})
	mux.HandleFunc("GET /us/00000", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{}`))
	})
	mux.HandleFunc("GET /us/99999", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})
	mux.HandleFunc("GET /area", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(calls, 1)
		assert.Equal(t, "37.7484", r.URL.Query().Get("lat"))
		assert.Equal(t, "-122.4156", r.URL.Query().Get("lon"))
		assert.Equal(t, "json", r.URL.Query().Get("format"))
		_, _ = w.Write([]byte(`{"results":[{"county_name":"San Francisco County","state_name":"California"}]}`))
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func TestCountyResolver_ResolveZIP(t *testing.T) {
	var calls int32
	server := newLookupServer(t, &calls)
	memory := cache.NewMemoryAdapter()
	resolver := NewCountyResolver(memory, CountyResolverOptions{
		ZIPLookupURL:  server.URL + "/us/",
		CountyAreaURL: server.URL + "/area",
	})

	county, err := resolver.ResolveZIP(context.Background(), "94110")
	require.NoError(t, err)
	assert.Equal(t, "San Francisco County", county.Name)
	assert.Equal(t, "California", county.State)
	assert.Equal(t, "San Francisco County, California", county.Location())
	assert.EqualValues(t, 2, atomic.LoadInt32(&calls))

	t.Run("second lookup is served from cache", func(t *testing.T) {
		again, err := resolver.ResolveZIP(context.Background(), "94110")
		require.NoError(t, err)
		assert.Equal(t, county, again)
		assert.EqualValues(t, 2, atomic.LoadInt32(&calls))

		cached, err := memory.Exists(context.Background(), providers.GeoCacheKey("94110"))
		require.NoError(t, err)
		assert.True(t, cached)
	})
}

func TestCountyResolver_NotFound(t *testing.T) {
	var calls int32
	server := newLookupServer(t, &calls)
	resolver := NewCountyResolver(nil, CountyResolverOptions{
		ZIPLookupURL:  server.URL + "/us",
		CountyAreaURL: server.URL + "/area",
	})

	for _, zip := range []string{"99999", "00000"} {
		_, err := resolver.ResolveZIP(context.Background(), zip)
		assert.ErrorIs(t, err, providers.ErrLocationNotFound, zip)
	}
}

func TestCountyResolver_UpstreamError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	resolver := NewCountyResolver(nil, CountyResolverOptions{ZIPLookupURL: server.URL, CountyAreaURL: server.URL})
	_, err := resolver.ResolveZIP(context.Background(), "94110")
	require.Error(t, err)
	assert.NotErrorIs(t, err, providers.ErrLocationNotFound)
	assert.Contains(t, err.Error(), "status 502")
}
