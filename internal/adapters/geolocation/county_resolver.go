package geolocation

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/carebridge-hub/backend/internal/domain/entities"
	"github.com/carebridge-hub/backend/internal/domain/providers"
)

const (
	defaultZIPLookupURL  = "https://api.zippopotam.us/us"
	defaultCountyAreaURL = "https://geo.fcc.gov/api/census/area"
	defaultHTTPTimeout   = 8 * time.Second
	defaultCacheTTL      = 30 * 24 * time.Hour
)

// CountyResolver resolves ZIP codes to counties in two hops: the ZIP's
// centroid from Zippopotam, then the county containing it from the FCC
// census area API. Results are cached per ZIP.
type CountyResolver struct {
	zipURL     string
	areaURL    string
	httpClient *http.Client
	cache      providers.CacheProvider
	cacheTTL   time.Duration
}

var _ providers.GeoResolver = (*CountyResolver)(nil)

// CountyResolverOptions overrides endpoints and transport, mostly for tests
type CountyResolverOptions struct {
	ZIPLookupURL  string
	CountyAreaURL string
	Timeout       time.Duration
	CacheTTL      time.Duration
	HTTPClient    *http.Client
}

// NewCountyResolver creates a resolver. cache may be nil.
func NewCountyResolver(cache providers.CacheProvider, opts CountyResolverOptions) *CountyResolver {
	r := &CountyResolver{
		zipURL:     strings.TrimRight(opts.ZIPLookupURL, "/"),
		areaURL:    opts.CountyAreaURL,
		httpClient: opts.HTTPClient,
		cache:      cache,
		cacheTTL:   opts.CacheTTL,
	}
	if r.zipURL == "" {
		r.zipURL = defaultZIPLookupURL
	}
	if r.areaURL == "" {
		r.areaURL = defaultCountyAreaURL
	}
	if r.httpClient == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = defaultHTTPTimeout
		}
		r.httpClient = &http.Client{Timeout: timeout}
	}
	if r.cacheTTL <= 0 {
		r.cacheTTL = defaultCacheTTL
	}
	return r
}

type zipResponse struct {
	Places []struct {
		Latitude  string `json:"latitude"`
		Longitude string `json:"longitude"`
	} `json:"places"`
}

type areaResponse struct {
	Results []struct {
		CountyName string `json:"county_name"`
		StateName  string `json:"state_name"`
	} `json:"results"`
}

// ResolveZIP returns the county a ZIP code lies in
func (r *CountyResolver) ResolveZIP(ctx context.Context, zip string) (*entities.County, error) {
	zip = strings.TrimSpace(zip)
	if zip == "" {
		return nil, fmt.Errorf("zip is required")
	}

	cacheKey := providers.GeoCacheKey(zip)
	if r.cache != nil {
		if cached, err := r.cache.Get(ctx, cacheKey); err == nil && len(cached) > 0 {
			var county entities.County
			if err := json.Unmarshal(cached, &county); err == nil && county.Name != "" {
				return &county, nil
			}
		}
	}

	var places zipResponse
	found, err := r.getJSON(ctx, r.zipURL+"/"+url.PathEscape(zip), &places)
	if err != nil {
		return nil, fmt.Errorf("zip lookup failed: %w", err)
	}
	if !found || len(places.Places) == 0 {
		return nil, fmt.Errorf("%w: zip %s", providers.ErrLocationNotFound, zip)
	}

	params := url.Values{
		"lat":    []string{places.Places[0].Latitude},
		"lon":    []string{places.Places[0].Longitude},
		"format": []string{"json"},
	}
	var area areaResponse
	found, err = r.getJSON(ctx, r.areaURL+"?"+params.Encode(), &area)
	if err != nil {
		return nil, fmt.Errorf("county lookup failed: %w", err)
	}
	if !found || len(area.Results) == 0 || area.Results[0].CountyName == "" {
		return nil, fmt.Errorf("%w: no county for zip %s", providers.ErrLocationNotFound, zip)
	}

	county := entities.County{Name: area.Results[0].CountyName, State: area.Results[0].StateName}
	if r.cache != nil {
		if payload, err := json.Marshal(county); err == nil {
			_ = r.cache.Set(ctx, cacheKey, payload, int(r.cacheTTL.Seconds()))
		}
	}
	return &county, nil
}

// getJSON decodes a GET response into out. A 404 reports found=false.
func (r *CountyResolver) getJSON(ctx context.Context, reqURL string, out any) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return false, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return false, nil
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return false, fmt.Errorf("request returned status %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return false, fmt.Errorf("failed to decode response: %w", err)
	}
	return true, nil
}
