package providers

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/carebridge-hub/backend/internal/domain/entities"
)

// ErrCacheMiss is returned by Get when the key is absent or expired
var ErrCacheMiss = errors.New("cache miss")

// CacheProvider defines the interface for caching operations
type CacheProvider interface {
	// Get retrieves a value from cache. A missing key yields ErrCacheMiss.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores a value in cache with expiration. Zero means no expiry.
	Set(ctx context.Context, key string, value []byte, expirationSeconds int) error

	// Delete removes a value from cache
	Delete(ctx context.Context, key string) error

	// Exists checks if a key exists in cache
	Exists(ctx context.Context, key string) (bool, error)
}

// ExtractionCacheKey is the cache key for a session's raw extraction result
func ExtractionCacheKey(sessionID string) string {
	return "extraction:" + sessionID
}

// ReviewStateCacheKey is the local cache key for a reviewer's working state
func ReviewStateCacheKey(sessionID string) string {
	return "review:" + sessionID
}

// CachedExtraction is what the pipeline leaves in the extraction cache for
// the reviewer. Form is the raw payload as extracted.
type CachedExtraction struct {
	Transcript string                      `json:"transcript"`
	Form       json.RawMessage             `json:"form"`
	FollowUps  []entities.FollowUpQuestion `json:"follow_ups,omitempty"`
}
