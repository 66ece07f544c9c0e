package providers

import (
	"context"
	"errors"

	"github.com/carebridge-hub/backend/internal/domain/entities"
)

// ErrLocationNotFound is returned when a ZIP or county has no match
var ErrLocationNotFound = errors.New("location not found")

// GeoResolver maps a US ZIP code to its county
type GeoResolver interface {
	ResolveZIP(ctx context.Context, zip string) (*entities.County, error)
}

// SVIProvider looks up the vulnerability flags of a county
type SVIProvider interface {
	Flags(ctx context.Context, county, state string) (*entities.SVIFlags, error)
}

// GeoCacheKey is the cache key for a resolved ZIP code
func GeoCacheKey(zip string) string {
	return "geo:" + zip
}
