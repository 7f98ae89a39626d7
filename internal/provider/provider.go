// Package provider implements the external HTTP elevation APIs the
// orchestrator falls back to when object storage has no coverage.
package provider

import (
	"context"
	"errors"
)

// ErrRateLimited signals quota exhaustion, either from the local
// limiter or from an upstream 429. The orchestrator skips the provider
// for a cool-off and never retries it within the same request.
var ErrRateLimited = errors.New("provider: rate limited")

// ErrNoData signals a well-formed response without an elevation for
// the point (ocean, void fill). Treated like a miss, not a failure.
var ErrNoData = errors.New("provider: no elevation for point")

// ElevationProvider is the capability the fallback chain iterates.
type ElevationProvider interface {
	// Name identifies the provider in provenance and log records.
	Name() string
	// CheckRateLimit consumes one unit of the provider's quota.
	// Returns ErrRateLimited when exhausted.
	CheckRateLimit(ctx context.Context) error
	// FetchElevation queries the API for one point.
	FetchElevation(ctx context.Context, lat, lon float64) (float64, error)
}
