// Package fallback drives a single elevation request through its
// fallback chain: ranked campaigns from the selector, tile sampling
// against object storage, then external HTTP providers.
package fallback

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MeKo-Tech/elevationmap/internal/index"
	"github.com/MeKo-Tech/elevationmap/internal/provider"
	"github.com/MeKo-Tech/elevationmap/internal/ratelimit"
	"github.com/MeKo-Tech/elevationmap/internal/sampler"
	"github.com/MeKo-Tech/elevationmap/internal/selector"
)

// ErrValidation marks malformed requests; the server maps it to 400.
var ErrValidation = errors.New("invalid request")

// Reason codes surfaced on results without an elevation.
const (
	ReasonNoCoverage       = "no_coverage"
	ReasonAllSourcesFailed = "all_sources_failed"
	ReasonCancelled        = "cancelled"
)

const (
	defaultDeadline = 30 * time.Second
	defaultCoolOff  = 5 * time.Minute
)

// Result is the outcome of one query, with provenance.
type Result struct {
	Elevation *float64
	Source    string
	DatasetID string
	TileKey   string
	CRS       string
	Method    string
	Reason    string
}

func (r Result) Found() bool { return r.Elevation != nil }

// Config wires an orchestrator.
type Config struct {
	Index     *index.Index
	Selector  *selector.Selector
	Sampler   *sampler.Sampler
	Providers []provider.ElevationProvider

	// Deadline caps each request; zero means 30 s.
	Deadline time.Duration
	// CoolOff is how long a rate-limited provider is skipped; zero
	// means 5 min.
	CoolOff time.Duration

	Logger *slog.Logger
}

// Orchestrator executes the fallback state machine. It is safe for
// concurrent use; the only mutable state is the provider cool-off map.
type Orchestrator struct {
	cfg Config
	log *slog.Logger

	mu      sync.Mutex
	coolOff map[string]time.Time
}

// New validates the config and returns an orchestrator.
func New(cfg Config) (*Orchestrator, error) {
	if cfg.Index == nil || cfg.Selector == nil || cfg.Sampler == nil {
		return nil, fmt.Errorf("fallback: index, selector and sampler are required")
	}
	if cfg.Deadline <= 0 {
		cfg.Deadline = defaultDeadline
	}
	if cfg.CoolOff <= 0 {
		cfg.CoolOff = defaultCoolOff
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Orchestrator{cfg: cfg, log: cfg.Logger, coolOff: make(map[string]time.Time)}, nil
}

// Query resolves one point. sourceID, when non-empty, restricts the
// search to the named campaign. Validation failures return
// ErrValidation before any index work; rate-limiter strict-mode
// outages propagate ratelimit.ErrUnavailable.
func (o *Orchestrator) Query(ctx context.Context, lat, lon float64, policy selector.Policy, sourceID string) (Result, error) {
	if err := validateCoordinate(lat, lon); err != nil {
		return Result{}, err
	}
	ctx, cancel := context.WithTimeout(ctx, o.cfg.Deadline)
	defer cancel()
	return o.resolve(ctx, lat, lon, policy, sourceID)
}

func (o *Orchestrator) resolve(ctx context.Context, lat, lon float64, policy selector.Policy, sourceID string) (Result, error) {
	candidates := o.cfg.Selector.Select(lat, lon, policy)
	if sourceID != "" {
		candidates = filterByID(candidates, sourceID)
	}

	for _, cand := range candidates {
		if ctx.Err() != nil {
			return Result{Reason: ReasonCancelled, DatasetID: cand.ID}, nil
		}
		for _, ref := range o.cfg.Index.TilesInCampaign(cand.Ref, lat, lon) {
			tile := ref.Tile
			if ctx.Err() != nil {
				return Result{Reason: ReasonCancelled, DatasetID: cand.ID, TileKey: tile.Key}, nil
			}
			v, ok := o.cfg.Sampler.Sample(ctx, tile, lat, lon)
			if !ok {
				continue
			}
			o.log.Debug("tile hit",
				"dataset", cand.ID, "key", tile.Key, "elevation", v, "confidence", cand.Confidence)
			return Result{
				Elevation: &v,
				Source:    "object-storage",
				DatasetID: cand.ID,
				TileKey:   tile.Key,
				CRS:       tile.NativeCRS,
				Method:    string(tile.Method),
			}, nil
		}
	}

	res, err := o.tryProviders(ctx, lat, lon)
	if err != nil || res.Found() {
		return res, err
	}
	if ctx.Err() != nil {
		res.Reason = ReasonCancelled
		return res, nil
	}
	if len(candidates) == 0 && res.Reason == "" {
		res.Reason = ReasonNoCoverage
	}
	if res.Reason == "" {
		res.Reason = ReasonAllSourcesFailed
	}
	return res, nil
}

// tryProviders walks the HTTP chain. A rate-limit signal cools the
// provider off across requests; any other failure skips it for this
// request only.
func (o *Orchestrator) tryProviders(ctx context.Context, lat, lon float64) (Result, error) {
	var last Result
	for _, p := range o.cfg.Providers {
		if ctx.Err() != nil {
			return Result{Reason: ReasonCancelled}, nil
		}
		if o.cooling(p.Name()) {
			continue
		}
		if err := p.CheckRateLimit(ctx); err != nil {
			if errors.Is(err, ratelimit.ErrUnavailable) {
				return Result{}, err
			}
			o.log.Warn("provider rate limited", "provider", p.Name(), "error", err)
			o.startCoolOff(p.Name())
			continue
		}
		v, err := p.FetchElevation(ctx, lat, lon)
		if err != nil {
			if errors.Is(err, provider.ErrRateLimited) {
				o.startCoolOff(p.Name())
			}
			o.log.Warn("provider failed", "provider", p.Name(), "error", err)
			last = Result{Source: p.Name(), Reason: ReasonAllSourcesFailed}
			continue
		}
		o.log.Debug("provider hit", "provider", p.Name(), "elevation", v)
		return Result{
			Elevation: &v,
			Source:    p.Name(),
			CRS:       "EPSG:4326",
			Method:    "http-api",
		}, nil
	}
	return last, nil
}

func (o *Orchestrator) cooling(name string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	until, ok := o.coolOff[name]
	if !ok {
		return false
	}
	if time.Now().After(until) {
		delete(o.coolOff, name)
		return false
	}
	return true
}

func (o *Orchestrator) startCoolOff(name string) {
	o.mu.Lock()
	o.coolOff[name] = time.Now().Add(o.cfg.CoolOff)
	o.mu.Unlock()
}

// Point is one bulk-query input.
type Point struct {
	Lat float64
	Lon float64
}

// QueryBulk resolves points concurrently, grouped by their top
// candidate campaign so each group reuses one tile header. Results
// match input order. A malformed point fails only its own slot.
func (o *Orchestrator) QueryBulk(ctx context.Context, points []Point, policy selector.Policy, sourceID string) ([]Result, error) {
	ctx, cancel := context.WithTimeout(ctx, o.cfg.Deadline)
	defer cancel()

	results := make([]Result, len(points))

	groups := map[string][]int{}
	for i, pt := range points {
		if err := validateCoordinate(pt.Lat, pt.Lon); err != nil {
			results[i] = Result{Reason: "invalid_coordinate"}
			continue
		}
		key := ""
		if cands := o.cfg.Selector.Select(pt.Lat, pt.Lon, policy); len(cands) > 0 {
			key = cands[0].ID
		}
		groups[key] = append(groups[key], i)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for _, idxs := range groups {
		idxs := idxs
		g.Go(func() error {
			for _, i := range idxs {
				res, err := o.resolve(gctx, points[i].Lat, points[i].Lon, policy, sourceID)
				if err != nil {
					return err
				}
				results[i] = res
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func validateCoordinate(lat, lon float64) error {
	if math.IsNaN(lat) || math.IsInf(lat, 0) || math.IsNaN(lon) || math.IsInf(lon, 0) {
		return fmt.Errorf("%w: coordinate (%g, %g) is not finite", ErrValidation, lat, lon)
	}
	if lat < -90 || lat > 90 || lon < -180 || lon > 180 {
		return fmt.Errorf("%w: coordinate (%g, %g) out of range", ErrValidation, lat, lon)
	}
	return nil
}

func filterByID(cands []selector.Match, id string) []selector.Match {
	var out []selector.Match
	for _, c := range cands {
		if c.ID == id {
			out = append(out, c)
		}
	}
	return out
}
