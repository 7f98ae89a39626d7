// Package engine owns the long-lived state of a serving process: the
// loaded index, the source catalog, the provider chain, the rate
// limiter, and the query services built on top.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/MeKo-Tech/elevationmap/internal/catalog"
	"github.com/MeKo-Tech/elevationmap/internal/coverage"
	"github.com/MeKo-Tech/elevationmap/internal/fallback"
	"github.com/MeKo-Tech/elevationmap/internal/index"
	"github.com/MeKo-Tech/elevationmap/internal/provider"
	"github.com/MeKo-Tech/elevationmap/internal/ratelimit"
	"github.com/MeKo-Tech/elevationmap/internal/sampler"
	"github.com/MeKo-Tech/elevationmap/internal/selector"
	"github.com/MeKo-Tech/elevationmap/internal/storage"
)

// Config assembles an engine.
type Config struct {
	IndexPath   string
	CatalogPath string
	Store       storage.ObjectStore

	RedisURL      string
	RateLimitMode string

	// ProviderCachePath enables the SQLite response cache for HTTP
	// providers when non-empty.
	ProviderCachePath string

	QueryDeadline   time.Duration
	ProviderCoolOff time.Duration

	Logger *slog.Logger
}

// Engine is created once at startup and shared read-only by request
// handlers.
type Engine struct {
	Index    *index.Index
	Catalog  *catalog.Catalog
	Coverage *coverage.Service

	orch    *fallback.Orchestrator
	limiter *ratelimit.Limiter
	cache   *provider.Cache
	log     *slog.Logger
}

// New loads the index and catalog and wires the query pipeline.
// A schema mismatch in the index file surfaces as
// index.ErrSchemaMismatch so callers can exit with the right code.
func New(cfg Config) (*Engine, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("engine: object store is required")
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}

	ix, err := index.Load(cfg.IndexPath)
	if err != nil {
		return nil, err
	}
	log.Info("index loaded",
		"path", cfg.IndexPath,
		"tiles", ix.TotalTileCount,
		"collections", len(ix.Collections),
		"generated_at", ix.GeneratedAt,
	)

	var cat *catalog.Catalog
	if cfg.CatalogPath != "" {
		cat, err = catalog.Load(cfg.CatalogPath)
		if err != nil {
			return nil, err
		}
	} else {
		cat = &catalog.Catalog{SchemaVersion: "1.0"}
	}

	mode, err := ratelimit.ParseMode(cfg.RateLimitMode)
	if err != nil {
		return nil, err
	}
	limiter, err := ratelimit.NewFromURL(cfg.RedisURL, mode, log)
	if err != nil {
		return nil, err
	}

	var cache *provider.Cache
	if cfg.ProviderCachePath != "" {
		cache, err = provider.OpenCache(cfg.ProviderCachePath, 0)
		if err != nil {
			return nil, err
		}
	}

	providers, err := buildProviders(cat, limiter, cache, log)
	if err != nil {
		return nil, err
	}

	smp := sampler.New(cfg.Store, log)
	sel := selector.New(ix)
	orch, err := fallback.New(fallback.Config{
		Index:     ix,
		Selector:  sel,
		Sampler:   smp,
		Providers: providers,
		Deadline:  cfg.QueryDeadline,
		CoolOff:   cfg.ProviderCoolOff,
		Logger:    log,
	})
	if err != nil {
		return nil, err
	}

	return &Engine{
		Index:    ix,
		Catalog:  cat,
		Coverage: coverage.New(ix),
		orch:     orch,
		limiter:  limiter,
		cache:    cache,
		log:      log,
	}, nil
}

// buildProviders turns enabled http-api descriptors into the ordered
// fallback chain. Descriptor metadata keys: style, dataset,
// api_key_env, rate_per_second, daily_quota.
func buildProviders(cat *catalog.Catalog, limiter *ratelimit.Limiter, cache *provider.Cache, log *slog.Logger) ([]provider.ElevationProvider, error) {
	var out []provider.ElevationProvider
	for _, d := range cat.Providers() {
		style, err := provider.ParseStyle(d.Metadata["style"])
		if err != nil {
			return nil, fmt.Errorf("engine: source %q: %w", d.ID, err)
		}
		apiKey := ""
		if env := d.Metadata["api_key_env"]; env != "" {
			apiKey = os.Getenv(env)
		}
		p, err := provider.NewHTTP(provider.Config{
			Name:          d.ID,
			Style:         style,
			Endpoint:      d.Endpoint,
			Dataset:       d.Metadata["dataset"],
			APIKey:        apiKey,
			RatePerSecond: metaInt(d.Metadata, "rate_per_second"),
			DailyQuota:    metaInt(d.Metadata, "daily_quota"),
			Limiter:       limiter,
			Logger:        log,
		})
		if err != nil {
			return nil, fmt.Errorf("engine: source %q: %w", d.ID, err)
		}
		out = append(out, provider.WithCache(p, cache))
	}
	return out, nil
}

func metaInt(m map[string]string, key string) int64 {
	n, _ := strconv.ParseInt(m[key], 10, 64)
	return n
}

// Query resolves one point through the fallback chain.
func (e *Engine) Query(ctx context.Context, lat, lon float64, policy selector.Policy, sourceID string) (fallback.Result, error) {
	return e.orch.Query(ctx, lat, lon, policy, sourceID)
}

// QueryBulk resolves many points, preserving input order.
func (e *Engine) QueryBulk(ctx context.Context, points []fallback.Point, policy selector.Policy, sourceID string) ([]fallback.Result, error) {
	return e.orch.QueryBulk(ctx, points, policy, sourceID)
}

// Close releases held resources.
func (e *Engine) Close() error {
	if e.cache != nil {
		return e.cache.Close()
	}
	return nil
}
