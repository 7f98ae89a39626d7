package provider

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"time"

	_ "modernc.org/sqlite" // SQLite driver
)

// Cache stores provider responses in a local SQLite file so repeated
// queries against the same point never spend external quota twice.
// Points are keyed at 5 decimal places (~1 m), matching the precision
// providers resolve anyway.
type Cache struct {
	db  *sql.DB
	ttl time.Duration
}

// OpenCache creates or opens the response cache at path. ttl <= 0
// keeps entries forever.
func OpenCache(path string, ttl time.Duration) (*Cache, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("provider cache: opening database: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA temp_store = MEMORY",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("provider cache: setting pragma %q: %w", pragma, err)
		}
	}

	schema := `
		CREATE TABLE IF NOT EXISTS responses (
			provider TEXT NOT NULL,
			lat_e5 INTEGER NOT NULL,
			lon_e5 INTEGER NOT NULL,
			elevation REAL NOT NULL,
			fetched_at INTEGER NOT NULL,
			PRIMARY KEY (provider, lat_e5, lon_e5)
		);`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("provider cache: creating schema: %w", err)
	}

	return &Cache{db: db, ttl: ttl}, nil
}

// Get returns a cached elevation, or ok=false on miss or expiry.
func (c *Cache) Get(ctx context.Context, provider string, lat, lon float64) (float64, bool) {
	latE5, lonE5 := e5(lat), e5(lon)
	var elevation float64
	var fetchedAt int64
	err := c.db.QueryRowContext(ctx,
		"SELECT elevation, fetched_at FROM responses WHERE provider=? AND lat_e5=? AND lon_e5=?",
		provider, latE5, lonE5,
	).Scan(&elevation, &fetchedAt)
	if err != nil {
		return 0, false
	}
	if c.ttl > 0 && time.Since(time.Unix(fetchedAt, 0)) > c.ttl {
		return 0, false
	}
	return elevation, true
}

// Put records one response.
func (c *Cache) Put(ctx context.Context, provider string, lat, lon, elevation float64) error {
	_, err := c.db.ExecContext(ctx,
		"INSERT OR REPLACE INTO responses (provider, lat_e5, lon_e5, elevation, fetched_at) VALUES (?, ?, ?, ?, ?)",
		provider, e5(lat), e5(lon), elevation, time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("provider cache: writing entry: %w", err)
	}
	return nil
}

// Close closes the underlying database.
func (c *Cache) Close() error { return c.db.Close() }

func e5(deg float64) int64 { return int64(math.Round(deg * 1e5)) }

// Cached wraps a provider with the response cache. Rate limits are
// only consulted on cache misses.
type Cached struct {
	ElevationProvider
	cache *Cache
}

// WithCache wraps p; a nil cache returns p unchanged.
func WithCache(p ElevationProvider, cache *Cache) ElevationProvider {
	if cache == nil {
		return p
	}
	return &Cached{ElevationProvider: p, cache: cache}
}

// CheckRateLimit always passes; the fetch path consumes quota itself
// on a cache miss.
func (c *Cached) CheckRateLimit(ctx context.Context) error { return nil }

func (c *Cached) FetchElevation(ctx context.Context, lat, lon float64) (float64, error) {
	if v, ok := c.cache.Get(ctx, c.Name(), lat, lon); ok {
		return v, nil
	}
	if err := c.ElevationProvider.CheckRateLimit(ctx); err != nil {
		return 0, err
	}
	v, err := c.ElevationProvider.FetchElevation(ctx, lat, lon)
	if err != nil {
		return 0, err
	}
	_ = c.cache.Put(ctx, c.Name(), lat, lon, v)
	return v, nil
}
