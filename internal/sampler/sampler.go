// Package sampler reads single elevation values out of DEM tiles in
// object storage: reproject the query point into the tile's native
// CRS, locate the pixel, fetch and decode it.
package sampler

import (
	"context"
	"log/slog"
	"strconv"
	"strings"
	"sync"

	"github.com/MeKo-Tech/elevationmap/internal/geo"
	"github.com/MeKo-Tech/elevationmap/internal/geotiff"
	"github.com/MeKo-Tech/elevationmap/internal/index"
	"github.com/MeKo-Tech/elevationmap/internal/storage"
)

// Sampler samples pixels from raster objects. Parsed headers are
// cached per object key, so repeated queries against the same tile pay
// one header fetch. Readers are built per call; the cache holds only
// immutable parsed headers, so concurrent samples never share state.
type Sampler struct {
	store storage.ObjectStore
	log   *slog.Logger

	mu      sync.Mutex
	headers map[string]*geotiff.Info
}

// New creates a sampler over a store.
func New(store storage.ObjectStore, log *slog.Logger) *Sampler {
	if log == nil {
		log = slog.Default()
	}
	return &Sampler{store: store, log: log, headers: make(map[string]*geotiff.Info)}
}

// Sample returns the elevation under (lat, lon) in the given tile, or
// ok=false when the pixel is nodata, the point misses the raster, or
// any I/O or reprojection step fails. Misses are absorbed here so the
// orchestrator can move on to the next tile.
func (s *Sampler) Sample(ctx context.Context, tile *index.TileEntry, lat, lon float64) (float64, bool) {
	epsg := epsgOf(tile.NativeCRS)
	if epsg == 0 {
		s.log.Debug("tile without usable CRS", "key", tile.Key, "native_crs", tile.NativeCRS)
		return 0, false
	}

	x, y, err := geo.WGS84ToEPSG(lat, lon, epsg)
	if err != nil {
		s.log.Debug("reprojection failed", "key", tile.Key, "epsg", epsg, "error", err)
		return 0, false
	}

	info, err := s.header(ctx, tile.Key)
	if err != nil {
		s.log.Debug("header read failed", "key", tile.Key, "error", err)
		return 0, false
	}

	px, py, ok := info.PixelAt(x, y)
	if !ok {
		return 0, false
	}
	rr := &storage.RangeReaderAt{Store: s.store, Key: tile.Key, Ctx: ctx}
	v, err := info.SamplePixel(rr, px, py)
	if err != nil {
		s.log.Debug("pixel read failed", "key", tile.Key, "px", px, "py", py, "error", err)
		return 0, false
	}
	if info.IsNoData(v) {
		return 0, false
	}
	return v, true
}

func (s *Sampler) header(ctx context.Context, key string) (*geotiff.Info, error) {
	s.mu.Lock()
	if info, ok := s.headers[key]; ok {
		s.mu.Unlock()
		return info, nil
	}
	s.mu.Unlock()

	rr := &storage.RangeReaderAt{Store: s.store, Key: key, Ctx: ctx}
	info, err := geotiff.ReadHeader(geotiff.Chunked(rr))
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.headers[key] = info
	s.mu.Unlock()
	return info, nil
}

// epsgOf parses "EPSG:NNNN" labels; anything else yields 0.
func epsgOf(crs string) int {
	s := strings.TrimPrefix(strings.ToUpper(strings.TrimSpace(crs)), "EPSG:")
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return 0
	}
	return n
}
