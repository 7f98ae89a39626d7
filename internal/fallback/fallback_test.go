package fallback

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/MeKo-Tech/elevationmap/internal/geo"
	"github.com/MeKo-Tech/elevationmap/internal/geotiff/tifftest"
	"github.com/MeKo-Tech/elevationmap/internal/index"
	"github.com/MeKo-Tech/elevationmap/internal/provider"
	"github.com/MeKo-Tech/elevationmap/internal/ratelimit"
	"github.com/MeKo-Tech/elevationmap/internal/sampler"
	"github.com/MeKo-Tech/elevationmap/internal/selector"
	"github.com/MeKo-Tech/elevationmap/internal/storage"
)

func quiet() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError + 1}))
}

// fixture writes a 4x4 EPSG:4326 tile at (-27.004..-27.0, 153.0..153.004)
// holding py*100+px per pixel, and returns an index routing to it.
func fixture(t *testing.T, dir string) *index.Index {
	t.Helper()
	raw := tifftest.Build(tifftest.Opts{
		Width: 4, Height: 4, Pixels: tifftest.Grid(4, 4),
		EPSG:    4326,
		OriginX: 153.0, OriginY: -27.0,
		PixelSize: 0.001,
		NoData:    "-9999",
	})
	path := filepath.Join(dir, "tiles", "geo.tif")
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		t.Fatal(err)
	}

	ix := index.New("bucket")
	coll := ix.EnsureCollection("AU", "EPSG:7844")
	camp := &index.Campaign{
		ID: "brisbane_dem", Name: "brisbane_dem", Provider: "Geoscience Australia",
		DataType: index.DataTypeDEM, ResolutionM: 1, Priority: 10, CostPerQuery: 0.0005,
		Files: []index.TileEntry{{
			Key:       "tiles/geo.tif",
			Bounds:    geo.Bounds{MinLat: -27.004, MaxLat: -27.0, MinLon: 153.0, MaxLon: 153.004},
			NativeCRS: "EPSG:4326",
			Method:    index.MethodRasterHeader,
			Precision: geo.PrecisionPrecise,
		}},
	}
	camp.RecomputeBounds()
	coll.Campaigns[camp.ID] = camp
	ix.TotalTileCount = 1
	return ix
}

// fakeProvider scripts one provider in the chain.
type fakeProvider struct {
	name      string
	limitErr  error
	fetchErr  error
	elevation float64
	fetches   int
}

func (f *fakeProvider) Name() string { return f.name }

func (f *fakeProvider) CheckRateLimit(ctx context.Context) error { return f.limitErr }

func (f *fakeProvider) FetchElevation(ctx context.Context, lat, lon float64) (float64, error) {
	f.fetches++
	if f.fetchErr != nil {
		return 0, f.fetchErr
	}
	return f.elevation, nil
}

func orchestrator(t *testing.T, ix *index.Index, store storage.ObjectStore, providers ...provider.ElevationProvider) *Orchestrator {
	t.Helper()
	o, err := New(Config{
		Index:     ix,
		Selector:  selector.New(ix),
		Sampler:   sampler.New(store, quiet()),
		Providers: providers,
		Logger:    quiet(),
	})
	if err != nil {
		t.Fatal(err)
	}
	return o
}

func TestQueryTileHit(t *testing.T) {
	dir := t.TempDir()
	ix := fixture(t, dir)
	o := orchestrator(t, ix, storage.NewLocalStore(dir))

	res, err := o.Query(context.Background(), -27.0015, 153.0025, selector.PolicyBalanced, "")
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if !res.Found() || *res.Elevation != 102 {
		t.Fatalf("result = %+v", res)
	}
	if res.Source != "object-storage" || res.DatasetID != "brisbane_dem" {
		t.Errorf("provenance = %q/%q", res.Source, res.DatasetID)
	}
	if res.TileKey != "tiles/geo.tif" || res.CRS != "EPSG:4326" || res.Method != "raster-header" {
		t.Errorf("tile provenance = %+v", res)
	}
}

func TestQueryValidation(t *testing.T) {
	dir := t.TempDir()
	o := orchestrator(t, fixture(t, dir), storage.NewLocalStore(dir))

	bad := [][2]float64{
		{91, 0}, {-91, 0}, {0, 181}, {0, -181},
		{math.NaN(), 153}, {-27, math.NaN()},
		{math.Inf(1), 153}, {-27, math.Inf(-1)},
	}
	for _, pt := range bad {
		_, err := o.Query(context.Background(), pt[0], pt[1], selector.PolicyBalanced, "")
		if !errors.Is(err, ErrValidation) {
			t.Errorf("Query(%g, %g) err = %v, want ErrValidation", pt[0], pt[1], err)
		}
	}
}

func TestQueryNoCoverage(t *testing.T) {
	dir := t.TempDir()
	o := orchestrator(t, fixture(t, dir), storage.NewLocalStore(dir))

	res, err := o.Query(context.Background(), -45, 120, selector.PolicyBalanced, "")
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if res.Found() || res.Reason != ReasonNoCoverage {
		t.Errorf("result = %+v", res)
	}
}

func TestQuerySourceIDFilter(t *testing.T) {
	dir := t.TempDir()
	o := orchestrator(t, fixture(t, dir), storage.NewLocalStore(dir))
	ctx := context.Background()

	res, err := o.Query(ctx, -27.0015, 153.0025, selector.PolicyBalanced, "brisbane_dem")
	if err != nil || !res.Found() {
		t.Errorf("pinned to covering campaign: %+v, %v", res, err)
	}

	res, err = o.Query(ctx, -27.0015, 153.0025, selector.PolicyBalanced, "other_campaign")
	if err != nil {
		t.Fatal(err)
	}
	if res.Found() || res.Reason != ReasonNoCoverage {
		t.Errorf("pinned to absent campaign: %+v", res)
	}
}

func TestProviderChainFallsThrough(t *testing.T) {
	dir := t.TempDir()
	limited := &fakeProvider{name: "limited", fetchErr: provider.ErrRateLimited}
	good := &fakeProvider{name: "good", elevation: 12.5}
	o := orchestrator(t, fixture(t, dir), storage.NewLocalStore(dir), limited, good)
	ctx := context.Background()

	// Point outside storage coverage lands on the provider chain.
	res, err := o.Query(ctx, -45, 120, selector.PolicyBalanced, "")
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if !res.Found() || *res.Elevation != 12.5 || res.Source != "good" {
		t.Fatalf("result = %+v", res)
	}
	if res.CRS != "EPSG:4326" || res.Method != "http-api" {
		t.Errorf("provider provenance = %+v", res)
	}

	// The rate-limited provider is now cooling off and is skipped
	// without being asked again.
	if _, err := o.Query(ctx, -45, 120, selector.PolicyBalanced, ""); err != nil {
		t.Fatal(err)
	}
	if limited.fetches != 1 {
		t.Errorf("rate-limited provider fetched %d times, want 1", limited.fetches)
	}
	if good.fetches != 2 {
		t.Errorf("good provider fetched %d times, want 2", good.fetches)
	}
}

func TestProviderQuotaSkip(t *testing.T) {
	dir := t.TempDir()
	quota := &fakeProvider{name: "quota", limitErr: provider.ErrRateLimited}
	good := &fakeProvider{name: "good", elevation: 3}
	o := orchestrator(t, fixture(t, dir), storage.NewLocalStore(dir), quota, good)

	res, err := o.Query(context.Background(), -45, 120, selector.PolicyBalanced, "")
	if err != nil || !res.Found() || res.Source != "good" {
		t.Fatalf("result = %+v, %v", res, err)
	}
	if quota.fetches != 0 {
		t.Error("provider over quota must not be fetched")
	}
}

func TestLimiterOutagePropagates(t *testing.T) {
	dir := t.TempDir()
	down := &fakeProvider{name: "down", limitErr: ratelimit.ErrUnavailable}
	good := &fakeProvider{name: "good", elevation: 3}
	o := orchestrator(t, fixture(t, dir), storage.NewLocalStore(dir), down, good)

	_, err := o.Query(context.Background(), -45, 120, selector.PolicyBalanced, "")
	if !errors.Is(err, ratelimit.ErrUnavailable) {
		t.Errorf("err = %v, want ErrUnavailable", err)
	}
	if good.fetches != 0 {
		t.Error("strict-mode outage must stop the chain")
	}
}

func TestAllSourcesFailed(t *testing.T) {
	dir := t.TempDir()
	bad := &fakeProvider{name: "bad", fetchErr: errors.New("boom")}
	o := orchestrator(t, fixture(t, dir), storage.NewLocalStore(dir), bad)

	res, err := o.Query(context.Background(), -45, 120, selector.PolicyBalanced, "")
	if err != nil {
		t.Fatal(err)
	}
	if res.Found() || res.Reason != ReasonAllSourcesFailed {
		t.Errorf("result = %+v", res)
	}
}

func TestQueryBulkPreservesOrder(t *testing.T) {
	dir := t.TempDir()
	ix := fixture(t, dir)
	o := orchestrator(t, ix, storage.NewLocalStore(dir))

	points := []Point{
		{Lat: -27.0015, Lon: 153.0025}, // pixel (2, 1) = 102
		{Lat: 95, Lon: 0},              // invalid
		{Lat: -45, Lon: 120},           // no coverage
		{Lat: -27.0035, Lon: 153.0035}, // pixel (3, 3) = 303
	}
	results, err := o.QueryBulk(context.Background(), points, selector.PolicyBalanced, "")
	if err != nil {
		t.Fatalf("QueryBulk: %v", err)
	}
	if len(results) != 4 {
		t.Fatalf("got %d results", len(results))
	}
	if !results[0].Found() || *results[0].Elevation != 102 {
		t.Errorf("results[0] = %+v", results[0])
	}
	if results[1].Found() || results[1].Reason != "invalid_coordinate" {
		t.Errorf("results[1] = %+v", results[1])
	}
	if results[2].Found() || results[2].Reason != ReasonNoCoverage {
		t.Errorf("results[2] = %+v", results[2])
	}
	if !results[3].Found() || *results[3].Elevation != 303 {
		t.Errorf("results[3] = %+v", results[3])
	}
}
