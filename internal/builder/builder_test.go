package builder

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/MeKo-Tech/elevationmap/internal/index"
	"github.com/MeKo-Tech/elevationmap/internal/storage"
)

// fixtureCorpus writes pattern-named raster objects whose content is
// not a readable TIFF, so extraction exercises the filename fallback.
func fixtureCorpus(t *testing.T, dir string, keys ...string) {
	t.Helper()
	for _, key := range keys {
		p := filepath.Join(dir, filepath.FromSlash(key))
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(p, []byte("opaque raster bytes"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
}

func testConfig(t *testing.T, dataDir, indexPath string) Config {
	t.Helper()
	return Config{
		Store:     storage.NewLocalStore(dataDir),
		Bucket:    "test-bucket",
		Country:   "AU",
		Provider:  "Geoscience Australia",
		IndexPath: indexPath,
		Workers:   4,
		Logger:    slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError})),
	}
}

func TestBuildFromFilenamePatterns(t *testing.T) {
	dataDir := t.TempDir()
	fixtureCorpus(t, dataDir,
		"qld/z56/Brisbane_2019/SW_502000_6960000_1k_DEM_1m.tif",
		"qld/z56/Brisbane_2019/SW_503000_6960000_1k_DEM_1m.tif",
		"qld/z56/Brisbane_2019/notes.txt", // not a raster; skipped
	)
	indexPath := filepath.Join(t.TempDir(), "index.json")

	b, err := New(testConfig(t, dataDir, indexPath))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ix, stats, err := b.Build(context.Background())
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if stats.Extracted != 2 || stats.Failed != 0 {
		t.Errorf("stats = %+v", stats)
	}
	if ix.TotalTileCount != 2 {
		t.Errorf("total_tile_count = %d", ix.TotalTileCount)
	}

	coll := ix.Collection("AU")
	if coll == nil {
		t.Fatal("AU collection missing")
	}
	camp := coll.Campaigns["z56_brisbane_2019"]
	if camp == nil {
		t.Fatalf("campaign missing, have %v", keysOf(coll.Campaigns))
	}
	if camp.FileCount != 2 || camp.CampaignYear != 2019 {
		t.Errorf("campaign = %+v", camp)
	}

	// The installed file must load and pass validation.
	loaded, err := index.Load(indexPath)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := loaded.Validate(); err != nil {
		t.Errorf("installed index invalid: %v", err)
	}

	// Checkpoints are cleared after a successful install.
	matches, _ := filepath.Glob(indexPath + ".checkpoint-*.json")
	if len(matches) != 0 {
		t.Errorf("leftover checkpoints: %v", matches)
	}
	if _, err := os.Stat(indexPath + ".lock"); !os.IsNotExist(err) {
		t.Error("builder lock not released")
	}
}

func TestBuildCancelled(t *testing.T) {
	dataDir := t.TempDir()
	fixtureCorpus(t, dataDir, "misc/a.tif", "misc/b.tif")
	indexPath := filepath.Join(t.TempDir(), "index.json")

	b, err := New(testConfig(t, dataDir, indexPath))
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, _, err := b.Build(ctx); err == nil {
		t.Error("cancelled build should fail")
	}
}

func TestIncrementalUpdate(t *testing.T) {
	dataDir := t.TempDir()
	fixtureCorpus(t, dataDir, "qld/z56/Brisbane_2019/SW_502000_6960000_1k_DEM_1m.tif")
	indexPath := filepath.Join(t.TempDir(), "index.json")

	cfg := testConfig(t, dataDir, indexPath)
	b, err := New(cfg)
	if err != nil {
		t.Fatal(err)
	}
	built, _, err := b.Build(context.Background())
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	// Updating with nothing new leaves the files untouched.
	loaded, err := index.Load(indexPath)
	if err != nil {
		t.Fatal(err)
	}
	updated, stats, err := b.Update(context.Background(), loaded)
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if stats.Extracted != 0 || updated.TotalTileCount != 1 {
		t.Errorf("no-op update extracted %d, count %d", stats.Extracted, updated.TotalTileCount)
	}
	if updated.LastIncrementalUpdate == nil {
		t.Error("last_incremental_update not set")
	}

	// A newly modified object lands in the right campaign.
	newKey := "qld/z56/Brisbane_2019/SW_503000_6960000_1k_DEM_1m.tif"
	fixtureCorpus(t, dataDir, newKey)
	future := built.GeneratedAt.Add(time.Hour)
	if err := os.Chtimes(filepath.Join(dataDir, filepath.FromSlash(newKey)), future, future); err != nil {
		t.Fatal(err)
	}

	loaded, err = index.Load(indexPath)
	if err != nil {
		t.Fatal(err)
	}
	updated, stats, err = b.Update(context.Background(), loaded)
	if err != nil {
		t.Fatalf("second Update: %v", err)
	}
	if stats.Extracted != 1 {
		t.Errorf("update extracted %d, want 1", stats.Extracted)
	}
	if updated.TotalTileCount != 2 {
		t.Errorf("total_tile_count = %d, want 2", updated.TotalTileCount)
	}
	camp := updated.Collection("AU").Campaigns["z56_brisbane_2019"]
	if camp == nil || camp.FileCount != 2 {
		t.Fatalf("campaign after update: %+v", camp)
	}
	union := camp.Files[0].Bounds.Union(camp.Files[1].Bounds)
	if camp.Bounds != union {
		t.Errorf("campaign bounds not recomputed: %v vs %v", camp.Bounds, union)
	}
}

func TestBuildIsLocked(t *testing.T) {
	indexPath := filepath.Join(t.TempDir(), "index.json")
	lock, err := index.AcquireLock(indexPath)
	if err != nil {
		t.Fatal(err)
	}
	defer lock.Unlock()

	b, err := New(testConfig(t, t.TempDir(), indexPath))
	if err != nil {
		t.Fatal(err)
	}
	if _, _, err := b.Build(context.Background()); err == nil {
		t.Error("build under a held lock should fail")
	}
}

func TestCheckpointRoundTrip(t *testing.T) {
	dir := t.TempDir()
	indexPath := filepath.Join(dir, "index.json")

	ix := index.New("bucket")
	coll := ix.EnsureCollection("AU", "EPSG:7844")
	coll.Campaigns["c1"] = &index.Campaign{ID: "c1", Name: "c1", Files: []index.TileEntry{{Key: "a.tif"}, {Key: "b.tif"}}}
	ix.TotalTileCount = 2

	if err := writeCheckpoint(ix, indexPath, 2); err != nil {
		t.Fatalf("writeCheckpoint: %v", err)
	}
	if err := writeCheckpoint(ix, indexPath, 1); err != nil {
		t.Fatalf("writeCheckpoint: %v", err)
	}

	got, path, err := latestCheckpoint(indexPath)
	if err != nil {
		t.Fatalf("latestCheckpoint: %v", err)
	}
	if got == nil || path != checkpointPath(indexPath, 2) {
		t.Fatalf("latest = %q", path)
	}
	keys := knownKeys(got)
	if !keys["a.tif"] || !keys["b.tif"] || len(keys) != 2 {
		t.Errorf("knownKeys = %v", keys)
	}

	clearCheckpoints(indexPath)
	if got, _, _ := latestCheckpoint(indexPath); got != nil {
		t.Error("checkpoints not cleared")
	}
}

func TestIsRaster(t *testing.T) {
	for key, want := range map[string]bool{
		"a/b.tif":  true,
		"a/b.TIFF": true,
		"a/b.txt":  false,
		"a/b.tfw":  false,
	} {
		if got := isRaster(key); got != want {
			t.Errorf("isRaster(%q) = %v", key, got)
		}
	}
}

func TestFailureRate(t *testing.T) {
	r := StratumReport{Extracted: 9, Failed: 1}
	if r.FailureRate() != 0.1 {
		t.Errorf("rate = %g", r.FailureRate())
	}
	if (StratumReport{}).FailureRate() != 0 {
		t.Error("empty report should have zero rate")
	}
}

func TestSampleBuild(t *testing.T) {
	dataDir := t.TempDir()
	fixtureCorpus(t, dataDir,
		"qld/z56/Brisbane_2019/SW_502000_6960000_1k_DEM_1m.tif",
		"nsw/z56/Sydney_2020/SW_332000_6250000_1k_DEM_1m.tif",
	)
	b, err := New(testConfig(t, dataDir, filepath.Join(t.TempDir(), "index.json")))
	if err != nil {
		t.Fatal(err)
	}
	reports, err := b.SampleBuild(context.Background(), 10)
	if err != nil {
		t.Fatalf("SampleBuild: %v", err)
	}
	if len(reports) != 2 {
		t.Fatalf("got %d strata, want 2 (qld, nsw)", len(reports))
	}
	for _, rep := range reports {
		if rep.Failed != 0 || rep.Extracted == 0 {
			t.Errorf("stratum %s: %+v", rep.Region, rep)
		}
		if rep.Methods["filename-grid"] != rep.Extracted {
			t.Errorf("stratum %s methods: %v", rep.Region, rep.Methods)
		}
	}
}

func TestNewValidation(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Error("missing store should fail")
	}
	if _, err := New(Config{Store: storage.NewLocalStore(t.TempDir()), IndexPath: "x", Country: "XX"}); err == nil {
		t.Error("unknown country should fail")
	}
}

func keysOf(m map[string]*index.Campaign) []string {
	var out []string
	for k := range m {
		out = append(out, k)
	}
	return out
}
