package builder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/schollz/progressbar/v3"

	"github.com/MeKo-Tech/elevationmap/internal/extract"
	"github.com/MeKo-Tech/elevationmap/internal/index"
	"github.com/MeKo-Tech/elevationmap/internal/storage"
)

// ErrTooManyFailures is returned when extraction failures exceed the
// tolerated fraction; callers map it to exit code 2.
var ErrTooManyFailures = errors.New("builder: extraction failure rate over threshold")

const (
	defaultWorkers         = 32
	defaultCheckpointEvery = 10_000
	// failureThreshold is the tolerated fraction of failed extractions.
	failureThreshold = 0.10
)

// Config configures a build or update run.
type Config struct {
	Store   storage.ObjectStore
	Bucket  string
	Country string // "AU" or "NZ"; selects the campaign grouping rules

	// Provider is the human name recorded on new campaigns.
	Provider string
	// Prefix narrows enumeration to one corpus subtree.
	Prefix string

	IndexPath       string
	Workers         int
	CheckpointEvery int
	ShowProgress    bool

	Logger *slog.Logger
}

// Stats summarizes one run.
type Stats struct {
	Enumerated int
	Extracted  int
	Failed     int
	Resumed    int
}

// Builder owns every mutation of the index during a run.
type Builder struct {
	cfg Config
	log *slog.Logger
}

// New validates the config and returns a Builder.
func New(cfg Config) (*Builder, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("builder: store is required")
	}
	if cfg.IndexPath == "" {
		return nil, fmt.Errorf("builder: index path is required")
	}
	if cfg.Country != "AU" && cfg.Country != "NZ" {
		return nil, fmt.Errorf("builder: unsupported country %q", cfg.Country)
	}
	if cfg.Workers <= 0 {
		cfg.Workers = defaultWorkers
	}
	if cfg.CheckpointEvery <= 0 {
		cfg.CheckpointEvery = defaultCheckpointEvery
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Builder{cfg: cfg, log: cfg.Logger}, nil
}

// Build runs a full index build, resuming from the latest checkpoint
// when one exists. The produced index replaces the file at IndexPath
// only after validation passes; otherwise it is written with a
// .rejected suffix and the old file is kept.
func (b *Builder) Build(ctx context.Context) (*index.Index, Stats, error) {
	lock, err := index.AcquireLock(b.cfg.IndexPath)
	if err != nil {
		return nil, Stats{}, err
	}
	defer lock.Unlock()

	ix := index.New(b.cfg.Bucket)
	skip := map[string]bool{}
	var stats Stats

	if ckpt, path, err := latestCheckpoint(b.cfg.IndexPath); err != nil {
		b.log.Warn("ignoring unreadable checkpoint", "error", err)
	} else if ckpt != nil {
		ix = ckpt
		skip = knownKeys(ckpt)
		stats.Resumed = len(skip)
		b.log.Info("resuming from checkpoint", "path", path, "tiles", len(skip))
	}

	err = b.run(ctx, ix, storage.ListOptions{Prefix: b.cfg.Prefix}, skip, &stats)
	if err != nil {
		// Flush progress for the next resume before surfacing.
		if ckErr := writeCheckpoint(ix, b.cfg.IndexPath, ix.TotalTileCount); ckErr != nil {
			b.log.Error("final checkpoint failed", "error", ckErr)
		}
		return nil, stats, err
	}

	if err := b.install(ix, stats); err != nil {
		return nil, stats, err
	}
	clearCheckpoints(b.cfg.IndexPath)
	return ix, stats, nil
}

// Update applies an incremental update: only objects modified after
// the existing index's generated_at are re-extracted, and replaced
// entries keep their campaign routing.
func (b *Builder) Update(ctx context.Context, existing *index.Index) (*index.Index, Stats, error) {
	lock, err := index.AcquireLock(b.cfg.IndexPath)
	if err != nil {
		return nil, Stats{}, err
	}
	defer lock.Unlock()

	var stats Stats
	opts := storage.ListOptions{Prefix: b.cfg.Prefix, ModifiedAfter: existing.GeneratedAt}
	if err := b.run(ctx, existing, opts, nil, &stats); err != nil {
		return nil, stats, err
	}

	now := time.Now().UTC()
	existing.LastIncrementalUpdate = &now
	if err := b.install(existing, stats); err != nil {
		return nil, stats, err
	}
	return existing, stats, nil
}

// run enumerates, fans out extraction, and merges results on the
// calling goroutine — the single consumer owning all index mutation.
func (b *Builder) run(ctx context.Context, ix *index.Index, opts storage.ListOptions, skip map[string]bool, stats *Stats) error {
	ex := extract.New(b.cfg.Store)
	p := newPool(b.cfg.Workers, ex)
	p.start(ctx)

	var bar *progressbar.ProgressBar
	if b.cfg.ShowProgress {
		bar = progressbar.NewOptions(-1,
			progressbar.OptionSetDescription("extracting"),
			progressbar.OptionShowCount(),
			progressbar.OptionShowIts(),
		)
	}

	listErr := make(chan error, 1)
	go func() {
		defer p.finish()
		listErr <- b.cfg.Store.List(ctx, opts, func(obj storage.ObjectInfo) error {
			if !isRaster(obj.Key) {
				return nil
			}
			if skip[obj.Key] {
				return nil
			}
			stats.Enumerated++
			return p.submit(ctx, obj)
		})
	}()

	sinceCheckpoint := 0
	for res := range p.results {
		if res.err != nil {
			stats.Failed++
			b.log.Warn("extraction failed", "key", res.obj.Key, "error", res.err)
			continue
		}
		b.merge(ix, res.res)
		stats.Extracted++
		sinceCheckpoint++
		if bar != nil {
			_ = bar.Add(1)
		}
		if sinceCheckpoint >= b.cfg.CheckpointEvery {
			sinceCheckpoint = 0
			if err := writeCheckpoint(ix, b.cfg.IndexPath, ix.TotalTileCount); err != nil {
				b.log.Error("checkpoint failed", "error", err)
			} else {
				b.log.Info("checkpoint written", "tiles", ix.TotalTileCount)
			}
		}
	}
	if bar != nil {
		_ = bar.Finish()
	}

	if err := <-listErr; err != nil {
		return fmt.Errorf("builder: enumeration: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	attempted := stats.Extracted + stats.Failed
	if attempted > 0 && float64(stats.Failed)/float64(attempted) > failureThreshold {
		return fmt.Errorf("%w: %d of %d", ErrTooManyFailures, stats.Failed, attempted)
	}
	return nil
}

// merge routes one extracted tile into its collection → campaign
// bucket, creating the campaign lazily and replacing any previous
// entry for the same key.
func (b *Builder) merge(ix *index.Index, res extract.Result) {
	var key extract.GroupKey
	var coll *index.Collection
	switch b.cfg.Country {
	case "NZ":
		key = extract.GroupNZ(res.Entry.Key)
		coll = ix.EnsureCollection("NZ", "EPSG:2193")
	default:
		key = extract.GroupAU(res.Entry.Key)
		coll = ix.EnsureCollection("AU", "EPSG:7844")
	}

	camp, ok := coll.Campaigns[key.CampaignID]
	if !ok {
		camp = &index.Campaign{
			ID:           key.CampaignID,
			Name:         key.Name,
			Provider:     b.cfg.Provider,
			DataType:     index.ParseDataType(key.DataType),
			ResolutionM:  resolutionOf(res),
			Priority:     50,
			CostPerQuery: 0.0005,
			SurveyName:   key.SurveyName,
		}
		if key.Year > 0 {
			camp.CampaignYear = key.Year
		}
		if res.Year > 0 {
			camp.CampaignYear = res.Year
		}
		coll.Campaigns[key.CampaignID] = camp
	}

	replaced := false
	for i := range camp.Files {
		if camp.Files[i].Key == res.Entry.Key {
			camp.Files[i] = res.Entry
			replaced = true
			break
		}
	}
	if !replaced {
		camp.Files = append(camp.Files, res.Entry)
		ix.TotalTileCount++
	}
	camp.RecomputeBounds()
	coll.InvalidateBounds()
}

// install validates and atomically replaces the index file; rejected
// output lands next to it for inspection.
func (b *Builder) install(ix *index.Index, stats Stats) error {
	ix.GeneratedAt = time.Now().UTC()
	if err := ix.Validate(); err != nil {
		rejected := b.cfg.IndexPath + ".rejected"
		if saveErr := index.Save(ix, rejected); saveErr != nil {
			b.log.Error("writing rejected index failed", "error", saveErr)
		}
		return fmt.Errorf("builder: validation failed (output kept at %s): %w", rejected, err)
	}
	if err := index.Save(ix, b.cfg.IndexPath); err != nil {
		return err
	}
	b.log.Info("index installed",
		"path", b.cfg.IndexPath,
		"tiles", ix.TotalTileCount,
		"extracted", stats.Extracted,
		"failed", stats.Failed,
	)
	return nil
}

func isRaster(key string) bool {
	k := strings.ToLower(key)
	return strings.HasSuffix(k, ".tif") || strings.HasSuffix(k, ".tiff")
}

func resolutionOf(res extract.Result) float64 {
	if res.Entry.PixelSizeX > 0 {
		return res.Entry.PixelSizeX
	}
	return 30 // regional fallback entries carry no pixel size
}
