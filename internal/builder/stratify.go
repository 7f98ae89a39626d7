package builder

import (
	"context"
	"fmt"
	"sort"

	"github.com/MeKo-Tech/elevationmap/internal/extract"
	"github.com/MeKo-Tech/elevationmap/internal/geo"
	"github.com/MeKo-Tech/elevationmap/internal/storage"
)

// StratumReport summarizes extraction quality for one region bucket.
type StratumReport struct {
	Region    string
	Sampled   int
	Extracted int
	Failed    int
	Methods   map[string]int
}

// FailureRate returns the failed fraction of attempted extractions.
func (r StratumReport) FailureRate() float64 {
	attempted := r.Extracted + r.Failed
	if attempted == 0 {
		return 0
	}
	return float64(r.Failed) / float64(attempted)
}

// SampleBuild draws a fixed per-region quota of keys and runs the
// extractor over just that cross-section. It exists to validate
// recognition rules before committing to a full rebuild: a stratum
// failing more than the threshold fails the run.
func (b *Builder) SampleBuild(ctx context.Context, perRegion int) ([]StratumReport, error) {
	if perRegion <= 0 {
		perRegion = 50
	}

	buckets := map[string][]storage.ObjectInfo{}
	err := b.cfg.Store.List(ctx, storage.ListOptions{Prefix: b.cfg.Prefix}, func(obj storage.ObjectInfo) error {
		if !isRaster(obj.Key) {
			return nil
		}
		region := geo.RegionForPath(obj.Key).Code
		if len(buckets[region]) < perRegion {
			buckets[region] = append(buckets[region], obj)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("builder: sampling enumeration: %w", err)
	}

	ex := extract.New(b.cfg.Store)
	regions := make([]string, 0, len(buckets))
	for r := range buckets {
		regions = append(regions, r)
	}
	sort.Strings(regions)

	var reports []StratumReport
	var bad []string
	for _, region := range regions {
		rep := StratumReport{Region: region, Methods: map[string]int{}}
		for _, obj := range buckets[region] {
			rep.Sampled++
			res, err := ex.Extract(ctx, obj)
			if err != nil {
				rep.Failed++
				b.log.Warn("sample extraction failed", "region", region, "key", obj.Key, "error", err)
				continue
			}
			rep.Extracted++
			rep.Methods[string(res.Entry.Method)]++
		}
		if rep.FailureRate() > failureThreshold {
			bad = append(bad, region)
		}
		reports = append(reports, rep)
	}

	if len(bad) > 0 {
		return reports, fmt.Errorf("%w: regions %v", ErrTooManyFailures, bad)
	}
	return reports, nil
}
