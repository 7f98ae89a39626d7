package index

import (
	"errors"
	"fmt"
	"math"

	"github.com/MeKo-Tech/elevationmap/internal/geo"
)

// ErrStructural marks an index that fails its invariants. A build that
// produces one is rejected; the old index file is kept.
var ErrStructural = errors.New("index: structural error")

// boundsEps absorbs float noise when comparing recomputed unions.
const boundsEps = 1e-9

// Validate checks the invariants every build and update must hold:
// campaign bounds equal the union of tile bounds, counts roll up, no
// duplicate tile keys within a campaign, and every tile's bounds are
// plausible WGS84 inside the service envelope (indices that mix
// easting/northing into lat/lon fields are rejected, not repaired).
func (ix *Index) Validate() error {
	if ix.SchemaVersion != SupportedSchemaVersion {
		return fmt.Errorf("%w: schema version %q", ErrStructural, ix.SchemaVersion)
	}
	total := 0
	for _, coll := range ix.Collections {
		for id, camp := range coll.Campaigns {
			if camp.ID != "" && camp.ID != id {
				return fmt.Errorf("%w: campaign key %q carries id %q", ErrStructural, id, camp.ID)
			}
			if camp.FileCount != len(camp.Files) {
				return fmt.Errorf("%w: campaign %q file_count %d, files %d",
					ErrStructural, id, camp.FileCount, len(camp.Files))
			}
			seen := make(map[string]bool, len(camp.Files))
			bs := make([]geo.Bounds, 0, len(camp.Files))
			for _, f := range camp.Files {
				if seen[f.Key] {
					return fmt.Errorf("%w: campaign %q has duplicate tile key %q", ErrStructural, id, f.Key)
				}
				seen[f.Key] = true
				if f.Bounds.Area() <= 0 {
					return fmt.Errorf("%w: tile %q has empty bounds", ErrStructural, f.Key)
				}
				if fam := geo.DetectCRSFamily(f.Bounds); fam != geo.FamilyWGS84 {
					return fmt.Errorf("%w: tile %q bounds are %s, want wgs84 (mixed-CRS bounds are rejected)",
						ErrStructural, f.Key, fam)
				}
				if err := checkPrecision(f); err != nil {
					return err
				}
				bs = append(bs, f.Bounds)
			}
			if len(camp.Files) > 0 && !boundsEqual(camp.Bounds, geo.UnionAll(bs)) {
				return fmt.Errorf("%w: campaign %q bounds differ from union of tile bounds", ErrStructural, id)
			}
			total += len(camp.Files)
		}
	}
	if total != ix.TotalTileCount {
		return fmt.Errorf("%w: total_tile_count %d, enumerated %d", ErrStructural, ix.TotalTileCount, total)
	}
	return nil
}

func checkPrecision(f TileEntry) error {
	want := geo.ClassifyPrecision(f.Bounds.Area())
	if f.Precision != want {
		return fmt.Errorf("%w: tile %q declares precision %q, area %.6g deg² implies %q",
			ErrStructural, f.Key, f.Precision, f.Bounds.Area(), want)
	}
	switch f.Method {
	case MethodRasterHeader, MethodFilenameGrid:
		// Precision follows area alone; header reads of mosaic-sized
		// rasters may legitimately classify as regional.
	case MethodRegionalFallback:
		if f.Precision != geo.PrecisionRegional {
			return fmt.Errorf("%w: tile %q regional fallback with precision %q", ErrStructural, f.Key, f.Precision)
		}
	default:
		return fmt.Errorf("%w: tile %q has unknown method %q", ErrStructural, f.Key, f.Method)
	}
	return nil
}

func boundsEqual(a, b geo.Bounds) bool {
	return math.Abs(a.MinLat-b.MinLat) <= boundsEps &&
		math.Abs(a.MaxLat-b.MaxLat) <= boundsEps &&
		math.Abs(a.MinLon-b.MinLon) <= boundsEps &&
		math.Abs(a.MaxLon-b.MaxLon) <= boundsEps
}
