// Package index implements the hierarchical spatial index mapping a
// WGS84 coordinate to candidate DEM tiles: Collection (country) →
// Campaign (survey / UTM zone grouping) → TileEntry (single raster).
package index

import (
	"sync"
	"time"

	"github.com/MeKo-Tech/elevationmap/internal/geo"
)

// SupportedSchemaVersion is the only index schema this code loads.
const SupportedSchemaVersion = "2.0"

// DataType enumerates the capture technologies campaigns advertise.
type DataType string

const (
	DataTypeDEM            DataType = "DEM"
	DataTypeDSM            DataType = "DSM"
	DataTypeLiDAR          DataType = "LiDAR"
	DataTypePhotogrammetry DataType = "Photogrammetry"
	DataTypeUnknown        DataType = "Unknown"
)

// Method enumerates how a tile's bounds were derived.
type Method string

const (
	MethodRasterHeader     Method = "raster-header"
	MethodFilenameGrid     Method = "filename-grid"
	MethodRegionalFallback Method = "regional-fallback"
)

// TileEntry describes one raster object. Entries are immutable:
// re-extraction replaces them wholesale.
type TileEntry struct {
	Key          string        `json:"key"`
	Filename     string        `json:"filename"`
	Bounds       geo.Bounds    `json:"bounds"`
	NativeCRS    string        `json:"native_crs"`
	PixelSizeX   float64       `json:"pixel_size_x"`
	PixelSizeY   float64       `json:"pixel_size_y"`
	Width        int           `json:"width"`
	Height       int           `json:"height"`
	Precision    geo.Precision `json:"precision"`
	Method       Method        `json:"method"`
	SizeBytes    int64         `json:"size_bytes"`
	LastModified time.Time     `json:"last_modified"`
}

// Campaign is a named survey owning an ordered set of tiles. The AU
// collection groups by UTM zone and campaign name; NZ groups by survey.
type Campaign struct {
	ID           string      `json:"-"` // map key in the parent collection
	Name         string      `json:"name"`
	Provider     string      `json:"provider"`
	DataType     DataType    `json:"data_type"`
	ResolutionM  float64     `json:"resolution_m"`
	Priority     int         `json:"priority"`
	CostPerQuery float64     `json:"cost_per_query"`
	Bounds       geo.Bounds  `json:"bounds"`
	CampaignYear int         `json:"campaign_year,omitempty"`
	SurveyName   string      `json:"survey_name,omitempty"`
	FileCount    int         `json:"file_count"`
	Files        []TileEntry `json:"files"`
}

// Collection is a country-level grouping of campaigns.
type Collection struct {
	Country          string               `json:"country"`
	CoordinateSystem string               `json:"coordinate_system"`
	Campaigns        map[string]*Campaign `json:"campaigns"`

	// bbox cache, computed on first use and reset on mutation. The
	// mutex keeps concurrent readers of a freshly loaded index safe.
	boundsMu     sync.Mutex
	cachedBounds *geo.Bounds
}

// Index is the persisted three-level spatial index. It is read-only
// during serving; only the builder mutates it.
type Index struct {
	SchemaVersion         string        `json:"schema_version"`
	GeneratedAt           time.Time     `json:"generated_at"`
	Bucket                string        `json:"bucket"`
	TotalTileCount        int           `json:"total_tile_count"`
	Collections           []*Collection `json:"collections"`
	LastIncrementalUpdate *time.Time    `json:"last_incremental_update,omitempty"`

	// lazy 1° campaign grid, built on first use
	grid     *cellGrid
	gridOnce sync.Once
}

// TileRef points into the index without copying tile data. The
// campaign is reachable from its tiles only through refs like this;
// tiles themselves carry no parent pointer.
type TileRef struct {
	Collection *Collection
	Campaign   *Campaign
	Tile       *TileEntry
}

// New returns an empty index for the given bucket.
func New(bucket string) *Index {
	return &Index{
		SchemaVersion: SupportedSchemaVersion,
		GeneratedAt:   time.Now().UTC(),
		Bucket:        bucket,
	}
}

// Collection returns the collection for a country, or nil.
func (ix *Index) Collection(country string) *Collection {
	for _, c := range ix.Collections {
		if c.Country == country {
			return c
		}
	}
	return nil
}

// EnsureCollection returns the collection for a country, creating it
// when absent.
func (ix *Index) EnsureCollection(country, coordinateSystem string) *Collection {
	if c := ix.Collection(country); c != nil {
		return c
	}
	c := &Collection{
		Country:          country,
		CoordinateSystem: coordinateSystem,
		Campaigns:        make(map[string]*Campaign),
	}
	ix.Collections = append(ix.Collections, c)
	return c
}

// Bounds returns the union of all campaign bounds in the collection.
// The union is cached; the builder calls InvalidateBounds after
// mutating campaigns.
func (c *Collection) Bounds() geo.Bounds {
	c.boundsMu.Lock()
	defer c.boundsMu.Unlock()
	if c.cachedBounds != nil {
		return *c.cachedBounds
	}
	var bs []geo.Bounds
	for _, camp := range c.Campaigns {
		bs = append(bs, camp.Bounds)
	}
	b := geo.UnionAll(bs)
	c.cachedBounds = &b
	return b
}

// InvalidateBounds drops the cached collection bbox.
func (c *Collection) InvalidateBounds() {
	c.boundsMu.Lock()
	c.cachedBounds = nil
	c.boundsMu.Unlock()
}

// RecomputeBounds resets the campaign bounds to the union of its tile
// bounds and refreshes the file count.
func (c *Campaign) RecomputeBounds() {
	bs := make([]geo.Bounds, len(c.Files))
	for i, f := range c.Files {
		bs[i] = f.Bounds
	}
	c.Bounds = geo.UnionAll(bs)
	c.FileCount = len(c.Files)
}

// ParseDataType maps free-form dataset labels to the enum.
func ParseDataType(s string) DataType {
	switch s {
	case "DEM", "dem", "dem_1m":
		return DataTypeDEM
	case "DSM", "dsm", "dsm_1m":
		return DataTypeDSM
	case "LiDAR", "lidar":
		return DataTypeLiDAR
	case "Photogrammetry", "photogrammetry":
		return DataTypePhotogrammetry
	default:
		return DataTypeUnknown
	}
}
