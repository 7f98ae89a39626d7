package extract

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strconv"

	"github.com/MeKo-Tech/elevationmap/internal/geo"
	"github.com/MeKo-Tech/elevationmap/internal/geotiff"
	"github.com/MeKo-Tech/elevationmap/internal/index"
	"github.com/MeKo-Tech/elevationmap/internal/storage"
)

// Extraction error kinds. The extractor falls through the strategy
// chain on the first two; the orchestrating build only surfaces them
// when even the regional fallback is impossible.
var (
	ErrHeaderUnreadable        = errors.New("extract: raster header unreadable")
	ErrUnrecognizedPattern     = errors.New("extract: filename matches no known grid pattern")
	ErrReprojectionUnavailable = errors.New("extract: reprojection unavailable")
	ErrOutsideExpectedRegion   = errors.New("extract: bounds outside expected region")
)

// Result carries the extracted entry plus the grid year when a
// filename pattern supplied one.
type Result struct {
	Entry index.TileEntry
	Year  int
}

// Extractor turns object references into tile entries without moving
// pixel data.
type Extractor struct {
	store storage.ObjectStore
}

// New creates an extractor over the given store.
func New(store storage.ObjectStore) *Extractor {
	return &Extractor{store: store}
}

// Extract runs the strategy chain: raster header (retried once) →
// filename grid pattern → regional fallback. The regional fallback
// never fails; its entries are marked precision=regional.
func (e *Extractor) Extract(ctx context.Context, obj storage.ObjectInfo) (Result, error) {
	res, err := e.fromHeader(ctx, obj)
	if err == nil {
		return res, nil
	}
	if errors.Is(err, ErrOutsideExpectedRegion) {
		return Result{}, err
	}
	// One retry for transient header failures before falling through.
	if errors.Is(err, ErrHeaderUnreadable) {
		if res, err2 := e.fromHeader(ctx, obj); err2 == nil {
			return res, nil
		}
	}

	res, err = fromFilename(obj)
	if err == nil {
		return res, nil
	}
	if errors.Is(err, ErrOutsideExpectedRegion) {
		return Result{}, err
	}

	return fromRegion(obj), nil
}

func (e *Extractor) fromHeader(ctx context.Context, obj storage.ObjectInfo) (Result, error) {
	r := geotiff.Chunked(&storage.RangeReaderAt{Store: e.store, Key: obj.Key, Ctx: ctx})
	info, err := geotiff.ReadHeader(r)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %s: %v", ErrHeaderUnreadable, obj.Key, err)
	}
	if info.EPSG == 0 {
		return Result{}, fmt.Errorf("%w: %s: no CRS in header", ErrHeaderUnreadable, obj.Key)
	}
	minX, minY, maxX, maxY := info.NativeBounds()
	bounds, err := geo.ReprojectBounds(minX, minY, maxX, maxY, info.EPSG)
	if err != nil {
		if errors.Is(err, geo.ErrNoTransformer) {
			return Result{}, fmt.Errorf("%w: %s: %v", ErrReprojectionUnavailable, obj.Key, err)
		}
		return Result{}, fmt.Errorf("%w: %s: %v", ErrHeaderUnreadable, obj.Key, err)
	}
	if geo.DetectCRSFamily(bounds) != geo.FamilyWGS84 {
		return Result{}, fmt.Errorf("%w: %s: %s", ErrOutsideExpectedRegion, obj.Key, bounds)
	}
	return Result{Entry: index.TileEntry{
		Key:          obj.Key,
		Filename:     path.Base(obj.Key),
		Bounds:       bounds,
		NativeCRS:    "EPSG:" + strconv.Itoa(info.EPSG),
		PixelSizeX:   info.PixelSizeX,
		PixelSizeY:   info.PixelSizeY,
		Width:        info.Width,
		Height:       info.Height,
		Precision:    geo.ClassifyPrecision(bounds.Area()),
		Method:       index.MethodRasterHeader,
		SizeBytes:    obj.Size,
		LastModified: obj.LastModified,
	}}, nil
}

func fromFilename(obj storage.ObjectInfo) (Result, error) {
	name := path.Base(obj.Key)
	ref, ok := parseGridFilename(name)
	if !ok {
		return Result{}, fmt.Errorf("%w: %s", ErrUnrecognizedPattern, name)
	}
	// A 1 km square centered on the decoded grid cell.
	bounds, err := geo.ReprojectBounds(
		ref.Easting-500, ref.Northing-500,
		ref.Easting+500, ref.Northing+500,
		geo.UTMZoneEPSG(ref.Zone),
	)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %s: %v", ErrReprojectionUnavailable, name, err)
	}
	if geo.DetectCRSFamily(bounds) != geo.FamilyWGS84 {
		return Result{}, fmt.Errorf("%w: %s: %s", ErrOutsideExpectedRegion, name, bounds)
	}
	return Result{
		Year: ref.Year,
		Entry: index.TileEntry{
			Key:          obj.Key,
			Filename:     name,
			Bounds:       bounds,
			NativeCRS:    "EPSG:" + strconv.Itoa(geo.UTMZoneEPSG(ref.Zone)),
			PixelSizeX:   1,
			PixelSizeY:   1,
			Width:        1000,
			Height:       1000,
			Precision:    geo.ClassifyPrecision(bounds.Area()),
			Method:       index.MethodFilenameGrid,
			SizeBytes:    obj.Size,
			LastModified: obj.LastModified,
		},
	}, nil
}

// fromRegion derives a coarse state box from the object path. It
// cannot fail; entries are regional precision and carry the matched
// region code as their CRS note.
func fromRegion(obj storage.ObjectInfo) Result {
	region := geo.RegionForPath(obj.Key)
	return Result{Entry: index.TileEntry{
		Key:          obj.Key,
		Filename:     path.Base(obj.Key),
		Bounds:       region.Bounds,
		NativeCRS:    "EPSG:4326",
		Precision:    geo.PrecisionRegional,
		Method:       index.MethodRegionalFallback,
		SizeBytes:    obj.Size,
		LastModified: obj.LastModified,
	}}
}
