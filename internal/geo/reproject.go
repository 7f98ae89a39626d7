package geo

import (
	"fmt"
	"math"
	"sync"

	"github.com/ctessum/geom/proj"
)

// ErrNoTransformer is wrapped by reprojection failures for CRS pairs we
// cannot build a transform for. Callers treat it as a retryable
// metadata failure.
var ErrNoTransformer = fmt.Errorf("no transformer available")

const proj4WGS84 = "+proj=longlat +datum=WGS84 +no_defs"

// Proj4ForEPSG returns a proj4 definition for the EPSG codes the AU/NZ
// corpus uses. UTM-style CRSs are spelled out as tmerc so the
// projection support surface stays small and explicit.
func Proj4ForEPSG(epsg int) (string, bool) {
	switch {
	case epsg == 4326 || epsg == 4283 || epsg == 7844:
		// WGS84 / GDA94 / GDA2020 geographic: identical at our precision.
		return proj4WGS84, true
	case epsg >= 28346 && epsg <= 28358:
		return utmSouthProj4(epsg - 28300), true // GDA94 / MGA
	case epsg >= 7846 && epsg <= 7859:
		return utmSouthProj4(epsg - 7800), true // GDA2020 / MGA
	case epsg >= 32701 && epsg <= 32760:
		return utmSouthProj4(epsg - 32700), true // WGS84 / UTM south
	case epsg == 2193:
		// NZTM2000
		return "+proj=tmerc +lat_0=0 +lon_0=173 +k=0.9996 +x_0=1600000 +y_0=10000000 +datum=WGS84 +units=m +no_defs", true
	default:
		return "", false
	}
}

func utmSouthProj4(zone int) string {
	lon0 := -183 + 6*zone
	return fmt.Sprintf("+proj=tmerc +lat_0=0 +lon_0=%d +k=0.9996 +x_0=500000 +y_0=10000000 +datum=WGS84 +units=m +no_defs", lon0)
}

// UTMZoneEPSG returns the WGS84 southern-hemisphere UTM EPSG code for
// a zone number.
func UTMZoneEPSG(zone int) int { return 32700 + zone }

var (
	transformMu    sync.Mutex
	transformCache = map[[2]string]proj.Transformer{}
)

func transformer(src, dst string) (proj.Transformer, error) {
	transformMu.Lock()
	defer transformMu.Unlock()
	key := [2]string{src, dst}
	if t, ok := transformCache[key]; ok {
		return t, nil
	}
	srcSR, err := proj.Parse(src)
	if err != nil {
		return nil, fmt.Errorf("%w: parsing %q: %v", ErrNoTransformer, src, err)
	}
	dstSR, err := proj.Parse(dst)
	if err != nil {
		return nil, fmt.Errorf("%w: parsing %q: %v", ErrNoTransformer, dst, err)
	}
	t, err := srcSR.NewTransform(dstSR)
	if err != nil {
		return nil, fmt.Errorf("%w: %q -> %q: %v", ErrNoTransformer, src, dst, err)
	}
	if t == nil {
		// proj returns a nil Transformer when source and dest are the
		// same reference system.
		t = func(x, y float64) (float64, float64, error) { return x, y, nil }
	}
	transformCache[key] = t
	return t, nil
}

// UTMToWGS84 converts an easting/northing in a southern-hemisphere UTM
// zone to (lat, lon).
func UTMToWGS84(easting, northing float64, zone int) (lat, lon float64, err error) {
	t, err := transformer(utmSouthProj4(zone), proj4WGS84)
	if err != nil {
		return 0, 0, err
	}
	x, y, err := t(easting, northing)
	if err != nil {
		return 0, 0, fmt.Errorf("utm z%d -> wgs84: %w", zone, err)
	}
	return y, x, nil
}

// WGS84ToEPSG converts (lat, lon) to the native coordinates of an EPSG
// CRS.
func WGS84ToEPSG(lat, lon float64, epsg int) (x, y float64, err error) {
	def, ok := Proj4ForEPSG(epsg)
	if !ok {
		return 0, 0, fmt.Errorf("%w: EPSG:%d", ErrNoTransformer, epsg)
	}
	t, err := transformer(proj4WGS84, def)
	if err != nil {
		return 0, 0, err
	}
	x, y, err = t(lon, lat)
	if err != nil {
		return 0, 0, fmt.Errorf("wgs84 -> EPSG:%d: %w", epsg, err)
	}
	return x, y, nil
}

// ReprojectBounds transforms the four corners of a native-CRS bbox to
// WGS84 and returns the axis-aligned bbox of the result. minX/minY and
// maxX/maxY are in the source CRS axis order (easting/northing).
func ReprojectBounds(minX, minY, maxX, maxY float64, srcEPSG int) (Bounds, error) {
	def, ok := Proj4ForEPSG(srcEPSG)
	if !ok {
		return Bounds{}, fmt.Errorf("%w: EPSG:%d", ErrNoTransformer, srcEPSG)
	}
	if def == proj4WGS84 {
		// Already geographic: x is lon, y is lat.
		return Bounds{MinLat: minY, MaxLat: maxY, MinLon: minX, MaxLon: maxX}, nil
	}
	t, err := transformer(def, proj4WGS84)
	if err != nil {
		return Bounds{}, err
	}
	corners := [4][2]float64{{minX, minY}, {minX, maxY}, {maxX, minY}, {maxX, maxY}}
	out := Bounds{MinLat: math.Inf(1), MaxLat: math.Inf(-1), MinLon: math.Inf(1), MaxLon: math.Inf(-1)}
	for _, c := range corners {
		lon, lat, err := t(c[0], c[1])
		if err != nil {
			return Bounds{}, fmt.Errorf("EPSG:%d -> wgs84: %w", srcEPSG, err)
		}
		out.MinLat = math.Min(out.MinLat, lat)
		out.MaxLat = math.Max(out.MaxLat, lat)
		out.MinLon = math.Min(out.MinLon, lon)
		out.MaxLon = math.Max(out.MaxLon, lon)
	}
	return out, nil
}
