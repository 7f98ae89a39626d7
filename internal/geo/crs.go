package geo

import "strings"

// CRSFamily classifies the numeric shape of a bounds value.
type CRSFamily string

const (
	FamilyWGS84   CRSFamily = "wgs84"
	FamilyUTMLike CRSFamily = "utm_like"
	FamilyInvalid CRSFamily = "invalid"
)

// ServiceEnvelope is the AU/NZ region the corpus covers. Extractor
// outputs whose bounds fall outside it are treated as malformed so
// they never poison the index.
var ServiceEnvelope = Bounds{MinLat: -50, MaxLat: -8, MinLon: 110, MaxLon: 180}

// DetectCRSFamily screens a bounds value. WGS84 requires degree ranges
// and containment in the service envelope; UTM-like requires metric
// easting/northing magnitudes. Anything else is invalid.
func DetectCRSFamily(b Bounds) CRSFamily {
	if b.Validate() == nil && !b.IsZero() {
		if ServiceEnvelope.Contains(b.MinLat, b.MinLon) && ServiceEnvelope.Contains(b.MaxLat, b.MaxLon) {
			return FamilyWGS84
		}
	}
	// Easting in MinLon/MaxLon, northing in MinLat/MaxLat. NZTM
	// eastings run up to ~2,100,000 (false easting 1,600,000).
	eastingOK := b.MinLon >= 100_000 && b.MaxLon <= 2_200_000
	northingOK := b.MinLat >= 1_000_000 && b.MaxLat <= 10_100_000
	if eastingOK && northingOK && b.MinLon <= b.MaxLon && b.MinLat <= b.MaxLat {
		return FamilyUTMLike
	}
	return FamilyInvalid
}

// Region is a coarse state/territory fallback box.
type Region struct {
	Code   string
	Bounds Bounds
}

// Regions lists the coarse AU state boxes plus the Australia-wide
// catch-all, in match-priority order (specific before general).
var Regions = []Region{
	{"act", Bounds{MinLat: -35.95, MaxLat: -35.10, MinLon: 148.75, MaxLon: 149.45}},
	{"tas", Bounds{MinLat: -43.70, MaxLat: -39.50, MinLon: 143.80, MaxLon: 148.50}},
	{"vic", Bounds{MinLat: -39.20, MaxLat: -33.90, MinLon: 140.90, MaxLon: 150.10}},
	{"nsw", Bounds{MinLat: -37.60, MaxLat: -28.10, MinLon: 140.90, MaxLon: 153.70}},
	{"qld", Bounds{MinLat: -29.20, MaxLat: -9.00, MinLon: 137.90, MaxLon: 153.60}},
	{"sa", Bounds{MinLat: -38.10, MaxLat: -25.90, MinLon: 129.00, MaxLon: 141.10}},
	{"wa", Bounds{MinLat: -35.20, MaxLat: -13.60, MinLon: 112.90, MaxLon: 129.10}},
	{"nt", Bounds{MinLat: -26.10, MaxLat: -10.90, MinLon: 129.00, MaxLon: 138.10}},
	{"au", Bounds{MinLat: -44.00, MaxLat: -9.00, MinLon: 112.00, MaxLon: 154.00}},
}

// RegionForPath derives a coarse region from substrings in an object
// path. The Australia-wide box is returned when nothing more specific
// matches.
func RegionForPath(path string) Region {
	p := strings.ToLower(path)
	for _, r := range Regions[:len(Regions)-1] {
		if containsSegment(p, r.Code) {
			return r
		}
	}
	return Regions[len(Regions)-1]
}

// containsSegment matches a region code as a path segment or a
// delimited token, so "act" does not fire on e.g. "compacted".
func containsSegment(p, code string) bool {
	for _, pat := range []string{"/" + code + "/", "/" + code + "_", "_" + code + "_", "-" + code + "-", "/" + code + "-"} {
		if strings.Contains(p, pat) {
			return true
		}
	}
	return strings.HasPrefix(p, code+"/") || strings.HasPrefix(p, code+"_")
}
