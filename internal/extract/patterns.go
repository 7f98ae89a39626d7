// Package extract derives tile metadata from rasters in object
// storage: a raster header read when possible, recognized filename
// grid patterns as a fallback, and a coarse regional box as the last
// resort.
package extract

import (
	"regexp"
	"strconv"
)

// gridRef is a reconstructed UTM grid cell: a 1 km square centered on
// (Easting, Northing) in the given zone.
type gridRef struct {
	Easting  float64
	Northing float64
	Zone     int
	Year     int // 0 when the filename carries no capture year
}

// zoneBaseNorthing is the central-band northing used when a pattern
// encodes only a northing offset within the zone.
var zoneBaseNorthing = map[int]float64{
	54: 7_200_000,
	55: 6_200_000,
	56: 6_800_000,
}

var (
	// DTM-GRID-NNN_(EEENNMM)_(ZZ)_*  e.g. DTM-GRID-001_4306276_55_2019.tif
	reDTMGrid = regexp.MustCompile(`DTM-GRID-\d+_(\d{7})_(\d{2})`)
	// <Name><YYYY>-DEM-1m_(REF7)_GDA2020_(ZZ)  (Clarence valley naming)
	reGridRef = regexp.MustCompile(`[A-Za-z]+(\d{4})-DEM-1m_(\d{7})_GDA2020_(\d{2})`)
	// SW_(E)_(N)_1k_DEM_1m  e.g. SW_502000_6960000_1k_DEM_1m.tif
	reSWOrigin = regexp.MustCompile(`SW_(\d+)_(\d+)_1k_DEM_1m`)
	// _(EEEEEEE)_(ZZ)_dddd_dddd  seven-digit easting with zone
	reSevenDigit = regexp.MustCompile(`_(\d{7})_(\d{2})_\d{4}_\d{4}`)
)

// parseGridFilename recognizes the UTM grid patterns the AU corpus
// encodes in filenames. Patterns are tried from most to least
// specific; the first match wins.
func parseGridFilename(name string) (gridRef, bool) {
	if m := reDTMGrid.FindStringSubmatch(name); m != nil {
		return decodeRef7(m[1], atoi(m[2]), 0)
	}
	if m := reGridRef.FindStringSubmatch(name); m != nil {
		return decodeRef7(m[2], atoi(m[3]), atoi(m[1]))
	}
	if m := reSWOrigin.FindStringSubmatch(name); m != nil {
		e := float64(atoi(m[1]))
		n := float64(atoi(m[2]))
		zone := 55
		if e >= 400_000 && e <= 599_999 {
			zone = 56
		}
		return gridRef{Easting: e + 500, Northing: n + 500, Zone: zone}, true
	}
	if m := reSevenDigit.FindStringSubmatch(name); m != nil {
		zone := atoi(m[2])
		base, ok := zoneBaseNorthing[zone]
		if !ok {
			return gridRef{}, false
		}
		// The seven-digit field is the easting scaled by ten.
		e := float64(atoi(m[1])) / 10
		return gridRef{Easting: e, Northing: base, Zone: zone}, true
	}
	return gridRef{}, false
}

// decodeRef7 splits a 7-digit grid reference EEENNMM into easting km
// and a northing offset within the zone's base band.
func decodeRef7(ref string, zone, year int) (gridRef, bool) {
	base, ok := zoneBaseNorthing[zone]
	if !ok {
		return gridRef{}, false
	}
	eee := atoi(ref[:3])
	nn := atoi(ref[3:5])
	mm := atoi(ref[5:7])
	return gridRef{
		Easting:  float64(eee)*1000 + 500,
		Northing: base + float64(nn)*1000 + float64(mm)*10,
		Zone:     zone,
		Year:     year,
	}, true
}

func atoi(s string) int {
	v, _ := strconv.Atoi(s)
	return v
}
