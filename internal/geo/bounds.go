// Package geo provides WGS84 bounding boxes, precision classification,
// CRS family detection and UTM reprojection helpers.
package geo

import (
	"fmt"
	"math"
)

// Bounds is an axis-aligned geographic rectangle in WGS84 (EPSG:4326).
type Bounds struct {
	MinLat float64 `json:"min_lat" yaml:"min_lat"`
	MaxLat float64 `json:"max_lat" yaml:"max_lat"`
	MinLon float64 `json:"min_lon" yaml:"min_lon"`
	MaxLon float64 `json:"max_lon" yaml:"max_lon"`
}

// Contains reports whether the point lies inside the bounds.
// All four edges are inclusive.
func (b Bounds) Contains(lat, lon float64) bool {
	return lat >= b.MinLat && lat <= b.MaxLat && lon >= b.MinLon && lon <= b.MaxLon
}

// Union returns the component-wise min/max of b and other.
func (b Bounds) Union(other Bounds) Bounds {
	return Bounds{
		MinLat: math.Min(b.MinLat, other.MinLat),
		MaxLat: math.Max(b.MaxLat, other.MaxLat),
		MinLon: math.Min(b.MinLon, other.MinLon),
		MaxLon: math.Max(b.MaxLon, other.MaxLon),
	}
}

// UnionAll returns the union of all given bounds.
// The zero Bounds is returned for an empty slice.
func UnionAll(bs []Bounds) Bounds {
	if len(bs) == 0 {
		return Bounds{}
	}
	out := bs[0]
	for _, b := range bs[1:] {
		out = out.Union(b)
	}
	return out
}

// Area returns the bbox area in square degrees.
func (b Bounds) Area() float64 {
	return (b.MaxLat - b.MinLat) * (b.MaxLon - b.MinLon)
}

// Center returns the center point of the bounds.
func (b Bounds) Center() (lat, lon float64) {
	return (b.MinLat + b.MaxLat) / 2, (b.MinLon + b.MaxLon) / 2
}

// Width returns the longitude range in degrees.
func (b Bounds) Width() float64 { return b.MaxLon - b.MinLon }

// Height returns the latitude range in degrees.
func (b Bounds) Height() float64 { return b.MaxLat - b.MinLat }

// Intersects reports whether b and other share any area or edge.
func (b Bounds) Intersects(other Bounds) bool {
	return b.MinLat <= other.MaxLat && b.MaxLat >= other.MinLat &&
		b.MinLon <= other.MaxLon && b.MaxLon >= other.MinLon
}

// Validate checks ordering and degree ranges.
func (b Bounds) Validate() error {
	if b.MinLat > b.MaxLat {
		return fmt.Errorf("bounds: min_lat %.6f > max_lat %.6f", b.MinLat, b.MaxLat)
	}
	if b.MinLon > b.MaxLon {
		return fmt.Errorf("bounds: min_lon %.6f > max_lon %.6f", b.MinLon, b.MaxLon)
	}
	if b.MinLat < -90 || b.MaxLat > 90 {
		return fmt.Errorf("bounds: latitude out of range [-90,90]: %.6f..%.6f", b.MinLat, b.MaxLat)
	}
	if b.MinLon < -180 || b.MaxLon > 180 {
		return fmt.Errorf("bounds: longitude out of range [-180,180]: %.6f..%.6f", b.MinLon, b.MaxLon)
	}
	return nil
}

// IsZero reports whether all components are zero.
func (b Bounds) IsZero() bool {
	return b.MinLat == 0 && b.MaxLat == 0 && b.MinLon == 0 && b.MaxLon == 0
}

// String returns a human-readable representation of the bounds.
func (b Bounds) String() string {
	return fmt.Sprintf("bounds(%.6f,%.6f,%.6f,%.6f)", b.MinLat, b.MinLon, b.MaxLat, b.MaxLon)
}

// Precision is the size bucket of a tile's bounds.
type Precision string

const (
	PrecisionPrecise    Precision = "precise"    // area < 0.001 deg²
	PrecisionReasonable Precision = "reasonable" // area < 1 deg²
	PrecisionRegional   Precision = "regional"   // everything else
)

// ClassifyPrecision buckets a bbox area into a precision class.
// Boundary areas go to the better class.
func ClassifyPrecision(area float64) Precision {
	switch {
	case area <= 0.001:
		return PrecisionPrecise
	case area <= 1.0:
		return PrecisionReasonable
	default:
		return PrecisionRegional
	}
}
