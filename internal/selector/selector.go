// Package selector ranks candidate campaigns for a coordinate under a
// named policy: a weighted confidence score over bounds fit,
// resolution, data type, provider and cost.
package selector

import (
	"fmt"
	"sort"
	"strings"

	"github.com/MeKo-Tech/elevationmap/internal/index"
)

// Policy names a weight vector.
type Policy string

const (
	PolicyFastest  Policy = "FASTEST"
	PolicyCheapest Policy = "CHEAPEST"
	PolicyBalanced Policy = "BALANCED"
	PolicyQuality  Policy = "QUALITY"
)

// ParsePolicy maps a request string to a policy; empty defaults to
// BALANCED.
func ParsePolicy(s string) (Policy, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "":
		return PolicyBalanced, nil
	case "FASTEST":
		return PolicyFastest, nil
	case "CHEAPEST":
		return PolicyCheapest, nil
	case "BALANCED":
		return PolicyBalanced, nil
	case "QUALITY":
		return PolicyQuality, nil
	default:
		return "", fmt.Errorf("selector: unknown policy %q", s)
	}
}

// Weights is a named weight vector. Values are renormalized so their
// sum stays at or below one.
type Weights struct {
	BoundsOverlap        float64
	BoundsSpecificity    float64
	CenterProximity      float64
	ResolutionPreference float64
	DataTypeQuality      float64
	ProviderReliability  float64
	CostEfficiency       float64
}

var policyWeights = map[Policy]Weights{
	PolicyFastest:  {0.40, 0.40, 0.20, 0.20, 0.10, 0.05, 0.00},
	PolicyCheapest: {0.30, 0.20, 0.10, 0.05, 0.05, 0.05, 0.25},
	PolicyBalanced: {0.35, 0.30, 0.15, 0.15, 0.08, 0.05, 0.12},
	PolicyQuality:  {0.30, 0.20, 0.10, 0.30, 0.20, 0.10, 0.00},
}

func (w Weights) sum() float64 {
	return w.BoundsOverlap + w.BoundsSpecificity + w.CenterProximity +
		w.ResolutionPreference + w.DataTypeQuality + w.ProviderReliability + w.CostEfficiency
}

// normalized scales the vector down when its sum exceeds one.
func (w Weights) normalized() Weights {
	s := w.sum()
	if s <= 1 {
		return w
	}
	return Weights{
		BoundsOverlap:        w.BoundsOverlap / s,
		BoundsSpecificity:    w.BoundsSpecificity / s,
		CenterProximity:      w.CenterProximity / s,
		ResolutionPreference: w.ResolutionPreference / s,
		DataTypeQuality:      w.DataTypeQuality / s,
		ProviderReliability:  w.ProviderReliability / s,
		CostEfficiency:       w.CostEfficiency / s,
	}
}

// trustedProviders is the short allow-list scoring full provider
// reliability.
var trustedProviders = map[string]bool{
	"Geoscience Australia": true,
	"ELVIS":                true,
	"LINZ":                 true,
	"Toitū Te Whenua":      true,
}

// Match is one ranked candidate.
type Match struct {
	Ref        index.TileRef
	ID         string
	Confidence float64
	Priority   int
	FileCount  int
	Cost       float64
}

// Selector scores campaigns in a loaded index.
type Selector struct {
	ix *index.Index
}

// New creates a selector over ix.
func New(ix *index.Index) *Selector {
	return &Selector{ix: ix}
}

// Select returns candidates containing the point ordered best-first.
// When the top candidate's confidence exceeds 0.8 it is returned
// alone, so the orchestrator stops after a single campaign search.
func (s *Selector) Select(lat, lon float64, policy Policy) []Match {
	w := policyWeights[policy].normalized()

	var out []Match
	for _, ref := range s.ix.CampaignsContaining(lat, lon) {
		conf := score(ref, lat, lon, w)
		if conf <= 0 {
			continue
		}
		out = append(out, Match{
			Ref:        ref,
			ID:         ref.Campaign.ID,
			Confidence: conf,
			Priority:   ref.Campaign.Priority,
			FileCount:  ref.Campaign.FileCount,
			Cost:       ref.Campaign.CostPerQuery,
		})
	}

	sort.SliceStable(out, func(i, j int) bool { return less(out[i], out[j]) })

	if len(out) > 1 && out[0].Confidence > 0.8 {
		return out[:1]
	}
	return out
}

// less is the tie-break order: confidence desc, priority asc, cost
// asc, id lexicographic.
func less(a, b Match) bool {
	if a.Confidence != b.Confidence {
		return a.Confidence > b.Confidence
	}
	if a.Priority != b.Priority {
		return a.Priority < b.Priority
	}
	if a.Cost != b.Cost {
		return a.Cost < b.Cost
	}
	return a.ID < b.ID
}

// score computes the weighted confidence for one campaign whose bbox
// contains the point. Component scales follow the policy table:
// full / half / zero per component.
func score(ref index.TileRef, lat, lon float64, w Weights) float64 {
	c := ref.Campaign
	b := c.Bounds

	conf := w.BoundsOverlap // point is inside by construction

	latRange, lonRange := b.Height(), b.Width()
	switch {
	case latRange < 2 && lonRange < 2:
		conf += w.BoundsSpecificity
	case latRange < 5 && lonRange < 5:
		conf += w.BoundsSpecificity / 2
	}

	conf += w.CenterProximity * centralityScale(b.MinLat, b.MaxLat, lat, b.MinLon, b.MaxLon, lon)

	switch {
	case c.ResolutionM > 0 && c.ResolutionM <= 1:
		conf += w.ResolutionPreference
	case c.ResolutionM > 0 && c.ResolutionM <= 5:
		conf += w.ResolutionPreference / 2
	}

	switch c.DataType {
	case index.DataTypeLiDAR:
		conf += w.DataTypeQuality
	case index.DataTypeDEM:
		conf += w.DataTypeQuality / 2
	}

	if trustedProviders[c.Provider] {
		conf += w.ProviderReliability
	}

	switch {
	case c.CostPerQuery <= 0.001:
		conf += w.CostEfficiency
	case c.CostPerQuery <= 0.01:
		conf += w.CostEfficiency / 2
	}

	if conf < 0 {
		return 0
	}
	if conf > 1 {
		return 1
	}
	return conf
}

// centralityScale is 1 when the point sits within the central 25% of
// the bbox on both axes, 0.5 within the central 50%, else 0.
func centralityScale(minLat, maxLat, lat, minLon, maxLon, lon float64) float64 {
	if within(minLat, maxLat, lat, 0.25) && within(minLon, maxLon, lon, 0.25) {
		return 1
	}
	if within(minLat, maxLat, lat, 0.5) && within(minLon, maxLon, lon, 0.5) {
		return 0.5
	}
	return 0
}

// within reports whether v lies inside the central fraction of
// [lo, hi].
func within(lo, hi, v, fraction float64) bool {
	span := hi - lo
	if span <= 0 {
		return v == lo
	}
	margin := span * (1 - fraction) / 2
	return v >= lo+margin && v <= hi-margin
}
