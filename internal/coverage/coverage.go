// Package coverage serves read-only campaign queries over a loaded
// index: filtered listings, per-campaign detail, viewport lookups and
// low-zoom clustering for the map UI.
package coverage

import (
	"fmt"
	"sort"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/MeKo-Tech/elevationmap/internal/geo"
	"github.com/MeKo-Tech/elevationmap/internal/index"
)

// Filters narrows a campaign listing. Zero values mean "no filter".
type Filters struct {
	BBox          *geo.Bounds
	MinResolution float64
	MaxResolution float64
	DataTypes     []index.DataType
	Providers     []string
	Regions       []string
	YearFrom      int
	YearTo        int
}

// CampaignSummary is the listing view of one campaign.
type CampaignSummary struct {
	ID           string            `json:"id"`
	Country      string            `json:"country"`
	Name         string            `json:"name"`
	Provider     string            `json:"provider"`
	DataType     index.DataType    `json:"data_type"`
	ResolutionM  float64           `json:"resolution_m"`
	Priority     int               `json:"priority"`
	CostPerQuery float64           `json:"cost_per_query"`
	Bounds       geo.Bounds        `json:"bounds"`
	CampaignYear int               `json:"campaign_year,omitempty"`
	SurveyName   string            `json:"survey_name,omitempty"`
	FileCount    int               `json:"file_count"`
	Tiles        []index.TileEntry `json:"tiles,omitempty"`
	Geometry     *geojson.Geometry `json:"geometry,omitempty"`
}

// Page is one listing page.
type Page struct {
	Campaigns []CampaignSummary `json:"campaigns"`
	Total     int               `json:"total"`
	Page      int               `json:"page"`
	PageSize  int               `json:"page_size"`
}

// Service answers coverage queries. The index is read-only here.
type Service struct {
	ix *index.Index
}

// New creates a service over ix.
func New(ix *index.Index) *Service {
	return &Service{ix: ix}
}

// List returns a filtered, paginated campaign listing. Page numbers
// are 1-based; pageSize <= 0 defaults to 50.
func (s *Service) List(f Filters, page, pageSize int, includeTiles, includeGeometry bool) Page {
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = 50
	}

	var all []index.TileRef
	for _, coll := range s.ix.Collections {
		for _, id := range sortedIDs(coll) {
			ref := index.TileRef{Collection: coll, Campaign: coll.Campaigns[id]}
			if matches(ref, f) {
				all = append(all, ref)
			}
		}
	}

	out := Page{Total: len(all), Page: page, PageSize: pageSize}
	start := (page - 1) * pageSize
	if start >= len(all) {
		return out
	}
	end := start + pageSize
	if end > len(all) {
		end = len(all)
	}
	for _, ref := range all[start:end] {
		out.Campaigns = append(out.Campaigns, summarize(ref, includeTiles, includeGeometry))
	}
	return out
}

// Get returns one campaign by id.
func (s *Service) Get(id string, includeTiles, includeGeometry bool) (CampaignSummary, error) {
	for _, coll := range s.ix.Collections {
		if camp, ok := coll.Campaigns[id]; ok {
			return summarize(index.TileRef{Collection: coll, Campaign: camp}, includeTiles, includeGeometry), nil
		}
	}
	return CampaignSummary{}, fmt.Errorf("coverage: campaign %q not found", id)
}

// InBounds returns summaries of campaigns intersecting b, via the 1°
// grid.
func (s *Service) InBounds(b geo.Bounds) []CampaignSummary {
	refs := s.ix.CampaignsIntersecting(b)
	out := make([]CampaignSummary, 0, len(refs))
	for _, ref := range refs {
		out = append(out, summarize(ref, false, false))
	}
	return out
}

// Clusters buckets campaigns for a viewport at a zoom level.
func (s *Service) Clusters(b geo.Bounds, zoom int) []index.Cluster {
	return s.ix.ClustersFor(b, zoom)
}

func matches(ref index.TileRef, f Filters) bool {
	c := ref.Campaign
	if f.BBox != nil && !c.Bounds.Intersects(*f.BBox) {
		return false
	}
	if f.MinResolution > 0 && c.ResolutionM < f.MinResolution {
		return false
	}
	if f.MaxResolution > 0 && c.ResolutionM > f.MaxResolution {
		return false
	}
	if len(f.DataTypes) > 0 && !containsType(f.DataTypes, c.DataType) {
		return false
	}
	if len(f.Providers) > 0 && !containsString(f.Providers, c.Provider) {
		return false
	}
	if len(f.Regions) > 0 && !inRegions(c.Bounds, f.Regions) {
		return false
	}
	if f.YearFrom > 0 && (c.CampaignYear == 0 || c.CampaignYear < f.YearFrom) {
		return false
	}
	if f.YearTo > 0 && (c.CampaignYear == 0 || c.CampaignYear > f.YearTo) {
		return false
	}
	return true
}

func inRegions(b geo.Bounds, codes []string) bool {
	for _, code := range codes {
		for _, r := range geo.Regions {
			if r.Code == code && b.Intersects(r.Bounds) {
				return true
			}
		}
	}
	return false
}

func summarize(ref index.TileRef, includeTiles, includeGeometry bool) CampaignSummary {
	c := ref.Campaign
	out := CampaignSummary{
		ID:           c.ID,
		Country:      ref.Collection.Country,
		Name:         c.Name,
		Provider:     c.Provider,
		DataType:     c.DataType,
		ResolutionM:  c.ResolutionM,
		Priority:     c.Priority,
		CostPerQuery: c.CostPerQuery,
		Bounds:       c.Bounds,
		CampaignYear: c.CampaignYear,
		SurveyName:   c.SurveyName,
		FileCount:    c.FileCount,
	}
	if includeTiles {
		out.Tiles = c.Files
	}
	if includeGeometry {
		out.Geometry = geojson.NewGeometry(Footprint(c))
	}
	return out
}

// Footprint renders a campaign's coverage as the union of its tile
// rectangles: a Polygon for one distinct rectangle, a MultiPolygon
// otherwise. A campaign without tiles falls back to its own bbox.
func Footprint(c *index.Campaign) orb.Geometry {
	if len(c.Files) == 0 {
		return ring(c.Bounds)
	}

	seen := make(map[geo.Bounds]bool, len(c.Files))
	var rects []geo.Bounds
	for _, f := range c.Files {
		if !seen[f.Bounds] {
			seen[f.Bounds] = true
			rects = append(rects, f.Bounds)
		}
	}
	if len(rects) == 1 {
		return ring(rects[0])
	}
	sort.Slice(rects, func(i, j int) bool {
		if rects[i].MinLat != rects[j].MinLat {
			return rects[i].MinLat < rects[j].MinLat
		}
		return rects[i].MinLon < rects[j].MinLon
	})
	mp := make(orb.MultiPolygon, 0, len(rects))
	for _, r := range rects {
		mp = append(mp, ring(r))
	}
	return mp
}

// ring builds a closed counter-clockwise rectangle.
func ring(b geo.Bounds) orb.Polygon {
	return orb.Polygon{orb.Ring{
		{b.MinLon, b.MinLat},
		{b.MaxLon, b.MinLat},
		{b.MaxLon, b.MaxLat},
		{b.MinLon, b.MaxLat},
		{b.MinLon, b.MinLat},
	}}
}

func sortedIDs(c *index.Collection) []string {
	ids := make([]string, 0, len(c.Campaigns))
	for id := range c.Campaigns {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func containsType(ts []index.DataType, t index.DataType) bool {
	for _, x := range ts {
		if x == t {
			return true
		}
	}
	return false
}

func containsString(ss []string, s string) bool {
	for _, x := range ss {
		if x == s {
			return true
		}
	}
	return false
}
