package index

import (
	"math"
	"sort"

	"github.com/MeKo-Tech/elevationmap/internal/geo"
)

// FindTiles returns every tile whose bounds contain the point,
// in collection/campaign enumeration order. The scan is campaign
// scoped: tiles are only visited inside campaigns whose bbox contains
// the point, which is what keeps a CBD query at a few thousand tile
// records instead of the whole corpus.
func (ix *Index) FindTiles(lat, lon float64) []TileRef {
	var out []TileRef
	for _, coll := range ix.Collections {
		if !coll.Bounds().Contains(lat, lon) {
			continue
		}
		for _, id := range coll.campaignIDs() {
			camp := coll.Campaigns[id]
			if !camp.Bounds.Contains(lat, lon) {
				continue
			}
			for i := range camp.Files {
				if camp.Files[i].Bounds.Contains(lat, lon) {
					out = append(out, TileRef{Collection: coll, Campaign: camp, Tile: &camp.Files[i]})
				}
			}
		}
	}
	return out
}

// CampaignsContaining returns the campaigns whose bbox contains the
// point, without touching tile records.
func (ix *Index) CampaignsContaining(lat, lon float64) []TileRef {
	var out []TileRef
	for _, coll := range ix.Collections {
		if !coll.Bounds().Contains(lat, lon) {
			continue
		}
		for _, id := range coll.campaignIDs() {
			camp := coll.Campaigns[id]
			if camp.Bounds.Contains(lat, lon) {
				out = append(out, TileRef{Collection: coll, Campaign: camp})
			}
		}
	}
	return out
}

// TilesInCampaign returns refs for the campaign's tiles containing the
// point.
func (ix *Index) TilesInCampaign(ref TileRef, lat, lon float64) []TileRef {
	var out []TileRef
	camp := ref.Campaign
	for i := range camp.Files {
		if camp.Files[i].Bounds.Contains(lat, lon) {
			out = append(out, TileRef{Collection: ref.Collection, Campaign: camp, Tile: &camp.Files[i]})
		}
	}
	return out
}

// campaignIDs returns the campaign map keys in sorted order so scans
// and serialization are deterministic.
func (c *Collection) campaignIDs() []string {
	ids := make([]string, 0, len(c.Campaigns))
	for id := range c.Campaigns {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// cellGrid is a coarse 1°-cell index from grid cell to the campaigns
// whose bbox intersects it, built lazily from campaign bboxes.
type cellGrid struct {
	cells map[cellKey][]TileRef
}

type cellKey struct{ Lat, Lon int }

func cellOf(lat, lon float64) cellKey {
	return cellKey{Lat: int(math.Floor(lat)), Lon: int(math.Floor(lon))}
}

func (ix *Index) ensureGrid() *cellGrid {
	ix.gridOnce.Do(func() {
		g := &cellGrid{cells: make(map[cellKey][]TileRef)}
		for _, coll := range ix.Collections {
			for _, id := range coll.campaignIDs() {
				camp := coll.Campaigns[id]
				b := camp.Bounds
				for la := int(math.Floor(b.MinLat)); la <= int(math.Floor(b.MaxLat)); la++ {
					for lo := int(math.Floor(b.MinLon)); lo <= int(math.Floor(b.MaxLon)); lo++ {
						k := cellKey{Lat: la, Lon: lo}
						g.cells[k] = append(g.cells[k], TileRef{Collection: coll, Campaign: camp})
					}
				}
			}
		}
		ix.grid = g
	})
	return ix.grid
}

// CampaignsIntersecting returns campaigns whose bbox intersects b,
// using the 1° grid to avoid a full campaign scan.
func (ix *Index) CampaignsIntersecting(b geo.Bounds) []TileRef {
	g := ix.ensureGrid()
	seen := make(map[*Campaign]bool)
	var out []TileRef
	for la := int(math.Floor(b.MinLat)); la <= int(math.Floor(b.MaxLat)); la++ {
		for lo := int(math.Floor(b.MinLon)); lo <= int(math.Floor(b.MaxLon)); lo++ {
			for _, ref := range g.cells[cellKey{Lat: la, Lon: lo}] {
				if seen[ref.Campaign] {
					continue
				}
				if ref.Campaign.Bounds.Intersects(b) {
					seen[ref.Campaign] = true
					out = append(out, ref)
				}
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Campaign.ID < out[j].Campaign.ID })
	return out
}

// Cluster is a bucketed group of campaigns for low-zoom map views.
type Cluster struct {
	CenterLat   float64  `json:"center_lat"`
	CenterLon   float64  `json:"center_lon"`
	Count       int      `json:"count"`
	CampaignIDs []string `json:"campaign_ids"`
}

// ClusterCellSize maps a zoom level to the bucket size in degrees.
func ClusterCellSize(zoom int) float64 {
	switch {
	case zoom <= 6:
		return 5
	case zoom <= 8:
		return 2
	default:
		return 1
	}
}

// ClustersFor buckets campaign centroids intersecting b. At zoom >= 11
// each campaign becomes its own cluster.
func (ix *Index) ClustersFor(b geo.Bounds, zoom int) []Cluster {
	refs := ix.CampaignsIntersecting(b)
	if zoom >= 11 {
		out := make([]Cluster, 0, len(refs))
		for _, ref := range refs {
			lat, lon := ref.Campaign.Bounds.Center()
			out = append(out, Cluster{CenterLat: lat, CenterLon: lon, Count: 1, CampaignIDs: []string{ref.Campaign.ID}})
		}
		return out
	}

	cell := ClusterCellSize(zoom)
	type bucket struct{ la, lo int }
	buckets := make(map[bucket]*Cluster)
	var order []bucket
	for _, ref := range refs {
		lat, lon := ref.Campaign.Bounds.Center()
		k := bucket{la: int(math.Floor(lat / cell)), lo: int(math.Floor(lon / cell))}
		cl, ok := buckets[k]
		if !ok {
			cl = &Cluster{
				CenterLat: (float64(k.la) + 0.5) * cell,
				CenterLon: (float64(k.lo) + 0.5) * cell,
			}
			buckets[k] = cl
			order = append(order, k)
		}
		cl.Count++
		cl.CampaignIDs = append(cl.CampaignIDs, ref.Campaign.ID)
	}
	out := make([]Cluster, 0, len(order))
	for _, k := range order {
		out = append(out, *buckets[k])
	}
	return out
}
