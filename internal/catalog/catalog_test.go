package catalog

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MeKo-Tech/elevationmap/internal/geo"
)

const sampleYAML = `
schema_version: "1.0"
last_updated: "2026-07-01"
elevation_sources:
  - id: au_lidar_1m
    type: object-storage
    path: s3://elevation-au/lidar
    crs: EPSG:7844
    resolution_m: 1
    bounds: {min_lat: -44, max_lat: -10, min_lon: 112, max_lon: 154}
    priority: 10
    cost_per_query: 0.0005
    enabled: true
  - id: gpxz_api
    type: http-api
    endpoint: https://api.gpxz.io
    crs: EPSG:4326
    resolution_m: 30
    bounds: {min_lat: -90, max_lat: 90, min_lon: -180, max_lon: 180}
    priority: 30
    cost_per_query: 0.001
    enabled: true
    metadata:
      style: gpxz
      api_key_env: GPXZ_API_KEY
  - id: opentopo_api
    type: http-api
    endpoint: https://api.opentopodata.org
    crs: EPSG:4326
    resolution_m: 30
    bounds: {min_lat: -90, max_lat: 90, min_lon: -180, max_lon: 180}
    priority: 20
    cost_per_query: 0
    enabled: true
  - id: disabled_api
    type: http-api
    endpoint: https://example.com
    crs: EPSG:4326
    resolution_m: 90
    bounds: {min_lat: -90, max_lat: 90, min_lon: -180, max_lon: 180}
    priority: 5
    cost_per_query: 0
    enabled: false
`

func writeCatalog(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadYAML(t *testing.T) {
	c, err := Load(writeCatalog(t, "sources.yaml", sampleYAML))
	require.NoError(t, err)
	assert.Equal(t, "1.0", c.SchemaVersion)
	assert.Len(t, c.ElevationSources, 4)

	s, ok := c.Source("gpxz_api")
	require.True(t, ok)
	assert.Equal(t, "gpxz", s.Metadata["style"])
	assert.Equal(t, SourceHTTPAPI, s.Type)

	_, ok = c.Source("nope")
	assert.False(t, ok)
}

func TestLoadJSON(t *testing.T) {
	const doc = `{
	  "schema_version": "1.0",
	  "last_updated": "2026-07-01",
	  "elevation_sources": [{
	    "id": "au_dem",
	    "type": "object-storage",
	    "path": "s3://elevation-au/dem",
	    "crs": "EPSG:7844",
	    "resolution_m": 5,
	    "bounds": {"min_lat": -44, "max_lat": -10, "min_lon": 112, "max_lon": 154},
	    "priority": 10,
	    "cost_per_query": 0.0005,
	    "enabled": true
	  }]
	}`
	c, err := Load(writeCatalog(t, "sources.json", doc))
	require.NoError(t, err)
	require.Len(t, c.Storage(), 1)
	assert.Equal(t, "au_dem", c.Storage()[0].ID)
}

func TestProvidersOrderedByPriority(t *testing.T) {
	c, err := Load(writeCatalog(t, "sources.yaml", sampleYAML))
	if err != nil {
		t.Fatal(err)
	}
	ps := c.Providers()
	if len(ps) != 2 {
		t.Fatalf("Providers() returned %d, want enabled http-api only", len(ps))
	}
	if ps[0].ID != "opentopo_api" || ps[1].ID != "gpxz_api" {
		t.Errorf("provider order = [%s, %s]", ps[0].ID, ps[1].ID)
	}
}

func TestValidateRejections(t *testing.T) {
	world := geo.Bounds{MinLat: -90, MaxLat: 90, MinLon: -180, MaxLon: 180}
	valid := SourceDescriptor{
		ID: "x", Type: SourceHTTPAPI, Endpoint: "https://example.com",
		CRS: "EPSG:4326", ResolutionM: 30, Bounds: world, Priority: 1,
	}

	cases := []struct {
		name   string
		mutate func(*SourceDescriptor)
		want   string
	}{
		{"missing id", func(s *SourceDescriptor) { s.ID = "" }, "id is required"},
		{"unknown type", func(s *SourceDescriptor) { s.Type = "ftp" }, "unknown type"},
		{"api without endpoint", func(s *SourceDescriptor) { s.Endpoint = "" }, "endpoint is required"},
		{"missing crs", func(s *SourceDescriptor) { s.CRS = "" }, "crs is required"},
		{"zero resolution", func(s *SourceDescriptor) { s.ResolutionM = 0 }, "resolution_m"},
		{"zero bounds", func(s *SourceDescriptor) { s.Bounds = geo.Bounds{} }, "bounds are required"},
		{"inverted bounds", func(s *SourceDescriptor) { s.Bounds.MinLat, s.Bounds.MaxLat = 10, -10 }, "bounds"},
		{"missing priority", func(s *SourceDescriptor) { s.Priority = 0 }, "priority"},
		{"negative cost", func(s *SourceDescriptor) { s.CostPerQuery = -1 }, "cost_per_query"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := valid
			tc.mutate(&s)
			c := &Catalog{SchemaVersion: "1.0", ElevationSources: []SourceDescriptor{s}}
			err := c.Validate()
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Errorf("err = %v, want %q", err, tc.want)
			}
		})
	}

	storageValid := SourceDescriptor{
		ID: "y", Type: SourceObjectStorage, Path: "s3://b/p",
		CRS: "EPSG:7844", ResolutionM: 1, Bounds: world, Priority: 1,
	}
	storageValid.Path = ""
	c := &Catalog{SchemaVersion: "1.0", ElevationSources: []SourceDescriptor{storageValid}}
	if err := c.Validate(); err == nil || !strings.Contains(err.Error(), "path is required") {
		t.Errorf("err = %v", err)
	}
}

func TestValidateDuplicateID(t *testing.T) {
	world := geo.Bounds{MinLat: -90, MaxLat: 90, MinLon: -180, MaxLon: 180}
	s := SourceDescriptor{
		ID: "dup", Type: SourceHTTPAPI, Endpoint: "https://example.com",
		CRS: "EPSG:4326", ResolutionM: 30, Bounds: world, Priority: 1,
	}
	c := &Catalog{SchemaVersion: "1.0", ElevationSources: []SourceDescriptor{s, s}}
	if err := c.Validate(); err == nil || !strings.Contains(err.Error(), "duplicate id") {
		t.Errorf("err = %v", err)
	}
}

func TestValidateMissingSchemaVersion(t *testing.T) {
	if err := (&Catalog{}).Validate(); err == nil {
		t.Error("empty schema_version accepted")
	}
}

func TestLoadMalformed(t *testing.T) {
	if _, err := Load(writeCatalog(t, "sources.yaml", "elevation_sources: [")); err == nil {
		t.Error("malformed yaml accepted")
	}
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("missing file accepted")
	}
}
