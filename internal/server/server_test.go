package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/MeKo-Tech/elevationmap/internal/engine"
	"github.com/MeKo-Tech/elevationmap/internal/geo"
	"github.com/MeKo-Tech/elevationmap/internal/geotiff/tifftest"
	"github.com/MeKo-Tech/elevationmap/internal/index"
	"github.com/MeKo-Tech/elevationmap/internal/storage"
)

func quiet() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError + 1}))
}

// newTestServer stands up the handler over a one-tile index: a 4x4
// EPSG:4326 raster at (-27.004..-27.0, 153.0..153.004) holding
// py*100+px per pixel.
func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	dir := t.TempDir()

	raw := tifftest.Build(tifftest.Opts{
		Width: 4, Height: 4, Pixels: tifftest.Grid(4, 4),
		EPSG:    4326,
		OriginX: 153.0, OriginY: -27.0,
		PixelSize: 0.001,
		NoData:    "-9999",
	})
	if err := os.MkdirAll(filepath.Join(dir, "tiles"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "tiles", "geo.tif"), raw, 0o644); err != nil {
		t.Fatal(err)
	}

	ix := index.New("test-bucket")
	coll := ix.EnsureCollection("AU", "EPSG:7844")
	camp := &index.Campaign{
		ID: "brisbane_dem", Name: "Brisbane_2019", Provider: "Geoscience Australia",
		DataType: index.DataTypeDEM, ResolutionM: 1, Priority: 10, CostPerQuery: 0.0005,
		CampaignYear: 2019,
		Files: []index.TileEntry{{
			Key:       "tiles/geo.tif",
			Bounds:    geo.Bounds{MinLat: -27.004, MaxLat: -27.0, MinLon: 153.0, MaxLon: 153.004},
			NativeCRS: "EPSG:4326",
			Method:    index.MethodRasterHeader,
			Precision: geo.PrecisionPrecise,
		}},
	}
	camp.RecomputeBounds()
	coll.Campaigns[camp.ID] = camp
	ix.TotalTileCount = 1

	indexPath := filepath.Join(dir, "index.json")
	if err := index.Save(ix, indexPath); err != nil {
		t.Fatal(err)
	}

	eng, err := engine.New(engine.Config{
		IndexPath:     indexPath,
		Store:         storage.NewLocalStore(dir),
		RateLimitMode: "local",
		Logger:        quiet(),
	})
	if err != nil {
		t.Fatalf("engine.New: %v", err)
	}
	t.Cleanup(func() { eng.Close() })

	srv := httptest.NewServer(New(eng, quiet()).Handler())
	t.Cleanup(srv.Close)
	return srv
}

func getJSON(t *testing.T, url string, wantStatus int, out any) {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != wantStatus {
		t.Fatalf("GET %s = %d, want %d", url, resp.StatusCode, wantStatus)
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decoding %s: %v", url, err)
		}
	}
}

func TestHealthz(t *testing.T) {
	srv := newTestServer(t)
	resp, err := http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d", resp.StatusCode)
	}
}

func TestElevation(t *testing.T) {
	srv := newTestServer(t)

	var got struct {
		ElevationM *float64 `json:"elevation_m"`
		Source     string   `json:"source"`
		DatasetID  *string  `json:"dataset_id"`
		CRS        *string  `json:"crs"`
	}
	getJSON(t, srv.URL+"/v1/elevation?lat=-27.0015&lon=153.0025", http.StatusOK, &got)
	if got.ElevationM == nil || *got.ElevationM != 102 {
		t.Fatalf("elevation_m = %v", got.ElevationM)
	}
	if got.Source != "object-storage" || got.DatasetID == nil || *got.DatasetID != "brisbane_dem" {
		t.Errorf("provenance = %+v", got)
	}
	if got.CRS == nil || *got.CRS != "EPSG:4326" {
		t.Errorf("crs = %v", got.CRS)
	}
}

func TestElevationNoCoverage(t *testing.T) {
	srv := newTestServer(t)

	var got struct {
		ElevationM *float64 `json:"elevation_m"`
		Message    *string  `json:"message"`
	}
	getJSON(t, srv.URL+"/v1/elevation?lat=-45&lon=120", http.StatusOK, &got)
	if got.ElevationM != nil {
		t.Errorf("elevation_m = %v", *got.ElevationM)
	}
	if got.Message == nil || *got.Message != "no_coverage" {
		t.Errorf("message = %v", got.Message)
	}
}

func TestElevationValidation(t *testing.T) {
	srv := newTestServer(t)

	for _, q := range []string{
		"lat=abc&lon=153",
		"lat=-27",
		"lat=95&lon=153",
		"lat=-27&lon=153&policy=turbo",
	} {
		getJSON(t, srv.URL+"/v1/elevation?"+q, http.StatusBadRequest, nil)
	}

	resp, err := http.Post(srv.URL+"/v1/elevation", "application/json", nil)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("POST status = %d", resp.StatusCode)
	}
}

func TestBulk(t *testing.T) {
	srv := newTestServer(t)

	body := `{"points": [
		{"lat": -27.0015, "lon": 153.0025},
		{"lat": 95, "lon": 0},
		{"lat": -27.0035, "lon": 153.0035}
	]}`
	resp, err := http.Post(srv.URL+"/v1/elevation/bulk", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var got struct {
		Results []struct {
			ElevationM *float64 `json:"elevation_m"`
			Message    *string  `json:"message"`
		} `json:"results"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatal(err)
	}
	if len(got.Results) != 3 {
		t.Fatalf("results = %d", len(got.Results))
	}
	if got.Results[0].ElevationM == nil || *got.Results[0].ElevationM != 102 {
		t.Errorf("results[0] = %+v", got.Results[0])
	}
	if got.Results[1].ElevationM != nil || got.Results[1].Message == nil || *got.Results[1].Message != "invalid_coordinate" {
		t.Errorf("results[1] = %+v", got.Results[1])
	}
	if got.Results[2].ElevationM == nil || *got.Results[2].ElevationM != 303 {
		t.Errorf("results[2] = %+v", got.Results[2])
	}
}

func TestBulkValidation(t *testing.T) {
	srv := newTestServer(t)

	post := func(body string) int {
		resp, err := http.Post(srv.URL+"/v1/elevation/bulk", "application/json", strings.NewReader(body))
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		return resp.StatusCode
	}

	if got := post(`{"points": []}`); got != http.StatusBadRequest {
		t.Errorf("empty points status = %d", got)
	}
	if got := post(`not json`); got != http.StatusBadRequest {
		t.Errorf("malformed body status = %d", got)
	}

	var sb strings.Builder
	sb.WriteString(`{"points": [`)
	for i := 0; i < 513; i++ {
		if i > 0 {
			sb.WriteString(",")
		}
		sb.WriteString(`{"lat": -27, "lon": 153}`)
	}
	sb.WriteString(`]}`)
	if got := post(sb.String()); got != http.StatusBadRequest {
		t.Errorf("oversized batch status = %d", got)
	}

	resp, err := http.Get(srv.URL + "/v1/elevation/bulk")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("GET status = %d", resp.StatusCode)
	}
}

func TestCampaignsList(t *testing.T) {
	srv := newTestServer(t)

	var page struct {
		Campaigns []struct {
			ID string `json:"id"`
		} `json:"campaigns"`
		Total int `json:"total"`
	}
	getJSON(t, srv.URL+"/v1/campaigns", http.StatusOK, &page)
	if page.Total != 1 || len(page.Campaigns) != 1 || page.Campaigns[0].ID != "brisbane_dem" {
		t.Errorf("page = %+v", page)
	}

	// A filter that excludes everything.
	getJSON(t, srv.URL+"/v1/campaigns?year_from=2025", http.StatusOK, &page)
	if page.Total != 0 {
		t.Errorf("filtered total = %d", page.Total)
	}

	getJSON(t, srv.URL+"/v1/campaigns?bbox=bogus", http.StatusBadRequest, nil)
}

func TestCampaignDetail(t *testing.T) {
	srv := newTestServer(t)

	var got struct {
		ID       string          `json:"id"`
		Tiles    []any           `json:"tiles"`
		Geometry json.RawMessage `json:"geometry"`
	}
	getJSON(t, srv.URL+"/v1/campaigns/brisbane_dem?include_tiles=true&include_geometry=true", http.StatusOK, &got)
	if got.ID != "brisbane_dem" || len(got.Tiles) != 1 || len(got.Geometry) == 0 {
		t.Errorf("detail = %+v", got)
	}

	getJSON(t, srv.URL+"/v1/campaigns/nope", http.StatusNotFound, nil)
}

func TestCampaignsInBounds(t *testing.T) {
	srv := newTestServer(t)

	var got struct {
		Campaigns []struct {
			ID string `json:"id"`
		} `json:"campaigns"`
	}
	getJSON(t, srv.URL+"/v1/campaigns/in-bounds?bbox=152,-28,154,-26", http.StatusOK, &got)
	if len(got.Campaigns) != 1 || got.Campaigns[0].ID != "brisbane_dem" {
		t.Errorf("in-bounds = %+v", got)
	}

	getJSON(t, srv.URL+"/v1/campaigns/in-bounds", http.StatusBadRequest, nil)
}

func TestCampaignClusters(t *testing.T) {
	srv := newTestServer(t)

	var got struct {
		Clusters []struct {
			Count int `json:"count"`
		} `json:"clusters"`
	}
	getJSON(t, srv.URL+"/v1/campaigns/clusters?bbox=110,-45,180,-10&zoom=5", http.StatusOK, &got)
	if len(got.Clusters) != 1 || got.Clusters[0].Count != 1 {
		t.Errorf("clusters = %+v", got)
	}

	// Empty viewport still answers with an empty array.
	getJSON(t, srv.URL+"/v1/campaigns/clusters?bbox=0,0,1,1&zoom=5", http.StatusOK, &got)
	if got.Clusters == nil || len(got.Clusters) != 0 {
		t.Errorf("empty viewport clusters = %+v", got.Clusters)
	}
}

func TestStatus(t *testing.T) {
	srv := newTestServer(t)

	// Drive one query so the counter moves.
	getJSON(t, srv.URL+"/v1/elevation?lat=-27.0015&lon=153.0025", http.StatusOK, nil)

	var got struct {
		TotalQueries int64 `json:"total_queries"`
		Index        struct {
			SchemaVersion string `json:"schema_version"`
			TileCount     int    `json:"tile_count"`
		} `json:"index"`
	}
	getJSON(t, srv.URL+"/status", http.StatusOK, &got)
	if got.TotalQueries != 1 {
		t.Errorf("total_queries = %d", got.TotalQueries)
	}
	if got.Index.SchemaVersion != index.SupportedSchemaVersion || got.Index.TileCount != 1 {
		t.Errorf("index block = %+v", got.Index)
	}
}

func TestCORS(t *testing.T) {
	srv := newTestServer(t)

	req, _ := http.NewRequest(http.MethodOptions, srv.URL+"/v1/elevation", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("preflight status = %d", resp.StatusCode)
	}
	if resp.Header.Get("Access-Control-Allow-Origin") != "*" {
		t.Error("preflight missing allow-origin")
	}

	resp, err = http.Get(srv.URL + "/v1/elevation?lat=-27.0015&lon=153.0025")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.Header.Get("Access-Control-Allow-Origin") != "*" {
		t.Error("GET response missing allow-origin")
	}
}
