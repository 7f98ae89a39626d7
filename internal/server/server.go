// Package server is the HTTP façade over the engine: point and bulk
// elevation queries plus the coverage endpoints backing the map UI.
package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/MeKo-Tech/elevationmap/internal/coverage"
	"github.com/MeKo-Tech/elevationmap/internal/engine"
	"github.com/MeKo-Tech/elevationmap/internal/fallback"
	"github.com/MeKo-Tech/elevationmap/internal/geo"
	"github.com/MeKo-Tech/elevationmap/internal/index"
	"github.com/MeKo-Tech/elevationmap/internal/ratelimit"
	"github.com/MeKo-Tech/elevationmap/internal/selector"
)

// maxBulkPoints caps one bulk request.
const maxBulkPoints = 512

// Server handles HTTP requests against a shared engine.
type Server struct {
	eng    *engine.Engine
	logger *slog.Logger

	started      time.Time
	totalQueries atomic.Int64
	totalFailed  atomic.Int64
}

// New creates a server.
func New(eng *engine.Engine, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{eng: eng, logger: logger, started: time.Now()}
}

// Handler returns the routed handler with CORS applied to the API.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/status", s.handleStatus)
	mux.Handle("/v1/elevation", withCORS(http.HandlerFunc(s.handleElevation)))
	mux.Handle("/v1/elevation/bulk", withCORS(http.HandlerFunc(s.handleBulk)))
	mux.Handle("/v1/campaigns", withCORS(http.HandlerFunc(s.handleCampaigns)))
	mux.Handle("/v1/campaigns/", withCORS(http.HandlerFunc(s.handleCampaignSub)))
	return mux
}

func withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// elevationResponse is the wire shape of one query result.
type elevationResponse struct {
	ElevationM *float64 `json:"elevation_m"`
	Source     string   `json:"source"`
	DatasetID  *string  `json:"dataset_id"`
	CRS        *string  `json:"crs"`
	Message    *string  `json:"message"`
}

func toResponse(res fallback.Result) elevationResponse {
	out := elevationResponse{ElevationM: res.Elevation, Source: res.Source}
	if res.DatasetID != "" {
		out.DatasetID = &res.DatasetID
	}
	if res.CRS != "" {
		out.CRS = &res.CRS
	}
	if res.Reason != "" {
		out.Message = &res.Reason
	}
	return out
}

func (s *Server) handleElevation(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "use GET")
		return
	}
	lat, err1 := strconv.ParseFloat(r.URL.Query().Get("lat"), 64)
	lon, err2 := strconv.ParseFloat(r.URL.Query().Get("lon"), 64)
	if err1 != nil || err2 != nil {
		writeError(w, http.StatusBadRequest, "validation", "lat and lon must be numbers")
		return
	}
	policy, err := selector.ParsePolicy(r.URL.Query().Get("policy"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "validation", err.Error())
		return
	}

	s.totalQueries.Add(1)
	res, err := s.eng.Query(r.Context(), lat, lon, policy, r.URL.Query().Get("source_id"))
	if err != nil {
		s.totalFailed.Add(1)
		s.writeQueryError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toResponse(res))
}

type bulkRequest struct {
	Points []struct {
		Lat float64 `json:"lat"`
		Lon float64 `json:"lon"`
	} `json:"points"`
	SourceID string `json:"source_id"`
	Policy   string `json:"policy"`
}

func (s *Server) handleBulk(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "use POST")
		return
	}
	var req bulkRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "validation", "malformed request body")
		return
	}
	if len(req.Points) == 0 {
		writeError(w, http.StatusBadRequest, "validation", "points must not be empty")
		return
	}
	if len(req.Points) > maxBulkPoints {
		writeError(w, http.StatusBadRequest, "validation",
			fmt.Sprintf("at most %d points per request", maxBulkPoints))
		return
	}
	policy, err := selector.ParsePolicy(req.Policy)
	if err != nil {
		writeError(w, http.StatusBadRequest, "validation", err.Error())
		return
	}

	points := make([]fallback.Point, len(req.Points))
	for i, p := range req.Points {
		points[i] = fallback.Point{Lat: p.Lat, Lon: p.Lon}
	}

	s.totalQueries.Add(1)
	results, err := s.eng.QueryBulk(r.Context(), points, policy, req.SourceID)
	if err != nil {
		s.totalFailed.Add(1)
		s.writeQueryError(w, err)
		return
	}
	out := struct {
		Results []elevationResponse `json:"results"`
	}{Results: make([]elevationResponse, len(results))}
	for i, res := range results {
		out.Results[i] = toResponse(res)
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleCampaigns(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "use GET")
		return
	}
	q := r.URL.Query()
	filters, err := parseFilters(q)
	if err != nil {
		writeError(w, http.StatusBadRequest, "validation", err.Error())
		return
	}
	page, _ := strconv.Atoi(q.Get("page"))
	pageSize, _ := strconv.Atoi(q.Get("page_size"))
	result := s.eng.Coverage.List(filters, page, pageSize,
		q.Get("include_tiles") == "true", q.Get("include_geometry") == "true")
	writeJSON(w, http.StatusOK, result)
}

// handleCampaignSub routes /v1/campaigns/in-bounds,
// /v1/campaigns/clusters and /v1/campaigns/{id}.
func (s *Server) handleCampaignSub(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "use GET")
		return
	}
	rest := strings.TrimPrefix(r.URL.Path, "/v1/campaigns/")
	switch rest {
	case "in-bounds":
		b, err := parseBBoxParams(r.URL.Query())
		if err != nil {
			writeError(w, http.StatusBadRequest, "validation", err.Error())
			return
		}
		writeJSON(w, http.StatusOK, struct {
			Campaigns []coverage.CampaignSummary `json:"campaigns"`
		}{s.eng.Coverage.InBounds(b)})
	case "clusters":
		b, err := parseBBoxParams(r.URL.Query())
		if err != nil {
			writeError(w, http.StatusBadRequest, "validation", err.Error())
			return
		}
		zoom, _ := strconv.Atoi(r.URL.Query().Get("zoom"))
		clusters := s.eng.Coverage.Clusters(b, zoom)
		if clusters == nil {
			clusters = []index.Cluster{}
		}
		writeJSON(w, http.StatusOK, struct {
			Clusters []index.Cluster `json:"clusters"`
		}{clusters})
	default:
		if rest == "" || strings.Contains(rest, "/") {
			writeError(w, http.StatusNotFound, "not_found", "unknown campaign path")
			return
		}
		q := r.URL.Query()
		summary, err := s.eng.Coverage.Get(rest,
			q.Get("include_tiles") == "true", q.Get("include_geometry") == "true")
		if err != nil {
			writeError(w, http.StatusNotFound, "not_found", err.Error())
			return
		}
		writeJSON(w, http.StatusOK, summary)
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"uptime_seconds": int64(time.Since(s.started).Seconds()),
		"total_queries":  s.totalQueries.Load(),
		"total_failed":   s.totalFailed.Load(),
		"index": map[string]any{
			"schema_version": s.eng.Index.SchemaVersion,
			"generated_at":   s.eng.Index.GeneratedAt,
			"tile_count":     s.eng.Index.TotalTileCount,
			"collections":    len(s.eng.Index.Collections),
		},
	})
}

// writeQueryError maps engine errors onto status codes: validation to
// 400, a strict-mode limiter outage to 503, anything else to 500.
func (s *Server) writeQueryError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, fallback.ErrValidation):
		writeError(w, http.StatusBadRequest, "validation", err.Error())
	case errors.Is(err, ratelimit.ErrUnavailable):
		writeError(w, http.StatusServiceUnavailable, "rate_limiter_unavailable", err.Error())
	default:
		s.logger.Error("query failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal", "internal error")
	}
}

func parseFilters(q map[string][]string) (coverage.Filters, error) {
	get := func(key string) string {
		if v, ok := q[key]; ok && len(v) > 0 {
			return v[0]
		}
		return ""
	}

	var f coverage.Filters
	if bbox := get("bbox"); bbox != "" {
		b, err := parseBBox(bbox)
		if err != nil {
			return f, err
		}
		f.BBox = &b
	}
	if v := get("min_resolution"); v != "" {
		r, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return f, fmt.Errorf("min_resolution: %w", err)
		}
		f.MinResolution = r
	}
	if v := get("max_resolution"); v != "" {
		r, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return f, fmt.Errorf("max_resolution: %w", err)
		}
		f.MaxResolution = r
	}
	for _, t := range splitCSV(get("data_types")) {
		f.DataTypes = append(f.DataTypes, index.ParseDataType(t))
	}
	f.Providers = splitCSV(get("providers"))
	f.Regions = splitCSV(get("regions"))
	if v := get("year_from"); v != "" {
		f.YearFrom, _ = strconv.Atoi(v)
	}
	if v := get("year_to"); v != "" {
		f.YearTo, _ = strconv.Atoi(v)
	}
	return f, nil
}

// parseBBox parses "min_lon,min_lat,max_lon,max_lat".
func parseBBox(s string) (geo.Bounds, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return geo.Bounds{}, fmt.Errorf("bbox must be min_lon,min_lat,max_lon,max_lat")
	}
	vals := make([]float64, 4)
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return geo.Bounds{}, fmt.Errorf("bbox component %d: %w", i, err)
		}
		vals[i] = v
	}
	b := geo.Bounds{MinLon: vals[0], MinLat: vals[1], MaxLon: vals[2], MaxLat: vals[3]}
	if err := b.Validate(); err != nil {
		return geo.Bounds{}, err
	}
	return b, nil
}

func parseBBoxParams(q map[string][]string) (geo.Bounds, error) {
	get := func(key string) string {
		if v, ok := q[key]; ok && len(v) > 0 {
			return v[0]
		}
		return ""
	}
	if bbox := get("bbox"); bbox != "" {
		return parseBBox(bbox)
	}
	return geo.Bounds{}, fmt.Errorf("bbox parameter is required")
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]string{"error": code, "message": message})
}
