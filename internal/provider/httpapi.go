package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/url"
	"time"

	"github.com/MeKo-Tech/elevationmap/internal/ratelimit"
)

// Style selects the request/response dialect of an elevation API.
type Style string

const (
	// StyleGPXZ: /v1/elevation/point?lat=&lon= with an x-api-key
	// header; {"result": {"elevation": ...}}.
	StyleGPXZ Style = "gpxz"
	// StyleOpenTopoData: /v1/<dataset>?locations=lat,lon;
	// {"status": "OK", "results": [{"elevation": ...}]}.
	StyleOpenTopoData Style = "opentopodata"
	// StyleOpenElevation: /api/v1/lookup?locations=lat,lon;
	// {"results": [{"elevation": ...}]}.
	StyleOpenElevation Style = "open-elevation"
)

// ParseStyle validates a configured dialect name.
func ParseStyle(s string) (Style, error) {
	switch Style(s) {
	case StyleGPXZ, StyleOpenTopoData, StyleOpenElevation:
		return Style(s), nil
	default:
		return "", fmt.Errorf("provider: unknown api style %q", s)
	}
}

// Config describes one HTTP provider instance.
type Config struct {
	Name     string
	Style    Style
	Endpoint string
	// Dataset is the OpenTopoData dataset path segment; ignored by
	// other styles.
	Dataset string
	APIKey  string

	// RatePerSecond and DailyQuota feed the shared limiter; zero
	// disables that window.
	RatePerSecond int64
	DailyQuota    int64

	Timeout time.Duration
	Client  *http.Client
	Limiter *ratelimit.Limiter
	Logger  *slog.Logger
}

// HTTPProvider is an ElevationProvider over one REST endpoint.
type HTTPProvider struct {
	cfg    Config
	client *http.Client
	log    *slog.Logger
}

// NewHTTP builds a provider from its config.
func NewHTTP(cfg Config) (*HTTPProvider, error) {
	if cfg.Name == "" {
		return nil, fmt.Errorf("provider: name is required")
	}
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("provider %s: endpoint is required", cfg.Name)
	}
	if _, err := ParseStyle(string(cfg.Style)); err != nil {
		return nil, err
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	client := cfg.Client
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	return &HTTPProvider{cfg: cfg, client: client, log: log}, nil
}

func (p *HTTPProvider) Name() string { return p.cfg.Name }

// CheckRateLimit consumes one unit of the per-second and daily
// windows. Without a limiter every call passes.
func (p *HTTPProvider) CheckRateLimit(ctx context.Context) error {
	if p.cfg.Limiter == nil {
		return nil
	}
	if p.cfg.RatePerSecond > 0 {
		ok, err := p.cfg.Limiter.Check(ctx, "provider:"+p.cfg.Name+":rps", p.cfg.RatePerSecond, 1)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: %s per-second", ErrRateLimited, p.cfg.Name)
		}
	}
	if p.cfg.DailyQuota > 0 {
		ok, err := p.cfg.Limiter.Check(ctx, "provider:"+p.cfg.Name+":daily", p.cfg.DailyQuota, 86400)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: %s daily quota", ErrRateLimited, p.cfg.Name)
		}
	}
	return nil
}

// FetchElevation performs one point lookup.
func (p *HTTPProvider) FetchElevation(ctx context.Context, lat, lon float64) (float64, error) {
	req, err := p.buildRequest(ctx, lat, lon)
	if err != nil {
		return 0, err
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("provider %s: %w", p.cfg.Name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return 0, fmt.Errorf("%w: %s returned 429", ErrRateLimited, p.cfg.Name)
	}
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("provider %s: status %d", p.cfg.Name, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return 0, fmt.Errorf("provider %s: reading body: %w", p.cfg.Name, err)
	}
	v, err := p.parse(body)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("%w: %s", ErrNoData, p.cfg.Name)
	}
	return v, nil
}

func (p *HTTPProvider) buildRequest(ctx context.Context, lat, lon float64) (*http.Request, error) {
	var u string
	switch p.cfg.Style {
	case StyleGPXZ:
		u = fmt.Sprintf("%s/v1/elevation/point?lat=%.6f&lon=%.6f", p.cfg.Endpoint, lat, lon)
	case StyleOpenTopoData:
		dataset := p.cfg.Dataset
		if dataset == "" {
			dataset = "aster30m"
		}
		u = fmt.Sprintf("%s/v1/%s?locations=%.6f,%.6f", p.cfg.Endpoint, url.PathEscape(dataset), lat, lon)
	case StyleOpenElevation:
		u = fmt.Sprintf("%s/api/v1/lookup?locations=%.6f,%.6f", p.cfg.Endpoint, lat, lon)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("provider %s: %w", p.cfg.Name, err)
	}
	if p.cfg.APIKey != "" && p.cfg.Style == StyleGPXZ {
		req.Header.Set("x-api-key", p.cfg.APIKey)
	}
	req.Header.Set("Accept", "application/json")
	return req, nil
}

func (p *HTTPProvider) parse(body []byte) (float64, error) {
	switch p.cfg.Style {
	case StyleGPXZ:
		var r struct {
			Result struct {
				Elevation *float64 `json:"elevation"`
			} `json:"result"`
		}
		if err := json.Unmarshal(body, &r); err != nil {
			return 0, fmt.Errorf("provider %s: decoding: %w", p.cfg.Name, err)
		}
		if r.Result.Elevation == nil {
			return 0, fmt.Errorf("%w: %s", ErrNoData, p.cfg.Name)
		}
		return *r.Result.Elevation, nil
	default:
		var r struct {
			Status  string `json:"status"`
			Results []struct {
				Elevation *float64 `json:"elevation"`
			} `json:"results"`
		}
		if err := json.Unmarshal(body, &r); err != nil {
			return 0, fmt.Errorf("provider %s: decoding: %w", p.cfg.Name, err)
		}
		if r.Status != "" && r.Status != "OK" {
			return 0, fmt.Errorf("provider %s: status %q", p.cfg.Name, r.Status)
		}
		if len(r.Results) == 0 || r.Results[0].Elevation == nil {
			return 0, fmt.Errorf("%w: %s", ErrNoData, p.cfg.Name)
		}
		return *r.Results[0].Elevation, nil
	}
}
