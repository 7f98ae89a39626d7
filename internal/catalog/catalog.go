// Package catalog loads the elevation-source configuration document:
// the ordered set of object-storage datasets and HTTP providers a
// deployment queries.
package catalog

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/MeKo-Tech/elevationmap/internal/geo"
)

// SourceType distinguishes stored datasets from external APIs.
type SourceType string

const (
	SourceObjectStorage SourceType = "object-storage"
	SourceHTTPAPI       SourceType = "http-api"
)

// SourceDescriptor configures one elevation source. Every field below
// except Metadata is required; startup rejects documents with gaps so
// misconfiguration surfaces before serving.
type SourceDescriptor struct {
	ID           string            `json:"id" yaml:"id"`
	Type         SourceType        `json:"type" yaml:"type"`
	Path         string            `json:"path,omitempty" yaml:"path,omitempty"`
	Endpoint     string            `json:"endpoint,omitempty" yaml:"endpoint,omitempty"`
	CRS          string            `json:"crs" yaml:"crs"`
	ResolutionM  float64           `json:"resolution_m" yaml:"resolution_m"`
	Bounds       geo.Bounds        `json:"bounds" yaml:"bounds"`
	Priority     int               `json:"priority" yaml:"priority"`
	CostPerQuery float64           `json:"cost_per_query" yaml:"cost_per_query"`
	Enabled      bool              `json:"enabled" yaml:"enabled"`
	Metadata     map[string]string `json:"metadata,omitempty" yaml:"metadata,omitempty"`
}

// Catalog is the parsed configuration document.
type Catalog struct {
	SchemaVersion    string             `json:"schema_version" yaml:"schema_version"`
	LastUpdated      string             `json:"last_updated" yaml:"last_updated"`
	ElevationSources []SourceDescriptor `json:"elevation_sources" yaml:"elevation_sources"`
}

// Load reads and validates a catalog file. The extension picks the
// codec: .json parses as JSON, everything else as YAML.
func Load(path string) (*Catalog, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("catalog: reading %s: %w", path, err)
	}

	var c Catalog
	if strings.EqualFold(filepath.Ext(path), ".json") {
		err = json.Unmarshal(raw, &c)
	} else {
		err = yaml.Unmarshal(raw, &c)
	}
	if err != nil {
		return nil, fmt.Errorf("catalog: parsing %s: %w", path, err)
	}

	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("catalog: %s: %w", path, err)
	}
	return &c, nil
}

// Validate enforces the required-field contract on every descriptor.
func (c *Catalog) Validate() error {
	if c.SchemaVersion == "" {
		return fmt.Errorf("schema_version is required")
	}
	seen := map[string]bool{}
	for i, s := range c.ElevationSources {
		if err := s.validate(); err != nil {
			return fmt.Errorf("elevation_sources[%d] (%q): %w", i, s.ID, err)
		}
		if seen[s.ID] {
			return fmt.Errorf("elevation_sources[%d]: duplicate id %q", i, s.ID)
		}
		seen[s.ID] = true
	}
	return nil
}

func (s *SourceDescriptor) validate() error {
	if s.ID == "" {
		return fmt.Errorf("id is required")
	}
	switch s.Type {
	case SourceObjectStorage:
		if s.Path == "" {
			return fmt.Errorf("path is required for object-storage sources")
		}
	case SourceHTTPAPI:
		if s.Endpoint == "" {
			return fmt.Errorf("endpoint is required for http-api sources")
		}
	default:
		return fmt.Errorf("unknown type %q", s.Type)
	}
	if s.CRS == "" {
		return fmt.Errorf("crs is required")
	}
	if s.ResolutionM <= 0 {
		return fmt.Errorf("resolution_m must be positive")
	}
	if err := s.Bounds.Validate(); err != nil {
		return fmt.Errorf("bounds: %w", err)
	}
	if s.Bounds.IsZero() {
		return fmt.Errorf("bounds are required")
	}
	if s.Priority <= 0 {
		return fmt.Errorf("priority is required")
	}
	if s.CostPerQuery < 0 {
		return fmt.Errorf("cost_per_query must not be negative")
	}
	return nil
}

// Providers returns the enabled http-api descriptors ordered by
// priority, which fixes the fallback chain order.
func (c *Catalog) Providers() []SourceDescriptor {
	var out []SourceDescriptor
	for _, s := range c.ElevationSources {
		if s.Type == SourceHTTPAPI && s.Enabled {
			out = append(out, s)
		}
	}
	sortByPriority(out)
	return out
}

// Storage returns the enabled object-storage descriptors ordered by
// priority.
func (c *Catalog) Storage() []SourceDescriptor {
	var out []SourceDescriptor
	for _, s := range c.ElevationSources {
		if s.Type == SourceObjectStorage && s.Enabled {
			out = append(out, s)
		}
	}
	sortByPriority(out)
	return out
}

// Source looks a descriptor up by id.
func (c *Catalog) Source(id string) (SourceDescriptor, bool) {
	for _, s := range c.ElevationSources {
		if s.ID == id {
			return s, true
		}
	}
	return SourceDescriptor{}, false
}

func sortByPriority(ss []SourceDescriptor) {
	sort.SliceStable(ss, func(i, j int) bool {
		if ss[i].Priority != ss[j].Priority {
			return ss[i].Priority < ss[j].Priority
		}
		return ss[i].ID < ss[j].ID
	})
}
