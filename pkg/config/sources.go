package config

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/preventera/safetygraph/pkg/apperrors"
)

// SourceType identifies which connector variant serves a source.
type SourceType string

const (
	SourceAPI         SourceType = "api"
	SourceBulkFile    SourceType = "bulk-file"
	SourceDatasetRepo SourceType = "dataset-repository"
	SourceSDMX        SourceType = "statistical-exchange"
)

// Valid reports whether t is a known source type.
func (t SourceType) Valid() bool {
	switch t {
	case SourceAPI, SourceBulkFile, SourceDatasetRepo, SourceSDMX:
		return true
	}
	return false
}

// SourceConfig describes one upstream data provider. Instances are
// created once at load time and never mutated afterwards.
type SourceConfig struct {
	Key          string            `yaml:"-"` // map key in sources.yaml
	Name         string            `yaml:"name"`
	Type         SourceType        `yaml:"type"`
	URL          string            `yaml:"url"`
	Format       string            `yaml:"format"` // csv, json, jsonstat
	Jurisdiction string            `yaml:"jurisdiction"`
	CodeSystem   string            `yaml:"code_system"`        // NAICS, NACE_REV2, SCIAN, NAF, ISIC
	InjurySys    string            `yaml:"injury_code_system"` // defaults to OSHA nature/part coding
	Priority     int               `yaml:"priority"`    // lower = more critical
	Enabled      bool              `yaml:"enabled"`
	Schedule     string            `yaml:"schedule"` // consumed by external schedulers only
	RateLimit    int               `yaml:"rate_limit"` // requests per minute, 0 = unlimited
	APIKeyEnv    string            `yaml:"api_key_env"`
	FieldMapping map[string]string `yaml:"fields_mapping"` // source column -> canonical column
	Metadata     map[string]string `yaml:"metadata"`       // connector-specific extras (request payload, resource format)
}

// Meta returns a metadata value, or "" when unset.
func (c *SourceConfig) Meta(key string) string {
	return c.Metadata[key]
}

// InjurySystem returns the coding system used for the source's injury
// and body-part columns. OSHA's nature and part-of-body coding is the
// catalog default.
func (c *SourceConfig) InjurySystem() string {
	if c.InjurySys != "" {
		return c.InjurySys
	}
	return "OSHA"
}

// APIKey resolves the source's API key from the environment, if the
// source declares one.
func (c *SourceConfig) APIKey() string {
	if c.APIKeyEnv == "" {
		return ""
	}
	return os.Getenv(c.APIKeyEnv)
}

// Registry is the immutable set of configured sources, constructed
// once at process start and passed by reference into the orchestrator.
type Registry struct {
	sources map[string]*SourceConfig
}

// LoadSources reads and validates the source registry document.
func LoadSources(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &apperrors.ConfigError{Reason: fmt.Sprintf("cannot read %s: %v", path, err)}
	}

	var raw map[string]*SourceConfig
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, &apperrors.ConfigError{Reason: fmt.Sprintf("cannot parse %s: %v", path, err)}
	}
	if len(raw) == 0 {
		return nil, &apperrors.ConfigError{Reason: fmt.Sprintf("%s defines no sources", path)}
	}

	for key, sc := range raw {
		sc.Key = key
		if err := validateSource(sc); err != nil {
			return nil, err
		}
	}

	return &Registry{sources: raw}, nil
}

// NewRegistry builds a registry from already-constructed configs.
// Used by tests and embedded setups.
func NewRegistry(configs ...*SourceConfig) (*Registry, error) {
	sources := make(map[string]*SourceConfig, len(configs))
	for _, sc := range configs {
		if _, dup := sources[sc.Key]; dup {
			return nil, &apperrors.ConfigError{Key: sc.Key, Reason: "duplicate source key"}
		}
		if err := validateSource(sc); err != nil {
			return nil, err
		}
		sources[sc.Key] = sc
	}
	return &Registry{sources: sources}, nil
}

func validateSource(sc *SourceConfig) error {
	if sc.Key == "" {
		return &apperrors.ConfigError{Reason: "source with empty key"}
	}
	if !sc.Type.Valid() {
		return &apperrors.ConfigError{Key: sc.Key, Reason: fmt.Sprintf("unknown source type %q", sc.Type)}
	}
	if sc.URL == "" {
		return &apperrors.ConfigError{Key: sc.Key, Reason: "missing url"}
	}
	if len(sc.FieldMapping) == 0 {
		return &apperrors.ConfigError{Key: sc.Key, Reason: "missing fields_mapping"}
	}
	// The field mapping is validated at load time rather than at
	// transform time: a source that cannot produce the incident_id
	// column is misconfigured, not merely incomplete.
	mapped := make(map[string]bool, len(sc.FieldMapping))
	for _, canonical := range sc.FieldMapping {
		mapped[canonical] = true
	}
	if !mapped["incident_id"] {
		return &apperrors.ConfigError{Key: sc.Key, Reason: "fields_mapping has no column mapped to incident_id"}
	}
	if sc.Priority < 1 {
		sc.Priority = 1
	}
	return nil
}

// Get returns the config for a source key.
func (r *Registry) Get(key string) (*SourceConfig, error) {
	sc, ok := r.sources[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", apperrors.ErrSourceNotFound, key)
	}
	return sc, nil
}

// All returns every configured source ordered by priority, then key.
func (r *Registry) All() []*SourceConfig {
	out := make([]*SourceConfig, 0, len(r.sources))
	for _, sc := range r.sources {
		out = append(out, sc)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority < out[j].Priority
		}
		return out[i].Key < out[j].Key
	})
	return out
}

// Enabled returns enabled sources with Priority <= threshold, ordered
// by priority. Lower priority values are more critical.
func (r *Registry) Enabled(priorityThreshold int) []*SourceConfig {
	var out []*SourceConfig
	for _, sc := range r.All() {
		if sc.Enabled && sc.Priority <= priorityThreshold {
			out = append(out, sc)
		}
	}
	return out
}

// Len returns the number of configured sources.
func (r *Registry) Len() int { return len(r.sources) }
