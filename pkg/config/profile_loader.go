package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Profile is a named session profile loaded from YAML. Fields set in a
// profile override the environment-derived configuration.
type Profile struct {
	Name             string  `yaml:"name" json:"name"`
	StoreBackend     string  `yaml:"store_backend,omitempty" json:"store_backend,omitempty"`
	StorePath        string  `yaml:"store_path,omitempty" json:"store_path,omitempty"`
	DatabaseURL      string  `yaml:"database_url,omitempty" json:"database_url,omitempty"`
	DefaultTactic    string  `yaml:"default_tactic,omitempty" json:"default_tactic,omitempty"`
	DeferredChecking *bool   `yaml:"deferred_checking,omitempty" json:"deferred_checking,omitempty"`
	VerifyRatePerSec float64 `yaml:"verify_rate_per_sec,omitempty" json:"verify_rate_per_sec,omitempty"`
	// Libraries lists required support libraries and their version
	// constraints, checked before program mode is used.
	Libraries []LibraryRequirement `yaml:"libraries,omitempty" json:"libraries,omitempty"`
}

// LibraryRequirement names a support library and the semver constraint
// its installed version must satisfy.
type LibraryRequirement struct {
	Name       string `yaml:"name" json:"name"`
	Constraint string `yaml:"constraint" json:"constraint"`
}

// LoadProfile reads a YAML profile from path.
func LoadProfile(path string) (*Profile, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read profile %s: %w", path, err)
	}
	var p Profile
	if err := yaml.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("failed to parse profile %s: %w", path, err)
	}
	if p.Name == "" {
		return nil, fmt.Errorf("profile %s has no name", path)
	}
	return &p, nil
}

// Apply overlays the profile onto cfg.
func (p *Profile) Apply(cfg *Config) {
	if p.StoreBackend != "" {
		cfg.StoreBackend = p.StoreBackend
	}
	if p.StorePath != "" {
		cfg.StorePath = p.StorePath
	}
	if p.DatabaseURL != "" {
		cfg.DatabaseURL = p.DatabaseURL
	}
	if p.DefaultTactic != "" {
		cfg.DefaultTactic = p.DefaultTactic
	}
	if p.DeferredChecking != nil {
		cfg.DeferredChecking = *p.DeferredChecking
	}
	if p.VerifyRatePerSec > 0 {
		cfg.VerifyRatePerSec = p.VerifyRatePerSec
	}
}
