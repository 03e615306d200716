// Package config loads Arbiter configuration from YAML and the environment.
//
// Loading starts from the tier defaults (domain.DefaultConfig or
// domain.ProConfig), overlays the YAML file if one is given, then applies
// ARBITER_* environment overrides, and finally validates the result.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/opensource-finance/arbiter/internal/domain"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "ARBITER_"

// Load reads configuration from path. An empty path uses defaults and the
// environment only.
func Load(path string) (*domain.Config, error) {
	var data []byte
	if path != "" {
		var err error
		data, err = os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read configuration file %q: %w", path, err)
		}
	}

	cfg, err := Parse(data)
	if err != nil {
		if path != "" {
			return nil, fmt.Errorf("configuration file %q: %w", path, err)
		}
		return nil, err
	}
	return cfg, nil
}

// Parse builds a configuration from YAML bytes, which may be empty.
func Parse(data []byte) (*domain.Config, error) {
	tier := domain.Tier(os.Getenv(EnvPrefix + "TIER"))
	if tier == "" && len(data) > 0 {
		var peek struct {
			Tier domain.Tier `yaml:"tier"`
		}
		if err := yaml.Unmarshal(data, &peek); err != nil {
			return nil, fmt.Errorf("failed to parse configuration: %w", err)
		}
		tier = peek.Tier
	}

	cfg := Defaults(tier)
	if len(data) > 0 {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse configuration: %w", err)
		}
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// Defaults returns the base configuration for a tier.
func Defaults(tier domain.Tier) *domain.Config {
	if tier == domain.TierPro {
		return domain.ProConfig()
	}
	return domain.DefaultConfig()
}

// Marshal renders a configuration as YAML.
func Marshal(cfg *domain.Config) ([]byte, error) {
	return yaml.Marshal(cfg)
}
