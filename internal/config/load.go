package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v2"
)

// DefaultConfigFile is read when RCP_CONFIG is not set.
const DefaultConfigFile = "rcp.yaml"

// Load merges LoadBaseline() + optional YAML file + RCP_* env overrides, then
// loads the robot catalog and validates the result.
func Load() (*Config, error) {
	path := GetEnvVar("RCP_CONFIG", DefaultConfigFile)
	return LoadFrom(path)
}

// LoadFrom is Load with an explicit config file path. A missing file is not an error.
func LoadFrom(path string) (*Config, error) {
	cfg := LoadBaseline()

	if err := loadFromFile(cfg, path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load %s: %w", path, err)
	}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to apply environment overrides: %w", err)
	}

	catalog, err := LoadCatalog(cfg.CatalogPath)
	switch {
	case err == nil:
		cfg.Catalog = catalog
	case errors.Is(err, fs.ErrNotExist):
		cfg.Catalog = DefaultCatalog()
	default:
		return nil, fmt.Errorf("failed to load robot catalog: %w", err)
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// loadFromFile overlays YAML values onto cfg; absent keys keep their current value.
func loadFromFile(cfg *Config, filename string) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, cfg)
}

// GetEnvVar returns the value of an environment variable with a default.
func GetEnvVar(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
