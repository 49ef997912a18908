package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// Load reads the file at path over Default and validates the result. The
// format follows the extension: .yaml, .yml, .toml or .json.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	cfg, err := Parse(data, filepath.Ext(path))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes data in the format named by ext over Default. List values
// present in data replace the default lists instead of merging with them.
func Parse(data []byte, ext string) (*Config, error) {
	defaults := Default()
	cfg := defaults
	cfg.Classes = nil
	cfg.Replication.DynamicFrequency.Zones = nil
	cfg.Replication.Buckets.Thresholds = nil
	cfg.Replication.Grid.DynamicBuckets.Thresholds = nil

	var err error
	switch strings.ToLower(strings.TrimPrefix(ext, ".")) {
	case "yaml", "yml":
		err = yaml.Unmarshal(data, &cfg)
	case "toml":
		err = toml.Unmarshal(data, &cfg)
	case "json":
		err = json.Unmarshal(data, &cfg)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, ext)
	}
	if err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if cfg.Classes == nil {
		cfg.Classes = defaults.Classes
	}
	if cfg.Replication.DynamicFrequency.Zones == nil {
		cfg.Replication.DynamicFrequency.Zones = defaults.Replication.DynamicFrequency.Zones
	}
	if cfg.Replication.Buckets.Thresholds == nil {
		cfg.Replication.Buckets.Thresholds = defaults.Replication.Buckets.Thresholds
	}
	if cfg.Replication.Grid.DynamicBuckets.Thresholds == nil {
		cfg.Replication.Grid.DynamicBuckets.Thresholds = defaults.Replication.Grid.DynamicBuckets.Thresholds
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}
