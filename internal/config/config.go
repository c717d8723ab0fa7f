// Package config loads the process-wide engine configuration. Defaults
// match the spec's constructor defaults; a YAML file, when present,
// overlays them, mirroring the yaml.v3 fixture-loading style used by the
// storage engine's test helpers.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

const (
	DefaultPageSize         = 4096
	DefaultBufferPoolPages  = 50
	DefaultHistogramBuckets = 100
	MinHistogramBuckets     = 100
)

// Config is the process-wide set of tunables. PageSize is effectively fixed
// for the lifetime of any on-disk files created under it; changing it
// across runs invalidates existing data. HistogramBuckets only shapes the
// in-memory statistics and can change freely between runs.
type Config struct {
	PageSize         int    `yaml:"page_size"`
	BufferPoolPages  int    `yaml:"buffer_pool_pages"`
	HistogramBuckets int    `yaml:"histogram_buckets"`
	DataDir          string `yaml:"data_dir"`
	LogLevel         string `yaml:"log_level"`
}

// DefaultConfig returns the spec's defaults: 4096-byte pages, a 50-page
// pool, and 100 histogram buckets.
func DefaultConfig() *Config {
	return &Config{
		PageSize:         DefaultPageSize,
		BufferPoolPages:  DefaultBufferPoolPages,
		HistogramBuckets: DefaultHistogramBuckets,
		DataDir:          ".",
		LogLevel:         "info",
	}
}

// Load reads a YAML file and overlays it onto DefaultConfig. A missing
// file is not an error — Load simply returns the defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("config: read %q: %w", path, err)
	}
	if err := yaml.Unmarshal(b, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate enforces the invariants the rest of the engine assumes.
func (c *Config) Validate() error {
	if c.PageSize <= 0 {
		return fmt.Errorf("config: page_size must be positive, got %d", c.PageSize)
	}
	if c.BufferPoolPages <= 0 {
		return fmt.Errorf("config: buffer_pool_pages must be positive, got %d", c.BufferPoolPages)
	}
	if c.HistogramBuckets < MinHistogramBuckets {
		return fmt.Errorf("config: histogram_buckets must be >= %d, got %d", MinHistogramBuckets, c.HistogramBuckets)
	}
	return nil
}
