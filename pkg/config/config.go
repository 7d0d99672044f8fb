// Package config loads walkfilter settings.
//
// Values come from, in increasing priority: built-in defaults, a YAML file
// ($WALKFILTER_CONFIG or ./walkfilter.yaml), WALKFILTER_* environment
// variables, and finally command-line flags applied by the binaries.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"walkfilter/pkg/graph"
)

// DefaultPath is read when $WALKFILTER_CONFIG is unset.
const DefaultPath = "./walkfilter.yaml"

// Config is the full service configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	Analyze  AnalyzeConfig  `yaml:"analyze"`
	Compact  CompactConfig  `yaml:"compact"`
}

type ServerConfig struct {
	Addr          string        `yaml:"addr"`
	QueryTimeout  time.Duration `yaml:"query_timeout"`
	MaxConcurrent int           `yaml:"max_concurrent"`
	CORSOrigin    string        `yaml:"cors_origin"`
}

type DatabaseConfig struct {
	Path           string        `yaml:"path"`
	MaxConns       int           `yaml:"max_conns"`
	AcquireTimeout time.Duration `yaml:"acquire_timeout"`
}

// RedisConfig enables the graph cache when Addr is set.
type RedisConfig struct {
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	GraphTTL time.Duration `yaml:"graph_ttl"`
}

type AnalyzeConfig struct {
	CandidateCategory string  `yaml:"candidate_category"`
	FetchWorkers      int     `yaml:"fetch_workers"`
	MaxSnapMeters     float64 `yaml:"max_snap_meters"`
}

type CompactConfig struct {
	MinEdgeLength      float64 `yaml:"min_edge_length"`
	CoordinateDecimals *int    `yaml:"coordinate_decimals"`
	SimplifyTolerance  float64 `yaml:"simplify_tolerance"`
	KeepGeometry       bool    `yaml:"keep_geometry"`
}

// Options converts the section to graph.CompactOptions.
func (c CompactConfig) Options() graph.CompactOptions {
	opts := graph.DefaultCompactOptions()
	opts.MinEdgeLength = c.MinEdgeLength
	if c.CoordinateDecimals != nil {
		opts.CoordinateDecimals = *c.CoordinateDecimals
	}
	opts.SimplifyTolerance = c.SimplifyTolerance
	opts.KeepGeometry = c.KeepGeometry
	return opts
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// Load reads the config file if one exists, then applies environment
// overrides.
func Load() (*Config, string, error) {
	path := os.Getenv("WALKFILTER_CONFIG")
	if path == "" {
		if _, err := os.Stat(DefaultPath); err == nil {
			path = DefaultPath
		}
	}

	cfg := DefaultConfig()
	if path != "" {
		var err error
		if cfg, _, err = LoadFromPath(path); err != nil {
			return nil, path, err
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, path, err
	}
	return cfg, path, nil
}

// LoadFromPath loads config from a specific path. Environment overrides
// are not applied.
func LoadFromPath(path string) (*Config, string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, path, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, path, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyDefaults()

	return &cfg, path, nil
}

// applyDefaults fills in missing values with defaults
func (c *Config) applyDefaults() {
	if c.Server.Addr == "" {
		c.Server.Addr = ":8080"
	}
	if c.Server.QueryTimeout <= 0 {
		c.Server.QueryTimeout = 10 * time.Second
	}

	if c.Database.Path == "" {
		c.Database.Path = "./walkfilter.db"
	}
	if c.Database.MaxConns <= 0 {
		c.Database.MaxConns = 4
	}
	if c.Database.AcquireTimeout <= 0 {
		c.Database.AcquireTimeout = 100 * time.Millisecond
	}

	if c.Redis.GraphTTL <= 0 {
		c.Redis.GraphTTL = time.Hour
	}

	if c.Analyze.CandidateCategory == "" {
		c.Analyze.CandidateCategory = "apartment"
	}
	if c.Analyze.FetchWorkers <= 0 {
		c.Analyze.FetchWorkers = 3
	}

	def := graph.DefaultCompactOptions()
	if c.Compact.MinEdgeLength <= 0 {
		c.Compact.MinEdgeLength = def.MinEdgeLength
	}
	if c.Compact.CoordinateDecimals == nil {
		d := def.CoordinateDecimals
		c.Compact.CoordinateDecimals = &d
	}
	if c.Compact.SimplifyTolerance <= 0 {
		c.Compact.SimplifyTolerance = def.SimplifyTolerance
	}
}

// Validate reports settings that cannot work together.
func (c *Config) Validate() error {
	if c.Analyze.FetchWorkers >= c.Database.MaxConns {
		return fmt.Errorf("analyze.fetch_workers (%d) must be below database.max_conns (%d)",
			c.Analyze.FetchWorkers, c.Database.MaxConns)
	}
	if c.Analyze.MaxSnapMeters < 0 {
		return errors.New("analyze.max_snap_meters must not be negative")
	}
	return nil
}

func (c *Config) applyEnv() error {
	c.Server.Addr = envOrDefault("WALKFILTER_ADDR", c.Server.Addr)
	c.Database.Path = envOrDefault("WALKFILTER_DB_PATH", c.Database.Path)
	c.Redis.Addr = envOrDefault("WALKFILTER_REDIS_ADDR", c.Redis.Addr)
	c.Redis.Password = envOrDefault("WALKFILTER_REDIS_PASSWORD", c.Redis.Password)
	c.Analyze.CandidateCategory = envOrDefault("WALKFILTER_CANDIDATE_CATEGORY", c.Analyze.CandidateCategory)

	if v := os.Getenv("WALKFILTER_QUERY_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid WALKFILTER_QUERY_TIMEOUT: %w", err)
		}
		c.Server.QueryTimeout = d
	}
	if v := os.Getenv("WALKFILTER_DB_MAX_CONNS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid WALKFILTER_DB_MAX_CONNS: %w", err)
		}
		c.Database.MaxConns = n
	}
	if v := os.Getenv("WALKFILTER_MAX_SNAP_METERS"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("invalid WALKFILTER_MAX_SNAP_METERS: %w", err)
		}
		c.Analyze.MaxSnapMeters = f
	}
	return nil
}

func envOrDefault(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}
