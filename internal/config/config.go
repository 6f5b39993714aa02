// Package config provides configuration for the record-layer server and tools.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/arkilian/recordlayer/internal/statistics"
)

// Config holds the configuration for every record-layer component.
type Config struct {
	// DataDir is the base directory for all data files
	DataDir string `json:"data_dir" yaml:"data_dir"`

	// HTTP configuration
	HTTP HTTPConfig `json:"http" yaml:"http"`

	// gRPC configuration (health and reflection only)
	GRPC GRPCConfig `json:"grpc" yaml:"grpc"`

	// Store configures the key-value store holding records and indexes
	Store StoreConfig `json:"store" yaml:"store"`

	// Manifest configures the metadata snapshot catalog
	Manifest ManifestConfig `json:"manifest" yaml:"manifest"`

	// Planner configuration
	Planner PlannerConfig `json:"planner" yaml:"planner"`

	// Statistics collection configuration
	Statistics StatisticsConfig `json:"statistics" yaml:"statistics"`

	// Archive configures where adopted snapshots are copied
	Archive ArchiveConfig `json:"archive" yaml:"archive"`

	// Log configuration
	Log LogConfig `json:"log" yaml:"log"`
}

// HTTPConfig holds HTTP server configuration.
type HTTPConfig struct {
	// Addr is the HTTP listen address
	Addr string `json:"addr" yaml:"addr"`

	// ReadTimeout is the HTTP read timeout
	ReadTimeout time.Duration `json:"read_timeout" yaml:"read_timeout"`

	// WriteTimeout is the HTTP write timeout
	WriteTimeout time.Duration `json:"write_timeout" yaml:"write_timeout"`

	// IdleTimeout is the HTTP idle timeout
	IdleTimeout time.Duration `json:"idle_timeout" yaml:"idle_timeout"`

	// ShutdownTimeout bounds graceful shutdown
	ShutdownTimeout time.Duration `json:"shutdown_timeout" yaml:"shutdown_timeout"`
}

// GRPCConfig holds gRPC server configuration.
type GRPCConfig struct {
	// Addr is the gRPC server address
	Addr string `json:"addr" yaml:"addr"`

	// Enabled controls whether gRPC is enabled
	Enabled bool `json:"enabled" yaml:"enabled"`
}

// StoreConfig holds key-value store configuration.
type StoreConfig struct {
	// Path is the bbolt file (default <data_dir>/records.db)
	Path string `json:"path" yaml:"path"`

	// TxTimeout bounds every transaction; zero means no deadline
	TxTimeout time.Duration `json:"tx_timeout" yaml:"tx_timeout"`

	// NoSync skips fsync on commit
	NoSync bool `json:"no_sync" yaml:"no_sync"`
}

// ManifestConfig holds catalog configuration.
type ManifestConfig struct {
	// Path is the SQLite catalog (default <data_dir>/manifest.db)
	Path string `json:"path" yaml:"path"`

	// Bootstrap, when set, is a snapshot JSON file adopted at startup
	Bootstrap string `json:"bootstrap" yaml:"bootstrap"`

	// AllowIndexRebuilds permits index format changes during adoption
	AllowIndexRebuilds bool `json:"allow_index_rebuilds" yaml:"allow_index_rebuilds"`
}

// PlannerConfig holds planner configuration.
type PlannerConfig struct {
	// FullScanThreshold is the selectivity at or above which a full scan wins
	FullScanThreshold float64 `json:"full_scan_threshold" yaml:"full_scan_threshold"`

	// PredicateWindow is how long predicate frequencies are kept
	PredicateWindow time.Duration `json:"predicate_window" yaml:"predicate_window"`
}

// StatisticsConfig holds statistics configuration.
type StatisticsConfig struct {
	// Defaults are the selectivities used without collected statistics
	Defaults statistics.Defaults `json:"defaults" yaml:"defaults"`

	// MaxAge is how long index statistics stay trusted
	MaxAge time.Duration `json:"max_age" yaml:"max_age"`

	// Buckets is the histogram bucket count
	Buckets int `json:"buckets" yaml:"buckets"`

	// ReservoirSize bounds the values kept per field while sampling
	ReservoirSize int `json:"reservoir_size" yaml:"reservoir_size"`

	// SampleRate is the default fraction of records sampled (0, 1]
	SampleRate float64 `json:"sample_rate" yaml:"sample_rate"`

	// ReadsPerSecond throttles sampling reads; zero disables throttling
	ReadsPerSecond float64 `json:"reads_per_second" yaml:"reads_per_second"`

	// CollectInterval, when non-zero, recollects every record type periodically
	CollectInterval time.Duration `json:"collect_interval" yaml:"collect_interval"`
}

// ArchiveConfig holds snapshot archive configuration.
type ArchiveConfig struct {
	// Type is the storage type: none, local, s3
	Type string `json:"type" yaml:"type"`

	// Path is the local storage path (for local type)
	Path string `json:"path" yaml:"path"`

	// Prefix is prepended to every archived object
	Prefix string `json:"prefix" yaml:"prefix"`

	// S3 configuration (for s3 type)
	S3 S3Config `json:"s3" yaml:"s3"`
}

// S3Config holds S3 storage configuration.
type S3Config struct {
	// Bucket is the S3 bucket name
	Bucket string `json:"bucket" yaml:"bucket"`

	// Region is the AWS region
	Region string `json:"region" yaml:"region"`

	// Endpoint is the S3 endpoint (for S3-compatible storage)
	Endpoint string `json:"endpoint" yaml:"endpoint"`

	// UsePathStyle enables path-style addressing
	UsePathStyle bool `json:"use_path_style" yaml:"use_path_style"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	// Level is one of debug, info, warn, error
	Level string `json:"level" yaml:"level"`

	// Format is text or json
	Format string `json:"format" yaml:"format"`
}

// DefaultConfig returns the default configuration for local development.
func DefaultConfig() *Config {
	def := statistics.DefaultOptions()
	return &Config{
		DataDir: "./data/recordlayer",
		HTTP: HTTPConfig{
			Addr:            ":8080",
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    60 * time.Second,
			IdleTimeout:     120 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		GRPC: GRPCConfig{
			Addr:    ":9090",
			Enabled: true,
		},
		Store: StoreConfig{
			TxTimeout: 30 * time.Second,
		},
		Planner: PlannerConfig{
			FullScanThreshold: 0.95,
			PredicateWindow:   time.Hour,
		},
		Statistics: StatisticsConfig{
			Defaults:      def.Defaults,
			MaxAge:        def.MaxAge,
			Buckets:       def.TableBuckets,
			ReservoirSize: def.FieldSampleSize,
			SampleRate:    1.0,
		},
		Archive: ArchiveConfig{
			Type: "none",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Resolve resolves relative paths and sets defaults based on DataDir.
func (c *Config) Resolve() {
	if c.DataDir == "" {
		c.DataDir = "./data/recordlayer"
	}
	if c.Store.Path == "" {
		c.Store.Path = filepath.Join(c.DataDir, "records.db")
	}
	if c.Manifest.Path == "" {
		c.Manifest.Path = filepath.Join(c.DataDir, "manifest.db")
	}
	if c.Archive.Type == "local" && c.Archive.Path == "" {
		c.Archive.Path = filepath.Join(c.DataDir, "archive")
	}
}

// StatisticsOptions converts the statistics section for the manager.
func (c *Config) StatisticsOptions() statistics.Options {
	opts := statistics.DefaultOptions()
	opts.Defaults = c.Statistics.Defaults
	opts.MaxAge = c.Statistics.MaxAge
	opts.TableBuckets = c.Statistics.Buckets
	opts.FieldSampleSize = c.Statistics.ReservoirSize
	opts.ReadsPerSecond = c.Statistics.ReadsPerSecond
	return opts
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("data_dir is required")
	}
	if c.HTTP.Addr == "" {
		return fmt.Errorf("http.addr is required")
	}
	if c.Planner.FullScanThreshold <= 0 || c.Planner.FullScanThreshold > 1 {
		return fmt.Errorf("planner.full_scan_threshold must be in (0, 1], got %g", c.Planner.FullScanThreshold)
	}
	if c.Statistics.SampleRate <= 0 || c.Statistics.SampleRate > 1 {
		return fmt.Errorf("statistics.sample_rate must be in (0, 1], got %g", c.Statistics.SampleRate)
	}
	if c.Statistics.Buckets < 0 {
		return fmt.Errorf("statistics.buckets must not be negative, got %d", c.Statistics.Buckets)
	}
	for name, v := range map[string]float64{
		"equality":   c.Statistics.Defaults.Equality,
		"range":      c.Statistics.Defaults.Range,
		"cold_start": c.Statistics.Defaults.ColdStart,
	} {
		if v < 0 || v > 1 {
			return fmt.Errorf("statistics.defaults.%s must be in [0, 1], got %g", name, v)
		}
	}

	switch c.Archive.Type {
	case "", "none", "local":
	case "s3":
		if c.Archive.S3.Bucket == "" {
			return fmt.Errorf("archive.s3.bucket is required when archive type is s3")
		}
	default:
		return fmt.Errorf("invalid archive type: %s (must be none, local or s3)", c.Archive.Type)
	}

	switch strings.ToLower(c.Log.Format) {
	case "", "text", "json":
	default:
		return fmt.Errorf("invalid log format: %s (must be text or json)", c.Log.Format)
	}
	return nil
}

// LoadFromFile loads configuration from a YAML or JSON file.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()

	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse YAML config: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse JSON config: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported config file format: %s", ext)
	}

	return cfg, nil
}

// Load reads path when set, otherwise starts from DefaultConfig, then
// applies environment overrides.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		var err error
		if cfg, err = LoadFromFile(path); err != nil {
			return nil, err
		}
	}
	LoadFromEnv(cfg)
	return cfg, nil
}

// LoadFromEnv loads configuration from environment variables.
// Environment variables use the RECORDLAYER_ prefix; malformed numbers and
// durations are ignored.
func LoadFromEnv(cfg *Config) {
	str := func(name string, dst *string) {
		if v := os.Getenv("RECORDLAYER_" + name); v != "" {
			*dst = v
		}
	}
	boolean := func(name string, dst *bool) {
		if v := os.Getenv("RECORDLAYER_" + name); v != "" {
			*dst = v == "true" || v == "1"
		}
	}
	integer := func(name string, dst *int) {
		if n, err := strconv.Atoi(os.Getenv("RECORDLAYER_" + name)); err == nil {
			*dst = n
		}
	}
	float := func(name string, dst *float64) {
		if f, err := strconv.ParseFloat(os.Getenv("RECORDLAYER_"+name), 64); err == nil {
			*dst = f
		}
	}
	duration := func(name string, dst *time.Duration) {
		if d, err := time.ParseDuration(os.Getenv("RECORDLAYER_" + name)); err == nil {
			*dst = d
		}
	}

	str("DATA_DIR", &cfg.DataDir)

	// HTTP and gRPC
	str("HTTP_ADDR", &cfg.HTTP.Addr)
	str("GRPC_ADDR", &cfg.GRPC.Addr)
	boolean("GRPC_ENABLED", &cfg.GRPC.Enabled)

	// Store and manifest
	str("STORE_PATH", &cfg.Store.Path)
	duration("STORE_TX_TIMEOUT", &cfg.Store.TxTimeout)
	str("MANIFEST_PATH", &cfg.Manifest.Path)
	str("MANIFEST_BOOTSTRAP", &cfg.Manifest.Bootstrap)

	// Planner and statistics
	float("PLANNER_FULL_SCAN_THRESHOLD", &cfg.Planner.FullScanThreshold)
	float("STATISTICS_SAMPLE_RATE", &cfg.Statistics.SampleRate)
	float("STATISTICS_READS_PER_SECOND", &cfg.Statistics.ReadsPerSecond)
	integer("STATISTICS_BUCKETS", &cfg.Statistics.Buckets)
	duration("STATISTICS_MAX_AGE", &cfg.Statistics.MaxAge)
	duration("STATISTICS_COLLECT_INTERVAL", &cfg.Statistics.CollectInterval)

	// Archive
	str("ARCHIVE_TYPE", &cfg.Archive.Type)
	str("ARCHIVE_PATH", &cfg.Archive.Path)
	str("ARCHIVE_PREFIX", &cfg.Archive.Prefix)
	str("S3_BUCKET", &cfg.Archive.S3.Bucket)
	str("S3_REGION", &cfg.Archive.S3.Region)
	str("S3_ENDPOINT", &cfg.Archive.S3.Endpoint)

	// Logging
	str("LOG_LEVEL", &cfg.Log.Level)
	str("LOG_FORMAT", &cfg.Log.Format)
}

// EnsureDirectories creates all required directories.
func (c *Config) EnsureDirectories() error {
	dirs := []string{
		c.DataDir,
		filepath.Dir(c.Store.Path),
		filepath.Dir(c.Manifest.Path),
	}
	if c.Archive.Type == "local" {
		dirs = append(dirs, c.Archive.Path)
	}

	for _, dir := range dirs {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	return nil
}
