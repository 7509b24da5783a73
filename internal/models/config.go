// Package models - Client configuration and operational settings.
// This file defines the configuration structures for every component of the
// music client and CLI.
//
// Configuration Philosophy:
// - Hierarchical configuration with logical grouping (api, download, storage, etc.)
// - Defaults that work out of the box against the public API
// - Validation to catch misconfigurations before any request is sent
// - Quotas are not configurable: they follow the tier encoded in the API token
package models

import (
	"errors"
	"fmt"
	"net/url"
	"time"
)

// Storage type constants
const (
	StorageTypeJSON     = "json"
	StorageTypeMemory   = "memory"
	StorageTypePostgres = "postgres"
	StorageTypeSQLite   = "sqlite"
)

// Cache type constants
const (
	CacheTypeMemory = "memory"
	CacheTypeRedis  = "redis"
)

// DefaultBaseURL is the public music API endpoint.
const DefaultBaseURL = "https://music.martmists.com"

// Config is the root configuration structure containing all client settings.
//
// Configuration Structure:
// - API: Endpoint and credentials
// - Download: Where and how fast songs are saved
// - Storage: Catalog of completed downloads
// - Cache: Search result caching
// - Logging: Structured logging and output configuration
// - Metrics/Observability: Monitoring and tracing
type Config struct {
	ConfigVersion string              `yaml:"config_version,omitempty" json:"config_version,omitempty"` // Schema version of the file
	API           APIConfig           `yaml:"api" json:"api"`                                           // Music API endpoint and credentials
	Download      DownloadConfig      `yaml:"download" json:"download"`                                 // Download destination and throttling
	Storage       StorageConfig       `yaml:"storage" json:"storage"`                                   // Download catalog persistence
	Cache         CacheConfig         `yaml:"cache" json:"cache"`                                       // Search result caching
	Logging       LoggingConfig       `yaml:"logging" json:"logging"`                                   // Logging and output configuration
	Metrics       MetricsConfig       `yaml:"metrics" json:"metrics"`                                   // Prometheus metrics endpoint
	Observability ObservabilityConfig `yaml:"observability" json:"observability"`                       // Tracing
}

type APIConfig struct {
	BaseURL   string        `yaml:"base_url" json:"base_url"`
	Token     string        `yaml:"token" json:"-"`
	Timeout   time.Duration `yaml:"timeout" json:"timeout"`
	UserAgent string        `yaml:"user_agent" json:"user_agent"`
}

type DownloadConfig struct {
	Directory         string `yaml:"directory" json:"directory"`
	MaxBytesPerSecond int    `yaml:"max_bytes_per_second" json:"max_bytes_per_second"` // 0 disables throttling
	Concurrency       int    `yaml:"concurrency" json:"concurrency"`                   // Parallel downloads when fetching several songs
}

type StorageConfig struct {
	Type     string         `yaml:"type" json:"type"`
	Path     string         `yaml:"path" json:"path"`
	Database DatabaseConfig `yaml:"database" json:"database"`
}

type DatabaseConfig struct {
	DSN             string        `yaml:"dsn" json:"dsn"`
	MaxOpenConns    int           `yaml:"max_open_conns" json:"max_open_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" json:"conn_max_lifetime"`
}

type CacheConfig struct {
	Enabled bool          `yaml:"enabled" json:"enabled"`
	Type    string        `yaml:"type" json:"type"`
	TTL     time.Duration `yaml:"ttl" json:"ttl"`
	Redis   RedisConfig   `yaml:"redis" json:"redis"`
	Memory  MemoryConfig  `yaml:"memory" json:"memory"`
}

type RedisConfig struct {
	Addr      string `yaml:"addr" json:"addr"`
	Password  string `yaml:"password" json:"-"`
	DB        int    `yaml:"db" json:"db"`
	PoolSize  int    `yaml:"pool_size" json:"pool_size"`
	KeyPrefix string `yaml:"key_prefix" json:"key_prefix"`
}

type MemoryConfig struct {
	MaxSize         int           `yaml:"max_size" json:"max_size"`
	CleanupInterval time.Duration `yaml:"cleanup_interval" json:"cleanup_interval"`
}

type LoggingConfig struct {
	Level    string `yaml:"level" json:"level"`
	Format   string `yaml:"format" json:"format"`
	Output   string `yaml:"output" json:"output"`
	FilePath string `yaml:"file_path" json:"file_path"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Path    string `yaml:"path" json:"path"`
	Port    int    `yaml:"port" json:"port"`
}

type ObservabilityConfig struct {
	ServiceName string        `yaml:"service_name" json:"service_name"`
	Tracing     TracingConfig `yaml:"tracing" json:"tracing"`
}

type TracingConfig struct {
	Enabled      bool    `yaml:"enabled" json:"enabled"`
	Exporter     string  `yaml:"exporter" json:"exporter"` // stdout or otlp
	OTLPEndpoint string  `yaml:"otlp_endpoint" json:"otlp_endpoint"`
	SampleRate   float64 `yaml:"sample_rate" json:"sample_rate"`
}

// NewDefaultConfig creates a configuration with usable defaults.
//
// Default Values Rationale:
// - Public API endpoint with a 30-second request timeout
// - Downloads go to ./downloads without bandwidth throttling
// - JSON catalog: simple setup without external dependencies
// - Memory search cache: repeated searches do not spend quota
// - Metrics and tracing disabled: a CLI run is short-lived
func NewDefaultConfig() *Config {
	return &Config{
		API: APIConfig{
			BaseURL: DefaultBaseURL,
			Timeout: 30 * time.Second,
		},
		Download: DownloadConfig{
			Directory:   "./downloads",
			Concurrency: 2,
		},
		Storage: StorageConfig{
			Type: StorageTypeJSON,
			Path: "./data/downloads.json",
			Database: DatabaseConfig{
				MaxOpenConns:    5,
				ConnMaxLifetime: 5 * time.Minute,
			},
		},
		Cache: CacheConfig{
			Enabled: true,
			Type:    CacheTypeMemory,
			TTL:     10 * time.Minute,
			Redis: RedisConfig{
				PoolSize:  10,
				KeyPrefix: "martmusic:search",
			},
			Memory: MemoryConfig{
				MaxSize:         500,
				CleanupInterval: 5 * time.Minute,
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Path:    "/metrics",
			Port:    9090,
		},
		Observability: ObservabilityConfig{
			ServiceName: "martmusic",
			Tracing: TracingConfig{
				Enabled:    false,
				Exporter:   "stdout",
				SampleRate: 1.0,
			},
		},
	}
}

func (c *Config) Validate() error {
	if err := c.API.Validate(); err != nil {
		return fmt.Errorf("invalid api config: %w", err)
	}

	if err := c.Download.Validate(); err != nil {
		return fmt.Errorf("invalid download config: %w", err)
	}

	if err := c.Storage.Validate(); err != nil {
		return fmt.Errorf("invalid storage config: %w", err)
	}

	if err := c.Cache.Validate(); err != nil {
		return fmt.Errorf("invalid cache config: %w", err)
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("invalid logging config: %w", err)
	}

	if err := c.Metrics.Validate(); err != nil {
		return fmt.Errorf("invalid metrics config: %w", err)
	}

	if err := c.Observability.Validate(); err != nil {
		return fmt.Errorf("invalid observability config: %w", err)
	}

	return nil
}

func (ac *APIConfig) Validate() error {
	if ac.BaseURL == "" {
		return errors.New("base URL cannot be empty")
	}

	u, err := url.Parse(ac.BaseURL)
	if err != nil {
		return fmt.Errorf("invalid base URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("base URL must use http or https, got %q", u.Scheme)
	}

	if ac.Timeout < 0 {
		return errors.New("timeout cannot be negative")
	}

	return nil
}

func (dc *DownloadConfig) Validate() error {
	if dc.Directory == "" {
		return errors.New("download directory cannot be empty")
	}

	if dc.MaxBytesPerSecond < 0 {
		return errors.New("max bytes per second cannot be negative")
	}

	if dc.Concurrency < 1 {
		return errors.New("download concurrency must be at least 1")
	}

	return nil
}

func (stc *StorageConfig) Validate() error {
	validTypes := []string{StorageTypeJSON, StorageTypeMemory, StorageTypePostgres, StorageTypeSQLite}
	found := false
	for _, vt := range validTypes {
		if stc.Type == vt {
			found = true
			break
		}
	}
	if !found {
		return fmt.Errorf("invalid storage type: %s", stc.Type)
	}

	if stc.Type == StorageTypeJSON && stc.Path == "" {
		return errors.New("path is required for JSON storage")
	}

	if (stc.Type == StorageTypePostgres || stc.Type == StorageTypeSQLite) && stc.Database.DSN == "" {
		return errors.New("database DSN is required for database storage")
	}

	if stc.Database.MaxOpenConns < 0 {
		return errors.New("max open connections cannot be negative")
	}

	return nil
}

func (cc *CacheConfig) Validate() error {
	if !cc.Enabled {
		return nil
	}

	if cc.Type != CacheTypeMemory && cc.Type != CacheTypeRedis {
		return fmt.Errorf("invalid cache type: %s", cc.Type)
	}

	if cc.TTL < 0 {
		return errors.New("cache TTL cannot be negative")
	}

	if cc.Type == CacheTypeRedis && cc.Redis.Addr == "" {
		return errors.New("Redis address is required when cache type is redis")
	}

	if cc.Type == CacheTypeMemory && cc.Memory.MaxSize < 0 {
		return errors.New("memory cache max size cannot be negative")
	}

	return nil
}

func (lc *LoggingConfig) Validate() error {
	validLevels := []string{"debug", "info", "warn", "error"}
	found := false
	for _, vl := range validLevels {
		if lc.Level == vl {
			found = true
			break
		}
	}
	if !found {
		return fmt.Errorf("invalid log level: %s", lc.Level)
	}

	if lc.Format != "json" && lc.Format != "text" {
		return fmt.Errorf("invalid log format: %s", lc.Format)
	}

	validOutputs := []string{"stdout", "stderr", "file"}
	found = false
	for _, vo := range validOutputs {
		if lc.Output == vo {
			found = true
			break
		}
	}
	if !found {
		return fmt.Errorf("invalid log output: %s", lc.Output)
	}

	if lc.Output == "file" && lc.FilePath == "" {
		return errors.New("file path is required when output is file")
	}

	return nil
}

func (mc *MetricsConfig) Validate() error {
	if !mc.Enabled {
		return nil
	}

	if mc.Path == "" {
		return errors.New("metrics path cannot be empty")
	}

	if mc.Port <= 0 || mc.Port > 65535 {
		return errors.New("metrics port must be between 1 and 65535")
	}

	return nil
}

func (oc *ObservabilityConfig) Validate() error {
	if !oc.Tracing.Enabled {
		return nil
	}

	if oc.ServiceName == "" {
		return errors.New("service name cannot be empty when tracing is enabled")
	}

	switch oc.Tracing.Exporter {
	case "stdout":
	case "otlp":
		if oc.Tracing.OTLPEndpoint == "" {
			return errors.New("OTLP endpoint is required for the otlp exporter")
		}
	default:
		return fmt.Errorf("invalid trace exporter: %s", oc.Tracing.Exporter)
	}

	if oc.Tracing.SampleRate < 0 || oc.Tracing.SampleRate > 1 {
		return errors.New("sample rate must be between 0 and 1")
	}

	return nil
}
