package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"martmusic/internal/models"

	"github.com/Masterminds/semver/v3"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// supportedConfigVersions is the range of config file schema versions this
// build understands. Files without config_version are accepted.
const supportedConfigVersions = ">= 1.0.0, < 2.0.0"

// Load loads configuration from file and environment variables
func Load(configPath string) (*models.Config, error) {
	// Start with default configuration
	config := models.NewDefaultConfig()

	// Load from file if provided and exists
	if configPath != "" {
		if err := loadFromFile(config, configPath); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	// Override with environment variables
	loadFromEnvironment(config)

	// Validate the final configuration
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// LoadEnvFile loads KEY=value pairs from a dotenv file into the process
// environment without overriding variables that are already set. A missing
// file is not an error unless required is true.
func LoadEnvFile(path string, required bool) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if !required && errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to load env file %s: %w", path, err)
	}
	return nil
}

// loadFromFile loads configuration from a YAML file
func loadFromFile(config *models.Config, filePath string) error {
	if _, err := os.Stat(filePath); os.IsNotExist(err) {
		return fmt.Errorf("config file not found: %s", filePath)
	}
	data, err := os.ReadFile(filePath)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, config); err != nil {
		return fmt.Errorf("failed to parse YAML config: %w", err)
	}
	if err := checkConfigVersion(config.ConfigVersion); err != nil {
		return err
	}
	return nil
}

// checkConfigVersion rejects config files written for an incompatible schema.
func checkConfigVersion(raw string) error {
	if raw == "" {
		return nil
	}
	v, err := semver.NewVersion(raw)
	if err != nil {
		return fmt.Errorf("invalid config_version %q: %w", raw, err)
	}
	constraint, err := semver.NewConstraint(supportedConfigVersions)
	if err != nil {
		return fmt.Errorf("invalid config version constraint: %w", err)
	}
	if !constraint.Check(v) {
		return fmt.Errorf("config_version %s is not supported (want %s)", v, supportedConfigVersions)
	}
	return nil
}

// loadFromEnvironment loads configuration from environment variables
func loadFromEnvironment(config *models.Config) {
	// API configuration
	if baseURL := os.Getenv("MARTMUSIC_BASE_URL"); baseURL != "" {
		config.API.BaseURL = baseURL
	}

	if token := os.Getenv("MARTMUSIC_TOKEN"); token != "" {
		config.API.Token = token
	}

	if timeout := os.Getenv("MARTMUSIC_TIMEOUT"); timeout != "" {
		if d, err := time.ParseDuration(timeout); err == nil {
			config.API.Timeout = d
		}
	}

	if ua := os.Getenv("MARTMUSIC_USER_AGENT"); ua != "" {
		config.API.UserAgent = ua
	}

	// Download configuration
	if dir := os.Getenv("MARTMUSIC_DOWNLOAD_DIR"); dir != "" {
		config.Download.Directory = dir
	}

	if bps := os.Getenv("MARTMUSIC_MAX_BYTES_PER_SECOND"); bps != "" {
		if n, err := strconv.Atoi(bps); err == nil {
			config.Download.MaxBytesPerSecond = n
		}
	}
	if c := os.Getenv("MARTMUSIC_DOWNLOAD_CONCURRENCY"); c != "" {
		if n, err := strconv.Atoi(c); err == nil {
			config.Download.Concurrency = n
		}
	}

	// Storage configuration
	if storageType := os.Getenv("MARTMUSIC_STORAGE_TYPE"); storageType != "" {
		config.Storage.Type = storageType
	}

	if storagePath := os.Getenv("MARTMUSIC_STORAGE_PATH"); storagePath != "" {
		config.Storage.Path = storagePath
	}

	if dsn := os.Getenv("MARTMUSIC_DATABASE_DSN"); dsn != "" {
		config.Storage.Database.DSN = dsn
	}

	if maxOpen := os.Getenv("MARTMUSIC_DATABASE_MAX_OPEN_CONNS"); maxOpen != "" {
		if conns, err := strconv.Atoi(maxOpen); err == nil {
			config.Storage.Database.MaxOpenConns = conns
		}
	}

	// Cache configuration
	if cache := os.Getenv("MARTMUSIC_CACHE_ENABLED"); cache != "" {
		config.Cache.Enabled = strings.ToLower(cache) == "true"
	}

	if cacheType := os.Getenv("MARTMUSIC_CACHE_TYPE"); cacheType != "" {
		config.Cache.Type = cacheType
	}

	if ttl := os.Getenv("MARTMUSIC_CACHE_TTL"); ttl != "" {
		if d, err := time.ParseDuration(ttl); err == nil {
			config.Cache.TTL = d
		}
	}

	if addr := os.Getenv("MARTMUSIC_REDIS_ADDR"); addr != "" {
		config.Cache.Redis.Addr = addr
	}

	if password := os.Getenv("MARTMUSIC_REDIS_PASSWORD"); password != "" {
		config.Cache.Redis.Password = password
	}

	if db := os.Getenv("MARTMUSIC_REDIS_DB"); db != "" {
		if dbNum, err := strconv.Atoi(db); err == nil {
			config.Cache.Redis.DB = dbNum
		}
	}

	// Logging configuration
	if level := os.Getenv("MARTMUSIC_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}

	if format := os.Getenv("MARTMUSIC_LOG_FORMAT"); format != "" {
		config.Logging.Format = format
	}

	if output := os.Getenv("MARTMUSIC_LOG_OUTPUT"); output != "" {
		config.Logging.Output = output
	}

	if filePath := os.Getenv("MARTMUSIC_LOG_FILE_PATH"); filePath != "" {
		config.Logging.FilePath = filePath
	}

	// Metrics and tracing configuration
	if metrics := os.Getenv("MARTMUSIC_METRICS_ENABLED"); metrics != "" {
		config.Metrics.Enabled = strings.ToLower(metrics) == "true"
	}

	if port := os.Getenv("MARTMUSIC_METRICS_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Metrics.Port = p
		}
	}

	if tracing := os.Getenv("MARTMUSIC_TRACING_ENABLED"); tracing != "" {
		config.Observability.Tracing.Enabled = strings.ToLower(tracing) == "true"
	}

	if endpoint := os.Getenv("MARTMUSIC_OTLP_ENDPOINT"); endpoint != "" {
		config.Observability.Tracing.Exporter = "otlp"
		config.Observability.Tracing.OTLPEndpoint = endpoint
	}
}

// SaveExample saves an example configuration file
func SaveExample(filePath string) error {
	// Create directory if it doesn't exist
	if err := os.MkdirAll(filepath.Dir(filePath), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	config := models.NewDefaultConfig()
	config.ConfigVersion = "1.0.0"
	config.API.Token = "T1your-token-here"
	config.Download.MaxBytesPerSecond = 512 * 1024

	data, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("failed to marshal config to YAML: %w", err)
	}

	if err := os.WriteFile(filePath, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}
