package config

import (
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/mealplanner/importer/internal/common/configtypes"
	"github.com/mealplanner/importer/internal/common/yamlutil"
)

const (
	DefaultServerTimeout      = 30 * time.Second
	DefaultMaxRequestBodySize = 16 * 1024
	DefaultFetchTimeout       = 10 * time.Second
	DefaultMaxBodySize        = 5 * 1024 * 1024
	DefaultMaxRedirects       = 5
	DefaultUserAgent          = "MealPlannerRecipeImporter/1.0"
	DefaultCacheKeyPrefix     = "recipe:import:"
	DefaultMetricsPath        = "/metrics"
	DefaultMetricsNamespace   = "mealplanner"
)

// LoadImporterConfig loads importer configuration from a YAML file
func LoadImporterConfig(path string, logger *zap.Logger) (*configtypes.ImporterConfig, error) {
	logger.Info("Loading importer configuration", zap.String("path", path))

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, fmt.Errorf("config file does not exist: %s", path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg, err := ParseImporterConfig(data)
	if err != nil {
		return nil, err
	}

	logger.Info("Importer configuration loaded successfully",
		zap.String("listen", cfg.Server.Listen),
		zap.Bool("cache_enabled", cfg.Cache.Enabled),
		zap.Bool("metrics_enabled", cfg.Metrics.Enabled))

	return cfg, nil
}

// ParseImporterConfig decodes, validates and applies defaults to raw YAML
func ParseImporterConfig(data []byte) (*configtypes.ImporterConfig, error) {
	var cfg configtypes.ImporterConfig
	if err := yamlutil.UnmarshalStrict(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	applyDefaults(&cfg)
	return &cfg, nil
}

// applyDefaults fills zero values after validation
func applyDefaults(cfg *configtypes.ImporterConfig) {
	if cfg.Server.Timeout == 0 {
		cfg.Server.Timeout = configtypes.Duration(DefaultServerTimeout)
	}
	if cfg.Server.MaxRequestBodySize == 0 {
		cfg.Server.MaxRequestBodySize = DefaultMaxRequestBodySize
	}

	if cfg.Fetch.Timeout == 0 {
		cfg.Fetch.Timeout = configtypes.Duration(DefaultFetchTimeout)
	}
	if cfg.Fetch.MaxBodySize == 0 {
		cfg.Fetch.MaxBodySize = DefaultMaxBodySize
	}
	if cfg.Fetch.MaxRedirects == 0 {
		cfg.Fetch.MaxRedirects = DefaultMaxRedirects
	}
	if cfg.Fetch.UserAgent == "" {
		cfg.Fetch.UserAgent = DefaultUserAgent
	}

	if cfg.Cache.Compression == "" {
		cfg.Cache.Compression = configtypes.CompressionNone
	}
	if cfg.Cache.KeyPrefix == "" {
		cfg.Cache.KeyPrefix = DefaultCacheKeyPrefix
	}

	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = DefaultMetricsPath
	}
	if cfg.Metrics.Namespace == "" {
		cfg.Metrics.Namespace = DefaultMetricsNamespace
	}

	// If both outputs are disabled (zero values), enable console by default
	if !cfg.Log.Console.Enabled && !cfg.Log.File.Enabled {
		cfg.Log.Console.Enabled = true
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = configtypes.LogLevelInfo
	}
	if cfg.Log.Console.Format == "" {
		cfg.Log.Console.Format = configtypes.LogFormatConsole
	}
	if cfg.Log.File.Format == "" {
		cfg.Log.File.Format = configtypes.LogFormatText
	}
}
