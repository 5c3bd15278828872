// This file contains the lightweight configuration for the embedded-SQLite
// deployment, which runs with no external databases.
package config

import (
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// LiteConfig is a simplified configuration for standalone operation.
type LiteConfig struct {
	// Data storage
	DataDir string // Base directory for the SQLite database

	// Cache settings
	CacheMaxEntries int           // Maximum summaries in the memory cache
	CacheTTL        time.Duration // Cached summary lifetime

	// Engine settings
	TaxonomyPath    string // Optional taxonomy JSON override
	AnalyticsTopN   int
	TrendWindowDays int

	// Server settings
	HTTPPort int

	// Logging
	LogLevel  string // Log level: debug, info, warn, error
	LogFormat string // Log format: json, text
}

// DefaultLiteConfig returns a configuration with sensible defaults.
func DefaultLiteConfig() *LiteConfig {
	homeDir, _ := os.UserHomeDir()
	dataDir := filepath.Join(homeDir, ".symptom-engine")

	return &LiteConfig{
		DataDir:         dataDir,
		CacheMaxEntries: 1024,
		CacheTTL:        5 * time.Minute,
		AnalyticsTopN:   5,
		TrendWindowDays: 30,
		HTTPPort:        8080,
		LogLevel:        "info",
		LogFormat:       "json",
	}
}

// LoadLiteConfig loads configuration from environment variables, falling back
// to defaults.
func LoadLiteConfig() *LiteConfig {
	cfg := DefaultLiteConfig()

	if v := os.Getenv("SYMPTOM_ENGINE_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}

	if v := os.Getenv("SYMPTOM_ENGINE_CACHE_MAX_ENTRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.CacheMaxEntries = n
		}
	}
	if v := os.Getenv("SYMPTOM_ENGINE_CACHE_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.CacheTTL = d
		}
	}

	cfg.TaxonomyPath = os.Getenv("SYMPTOM_ENGINE_TAXONOMY_PATH")

	if v := os.Getenv("SYMPTOM_ENGINE_ANALYTICS_TOP_N"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.AnalyticsTopN = n
		}
	}
	if v := os.Getenv("SYMPTOM_ENGINE_TREND_WINDOW_DAYS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.TrendWindowDays = n
		}
	}

	if v := os.Getenv("SYMPTOM_ENGINE_HTTP_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.HTTPPort = n
		}
	}

	if v := os.Getenv("SYMPTOM_ENGINE_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("SYMPTOM_ENGINE_LOG_FORMAT"); v != "" {
		cfg.LogFormat = v
	}

	return cfg
}

// StoreDBPath returns the path to the engine's SQLite database.
func (c *LiteConfig) StoreDBPath() string {
	return filepath.Join(c.DataDir, "engine.db")
}

// ExportDir returns the directory for JSON exports.
func (c *LiteConfig) ExportDir() string {
	return filepath.Join(c.DataDir, "exports")
}

// EnsureDataDir creates the data directory if it doesn't exist.
func (c *LiteConfig) EnsureDataDir() error {
	if err := os.MkdirAll(c.DataDir, 0755); err != nil {
		return err
	}
	return os.MkdirAll(c.ExportDir(), 0755)
}
