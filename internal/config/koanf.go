// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths lists the paths where config files are searched in
// order of priority. The first file found is used.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/birdtile/config.yaml",
	"/etc/birdtile/config.yml",
}

// ConfigPathEnvVar is the environment variable that can override the config file path.
const ConfigPathEnvVar = "CONFIG_PATH"

// defaultConfig returns a Config struct with all sensible default values.
// Every value here mirrors spec.md §6's documented default.
func defaultConfig() *Config {
	return &Config{
		Geo: GeoConfig{
			TileSideKm:  2.0,
			MaxLatitude: 85.0,
			EdgeBuffer:  0.1,
		},
		Cache: CacheConfig{
			TTL:           240 * time.Minute,
			SweepInterval: 15 * time.Minute,
		},
		Ledger: LedgerConfig{
			IdleTTL:       240 * time.Minute,
			SweepInterval: 15 * time.Minute,
		},
		Upstream: UpstreamConfig{
			BaseURL:       "",
			Credential:    "",
			MaxBackDays:   14,
			RadiusBuffer:  1.1,
			HTTPTimeout:   30 * time.Second,
			SlowThreshold: 5 * time.Second,
		},
		Orchestrator: OrchestratorConfig{
			MaxParallelRequests: 1,
			MaxInitialBatches:   1 << 30,
		},
		Server: ServerConfig{
			Port:        3857,
			Host:        "0.0.0.0",
			Timeout:     30 * time.Second,
			Environment: "development",
		},
		Security: SecurityConfig{
			CORSOrigins:       []string{"*"},
			RateLimitReqs:     100,
			RateLimitWindow:   1 * time.Minute,
			RateLimitDisabled: false,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Caller: false,
		},
	}
}

// LoadWithKoanf loads configuration using Koanf v2 with layered sources:
//  1. Defaults: built-in sensible defaults
//  2. Config file: optional YAML config file (if it exists)
//  3. Environment variables: override any setting
func LoadWithKoanf() (*Config, error) {
	k := koanf.New(".")

	defaults := defaultConfig()
	if err := k.Load(structs.Provider(defaults, "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	configPath := findConfigFile()
	if configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	envProvider := env.Provider("", ".", envTransformFunc)
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := processSliceFields(k); err != nil {
		return nil, fmt.Errorf("failed to process slice fields: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// findConfigFile searches for a config file in the default paths.
func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}

	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	return ""
}

// sliceConfigPaths defines which config paths should be parsed as
// comma-separated slices when they arrive as environment variable strings.
var sliceConfigPaths = []string{
	"security.cors_origins",
}

func processSliceFields(k *koanf.Koanf) error {
	for _, path := range sliceConfigPaths {
		val := k.Get(path)
		if val == nil {
			continue
		}

		if _, ok := val.([]interface{}); ok {
			continue
		}
		if _, ok := val.([]string); ok {
			continue
		}

		if strVal, ok := val.(string); ok {
			if strVal == "" {
				continue
			}
			parts := strings.Split(strVal, ",")
			trimmed := make([]string, 0, len(parts))
			for _, p := range parts {
				p = strings.TrimSpace(p)
				if p != "" {
					trimmed = append(trimmed, p)
				}
			}
			if len(trimmed) > 0 {
				if err := k.Set(path, trimmed); err != nil {
					return fmt.Errorf("failed to set %s: %w", path, err)
				}
			}
		}
	}
	return nil
}

// envTransformFunc maps environment variable names onto koanf config paths.
//
// Examples:
//   - GEO_TILE_SIDE_KM -> geo.tile_side_km
//   - UPSTREAM_BASE_URL -> upstream.base_url
//   - HTTP_PORT -> server.port
func envTransformFunc(key string) string {
	key = strings.ToLower(key)

	envMappings := map[string]string{
		// Geo (component A)
		"geo_tile_side_km": "geo.tile_side_km",
		"geo_max_latitude": "geo.max_latitude",
		"geo_edge_buffer":  "geo.edge_buffer",

		// Tile cache (component B)
		"cache_ttl":            "cache.ttl",
		"cache_sweep_interval": "cache.sweep_interval",

		// Client ledger (component C)
		"ledger_idle_ttl":       "ledger.idle_ttl",
		"ledger_sweep_interval": "ledger.sweep_interval",

		// Upstream fetcher (component D)
		"upstream_base_url":       "upstream.base_url",
		"upstream_credential":     "upstream.credential",
		"upstream_max_back_days":  "upstream.max_back_days",
		"upstream_radius_buffer":  "upstream.radius_buffer",
		"upstream_http_timeout":   "upstream.http_timeout",
		"upstream_slow_threshold": "upstream.slow_threshold",

		// Orchestrator (component F)
		"orchestrator_max_parallel_requests": "orchestrator.max_parallel_requests",
		"orchestrator_max_initial_batches":   "orchestrator.max_initial_batches",

		// HTTP server
		"http_port":    "server.port",
		"http_host":    "server.host",
		"http_timeout": "server.timeout",
		"environment":  "server.environment",

		// Security (CORS + API rate limiting)
		"cors_origins":        "security.cors_origins",
		"rate_limit_requests": "security.rate_limit_reqs",
		"rate_limit_window":   "security.rate_limit_window",
		"disable_rate_limit":  "security.rate_limit_disabled",

		// Logging
		"log_level":  "logging.level",
		"log_format": "logging.format",
		"log_caller": "logging.caller",
	}

	if mapped, ok := envMappings[key]; ok {
		return mapped
	}

	// Unmapped keys are skipped so stray environment variables don't
	// pollute configuration.
	return ""
}

// GetKoanfInstance returns a new Koanf instance for advanced usage (hot
// reload, custom sources, testing with mock configurations).
func GetKoanfInstance() *koanf.Koanf {
	return koanf.New(".")
}

// WatchConfigFile sets up a file watcher for hot-reload capability. The
// caller is responsible for mutex protection when swapping configuration.
func WatchConfigFile(path string, callback func()) error {
	provider := file.Provider(path)
	return provider.Watch(func(event interface{}, err error) {
		if err != nil {
			return
		}
		callback()
	})
}
