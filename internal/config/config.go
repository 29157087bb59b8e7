// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import "time"

// Config holds all application configuration loaded from environment
// variables and an optional config file. Loading order (Koanf v2):
//  1. Defaults: built-in sensible defaults for every setting
//  2. Config file: optional YAML config file (config.yaml)
//  3. Environment variables: override any setting
//
// Config is immutable after LoadWithKoanf returns and is safe for
// concurrent read access.
type Config struct {
	Geo          GeoConfig          `koanf:"geo"`
	Cache        CacheConfig        `koanf:"cache"`
	Ledger       LedgerConfig       `koanf:"ledger"`
	Upstream     UpstreamConfig     `koanf:"upstream"`
	Orchestrator OrchestratorConfig `koanf:"orchestrator"`
	Server       ServerConfig       `koanf:"server"`
	Security     SecurityConfig     `koanf:"security"`
	Logging      LoggingConfig      `koanf:"logging"`
}

// GeoConfig controls the tile grid (component A).
type GeoConfig struct {
	TileSideKm  float64 `koanf:"tile_side_km"`
	MaxLatitude float64 `koanf:"max_latitude"`
	EdgeBuffer  float64 `koanf:"edge_buffer"`
}

// CacheConfig controls the tile cache (component B).
type CacheConfig struct {
	TTL           time.Duration `koanf:"ttl"`
	SweepInterval time.Duration `koanf:"sweep_interval"`
}

// LedgerConfig controls the per-client delivery ledger (component C).
type LedgerConfig struct {
	IdleTTL       time.Duration `koanf:"idle_ttl"`
	SweepInterval time.Duration `koanf:"sweep_interval"`
}

// UpstreamConfig controls the rate-limit-aware upstream fetcher (component D).
type UpstreamConfig struct {
	BaseURL       string        `koanf:"base_url"`
	Credential    string        `koanf:"credential"`
	MaxBackDays   int           `koanf:"max_back_days"`
	RadiusBuffer  float64       `koanf:"radius_buffer"`
	HTTPTimeout   time.Duration `koanf:"http_timeout"`
	SlowThreshold time.Duration `koanf:"slow_threshold"`
}

// OrchestratorConfig controls viewport-query batching (component F).
type OrchestratorConfig struct {
	MaxParallelRequests int `koanf:"max_parallel_requests"`
	MaxInitialBatches   int `koanf:"max_initial_batches"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port        int           `koanf:"port"`
	Host        string        `koanf:"host"`
	Timeout     time.Duration `koanf:"timeout"`
	Environment string        `koanf:"environment"`
}

// SecurityConfig holds CORS and rate-limiting settings for the public API.
type SecurityConfig struct {
	CORSOrigins       []string      `koanf:"cors_origins"`
	RateLimitReqs     int           `koanf:"rate_limit_reqs"`
	RateLimitWindow   time.Duration `koanf:"rate_limit_window"`
	RateLimitDisabled bool          `koanf:"rate_limit_disabled"`
}

// LoggingConfig controls the zerolog wrapper.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	Caller bool   `koanf:"caller"`
}
