// SPDX-License-Identifier: AGPL-3.0-or-later

/*
Package config provides centralized configuration management for the tile
cache service.

# Configuration Sources

The package reads configuration, in increasing order of precedence:

  - Defaults: built-in sensible values for every setting
  - Config file: optional YAML file (config.yaml, or $CONFIG_PATH)
  - Environment variables: override any setting

# Configuration Structure

  - GeoConfig: tile grid parameters (tile size, pole limit, edge buffer)
  - CacheConfig: tile cache TTL and sweep interval
  - LedgerConfig: per-client delivery ledger idle TTL and sweep interval
  - UpstreamConfig: upstream observation source URL, credential, and pacing
  - OrchestratorConfig: batching limits for viewport queries
  - ServerConfig: HTTP bind address, port, timeout, environment
  - SecurityConfig: CORS origins and API rate limiting
  - LoggingConfig: log level, format, caller info

# Usage

	cfg, err := config.LoadWithKoanf()
	if err != nil {
	    log.Fatalf("failed to load config: %v", err)
	}
	fmt.Printf("listening on %s:%d\n", cfg.Server.Host, cfg.Server.Port)

# Validation

LoadWithKoanf validates the result and returns an error if required fields
(UPSTREAM_BASE_URL, UPSTREAM_CREDENTIAL) are missing or any value is out of
range.

# Thread Safety

Config is immutable after LoadWithKoanf returns and is safe for concurrent
read access.
*/
package config
