// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"os"
	"testing"
	"time"
)

func clearEnv(t *testing.T, keys ...string) {
	t.Helper()
	for _, k := range keys {
		old, had := os.LookupEnv(k)
		os.Unsetenv(k)
		t.Cleanup(func() {
			if had {
				os.Setenv(k, old)
			}
		})
	}
}

func TestLoadWithKoanf_RequiresUpstreamCredentials(t *testing.T) {
	clearEnv(t, "UPSTREAM_BASE_URL", "UPSTREAM_CREDENTIAL", "CONFIG_PATH")
	os.Setenv("CONFIG_PATH", "/nonexistent/config.yaml")

	if _, err := LoadWithKoanf(); err == nil {
		t.Fatal("expected an error when UPSTREAM_BASE_URL/UPSTREAM_CREDENTIAL are unset")
	}
}

func TestLoadWithKoanf_DefaultsAndEnvOverride(t *testing.T) {
	clearEnv(t, "UPSTREAM_BASE_URL", "UPSTREAM_CREDENTIAL", "HTTP_PORT", "CONFIG_PATH")
	os.Setenv("CONFIG_PATH", "/nonexistent/config.yaml")
	os.Setenv("UPSTREAM_BASE_URL", "https://api.example.com")
	os.Setenv("UPSTREAM_CREDENTIAL", "secret-token")
	os.Setenv("HTTP_PORT", "9000")

	cfg, err := LoadWithKoanf()
	if err != nil {
		t.Fatalf("LoadWithKoanf: %v", err)
	}
	if cfg.Upstream.BaseURL != "https://api.example.com" {
		t.Errorf("expected env override for BaseURL, got %q", cfg.Upstream.BaseURL)
	}
	if cfg.Server.Port != 9000 {
		t.Errorf("expected env override for Port, got %d", cfg.Server.Port)
	}
	if cfg.Geo.TileSideKm != 2.0 {
		t.Errorf("expected default TileSideKm of 2.0, got %f", cfg.Geo.TileSideKm)
	}
	if cfg.Orchestrator.MaxParallelRequests != 1 {
		t.Errorf("expected default MaxParallelRequests of 1, got %d", cfg.Orchestrator.MaxParallelRequests)
	}
	if cfg.Cache.TTL != 240*time.Minute {
		t.Errorf("expected default Cache.TTL of 240m, got %v", cfg.Cache.TTL)
	}
	if cfg.Cache.SweepInterval != 15*time.Minute {
		t.Errorf("expected default Cache.SweepInterval of 15m, got %v", cfg.Cache.SweepInterval)
	}
}

func TestValidate_RejectsInvalidEnvironment(t *testing.T) {
	cfg := defaultConfig()
	cfg.Upstream.BaseURL = "https://api.example.com"
	cfg.Upstream.Credential = "token"
	cfg.Server.Environment = "nonsense"

	if err := cfg.Validate(); err == nil {
		t.Error("expected an error for an unrecognized environment")
	}
}

func TestValidate_RejectsOutOfRangePort(t *testing.T) {
	cfg := defaultConfig()
	cfg.Upstream.BaseURL = "https://api.example.com"
	cfg.Upstream.Credential = "token"
	cfg.Server.Port = 0

	if err := cfg.Validate(); err == nil {
		t.Error("expected an error for an out-of-range port")
	}
}

func TestValidate_RejectsNonHTTPUpstreamURL(t *testing.T) {
	cfg := defaultConfig()
	cfg.Upstream.BaseURL = "ftp://api.example.com"
	cfg.Upstream.Credential = "token"

	if err := cfg.Validate(); err == nil {
		t.Error("expected an error for a non-http(s) upstream URL")
	}
}
