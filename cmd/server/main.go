// SPDX-License-Identifier: AGPL-3.0-or-later

// Package main is the entry point for the tile cache service.
//
// the tile cache service sits in front of a rate-limited upstream bird
// observation API, dividing the world into a fixed grid of tiles, caching
// each tile's observations, and tracking per-client delivery so repeat
// viewport queries only return what a client has not already seen.
//
// # Application Architecture
//
// The server initializes components in the following order:
//
//  1. Configuration: load settings from environment variables and an
//     optional config file (Koanf v2)
//  2. Logging: initialize the zerolog wrapper per the loaded configuration
//  3. Upstream fetcher: construct the rate-limit-aware client against the
//     configured bird-observation source
//  4. Tile cache, client ledger, notification bus: the process-scoped
//     collaborators behind the viewport orchestrator
//  5. HTTP server: the chi router exposing the public API
//
// # Configuration
//
// Configuration is loaded via Koanf v2 with layered sources (highest
// priority wins): environment variables, an optional config.yaml, and
// built-in defaults. See internal/config for the full tunable list.
//
// # Signal Handling
//
// The server handles graceful shutdown on SIGINT and SIGTERM: it stops
// accepting new connections, waits for in-flight requests to complete
// (bounded by Server.Timeout), then closes the tile cache and ledger
// sweepers.
//
// # Port 3857
//
// The default port 3857 references EPSG:3857 (Web Mercator projection),
// the coordinate system used by web mapping libraries.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/avocetlabs/birdtile/internal/api"
	"github.com/avocetlabs/birdtile/internal/config"
	"github.com/avocetlabs/birdtile/internal/geo"
	"github.com/avocetlabs/birdtile/internal/ledger"
	"github.com/avocetlabs/birdtile/internal/logging"
	"github.com/avocetlabs/birdtile/internal/notify"
	"github.com/avocetlabs/birdtile/internal/orchestrator"
	"github.com/avocetlabs/birdtile/internal/tilecache"
	"github.com/avocetlabs/birdtile/internal/upstream"
)

func main() {
	cfg, err := config.LoadWithKoanf()
	if err != nil {
		logging.Fatal().Err(err).Msg("failed to load configuration")
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})

	logging.Info().
		Str("environment", cfg.Server.Environment).
		Float64("tile_side_km", cfg.Geo.TileSideKm).
		Msg("starting the tile cache service")

	geoCfg := geo.Config{
		TileSideKm:  cfg.Geo.TileSideKm,
		MaxLatitude: cfg.Geo.MaxLatitude,
		EdgeBuffer:  cfg.Geo.EdgeBuffer,
	}

	fetcher, err := upstream.New(upstream.Config{
		BaseURL:       cfg.Upstream.BaseURL,
		Credential:    cfg.Upstream.Credential,
		MaxBackDays:   cfg.Upstream.MaxBackDays,
		RadiusBuffer:  cfg.Upstream.RadiusBuffer,
		HTTPTimeout:   cfg.Upstream.HTTPTimeout,
		SlowThreshold: cfg.Upstream.SlowThreshold,
	})
	if err != nil {
		logging.Fatal().Err(err).Msg("failed to initialize upstream fetcher")
	}

	cache := tilecache.New(tilecache.Config{
		TTL:           cfg.Cache.TTL,
		SweepInterval: cfg.Cache.SweepInterval,
	})
	defer cache.Close()

	clientLedger := ledger.New(ledger.Config{
		IdleTTL:       cfg.Ledger.IdleTTL,
		SweepInterval: cfg.Ledger.SweepInterval,
	})
	defer clientLedger.Close()

	bus := notify.New()

	engine := orchestrator.New(orchestrator.Config{
		MaxParallelRequests: cfg.Orchestrator.MaxParallelRequests,
		MaxInitialBatches:   cfg.Orchestrator.MaxInitialBatches,
	}, geoCfg, cache, clientLedger, fetcher, bus)

	router := api.NewRouter(engine, cache, bus, geoCfg)

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router.Mount(cfg.Security),
		ReadTimeout:  cfg.Server.Timeout,
		WriteTimeout: cfg.Server.Timeout,
		IdleTimeout:  60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logging.Info().Str("addr", server.Addr).Msg("listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
			return
		}
		serveErr <- nil
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logging.Info().Str("signal", sig.String()).Msg("received shutdown signal")
	case err := <-serveErr:
		if err != nil {
			logging.Error().Err(err).Msg("HTTP server failed")
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.Timeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logging.Error().Err(err).Msg("error during graceful shutdown")
	}

	logging.Info().Msg("application stopped gracefully")
}
