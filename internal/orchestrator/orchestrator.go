// SPDX-License-Identifier: AGPL-3.0-or-later

// Package orchestrator implements the viewport orchestrator (component F):
// the process-scoped Engine that ties together tile geometry, the tile
// cache, the client ledger, the upstream fetcher, and the notification
// bus behind a single query entry point.
package orchestrator

import (
	"context"
	"math"
	"sort"

	"github.com/avocetlabs/birdtile/internal/apierr"
	"github.com/avocetlabs/birdtile/internal/geo"
	"github.com/avocetlabs/birdtile/internal/ledger"
	"github.com/avocetlabs/birdtile/internal/logging"
	"github.com/avocetlabs/birdtile/internal/metrics"
	"github.com/avocetlabs/birdtile/internal/notify"
	"github.com/avocetlabs/birdtile/internal/observation"
	"github.com/avocetlabs/birdtile/internal/tilecache"
	"github.com/avocetlabs/birdtile/internal/upstream"
)

// Config holds the engine's batching parameters.
type Config struct {
	MaxParallelRequests int
	MaxInitialBatches   int
}

// DefaultConfig mirrors spec.md §6: one parallel request, unbounded
// initial batches (all work is foreground).
func DefaultConfig() Config {
	return Config{MaxParallelRequests: 1, MaxInitialBatches: 1 << 30}
}

// Metadata reports background-loading state alongside a query's observations.
type Metadata struct {
	HasBackgroundLoading bool `json:"hasBackgroundLoading"`
	PendingTileCount     int  `json:"pendingTileCount"`
}

// Result is the entry point's return value.
type Result struct {
	Observations []observation.Observation
	Metadata     Metadata
}

// Engine owns every piece of shared state: the tile cache, the client
// ledger, the upstream fetcher, and the notification bus. Construct one
// at startup and pass it to every query.
type Engine struct {
	cfg      Config
	geoCfg   geo.Config
	cache    *tilecache.Cache
	ledger   *ledger.Ledger
	fetcher  *upstream.Fetcher
	bus      *notify.Bus
}

// New constructs an Engine from its already-constructed collaborators.
func New(cfg Config, geoCfg geo.Config, cache *tilecache.Cache, led *ledger.Ledger, fetcher *upstream.Fetcher, bus *notify.Bus) *Engine {
	if cfg.MaxParallelRequests <= 0 {
		cfg.MaxParallelRequests = DefaultConfig().MaxParallelRequests
	}
	if cfg.MaxInitialBatches < 0 {
		cfg.MaxInitialBatches = DefaultConfig().MaxInitialBatches
	}
	return &Engine{cfg: cfg, geoCfg: geoCfg, cache: cache, ledger: led, fetcher: fetcher, bus: bus}
}

// ValidateViewport implements §4.5 step 1.
func ValidateViewport(v geo.Viewport) error {
	if v.MinLat >= v.MaxLat || v.MinLng >= v.MaxLng {
		return apierr.ErrInvalidViewport
	}
	if v.MinLat < -90 || v.MaxLat > 90 || v.MinLng < -180 || v.MaxLng > 180 {
		return apierr.ErrInvalidViewport
	}
	return nil
}

// Query implements the full viewport orchestrator entry point described
// in spec.md §4.5. clientID may be empty, meaning no ledger delta is
// tracked and every covering tile is always returned.
func (e *Engine) Query(ctx context.Context, viewport geo.Viewport, clientID string) (Result, error) {
	if err := ValidateViewport(viewport); err != nil {
		return Result{}, err
	}
	metrics.OrchestratorQueriesTotal.Inc()

	tiles := geo.TilesForViewport(e.geoCfg, viewport)
	tileIDStrings := make([]string, len(tiles))
	byID := make(map[string]geo.TileID, len(tiles))
	for i, id := range tiles {
		s := id.String()
		tileIDStrings[i] = s
		byID[s] = id
	}

	missing := e.cache.Missing(tileIDStrings)
	missingTiles := make([]geo.TileID, len(missing))
	for i, s := range missing {
		missingTiles[i] = byID[s]
	}

	centerLat, centerLng := viewportCenter(viewport)
	rankByDistance(e.geoCfg, missingTiles, centerLat, centerLng)

	batches := batchTiles(missingTiles, e.cfg.MaxParallelRequests)
	nForeground := len(batches)
	if e.cfg.MaxInitialBatches < nForeground {
		nForeground = e.cfg.MaxInitialBatches
	}
	foreground, background := batches[:nForeground], batches[nForeground:]

	for _, batch := range foreground {
		e.fetchAndCacheBatch(ctx, batch)
		metrics.OrchestratorTilesFetchedTotal.WithLabelValues("foreground").Add(float64(len(batch)))
	}

	pendingCount := 0
	for _, batch := range background {
		pendingCount += len(batch)
	}
	if len(background) > 0 {
		go e.runBackground(viewport, clientID, background)
	}

	delta := e.ledger.MissingFor(clientID, tileIDStrings)
	var result []observation.Observation
	var delivered []string
	for _, id := range delta {
		obs, ok := e.cache.Get(id)
		if !ok {
			continue
		}
		for _, o := range obs {
			o.TileID = id
			result = append(result, o)
		}
		delivered = append(delivered, id)
	}
	e.ledger.Seen(clientID, delivered)

	return Result{
		Observations: result,
		Metadata: Metadata{
			HasBackgroundLoading: pendingCount > 0,
			PendingTileCount:     pendingCount,
		},
	}, nil
}

// fetchAndCacheBatch issues every tile fetch in the batch concurrently,
// then stores each result (or an empty list on error) in the cache.
func (e *Engine) fetchAndCacheBatch(ctx context.Context, batch []geo.TileID) {
	type outcome struct {
		id  geo.TileID
		obs []observation.Observation
	}
	results := make(chan outcome, len(batch))

	for _, id := range batch {
		go func(id geo.TileID) {
			obs, err := e.fetcher.FetchTile(ctx, id, e.geoCfg)
			if err != nil {
				logging.Warn().Err(err).Str("tile", id.String()).Msg("tile fetch aborted")
				obs = nil
			}
			results <- outcome{id: id, obs: obs}
		}(id)
	}

	for range batch {
		o := <-results
		e.cache.Put(o.id.String(), o.obs)
	}
}

// runBackground executes the remaining batches sequentially (one batch's
// fetches run concurrently; the next batch starts only after the previous
// one finishes), publishing a batch-completion event after each.
func (e *Engine) runBackground(viewport geo.Viewport, clientID string, background [][]geo.TileID) {
	total := len(background)
	var remaining []string
	for _, batch := range background {
		for _, id := range batch {
			remaining = append(remaining, id.String())
		}
	}

	for i, batch := range background {
		e.fetchAndCacheBatch(context.Background(), batch)
		metrics.OrchestratorTilesFetchedTotal.WithLabelValues("background").Add(float64(len(batch)))

		completed := make([]string, len(batch))
		for j, id := range batch {
			completed[j] = id.String()
		}
		remaining = remaining[len(batch):]

		e.bus.Publish(clientID, notify.Event{
			Type: notify.EventTypeTileUpdate,
			Data: &notify.BatchCompletion{
				CompletedTileIDs: completed,
				BatchNumber:      i + 1,
				TotalBatches:     total,
				RemainingTileIDs: append([]string(nil), remaining...),
				Viewport:         viewport,
				IsComplete:       i == total-1,
			},
		})
	}
}

func viewportCenter(v geo.Viewport) (lat, lng float64) {
	return (v.MinLat + v.MaxLat) / 2, (v.MinLng + v.MaxLng) / 2
}

// rankByDistance sorts tiles ascending by Euclidean distance from the
// tile's center to (centerLat, centerLng), breaking ties lexicographically
// by tile id (§4.5).
func rankByDistance(cfg geo.Config, tiles []geo.TileID, centerLat, centerLng float64) {
	sort.Slice(tiles, func(i, j int) bool {
		di := distanceToCenter(cfg, tiles[i], centerLat, centerLng)
		dj := distanceToCenter(cfg, tiles[j], centerLat, centerLng)
		if di != dj {
			return di < dj
		}
		return tiles[i].String() < tiles[j].String()
	})
}

func distanceToCenter(cfg geo.Config, id geo.TileID, centerLat, centerLng float64) float64 {
	b := geo.TileBounds(cfg, id)
	dLat := b.CenterLat - centerLat
	dLng := b.CenterLng - centerLng
	return math.Sqrt(dLat*dLat + dLng*dLng)
}

// batchTiles partitions tiles into consecutive groups of at most size,
// preserving order.
func batchTiles(tiles []geo.TileID, size int) [][]geo.TileID {
	if len(tiles) == 0 {
		return nil
	}
	var batches [][]geo.TileID
	for i := 0; i < len(tiles); i += size {
		end := i + size
		if end > len(tiles) {
			end = len(tiles)
		}
		batches = append(batches, tiles[i:end])
	}
	return batches
}
