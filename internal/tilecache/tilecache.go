// SPDX-License-Identifier: AGPL-3.0-or-later

// Package tilecache implements the tile cache component (B): a
// concurrently accessed map from tile id to a list of observations, with
// lazy expiry on read, a periodic sweep, and usage stats.
package tilecache

import (
	"sync"
	"time"

	"github.com/avocetlabs/birdtile/internal/metrics"
	"github.com/avocetlabs/birdtile/internal/observation"
)

// Config holds the cache's TTL and sweep interval.
type Config struct {
	TTL           time.Duration
	SweepInterval time.Duration
}

// DefaultConfig mirrors spec.md §6: 240 minute TTL, 15 minute sweep.
func DefaultConfig() Config {
	return Config{TTL: 240 * time.Minute, SweepInterval: 15 * time.Minute}
}

type entry struct {
	observations []observation.Observation
	createdAt    time.Time
	expiresAt    time.Time
}

// Stats summarizes current cache occupancy.
type Stats struct {
	TotalEntries     int
	ExpiredEntries   int
	ApproximateBytes int64
	OldestAgeSeconds float64
	Config           Config
}

// Cache is the shared, concurrently accessed tile store. Entries are
// immutable after insertion — a Put replaces rather than mutates.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]entry
	cfg     Config

	stopOnce sync.Once
	stopCh   chan struct{}
}

// New constructs a Cache and starts its background sweep goroutine.
func New(cfg Config) *Cache {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultConfig().TTL
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = DefaultConfig().SweepInterval
	}
	c := &Cache{
		entries: make(map[string]entry),
		cfg:     cfg,
		stopCh:  make(chan struct{}),
	}
	go c.sweepLoop()
	return c
}

// Close stops the background sweeper. Safe to call more than once.
func (c *Cache) Close() {
	c.stopOnce.Do(func() { close(c.stopCh) })
}

func (c *Cache) sweepLoop() {
	ticker := time.NewTicker(c.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.Sweep()
		case <-c.stopCh:
			return
		}
	}
}

// Get returns the cached observations for a tile if present and unexpired.
// A found-but-expired entry is removed as a side effect.
func (c *Cache) Get(tileID string) ([]observation.Observation, bool) {
	c.mu.RLock()
	e, ok := c.entries[tileID]
	c.mu.RUnlock()

	if !ok {
		metrics.TileCacheMisses.Inc()
		return nil, false
	}

	if time.Now().After(e.expiresAt) || time.Now().Equal(e.expiresAt) {
		c.mu.Lock()
		if cur, stillThere := c.entries[tileID]; stillThere && cur.expiresAt == e.expiresAt {
			delete(c.entries, tileID)
			metrics.TileCacheEntries.Set(float64(len(c.entries)))
		}
		c.mu.Unlock()
		metrics.TileCacheMisses.Inc()
		metrics.TileCacheEvictions.Inc()
		return nil, false
	}

	metrics.TileCacheHits.Inc()
	return e.observations, true
}

// Put creates a new entry for tileID, replacing any existing one.
func (c *Cache) Put(tileID string, observations []observation.Observation) {
	now := time.Now()
	c.mu.Lock()
	c.entries[tileID] = entry{
		observations: observations,
		createdAt:    now,
		expiresAt:    now.Add(c.cfg.TTL),
	}
	metrics.TileCacheEntries.Set(float64(len(c.entries)))
	c.mu.Unlock()
}

// Missing returns the subset of tileIDs for which Get would return false.
// It has no side effects beyond the expiry removals Get already performs.
func (c *Cache) Missing(tileIDs []string) []string {
	missing := make([]string, 0, len(tileIDs))
	for _, id := range tileIDs {
		if _, ok := c.Get(id); !ok {
			missing = append(missing, id)
		}
	}
	return missing
}

// Sweep removes every entry whose expiry has passed and returns the count
// removed.
func (c *Cache) Sweep() int {
	now := time.Now()
	removed := 0

	c.mu.Lock()
	for id, e := range c.entries {
		if !now.Before(e.expiresAt) {
			delete(c.entries, id)
			removed++
		}
	}
	metrics.TileCacheEntries.Set(float64(len(c.entries)))
	c.mu.Unlock()

	for i := 0; i < removed; i++ {
		metrics.TileCacheEvictions.Inc()
	}
	return removed
}

// Stats returns a point-in-time snapshot of cache occupancy.
func (c *Cache) Stats() Stats {
	now := time.Now()

	c.mu.RLock()
	defer c.mu.RUnlock()

	stats := Stats{TotalEntries: len(c.entries), Config: c.cfg}
	var oldest time.Time
	for _, e := range c.entries {
		if now.After(e.expiresAt) {
			stats.ExpiredEntries++
		}
		stats.ApproximateBytes += approximateSize(e.observations)
		if oldest.IsZero() || e.createdAt.Before(oldest) {
			oldest = e.createdAt
		}
	}
	if !oldest.IsZero() {
		stats.OldestAgeSeconds = now.Sub(oldest).Seconds()
	}
	return stats
}

// approximateSize gives a rough per-entry byte estimate for the stats
// endpoint; it is not an exact accounting of memory use.
func approximateSize(observations []observation.Observation) int64 {
	const perObservation = 200
	return int64(len(observations)) * perObservation
}
