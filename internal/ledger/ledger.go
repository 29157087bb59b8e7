// SPDX-License-Identifier: AGPL-3.0-or-later

// Package ledger implements the client ledger component (C): a per-client
// set of tile identifiers already delivered, used to compute the delta
// protocol on subsequent queries. Entries age out on an idle TTL and are
// swept the same way the tile cache expires entries.
package ledger

import (
	"sync"
	"time"

	"github.com/avocetlabs/birdtile/internal/metrics"
)

// Config holds the ledger's idle TTL and sweep interval.
type Config struct {
	IdleTTL       time.Duration
	SweepInterval time.Duration
}

// DefaultConfig mirrors spec.md §6: idle TTL equal to the cache TTL (240
// minutes), 15 minute sweep.
func DefaultConfig() Config {
	return Config{IdleTTL: 240 * time.Minute, SweepInterval: 15 * time.Minute}
}

type clientEntry struct {
	tiles     map[string]struct{}
	lastTouch time.Time
}

// Ledger is the shared, concurrently accessed per-client delivery record.
type Ledger struct {
	mu      sync.RWMutex
	clients map[string]*clientEntry
	cfg     Config

	stopOnce sync.Once
	stopCh   chan struct{}
}

// New constructs a Ledger and starts its background sweep goroutine.
func New(cfg Config) *Ledger {
	if cfg.IdleTTL <= 0 {
		cfg.IdleTTL = DefaultConfig().IdleTTL
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = DefaultConfig().SweepInterval
	}
	l := &Ledger{
		clients: make(map[string]*clientEntry),
		cfg:     cfg,
		stopCh:  make(chan struct{}),
	}
	go l.sweepLoop()
	return l
}

// Close stops the background sweeper. Safe to call more than once.
func (l *Ledger) Close() {
	l.stopOnce.Do(func() { close(l.stopCh) })
}

func (l *Ledger) sweepLoop() {
	ticker := time.NewTicker(l.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			l.Sweep()
		case <-l.stopCh:
			return
		}
	}
}

// isExpired reports whether a client entry's idle window has lapsed.
func (l *Ledger) isExpired(e *clientEntry, now time.Time) bool {
	return now.Sub(e.lastTouch) >= l.cfg.IdleTTL
}

// MissingFor returns the subset of tileIDs not yet recorded as delivered to
// clientID. If the client has no entry, or its entry has expired, every id
// is considered missing. MissingFor does not mutate ledger state — per I3,
// tiles are only recorded via Seen, and only after delivery.
func (l *Ledger) MissingFor(clientID string, tileIDs []string) []string {
	if clientID == "" {
		return append([]string(nil), tileIDs...)
	}

	l.mu.RLock()
	e, ok := l.clients[clientID]
	l.mu.RUnlock()

	if !ok || l.isExpired(e, time.Now()) {
		return append([]string(nil), tileIDs...)
	}

	l.mu.RLock()
	defer l.mu.RUnlock()
	missing := make([]string, 0, len(tileIDs))
	for _, id := range tileIDs {
		if _, delivered := e.tiles[id]; !delivered {
			missing = append(missing, id)
		}
	}
	return missing
}

// Seen records tileIDs as delivered to clientID, creating the client's entry
// if absent or expired, and refreshes its last-touched time. Callers must
// only call Seen after the corresponding observations have been placed into
// the response about to be returned (I3).
func (l *Ledger) Seen(clientID string, tileIDs []string) {
	if clientID == "" || len(tileIDs) == 0 {
		return
	}

	now := time.Now()
	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.clients[clientID]
	if !ok || l.isExpired(e, now) {
		e = &clientEntry{tiles: make(map[string]struct{}, len(tileIDs))}
		l.clients[clientID] = e
	}
	for _, id := range tileIDs {
		e.tiles[id] = struct{}{}
	}
	e.lastTouch = now
	metrics.LedgerEntries.Set(float64(len(l.clients)))
}

// Reset removes clientID's entry entirely, so its next query receives every
// tile again — the client-initiated "send me everything again" affordance.
func (l *Ledger) Reset(clientID string) {
	l.mu.Lock()
	delete(l.clients, clientID)
	metrics.LedgerEntries.Set(float64(len(l.clients)))
	l.mu.Unlock()
}

// Sweep removes every client entry whose idle TTL has lapsed and returns
// the count removed.
func (l *Ledger) Sweep() int {
	now := time.Now()
	removed := 0

	l.mu.Lock()
	for id, e := range l.clients {
		if l.isExpired(e, now) {
			delete(l.clients, id)
			removed++
		}
	}
	metrics.LedgerEntries.Set(float64(len(l.clients)))
	l.mu.Unlock()

	for i := 0; i < removed; i++ {
		metrics.LedgerSweptTotal.Inc()
	}
	return removed
}
