// SPDX-License-Identifier: AGPL-3.0-or-later

/*
Package metrics exposes Prometheus collectors for the tile cache service.

Metrics are served at /metrics via promhttp.Handler(). Groups:

  - tile_cache_*: hits, misses, evictions, entries
  - client_ledger_*: entries, swept
  - upstream_fetch_*, upstream_min_gap_milliseconds, upstream_consecutive_slow,
    circuit_breaker_*: the rate-limit-aware fetcher
  - orchestrator_*: queries served, tiles fetched by batch phase, query duration
  - notify_*: subscriber count, events published/dropped
  - api_*: HTTP request counts, latency, active requests
*/
package metrics
