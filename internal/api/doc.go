// SPDX-License-Identifier: AGPL-3.0-or-later

/*
Package api provides the HTTP surface of the tile cache service: a small
chi router in front of the viewport orchestrator, tile cache, client
ledger, and notification bus.

# Routes

  - GET  /api/v1/birds               viewport query (spec.md §6)
  - GET  /api/v1/tiles/debug         tile-grid introspection, no fetch
  - GET  /api/v1/cache/stats         tile cache occupancy snapshot
  - POST /api/v1/cache/clear-expired sweeps expired tile cache entries
  - GET  /api/v1/notifications/{id}  websocket stream of batch-completion events
  - GET  /api/v1/health              liveness probe
  - GET  /metrics                    Prometheus scrape endpoint

# Response envelope

Every endpoint except /metrics (Prometheus text format) and the
notifications websocket responds with models.APIResponse: a status field,
a data payload on success, a models.Metadata block, and a models.APIError
on failure. statusForError (errors.go) classifies a domain error from
internal/apierr into an HTTP status and machine-readable error code.

# Middleware

Requests pass through request-id propagation, real-IP resolution, panic
recovery, security headers, Prometheus request metrics, CORS, and an
inbound rate limiter; CORS and the rate limiter are configured from
config.SecurityConfig. The inbound rate limiter guards
against abuse of this API; it is unrelated to the upstream rate limiter
internal/upstream enforces against the bird-observation source.
*/
package api
