// SPDX-License-Identifier: AGPL-3.0-or-later

/*
Package middleware provides Prometheus request instrumentation for the
tile cache service's HTTP layer.

PrometheusMetrics wraps a handler, tracking in-flight request count and,
on completion, recording api_requests_total (internal/metrics) by method,
path, and status code and api_request_duration_seconds by method and path.

Request id propagation and CORS/rate-limiting live in internal/api's chi
middleware stack rather than here, since they're wired at the chi.Router
level rather than per-handler.
*/
package middleware
