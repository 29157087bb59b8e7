// SPDX-License-Identifier: AGPL-3.0-or-later

// Package metrics exposes Prometheus collectors for the tile cache, the
// client ledger, the upstream fetcher, the viewport orchestrator and the
// notification bus.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Tile cache metrics.
	TileCacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tile_cache_hits_total",
		Help: "Total number of tile cache hits",
	})

	TileCacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tile_cache_misses_total",
		Help: "Total number of tile cache misses",
	})

	TileCacheEvictions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tile_cache_evictions_total",
		Help: "Total number of tile cache entries removed (lazy or swept)",
	})

	TileCacheEntries = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tile_cache_entries",
		Help: "Current number of entries held in the tile cache",
	})

	// Client ledger metrics.
	LedgerEntries = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "client_ledger_entries",
		Help: "Current number of tracked client ledger entries",
	})

	LedgerSweptTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "client_ledger_swept_total",
		Help: "Total number of client ledger entries removed by the idle sweeper",
	})

	// Upstream fetcher metrics.
	UpstreamFetchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "upstream_fetch_duration_seconds",
			Help:    "Duration of a single upstream endpoint request",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20},
		},
		[]string{"endpoint"}, // "recent", "notable"
	)

	UpstreamFetchErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "upstream_fetch_errors_total",
			Help: "Total number of upstream fetch errors by classification",
		},
		[]string{"endpoint", "kind"}, // kind: "rate_limited", "unavailable", "malformed"
	)

	UpstreamMinGapMs = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "upstream_min_gap_milliseconds",
		Help: "Current minimum gap enforced between upstream request starts",
	})

	UpstreamConsecutiveSlow = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "upstream_consecutive_slow",
		Help: "Current consecutive-slow-response counter driving backoff",
	})

	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state per upstream endpoint (0=closed, 1=half-open, 2=open)",
		},
		[]string{"endpoint"},
	)

	CircuitBreakerTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_state_transitions_total",
			Help: "Total number of circuit breaker state transitions",
		},
		[]string{"endpoint", "from_state", "to_state"},
	)

	// Viewport orchestrator metrics.
	OrchestratorQueriesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "orchestrator_queries_total",
		Help: "Total number of viewport queries served",
	})

	OrchestratorTilesFetchedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orchestrator_tiles_fetched_total",
			Help: "Total number of tiles fetched from upstream, by batch phase",
		},
		[]string{"phase"}, // "foreground", "background"
	)

	OrchestratorQueryDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "orchestrator_query_duration_seconds",
		Help:    "Duration of a full viewport query, foreground portion only",
		Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
	})

	// Notification bus metrics.
	NotifySubscribers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "notify_subscribers",
		Help: "Current number of subscribed notification clients",
	})

	NotifyEventsPublished = promauto.NewCounter(prometheus.CounterOpts{
		Name: "notify_events_published_total",
		Help: "Total number of events successfully delivered to a subscriber",
	})

	NotifyEventsDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notify_events_dropped_total",
			Help: "Total number of events dropped (no subscriber or subscriber slow)",
		},
		[]string{"reason"}, // "no_subscriber", "subscriber_slow"
	)

	// HTTP transport metrics.
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Total number of API requests",
		},
		[]string{"method", "endpoint", "status_code"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"method", "endpoint"},
	)

	APIActiveRequests = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "api_active_requests",
		Help: "Current number of active API requests",
	})
)

// RecordAPIRequest records a completed HTTP request.
func RecordAPIRequest(method, endpoint, statusCode string, duration time.Duration) {
	APIRequestsTotal.WithLabelValues(method, endpoint, statusCode).Inc()
	APIRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

// TrackActiveRequest increments or decrements the in-flight request gauge.
func TrackActiveRequest(inc bool) {
	if inc {
		APIActiveRequests.Inc()
	} else {
		APIActiveRequests.Dec()
	}
}

func stateToFloat(s string) float64 {
	switch s {
	case "closed":
		return 0
	case "half-open":
		return 1
	case "open":
		return 2
	default:
		return 0
	}
}

// RecordCircuitBreakerTransition records a state change and updates the gauge.
func RecordCircuitBreakerTransition(endpoint, from, to string) {
	CircuitBreakerTransitions.WithLabelValues(endpoint, from, to).Inc()
	CircuitBreakerState.WithLabelValues(endpoint).Set(stateToFloat(to))
}
