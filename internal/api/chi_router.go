// SPDX-License-Identifier: AGPL-3.0-or-later

package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/avocetlabs/birdtile/internal/config"
	"github.com/avocetlabs/birdtile/internal/geo"
	"github.com/avocetlabs/birdtile/internal/middleware"
	"github.com/avocetlabs/birdtile/internal/notify"
	"github.com/avocetlabs/birdtile/internal/orchestrator"
	"github.com/avocetlabs/birdtile/internal/tilecache"
)

// Router assembles the public HTTP surface of the tile cache service: the
// viewport query endpoint, cache introspection, the live notification
// websocket, and the ambient health/metrics endpoints.
type Router struct {
	handler *Handler
}

// NewRouter constructs a Router from its already-wired collaborators.
func NewRouter(engine *orchestrator.Engine, cache *tilecache.Cache, bus *notify.Bus, geoCfg geo.Config) *Router {
	return &Router{
		handler: &Handler{
			engine: engine,
			cache:  cache,
			bus:    bus,
			geoCfg: geoCfg,
		},
	}
}

// Mount builds the chi router tree described in SPEC_FULL.md §13.
func (rt *Router) Mount(sec config.SecurityConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(RequestIDWithLogging())
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(APISecurityHeaders())
	r.Use(func(next http.Handler) http.Handler {
		return middleware.PrometheusMetrics(next.ServeHTTP)
	})

	mw := NewChiMiddleware(&ChiMiddlewareConfig{
		CORSAllowedOrigins: sec.CORSOrigins,
		RateLimitRequests:  sec.RateLimitReqs,
		RateLimitWindow:    sec.RateLimitWindow,
		RateLimitDisabled:  sec.RateLimitDisabled,
	})
	r.Use(mw.CORS())
	r.Use(mw.RateLimit())

	r.Get("/api/v1/health", rt.handler.Health)
	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/birds", rt.handler.QueryBirds)
		r.Get("/tiles/debug", rt.handler.TilesDebug)
		r.Get("/cache/stats", rt.handler.CacheStats)
		r.Post("/cache/clear-expired", rt.handler.CacheClearExpired)
		r.Get("/notifications/{clientId}", rt.handler.Notifications)
	})

	return r
}

// chiPathValue reads a chi URL parameter, returning "" if unset.
func chiPathValue(r *http.Request, key string) string {
	return chi.URLParam(r, key)
}
