// SPDX-License-Identifier: AGPL-3.0-or-later

package api

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/avocetlabs/birdtile/internal/apierr"
	"github.com/avocetlabs/birdtile/internal/geo"
	"github.com/avocetlabs/birdtile/internal/logging"
	"github.com/avocetlabs/birdtile/internal/models"
	"github.com/avocetlabs/birdtile/internal/notify"
	"github.com/avocetlabs/birdtile/internal/observation"
	"github.com/avocetlabs/birdtile/internal/orchestrator"
	"github.com/avocetlabs/birdtile/internal/tilecache"
)

// Handler holds the collaborators every route needs: the query
// orchestrator, the tile cache (for the admin/debug endpoints), the
// notification bus, and the tile grid configuration (for the debug
// endpoint's corner geometry). The client ledger is owned and consulted
// by the orchestrator; no route touches it directly.
type Handler struct {
	engine *orchestrator.Engine
	cache  *tilecache.Cache
	bus    *notify.Bus
	geoCfg geo.Config
}

// birdsPayload is the §6 query endpoint's data payload.
type birdsPayload struct {
	Birds    []observation.Observation `json:"birds"`
	Metadata orchestrator.Metadata     `json:"metadata"`
}

func parseViewport(r *http.Request) (geo.Viewport, bool) {
	minLat, ok1 := parseFloatParam(r, "minLat")
	maxLat, ok2 := parseFloatParam(r, "maxLat")
	minLng, ok3 := parseFloatParam(r, "minLng")
	maxLng, ok4 := parseFloatParam(r, "maxLng")
	if !ok1 || !ok2 || !ok3 || !ok4 {
		return geo.Viewport{}, false
	}
	return geo.Viewport{MinLat: minLat, MaxLat: maxLat, MinLng: minLng, MaxLng: maxLng}, true
}

// QueryBirds implements `GET /api/v1/birds`, the viewport orchestrator's
// public entry point (spec.md §6).
func (h *Handler) QueryBirds(w http.ResponseWriter, r *http.Request) {
	viewport, ok := parseViewport(r)
	if !ok {
		respondDomainError(w, apierr.ErrInvalidViewport)
		return
	}
	clientID := r.URL.Query().Get("clientId")

	start := time.Now()
	result, err := h.engine.Query(r.Context(), viewport, clientID)
	if err != nil {
		respondDomainError(w, err)
		return
	}

	respondSuccess(w, birdsPayload{
		Birds:    result.Observations,
		Metadata: result.Metadata,
	}, models.Metadata{
		QueryTimeMS:          time.Since(start).Milliseconds(),
		HasBackgroundLoading: result.Metadata.HasBackgroundLoading,
		PendingTileCount:     result.Metadata.PendingTileCount,
	})
}

// tileCorner is one corner of a tile-debug viewport expansion.
type tileCorner struct {
	TileID string  `json:"tileId"`
	MinLat float64 `json:"minLat"`
	MaxLat float64 `json:"maxLat"`
	MinLng float64 `json:"minLng"`
	MaxLng float64 `json:"maxLng"`
}

func cornerOf(cfg geo.Config, id geo.TileID) tileCorner {
	b := geo.TileBounds(cfg, id)
	return tileCorner{TileID: id.String(), MinLat: b.MinLat, MaxLat: b.MaxLat, MinLng: b.MinLng, MaxLng: b.MaxLng}
}

// tileDebugPayload is the §6 tile-debug endpoint's data payload.
type tileDebugPayload struct {
	TileCount int `json:"tileCount"`
	CacheHits int `json:"cacheHits"`
	Config    struct {
		TileSizeKm  float64 `json:"tileSizeKm"`
		MaxLatitude float64 `json:"maxLatitude"`
		EdgeBuffer  float64 `json:"edgeBuffer"`
	} `json:"config"`
	Corners struct {
		NorthWest tileCorner `json:"northWest"`
		NorthEast tileCorner `json:"northEast"`
		SouthWest tileCorner `json:"southWest"`
		SouthEast tileCorner `json:"southEast"`
	} `json:"corners"`
}

// TilesDebug implements `GET /api/v1/tiles/debug`: reports the tile set a
// viewport would cover and the cache's current coverage of it, without
// triggering any upstream fetch.
func (h *Handler) TilesDebug(w http.ResponseWriter, r *http.Request) {
	viewport, ok := parseViewport(r)
	if !ok {
		respondDomainError(w, apierr.ErrInvalidViewport)
		return
	}
	if err := orchestrator.ValidateViewport(viewport); err != nil {
		respondDomainError(w, err)
		return
	}

	tiles := geo.TilesForViewport(h.geoCfg, viewport)
	tileIDStrings := make([]string, len(tiles))
	for i, id := range tiles {
		tileIDStrings[i] = id.String()
	}
	missing := h.cache.Missing(tileIDStrings)

	var payload tileDebugPayload
	payload.TileCount = len(tiles)
	payload.CacheHits = len(tiles) - len(missing)
	payload.Config.TileSizeKm = h.geoCfg.TileSideKm
	payload.Config.MaxLatitude = h.geoCfg.MaxLatitude
	payload.Config.EdgeBuffer = h.geoCfg.EdgeBuffer

	nw := geo.TileIDForPoint(h.geoCfg, viewport.MaxLat, viewport.MinLng)
	ne := geo.TileIDForPoint(h.geoCfg, viewport.MaxLat, viewport.MaxLng)
	sw := geo.TileIDForPoint(h.geoCfg, viewport.MinLat, viewport.MinLng)
	se := geo.TileIDForPoint(h.geoCfg, viewport.MinLat, viewport.MaxLng)
	payload.Corners.NorthWest = cornerOf(h.geoCfg, nw)
	payload.Corners.NorthEast = cornerOf(h.geoCfg, ne)
	payload.Corners.SouthWest = cornerOf(h.geoCfg, sw)
	payload.Corners.SouthEast = cornerOf(h.geoCfg, se)

	respondSuccess(w, payload, models.Metadata{})
}

// CacheStats implements `GET /api/v1/cache/stats`.
func (h *Handler) CacheStats(w http.ResponseWriter, r *http.Request) {
	respondSuccess(w, h.cache.Stats(), models.Metadata{})
}

// CacheClearExpired implements `POST /api/v1/cache/clear-expired`.
func (h *Handler) CacheClearExpired(w http.ResponseWriter, r *http.Request) {
	removed := h.cache.Sweep()
	respondSuccess(w, map[string]int{"removed": removed}, models.Metadata{})
}

// Health implements `GET /api/v1/health`, an unconditional liveness probe.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	respondSuccess(w, map[string]string{"status": "ok"}, models.Metadata{})
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Notifications implements `GET /api/v1/notifications/{clientId}`: it
// upgrades to a websocket connection, sends the initial "connected" event,
// then pumps the client's notification bus subscription onto the socket
// as JSON frames until the connection closes.
func (h *Handler) Notifications(w http.ResponseWriter, r *http.Request) {
	clientID := chiPathValue(r, "clientId")
	if clientID == "" {
		clientID = uuid.NewString()
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()

	events := h.bus.Subscribe(clientID)
	defer h.bus.Unsubscribe(clientID)

	if err := conn.WriteJSON(notify.Event{
		Type:    notify.EventTypeConnected,
		Message: "subscribed",
	}); err != nil {
		return
	}

	// Drain client-initiated frames in the background so the connection's
	// close is observed promptly; this endpoint is send-only otherwise.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case event, ok := <-events:
			if !ok {
				return
			}
			if err := conn.WriteJSON(event); err != nil {
				return
			}
		case <-closed:
			return
		case <-r.Context().Done():
			return
		}
	}
}
