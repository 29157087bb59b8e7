// SPDX-License-Identifier: AGPL-3.0-or-later

// Package geo implements the tile geometry component: a deterministic
// mapping between geographic coordinates and tiles on a fixed-size
// equirectangular grid aligned to (0°, 0°), and the enumeration of the
// tile set covering an arbitrary viewport.
package geo

import (
	"math"
	"strconv"
)

const kmPerDegreeLat = 111.0

const degToRad = math.Pi / 180.0

// Config holds the tunables that shape the grid. TileSideKm is the side
// length of one tile in kilometres; MaxLatitude bounds the grid (tiles
// beyond it are clamped, per the documented pole limit); EdgeBuffer is the
// fractional expansion applied to a viewport before it is covered.
type Config struct {
	TileSideKm float64
	MaxLatitude float64
	EdgeBuffer  float64
}

// DefaultConfig mirrors spec.md §6's defaults: 2km tiles, ±85° latitude
// bound, 10% viewport edge buffer.
func DefaultConfig() Config {
	return Config{TileSideKm: 2.0, MaxLatitude: 85.0, EdgeBuffer: 0.1}
}

// TileID identifies a tile by its integer grid coordinates.
type TileID struct {
	Y int
	X int
}

// Bounds is a tile's exact bounding box plus its centre point.
type Bounds struct {
	MinLat, MaxLat float64
	MinLng, MaxLng float64
	CenterLat      float64
	CenterLng      float64
}

// Viewport is an axis-aligned lat/lng rectangle.
type Viewport struct {
	MinLat, MaxLat float64
	MinLng, MaxLng float64
}

func clampLat(lat, maxLat float64) float64 {
	if lat > maxLat {
		return maxLat
	}
	if lat < -maxLat {
		return -maxLat
	}
	return lat
}

func latEdgeDeg(cfg Config) float64 {
	return cfg.TileSideKm / kmPerDegreeLat
}

// lngEdgeDegAt returns the longitude edge length, in degrees, for a tile
// whose cosine-of-latitude correction is evaluated at lat.
func lngEdgeDegAt(cfg Config, lat float64) float64 {
	return cfg.TileSideKm / (kmPerDegreeLat * math.Cos(lat*degToRad))
}

// TileIDForPoint maps a point to its tile. Latitude is clamped to
// ±cfg.MaxLatitude before indexing; the row is found from the clamped
// latitude, and the longitude edge is derived from the cosine of that row's
// midline latitude (the same edge TileBounds uses) — so the same point
// always maps to the same tile regardless of call site, and always lies
// inside that tile's bounds.
func TileIDForPoint(cfg Config, lat, lng float64) TileID {
	lat = clampLat(lat, cfg.MaxLatitude)
	latEdge := latEdgeDeg(cfg)
	y := int(math.Floor(lat / latEdge))
	minLat := float64(y) * latEdge
	lngEdge := lngEdgeDegAt(cfg, (minLat+(minLat+latEdge))/2)
	return TileID{
		Y: y,
		X: int(math.Floor(lng / lngEdge)),
	}
}

// TileBounds returns a tile's exact bounding box. The longitude edge uses
// the cosine of the tile's own midline latitude, making TileBounds and
// TileIDForPoint mutual inverses up to the half-open boundary convention.
func TileBounds(cfg Config, id TileID) Bounds {
	latEdge := latEdgeDeg(cfg)
	minLat := float64(id.Y) * latEdge
	maxLat := minLat + latEdge
	centerLat := (minLat + maxLat) / 2

	lngEdge := lngEdgeDegAt(cfg, centerLat)
	minLng := float64(id.X) * lngEdge
	maxLng := minLng + lngEdge
	centerLng := (minLng + maxLng) / 2

	return Bounds{
		MinLat: minLat, MaxLat: maxLat,
		MinLng: minLng, MaxLng: maxLng,
		CenterLat: centerLat, CenterLng: centerLng,
	}
}

// TilesForViewport expands v by the configured edge buffer and enumerates
// the inclusive rectangle of integer tile coordinates between its corners.
// A zero-area viewport yields the single tile containing its point. A
// viewport that straddles the antimeridian (MinLng > MaxLng) is a
// documented limit and is not handled here — callers validate viewports
// before reaching this function.
func TilesForViewport(cfg Config, v Viewport) []TileID {
	latSpan := v.MaxLat - v.MinLat
	lngSpan := v.MaxLng - v.MinLng

	bufLat := latSpan * cfg.EdgeBuffer
	bufLng := lngSpan * cfg.EdgeBuffer

	expMinLat := clampLat(v.MinLat-bufLat, cfg.MaxLatitude)
	expMaxLat := clampLat(v.MaxLat+bufLat, cfg.MaxLatitude)
	expMinLng := v.MinLng - bufLng
	expMaxLng := v.MaxLng + bufLng

	nw := TileIDForPoint(cfg, expMaxLat, expMinLng)
	ne := TileIDForPoint(cfg, expMaxLat, expMaxLng)
	sw := TileIDForPoint(cfg, expMinLat, expMinLng)
	se := TileIDForPoint(cfg, expMinLat, expMaxLng)

	minY, maxY := minMax4(nw.Y, ne.Y, sw.Y, se.Y)
	minX, maxX := minMax4(nw.X, ne.X, sw.X, se.X)

	tiles := make([]TileID, 0, (maxY-minY+1)*(maxX-minX+1))
	for y := minY; y <= maxY; y++ {
		for x := minX; x <= maxX; x++ {
			tiles = append(tiles, TileID{Y: y, X: x})
		}
	}
	return tiles
}

func minMax4(a, b, c, d int) (min, max int) {
	min, max = a, a
	for _, v := range []int{b, c, d} {
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
	}
	return min, max
}

// String renders a tile id as "y:x", the canonical form used as a cache
// and ledger key and echoed to clients as the observation's _tileId.
func (id TileID) String() string {
	return strconv.Itoa(id.Y) + ":" + strconv.Itoa(id.X)
}
