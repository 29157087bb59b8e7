// SPDX-License-Identifier: AGPL-3.0-or-later

package geo

import (
	"math/rand"
	"testing"
)

func TestTileIDForPoint_ClampsLatitude(t *testing.T) {
	cfg := DefaultConfig()
	id1 := TileIDForPoint(cfg, 89.0, 10.0)
	id2 := TileIDForPoint(cfg, 85.0, 10.0)
	if id1 != id2 {
		t.Errorf("expected latitude beyond the bound to clamp to the same tile: %v != %v", id1, id2)
	}
}

func TestTileBounds_IsInverseOfTileIDForPoint(t *testing.T) {
	cfg := DefaultConfig()
	id := TileIDForPoint(cfg, 37.0, -122.0)
	b := TileBounds(cfg, id)

	if !(b.MinLat <= 37.0 && 37.0 < b.MaxLat) {
		t.Errorf("point latitude not within its own tile bounds: %+v", b)
	}
	if !(b.MinLng <= -122.0 && -122.0 < b.MaxLng) {
		t.Errorf("point longitude not within its own tile bounds: %+v", b)
	}
}

// P1: for any random viewport fully inside [-85,85]x[-180,180], the tiles
// returned by TilesForViewport cover every point of the viewport.
func TestTilesForViewport_CoversViewport_Property(t *testing.T) {
	cfg := DefaultConfig()
	rng := rand.New(rand.NewSource(42))

	for i := 0; i < 200; i++ {
		minLat := -80 + rng.Float64()*150
		maxLat := minLat + rng.Float64()*5 + 0.001
		if maxLat > 84.9 {
			maxLat = 84.9
		}
		minLng := -170 + rng.Float64()*330
		maxLng := minLng + rng.Float64()*5 + 0.001
		if maxLng > 179.9 {
			maxLng = 179.9
		}

		v := Viewport{MinLat: minLat, MaxLat: maxLat, MinLng: minLng, MaxLng: maxLng}
		tiles := TilesForViewport(cfg, v)
		tileSet := make(map[TileID]bool, len(tiles))
		for _, id := range tiles {
			tileSet[id] = true
		}

		samples := []struct{ lat, lng float64 }{
			{minLat, minLng},
			{maxLat - 1e-6, maxLng - 1e-6},
			{(minLat + maxLat) / 2, (minLng + maxLng) / 2},
		}
		for _, s := range samples {
			id := TileIDForPoint(cfg, s.lat, s.lng)
			if !tileSet[id] {
				t.Fatalf("viewport %+v: point (%v,%v) mapped to tile %v, not covered by %v", v, s.lat, s.lng, id, tiles)
			}
		}
	}
}

// P2: for any observation at (lat,lng) with |lat| <= 85, it lies inside
// tileBounds(tileIdForPoint(lat,lng)).
func TestObservationLiesInItsOwnTileBounds_Property(t *testing.T) {
	cfg := DefaultConfig()
	rng := rand.New(rand.NewSource(7))

	for i := 0; i < 500; i++ {
		lat := -85 + rng.Float64()*170
		lng := -180 + rng.Float64()*360

		id := TileIDForPoint(cfg, lat, lng)
		b := TileBounds(cfg, id)

		if !(b.MinLat <= lat && lat < b.MaxLat) {
			t.Fatalf("lat %v not within [%v,%v) for tile %v", lat, b.MinLat, b.MaxLat, id)
		}
		if !(b.MinLng <= lng && lng < b.MaxLng) {
			t.Fatalf("lng %v not within [%v,%v) for tile %v", lng, b.MinLng, b.MaxLng, id)
		}
	}
}

func TestTilesForViewport_ZeroAreaYieldsSingleTile(t *testing.T) {
	cfg := DefaultConfig()
	v := Viewport{MinLat: 37.0, MaxLat: 37.0, MinLng: -122.0, MaxLng: -122.0}
	tiles := TilesForViewport(cfg, v)
	if len(tiles) != 1 {
		t.Errorf("expected a single tile for a zero-area viewport, got %d", len(tiles))
	}
	want := TileIDForPoint(cfg, 37.0, -122.0)
	if tiles[0] != want {
		t.Errorf("expected tile %v, got %v", want, tiles[0])
	}
}

func TestTileIDString(t *testing.T) {
	id := TileID{Y: -3, X: 12}
	if got, want := id.String(), "-3:12"; got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
}
