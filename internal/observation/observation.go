// SPDX-License-Identifier: AGPL-3.0-or-later

// Package observation holds the observation data model and the merge/clip
// pipeline (component E) that fuses an upstream "recent" list with a
// "notable" list into one deduplicated, tile-clipped stream.
package observation

import (
	"time"

	"github.com/avocetlabs/birdtile/internal/geo"
)

// Record is the wire shape of a single upstream observation, as returned
// by both the recent and recent/notable endpoints.
type Record struct {
	SpeciesCode string `json:"speciesCode"`
	ComName     string `json:"comName"`
	SciName     string `json:"sciName"`
	Lat         float64 `json:"lat"`
	Lng         float64 `json:"lng"`
	ObsDt       string  `json:"obsDt"`
	SubID       string  `json:"subId"`
}

// Observation is the cache-resident, wire-to-client shape: one record per
// species+location, carrying the union of submission ids and the fused
// notable flag.
type Observation struct {
	SpeciesCode string    `json:"speciesCode"`
	ComName     string    `json:"comName"`
	SciName     string    `json:"sciName"`
	Lat         float64   `json:"lat"`
	Lng         float64   `json:"lng"`
	ObsDt       time.Time `json:"obsDt"`
	SubIDs      []string  `json:"subIds"`
	IsNotable   bool      `json:"isNotable"`
	TileID      string    `json:"_tileId,omitempty"`
}

type key struct {
	speciesCode string
	lat, lng    float64
}

func keyOf(speciesCode string, lat, lng float64) key {
	return key{speciesCode: speciesCode, lat: lat, lng: lng}
}

// ObsDtLayout is the upstream timestamp format ("2006-01-02 15:04").
const ObsDtLayout = "2006-01-02 15:04"

func parseObsDt(s string) time.Time {
	t, err := time.Parse(ObsDtLayout, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

// compress traverses one upstream list once, keyed by (speciesCode, lat,
// lng). The first occurrence is retained — the lists are sorted newest
// first by the upstream, so the first occurrence is the most recent — and
// later occurrences only contribute their submission id to the retained
// record. Returns both the deduplicated records, as a map by key, and an
// insertion-ordered key list, so downstream steps can iterate
// deterministically.
func compress(records []Record) (map[key]*Observation, []key) {
	out := make(map[key]*Observation, len(records))
	order := make([]key, 0, len(records))

	for _, r := range records {
		k := keyOf(r.SpeciesCode, r.Lat, r.Lng)
		if existing, ok := out[k]; ok {
			if r.SubID != "" && !containsString(existing.SubIDs, r.SubID) {
				existing.SubIDs = append(existing.SubIDs, r.SubID)
			}
			continue
		}
		obs := &Observation{
			SpeciesCode: r.SpeciesCode,
			ComName:     r.ComName,
			SciName:     r.SciName,
			Lat:         r.Lat,
			Lng:         r.Lng,
			ObsDt:       parseObsDt(r.ObsDt),
		}
		if r.SubID != "" {
			obs.SubIDs = []string{r.SubID}
		}
		out[k] = obs
		order = append(order, k)
	}

	return out, order
}

func containsString(haystack []string, needle string) bool {
	for _, s := range haystack {
		if s == needle {
			return true
		}
	}
	return false
}

// MergeAndClip implements §4.3: compress each list, fuse the notable flag,
// union by key, then clip to the tile's exact half-open bounds.
func MergeAndClip(recent, notable []Record, bounds geo.Bounds) []Observation {
	recentByKey, recentOrder := compress(recent)
	notableByKey, notableOrder := compress(notable)

	for _, k := range notableOrder {
		notableByKey[k].IsNotable = true
	}
	for _, k := range recentOrder {
		if _, ok := notableByKey[k]; ok {
			recentByKey[k].IsNotable = true
		}
	}

	merged := make(map[key]*Observation, len(recentOrder)+len(notableOrder))
	order := make([]key, 0, len(recentOrder)+len(notableOrder))

	for _, k := range recentOrder {
		merged[k] = recentByKey[k]
		order = append(order, k)
	}
	for _, k := range notableOrder {
		if existing, ok := merged[k]; ok {
			existing.IsNotable = existing.IsNotable || notableByKey[k].IsNotable
			for _, sub := range notableByKey[k].SubIDs {
				if !containsString(existing.SubIDs, sub) {
					existing.SubIDs = append(existing.SubIDs, sub)
				}
			}
			continue
		}
		merged[k] = notableByKey[k]
		order = append(order, k)
	}

	result := make([]Observation, 0, len(order))
	for _, k := range order {
		obs := merged[k]
		if obs.Lat < bounds.MinLat || obs.Lat >= bounds.MaxLat {
			continue
		}
		if obs.Lng < bounds.MinLng || obs.Lng >= bounds.MaxLng {
			continue
		}
		result = append(result, *obs)
	}
	return result
}
