// SPDX-License-Identifier: AGPL-3.0-or-later

package orchestrator

import (
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/avocetlabs/birdtile/internal/geo"
	"github.com/avocetlabs/birdtile/internal/ledger"
	"github.com/avocetlabs/birdtile/internal/notify"
	"github.com/avocetlabs/birdtile/internal/tilecache"
	"github.com/avocetlabs/birdtile/internal/upstream"
)

func newTestEngine(t *testing.T, handler http.Handler, engineCfg Config) (*Engine, *int64) {
	t.Helper()
	var requests int64
	countingHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&requests, 1)
		handler.ServeHTTP(w, r)
	})
	server := httptest.NewServer(countingHandler)
	t.Cleanup(server.Close)

	fetcher, err := upstream.New(upstream.Config{BaseURL: server.URL, Credential: "test"})
	if err != nil {
		t.Fatalf("upstream.New: %v", err)
	}

	cache := tilecache.New(tilecache.Config{TTL: time.Minute, SweepInterval: time.Hour})
	t.Cleanup(cache.Close)
	led := ledger.New(ledger.Config{IdleTTL: time.Minute, SweepInterval: time.Hour})
	t.Cleanup(led.Close)
	bus := notify.New()

	return New(engineCfg, geo.DefaultConfig(), cache, led, fetcher, bus), &requests
}

func oneObservationHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if r.URL.Path == "/recent" {
			w.Write([]byte(`[{"speciesCode":"amecro","lat":36.97,"lng":-122.03,"obsDt":"2024-01-01 10:00","subId":"S1"}]`))
			return
		}
		w.Write([]byte(`[]`))
	})
}

// S1: cold cache, single small viewport.
func TestQuery_ColdCache_SingleSmallViewport(t *testing.T) {
	engine, requests := newTestEngine(t, oneObservationHandler(), DefaultConfig())

	v := geo.Viewport{MinLat: 36.9455, MaxLat: 37.0135, MinLng: -122.0933, MaxLng: -121.9845}
	result, err := engine.Query(t.Context(), v, "")
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if result.Metadata.HasBackgroundLoading {
		t.Error("expected no background loading with default (unbounded) MaxInitialBatches")
	}
	if len(result.Observations) == 0 {
		t.Error("expected at least one observation")
	}
	if atomic.LoadInt64(requests) == 0 {
		t.Error("expected upstream requests on a cold cache")
	}
}

// S2: warm cache — repeating the same viewport issues zero further upstream calls.
func TestQuery_WarmCache_NoFurtherUpstreamCalls(t *testing.T) {
	engine, requests := newTestEngine(t, oneObservationHandler(), DefaultConfig())
	v := geo.Viewport{MinLat: 36.9455, MaxLat: 37.0135, MinLng: -122.0933, MaxLng: -121.9845}

	if _, err := engine.Query(t.Context(), v, ""); err != nil {
		t.Fatalf("first Query: %v", err)
	}
	first := atomic.LoadInt64(requests)

	result, err := engine.Query(t.Context(), v, "")
	if err != nil {
		t.Fatalf("second Query: %v", err)
	}
	if atomic.LoadInt64(requests) != first {
		t.Errorf("expected no new upstream requests on warm cache, went from %d to %d", first, atomic.LoadInt64(requests))
	}
	if len(result.Observations) == 0 {
		t.Error("expected the warm response to still include observations")
	}
}

// S3: delta protocol for a repeated clientId.
func TestQuery_DeltaProtocol_Scenario(t *testing.T) {
	engine, _ := newTestEngine(t, oneObservationHandler(), DefaultConfig())
	v := geo.Viewport{MinLat: 36.9455, MaxLat: 37.0135, MinLng: -122.0933, MaxLng: -121.9845}

	first, err := engine.Query(t.Context(), v, "C1")
	if err != nil {
		t.Fatalf("first Query: %v", err)
	}
	if len(first.Observations) == 0 {
		t.Fatal("expected the first response to include observations")
	}
	if first.Metadata.HasBackgroundLoading {
		t.Error("expected no background loading for the first response")
	}

	second, err := engine.Query(t.Context(), v, "C1")
	if err != nil {
		t.Fatalf("second Query: %v", err)
	}
	if len(second.Observations) != 0 {
		t.Errorf("expected zero observations on the second delta query, got %d", len(second.Observations))
	}
	if second.Metadata.HasBackgroundLoading {
		t.Error("expected no background loading for the second response")
	}
}

// S6: one of two tiles fails; the good tile's observations still surface,
// the failed tile is cached as empty, and no background loading is reported.
func TestQuery_PartialUpstreamFailure_Scenario(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		lat, _ := strconv.ParseFloat(r.URL.Query().Get("lat"), 64)
		w.Header().Set("Content-Type", "application/json")
		if r.URL.Path == "/recent/notable" {
			w.Write([]byte(`[]`))
			return
		}
		// Fail requests centered south of the midline, succeed north of it.
		if lat < 37.0 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write([]byte(`[{"speciesCode":"amecro","lat":37.015,"lng":-122.0,"obsDt":"2024-01-01 10:00","subId":"S1"}]`))
	})

	engine, _ := newTestEngine(t, handler, DefaultConfig())
	v := geo.Viewport{MinLat: 36.98, MaxLat: 37.02, MinLng: -122.02, MaxLng: -121.98}

	result, err := engine.Query(t.Context(), v, "")
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if result.Metadata.HasBackgroundLoading {
		t.Error("expected no background loading")
	}
	if len(result.Observations) == 0 {
		t.Error("expected the surviving tile's observation to appear")
	}
}

func TestValidateViewport_RejectsInvertedBounds(t *testing.T) {
	v := geo.Viewport{MinLat: 37.0, MaxLat: 36.0, MinLng: -122.0, MaxLng: -121.0}
	if err := ValidateViewport(v); err == nil {
		t.Error("expected an error for inverted latitude bounds")
	}
}

func TestValidateViewport_RejectsOutOfRange(t *testing.T) {
	v := geo.Viewport{MinLat: -91, MaxLat: 10, MinLng: -122.0, MaxLng: -121.0}
	if err := ValidateViewport(v); err == nil {
		t.Error("expected an error for out-of-range latitude")
	}
}

// Background tail: with MaxInitialBatches = 0, every batch runs in the
// background and the notification bus eventually receives a completion
// event with isComplete = true.
func TestQuery_BackgroundTail_PublishesCompletion(t *testing.T) {
	engine, _ := newTestEngine(t, oneObservationHandler(), Config{MaxParallelRequests: 1, MaxInitialBatches: 0})
	ch := engine.bus.Subscribe("c1")

	v := geo.Viewport{MinLat: 36.9455, MaxLat: 37.0135, MinLng: -122.0933, MaxLng: -121.9845}
	result, err := engine.Query(t.Context(), v, "c1")
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if !result.Metadata.HasBackgroundLoading {
		t.Fatal("expected background loading when MaxInitialBatches is 0")
	}

	deadline := time.After(10 * time.Second)
	var sawComplete bool
	for !sawComplete {
		select {
		case evt := <-ch:
			if evt.Data != nil && evt.Data.IsComplete {
				sawComplete = true
			}
		case <-deadline:
			t.Fatal("timed out waiting for a completion event")
		}
	}
}
