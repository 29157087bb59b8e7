// SPDX-License-Identifier: AGPL-3.0-or-later

package upstream

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/avocetlabs/birdtile/internal/apierr"
	"github.com/avocetlabs/birdtile/internal/geo"
)

func TestNew_RequiresCredentialAndBaseURL(t *testing.T) {
	_, err := New(Config{})
	if !errors.Is(err, apierr.ErrConfigurationMissing) {
		t.Fatalf("expected ErrConfigurationMissing, got %v", err)
	}
}

// S5: five synthetic 6s-duration responses; by the fourth, minGapMs is
// within [500, 10000]; a subsequent fast response decrements
// consecutiveSlow but does not reset minGapMs to zero.
func TestPacer_SlowResponseBackoff_Scenario(t *testing.T) {
	p := &pacer{}
	slowThreshold := 5 * time.Second

	for i := 0; i < 4; i++ {
		p.recordDuration(6*time.Second, slowThreshold)
	}

	p.mu.Lock()
	gap := p.minGapMs
	slow := p.consecutiveSlow
	p.mu.Unlock()

	if slow < 3 {
		t.Fatalf("expected consecutiveSlow >= 3 after 4 slow responses, got %d", slow)
	}
	if gap < 500 || gap > 10000 {
		t.Fatalf("expected minGapMs in [500,10000], got %d", gap)
	}

	p.recordDuration(100*time.Millisecond, slowThreshold)
	p.mu.Lock()
	gapAfterFast := p.minGapMs
	slowAfterFast := p.consecutiveSlow
	p.mu.Unlock()

	if slowAfterFast != slow-1 {
		t.Errorf("expected consecutiveSlow to decrement by one, got %d -> %d", slow, slowAfterFast)
	}
	if gapAfterFast == 0 {
		t.Error("expected minGapMs to remain nonzero after a single fast response")
	}
}

func TestPacer_HeaderAdvertisedLimit_RaisesFloor(t *testing.T) {
	p := &pacer{}
	p.recordHeaderLimit(5, 100) // 5% remaining

	p.mu.Lock()
	gap := p.minGapMs
	p.mu.Unlock()

	if gap < 500 {
		t.Errorf("expected minGapMs raised to at least 500, got %d", gap)
	}
}

func TestPacer_HeaderAdvertisedLimit_IgnoresHealthyFraction(t *testing.T) {
	p := &pacer{}
	p.recordHeaderLimit(90, 100) // 90% remaining

	p.mu.Lock()
	gap := p.minGapMs
	p.mu.Unlock()

	if gap != 0 {
		t.Errorf("expected minGapMs untouched for a healthy remaining fraction, got %d", gap)
	}
}

func TestFetchTile_MergesRecentAndNotableResponses(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/recent":
			w.Write([]byte(`[{"speciesCode":"amecro","lat":36.97,"lng":-122.03,"obsDt":"2024-01-01 10:00","subId":"S1"}]`))
		case "/recent/notable":
			w.Write([]byte(`[]`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	f, err := New(Config{BaseURL: server.URL, Credential: "test-cred"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	geoCfg := geo.DefaultConfig()
	id := geo.TileIDForPoint(geoCfg, 36.97, -122.03)

	obs, err := f.FetchTile(t.Context(), id, geoCfg)
	if err != nil {
		t.Fatalf("FetchTile: %v", err)
	}
	if len(obs) != 1 || obs[0].SpeciesCode != "amecro" {
		t.Fatalf("expected one amecro observation, got %+v", obs)
	}
}

func TestFetchTile_EndpointFailureYieldsPartialResult(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/recent":
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`[{"speciesCode":"amecro","lat":36.97,"lng":-122.03,"obsDt":"2024-01-01 10:00","subId":"S1"}]`))
		case "/recent/notable":
			w.WriteHeader(http.StatusInternalServerError)
		}
	}))
	defer server.Close()

	f, err := New(Config{BaseURL: server.URL, Credential: "test-cred"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	geoCfg := geo.DefaultConfig()
	id := geo.TileIDForPoint(geoCfg, 36.97, -122.03)

	obs, err := f.FetchTile(t.Context(), id, geoCfg)
	if err != nil {
		t.Fatalf("FetchTile should not fail the whole tile on one endpoint's error: %v", err)
	}
	if len(obs) != 1 {
		t.Fatalf("expected the good endpoint's observation to survive, got %+v", obs)
	}
}

func TestParseRateLimitHeaders(t *testing.T) {
	h := http.Header{}
	h.Set("X-RateLimit-Remaining", "10")
	h.Set("X-RateLimit-Limit", "100")

	remaining, total, ok := parseRateLimitHeaders(h)
	if !ok || remaining != 10 || total != 100 {
		t.Errorf("expected (10,100,true), got (%d,%d,%v)", remaining, total, ok)
	}

	if _, _, ok := parseRateLimitHeaders(http.Header{}); ok {
		t.Error("expected ok=false when headers absent")
	}
}
