// SPDX-License-Identifier: AGPL-3.0-or-later

// Package upstream implements the rate-limit-aware upstream fetcher
// (component D): for a tile, it issues parallel requests to the "recent"
// and "recent/notable" endpoints, paces requests against a dynamic minimum
// gap, and wraps each endpoint in its own circuit breaker.
package upstream

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/goccy/go-json"
	gobreaker "github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"github.com/avocetlabs/birdtile/internal/apierr"
	"github.com/avocetlabs/birdtile/internal/geo"
	"github.com/avocetlabs/birdtile/internal/logging"
	"github.com/avocetlabs/birdtile/internal/metrics"
	"github.com/avocetlabs/birdtile/internal/observation"
)

// Config holds the upstream fetcher's endpoint, credential, and pacing
// parameters.
type Config struct {
	BaseURL      string
	Credential   string
	MaxBackDays  int
	RadiusBuffer float64
	HTTPTimeout  time.Duration

	// SlowThreshold is the per-request duration above which the
	// slow-response detector increments consecutiveSlow. Defaults to 5s.
	SlowThreshold time.Duration
}

// DefaultConfig mirrors spec.md §4.4/§6 defaults.
func DefaultConfig() Config {
	return Config{
		MaxBackDays:   14,
		RadiusBuffer:  1.1,
		HTTPTimeout:   30 * time.Second,
		SlowThreshold: 5 * time.Second,
	}
}

const (
	endpointRecent  = "recent"
	endpointNotable = "notable"
)

// pacer holds the shared, mutex-guarded rate-limit state described in
// spec.md §4.4 and §5.
type pacer struct {
	mu              sync.Mutex
	lastStart       time.Time
	minGapMs        int64
	consecutiveSlow int
}

func (p *pacer) waitForSlot(ctx context.Context) error {
	p.mu.Lock()
	gap := time.Duration(p.minGapMs) * time.Millisecond
	wait := gap - time.Since(p.lastStart)
	p.mu.Unlock()

	if wait <= 0 {
		return nil
	}
	select {
	case <-time.After(wait):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *pacer) recordStart() {
	p.mu.Lock()
	p.lastStart = time.Now()
	p.mu.Unlock()
}

// recordDuration applies the slow-response detector and recomputes minGapMs.
func (p *pacer) recordDuration(d time.Duration, slowThreshold time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if d > slowThreshold {
		p.consecutiveSlow++
	} else if p.consecutiveSlow > 0 {
		p.consecutiveSlow--
	}

	if p.consecutiveSlow >= 3 {
		gap := 500.0 * math.Pow(1.5, float64(p.consecutiveSlow-3))
		if gap > 10000 {
			gap = 10000
		}
		p.minGapMs = int64(gap)
	}
	metrics.UpstreamMinGapMs.Set(float64(p.minGapMs))
	metrics.UpstreamConsecutiveSlow.Set(float64(p.consecutiveSlow))
}

// recordHeaderLimit raises minGapMs to at least 500ms when the upstream
// advertises a rate-limit remaining fraction under 20%.
func (p *pacer) recordHeaderLimit(remaining, total int64) {
	if total <= 0 {
		return
	}
	if float64(remaining)/float64(total) >= 0.2 {
		return
	}
	p.mu.Lock()
	if p.minGapMs < 500 {
		p.minGapMs = 500
	}
	p.mu.Unlock()
	metrics.UpstreamMinGapMs.Set(float64(p.minGapMs))
}

// Fetcher issues tile-scoped requests against the upstream observation API.
type Fetcher struct {
	cfg    Config
	client *http.Client
	pacer  *pacer
	limiter *rate.Limiter

	breakers map[string]*gobreaker.CircuitBreaker[[]observation.Record]
}

// New constructs a Fetcher. It returns apierr.ErrConfigurationMissing if no
// credential is configured.
func New(cfg Config) (*Fetcher, error) {
	if cfg.Credential == "" || cfg.BaseURL == "" {
		return nil, apierr.ErrConfigurationMissing
	}
	if cfg.MaxBackDays <= 0 {
		cfg.MaxBackDays = DefaultConfig().MaxBackDays
	}
	if cfg.RadiusBuffer <= 0 {
		cfg.RadiusBuffer = DefaultConfig().RadiusBuffer
	}
	if cfg.HTTPTimeout <= 0 {
		cfg.HTTPTimeout = DefaultConfig().HTTPTimeout
	}
	if cfg.SlowThreshold <= 0 {
		cfg.SlowThreshold = DefaultConfig().SlowThreshold
	}

	f := &Fetcher{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.HTTPTimeout},
		pacer:  &pacer{},
		// A generous rate cap independent of the dynamic minGapMs pacing:
		// a second line of defense against bursts when many tiles become
		// missing at once.
		limiter:  rate.NewLimiter(rate.Limit(20), 5),
		breakers: make(map[string]*gobreaker.CircuitBreaker[[]observation.Record]),
	}
	for _, name := range []string{endpointRecent, endpointNotable} {
		f.breakers[name] = newBreaker(name)
	}
	return f, nil
}

func newBreaker(name string) *gobreaker.CircuitBreaker[[]observation.Record] {
	metrics.CircuitBreakerState.WithLabelValues(name).Set(0)

	return gobreaker.NewCircuitBreaker[[]observation.Record](gobreaker.Settings{
		Name:        name,
		MaxRequests: 3,
		Interval:    time.Minute,
		Timeout:     2 * time.Minute,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < 10 {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= 0.6
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			fromStr, toStr := stateToString(from), stateToString(to)
			logging.Warn().Str("endpoint", name).Str("from", fromStr).Str("to", toStr).Msg("circuit breaker state transition")
			metrics.RecordCircuitBreakerTransition(name, fromStr, toStr)
		},
	})
}

func stateToString(s gobreaker.State) string {
	switch s {
	case gobreaker.StateClosed:
		return "closed"
	case gobreaker.StateHalfOpen:
		return "half-open"
	case gobreaker.StateOpen:
		return "open"
	default:
		return "unknown"
	}
}

// FetchTile computes the tile's center and search radius, issues the
// recent and recent/notable requests in parallel, and merges/clips the
// result against the tile's bounds. Individual endpoint failures are
// logged and treated as empty contributions — FetchTile itself only
// returns an error for context cancellation.
func (f *Fetcher) FetchTile(ctx context.Context, id geo.TileID, geoCfg geo.Config) ([]observation.Observation, error) {
	bounds := geo.TileBounds(geoCfg, id)
	radiusKm := math.Sqrt2 * geoCfg.TileSideKm * f.cfg.RadiusBuffer

	var wg sync.WaitGroup
	var recent, notable []observation.Record
	wg.Add(2)

	go func() {
		defer wg.Done()
		recent = f.fetchEndpoint(ctx, endpointRecent, bounds.CenterLat, bounds.CenterLng, radiusKm)
	}()
	go func() {
		defer wg.Done()
		notable = f.fetchEndpoint(ctx, endpointNotable, bounds.CenterLat, bounds.CenterLng, radiusKm)
	}()
	wg.Wait()

	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	return observation.MergeAndClip(recent, notable, bounds), nil
}

// fetchEndpoint performs one paced, circuit-broken, rate-limited request.
// On any failure it logs the classified error and returns nil, leaving the
// caller to cache an empty contribution for this endpoint.
func (f *Fetcher) fetchEndpoint(ctx context.Context, endpoint string, lat, lng, radiusKm float64) []observation.Record {
	if err := f.limiter.Wait(ctx); err != nil {
		return nil
	}
	if err := f.pacer.waitForSlot(ctx); err != nil {
		return nil
	}

	path := "/recent"
	if endpoint == endpointNotable {
		path = "/recent/notable"
	}

	records, err := f.breakers[endpoint].Execute(func() ([]observation.Record, error) {
		return f.doRequest(ctx, path, lat, lng, radiusKm, endpoint)
	})
	if err != nil {
		logging.Warn().Err(err).Str("endpoint", endpoint).Msg("upstream fetch failed")
		metrics.UpstreamFetchErrors.WithLabelValues(endpoint, classify(err)).Inc()
		return nil
	}
	return records
}

func classify(err error) string {
	switch {
	case err == nil:
		return "none"
	case isRateLimited(err):
		return "rate_limited"
	case isMalformed(err):
		return "malformed"
	default:
		return "unavailable"
	}
}

func isRateLimited(err error) bool { return errors.Is(err, apierr.ErrUpstreamRateLimited) }
func isMalformed(err error) bool   { return errors.Is(err, apierr.ErrUpstreamMalformed) }

// doRequest issues the single HTTP call, timing it for the slow-response
// detector and inspecting rate-limit headers.
func (f *Fetcher) doRequest(ctx context.Context, path string, lat, lng, radiusKm float64, endpoint string) ([]observation.Record, error) {
	q := url.Values{}
	q.Set("lat", strconv.FormatFloat(lat, 'f', 6, 64))
	q.Set("lng", strconv.FormatFloat(lng, 'f', 6, 64))
	q.Set("dist", strconv.FormatFloat(radiusKm, 'f', 2, 64))
	q.Set("back", strconv.Itoa(f.cfg.MaxBackDays))

	reqURL := fmt.Sprintf("%s%s?%s", f.cfg.BaseURL, path, q.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apierr.ErrUpstreamUnavailable, err)
	}
	req.Header.Set("X-Credential", f.cfg.Credential)

	f.pacer.recordStart()
	start := time.Now()
	resp, err := f.client.Do(req)
	elapsed := time.Since(start)
	f.pacer.recordDuration(elapsed, f.cfg.SlowThreshold)
	metrics.UpstreamFetchDuration.WithLabelValues(endpoint).Observe(elapsed.Seconds())

	if err != nil {
		return nil, fmt.Errorf("%w: %v", apierr.ErrUpstreamUnavailable, err)
	}
	defer resp.Body.Close()

	if remaining, total, ok := parseRateLimitHeaders(resp.Header); ok {
		f.pacer.recordHeaderLimit(remaining, total)
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, apierr.ErrUpstreamRateLimited
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d", apierr.ErrUpstreamUnavailable, resp.StatusCode)
	}

	var records []observation.Record
	if err := json.NewDecoder(resp.Body).Decode(&records); err != nil {
		return nil, fmt.Errorf("%w: %v", apierr.ErrUpstreamMalformed, err)
	}
	return records, nil
}

func parseRateLimitHeaders(h http.Header) (remaining, total int64, ok bool) {
	remStr := h.Get("X-RateLimit-Remaining")
	totStr := h.Get("X-RateLimit-Limit")
	if remStr == "" || totStr == "" {
		return 0, 0, false
	}
	rem, err1 := strconv.ParseInt(remStr, 10, 64)
	tot, err2 := strconv.ParseInt(totStr, 10, 64)
	if err1 != nil || err2 != nil {
		return 0, 0, false
	}
	return rem, tot, true
}
