// SPDX-License-Identifier: AGPL-3.0-or-later

// Package apierr holds the sentinel errors shared across the orchestrator,
// the upstream fetcher, and the HTTP layer.
package apierr

import "errors"

var (
	// ErrInvalidViewport indicates the caller's viewport bounds are
	// missing, non-numeric, out of range, or inverted.
	ErrInvalidViewport = errors.New("invalid viewport")

	// ErrUpstreamRateLimited indicates the upstream API responded 429.
	ErrUpstreamRateLimited = errors.New("upstream rate limited")

	// ErrUpstreamUnavailable indicates a network error or a non-2xx,
	// non-429 upstream response.
	ErrUpstreamUnavailable = errors.New("upstream unavailable")

	// ErrUpstreamMalformed indicates the upstream body did not parse as a
	// JSON array of observations.
	ErrUpstreamMalformed = errors.New("upstream response malformed")

	// ErrConfigurationMissing indicates a required configuration value,
	// such as the upstream credential, was absent at startup.
	ErrConfigurationMissing = errors.New("required configuration missing")
)
