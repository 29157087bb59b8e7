// SPDX-License-Identifier: AGPL-3.0-or-later

package api

import (
	"errors"
	"net/http"

	"github.com/avocetlabs/birdtile/internal/apierr"
)

// ErrNotFound indicates a requested resource does not exist.
var ErrNotFound = errors.New("resource not found")

// statusForError maps a domain error to an HTTP status code and API error
// code, per spec.md §7's classification. Falls through to 500/INTERNAL_ERROR
// for anything unrecognized.
func statusForError(err error) (status int, code string) {
	switch {
	case errors.Is(err, apierr.ErrInvalidViewport):
		return http.StatusBadRequest, "INVALID_VIEWPORT"
	case errors.Is(err, apierr.ErrUpstreamRateLimited):
		return http.StatusBadGateway, "UPSTREAM_RATE_LIMITED"
	case errors.Is(err, apierr.ErrUpstreamUnavailable):
		return http.StatusBadGateway, "UPSTREAM_UNAVAILABLE"
	case errors.Is(err, apierr.ErrUpstreamMalformed):
		return http.StatusBadGateway, "UPSTREAM_MALFORMED"
	case errors.Is(err, apierr.ErrConfigurationMissing):
		return http.StatusInternalServerError, "CONFIGURATION_MISSING"
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound, "NOT_FOUND"
	default:
		return http.StatusInternalServerError, "INTERNAL_ERROR"
	}
}
