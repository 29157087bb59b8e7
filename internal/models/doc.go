// SPDX-License-Identifier: AGPL-3.0-or-later

/*
Package models defines the HTTP response envelope shared by every endpoint
in the tile cache service.

  - APIResponse: the top-level envelope (status, data, metadata, error)
  - Metadata: per-response observability fields (timestamp, query time,
    cache hit, background-loading state)
  - APIError: a structured, machine-readable error payload

The observation data model itself lives in internal/observation; this
package holds only the transport envelope around it.
*/
package models
