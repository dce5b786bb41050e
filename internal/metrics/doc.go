// Abyss - Self-Hosted Media Proxy and Access Control Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/abyss

// Package metrics holds the HTTP-request-level Prometheus instrumentation
// shared by internal/restapi and its middleware, plus the exported
// /metrics scrape handler. Metrics owned by a single subsystem instead
// live next to that subsystem: internal/transport carries its own
// package-local metrics.go, and internal/expirecache registers its lookup
// counter in expirecache.go.
package metrics
