// Abyss - Self-Hosted Media Proxy and Access Control Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/abyss

/*
Package middleware provides HTTP middleware components for the application.

This package implements infrastructure middleware for request ID tracking and
Prometheus metrics integration, layered into restapi's chi stack alongside
chi's own RealIP, Recoverer, and CORS middleware.

Key Components:

  - Request ID: UUID-based request tracking for distributed tracing
  - Prometheus Metrics: HTTP request/response instrumentation

Middleware Stack:

restapi.Router wires these in among chi's own RealIP/Recoverer and the
CORS handler, in this order:

	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(chiAdapt(middleware.RequestID))
	r.Use(cors.Handler(corsOptions))
	r.Use(chiAdapt(middleware.PrometheusMetrics))

Usage Example - Request ID:

	import "github.com/tomtom215/abyss/internal/middleware"

	http.HandleFunc("/api/v1/logs",
	    middleware.RequestID(handler),
	)

	// Access request ID in handler
	func handler(w http.ResponseWriter, r *http.Request) {
	    requestID := r.Context().Value(middleware.RequestIDKey).(string)
	    log.Printf("[%s] Processing request", requestID)
	}

Usage Example - Prometheus Metrics:

	http.HandleFunc("/api/v1/data",
	    middleware.PrometheusMetrics(handler),
	)

	// Counters and histograms are registered once at package init
	// and exposed on the /metrics endpoint.

Performance Characteristics:

  - Request ID overhead: <0.01ms (UUID generation)
  - Metrics overhead: <0.1ms per request

Thread Safety:

All middleware components are thread-safe:
  - Request ID uses context.Context (immutable)
  - Prometheus metrics use atomic operations

See Also:

  - internal/session: challenge-response auth consumed ahead of these handlers
  - internal/restapi: HTTP handlers wrapped by this middleware
  - internal/metrics: Prometheus metrics definitions
*/
package middleware
