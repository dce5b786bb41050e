// Abyss - Self-Hosted Media Proxy and Access Control Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/abyss

package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// RequestsTotal counts every HTTP request the REST adapter served,
	// partitioned by method, route, and status code.
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "abyss_api_requests_total",
			Help: "Total number of REST API requests.",
		},
		[]string{"method", "route", "status_code"},
	)

	// RequestDuration observes REST request latency.
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "abyss_api_request_duration_seconds",
			Help:    "REST API request duration in seconds.",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		},
		[]string{"method", "route"},
	)

	// ActiveRequests tracks in-flight REST requests.
	ActiveRequests = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "abyss_api_active_requests",
			Help: "Current number of in-flight REST API requests.",
		},
	)
)

// RecordAPIRequest records one completed request: method, route, status,
// and observed duration.
func RecordAPIRequest(method, route, statusCode string, duration time.Duration) {
	RequestsTotal.WithLabelValues(method, route, statusCode).Inc()
	RequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

// TrackActiveRequest increments or decrements the in-flight gauge around a
// request's lifetime.
func TrackActiveRequest(active bool) {
	if active {
		ActiveRequests.Inc()
		return
	}
	ActiveRequests.Dec()
}

// Handler returns the Prometheus scrape endpoint for mounting at /metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}
