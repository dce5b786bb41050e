// Abyss - Self-Hosted Media Proxy and Access Control Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/abyss

package transport

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics follow a one-metrics.go-per-package convention: promauto-
// registered counters/gauges owned by the package they instrument.
var (
	handshakesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "abyss_transport_handshakes_total",
			Help: "Proxy handshake attempts, partitioned by outcome.",
		},
		[]string{"outcome"},
	)

	framesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "abyss_transport_frames_total",
			Help: "AEAD frames processed, partitioned by direction and outcome.",
		},
		[]string{"direction", "outcome"},
	)

	tunneledBytesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "abyss_transport_tunneled_bytes_total",
			Help: "Bytes copied between the AEAD stream and the local upstream, by direction.",
		},
		[]string{"direction"},
	)

	breakerState = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "abyss_transport_breaker_state",
			Help: "Dial circuit breaker state: 0=closed, 1=half-open, 2=open.",
		},
	)
)
