// SPDX-FileCopyrightText: The courier-guide authors
//
// SPDX-License-Identifier: MIT

// Package metrics exposes the prometheus instrumentation of courier-guide.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var registry = prometheus.NewRegistry()

var (
	// SamplesTotal counts delivered position samples by source.
	SamplesTotal = promauto.With(registry).NewCounterVec(prometheus.CounterOpts{
		Namespace: "courierguide",
		Name:      "position_samples_total",
		Help:      "Number of position samples delivered to navigation sessions.",
	}, []string{"source"})

	// FallbacksTotal counts sessions hopping from the indoor provider to the
	// satellite fallback.
	FallbacksTotal = promauto.With(registry).NewCounter(prometheus.CounterOpts{
		Namespace: "courierguide",
		Name:      "provider_fallbacks_total",
		Help:      "Number of indoor-to-satellite provider fallbacks.",
	})

	// ArrivalsTotal counts declared arrivals.
	ArrivalsTotal = promauto.With(registry).NewCounter(prometheus.CounterOpts{
		Namespace: "courierguide",
		Name:      "arrivals_total",
		Help:      "Number of navigation sessions that reached the arrived state.",
	})

	// ActiveSessions tracks currently running navigation sessions.
	ActiveSessions = promauto.With(registry).NewGauge(prometheus.GaugeOpts{
		Namespace: "courierguide",
		Name:      "active_sessions",
		Help:      "Number of currently active navigation sessions.",
	})
)

// Handler returns the HTTP handler serving the metrics registry.
func Handler() http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
