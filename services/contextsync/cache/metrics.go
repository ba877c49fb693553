// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus metrics for the context cache.
//
// Thread Safety: Safe for concurrent use (Prometheus metrics are thread-safe).
type Metrics struct {
	// Hits counts valid cache reads.
	Hits prometheus.Counter

	// Misses counts invalid reads by reason (absent, version, expired).
	Misses *prometheus.CounterVec

	// Evictions counts removed entries by reason
	// (version, ttl, sweep, pruned, buffer_cleared).
	Evictions *prometheus.CounterVec

	// Size is the current entry count.
	Size prometheus.Gauge
}

// NewMetrics creates and registers the cache metrics with the given
// registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Hits: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "contextsync",
			Subsystem: "cache",
			Name:      "hits_total",
			Help:      "Valid context cache reads",
		}),
		Misses: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "contextsync",
			Subsystem: "cache",
			Name:      "misses_total",
			Help:      "Invalid context cache reads by reason",
		}, []string{"reason"}),
		Evictions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "contextsync",
			Subsystem: "cache",
			Name:      "evictions_total",
			Help:      "Evicted context cache entries by reason",
		}, []string{"reason"}),
		Size: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "contextsync",
			Subsystem: "cache",
			Name:      "entries",
			Help:      "Current context cache entry count",
		}),
	}
}
