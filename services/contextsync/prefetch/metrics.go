// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package prefetch

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus metrics for the prefetch scheduler.
//
// Thread Safety: Safe for concurrent use (Prometheus metrics are thread-safe).
type Metrics struct {
	// QueueDepth is the current queued job count.
	QueueDepth prometheus.Gauge

	// Running is the current in-flight gather count.
	Running prometheus.Gauge

	// Completed counts finished jobs by outcome (success, error).
	Completed *prometheus.CounterVec

	// GatherSeconds measures successful prefetch gather latency.
	GatherSeconds prometheus.Histogram
}

// NewMetrics creates and registers the scheduler metrics with the
// given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		QueueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "contextsync",
			Subsystem: "prefetch",
			Name:      "queue_depth",
			Help:      "Queued prefetch jobs",
		}),
		Running: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "contextsync",
			Subsystem: "prefetch",
			Name:      "running",
			Help:      "In-flight prefetch gathers",
		}),
		Completed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "contextsync",
			Subsystem: "prefetch",
			Name:      "completed_total",
			Help:      "Finished prefetch jobs by outcome",
		}, []string{"outcome"}),
		GatherSeconds: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "contextsync",
			Subsystem: "prefetch",
			Name:      "gather_seconds",
			Help:      "Successful prefetch gather latency",
			Buckets:   prometheus.DefBuckets,
		}),
	}
}
