// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package transport

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus metrics for the transport client.
//
// Thread Safety: Safe for concurrent use (Prometheus metrics are thread-safe).
type Metrics struct {
	// State is the connection state as a number
	// (0 disconnected, 1 connecting, 2 connected).
	State prometheus.Gauge

	// Connects counts successful connects.
	Connects prometheus.Counter

	// ConnectFailures counts failed dial attempts.
	ConnectFailures prometheus.Counter

	// Disconnects counts connection losses by reason
	// (read_error, write_error, heartbeat_timeout, peer_disconnect).
	Disconnects *prometheus.CounterVec

	// Sent counts written messages by type.
	Sent *prometheus.CounterVec

	// QueueDepth is the current outgoing queue length.
	QueueDepth prometheus.Gauge

	// QueueDropped counts messages dropped from a full queue.
	QueueDropped prometheus.Counter

	// HeartbeatTimeouts counts connections declared dead by silence.
	HeartbeatTimeouts prometheus.Counter
}

// NewMetrics creates and registers the transport metrics with the
// given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		State: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "contextsync",
			Subsystem: "transport",
			Name:      "state",
			Help:      "Connection state (0 disconnected, 1 connecting, 2 connected)",
		}),
		Connects: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "contextsync",
			Subsystem: "transport",
			Name:      "connects_total",
			Help:      "Successful connects to the display socket",
		}),
		ConnectFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "contextsync",
			Subsystem: "transport",
			Name:      "connect_failures_total",
			Help:      "Failed dial attempts",
		}),
		Disconnects: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "contextsync",
			Subsystem: "transport",
			Name:      "disconnects_total",
			Help:      "Connection losses by reason",
		}, []string{"reason"}),
		Sent: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "contextsync",
			Subsystem: "transport",
			Name:      "sent_total",
			Help:      "Messages written by type",
		}, []string{"type"}),
		QueueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "contextsync",
			Subsystem: "transport",
			Name:      "queue_depth",
			Help:      "Outgoing queue length",
		}),
		QueueDropped: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "contextsync",
			Subsystem: "transport",
			Name:      "queue_dropped_total",
			Help:      "Messages dropped from a full outgoing queue",
		}),
		HeartbeatTimeouts: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "contextsync",
			Subsystem: "transport",
			Name:      "heartbeat_timeouts_total",
			Help:      "Connections declared dead by pong silence",
		}),
	}
}
