// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 DevkitServer Contributors

package replication

import "github.com/prometheus/client_golang/prometheus"

var (
	connectedClients = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "devkitserver_replication_clients",
		Help: "Number of connected replication clients",
	})
	droppedMessages = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "devkitserver_replication_dropped_total",
		Help: "Total number of replicated messages dropped because a client was too slow",
	})
	sentMessages = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "devkitserver_replication_sent_total",
		Help: "Total number of replicated messages queued by type",
	}, []string{"type"})
)

// RegisterMetrics registers replication metrics with reg.
func RegisterMetrics(reg prometheus.Registerer) {
	reg.MustRegister(connectedClients, droppedMessages, sentMessages)
}
