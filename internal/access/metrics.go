// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 DevkitServer Contributors

package access

import "github.com/prometheus/client_golang/prometheus"

// PermissionChanges counts successful permission mutations.
// Use RegisterMetrics to register this with a Prometheus registry.
var PermissionChanges = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "devkitserver_permission_changes_total",
		Help: "Total number of permission and group membership changes",
	},
	[]string{"operation"},
)

// PermissionChecks counts permission checks by result.
var PermissionChecks = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "devkitserver_permission_checks_total",
		Help: "Total number of permission checks",
	},
	[]string{"result"},
)

// RegisterMetrics registers access metrics with the given Prometheus registry.
// Panics if registration fails (following prometheus convention).
func RegisterMetrics(reg prometheus.Registerer) {
	reg.MustRegister(PermissionChanges)
	reg.MustRegister(PermissionChecks)
}

func recordChange(operation string) {
	PermissionChanges.WithLabelValues(operation).Inc()
}

func recordCheck(granted bool) {
	result := "denied"
	if granted {
		result = "granted"
	}
	PermissionChecks.WithLabelValues(result).Inc()
}
