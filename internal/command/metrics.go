// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 DevkitServer Contributors

package command

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Status values reported for command executions.
const (
	StatusSuccess          = "success"
	StatusReply            = "reply"
	StatusError            = "error"
	StatusPanic            = "panic"
	StatusNotFound         = "not_found"
	StatusPermissionDenied = "permission_denied"
	StatusModeRejected     = "mode_rejected"
	StatusRateLimited      = "rate_limited"
	StatusScheduled        = "scheduled"
)

// CommandExecutions is the counter for command executions.
// Use RegisterMetrics to register this with a Prometheus registry.
var CommandExecutions = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "devkitserver_command_executions_total",
		Help: "Total number of command executions",
	},
	[]string{"command", "source", "status"},
)

// CommandDuration is the histogram for command execution duration.
// Use RegisterMetrics to register this with a Prometheus registry.
var CommandDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "devkitserver_command_duration_seconds",
		Help:    "Command execution duration in seconds",
		Buckets: prometheus.DefBuckets,
	},
	[]string{"command", "source"},
)

// RegisteredCommands tracks the size of the command registry.
var RegisteredCommands = prometheus.NewGauge(prometheus.GaugeOpts{
	Name: "devkitserver_registered_commands",
	Help: "Number of registered commands",
})

// RegisterMetrics registers command package metrics with the given Prometheus registry.
// Panics if registration fails (following prometheus convention).
func RegisterMetrics(reg prometheus.Registerer) {
	reg.MustRegister(CommandExecutions)
	reg.MustRegister(CommandDuration)
	reg.MustRegister(RegisteredCommands)
}

// RecordCommandExecution increments the command execution counter.
// source is the owning plugin id, or "devkitserver" for built-in commands.
func RecordCommandExecution(command, source, status string) {
	CommandExecutions.WithLabelValues(command, source, status).Inc()
}

// RecordCommandDuration records the duration of a command execution.
func RecordCommandDuration(command, source string, duration time.Duration) {
	CommandDuration.WithLabelValues(command, source).Observe(duration.Seconds())
}
