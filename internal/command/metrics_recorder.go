// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 DevkitServer Contributors

package command

import "time"

// MetricsRecorder tracks command execution metrics for a single dispatch.
type MetricsRecorder struct {
	startTime     time.Time
	commandName   string
	commandSource string
	status        string
}

// NewMetricsRecorder initializes a recorder for a single dispatch.
func NewMetricsRecorder() *MetricsRecorder {
	return &MetricsRecorder{startTime: time.Now()}
}

// SetCommand sets the command name and owner for metrics.
func (m *MetricsRecorder) SetCommand(info Info) {
	m.commandName = info.Name
	m.commandSource = info.Plugin
	if m.commandSource == "" {
		m.commandSource = "devkitserver"
	}
}

// SetStatus sets the execution status for metrics.
func (m *MetricsRecorder) SetStatus(status string) {
	m.status = status
}

// Status returns the status set so far.
func (m *MetricsRecorder) Status() string {
	return m.status
}

// Elapsed returns the time since the recorder was created.
func (m *MetricsRecorder) Elapsed() time.Duration {
	return time.Since(m.startTime)
}

// Record writes the collected metrics if a command name is available.
func (m *MetricsRecorder) Record() {
	if m.commandName == "" {
		return
	}

	RecordCommandExecution(m.commandName, m.commandSource, m.status)
	RecordCommandDuration(m.commandName, m.commandSource, m.Elapsed())
}
