// Package metrics provides Prometheus-based recording of runtime activity:
// LLM requests, tool executions, worker spawns, and terminal request outcomes.
package metrics

import "time"

// Recorder records runtime activity.
type Recorder interface {
	// ObserveLLMRequest records one completed LLM request.
	ObserveLLMRequest(model, strategy string, promptTokens, completionTokens int,
		cost float64, success bool, errorType string, duration time.Duration)

	// ObserveToolExecution records one terminal tool result.
	ObserveToolExecution(tool string, success bool, attempts int, duration time.Duration)

	// IncWorkerSpawn counts one spawned child worker.
	IncWorkerSpawn(strategy string)

	// ObserveRequestOutcome counts one terminal request (completed, error,
	// cancelled, busy).
	ObserveRequestOutcome(strategy, outcome string, duration time.Duration)
}

// NopRecorder discards all metrics.
type NopRecorder struct{}

// Nop returns a recorder that discards everything.
func Nop() Recorder {
	return &NopRecorder{}
}

// ObserveLLMRequest does nothing.
func (n *NopRecorder) ObserveLLMRequest(string, string, int, int, float64, bool, string, time.Duration) {
}

// ObserveToolExecution does nothing.
func (n *NopRecorder) ObserveToolExecution(string, bool, int, time.Duration) {}

// IncWorkerSpawn does nothing.
func (n *NopRecorder) IncWorkerSpawn(string) {}

// ObserveRequestOutcome does nothing.
func (n *NopRecorder) ObserveRequestOutcome(string, string, time.Duration) {}
