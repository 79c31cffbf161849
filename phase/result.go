package phase

import "time"

// Result is the canonical hand-off object produced exactly once per phase
// invocation. It is immutable after creation.
type Result struct {
	PhaseID   string `json:"phase_id"`
	PhaseType string `json:"phase_type"`
	Status    Status `json:"status"`
	// Context is the phase context at termination, including OutputData.
	Context *Context       `json:"context,omitempty"`
	Output  map[string]any `json:"output,omitempty"`
	Error   string         `json:"error,omitempty"`
	Trace   string         `json:"trace,omitempty"`
	// Cancelled distinguishes failures caused by cooperative
	// cancellation from genuine errors.
	Cancelled   bool           `json:"cancelled,omitempty"`
	History     []AgentMessage `json:"history,omitempty"`
	StartedAt   time.Time      `json:"started_at"`
	CompletedAt time.Time      `json:"completed_at"`
	Elapsed     time.Duration  `json:"elapsed"`
}

// Failed reports whether the phase terminated unsuccessfully.
func (r *Result) Failed() bool {
	return r.Status == StatusFailed
}
