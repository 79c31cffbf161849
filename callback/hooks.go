package callback

import (
	"context"
	"time"
)

// Hook names the fixed set of lifecycle events.
type Hook string

const (
	HookPhaseStart     Hook = "phase_start"
	HookPhaseComplete  Hook = "phase_complete"
	HookPhaseFailed    Hook = "phase_failed"
	HookStepStart      Hook = "step_start"
	HookStepComplete   Hook = "step_complete"
	HookStepFailed     Hook = "step_failed"
	HookAgentMessage   Hook = "agent_message"
	HookCodeExecution  Hook = "code_execution"
	HookToolCall       Hook = "tool_call"
	HookCostUpdate     Hook = "cost_update"
	HookCheckpoint     Hook = "checkpoint"
	HookApproval       Hook = "approval"
	HookWorkflowFailed Hook = "workflow_failed"
	HookCustom         Hook = "custom"
)

// hookShouldContinue is the breaker key of the should-continue predicate.
const hookShouldContinue = "should_continue"

// Event is one structured lifecycle record, suitable for persistence or
// live streaming.
type Event struct {
	Seq        uint64         `json:"seq"`
	Hook       Hook           `json:"hook"`
	Timestamp  time.Time      `json:"timestamp"`
	WorkflowID string         `json:"workflow_id,omitempty"`
	RunID      string         `json:"run_id,omitempty"`
	PhaseID    string         `json:"phase_id,omitempty"`
	Step       int            `json:"step,omitempty"`
	Payload    map[string]any `json:"payload,omitempty"`
}

// Handler consumes one event. Errors are counted by the circuit breaker
// and never propagate into the workflow.
type Handler func(ctx context.Context, event Event) error

// Set is one observer registration: handlers per hook plus the two
// special predicates.
type Set struct {
	// Name identifies the set in logs and metrics.
	Name string
	// Handlers maps hooks to their handler.
	Handlers map[Hook]Handler
	// ShouldContinue reports whether the workflow may keep advancing.
	// Nil means always continue.
	ShouldContinue func(ctx context.Context) (bool, error)
	// PauseCheck is invoked at every cancellation poll point. Nil is
	// skipped. All merged PauseChecks are invoked.
	PauseCheck func(ctx context.Context) error
}
