package phase

import (
	"context"
	"time"
)

// Status is the lifecycle state of one phase invocation.
type Status string

const (
	StatusPending         Status = "pending"
	StatusRunning         Status = "running"
	StatusWaitingApproval Status = "waiting_approval"
	StatusPaused          Status = "paused"
	StatusCompleted       Status = "completed"
	StatusFailed          Status = "failed"
	StatusSkipped         Status = "skipped"
)

// Terminal reports whether the status ends the phase's lifecycle.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusSkipped:
		return true
	default:
		return false
	}
}

// validTransitions encodes the phase state machine.
var validTransitions = map[Status][]Status{
	StatusPending:         {StatusRunning, StatusSkipped},
	StatusRunning:         {StatusWaitingApproval, StatusPaused, StatusCompleted, StatusFailed},
	StatusWaitingApproval: {StatusRunning, StatusCompleted, StatusFailed},
	StatusPaused:          {StatusRunning, StatusFailed},
}

// CanTransition reports whether from may move to to.
func CanTransition(from, to Status) bool {
	for _, next := range validTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// AgentMessage is one entry of a phase's conversation history.
type AgentMessage struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// AgentExecutor is the injected unit-of-work collaborator. The core is
// agnostic to its implementation.
type AgentExecutor interface {
	// Run performs the task against the shared context and returns the
	// updated context plus a human-readable summary.
	Run(ctx context.Context, task string, shared map[string]any) (map[string]any, string, error)
}

// Config declares one phase instance inside a workflow definition.
type Config struct {
	// Type is the stable phase-type key registered in the Registry.
	Type string `json:"type" yaml:"type"`
	// DisplayName overrides the phase's own display name when non-empty.
	DisplayName string `json:"display_name,omitempty" yaml:"display_name,omitempty"`
	// Params carries phase-specific construction parameters.
	Params map[string]any `json:"params,omitempty" yaml:"params,omitempty"`
	// Timeout bounds the phase's Execute. Zero means no bound.
	Timeout time.Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`
}

// Phase is one stage of a multi-stage workflow.
type Phase interface {
	// Type returns the stable phase-type identifier.
	Type() string
	// DisplayName returns the human-readable phase name.
	DisplayName() string
	// RequiredAgents declares the named AgentExecutor collaborators the
	// phase needs. Missing agents fail validation before Execute.
	RequiredAgents() []string
	// ValidateInput checks preconditions against the context without
	// side effects; a non-empty slice prevents Execute from starting.
	ValidateInput(pc *Context) []string
	// CanSkip reports whether the phase may be skipped for this context.
	CanSkip(pc *Context) bool
	// Execute performs the phase's work through the manager: it writes
	// output into the manager's context, logs through the manager, and
	// returns an error to fail the phase. The manager converts the
	// outcome into the single Result.
	Execute(ctx context.Context, em *ExecutionManager) error
}
