package types

import "context"

// contextKey is used for storing values in context.Context.
type contextKey string

const (
	keyWorkflowID contextKey = "workflow_id"
	keyRunID      contextKey = "run_id"
	keyPhaseID    contextKey = "phase_id"
)

// WithWorkflowID adds a workflow ID to context.
func WithWorkflowID(ctx context.Context, workflowID string) context.Context {
	return context.WithValue(ctx, keyWorkflowID, workflowID)
}

// WorkflowID extracts the workflow ID from context.
func WorkflowID(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(keyWorkflowID).(string)
	return v, ok && v != ""
}

// WithRunID adds a run ID to context.
func WithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, keyRunID, runID)
}

// RunID extracts the run ID from context.
func RunID(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(keyRunID).(string)
	return v, ok && v != ""
}

// WithPhaseID adds a phase ID to context.
func WithPhaseID(ctx context.Context, phaseID string) context.Context {
	return context.WithValue(ctx, keyPhaseID, phaseID)
}

// PhaseID extracts the phase ID from context.
func PhaseID(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(keyPhaseID).(string)
	return v, ok && v != ""
}
