// Package approval implements the human-in-the-loop gate: an async
// request/await protocol for human decisions with timeouts, a
// default-on-timeout policy, and feedback propagation into shared state.
package approval

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// ResolutionKind is the terminal outcome of one approval request.
type ResolutionKind string

const (
	ResolutionApprove ResolutionKind = "approve"
	ResolutionReject  ResolutionKind = "reject"
	// ResolutionModify approves with structured modifications attached.
	ResolutionModify ResolutionKind = "modify"
	// Checkpoint-specific extensions.
	ResolutionSkip    ResolutionKind = "skip"
	ResolutionRedo    ResolutionKind = "redo"
	ResolutionClarify ResolutionKind = "clarify"
)

// Request describes one pending human decision.
type Request struct {
	ID                 string           `json:"id"`
	RunID              string           `json:"run_id"`
	StepID             string           `json:"step_id"`
	CheckpointType     string           `json:"checkpoint_type"`
	Message            string           `json:"message"`
	ContextSnapshot    map[string]any   `json:"context_snapshot,omitempty"`
	AllowedResolutions []ResolutionKind `json:"allowed_resolutions,omitempty"`
	CreatedAt          time.Time        `json:"created_at"`
}

// Resolution is the single terminal outcome of a request.
type Resolution struct {
	Kind ResolutionKind `json:"kind"`
	// Feedback is free text to carry forward into later phases.
	Feedback string `json:"feedback,omitempty"`
	// Modifications carries structured changes for ResolutionModify.
	Modifications map[string]any `json:"modifications,omitempty"`
	ResolvedBy    string         `json:"resolved_by,omitempty"`
	ResolvedAt    time.Time      `json:"resolved_at"`
	// TimedOut marks resolutions synthesized by the timeout policy.
	TimedOut bool `json:"timed_out,omitempty"`
	// Auto marks resolutions synthesized by the headless short-circuit.
	Auto bool `json:"auto,omitempty"`
}

// Approved reports whether the resolution lets the workflow proceed with
// the reviewed work (possibly modified).
func (r *Resolution) Approved() bool {
	switch r.Kind {
	case ResolutionApprove, ResolutionModify, ResolutionSkip:
		return true
	default:
		return false
	}
}

// Manager is the injected approval collaborator: it surfaces requests to
// humans and delivers resolutions back.
type Manager interface {
	// CreateRequest registers the request and returns a handle to await.
	CreateRequest(ctx context.Context, req *Request) (string, error)
	// Await blocks until the handle resolves, the timeout elapses, or ctx
	// is done. Timeout expiry returns an APPROVAL_TIMEOUT error.
	Await(ctx context.Context, handle string, timeout time.Duration) (*Resolution, error)
}

func newRequestID() string {
	return "apr_" + uuid.NewString()
}
