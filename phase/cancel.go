package phase

import (
	"sync"

	"github.com/BaSui01/phaseflow/types"
)

// CancelToken is the explicit cooperative-cancellation handle threaded
// through a run. It is polled at defined points; in-flight external work
// is never preempted, the orchestrator simply stops advancing at the next
// poll.
type CancelToken struct {
	mu        sync.Mutex
	cancelled bool
	reason    string
}

// NewCancelToken creates an uncancelled token.
func NewCancelToken() *CancelToken {
	return &CancelToken{}
}

// Cancel marks the token. The first reason wins; later calls are no-ops.
func (t *CancelToken) Cancel(reason string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.cancelled {
		return
	}
	t.cancelled = true
	t.reason = reason
}

// Cancelled reports whether the token was cancelled.
func (t *CancelToken) Cancelled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cancelled
}

// Err returns nil, or the WORKFLOW_CANCELLED error carrying the reason.
func (t *CancelToken) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.cancelled {
		return nil
	}
	reason := t.reason
	if reason == "" {
		reason = "workflow cancelled"
	}
	return types.NewError(types.ErrWorkflowCancelled, reason)
}
