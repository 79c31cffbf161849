package phase

import (
	"path/filepath"

	"github.com/google/uuid"
)

// SharedOutputKey is the output_data key whose map contents are merged
// into shared_state during hand-off. This merge is the only sanctioned
// channel for cross-phase state leakage.
const SharedOutputKey = "shared"

// Context is the unit of hand-off between phases, uniquely identified by
// (WorkflowID, RunID, PhaseID).
type Context struct {
	WorkflowID string `json:"workflow_id"`
	RunID      string `json:"run_id"`
	PhaseID    string `json:"phase_id"`
	// InputData is the previous phase's output, copied verbatim.
	InputData map[string]any `json:"input_data"`
	// OutputData is filled by the running phase.
	OutputData map[string]any `json:"output_data"`
	// SharedState persists across phases; only the running phase may
	// write it.
	SharedState map[string]any `json:"shared_state"`
	// WorkDir is the phase's working directory.
	WorkDir  string         `json:"work_dir,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// NewContext creates the first phase context of a run.
func NewContext(workflowID, phaseID string) *Context {
	return &Context{
		WorkflowID:  workflowID,
		RunID:       "run_" + uuid.NewString(),
		PhaseID:     phaseID,
		InputData:   make(map[string]any),
		OutputData:  make(map[string]any),
		SharedState: make(map[string]any),
		Metadata:    make(map[string]any),
	}
}

// CopyForNextPhase builds the next phase's context: the new shared state
// is the old shared state merged with output_data["shared"], later keys
// overriding earlier; the new input is exactly the old output; the new
// output starts empty.
func (c *Context) CopyForNextPhase(nextPhaseID string) *Context {
	shared := make(map[string]any, len(c.SharedState))
	for k, v := range c.SharedState {
		shared[k] = v
	}
	if extra, ok := c.OutputData[SharedOutputKey].(map[string]any); ok {
		for k, v := range extra {
			shared[k] = v
		}
	}

	input := make(map[string]any, len(c.OutputData))
	for k, v := range c.OutputData {
		input[k] = v
	}

	metadata := make(map[string]any, len(c.Metadata))
	for k, v := range c.Metadata {
		metadata[k] = v
	}

	return &Context{
		WorkflowID:  c.WorkflowID,
		RunID:       c.RunID,
		PhaseID:     nextPhaseID,
		InputData:   input,
		OutputData:  make(map[string]any),
		SharedState: shared,
		WorkDir:     c.WorkDir,
		Metadata:    metadata,
	}
}

// NodeWorkDir returns an isolated working directory for one DAG-parallel
// sibling. Siblings sharing a directory is a correctness bug, not an
// optimization concern.
func (c *Context) NodeWorkDir(nodeID string) string {
	if c.WorkDir == "" {
		return ""
	}
	return filepath.Join(c.WorkDir, nodeID)
}
