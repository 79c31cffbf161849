package workflow

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/BaSui01/phaseflow/phase"
	"github.com/BaSui01/phaseflow/types"
)

// ContextVersion is the current WorkflowContext schema version. Loading a
// document with a different version fails rather than guessing.
const ContextVersion = 1

// PlanStep is one planned unit of work recorded in the run plan.
type PlanStep struct {
	ID          string   `json:"id"`
	Description string   `json:"description,omitempty"`
	DependsOn   []string `json:"depends_on,omitempty"`
}

// StepRecord is the durable summary of one executed step.
type StepRecord struct {
	PhaseID    string    `json:"phase_id"`
	Step       int       `json:"step"`
	Name       string    `json:"name,omitempty"`
	Status     string    `json:"status"`
	Summary    string    `json:"summary,omitempty"`
	Error      string    `json:"error,omitempty"`
	RecordedAt time.Time `json:"recorded_at"`
}

// ApprovalRecord is the durable trace of one human decision.
type ApprovalRecord struct {
	RequestID      string    `json:"request_id"`
	StepID         string    `json:"step_id,omitempty"`
	CheckpointType string    `json:"checkpoint_type"`
	Resolution     string    `json:"resolution"`
	Feedback       string    `json:"feedback,omitempty"`
	TimedOut       bool      `json:"timed_out,omitempty"`
	Auto           bool      `json:"auto,omitempty"`
	ResolvedAt     time.Time `json:"resolved_at"`
}

// Context is the master mutable state of one run. Exactly one writer is
// active at a time, the currently executing phase, so no locking is done
// here; the single-writer discipline is the Runner's job.
type Context struct {
	Version    int       `json:"version"`
	WorkflowID string    `json:"workflow_id"`
	RunID      string    `json:"run_id"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`

	Plan        []PlanStep       `json:"plan,omitempty"`
	StepResults []StepRecord     `json:"step_results,omitempty"`
	Approvals   []ApprovalRecord `json:"approvals,omitempty"`

	SharedState map[string]any `json:"shared_state"`
	OutputFiles []string       `json:"output_files,omitempty"`

	// PhaseTimings holds elapsed milliseconds per phase id.
	PhaseTimings  map[string]int64        `json:"phase_timings,omitempty"`
	PhaseStatuses map[string]phase.Status `json:"phase_statuses,omitempty"`

	Metadata map[string]any `json:"metadata,omitempty"`
}

// NewContext creates the run document at run start.
func NewContext(workflowID, runID string) *Context {
	now := time.Now()
	return &Context{
		Version:       ContextVersion,
		WorkflowID:    workflowID,
		RunID:         runID,
		CreatedAt:     now,
		UpdatedAt:     now,
		SharedState:   make(map[string]any),
		PhaseTimings:  make(map[string]int64),
		PhaseStatuses: make(map[string]phase.Status),
		Metadata:      make(map[string]any),
	}
}

// RecordStep appends one step summary.
func (c *Context) RecordStep(rec StepRecord) {
	if rec.RecordedAt.IsZero() {
		rec.RecordedAt = time.Now()
	}
	c.StepResults = append(c.StepResults, rec)
}

// RecordApproval appends one approval outcome.
func (c *Context) RecordApproval(rec ApprovalRecord) {
	c.Approvals = append(c.Approvals, rec)
}

// AddOutputFile records a produced artifact path, deduplicated.
func (c *Context) AddOutputFile(path string) {
	for _, p := range c.OutputFiles {
		if p == path {
			return
		}
	}
	c.OutputFiles = append(c.OutputFiles, path)
}

// RecordPhase captures a phase's terminal status and timing.
func (c *Context) RecordPhase(phaseID string, status phase.Status, elapsed time.Duration) {
	if c.PhaseStatuses == nil {
		c.PhaseStatuses = make(map[string]phase.Status)
	}
	if c.PhaseTimings == nil {
		c.PhaseTimings = make(map[string]int64)
	}
	c.PhaseStatuses[phaseID] = status
	c.PhaseTimings[phaseID] = elapsed.Milliseconds()
}

// MergeSharedState overwrites the run's shared state snapshot.
func (c *Context) MergeSharedState(shared map[string]any) {
	if c.SharedState == nil {
		c.SharedState = make(map[string]any)
	}
	for k, v := range shared {
		c.SharedState[k] = v
	}
}

// Save atomically serializes the context to path: the document is written
// to a temp file in the same directory and renamed over the target, so a
// crash mid-write never corrupts the previous snapshot.
func (c *Context) Save(path string) error {
	c.UpdatedAt = time.Now()
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return types.NewError(types.ErrSerialization, "marshal workflow context").WithCause(err)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return types.NewErrorf(types.ErrInternal, "create context directory %s", dir).WithCause(err)
		}
	}
	tempPath := path + ".tmp"
	if err := os.WriteFile(tempPath, data, 0644); err != nil {
		return types.NewErrorf(types.ErrInternal, "write workflow context %s", tempPath).WithCause(err)
	}
	if err := os.Rename(tempPath, path); err != nil {
		return types.NewErrorf(types.ErrInternal, "finalize workflow context %s", path).WithCause(err)
	}
	return nil
}

// LoadContext reads a previously saved run document, rejecting unknown
// schema versions.
func LoadContext(path string) (*Context, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, types.NewErrorf(types.ErrCheckpointNotFound, "no workflow context at %s", path)
		}
		return nil, types.NewErrorf(types.ErrInternal, "read workflow context %s", path).WithCause(err)
	}
	var c Context
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, types.NewErrorf(types.ErrSerialization, "unmarshal workflow context %s", path).WithCause(err)
	}
	if c.Version != ContextVersion {
		return nil, types.NewErrorf(types.ErrSerialization,
			"workflow context version %d, want %d", c.Version, ContextVersion)
	}
	if c.SharedState == nil {
		c.SharedState = make(map[string]any)
	}
	return &c, nil
}
