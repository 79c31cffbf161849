package workflow

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/BaSui01/phaseflow/approval"
	"github.com/BaSui01/phaseflow/callback"
	"github.com/BaSui01/phaseflow/phase"
	"github.com/BaSui01/phaseflow/types"
)

// RunnerOptions wires one orchestrator instance. Nothing here is process
// global; independent runners never share state.
type RunnerOptions struct {
	WorkflowID string
	// Phases is the ordered list of phase declarations to run.
	Phases   []phase.Config
	Registry *phase.Registry

	Dispatcher  *callback.Dispatcher
	Checkpoints phase.Checkpointer
	Gate        *approval.Gate
	Agents      map[string]phase.AgentExecutor
	Token       *phase.CancelToken
	Logger      *zap.Logger

	// ContextPath is where the run document is persisted after every
	// phase. Empty disables persistence and resume.
	ContextPath string
	WorkDir     string
	Metadata    map[string]any
}

// Report is the outcome of one Run call.
type Report struct {
	Results []*phase.Result
	Context *Context
}

// Runner drives a workflow's phases strictly sequentially. Phase N+1
// never starts before phase N reaches a terminal state; parallelism
// exists only inside a phase's DAG fan-out.
type Runner struct {
	opts   RunnerOptions
	locks  *phase.CheckpointLocks
	logger *zap.Logger
}

// NewRunner validates the wiring and creates a runner.
func NewRunner(opts RunnerOptions) (*Runner, error) {
	if opts.WorkflowID == "" {
		return nil, types.NewError(types.ErrInvalidConfig, "workflow id is required")
	}
	if len(opts.Phases) == 0 {
		return nil, types.NewError(types.ErrInvalidConfig, "at least one phase is required")
	}
	if opts.Registry == nil {
		return nil, types.NewError(types.ErrInvalidConfig, "phase registry is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Dispatcher == nil {
		opts.Dispatcher = callback.NewDispatcher(callback.Config{}, logger, nil)
	}
	return &Runner{
		opts:   opts,
		locks:  phase.NewCheckpointLocks(),
		logger: logger.With(zap.String("component", "workflow_runner"), zap.String("workflow_id", opts.WorkflowID)),
	}, nil
}

// phaseID derives the stable id of the i-th phase.
func phaseID(i int, cfg phase.Config) string {
	return fmt.Sprintf("%02d_%s", i+1, cfg.Type)
}

// Run executes the workflow. A previously saved run document at
// ContextPath resumes the run: phases already completed or skipped are
// not re-executed; the next phase starts from the persisted shared state
// with empty input data, since per-phase outputs are not retained across
// a crash.
func (r *Runner) Run(ctx context.Context) (*Report, error) {
	wf, resumed, err := r.openContext()
	if err != nil {
		return nil, err
	}
	r.opts.Dispatcher.AddSet(r.recorderSet(wf))

	report := &Report{Context: wf}
	pc := phase.NewContext(r.opts.WorkflowID, "")
	pc.RunID = wf.RunID
	pc.WorkDir = r.opts.WorkDir
	for k, v := range wf.SharedState {
		pc.SharedState[k] = v
	}

	for i, cfg := range r.opts.Phases {
		id := phaseID(i, cfg)
		pc.PhaseID = id

		if resumed {
			if st, ok := wf.PhaseStatuses[id]; ok && (st == phase.StatusCompleted || st == phase.StatusSkipped) {
				r.logger.Info("phase already finished in prior run, skipping", zap.String("phase_id", id))
				continue
			}
		}

		p, err := r.opts.Registry.New(cfg)
		if err != nil {
			return report, err
		}

		res := r.runPhase(ctx, p, cfg, pc)
		report.Results = append(report.Results, res)

		wf.RecordPhase(id, res.Status, res.Elapsed)
		wf.MergeSharedState(pc.SharedState)
		collectOutputFiles(wf, res)
		if err := r.persist(wf); err != nil {
			return report, err
		}

		if res.Failed() {
			r.opts.Dispatcher.Dispatch(ctx, callback.Event{
				Hook:       callback.HookWorkflowFailed,
				WorkflowID: r.opts.WorkflowID,
				RunID:      wf.RunID,
				PhaseID:    id,
				Payload: map[string]any{
					"error":     res.Error,
					"cancelled": res.Cancelled,
				},
			})
			if res.Cancelled {
				return report, types.NewErrorf(types.ErrWorkflowCancelled, "run stopped at phase %s: %s", id, res.Error)
			}
			return report, types.NewErrorf(types.ErrInternal, "phase %s failed: %s", id, res.Error)
		}

		if i < len(r.opts.Phases)-1 {
			pc = pc.CopyForNextPhase(phaseID(i+1, r.opts.Phases[i+1]))
		}
	}

	r.logger.Info("workflow completed", zap.Int("phases", len(report.Results)))
	return report, nil
}

// runPhase runs one phase through its manager, converting precondition
// problems into failed or skipped results without starting Execute.
func (r *Runner) runPhase(ctx context.Context, p phase.Phase, cfg phase.Config, pc *phase.Context) *phase.Result {
	em := phase.NewExecutionManager(phase.ManagerOptions{
		Phase:       p,
		Context:     pc,
		Dispatcher:  r.opts.Dispatcher,
		Checkpoints: r.opts.Checkpoints,
		Locks:       r.locks,
		Gate:        r.opts.Gate,
		Agents:      r.opts.Agents,
		Token:       r.opts.Token,
		Logger:      r.logger,
	})

	if missing := r.missingAgents(p); len(missing) > 0 {
		return em.Fail(ctx, types.NewErrorf(types.ErrAgentMissing,
			"phase %s requires agents: %s", pc.PhaseID, strings.Join(missing, ", ")), "")
	}
	if problems := p.ValidateInput(pc); len(problems) > 0 {
		return em.Fail(ctx, types.NewErrorf(types.ErrPhaseValidation,
			"phase %s input invalid: %s", pc.PhaseID, strings.Join(problems, "; ")), "")
	}
	if p.CanSkip(pc) {
		return em.Skip(ctx, "phase reported nothing to do")
	}

	runCtx := ctx
	if cfg.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
	}
	return em.Execute(runCtx)
}

func (r *Runner) missingAgents(p phase.Phase) []string {
	var missing []string
	for _, name := range p.RequiredAgents() {
		if _, ok := r.opts.Agents[name]; !ok {
			missing = append(missing, name)
		}
	}
	return missing
}

// openContext loads the persisted run document when present, otherwise
// starts a fresh one.
func (r *Runner) openContext() (*Context, bool, error) {
	if r.opts.ContextPath != "" {
		if _, err := os.Stat(r.opts.ContextPath); err == nil {
			wf, err := LoadContext(r.opts.ContextPath)
			if err != nil {
				return nil, false, err
			}
			if wf.WorkflowID != r.opts.WorkflowID {
				return nil, false, types.NewErrorf(types.ErrInvalidConfig,
					"context at %s belongs to workflow %s", r.opts.ContextPath, wf.WorkflowID)
			}
			r.logger.Info("resuming run", zap.String("run_id", wf.RunID))
			return wf, true, nil
		}
	}
	wf := NewContext(r.opts.WorkflowID, "run_"+uuid.NewString())
	for k, v := range r.opts.Metadata {
		wf.Metadata[k] = v
	}
	return wf, false, nil
}

func (r *Runner) persist(wf *Context) error {
	if r.opts.ContextPath == "" {
		return nil
	}
	return wf.Save(r.opts.ContextPath)
}

// recorderSet folds the event stream back into the run document. The
// handlers run synchronously inside Dispatch on the executing phase's
// goroutine, which preserves the single-writer discipline.
func (r *Runner) recorderSet(wf *Context) callback.Set {
	return callback.Set{
		Name: "workflow_recorder",
		Handlers: map[callback.Hook]callback.Handler{
			callback.HookStepComplete: func(_ context.Context, ev callback.Event) error {
				wf.RecordStep(StepRecord{
					PhaseID:    ev.PhaseID,
					Step:       ev.Step,
					Status:     "completed",
					Summary:    payloadString(ev.Payload, "summary"),
					RecordedAt: ev.Timestamp,
				})
				return nil
			},
			callback.HookStepFailed: func(_ context.Context, ev callback.Event) error {
				wf.RecordStep(StepRecord{
					PhaseID:    ev.PhaseID,
					Step:       ev.Step,
					Status:     "failed",
					Error:      payloadString(ev.Payload, "error"),
					RecordedAt: ev.Timestamp,
				})
				return nil
			},
			callback.HookApproval: func(_ context.Context, ev callback.Event) error {
				timedOut, _ := ev.Payload["timed_out"].(bool)
				auto, _ := ev.Payload["auto"].(bool)
				wf.RecordApproval(ApprovalRecord{
					RequestID:      payloadString(ev.Payload, "request_id"),
					CheckpointType: payloadString(ev.Payload, "checkpoint_type"),
					Resolution:     payloadString(ev.Payload, "resolution"),
					Feedback:       payloadString(ev.Payload, "feedback"),
					TimedOut:       timedOut,
					Auto:           auto,
					ResolvedAt:     ev.Timestamp,
				})
				return nil
			},
		},
	}
}

func payloadString(payload map[string]any, key string) string {
	s, _ := payload[key].(string)
	return s
}

// collectOutputFiles lifts the conventional output_files entry of a
// phase's output into the run document.
func collectOutputFiles(wf *Context, res *phase.Result) {
	raw, ok := res.Output["output_files"]
	if !ok {
		return
	}
	switch files := raw.(type) {
	case []string:
		for _, f := range files {
			wf.AddOutputFile(f)
		}
	case []any:
		for _, f := range files {
			if s, ok := f.(string); ok {
				wf.AddOutputFile(s)
			}
		}
	}
}
