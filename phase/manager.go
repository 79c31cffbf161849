package phase

import (
	"context"
	"encoding/json"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/BaSui01/phaseflow/approval"
	"github.com/BaSui01/phaseflow/callback"
	"github.com/BaSui01/phaseflow/types"
)

// ManagerOptions wires an ExecutionManager's collaborators. Everything is
// injected explicitly; there is no process-global registry.
type ManagerOptions struct {
	Phase       Phase
	Context     *Context
	Dispatcher  *callback.Dispatcher
	Checkpoints Checkpointer
	Locks       *CheckpointLocks
	Gate        *approval.Gate
	Agents      map[string]AgentExecutor
	Token       *CancelToken
	Logger      *zap.Logger
}

// ExecutionManager is the cross-cutting wrapper around one phase's run:
// lifecycle transitions, step tracking, structured event emission,
// cooperative cancellation, checkpointing, and the terminal Result.
type ExecutionManager struct {
	id          string
	phase       Phase
	pc          *Context
	dispatcher  *callback.Dispatcher
	checkpoints Checkpointer
	locks       *CheckpointLocks
	gate        *approval.Gate
	agents      map[string]AgentExecutor
	token       *CancelToken
	logger      *zap.Logger

	mu        sync.Mutex
	status    Status
	startedAt time.Time
	history   []AgentMessage
	result    *Result
}

// NewExecutionManager creates a manager for one phase invocation.
func NewExecutionManager(opts ManagerOptions) *ExecutionManager {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	dispatcher := opts.Dispatcher
	if dispatcher == nil {
		dispatcher = callback.NewDispatcher(callback.Config{}, nil, nil)
	}
	return &ExecutionManager{
		id:          "pem_" + uuid.NewString(),
		phase:       opts.Phase,
		pc:          opts.Context,
		dispatcher:  dispatcher,
		checkpoints: opts.Checkpoints,
		locks:       opts.Locks,
		gate:        opts.Gate,
		agents:      opts.Agents,
		token:       opts.Token,
		status:      StatusPending,
		logger: logger.With(
			zap.String("component", "phase_execution_manager"),
			zap.String("phase_id", opts.Context.PhaseID)),
	}
}

// Context returns the phase context being executed.
func (m *ExecutionManager) Context() *Context {
	return m.pc
}

// Status returns the current lifecycle status.
func (m *ExecutionManager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// Agent returns a required collaborator by name.
func (m *ExecutionManager) Agent(name string) (AgentExecutor, error) {
	agent, ok := m.agents[name]
	if !ok {
		return nil, types.NewErrorf(types.ErrAgentMissing, "agent %q not wired", name)
	}
	return agent, nil
}

// event builds the common envelope for this phase's events.
func (m *ExecutionManager) event(hook callback.Hook, step int, payload map[string]any) callback.Event {
	return callback.Event{
		Hook:       hook,
		WorkflowID: m.pc.WorkflowID,
		RunID:      m.pc.RunID,
		PhaseID:    m.pc.PhaseID,
		Step:       step,
		Payload:    payload,
	}
}

// transition moves the lifecycle under the mutex, rejecting invalid moves.
func (m *ExecutionManager) transition(to Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !CanTransition(m.status, to) {
		return types.NewErrorf(types.ErrInvalidTransition, "cannot move phase from %s to %s", m.status, to)
	}
	m.status = to
	return nil
}

// Start records the start time and fires the phase-started event.
func (m *ExecutionManager) Start(ctx context.Context) error {
	if err := m.transition(StatusRunning); err != nil {
		return err
	}
	m.mu.Lock()
	m.startedAt = time.Now()
	m.mu.Unlock()

	m.logger.Info("phase started", zap.String("phase_type", m.phase.Type()))
	m.dispatcher.Dispatch(ctx, m.event(callback.HookPhaseStart, 0, map[string]any{
		"phase_type":   m.phase.Type(),
		"display_name": m.phase.DisplayName(),
	}))
	return nil
}

// StartStep marks a sequential sub-step as started.
func (m *ExecutionManager) StartStep(ctx context.Context, step int, name string) {
	m.logger.Debug("step started", zap.Int("step", step), zap.String("name", name))
	m.dispatcher.Dispatch(ctx, m.event(callback.HookStepStart, step, map[string]any{"name": name}))
}

// CompleteStep marks a sub-step as completed.
func (m *ExecutionManager) CompleteStep(ctx context.Context, step int, summary string) {
	m.logger.Debug("step completed", zap.Int("step", step))
	m.dispatcher.Dispatch(ctx, m.event(callback.HookStepComplete, step, map[string]any{"summary": summary}))
}

// FailStep marks a sub-step as failed.
func (m *ExecutionManager) FailStep(ctx context.Context, step int, stepErr error) {
	m.logger.Warn("step failed", zap.Int("step", step), zap.Error(stepErr))
	payload := map[string]any{}
	if stepErr != nil {
		payload["error"] = stepErr.Error()
	}
	m.dispatcher.Dispatch(ctx, m.event(callback.HookStepFailed, step, payload))
}

// LogAgentMessage records one conversation entry and emits it.
func (m *ExecutionManager) LogAgentMessage(ctx context.Context, role, content string) {
	msg := AgentMessage{Role: role, Content: content, Timestamp: time.Now()}
	m.mu.Lock()
	m.history = append(m.history, msg)
	m.mu.Unlock()
	m.dispatcher.Dispatch(ctx, m.event(callback.HookAgentMessage, 0, map[string]any{
		"role":    role,
		"content": content,
	}))
}

// LogCodeExecution emits a code-execution event.
func (m *ExecutionManager) LogCodeExecution(ctx context.Context, language, code, output string) {
	m.dispatcher.Dispatch(ctx, m.event(callback.HookCodeExecution, 0, map[string]any{
		"language": language,
		"code":     code,
		"output":   output,
	}))
}

// LogToolCall emits a tool-call event.
func (m *ExecutionManager) LogToolCall(ctx context.Context, tool string, params map[string]any, result any) {
	m.dispatcher.Dispatch(ctx, m.event(callback.HookToolCall, 0, map[string]any{
		"tool":   tool,
		"params": params,
		"result": result,
	}))
}

// LogEvent emits a custom event.
func (m *ExecutionManager) LogEvent(ctx context.Context, kind string, payload map[string]any) {
	merged := map[string]any{"kind": kind}
	for k, v := range payload {
		merged[k] = v
	}
	m.dispatcher.Dispatch(ctx, m.event(callback.HookCustom, 0, merged))
}

// ShouldContinue polls cooperative cancellation: the token first, then
// the merged observer predicates.
func (m *ExecutionManager) ShouldContinue(ctx context.Context) bool {
	if m.token != nil && m.token.Cancelled() {
		return false
	}
	m.dispatcher.PauseCheck(ctx)
	return m.dispatcher.ShouldContinue(ctx)
}

// Pause moves a running phase to the externally paused state. The phase
// is expected to call Pause from its own cancellation-poll sites when an
// observer requests a pause rather than a stop.
func (m *ExecutionManager) Pause(ctx context.Context) error {
	if err := m.transition(StatusPaused); err != nil {
		return err
	}
	m.logger.Info("phase paused")
	m.dispatcher.Dispatch(ctx, m.event(callback.HookCustom, 0, map[string]any{"kind": "phase_paused"}))
	return nil
}

// Resume moves a paused phase back to running.
func (m *ExecutionManager) Resume(ctx context.Context) error {
	if err := m.transition(StatusRunning); err != nil {
		return err
	}
	m.logger.Info("phase resumed")
	m.dispatcher.Dispatch(ctx, m.event(callback.HookCustom, 0, map[string]any{"kind": "phase_resumed"}))
	return nil
}

// ErrIfCancelled returns the WORKFLOW_CANCELLED error when the run must
// stop. Call it before any expensive or blocking sub-step.
func (m *ExecutionManager) ErrIfCancelled(ctx context.Context) error {
	if m.token != nil {
		if err := m.token.Err(); err != nil {
			return err
		}
	}
	if err := ctx.Err(); err != nil {
		return types.NewError(types.ErrWorkflowCancelled, "context cancelled").WithCause(err)
	}
	if !m.ShouldContinue(ctx) {
		return types.NewError(types.ErrWorkflowCancelled, "observer requested stop")
	}
	return nil
}

// SaveCheckpoint serializes phase-local recovery data under
// (phase_type, checkpoint_id). The key is claimed for this manager; a
// concurrent claim by another in-flight instance fails.
func (m *ExecutionManager) SaveCheckpoint(ctx context.Context, checkpointID string, data any) error {
	if m.checkpoints == nil {
		return types.NewError(types.ErrInvalidConfig, "no checkpointer wired")
	}
	scope := m.phase.Type()
	if m.locks != nil {
		if err := m.locks.Claim(scope, checkpointID, m.id); err != nil {
			return err
		}
	}
	blob, err := json.Marshal(data)
	if err != nil {
		return types.NewErrorf(types.ErrSerialization, "marshal checkpoint %s/%s", scope, checkpointID).WithCause(err)
	}
	if err := m.checkpoints.SaveCheckpoint(ctx, scope, checkpointID, blob); err != nil {
		return err
	}
	m.dispatcher.Dispatch(ctx, m.event(callback.HookCheckpoint, 0, map[string]any{
		"checkpoint_id": checkpointID,
		"bytes":         len(blob),
	}))
	return nil
}

// LoadCheckpoint deserializes previously saved recovery data into out.
func (m *ExecutionManager) LoadCheckpoint(ctx context.Context, checkpointID string, out any) error {
	if m.checkpoints == nil {
		return types.NewError(types.ErrInvalidConfig, "no checkpointer wired")
	}
	blob, err := m.checkpoints.LoadCheckpoint(ctx, m.phase.Type(), checkpointID)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(blob, out); err != nil {
		return types.NewErrorf(types.ErrSerialization, "unmarshal checkpoint %s", checkpointID).WithCause(err)
	}
	return nil
}

// AwaitApproval suspends the phase on the human gate, folds any feedback
// into shared state, and resumes. The returned resolution is the single
// terminal outcome of the request; interpreting a rejection is the
// phase's responsibility.
func (m *ExecutionManager) AwaitApproval(ctx context.Context, req *approval.Request) (*approval.Resolution, error) {
	if m.gate == nil {
		// Keep headless semantics even when no gate was wired at all.
		return &approval.Resolution{Kind: approval.ResolutionApprove, ResolvedAt: time.Now(), Auto: true}, nil
	}
	if req.RunID == "" {
		req.RunID = m.pc.RunID
	}
	if err := m.transition(StatusWaitingApproval); err != nil {
		return nil, err
	}

	res, err := m.gate.RequestApproval(ctx, req)

	// Whatever the outcome, the phase resumes running; terminal moves are
	// Complete/Fail's job.
	if terr := m.transition(StatusRunning); terr != nil {
		m.logger.Warn("approval resume transition rejected", zap.Error(terr))
	}
	if err != nil {
		return nil, err
	}

	m.gate.FoldFeedback(m.pc.SharedState, req.CheckpointType, res)
	m.dispatcher.Dispatch(ctx, m.event(callback.HookApproval, 0, map[string]any{
		"request_id":      req.ID,
		"checkpoint_type": req.CheckpointType,
		"resolution":      string(res.Kind),
		"timed_out":       res.TimedOut,
		"auto":            res.Auto,
		"feedback":        res.Feedback,
	}))
	return res, nil
}

// terminal builds and stores the Result once; later calls get the
// existing result back with a warning and fresh=false.
func (m *ExecutionManager) terminal(status Status, mutate func(*Result)) (*Result, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.result != nil {
		m.logger.Warn("terminal transition after phase already finished",
			zap.String("have", string(m.result.Status)),
			zap.String("want", string(status)))
		return m.result, false
	}
	now := time.Now()
	res := &Result{
		PhaseID:     m.pc.PhaseID,
		PhaseType:   m.phase.Type(),
		Status:      status,
		Context:     m.pc,
		History:     m.history,
		StartedAt:   m.startedAt,
		CompletedAt: now,
	}
	if !m.startedAt.IsZero() {
		res.Elapsed = now.Sub(m.startedAt)
	}
	if mutate != nil {
		mutate(res)
	}
	m.status = status
	m.result = res
	return res, true
}

// Complete ends the phase successfully. Mutually exclusive with Fail.
func (m *ExecutionManager) Complete(ctx context.Context, output map[string]any) *Result {
	res, fresh := m.terminal(StatusCompleted, func(r *Result) {
		r.Output = output
	})
	if fresh {
		m.logger.Info("phase completed", zap.Duration("elapsed", res.Elapsed))
		m.dispatcher.Dispatch(ctx, m.event(callback.HookPhaseComplete, 0, map[string]any{
			"elapsed_ms": res.Elapsed.Milliseconds(),
		}))
	}
	return res
}

// Fail ends the phase unsuccessfully. Cancellation causes are marked so
// the driver can tell a stop request from a genuine failure.
func (m *ExecutionManager) Fail(ctx context.Context, failErr error, trace string) *Result {
	cancelled := types.IsErrorCode(failErr, types.ErrWorkflowCancelled)
	res, fresh := m.terminal(StatusFailed, func(r *Result) {
		if failErr != nil {
			r.Error = errText(failErr)
		}
		r.Trace = trace
		r.Cancelled = cancelled
	})
	if fresh {
		m.logger.Warn("phase failed",
			zap.String("error", res.Error),
			zap.Bool("cancelled", cancelled),
			zap.Duration("elapsed", res.Elapsed))
		m.dispatcher.Dispatch(ctx, m.event(callback.HookPhaseFailed, 0, map[string]any{
			"error":      res.Error,
			"cancelled":  cancelled,
			"elapsed_ms": res.Elapsed.Milliseconds(),
		}))
	}
	return res
}

// Skip ends the phase as skipped without running Execute.
func (m *ExecutionManager) Skip(ctx context.Context, reason string) *Result {
	res, fresh := m.terminal(StatusSkipped, func(r *Result) {
		r.Output = m.pc.OutputData
	})
	if fresh {
		m.logger.Info("phase skipped", zap.String("reason", reason))
		m.dispatcher.Dispatch(ctx, m.event(callback.HookCustom, 0, map[string]any{
			"kind":   "phase_skipped",
			"reason": reason,
		}))
	}
	return res
}

// Execute runs the phase under the scoped-resource protocol: Start, then
// the phase's Execute with panic and error conversion, then the terminal
// transition. Phases never need their own catch-all.
func (m *ExecutionManager) Execute(ctx context.Context) (res *Result) {
	if err := m.Start(ctx); err != nil {
		return m.Fail(ctx, err, "")
	}
	defer func() {
		if m.locks != nil {
			m.locks.ReleaseOwner(m.id)
		}
		if r := recover(); r != nil {
			stack := string(debug.Stack())
			m.logger.Error("phase panicked", zap.Any("panic", r))
			res = m.Fail(ctx, fmt.Errorf("%v", r), stack)
		}
	}()

	if err := m.ErrIfCancelled(ctx); err != nil {
		return m.Fail(ctx, err, "")
	}
	if err := m.phase.Execute(ctx, m); err != nil {
		return m.Fail(ctx, err, "")
	}
	return m.Complete(ctx, m.pc.OutputData)
}

// errText prefers the innermost cause's message so collaborator errors
// surface as the user wrote them.
func errText(err error) string {
	type unwrapper interface{ Unwrap() error }
	for {
		u, ok := err.(unwrapper)
		if !ok {
			return err.Error()
		}
		inner := u.Unwrap()
		if inner == nil {
			return err.Error()
		}
		err = inner
	}
}
