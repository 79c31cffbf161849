package phase

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/phaseflow/approval"
	"github.com/BaSui01/phaseflow/callback"
	"github.com/BaSui01/phaseflow/types"
)

// stubPhase lets tests script Execute behavior.
type stubPhase struct {
	typ     string
	execute func(ctx context.Context, em *ExecutionManager) error
}

func (p *stubPhase) Type() string                 { return p.typ }
func (p *stubPhase) DisplayName() string          { return p.typ }
func (p *stubPhase) RequiredAgents() []string     { return nil }
func (p *stubPhase) ValidateInput(*Context) []string { return nil }
func (p *stubPhase) CanSkip(*Context) bool        { return false }
func (p *stubPhase) Execute(ctx context.Context, em *ExecutionManager) error {
	if p.execute == nil {
		return nil
	}
	return p.execute(ctx, em)
}

// memCheckpointer is a map-backed Checkpointer for tests.
type memCheckpointer struct {
	mu    sync.Mutex
	blobs map[string][]byte
}

func newMemCheckpointer() *memCheckpointer {
	return &memCheckpointer{blobs: make(map[string][]byte)}
}

func (s *memCheckpointer) SaveCheckpoint(_ context.Context, scope, id string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blobs[scope+"/"+id] = append([]byte(nil), data...)
	return nil
}

func (s *memCheckpointer) LoadCheckpoint(_ context.Context, scope, id string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	blob, ok := s.blobs[scope+"/"+id]
	if !ok {
		return nil, types.NewErrorf(types.ErrCheckpointNotFound, "checkpoint %s/%s not found", scope, id)
	}
	return blob, nil
}

func newManager(t *testing.T, p Phase, opts ManagerOptions) *ExecutionManager {
	t.Helper()
	if opts.Context == nil {
		opts.Context = NewContext("wf_test", "phase_1")
	}
	opts.Phase = p
	return NewExecutionManager(opts)
}

func TestExecuteSuccessProducesCompletedResult(t *testing.T) {
	p := &stubPhase{typ: "analyze", execute: func(_ context.Context, em *ExecutionManager) error {
		em.Context().OutputData["answer"] = 42
		return nil
	}}
	dispatcher := callback.NewDispatcher(callback.Config{}, nil, nil)
	em := newManager(t, p, ManagerOptions{Dispatcher: dispatcher})

	res := em.Execute(context.Background())

	require.Equal(t, StatusCompleted, res.Status)
	assert.Equal(t, 42, res.Output["answer"])
	assert.False(t, res.Failed())
	assert.Equal(t, StatusCompleted, em.Status())

	hooks := make([]callback.Hook, 0)
	for _, ev := range dispatcher.Events() {
		hooks = append(hooks, ev.Hook)
	}
	assert.Contains(t, hooks, callback.HookPhaseStart)
	assert.Contains(t, hooks, callback.HookPhaseComplete)
}

func TestExecutePanicYieldsFailedResult(t *testing.T) {
	p := &stubPhase{typ: "analyze", execute: func(context.Context, *ExecutionManager) error {
		panic("boom")
	}}
	em := newManager(t, p, ManagerOptions{})

	res := em.Execute(context.Background())

	require.Equal(t, StatusFailed, res.Status)
	assert.Contains(t, res.Error, "boom")
	assert.NotEmpty(t, res.Trace)
	assert.False(t, res.Cancelled)
}

func TestExecuteErrorYieldsFailedResult(t *testing.T) {
	p := &stubPhase{typ: "analyze", execute: func(context.Context, *ExecutionManager) error {
		return types.NewError(types.ErrNodeExecution, "compiler exploded")
	}}
	dispatcher := callback.NewDispatcher(callback.Config{}, nil, nil)
	em := newManager(t, p, ManagerOptions{Dispatcher: dispatcher})

	res := em.Execute(context.Background())

	require.True(t, res.Failed())
	assert.Contains(t, res.Error, "compiler exploded")

	var failed bool
	for _, ev := range dispatcher.Events() {
		if ev.Hook == callback.HookPhaseFailed {
			failed = true
		}
	}
	assert.True(t, failed)
}

func TestCancelledTokenYieldsCancelledFailure(t *testing.T) {
	token := NewCancelToken()
	token.Cancel("user pressed stop")

	p := &stubPhase{typ: "build", execute: func(context.Context, *ExecutionManager) error {
		t.Fatal("execute must not run after cancellation")
		return nil
	}}
	em := newManager(t, p, ManagerOptions{Token: token})

	res := em.Execute(context.Background())

	require.Equal(t, StatusFailed, res.Status)
	assert.True(t, res.Cancelled)
	assert.Contains(t, res.Error, "user pressed stop")
}

func TestMidPhaseCancellationPoll(t *testing.T) {
	token := NewCancelToken()
	p := &stubPhase{typ: "build", execute: func(ctx context.Context, em *ExecutionManager) error {
		em.StartStep(ctx, 1, "first half")
		token.Cancel("stop between steps")
		return em.ErrIfCancelled(ctx)
	}}
	em := newManager(t, p, ManagerOptions{Token: token})

	res := em.Execute(context.Background())

	require.True(t, res.Failed())
	assert.True(t, res.Cancelled)
}

func TestObserverShouldContinueStopsRun(t *testing.T) {
	set := callback.Set{
		Name: "pauser",
		ShouldContinue: func(context.Context) (bool, error) {
			return false, nil
		},
	}
	dispatcher := callback.NewDispatcher(callback.Config{}, nil, nil, set)
	p := &stubPhase{typ: "build", execute: func(ctx context.Context, em *ExecutionManager) error {
		return em.ErrIfCancelled(ctx)
	}}
	em := newManager(t, p, ManagerOptions{Dispatcher: dispatcher})

	res := em.Execute(context.Background())

	require.True(t, res.Failed())
	assert.True(t, res.Cancelled)
}

func TestTerminalTransitionIsExclusive(t *testing.T) {
	p := &stubPhase{typ: "analyze"}
	em := newManager(t, p, ManagerOptions{})
	require.NoError(t, em.Start(context.Background()))

	first := em.Complete(context.Background(), map[string]any{"ok": true})
	second := em.Fail(context.Background(), types.NewError(types.ErrInternal, "late failure"), "")

	assert.Same(t, first, second)
	assert.Equal(t, StatusCompleted, second.Status)
	assert.Empty(t, second.Error)
}

func TestPauseResumeDetour(t *testing.T) {
	em := newManager(t, &stubPhase{typ: "build"}, ManagerOptions{})
	ctx := context.Background()

	// Pausing before the phase runs is invalid.
	require.Error(t, em.Pause(ctx))

	require.NoError(t, em.Start(ctx))
	require.NoError(t, em.Pause(ctx))
	assert.Equal(t, StatusPaused, em.Status())
	require.NoError(t, em.Resume(ctx))
	assert.Equal(t, StatusRunning, em.Status())
}

func TestStartTwiceRejected(t *testing.T) {
	p := &stubPhase{typ: "analyze"}
	em := newManager(t, p, ManagerOptions{})
	require.NoError(t, em.Start(context.Background()))
	err := em.Start(context.Background())
	require.Error(t, err)
	assert.Equal(t, types.ErrInvalidTransition, types.GetErrorCode(err))
}

func TestCheckpointRoundtrip(t *testing.T) {
	store := newMemCheckpointer()
	locks := NewCheckpointLocks()
	p := &stubPhase{typ: "build"}
	em := newManager(t, p, ManagerOptions{Checkpoints: store, Locks: locks})
	require.NoError(t, em.Start(context.Background()))

	type progress struct {
		Done []string `json:"done"`
	}
	require.NoError(t, em.SaveCheckpoint(context.Background(), "cp1", progress{Done: []string{"a", "b"}}))

	var got progress
	require.NoError(t, em.LoadCheckpoint(context.Background(), "cp1", &got))
	assert.Equal(t, []string{"a", "b"}, got.Done)
}

func TestCheckpointConflictBetweenInstances(t *testing.T) {
	store := newMemCheckpointer()
	locks := NewCheckpointLocks()
	pc := NewContext("wf_test", "phase_1")

	a := newManager(t, &stubPhase{typ: "build"}, ManagerOptions{Checkpoints: store, Locks: locks, Context: pc})
	b := newManager(t, &stubPhase{typ: "build"}, ManagerOptions{Checkpoints: store, Locks: locks, Context: pc.CopyForNextPhase("phase_1")})
	require.NoError(t, a.Start(context.Background()))
	require.NoError(t, b.Start(context.Background()))

	require.NoError(t, a.SaveCheckpoint(context.Background(), "cp1", "owned"))
	// Re-saving under the same owner is fine.
	require.NoError(t, a.SaveCheckpoint(context.Background(), "cp1", "owned again"))

	err := b.SaveCheckpoint(context.Background(), "cp1", "stolen")
	require.Error(t, err)
	assert.Equal(t, types.ErrCheckpointConflict, types.GetErrorCode(err))
}

func TestLocksReleasedAfterExecute(t *testing.T) {
	store := newMemCheckpointer()
	locks := NewCheckpointLocks()
	p := &stubPhase{typ: "build", execute: func(ctx context.Context, em *ExecutionManager) error {
		return em.SaveCheckpoint(ctx, "cp1", "data")
	}}
	em := newManager(t, p, ManagerOptions{Checkpoints: store, Locks: locks})
	res := em.Execute(context.Background())
	require.Equal(t, StatusCompleted, res.Status)

	// The key must be claimable by a new instance once the first is done.
	assert.NoError(t, locks.Claim("build", "cp1", "someone-else"))
}

func TestAwaitApprovalFoldsFeedback(t *testing.T) {
	mgr := approval.NewInMemoryManager(nil)
	gate := approval.NewGate(mgr, approval.GateConfig{Timeout: 5 * time.Second}, nil)

	p := &stubPhase{typ: "review", execute: func(ctx context.Context, em *ExecutionManager) error {
		res, err := em.AwaitApproval(ctx, &approval.Request{
			StepID:         "step_3",
			CheckpointType: "code_review",
			Message:        "approve generated diff?",
		})
		if err != nil {
			return err
		}
		if !res.Approved() {
			return types.NewError(types.ErrNodeExecution, "rejected")
		}
		return nil
	}}
	pc := NewContext("wf_test", "phase_1")
	em := newManager(t, p, ManagerOptions{Context: pc, Gate: gate})

	go func() {
		deadline := time.Now().Add(2 * time.Second)
		for time.Now().Before(deadline) {
			pending := mgr.Pending()
			if len(pending) == 1 {
				_ = mgr.Resolve(pending[0].ID, &approval.Resolution{
					Kind:     approval.ResolutionApprove,
					Feedback: "tighten the error message",
				})
				return
			}
			time.Sleep(5 * time.Millisecond)
		}
	}()

	res := em.Execute(context.Background())

	require.Equal(t, StatusCompleted, res.Status)
	assert.Equal(t, "tighten the error message", pc.SharedState[approval.SharedKeyLastFeedback])
	assert.Equal(t, string(approval.ResolutionApprove), pc.SharedState[approval.SharedKeyLastResolution])
	assert.Contains(t, pc.SharedState[approval.SharedKeyFeedback], "code_review")
}

func TestAwaitApprovalWithoutGateAutoApproves(t *testing.T) {
	em := newManager(t, &stubPhase{typ: "review"}, ManagerOptions{})
	require.NoError(t, em.Start(context.Background()))

	res, err := em.AwaitApproval(context.Background(), &approval.Request{CheckpointType: "plan"})
	require.NoError(t, err)
	assert.True(t, res.Auto)
	assert.True(t, res.Approved())
	assert.Equal(t, StatusRunning, em.Status())
}

func TestAgentLookup(t *testing.T) {
	coder := agentFunc(func(_ context.Context, task string, shared map[string]any) (map[string]any, string, error) {
		return shared, "did " + task, nil
	})
	em := newManager(t, &stubPhase{typ: "build"}, ManagerOptions{
		Agents: map[string]AgentExecutor{"coder": coder},
	})

	got, err := em.Agent("coder")
	require.NoError(t, err)
	_, summary, err := got.Run(context.Background(), "compile", nil)
	require.NoError(t, err)
	assert.Equal(t, "did compile", summary)

	_, err = em.Agent("reviewer")
	require.Error(t, err)
	assert.Equal(t, types.ErrAgentMissing, types.GetErrorCode(err))
}

func TestAgentMessagesLandInHistory(t *testing.T) {
	p := &stubPhase{typ: "chat", execute: func(ctx context.Context, em *ExecutionManager) error {
		em.LogAgentMessage(ctx, "user", "write tests")
		em.LogAgentMessage(ctx, "assistant", "done")
		return nil
	}}
	em := newManager(t, p, ManagerOptions{})
	res := em.Execute(context.Background())

	require.Len(t, res.History, 2)
	assert.Equal(t, "user", res.History[0].Role)
	assert.Equal(t, "done", res.History[1].Content)
}

// agentFunc adapts a function to AgentExecutor.
type agentFunc func(ctx context.Context, task string, shared map[string]any) (map[string]any, string, error)

func (f agentFunc) Run(ctx context.Context, task string, shared map[string]any) (map[string]any, string, error) {
	return f(ctx, task, shared)
}
