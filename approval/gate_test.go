package approval

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGate_HeadlessAutoApproves(t *testing.T) {
	g := NewGate(nil, DefaultGateConfig(), nil)

	res, err := g.RequestApproval(context.Background(), &Request{
		RunID: "r1", StepID: "plan", CheckpointType: "plan_review", Message: "approve the plan",
	})
	require.NoError(t, err)
	assert.Equal(t, ResolutionApprove, res.Kind)
	assert.True(t, res.Auto)
	assert.True(t, res.Approved())
}

func TestGate_TimeoutDefaultReject(t *testing.T) {
	mgr := NewInMemoryManager(nil)
	g := NewGate(mgr, GateConfig{Timeout: time.Second}, nil)

	start := time.Now()
	res, err := g.RequestApproval(context.Background(), &Request{RunID: "r1", StepID: "s1", CheckpointType: "review"})
	require.NoError(t, err)
	assert.True(t, res.TimedOut)
	assert.Equal(t, ResolutionReject, res.Kind)
	assert.False(t, res.Approved())
	assert.InDelta(t, time.Second.Seconds(), time.Since(start).Seconds(), 0.5)
}

func TestGate_TimeoutDefaultApprove(t *testing.T) {
	mgr := NewInMemoryManager(nil)
	g := NewGate(mgr, GateConfig{Timeout: 50 * time.Millisecond, AutoApproveOnTimeout: true}, nil)

	res, err := g.RequestApproval(context.Background(), &Request{RunID: "r1", StepID: "s1"})
	require.NoError(t, err)
	assert.True(t, res.TimedOut)
	assert.Equal(t, ResolutionApprove, res.Kind)
}

func TestGate_ResolvedWithModifications(t *testing.T) {
	mgr := NewInMemoryManager(nil)
	g := NewGate(mgr, GateConfig{Timeout: 5 * time.Second}, nil)

	done := make(chan struct{})
	var res *Resolution
	var err error
	go func() {
		defer close(done)
		res, err = g.RequestApproval(context.Background(), &Request{
			ID: "apr_fixed", RunID: "r1", StepID: "s2", CheckpointType: "code_review",
		})
	}()

	// Wait until the request is visible, then resolve it.
	require.Eventually(t, func() bool { return len(mgr.Pending()) == 1 }, time.Second, 5*time.Millisecond)
	require.NoError(t, mgr.Resolve("apr_fixed", &Resolution{
		Kind:          ResolutionModify,
		Feedback:      "rename the helper",
		Modifications: map[string]any{"target": "helper.go"},
	}))

	<-done
	require.NoError(t, err)
	assert.Equal(t, ResolutionModify, res.Kind)
	assert.True(t, res.Approved())
	assert.Equal(t, "helper.go", res.Modifications["target"])

	// One request maps to exactly one terminal resolution.
	assert.Error(t, mgr.Resolve("apr_fixed", &Resolution{Kind: ResolutionApprove}))
}

func TestFoldFeedback_AppendsSections(t *testing.T) {
	g := NewGate(nil, DefaultGateConfig(), nil)
	shared := map[string]any{}

	g.FoldFeedback(shared, "plan_review", &Resolution{Kind: ResolutionReject, Feedback: "too broad"})
	g.FoldFeedback(shared, "code_review", &Resolution{Kind: ResolutionModify, Feedback: "split the module"})

	acc := shared[SharedKeyFeedback].(string)
	assert.Contains(t, acc, "## plan_review (reject)\ntoo broad")
	assert.Contains(t, acc, "## code_review (modify)\nsplit the module")
	assert.Less(t, strings.Index(acc, "plan_review"), strings.Index(acc, "code_review"),
		"sections accumulate in order")
	assert.Equal(t, "split the module", shared[SharedKeyLastFeedback])
	assert.Equal(t, "modify", shared[SharedKeyLastResolution])
}

func TestFoldFeedback_SizeBoundCutsAtSectionBoundary(t *testing.T) {
	g := NewGate(nil, GateConfig{Timeout: time.Minute, MaxFeedbackBytes: 400}, nil)
	shared := map[string]any{}

	for i := 0; i < 10; i++ {
		g.FoldFeedback(shared, "iteration", &Resolution{
			Kind:     ResolutionRedo,
			Feedback: strings.Repeat("x", 100),
		})
	}

	acc := shared[SharedKeyFeedback].(string)
	assert.LessOrEqual(t, len(acc), 400)
	assert.True(t, strings.HasPrefix(acc, "\n\n## iteration"), "trim must cut at a section boundary")
	// The most recent section is always kept.
	assert.Contains(t, acc, strings.Repeat("x", 100))
}

func TestFoldFeedback_EmptyFeedbackOnlyRecordsKind(t *testing.T) {
	g := NewGate(nil, DefaultGateConfig(), nil)
	shared := map[string]any{}

	g.FoldFeedback(shared, "review", &Resolution{Kind: ResolutionApprove})

	assert.Equal(t, "approve", shared[SharedKeyLastResolution])
	_, hasAcc := shared[SharedKeyFeedback]
	assert.False(t, hasAcc)
}
