package approval

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/phaseflow/types"
)

// Well-known shared-state keys for feedback propagation. Later phases are
// expected to append this text to their task instructions, never replace
// them.
const (
	// SharedKeyFeedback accumulates feedback sections across the run.
	SharedKeyFeedback = "approval_feedback"
	// SharedKeyLastFeedback holds only the most recent feedback text.
	SharedKeyLastFeedback = "approval_last_feedback"
	// SharedKeyLastResolution holds the most recent resolution kind.
	SharedKeyLastResolution = "approval_last_resolution"
)

// feedbackSectionPrefix starts every accumulated feedback section and is
// the boundary the size bound cuts at.
const feedbackSectionPrefix = "\n\n## "

// GateConfig configures an approval gate.
type GateConfig struct {
	// Timeout bounds the wait for a resolution.
	Timeout time.Duration `json:"timeout" yaml:"timeout"`
	// AutoApproveOnTimeout selects the default outcome when the wait
	// times out: approve when true, reject when false.
	AutoApproveOnTimeout bool `json:"auto_approve_on_timeout" yaml:"auto_approve_on_timeout"`
	// MaxFeedbackBytes bounds the accumulated feedback in shared state.
	MaxFeedbackBytes int `json:"max_feedback_bytes" yaml:"max_feedback_bytes"`
}

// DefaultGateConfig returns the default gate policy.
func DefaultGateConfig() GateConfig {
	return GateConfig{
		Timeout:              30 * time.Minute,
		AutoApproveOnTimeout: false,
		MaxFeedbackBytes:     16 * 1024,
	}
}

// Gate suspends a phase on a human decision. With no manager wired it
// short-circuits to automatic approval so the workflow stays runnable
// headless.
type Gate struct {
	mgr    Manager
	cfg    GateConfig
	logger *zap.Logger
}

// NewGate creates a gate. mgr may be nil for headless operation.
func NewGate(mgr Manager, cfg GateConfig, logger *zap.Logger) *Gate {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultGateConfig().Timeout
	}
	if cfg.MaxFeedbackBytes <= 0 {
		cfg.MaxFeedbackBytes = DefaultGateConfig().MaxFeedbackBytes
	}
	return &Gate{
		mgr:    mgr,
		cfg:    cfg,
		logger: logger.With(zap.String("component", "approval_gate")),
	}
}

// RequestApproval creates the request and awaits its resolution. On
// timeout the configured default policy synthesizes the outcome; the
// resolution is always non-nil unless ctx was cancelled or the manager
// itself failed.
func (g *Gate) RequestApproval(ctx context.Context, req *Request) (*Resolution, error) {
	if req.ID == "" {
		req.ID = newRequestID()
	}
	if req.CreatedAt.IsZero() {
		req.CreatedAt = time.Now()
	}
	if len(req.AllowedResolutions) == 0 {
		req.AllowedResolutions = []ResolutionKind{ResolutionApprove, ResolutionReject, ResolutionModify}
	}

	if g.mgr == nil {
		g.logger.Info("no approval manager wired, auto-approving",
			zap.String("request_id", req.ID),
			zap.String("checkpoint_type", req.CheckpointType))
		return &Resolution{Kind: ResolutionApprove, ResolvedAt: time.Now(), Auto: true}, nil
	}

	handle, err := g.mgr.CreateRequest(ctx, req)
	if err != nil {
		return nil, types.NewErrorf(types.ErrInternal, "create approval request %s", req.ID).WithCause(err)
	}

	g.logger.Info("awaiting approval",
		zap.String("request_id", req.ID),
		zap.String("step_id", req.StepID),
		zap.Duration("timeout", g.cfg.Timeout))

	res, err := g.mgr.Await(ctx, handle, g.cfg.Timeout)
	if err != nil {
		if types.GetErrorCode(err) == types.ErrApprovalTimeout {
			kind := ResolutionReject
			if g.cfg.AutoApproveOnTimeout {
				kind = ResolutionApprove
			}
			g.logger.Warn("approval timed out, applying default policy",
				zap.String("request_id", req.ID),
				zap.String("default", string(kind)))
			return &Resolution{Kind: kind, ResolvedAt: time.Now(), TimedOut: true}, nil
		}
		return nil, err
	}
	if res.ResolvedAt.IsZero() {
		res.ResolvedAt = time.Now()
	}
	return res, nil
}

// FoldFeedback carries a resolution's free-text feedback into shared
// state under the well-known keys. Feedback accumulates as titled
// sections; the accumulated text is size-bounded, keeping the most recent
// sections and cutting at a section boundary.
func (g *Gate) FoldFeedback(shared map[string]any, checkpointType string, res *Resolution) {
	if res == nil || shared == nil {
		return
	}
	shared[SharedKeyLastResolution] = string(res.Kind)
	if res.Feedback == "" {
		return
	}
	shared[SharedKeyLastFeedback] = res.Feedback

	accumulated, _ := shared[SharedKeyFeedback].(string)
	accumulated += fmt.Sprintf("%s%s (%s)\n%s", feedbackSectionPrefix, checkpointType, res.Kind, res.Feedback)
	shared[SharedKeyFeedback] = trimFeedback(accumulated, g.cfg.MaxFeedbackBytes)
}

// trimFeedback drops the oldest sections until the text fits, cutting
// only at section boundaries so no section is left truncated mid-way.
func trimFeedback(text string, maxBytes int) string {
	for len(text) > maxBytes {
		next := strings.Index(text[len(feedbackSectionPrefix):], feedbackSectionPrefix)
		if next < 0 {
			// A single oversized section: keep it whole rather than cut
			// inside a section.
			return text
		}
		text = text[next+len(feedbackSectionPrefix):]
	}
	return text
}
