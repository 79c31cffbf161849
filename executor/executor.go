// Package executor runs dependency-graph levels in parallel with a hard
// barrier between levels: level i+1 never starts before every node of
// level i has terminated, successfully or not. Node failures (errors and
// panics alike) are captured as structured per-node results and never
// abort same-level siblings.
package executor

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/phaseflow/resource"
	"github.com/BaSui01/phaseflow/types"
)

// NodeStatus is the terminal state of one node execution.
type NodeStatus string

const (
	NodeCompleted NodeStatus = "completed"
	NodeFailed    NodeStatus = "failed"
	NodeTimedOut  NodeStatus = "timed_out"
)

// NodeResult records the outcome of one node execution.
type NodeResult struct {
	NodeID    string        `json:"node_id"`
	Status    NodeStatus    `json:"status"`
	Output    any           `json:"output,omitempty"`
	Error     string        `json:"error,omitempty"`
	StartedAt time.Time     `json:"started_at"`
	Elapsed   time.Duration `json:"elapsed"`
	Level     int           `json:"level"`
}

// Failed reports whether the node terminated unsuccessfully.
func (r NodeResult) Failed() bool {
	return r.Status != NodeCompleted
}

// Fn executes one node and returns its output.
type Fn func(ctx context.Context, nodeID string) (any, error)

// Config configures a ParallelExecutor.
type Config struct {
	// BatchTimeout bounds the wait for one level. Zero means no bound.
	// Nodes still running when it fires are reported timed out; siblings
	// that already finished keep their results.
	BatchTimeout time.Duration `json:"batch_timeout" yaml:"batch_timeout"`
	// SkipSingleTaskParallelism runs singleton levels inline on the
	// calling goroutine, avoiding fan-out overhead.
	SkipSingleTaskParallelism bool `json:"skip_single_task_parallelism" yaml:"skip_single_task_parallelism"`
	// EstimateMemoryMB supplies the admission estimate per node. Nil
	// means zero (slot-only admission).
	EstimateMemoryMB func(nodeID string) int64 `json:"-" yaml:"-"`
}

// ParallelExecutor executes DAG levels under resource admission.
type ParallelExecutor struct {
	res    *resource.Manager
	cfg    Config
	logger *zap.Logger
}

// NewParallelExecutor creates an executor. res may be nil, in which case
// fan-out is unbounded.
func NewParallelExecutor(res *resource.Manager, cfg Config, logger *zap.Logger) *ParallelExecutor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ParallelExecutor{
		res:    res,
		cfg:    cfg,
		logger: logger.With(zap.String("component", "parallel_executor")),
	}
}

// ExecuteLevels runs every level in order and returns the per-node
// results keyed by node ID. The only error it returns is structural (nil
// fn); node failures live in the results.
func (e *ParallelExecutor) ExecuteLevels(ctx context.Context, levels [][]string, fn Fn) (map[string]NodeResult, error) {
	if fn == nil {
		return nil, types.NewError(types.ErrInvalidGraph, "executor fn is nil")
	}

	results := make(map[string]NodeResult)
	for i, level := range levels {
		e.logger.Debug("starting level",
			zap.Int("level", i),
			zap.Int("nodes", len(level)))

		if len(level) == 1 && e.cfg.SkipSingleTaskParallelism {
			res := e.runNode(ctx, level[0], i, fn)
			results[res.NodeID] = res
			continue
		}
		for id, res := range e.runLevel(ctx, level, i, fn) {
			results[id] = res
		}
	}
	return results, nil
}

// runLevel fans the level out and blocks at the barrier until every node
// terminated or the batch timeout fired.
func (e *ParallelExecutor) runLevel(ctx context.Context, level []string, levelIdx int, fn Fn) map[string]NodeResult {
	levelCtx := ctx
	var cancel context.CancelFunc
	if e.cfg.BatchTimeout > 0 {
		levelCtx, cancel = context.WithTimeout(ctx, e.cfg.BatchTimeout)
		defer cancel()
	}

	resultCh := make(chan NodeResult, len(level))
	started := time.Now()
	for _, nodeID := range level {
		go func(id string) {
			resultCh <- e.runNode(levelCtx, id, levelIdx, fn)
		}(nodeID)
	}

	results := make(map[string]NodeResult, len(level))
	for len(results) < len(level) {
		select {
		case res := <-resultCh:
			results[res.NodeID] = res
		case <-levelCtx.Done():
			// Batch timeout: report every unfinished node as timed out.
			// In-flight work is not preempted; it only loses its seat at
			// the barrier.
			for _, id := range level {
				if _, ok := results[id]; !ok {
					results[id] = NodeResult{
						NodeID:    id,
						Status:    NodeTimedOut,
						Error:     fmt.Sprintf("node %s exceeded batch timeout %s", id, e.cfg.BatchTimeout),
						StartedAt: started,
						Elapsed:   time.Since(started),
						Level:     levelIdx,
					}
					e.logger.Warn("node timed out at level barrier",
						zap.String("node_id", id),
						zap.Int("level", levelIdx))
				}
			}
			return results
		}
	}
	return results
}

// runNode executes one node under resource admission with full isolation:
// errors and panics become a failed NodeResult.
func (e *ParallelExecutor) runNode(ctx context.Context, nodeID string, levelIdx int, fn Fn) NodeResult {
	res := NodeResult{NodeID: nodeID, StartedAt: time.Now(), Level: levelIdx}

	if e.res != nil {
		var estMB int64
		if e.cfg.EstimateMemoryMB != nil {
			estMB = e.cfg.EstimateMemoryMB(nodeID)
		}
		if err := e.res.Acquire(ctx, nodeID, estMB); err != nil {
			res.Status = NodeFailed
			res.Error = err.Error()
			res.Elapsed = time.Since(res.StartedAt)
			return res
		}
		defer e.res.Release(nodeID)
	}

	output, err := e.invoke(ctx, nodeID, fn)
	res.Elapsed = time.Since(res.StartedAt)
	if err != nil {
		res.Status = NodeFailed
		res.Error = err.Error()
		e.logger.Warn("node failed",
			zap.String("node_id", nodeID),
			zap.Int("level", levelIdx),
			zap.Duration("elapsed", res.Elapsed),
			zap.String("error", res.Error))
		return res
	}
	res.Status = NodeCompleted
	res.Output = output
	e.logger.Debug("node completed",
		zap.String("node_id", nodeID),
		zap.Int("level", levelIdx),
		zap.Duration("elapsed", res.Elapsed))
	return res
}

// invoke calls fn with panic isolation.
func (e *ParallelExecutor) invoke(ctx context.Context, nodeID string, fn Fn) (output any, err error) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("node panicked",
				zap.String("node_id", nodeID),
				zap.Any("panic", r),
				zap.ByteString("stack", debug.Stack()))
			err = types.NewErrorf(types.ErrNodeExecution, "node %s panicked: %v", nodeID, r)
		}
	}()
	output, err = fn(ctx, nodeID)
	if err != nil {
		err = types.NewErrorf(types.ErrNodeExecution, "node %s failed", nodeID).WithCause(err)
	}
	return output, err
}
