// Package resource provides admission control for phase-internal task
// fan-out: a concurrency slot gate plus an estimated-memory budget. The
// budget is advisory pre-admission control only; actual usage is never
// enforced at runtime.
package resource

import (
	"context"
	"runtime"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/BaSui01/phaseflow/types"
)

// memoryHeadroom caps admitted estimates at this fraction of live
// available memory, whichever is lower than the configured budget.
const memoryHeadroom = 0.8

// memoryPerWorkerMB is the planning estimate used by OptimalWorkerCount.
const memoryPerWorkerMB = 2048

// Config configures a Manager.
type Config struct {
	// MaxConcurrent is the number of concurrency slots.
	MaxConcurrent int `json:"max_concurrent" yaml:"max_concurrent"`
	// MaxMemoryMB is the explicit estimated-memory budget.
	MaxMemoryMB int64 `json:"max_memory_mb" yaml:"max_memory_mb"`
	// MaxWorkers caps OptimalWorkerCount.
	MaxWorkers int `json:"max_workers" yaml:"max_workers"`
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		MaxConcurrent: 4,
		MaxMemoryMB:   8192,
		MaxWorkers:    8,
	}
}

// MemoryProbe reports live available system memory in MB.
type MemoryProbe interface {
	AvailableMemoryMB() int64
}

type activeTask struct {
	estimatedMB int64
	startedAt   time.Time
}

// Manager gates task admission by concurrency slots and an estimated
// memory budget. Acquire blocks until admission succeeds; TryAcquire
// fails immediately instead of blocking.
type Manager struct {
	cfg    Config
	slots  *semaphore.Weighted
	probe  MemoryProbe
	logger *zap.Logger

	mu       sync.Mutex
	active   map[string]activeTask
	activeMB int64
	// released is closed and replaced on every Release so blocked
	// acquirers can re-check the memory budget.
	released chan struct{}
}

// NewManager creates a resource manager. A nil probe falls back to the
// platform probe (Linux /proc/meminfo, conservative default elsewhere).
func NewManager(cfg Config, probe MemoryProbe, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = DefaultConfig().MaxConcurrent
	}
	if cfg.MaxMemoryMB <= 0 {
		cfg.MaxMemoryMB = DefaultConfig().MaxMemoryMB
	}
	if cfg.MaxWorkers <= 0 {
		cfg.MaxWorkers = DefaultConfig().MaxWorkers
	}
	if probe == nil {
		probe = newPlatformProbe()
	}
	return &Manager{
		cfg:      cfg,
		slots:    semaphore.NewWeighted(int64(cfg.MaxConcurrent)),
		probe:    probe,
		logger:   logger.With(zap.String("component", "resource_manager")),
		active:   make(map[string]activeTask),
		released: make(chan struct{}),
	}
}

// memoryLimitMB returns the effective budget: the lower of the explicit
// cap and the headroom fraction of live available memory.
func (m *Manager) memoryLimitMB() int64 {
	limit := m.cfg.MaxMemoryMB
	if avail := m.probe.AvailableMemoryMB(); avail > 0 {
		if headroom := int64(float64(avail) * memoryHeadroom); headroom < limit {
			limit = headroom
		}
	}
	return limit
}

// tryAdmitMemory records the task if the budget allows it. already is set
// when the ID holds an admission; the caller must then give back the
// redundant slot. When admission fails, wait is the channel to block on.
func (m *Manager) tryAdmitMemory(taskID string, estimatedMB int64) (admitted, already bool, wait chan struct{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.active[taskID]; ok {
		return true, true, nil
	}
	if m.activeMB+estimatedMB > m.memoryLimitMB() {
		return false, false, m.released
	}
	m.active[taskID] = activeTask{estimatedMB: estimatedMB, startedAt: time.Now()}
	m.activeMB += estimatedMB
	return true, false, nil
}

// Acquire blocks until a concurrency slot is free and the memory budget
// admits the task, or ctx is done.
func (m *Manager) Acquire(ctx context.Context, taskID string, estimatedMB int64) error {
	if err := m.slots.Acquire(ctx, 1); err != nil {
		return types.NewErrorf(types.ErrResourceExhausted, "slot wait aborted for task %s", taskID).
			WithCause(err).WithRetryable(true)
	}
	for {
		ok, already, wait := m.tryAdmitMemory(taskID, estimatedMB)
		if ok {
			if already {
				m.slots.Release(1)
			}
			return nil
		}
		select {
		case <-wait:
		case <-ctx.Done():
			m.slots.Release(1)
			return types.NewErrorf(types.ErrResourceExhausted, "memory wait aborted for task %s", taskID).
				WithCause(ctx.Err()).WithRetryable(true)
		}
	}
}

// TryAcquire admits the task immediately or fails with RESOURCE_EXHAUSTED.
// It never blocks, neither on slots nor on the memory budget.
func (m *Manager) TryAcquire(taskID string, estimatedMB int64) error {
	if !m.slots.TryAcquire(1) {
		return types.NewErrorf(types.ErrResourceExhausted,
			"no free slot for task %s (%d active)", taskID, m.ActiveCount()).
			WithRetryable(true)
	}
	ok, already, _ := m.tryAdmitMemory(taskID, estimatedMB)
	if ok && already {
		m.slots.Release(1)
		return nil
	}
	if !ok {
		m.slots.Release(1)
		return types.NewErrorf(types.ErrResourceExhausted,
			"memory budget exceeded for task %s (estimated %d MB, active %d MB, limit %d MB)",
			taskID, estimatedMB, m.ActiveMemoryMB(), m.memoryLimitMB()).
			WithRetryable(true)
	}
	return nil
}

// Release frees the task's slot and memory reservation. Releasing an
// unknown or already-released ID is a no-op.
func (m *Manager) Release(taskID string) {
	m.mu.Lock()
	task, ok := m.active[taskID]
	if ok {
		delete(m.active, taskID)
		m.activeMB -= task.estimatedMB
		close(m.released)
		m.released = make(chan struct{})
	}
	m.mu.Unlock()
	if !ok {
		return
	}
	m.slots.Release(1)
	m.logger.Debug("task released",
		zap.String("task_id", taskID),
		zap.Int64("estimated_mb", task.estimatedMB),
		zap.Duration("held", time.Since(task.startedAt)))
}

// ActiveCount returns the number of admitted tasks.
func (m *Manager) ActiveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.active)
}

// ActiveMemoryMB returns the sum of admitted memory estimates.
func (m *Manager) ActiveMemoryMB() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.activeMB
}

// OptimalWorkerCount suggests a worker pool size:
// min(cpu−1, availableGB/2GB-per-worker, configured max), clamped to ≥1.
func (m *Manager) OptimalWorkerCount() int {
	workers := runtime.NumCPU() - 1
	if avail := m.probe.AvailableMemoryMB(); avail > 0 {
		if byMemory := int(avail / memoryPerWorkerMB); byMemory < workers {
			workers = byMemory
		}
	}
	if m.cfg.MaxWorkers < workers {
		workers = m.cfg.MaxWorkers
	}
	if workers < 1 {
		workers = 1
	}
	return workers
}
