package approval

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/phaseflow/types"
)

// InMemoryManager is a process-local Manager for single-node deployments,
// tests, and interactive frontends that call Resolve directly.
type InMemoryManager struct {
	logger  *zap.Logger
	mu      sync.Mutex
	pending map[string]*pendingRequest
}

type pendingRequest struct {
	req        *Request
	resolution chan *Resolution
}

// NewInMemoryManager creates an in-memory approval manager.
func NewInMemoryManager(logger *zap.Logger) *InMemoryManager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &InMemoryManager{
		logger:  logger.With(zap.String("component", "approval_manager")),
		pending: make(map[string]*pendingRequest),
	}
}

// CreateRequest implements Manager. The request ID doubles as the handle.
func (m *InMemoryManager) CreateRequest(ctx context.Context, req *Request) (string, error) {
	if req.ID == "" {
		req.ID = newRequestID()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.pending[req.ID]; exists {
		return "", types.NewErrorf(types.ErrInternal, "approval request %s already pending", req.ID)
	}
	m.pending[req.ID] = &pendingRequest{
		req:        req,
		resolution: make(chan *Resolution, 1),
	}
	m.logger.Info("approval request created",
		zap.String("request_id", req.ID),
		zap.String("checkpoint_type", req.CheckpointType))
	return req.ID, nil
}

// Await implements Manager.
func (m *InMemoryManager) Await(ctx context.Context, handle string, timeout time.Duration) (*Resolution, error) {
	m.mu.Lock()
	p, ok := m.pending[handle]
	m.mu.Unlock()
	if !ok {
		return nil, types.NewErrorf(types.ErrApprovalClosed, "no pending approval %s", handle)
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case res := <-p.resolution:
		m.remove(handle)
		return res, nil
	case <-timer.C:
		m.remove(handle)
		return nil, types.NewErrorf(types.ErrApprovalTimeout, "approval %s unresolved after %s", handle, timeout)
	case <-ctx.Done():
		m.remove(handle)
		return nil, types.NewErrorf(types.ErrApprovalClosed, "approval %s abandoned", handle).WithCause(ctx.Err())
	}
}

// Resolve delivers the single terminal resolution for a pending request.
func (m *InMemoryManager) Resolve(handle string, res *Resolution) error {
	m.mu.Lock()
	p, ok := m.pending[handle]
	m.mu.Unlock()
	if !ok {
		return types.NewErrorf(types.ErrApprovalClosed, "approval %s not pending", handle)
	}
	if res.ResolvedAt.IsZero() {
		res.ResolvedAt = time.Now()
	}
	select {
	case p.resolution <- res:
		return nil
	default:
		return types.NewErrorf(types.ErrApprovalClosed, "approval %s already resolved", handle)
	}
}

// Pending lists the requests still awaiting a resolution.
func (m *InMemoryManager) Pending() []*Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Request, 0, len(m.pending))
	for _, p := range m.pending {
		out = append(out, p.req)
	}
	return out
}

func (m *InMemoryManager) remove(handle string) {
	m.mu.Lock()
	delete(m.pending, handle)
	m.mu.Unlock()
}
