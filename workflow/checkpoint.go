package workflow

import (
	"context"
	"sort"
	"sync"

	"github.com/BaSui01/phaseflow/phase"
	"github.com/BaSui01/phaseflow/types"
)

// CheckpointStore persists opaque phase-recovery blobs. It extends the
// phase.Checkpointer contract with enumeration and cleanup, which the
// Runner uses between runs.
type CheckpointStore interface {
	phase.Checkpointer
	// ListCheckpoints returns the checkpoint ids stored under scope,
	// sorted.
	ListCheckpoints(ctx context.Context, scope string) ([]string, error)
	// DeleteCheckpoint removes one blob; deleting a missing blob is a
	// no-op.
	DeleteCheckpoint(ctx context.Context, scope, checkpointID string) error
}

// MemoryCheckpointStore keeps blobs in process memory. Suitable for tests
// and runs that do not need crash recovery.
type MemoryCheckpointStore struct {
	mu    sync.RWMutex
	blobs map[string]map[string][]byte
}

// NewMemoryCheckpointStore creates an empty in-memory store.
func NewMemoryCheckpointStore() *MemoryCheckpointStore {
	return &MemoryCheckpointStore{blobs: make(map[string]map[string][]byte)}
}

// SaveCheckpoint implements phase.Checkpointer.
func (s *MemoryCheckpointStore) SaveCheckpoint(_ context.Context, scope, checkpointID string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	scoped, ok := s.blobs[scope]
	if !ok {
		scoped = make(map[string][]byte)
		s.blobs[scope] = scoped
	}
	scoped[checkpointID] = append([]byte(nil), data...)
	return nil
}

// LoadCheckpoint implements phase.Checkpointer.
func (s *MemoryCheckpointStore) LoadCheckpoint(_ context.Context, scope, checkpointID string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	blob, ok := s.blobs[scope][checkpointID]
	if !ok {
		return nil, types.NewErrorf(types.ErrCheckpointNotFound, "checkpoint %s/%s not found", scope, checkpointID)
	}
	return append([]byte(nil), blob...), nil
}

// ListCheckpoints implements CheckpointStore.
func (s *MemoryCheckpointStore) ListCheckpoints(_ context.Context, scope string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.blobs[scope]))
	for id := range s.blobs[scope] {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// DeleteCheckpoint implements CheckpointStore.
func (s *MemoryCheckpointStore) DeleteCheckpoint(_ context.Context, scope, checkpointID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.blobs[scope], checkpointID)
	return nil
}
