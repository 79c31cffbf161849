package phase

import (
	"context"
	"sync"

	"github.com/BaSui01/phaseflow/types"
)

// Checkpointer persists opaque phase-recovery blobs keyed by
// (scope, checkpoint_id). Implementations live in the workflow package.
type Checkpointer interface {
	SaveCheckpoint(ctx context.Context, scope, checkpointID string, data []byte) error
	LoadCheckpoint(ctx context.Context, scope, checkpointID string) ([]byte, error)
}

// CheckpointLocks enforces that at most one in-flight phase instance owns
// a given (scope, checkpoint_id) key at a time. A single instance is
// shared by all managers of one orchestrator; it is injected, never
// process-global, so independent orchestrators stay isolated.
type CheckpointLocks struct {
	mu     sync.Mutex
	owners map[string]string
}

// NewCheckpointLocks creates an empty lock table.
func NewCheckpointLocks() *CheckpointLocks {
	return &CheckpointLocks{owners: make(map[string]string)}
}

func checkpointKey(scope, checkpointID string) string {
	return scope + "/" + checkpointID
}

// Claim grants the key to ownerID. Claiming a key already held by the
// same owner is idempotent; a different owner gets CHECKPOINT_CONFLICT.
func (l *CheckpointLocks) Claim(scope, checkpointID, ownerID string) error {
	key := checkpointKey(scope, checkpointID)
	l.mu.Lock()
	defer l.mu.Unlock()
	if current, held := l.owners[key]; held && current != ownerID {
		return types.NewErrorf(types.ErrCheckpointConflict,
			"checkpoint %s owned by another phase instance", key)
	}
	l.owners[key] = ownerID
	return nil
}

// ReleaseOwner frees every key held by ownerID.
func (l *CheckpointLocks) ReleaseOwner(ownerID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for key, owner := range l.owners {
		if owner == ownerID {
			delete(l.owners, key)
		}
	}
}
