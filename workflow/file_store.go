package workflow

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/BaSui01/phaseflow/types"
)

// FileCheckpointStore persists checkpoint blobs under a base directory,
// one file per (scope, checkpoint_id). Suitable for single-node
// deployments. Writes are atomic: temp file then rename.
type FileCheckpointStore struct {
	baseDir string
}

// NewFileCheckpointStore creates the store, making baseDir if needed.
func NewFileCheckpointStore(baseDir string) (*FileCheckpointStore, error) {
	if baseDir == "" {
		return nil, types.NewError(types.ErrInvalidConfig, "checkpoint base directory is required")
	}
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, types.NewErrorf(types.ErrInternal, "create checkpoint directory %s", baseDir).WithCause(err)
	}
	return &FileCheckpointStore{baseDir: baseDir}, nil
}

// sanitize keeps scope and id usable as path components.
func sanitize(part string) string {
	part = strings.ReplaceAll(part, string(os.PathSeparator), "_")
	return strings.ReplaceAll(part, "..", "_")
}

func (s *FileCheckpointStore) path(scope, checkpointID string) string {
	return filepath.Join(s.baseDir, sanitize(scope), sanitize(checkpointID)+".json")
}

// SaveCheckpoint implements phase.Checkpointer.
func (s *FileCheckpointStore) SaveCheckpoint(_ context.Context, scope, checkpointID string, data []byte) error {
	path := s.path(scope, checkpointID)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return types.NewErrorf(types.ErrInternal, "create checkpoint scope %s", scope).WithCause(err)
	}
	tempPath := path + ".tmp"
	if err := os.WriteFile(tempPath, data, 0644); err != nil {
		return types.NewErrorf(types.ErrInternal, "write checkpoint %s/%s", scope, checkpointID).WithCause(err)
	}
	if err := os.Rename(tempPath, path); err != nil {
		return types.NewErrorf(types.ErrInternal, "finalize checkpoint %s/%s", scope, checkpointID).WithCause(err)
	}
	return nil
}

// LoadCheckpoint implements phase.Checkpointer.
func (s *FileCheckpointStore) LoadCheckpoint(_ context.Context, scope, checkpointID string) ([]byte, error) {
	data, err := os.ReadFile(s.path(scope, checkpointID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, types.NewErrorf(types.ErrCheckpointNotFound, "checkpoint %s/%s not found", scope, checkpointID)
		}
		return nil, types.NewErrorf(types.ErrInternal, "read checkpoint %s/%s", scope, checkpointID).WithCause(err)
	}
	return data, nil
}

// ListCheckpoints implements CheckpointStore.
func (s *FileCheckpointStore) ListCheckpoints(_ context.Context, scope string) ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(s.baseDir, sanitize(scope)))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, types.NewErrorf(types.ErrInternal, "list checkpoints for %s", scope).WithCause(err)
	}
	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		ids = append(ids, strings.TrimSuffix(name, ".json"))
	}
	sort.Strings(ids)
	return ids, nil
}

// DeleteCheckpoint implements CheckpointStore.
func (s *FileCheckpointStore) DeleteCheckpoint(_ context.Context, scope, checkpointID string) error {
	err := os.Remove(s.path(scope, checkpointID))
	if err != nil && !os.IsNotExist(err) {
		return types.NewErrorf(types.ErrInternal, "delete checkpoint %s/%s", scope, checkpointID).WithCause(err)
	}
	return nil
}
