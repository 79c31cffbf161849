package workflow

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/BaSui01/phaseflow/types"
)

// RedisConfig configures the Redis checkpoint backend.
type RedisConfig struct {
	Addr     string `json:"addr" yaml:"addr"`
	Password string `json:"password,omitempty" yaml:"password,omitempty"`
	DB       int    `json:"db" yaml:"db"`
	// KeyPrefix namespaces all keys. Defaults to "phaseflow:".
	KeyPrefix string `json:"key_prefix,omitempty" yaml:"key_prefix,omitempty"`
	// TTL expires checkpoint blobs. Zero means no expiry.
	TTL time.Duration `json:"ttl,omitempty" yaml:"ttl,omitempty"`
}

// RedisCheckpointStore persists checkpoint blobs in Redis, suitable for
// distributed deployments where a resumed run may land on another node.
// Blobs live under string keys; a per-scope set indexes the ids.
type RedisCheckpointStore struct {
	client    redis.UniversalClient
	keyPrefix string
	ttl       time.Duration
}

// NewRedisCheckpointStore connects to Redis and verifies the connection.
func NewRedisCheckpointStore(cfg RedisConfig) (*RedisCheckpointStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, types.NewErrorf(types.ErrInternal, "connect to redis at %s", cfg.Addr).WithCause(err)
	}
	return NewRedisCheckpointStoreWithClient(client, cfg), nil
}

// NewRedisCheckpointStoreWithClient wraps an existing client. Tests use
// this with a miniredis-backed client.
func NewRedisCheckpointStoreWithClient(client redis.UniversalClient, cfg RedisConfig) *RedisCheckpointStore {
	keyPrefix := cfg.KeyPrefix
	if keyPrefix == "" {
		keyPrefix = "phaseflow:"
	}
	return &RedisCheckpointStore{
		client:    client,
		keyPrefix: keyPrefix + "checkpoint:",
		ttl:       cfg.TTL,
	}
}

// Close closes the underlying client.
func (s *RedisCheckpointStore) Close() error {
	return s.client.Close()
}

// Ping checks backend health.
func (s *RedisCheckpointStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisCheckpointStore) dataKey(scope, checkpointID string) string {
	return s.keyPrefix + "data:" + scope + ":" + checkpointID
}

func (s *RedisCheckpointStore) indexKey(scope string) string {
	return s.keyPrefix + "index:" + scope
}

// SaveCheckpoint implements phase.Checkpointer.
func (s *RedisCheckpointStore) SaveCheckpoint(ctx context.Context, scope, checkpointID string, data []byte) error {
	pipe := s.client.Pipeline()
	pipe.Set(ctx, s.dataKey(scope, checkpointID), data, s.ttl)
	pipe.SAdd(ctx, s.indexKey(scope), checkpointID)
	if s.ttl > 0 {
		pipe.Expire(ctx, s.indexKey(scope), s.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return types.NewErrorf(types.ErrInternal, "save checkpoint %s/%s to redis", scope, checkpointID).WithCause(err)
	}
	return nil
}

// LoadCheckpoint implements phase.Checkpointer.
func (s *RedisCheckpointStore) LoadCheckpoint(ctx context.Context, scope, checkpointID string) ([]byte, error) {
	data, err := s.client.Get(ctx, s.dataKey(scope, checkpointID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, types.NewErrorf(types.ErrCheckpointNotFound, "checkpoint %s/%s not found", scope, checkpointID)
		}
		return nil, types.NewErrorf(types.ErrInternal, "load checkpoint %s/%s from redis", scope, checkpointID).WithCause(err)
	}
	return data, nil
}

// ListCheckpoints implements CheckpointStore.
func (s *RedisCheckpointStore) ListCheckpoints(ctx context.Context, scope string) ([]string, error) {
	ids, err := s.client.SMembers(ctx, s.indexKey(scope)).Result()
	if err != nil {
		return nil, types.NewErrorf(types.ErrInternal, "list checkpoints for %s", scope).WithCause(err)
	}
	sort.Strings(ids)
	return ids, nil
}

// DeleteCheckpoint implements CheckpointStore.
func (s *RedisCheckpointStore) DeleteCheckpoint(ctx context.Context, scope, checkpointID string) error {
	pipe := s.client.Pipeline()
	pipe.Del(ctx, s.dataKey(scope, checkpointID))
	pipe.SRem(ctx, s.indexKey(scope), checkpointID)
	if _, err := pipe.Exec(ctx); err != nil {
		return types.NewErrorf(types.ErrInternal, "delete checkpoint %s/%s from redis", scope, checkpointID).WithCause(err)
	}
	return nil
}
