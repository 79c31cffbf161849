// Package config loads the orchestrator configuration with the usual
// precedence: built-in defaults, then a YAML file, then PHASEFLOW_*
// environment variables.
package config

import (
	"time"

	"github.com/BaSui01/phaseflow/approval"
	"github.com/BaSui01/phaseflow/callback"
	"github.com/BaSui01/phaseflow/executor"
	"github.com/BaSui01/phaseflow/resource"
	"github.com/BaSui01/phaseflow/types"
	"github.com/BaSui01/phaseflow/workflow"
)

// Config is the complete orchestrator configuration.
// Precedence: defaults, then YAML file, then environment overrides.
type Config struct {
	Resource   resource.Config     `yaml:"resource"`
	Executor   executor.Config     `yaml:"executor"`
	Callback   callback.Config     `yaml:"callback"`
	Approval   approval.GateConfig `yaml:"approval"`
	Checkpoint CheckpointConfig    `yaml:"checkpoint"`
	Log        LogConfig           `yaml:"log"`
}

// CheckpointConfig selects and configures the checkpoint backend.
type CheckpointConfig struct {
	// Backend is one of "memory", "file", "redis".
	Backend string `yaml:"backend"`
	// Dir is the base directory of the file backend.
	Dir string `yaml:"dir"`
	// Redis configures the redis backend.
	Redis workflow.RedisConfig `yaml:"redis"`
}

// LogConfig configures the zap logger.
type LogConfig struct {
	// Level is one of "debug", "info", "warn", "error".
	Level string `yaml:"level"`
	// Format is "json" or "console".
	Format string `yaml:"format"`
	// OutputPath is the log destination; "stderr" and "stdout" are
	// understood, anything else is a file path.
	OutputPath string `yaml:"output_path"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Resource: resource.DefaultConfig(),
		Executor: executor.Config{
			BatchTimeout:              30 * time.Minute,
			SkipSingleTaskParallelism: true,
		},
		Callback: callback.Config{
			FailureThreshold: callback.DefaultFailureThreshold,
			HistorySize:      callback.DefaultHistorySize,
		},
		Approval:   approval.DefaultGateConfig(),
		Checkpoint: DefaultCheckpointConfig(),
		Log:        DefaultLogConfig(),
	}
}

// DefaultCheckpointConfig returns the default checkpoint backend.
func DefaultCheckpointConfig() CheckpointConfig {
	return CheckpointConfig{
		Backend: "file",
		Dir:     ".phaseflow/checkpoints",
		Redis: workflow.RedisConfig{
			Addr: "localhost:6379",
		},
	}
}

// DefaultLogConfig returns the default logging configuration.
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:      "info",
		Format:     "json",
		OutputPath: "stderr",
	}
}

// Validate rejects configurations that cannot be acted on.
func (c *Config) Validate() error {
	if c.Resource.MaxConcurrent <= 0 {
		return types.NewError(types.ErrInvalidConfig, "resource.max_concurrent must be positive")
	}
	if c.Resource.MaxMemoryMB <= 0 {
		return types.NewError(types.ErrInvalidConfig, "resource.max_memory_mb must be positive")
	}
	if c.Executor.BatchTimeout < 0 {
		return types.NewError(types.ErrInvalidConfig, "executor.batch_timeout must not be negative")
	}
	if c.Callback.FailureThreshold < 0 {
		return types.NewError(types.ErrInvalidConfig, "callback.failure_threshold must not be negative")
	}
	if c.Approval.Timeout <= 0 {
		return types.NewError(types.ErrInvalidConfig, "approval.timeout must be positive")
	}
	switch c.Checkpoint.Backend {
	case "memory":
	case "file":
		if c.Checkpoint.Dir == "" {
			return types.NewError(types.ErrInvalidConfig, "checkpoint.dir is required for the file backend")
		}
	case "redis":
		if c.Checkpoint.Redis.Addr == "" {
			return types.NewError(types.ErrInvalidConfig, "checkpoint.redis.addr is required for the redis backend")
		}
	default:
		return types.NewErrorf(types.ErrInvalidConfig, "unknown checkpoint backend %q", c.Checkpoint.Backend)
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return types.NewErrorf(types.ErrInvalidConfig, "unknown log level %q", c.Log.Level)
	}
	switch c.Log.Format {
	case "json", "console":
	default:
		return types.NewErrorf(types.ErrInvalidConfig, "unknown log format %q", c.Log.Format)
	}
	return nil
}

// NewCheckpointStore builds the configured checkpoint backend.
func (c *Config) NewCheckpointStore() (workflow.CheckpointStore, error) {
	switch c.Checkpoint.Backend {
	case "memory":
		return workflow.NewMemoryCheckpointStore(), nil
	case "file":
		return workflow.NewFileCheckpointStore(c.Checkpoint.Dir)
	case "redis":
		return workflow.NewRedisCheckpointStore(c.Checkpoint.Redis)
	default:
		return nil, types.NewErrorf(types.ErrInvalidConfig, "unknown checkpoint backend %q", c.Checkpoint.Backend)
	}
}
