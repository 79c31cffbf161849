package config

import (
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/BaSui01/phaseflow/types"
)

// envPrefix namespaces the environment overrides.
const envPrefix = "PHASEFLOW_"

// Load reads configuration with the usual precedence: built-in defaults,
// then the YAML file at path (skipped when path is empty or the file does
// not exist), then PHASEFLOW_* environment variables.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case os.IsNotExist(err):
			// Missing file falls back to defaults.
		case err != nil:
			return nil, types.NewErrorf(types.ErrInvalidConfig, "read config %s", path).WithCause(err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, types.NewErrorf(types.ErrInvalidConfig, "parse config %s", path).WithCause(err)
			}
		}
	}

	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overrides the fields operators most commonly tune per
// deployment.
func applyEnv(cfg *Config) {
	if v, ok := envInt("RESOURCE_MAX_CONCURRENT"); ok {
		cfg.Resource.MaxConcurrent = v
	}
	if v, ok := envInt("RESOURCE_MAX_MEMORY_MB"); ok {
		cfg.Resource.MaxMemoryMB = int64(v)
	}
	if v, ok := envInt("RESOURCE_MAX_WORKERS"); ok {
		cfg.Resource.MaxWorkers = v
	}
	if v, ok := envDuration("EXECUTOR_BATCH_TIMEOUT"); ok {
		cfg.Executor.BatchTimeout = v
	}
	if v, ok := envInt("CALLBACK_FAILURE_THRESHOLD"); ok {
		cfg.Callback.FailureThreshold = v
	}
	if v, ok := envDuration("APPROVAL_TIMEOUT"); ok {
		cfg.Approval.Timeout = v
	}
	if v, ok := envBool("APPROVAL_AUTO_APPROVE_ON_TIMEOUT"); ok {
		cfg.Approval.AutoApproveOnTimeout = v
	}
	if v := os.Getenv(envPrefix + "CHECKPOINT_BACKEND"); v != "" {
		cfg.Checkpoint.Backend = v
	}
	if v := os.Getenv(envPrefix + "CHECKPOINT_DIR"); v != "" {
		cfg.Checkpoint.Dir = v
	}
	if v := os.Getenv(envPrefix + "REDIS_ADDR"); v != "" {
		cfg.Checkpoint.Redis.Addr = v
	}
	if v := os.Getenv(envPrefix + "REDIS_PASSWORD"); v != "" {
		cfg.Checkpoint.Redis.Password = v
	}
	if v := os.Getenv(envPrefix + "LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv(envPrefix + "LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
}

func envInt(name string) (int, bool) {
	raw := os.Getenv(envPrefix + name)
	if raw == "" {
		return 0, false
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false
	}
	return v, true
}

func envBool(name string) (bool, bool) {
	raw := os.Getenv(envPrefix + name)
	if raw == "" {
		return false, false
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, false
	}
	return v, true
}

func envDuration(name string) (time.Duration, bool) {
	raw := os.Getenv(envPrefix + name)
	if raw == "" {
		return 0, false
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		return 0, false
	}
	return v, true
}
