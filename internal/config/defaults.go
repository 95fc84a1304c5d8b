package config

import (
	"time"

	"github.com/spf13/viper"
)

// DefaultConfig returns the built-in configuration.
func DefaultConfig() *Config {
	return &Config{
		Execution: ExecutionConfig{
			MaxParallel:              3,
			MaxIterations:            10,
			TaskTimeout:              5 * time.Minute,
			EnableBatchProcessing:    true,
			BatchSimilarityThreshold: 0.7,
			MaxPromptChars:           12000,
			EnableReplanning:         true,
		},
		Retry: RetryConfig{
			MaxAttempts:   3,
			BackoffFactor: 2.0,
			MaxBackoff:    300 * time.Second,
			RetryOnErrors: []string{"timeout", "network", "temporary"},
		},
		Cache: CacheConfig{
			Enabled:      true,
			MaxSizeMB:    100,
			TTL:          time.Hour,
			Dir:          ".qoder-cache",
			PersistEvery: 10,
		},
		Rollback: RollbackConfig{
			Enabled:           true,
			CreateCheckpoints: true,
			KeepCheckpoints:   10,
		},
		Validation: ValidationConfig{
			Enabled: true,
		},
		Agent: AgentConfig{
			Type: "qoder",
		},
		Persistence: PersistenceConfig{
			Backend: "json",
		},
		LogLevel: "INFO",
		LogFile:  "orchestration.log",
	}
}

// setDefaults registers every key with viper so environment variables and
// overrides resolve for all of them.
func setDefaults(v *viper.Viper) {
	d := DefaultConfig()

	v.SetDefault("execution.max_parallel", d.Execution.MaxParallel)
	v.SetDefault("execution.max_iterations", d.Execution.MaxIterations)
	v.SetDefault("execution.task_timeout", d.Execution.TaskTimeout)
	v.SetDefault("execution.enable_batch_processing", d.Execution.EnableBatchProcessing)
	v.SetDefault("execution.batch_similarity_threshold", d.Execution.BatchSimilarityThreshold)
	v.SetDefault("execution.max_prompt_chars", d.Execution.MaxPromptChars)
	v.SetDefault("execution.enable_replanning", d.Execution.EnableReplanning)

	v.SetDefault("retry.max_attempts", d.Retry.MaxAttempts)
	v.SetDefault("retry.backoff_factor", d.Retry.BackoffFactor)
	v.SetDefault("retry.max_backoff", d.Retry.MaxBackoff)
	v.SetDefault("retry.retry_on_errors", d.Retry.RetryOnErrors)

	v.SetDefault("cache.enabled", d.Cache.Enabled)
	v.SetDefault("cache.max_size_mb", d.Cache.MaxSizeMB)
	v.SetDefault("cache.ttl", d.Cache.TTL)
	v.SetDefault("cache.dir", d.Cache.Dir)
	v.SetDefault("cache.persist_every", d.Cache.PersistEvery)

	v.SetDefault("rollback.enabled", d.Rollback.Enabled)
	v.SetDefault("rollback.create_checkpoints", d.Rollback.CreateCheckpoints)
	v.SetDefault("rollback.keep_checkpoints", d.Rollback.KeepCheckpoints)
	v.SetDefault("rollback.auto_rollback_on_failure", d.Rollback.AutoRollbackOnFailure)

	v.SetDefault("validation.enabled", d.Validation.Enabled)
	v.SetDefault("validation.fail_on_warnings", d.Validation.FailOnWarnings)

	v.SetDefault("agent.type", d.Agent.Type)
	v.SetDefault("agent.command", d.Agent.Command)
	v.SetDefault("agent.args", []string{})
	v.SetDefault("agent.model", d.Agent.Model)
	v.SetDefault("agent.system_prompt", d.Agent.SystemPrompt)

	v.SetDefault("persistence.backend", d.Persistence.Backend)
	v.SetDefault("persistence.path", d.Persistence.Path)

	v.SetDefault("log_level", d.LogLevel)
	v.SetDefault("log_file", d.LogFile)
}
