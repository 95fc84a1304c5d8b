package config

import "time"

// ExecutionConfig controls the coordinator loop.
type ExecutionConfig struct {
	MaxParallel              int           `mapstructure:"max_parallel"`
	MaxIterations            int           `mapstructure:"max_iterations"`
	TaskTimeout              time.Duration `mapstructure:"task_timeout"`
	EnableBatchProcessing    bool          `mapstructure:"enable_batch_processing"`
	BatchSimilarityThreshold float64       `mapstructure:"batch_similarity_threshold"`
	MaxPromptChars           int           `mapstructure:"max_prompt_chars"`
	EnableReplanning         bool          `mapstructure:"enable_replanning"`
}

// RetryConfig controls per-task retries.
type RetryConfig struct {
	MaxAttempts   int           `mapstructure:"max_attempts"`
	BackoffFactor float64       `mapstructure:"backoff_factor"`
	MaxBackoff    time.Duration `mapstructure:"max_backoff"`
	RetryOnErrors []string      `mapstructure:"retry_on_errors"` // timeout, network, temporary, validation, dependency
}

// CacheConfig controls the context cache.
type CacheConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	MaxSizeMB    int           `mapstructure:"max_size_mb"`
	TTL          time.Duration `mapstructure:"ttl"`
	Dir          string        `mapstructure:"dir"`
	PersistEvery int           `mapstructure:"persist_every"` // Writes between saves
}

// RollbackConfig controls git checkpoints.
type RollbackConfig struct {
	Enabled               bool `mapstructure:"enabled"`
	CreateCheckpoints     bool `mapstructure:"create_checkpoints"`
	KeepCheckpoints       int  `mapstructure:"keep_checkpoints"`
	AutoRollbackOnFailure bool `mapstructure:"auto_rollback_on_failure"`
}

// ValidationConfig controls the pre-flight checks of "run".
type ValidationConfig struct {
	Enabled        bool `mapstructure:"enabled"`
	FailOnWarnings bool `mapstructure:"fail_on_warnings"`
}

// AgentConfig selects the coding agent CLI.
type AgentConfig struct {
	Type         string   `mapstructure:"type"`              // "qoder", "claude" or "command"
	Command      string   `mapstructure:"command"`           // Binary override; required for "command"
	Args         []string `mapstructure:"args"`
	Model        string   `mapstructure:"model"`
	SystemPrompt string   `mapstructure:"system_prompt"`
}

// PersistenceConfig selects where the plan is saved.
type PersistenceConfig struct {
	Backend string `mapstructure:"backend"` // "json" or "sqlite"
	Path    string `mapstructure:"path"`    // Empty selects the backend default
}

// Config is the top-level configuration.
type Config struct {
	Execution   ExecutionConfig   `mapstructure:"execution"`
	Retry       RetryConfig       `mapstructure:"retry"`
	Cache       CacheConfig       `mapstructure:"cache"`
	Rollback    RollbackConfig    `mapstructure:"rollback"`
	Validation  ValidationConfig  `mapstructure:"validation"`
	Agent       AgentConfig       `mapstructure:"agent"`
	Persistence PersistenceConfig `mapstructure:"persistence"`
	LogLevel    string            `mapstructure:"log_level"`
	LogFile     string            `mapstructure:"log_file"`

	// Sources lists the config files that were read, lowest precedence first.
	Sources []string `mapstructure:"-"`
}
