package config

import (
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/francisykl/qoder-cli-orchestrator/internal/fsutil"
)

// fileConfig is the on-disk layout. Durations are written as strings such
// as "5m0s" so the file stays readable and loads back through viper.
type fileConfig struct {
	Execution struct {
		MaxParallel              int     `yaml:"max_parallel"`
		MaxIterations            int     `yaml:"max_iterations"`
		TaskTimeout              string  `yaml:"task_timeout"`
		EnableBatchProcessing    bool    `yaml:"enable_batch_processing"`
		BatchSimilarityThreshold float64 `yaml:"batch_similarity_threshold"`
		MaxPromptChars           int     `yaml:"max_prompt_chars"`
		EnableReplanning         bool    `yaml:"enable_replanning"`
	} `yaml:"execution"`
	Retry struct {
		MaxAttempts   int      `yaml:"max_attempts"`
		BackoffFactor float64  `yaml:"backoff_factor"`
		MaxBackoff    string   `yaml:"max_backoff"`
		RetryOnErrors []string `yaml:"retry_on_errors"`
	} `yaml:"retry"`
	Cache struct {
		Enabled      bool   `yaml:"enabled"`
		MaxSizeMB    int    `yaml:"max_size_mb"`
		TTL          string `yaml:"ttl"`
		Dir          string `yaml:"dir"`
		PersistEvery int    `yaml:"persist_every"`
	} `yaml:"cache"`
	Rollback struct {
		Enabled               bool `yaml:"enabled"`
		CreateCheckpoints     bool `yaml:"create_checkpoints"`
		KeepCheckpoints       int  `yaml:"keep_checkpoints"`
		AutoRollbackOnFailure bool `yaml:"auto_rollback_on_failure"`
	} `yaml:"rollback"`
	Validation struct {
		Enabled        bool `yaml:"enabled"`
		FailOnWarnings bool `yaml:"fail_on_warnings"`
	} `yaml:"validation"`
	Agent struct {
		Type         string   `yaml:"type"`
		Command      string   `yaml:"command,omitempty"`
		Args         []string `yaml:"args,omitempty"`
		Model        string   `yaml:"model,omitempty"`
		SystemPrompt string   `yaml:"system_prompt,omitempty"`
	} `yaml:"agent"`
	Persistence struct {
		Backend string `yaml:"backend"`
		Path    string `yaml:"path,omitempty"`
	} `yaml:"persistence"`
	LogLevel string `yaml:"log_level"`
	LogFile  string `yaml:"log_file"`
}

func toFile(cfg *Config) fileConfig {
	var f fileConfig

	e := cfg.Execution
	f.Execution.MaxParallel = e.MaxParallel
	f.Execution.MaxIterations = e.MaxIterations
	f.Execution.TaskTimeout = e.TaskTimeout.String()
	f.Execution.EnableBatchProcessing = e.EnableBatchProcessing
	f.Execution.BatchSimilarityThreshold = e.BatchSimilarityThreshold
	f.Execution.MaxPromptChars = e.MaxPromptChars
	f.Execution.EnableReplanning = e.EnableReplanning

	f.Retry.MaxAttempts = cfg.Retry.MaxAttempts
	f.Retry.BackoffFactor = cfg.Retry.BackoffFactor
	f.Retry.MaxBackoff = cfg.Retry.MaxBackoff.String()
	f.Retry.RetryOnErrors = cfg.Retry.RetryOnErrors

	f.Cache.Enabled = cfg.Cache.Enabled
	f.Cache.MaxSizeMB = cfg.Cache.MaxSizeMB
	f.Cache.TTL = cfg.Cache.TTL.String()
	f.Cache.Dir = cfg.Cache.Dir
	f.Cache.PersistEvery = cfg.Cache.PersistEvery

	f.Rollback.Enabled = cfg.Rollback.Enabled
	f.Rollback.CreateCheckpoints = cfg.Rollback.CreateCheckpoints
	f.Rollback.KeepCheckpoints = cfg.Rollback.KeepCheckpoints
	f.Rollback.AutoRollbackOnFailure = cfg.Rollback.AutoRollbackOnFailure
	f.Validation.Enabled = cfg.Validation.Enabled
	f.Validation.FailOnWarnings = cfg.Validation.FailOnWarnings

	f.Agent.Type = cfg.Agent.Type
	f.Agent.Command = cfg.Agent.Command
	f.Agent.Args = cfg.Agent.Args
	f.Agent.Model = cfg.Agent.Model
	f.Agent.SystemPrompt = cfg.Agent.SystemPrompt

	f.Persistence.Backend = cfg.Persistence.Backend
	f.Persistence.Path = cfg.Persistence.Path

	f.LogLevel = cfg.LogLevel
	f.LogFile = cfg.LogFile
	return f
}

// Marshal renders cfg as YAML.
func Marshal(cfg *Config) ([]byte, error) {
	data, err := yaml.Marshal(toFile(cfg))
	if err != nil {
		return nil, fmt.Errorf("marshaling config: %w", err)
	}
	return data, nil
}

// Save atomically writes cfg to path as YAML, creating parent directories.
func Save(cfg *Config, path string) error {
	data, err := Marshal(cfg)
	if err != nil {
		return err
	}
	if err := fsutil.AtomicWrite(path, data); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}
	return nil
}
