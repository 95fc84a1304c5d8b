// Package config loads the orchestrator configuration from built-in
// defaults, the user config, the project config, QODER_* environment
// variables and command-line overrides, in increasing precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. QODER_CACHE_ENABLED.
const EnvPrefix = "QODER"

// ProjectConfigNames are the project config files looked up, in order.
var ProjectConfigNames = []string{
	".qoder-orchestrate.yaml",
	".qoder-orchestrate.yml",
	"qoder-orchestrate.yaml",
}

// envAliases are the short variable names kept alongside the automatic
// QODER_<SECTION>_<KEY> ones.
var envAliases = map[string]string{
	"execution.max_parallel":   "QODER_MAX_PARALLEL",
	"execution.max_iterations": "QODER_MAX_ITERATIONS",
	"agent.type":               "QODER_AGENT",
}

// Options tells Load where to look.
type Options struct {
	ProjectDir string         // Searched for ProjectConfigNames
	File       string         // Explicit project config; must exist
	UserDir    string         // Defaults to UserConfigDir()
	Overrides  map[string]any // Highest precedence, keyed like "execution.max_parallel"
}

// Load reads and merges configuration. Missing default files are not
// errors; malformed files, a missing explicit file and invalid values are.
func Load(opts Options) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	setDefaults(v)

	var sources []string

	userDir := opts.UserDir
	if userDir == "" {
		userDir = UserConfigDir()
	}
	userPath := filepath.Join(userDir, "config.yaml")
	if fileExists(userPath) {
		v.SetConfigFile(userPath)
		if err := v.MergeInConfig(); err != nil {
			return nil, fmt.Errorf("loading user config: %w", err)
		}
		sources = append(sources, userPath)
	}

	projectPath := opts.File
	if projectPath != "" {
		if !fileExists(projectPath) {
			return nil, fmt.Errorf("config file %s not found", projectPath)
		}
	} else {
		projectPath = FindProjectConfig(opts.ProjectDir)
	}
	if projectPath != "" {
		v.SetConfigFile(projectPath)
		if err := v.MergeInConfig(); err != nil {
			return nil, fmt.Errorf("loading project config: %w", err)
		}
		sources = append(sources, projectPath)
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, alias := range envAliases {
		if err := v.BindEnv(key, alias, EnvPrefix+"_"+strings.ToUpper(strings.ReplaceAll(key, ".", "_"))); err != nil {
			return nil, fmt.Errorf("binding %s: %w", alias, err)
		}
	}

	for key, value := range opts.Overrides {
		v.Set(key, value)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	cfg.Sources = sources

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadDefault loads configuration for the current directory.
func LoadDefault() (*Config, error) {
	return Load(Options{ProjectDir: "."})
}

// UserConfigDir returns $XDG_CONFIG_HOME/qoder-orchestrate, falling back to
// ~/.config/qoder-orchestrate.
func UserConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "qoder-orchestrate")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".config", "qoder-orchestrate")
	}
	return filepath.Join(home, ".config", "qoder-orchestrate")
}

// UserConfigPath returns the user config file location.
func UserConfigPath() string {
	return filepath.Join(UserConfigDir(), "config.yaml")
}

// FindProjectConfig returns the first project config file in dir, or "".
func FindProjectConfig(dir string) string {
	if dir == "" {
		dir = "."
	}
	for _, name := range ProjectConfigNames {
		p := filepath.Join(dir, name)
		if fileExists(p) {
			return p
		}
	}
	return ""
}

// ProjectConfigPath is where a new project config is written: the existing
// one if any, else the first of ProjectConfigNames.
func ProjectConfigPath(dir string) string {
	if p := FindProjectConfig(dir); p != "" {
		return p
	}
	if dir == "" {
		dir = "."
	}
	return filepath.Join(dir, ProjectConfigNames[0])
}

var validRetryKinds = []string{"timeout", "network", "temporary", "validation", "dependency"}

// Validate checks value ranges and enumerations. All problems are reported
// together.
func (c *Config) Validate() error {
	var problems []string
	add := func(format string, args ...any) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	if c.Execution.MaxParallel < 1 {
		add("execution.max_parallel must be >= 1")
	}
	if c.Execution.MaxIterations < 1 {
		add("execution.max_iterations must be >= 1")
	}
	if c.Execution.TaskTimeout < time.Second {
		add("execution.task_timeout must be at least 1s")
	}
	if t := c.Execution.BatchSimilarityThreshold; t < 0 || t > 1 {
		add("execution.batch_similarity_threshold must be between 0 and 1")
	}
	if c.Execution.MaxPromptChars < 1000 {
		add("execution.max_prompt_chars must be >= 1000")
	}

	if c.Retry.MaxAttempts < 1 {
		add("retry.max_attempts must be >= 1")
	}
	if c.Retry.BackoffFactor < 1.0 {
		add("retry.backoff_factor must be >= 1.0")
	}
	for _, k := range c.Retry.RetryOnErrors {
		if !contains(validRetryKinds, k) {
			add("retry.retry_on_errors: unknown error kind %q", k)
		}
	}

	if c.Cache.MaxSizeMB < 1 {
		add("cache.max_size_mb must be >= 1")
	}
	if c.Rollback.KeepCheckpoints < 1 {
		add("rollback.keep_checkpoints must be >= 1")
	}

	switch c.Agent.Type {
	case "qoder", "claude":
	case "command":
		if c.Agent.Command == "" {
			add("agent.command is required when agent.type is \"command\"")
		}
	default:
		add("agent.type must be one of [qoder claude command]")
	}

	switch c.Persistence.Backend {
	case "json", "sqlite":
	default:
		add("persistence.backend must be one of [json sqlite]")
	}

	switch strings.ToUpper(c.LogLevel) {
	case "DEBUG", "INFO", "WARNING", "ERROR":
	default:
		add("log_level must be one of [DEBUG INFO WARNING ERROR]")
	}

	if len(problems) == 0 {
		return nil
	}
	return errors.New("configuration validation failed:\n  - " + strings.Join(problems, "\n  - "))
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
