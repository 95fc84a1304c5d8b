package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/francisykl/qoder-cli-orchestrator/internal/config"
)

var (
	configFile string
	projectDir string
)

var rootCmd = &cobra.Command{
	Use:   "qoder-orchestrate",
	Short: "Run a coding agent through a dependency-ordered task plan",
	Long: `qoder-orchestrate asks a coding agent to split an objective into tasks,
then executes them in waves: independent tasks run in parallel, dependent
tasks wait for their prerequisites, and tasks touching the same files never
run at the same time.

Configuration is read from ~/.config/qoder-orchestrate/config.yaml, then
.qoder-orchestrate.yaml in the project, then QODER_* environment variables,
then flags.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command with a context cancelled on SIGINT/SIGTERM.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		color.New(color.FgRed, color.Bold).Fprintf(os.Stderr, "Error: %v\n", err)
		stop()
		os.Exit(1)
	}
}

func init() {
	addConfigFlags(rootCmd)

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(resumeCmd)
	rootCmd.AddCommand(planCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(cacheCmd)
	rootCmd.AddCommand(configCmd)
}

// addConfigFlags registers the persistent flags that override configuration.
func addConfigFlags(cmd *cobra.Command) {
	pf := cmd.PersistentFlags()
	pf.StringVarP(&configFile, "config", "c", "", "project config file (default: .qoder-orchestrate.yaml)")
	pf.StringVarP(&projectDir, "project-dir", "C", ".", "project root")
	pf.Int("max-parallel", 0, "maximum concurrent agent invocations")
	pf.Int("max-iterations", 0, "maximum waves per run")
	pf.Duration("task-timeout", 0, "timeout for a single agent invocation")
	pf.String("agent", "", "agent type: qoder, claude or command")
	pf.String("model", "", "model passed to the agent")
	pf.String("backend", "", "plan persistence backend: json or sqlite")
	pf.String("log-level", "", "DEBUG, INFO, WARNING or ERROR")
	pf.Bool("no-cache", false, "disable the context cache")
	pf.Bool("no-checkpoints", false, "disable git checkpoints")
}

// flagKeys maps persistent flags to configuration keys.
var flagKeys = map[string]string{
	"max-parallel":   "execution.max_parallel",
	"max-iterations": "execution.max_iterations",
	"task-timeout":   "execution.task_timeout",
	"agent":          "agent.type",
	"model":          "agent.model",
	"backend":        "persistence.backend",
	"log-level":      "log_level",
}

// flagOverrides returns the configuration values set explicitly on the
// command line.
func flagOverrides(cmd *cobra.Command) (map[string]any, error) {
	flags := cmd.Flags()
	overrides := make(map[string]any)

	for name, key := range flagKeys {
		if !flags.Changed(name) {
			continue
		}
		var (
			v   any
			err error
		)
		switch name {
		case "max-parallel", "max-iterations":
			v, err = flags.GetInt(name)
		case "task-timeout":
			v, err = flags.GetDuration(name)
		default:
			v, err = flags.GetString(name)
		}
		if err != nil {
			return nil, err
		}
		overrides[key] = v
	}

	if off, _ := flags.GetBool("no-cache"); off {
		overrides["cache.enabled"] = false
	}
	if off, _ := flags.GetBool("no-checkpoints"); off {
		overrides["rollback.create_checkpoints"] = false
	}
	return overrides, nil
}

// loadConfig resolves the project directory and loads configuration for it.
func loadConfig(cmd *cobra.Command) (*config.Config, string, error) {
	dir, err := filepath.Abs(projectDir)
	if err != nil {
		return nil, "", fmt.Errorf("invalid project dir: %w", err)
	}
	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		return nil, "", fmt.Errorf("project dir %s does not exist", dir)
	}

	overrides, err := flagOverrides(cmd)
	if err != nil {
		return nil, "", err
	}
	cfg, err := config.Load(config.Options{
		ProjectDir: dir,
		File:       configFile,
		Overrides:  overrides,
	})
	if err != nil {
		return nil, "", err
	}
	return cfg, dir, nil
}

// resolve makes p absolute relative to the project dir.
func resolve(dir, p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(dir, p)
}
