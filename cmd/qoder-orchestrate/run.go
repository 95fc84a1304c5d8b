package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/francisykl/qoder-cli-orchestrator/internal/backend"
	"github.com/francisykl/qoder-cli-orchestrator/internal/config"
	"github.com/francisykl/qoder-cli-orchestrator/internal/orchestrator"
	"github.com/francisykl/qoder-cli-orchestrator/internal/persistence"
	"github.com/francisykl/qoder-cli-orchestrator/internal/tui"
)

// errOnHold is returned when a run stops with tasks needing attention.
var errOnHold = errors.New("run is on hold; fix the failed tasks and run \"qoder-orchestrate resume\"")

var (
	skipPreflight bool
	useTUI        bool
)

var runCmd = &cobra.Command{
	Use:   "run <objective>",
	Short: "Plan an objective and execute it",
	Long: `Plan asks the agent to split the objective into tasks, then executes the
plan wave by wave until every task completed, a task failed or the
iteration budget ran out. The plan is saved after every wave.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		objective := strings.TrimSpace(strings.Join(args, " "))
		if objective == "" {
			return errors.New("objective is empty")
		}

		cfg, dir, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		if err := preflight(cmd.Context(), cfg, dir, cmd.ErrOrStderr()); err != nil {
			return err
		}
		return execute(cmd, cfg, dir, func(ctx context.Context, c *orchestrator.Coordinator) (*orchestrator.Summary, error) {
			return c.Run(ctx, objective)
		})
	},
}

var resumeCmd = &cobra.Command{
	Use:   "resume",
	Short: "Continue the saved plan",
	Long: `Resume loads the saved plan, returns failed and held tasks to pending and
continues executing with a fresh iteration budget. Completed tasks are not
run again.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, dir, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		return execute(cmd, cfg, dir, func(ctx context.Context, c *orchestrator.Coordinator) (*orchestrator.Summary, error) {
			return c.Resume(ctx)
		})
	},
}

func init() {
	runCmd.Flags().BoolVar(&skipPreflight, "skip-preflight", false, "skip environment checks")
	for _, c := range []*cobra.Command{runCmd, resumeCmd} {
		c.Flags().BoolVar(&useTUI, "tui", false, "show the live dashboard")
	}
}

// preflight reports environment problems. Errors abort the run, as do
// warnings when validation.fail_on_warnings is set.
func preflight(ctx context.Context, cfg *config.Config, dir string, w io.Writer) error {
	if skipPreflight || !cfg.Validation.Enabled {
		return nil
	}

	binary := backend.Binary(backend.Config{Type: cfg.Agent.Type, Command: cfg.Agent.Command})
	report := orchestrator.Preflight(ctx, dir, binary)
	for _, msg := range report.Warnings {
		yellow.Fprintf(w, "warning: %s\n", msg)
	}
	for _, msg := range report.Errors {
		red.Fprintf(w, "error: %s\n", msg)
	}

	if !report.OK() {
		return errors.New("pre-flight checks failed (use --skip-preflight to bypass)")
	}
	if cfg.Validation.FailOnWarnings && len(report.Warnings) > 0 {
		return errors.New("pre-flight warnings treated as errors (validation.fail_on_warnings)")
	}
	return nil
}

type runFunc func(ctx context.Context, c *orchestrator.Coordinator) (*orchestrator.Summary, error)

// execute builds the app and a coordinator, runs fn with plain progress
// output or the dashboard, and prints the summary.
func execute(cmd *cobra.Command, cfg *config.Config, dir string, fn runFunc) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	console := io.Writer(cmd.ErrOrStderr())
	if useTUI {
		console = io.Discard
	}
	a, err := newApp(ctx, cfg, dir, console)
	if err != nil {
		return err
	}
	defer a.Close()

	coord, err := a.coordinator(ctx)
	if err != nil {
		return err
	}

	var summary *orchestrator.Summary
	if useTUI {
		summary, err = runWithDashboard(ctx, a, coord, fn)
	} else {
		stop := printProgress(a.bus, out)
		summary, err = fn(ctx, coord)
		stop()
	}

	if summary != nil {
		printSummary(out, summary)
	}
	printCacheStats(out, a.cache.Stats())

	switch {
	case errors.Is(err, orchestrator.ErrNoPlan), errors.Is(err, persistence.ErrNoPlan):
		return errors.New("no saved plan to resume; start one with \"qoder-orchestrate run\"")
	case err != nil:
		return err
	case summary != nil && summary.State == orchestrator.StateHold:
		return errOnHold
	case summary != nil && summary.Completed < summary.Total:
		return fmt.Errorf("stopped with %d of %d tasks completed; run \"qoder-orchestrate resume\" to continue", summary.Completed, summary.Total)
	}
	return nil
}

// runWithDashboard runs fn while the dashboard owns the terminal. Quitting
// the dashboard cancels the run.
func runWithDashboard(ctx context.Context, a *app, coord *orchestrator.Coordinator, fn runFunc) (*orchestrator.Summary, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	model := tui.New(a.bus, a.cfg, config.UserConfigPath(), config.ProjectConfigPath(a.dir))
	p := tea.NewProgram(model, tea.WithAltScreen())

	type outcome struct {
		summary *orchestrator.Summary
		err     error
	}
	done := make(chan outcome, 1)
	go func() {
		s, err := fn(ctx, coord)
		msg := tui.FinishedMsg{Err: err}
		if s != nil {
			msg.Summary = s.String()
		}
		p.Send(msg)
		done <- outcome{s, err}
	}()

	stopQuit := context.AfterFunc(ctx, p.Quit)
	defer stopQuit()

	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "dashboard error: %v\n", err)
	}

	cancel()
	res := <-done
	return res.summary, res.err
}
