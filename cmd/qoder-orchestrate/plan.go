package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/francisykl/qoder-cli-orchestrator/internal/persistence"
	"github.com/francisykl/qoder-cli-orchestrator/internal/scheduler"
)

var savePlan bool

var planCmd = &cobra.Command{
	Use:   "plan <objective>",
	Short: "Split an objective into tasks without executing them",
	Long: `Plan prints the task list the agent proposes for the objective as JSON,
followed by the waves it would run in. With --save the plan replaces the
saved one, so "qoder-orchestrate resume" executes it.`,
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
		ctx := cmd.Context()
		a, err := newApp(ctx, cfg, dir, cmd.ErrOrStderr())
		if err != nil {
			return err
		}
		defer a.Close()

		coord, err := a.coordinator(ctx)
		if err != nil {
			return err
		}
		tasks, err := coord.Plan(ctx, objective)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		data, err := json.MarshalIndent(tasks, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to encode plan: %w", err)
		}
		fmt.Fprintln(out, string(data))

		ex := cfg.Execution
		waves := planWaves(tasks, ex.MaxParallel, ex.EnableBatchProcessing, ex.BatchSimilarityThreshold)
		bold.Fprintf(out, "\n%d tasks in %d waves\n", len(tasks), len(waves))
		for i, wave := range waves {
			fmt.Fprintf(out, "  %d: %s\n", i+1, strings.Join(wave, ", "))
		}

		if savePlan {
			plan := &persistence.Plan{Prompt: objective, Tasks: tasks}
			if err := a.store.SavePlan(ctx, plan); err != nil {
				return err
			}
			green.Fprintln(out, "plan saved")
		}
		return nil
	},
}

func init() {
	planCmd.Flags().BoolVar(&savePlan, "save", false, "save the plan for \"resume\"")
}

// planWaves simulates the schedule: it repeatedly picks the next wave the
// coordinator would dispatch and marks it completed.
func planWaves(tasks []*scheduler.Task, limit int, batching bool, threshold float64) [][]string {
	sim := make([]*scheduler.Task, len(tasks))
	for i, t := range tasks {
		sim[i] = t.Clone()
		sim[i].Status = scheduler.TaskPending
	}

	var priority []string
	if batching {
		batches := scheduler.NewGrouper(threshold).Group(sim)
		priority = scheduler.Priority(scheduler.OptimizeExecutionOrder(batches, scheduler.IndexTasks(sim)))
	}

	var waves [][]string
	for {
		wave := scheduler.NextWave(sim, limit, priority)
		if len(wave) == 0 {
			return waves
		}
		ids := make([]string, len(wave))
		for i, t := range wave {
			ids[i] = t.ID
			t.Status = scheduler.TaskCompleted
		}
		waves = append(waves, ids)
	}
}
