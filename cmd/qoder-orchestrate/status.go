package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/francisykl/qoder-cli-orchestrator/internal/persistence"
	"github.com/francisykl/qoder-cli-orchestrator/internal/scheduler"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the saved plan and task states",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, dir, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		ctx := cmd.Context()
		store, err := persistence.Open(ctx, cfg.Persistence.Backend, resolve(dir, cfg.Persistence.Path), dir)
		if err != nil {
			return err
		}
		defer store.Close()

		plan, err := store.LoadPlan(ctx)
		if errors.Is(err, persistence.ErrNoPlan) {
			fmt.Fprintln(cmd.OutOrStdout(), "No saved plan.")
			return nil
		}
		if err != nil {
			return err
		}
		printPlan(cmd, plan)
		return nil
	},
}

func printPlan(cmd *cobra.Command, plan *persistence.Plan) {
	out := cmd.OutOrStdout()

	bold.Fprintf(out, "%s\n", plan.Prompt)
	fmt.Fprintf(out, "Run %s, iteration %d", plan.RunID, plan.Iteration)
	if !plan.UpdatedAt.IsZero() {
		fmt.Fprintf(out, ", saved %s", plan.UpdatedAt.Local().Format("2006-01-02 15:04:05"))
	}
	fmt.Fprint(out, "\n\n")

	counts := make(map[scheduler.TaskStatus]int)
	for _, t := range plan.Tasks {
		counts[t.Status]++
		line := fmt.Sprintf("%s %-20s %s", statusIcon(t.Status), t.ID, t.Description)
		if len(t.DependsOn) > 0 {
			line += faint.Sprintf(" (after %s)", strings.Join(t.DependsOn, ", "))
		}
		fmt.Fprintln(out, line)
		if t.Status == scheduler.TaskFailed && t.Error != "" {
			red.Fprintf(out, "    %s\n", firstLine(t.Error))
		}
	}

	fmt.Fprintf(out, "\n%d tasks: %d completed, %d failed, %d on hold, %d pending\n",
		len(plan.Tasks), counts[scheduler.TaskCompleted], counts[scheduler.TaskFailed],
		counts[scheduler.TaskHold], counts[scheduler.TaskPending]+counts[scheduler.TaskRunning])
}
