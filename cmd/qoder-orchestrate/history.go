package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/francisykl/qoder-cli-orchestrator/internal/persistence"
)

var historyRunID string

var historyCmd = &cobra.Command{
	Use:   "history <task-id>",
	Short: "Show the prompts and agent replies recorded for a task",
	Long: `History prints the conversation recorded for a task of the latest run, or
of --run. Transcripts are kept by the sqlite persistence backend only.`,
	Args: cobra.ExactArgs(1),
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

		transcripts, ok := store.(persistence.TranscriptStore)
		if !ok {
			return errors.New("transcripts require persistence.backend: sqlite")
		}

		runID := historyRunID
		if runID == "" {
			plan, err := store.LoadPlan(ctx)
			if err != nil {
				return err
			}
			runID = plan.RunID
		}

		taskID := args[0]
		turns, err := transcripts.GetHistory(ctx, runID, taskID)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if len(turns) == 0 {
			fmt.Fprintf(out, "No history for %s in run %s.\n", taskID, runID)
			return nil
		}

		if session, backendType, err := transcripts.GetSession(ctx, runID, taskID); err == nil && session != "" {
			faint.Fprintf(out, "session %s (%s)\n\n", session, backendType)
		}
		for _, turn := range turns {
			who := cyan
			if turn.Role == "assistant" {
				who = green
			}
			who.Fprintf(out, "── %s\n", turn.Role)
			fmt.Fprintln(out, turn.Content)
			fmt.Fprintln(out)
		}
		return nil
	},
}

func init() {
	historyCmd.Flags().StringVar(&historyRunID, "run", "", "run id (default: latest)")
}
