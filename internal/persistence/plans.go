package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/francisykl/qoder-cli-orchestrator/internal/scheduler"
	"github.com/oklog/ulid/v2"
)

// SavePlan replaces the stored tasks of plan.RunID with plan.Tasks. A plan
// without a run ID is assigned a new one.
func (s *SQLiteStore) SavePlan(ctx context.Context, plan *Plan) error {
	if plan.RunID == "" {
		plan.RunID = ulid.Make().String()
	}
	plan.UpdatedAt = time.Now().UTC()

	// Begin transaction with serializable isolation (BEGIN IMMEDIATE)
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO runs (id, prompt, iteration, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			prompt = excluded.prompt,
			iteration = excluded.iteration,
			updated_at = excluded.updated_at
	`, plan.RunID, plan.Prompt, plan.Iteration, plan.UpdatedAt, plan.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert run: %w", err)
	}

	// Dependencies cascade with their tasks.
	if _, err := tx.ExecContext(ctx, `DELETE FROM tasks WHERE run_id = ?`, plan.RunID); err != nil {
		return fmt.Errorf("failed to clear tasks: %w", err)
	}

	for pos, task := range plan.Tasks {
		scope, err := json.Marshal(task.FilesScope)
		if err != nil {
			return fmt.Errorf("failed to encode files scope of %s: %w", task.ID, err)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO tasks (run_id, id, position, description, subagent, component, files_scope, status, output, error)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, plan.RunID, task.ID, pos, task.Description, task.Subagent, task.Component, string(scope), string(task.Status), task.Output, task.Error)
		if err != nil {
			return fmt.Errorf("failed to insert task %s: %w", task.ID, err)
		}
	}

	for _, task := range plan.Tasks {
		for pos, depID := range task.DependsOn {
			_, err = tx.ExecContext(ctx, `
				INSERT INTO task_dependencies (run_id, task_id, depends_on_id, position)
				VALUES (?, ?, ?, ?)
			`, plan.RunID, task.ID, depID, pos)
			if err != nil {
				return fmt.Errorf("failed to insert dependency %s -> %s: %w", task.ID, depID, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// LoadPlan returns the most recently updated run.
func (s *SQLiteStore) LoadPlan(ctx context.Context) (*Plan, error) {
	var runID string
	err := s.db.QueryRowContext(ctx, `
		SELECT id FROM runs ORDER BY updated_at DESC, rowid DESC LIMIT 1
	`).Scan(&runID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNoPlan
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	return s.LoadRun(ctx, runID)
}

// LoadRun returns the plan stored under runID.
func (s *SQLiteStore) LoadRun(ctx context.Context, runID string) (*Plan, error) {
	plan := &Plan{RunID: runID}
	err := s.db.QueryRowContext(ctx, `
		SELECT prompt, iteration, updated_at FROM runs WHERE id = ?
	`, runID).Scan(&plan.Prompt, &plan.Iteration, &plan.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("run %s: %w", runID, ErrNoPlan)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query run: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, description, subagent, component, files_scope, status, output, error
		FROM tasks
		WHERE run_id = ?
		ORDER BY position
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query tasks: %w", err)
	}

	byID := make(map[string]*scheduler.Task)
	for rows.Next() {
		task := &scheduler.Task{}
		var scope, status string
		var output, errStr sql.NullString
		if err := rows.Scan(&task.ID, &task.Description, &task.Subagent, &task.Component, &scope, &status, &output, &errStr); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan task: %w", err)
		}
		if err := json.Unmarshal([]byte(scope), &task.FilesScope); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to decode files scope of %s: %w", task.ID, err)
		}
		task.Status = scheduler.TaskStatus(status)
		task.Output = output.String
		task.Error = errStr.String
		task.DependsOn = []string{}
		plan.Tasks = append(plan.Tasks, task)
		byID[task.ID] = task
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("error iterating tasks: %w", err)
	}
	rows.Close()

	depRows, err := s.db.QueryContext(ctx, `
		SELECT task_id, depends_on_id
		FROM task_dependencies
		WHERE run_id = ?
		ORDER BY task_id, position
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query dependencies: %w", err)
	}
	defer depRows.Close()

	for depRows.Next() {
		var taskID, depID string
		if err := depRows.Scan(&taskID, &depID); err != nil {
			return nil, fmt.Errorf("failed to scan dependency: %w", err)
		}
		if task, ok := byID[taskID]; ok {
			task.DependsOn = append(task.DependsOn, depID)
		}
	}
	if err := depRows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating dependencies: %w", err)
	}

	return plan, nil
}
