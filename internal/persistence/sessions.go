package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// SaveSession stores the agent session used for a task.
// Uses ON CONFLICT to upsert - a retried task keeps its latest session.
func (s *SQLiteStore) SaveSession(ctx context.Context, runID, taskID, sessionID, backendType string) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (run_id, task_id, session_id, backend_type)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(run_id, task_id) DO UPDATE SET
			session_id = excluded.session_id,
			backend_type = excluded.backend_type
	`, runID, taskID, sessionID, backendType)
	if err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	return nil
}

// GetSession retrieves session information for a task.
// Returns a wrapped sql.ErrNoRows if no session exists for the task.
func (s *SQLiteStore) GetSession(ctx context.Context, runID, taskID string) (string, string, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var sessionID, backendType string
	err := s.db.QueryRowContext(ctx, `
		SELECT session_id, backend_type
		FROM sessions
		WHERE run_id = ? AND task_id = ?
	`, runID, taskID).Scan(&sessionID, &backendType)

	if err == sql.ErrNoRows {
		return "", "", fmt.Errorf("no session found for task %q: %w", taskID, err)
	}
	if err != nil {
		return "", "", fmt.Errorf("failed to query session: %w", err)
	}

	return sessionID, backendType, nil
}

// SaveMessage appends a prompt or agent output to a task's history.
func (s *SQLiteStore) SaveMessage(ctx context.Context, runID, taskID, role, content string) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO conversation_history (run_id, task_id, role, content, timestamp)
		VALUES (?, ?, ?, ?, ?)
	`, runID, taskID, role, content, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to save message: %w", err)
	}
	return nil
}

// GetHistory retrieves all messages for a task in chronological order.
// Returns empty slice (not nil) if no history exists.
func (s *SQLiteStore) GetHistory(ctx context.Context, runID, taskID string) ([]ConversationTurn, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	// id breaks ties between messages written in the same instant
	rows, err := s.db.QueryContext(ctx, `
		SELECT role, content, timestamp
		FROM conversation_history
		WHERE run_id = ? AND task_id = ?
		ORDER BY timestamp ASC, id ASC
	`, runID, taskID)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()

	history := []ConversationTurn{}
	for rows.Next() {
		var turn ConversationTurn
		if err := rows.Scan(&turn.Role, &turn.Content, &turn.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		history = append(history, turn)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating history: %w", err)
	}

	return history, nil
}
