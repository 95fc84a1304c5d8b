// Package persistence saves and restores the task plan between runs, and
// keeps an audit trail of agent sessions and prompts.
package persistence

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/francisykl/qoder-cli-orchestrator/internal/scheduler"
	_ "modernc.org/sqlite"
)

// ErrNoPlan is returned by LoadPlan when nothing has been saved yet.
var ErrNoPlan = errors.New("no saved plan")

// Plan is the persisted state of one orchestration run.
type Plan struct {
	RunID     string            `json:"run_id,omitempty"`
	Prompt    string            `json:"prompt"`
	Tasks     []*scheduler.Task `json:"tasks"`
	Iteration int               `json:"iteration"`
	UpdatedAt time.Time         `json:"updated_at,omitempty"`
}

// planJSON is the on-disk layout of a Plan. Tasks are an object keyed by id.
type planJSON struct {
	RunID     string          `json:"run_id,omitempty"`
	Prompt    string          `json:"prompt"`
	Tasks     json.RawMessage `json:"tasks"`
	Iteration int             `json:"iteration"`
	UpdatedAt time.Time       `json:"updated_at,omitempty"`
}

// MarshalJSON writes the tasks as an id → task object in plan order.
func (p Plan) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, t := range p.Tasks {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(t.ID)
		if err != nil {
			return nil, err
		}
		val, err := json.Marshal(t)
		if err != nil {
			return nil, fmt.Errorf("failed to encode task %s: %w", t.ID, err)
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(val)
	}
	buf.WriteByte('}')

	return json.Marshal(planJSON{
		RunID:     p.RunID,
		Prompt:    p.Prompt,
		Tasks:     buf.Bytes(),
		Iteration: p.Iteration,
		UpdatedAt: p.UpdatedAt,
	})
}

// UnmarshalJSON accepts tasks either as an id → task object, keeping the
// file order, or as a plain array. A task without an id takes its key.
func (p *Plan) UnmarshalJSON(data []byte) error {
	var raw planJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	tasks, err := decodeTasks(raw.Tasks)
	if err != nil {
		return err
	}
	*p = Plan{
		RunID:     raw.RunID,
		Prompt:    raw.Prompt,
		Tasks:     tasks,
		Iteration: raw.Iteration,
		UpdatedAt: raw.UpdatedAt,
	}
	return nil
}

func decodeTasks(raw json.RawMessage) ([]*scheduler.Task, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, nil
	}
	if raw[0] == '[' {
		var tasks []*scheduler.Task
		if err := json.Unmarshal(raw, &tasks); err != nil {
			return nil, fmt.Errorf("invalid tasks: %w", err)
		}
		return tasks, nil
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	if tok, err := dec.Token(); err != nil || tok != json.Delim('{') {
		return nil, fmt.Errorf("invalid tasks: want an object or an array")
	}
	var tasks []*scheduler.Task
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, fmt.Errorf("invalid tasks: %w", err)
		}
		key, _ := tok.(string)
		var t scheduler.Task
		if err := dec.Decode(&t); err != nil {
			return nil, fmt.Errorf("invalid task %s: %w", key, err)
		}
		if t.ID == "" {
			t.ID = key
		}
		tasks = append(tasks, &t)
	}
	if _, err := dec.Token(); err != nil {
		return nil, fmt.Errorf("invalid tasks: %w", err)
	}
	return tasks, nil
}

// PlanStore persists the latest plan. It is rewritten after every wave.
type PlanStore interface {
	SavePlan(ctx context.Context, plan *Plan) error
	LoadPlan(ctx context.Context) (*Plan, error)
	Close() error
}

// ConversationTurn represents a single message exchanged with an agent.
type ConversationTurn struct {
	Role      string // "user" or "assistant"
	Content   string
	Timestamp time.Time
}

// TranscriptStore records agent sessions and the prompts/outputs of each
// task attempt.
type TranscriptStore interface {
	SaveSession(ctx context.Context, runID, taskID, sessionID, backendType string) error
	GetSession(ctx context.Context, runID, taskID string) (sessionID string, backendType string, err error)
	SaveMessage(ctx context.Context, runID, taskID, role, content string) error
	GetHistory(ctx context.Context, runID, taskID string) ([]ConversationTurn, error)
}

// SQLiteStore implements PlanStore and TranscriptStore using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite-backed store at the given path.
// Creates parent directories if needed. Enables WAL mode, foreign keys, and busy timeout.
func NewSQLiteStore(ctx context.Context, dbPath string) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create parent directories: %w", err)
	}

	// modernc.org/sqlite doesn't support _foreign_keys in the connection string
	connStr := fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL&_time_format=sqlite", dbPath)
	return openStore(ctx, connStr)
}

// NewMemoryStore creates an in-memory SQLite store for testing. name keeps
// separate stores in one process apart.
func NewMemoryStore(ctx context.Context, name string) (*SQLiteStore, error) {
	return openStore(ctx, fmt.Sprintf("file:%s?mode=memory&cache=shared&_time_format=sqlite", name))
}

func openStore(ctx context.Context, connStr string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	// PRAGMA foreign_keys is per connection.
	db.SetMaxOpenConns(1)

	store := &SQLiteStore{db: db}
	if err := store.initSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Open returns the plan store for backend ("json" or "sqlite"). An empty path
// selects the default location under projectDir.
func Open(ctx context.Context, backend, path, projectDir string) (PlanStore, error) {
	switch backend {
	case "", "json":
		if path == "" {
			path = filepath.Join(projectDir, DefaultPlanFile)
		}
		return NewFileStore(path), nil
	case "sqlite":
		if path == "" {
			path = filepath.Join(projectDir, ".qoder-orchestrate", "orchestrator.db")
		}
		return NewSQLiteStore(ctx, path)
	default:
		return nil, fmt.Errorf("unknown persistence backend %q", backend)
	}
}
