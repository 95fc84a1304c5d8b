package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/francisykl/qoder-cli-orchestrator/internal/fsutil"
)

// DefaultPlanFile is the plan location relative to the project directory.
var DefaultPlanFile = filepath.Join("specs", "plan.json")

// FileStore keeps the plan as an indented JSON document.
type FileStore struct {
	path string
}

// NewFileStore creates a store writing to path.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Path returns the plan file location.
func (s *FileStore) Path() string { return s.path }

// SavePlan atomically rewrites the plan file.
func (s *FileStore) SavePlan(ctx context.Context, plan *Plan) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	plan.UpdatedAt = time.Now().UTC()
	data, err := json.MarshalIndent(plan, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode plan: %w", err)
	}
	if err := fsutil.LockAndWrite(s.path, data); err != nil {
		return fmt.Errorf("failed to save plan: %w", err)
	}
	return nil
}

// LoadPlan reads the plan file. A missing file returns ErrNoPlan.
func (s *FileStore) LoadPlan(ctx context.Context) (*Plan, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := fsutil.LockAndRead(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNoPlan
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read plan: %w", err)
	}

	var plan Plan
	if err := json.Unmarshal(data, &plan); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", s.path, err)
	}
	return &plan, nil
}

// Close is a no-op.
func (s *FileStore) Close() error { return nil }
