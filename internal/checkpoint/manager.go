// Package checkpoint creates git restore points before tasks run and rolls
// the working tree back to them when a task fails for good.
package checkpoint

import (
	"context"
	"fmt"
	"log"
	"regexp"
	"sync"
	"time"

	"github.com/francisykl/qoder-cli-orchestrator/internal/vcs"
	"github.com/oklog/ulid/v2"
)

// TagPrefix prefixes every restore-point tag.
const TagPrefix = "qoder-checkpoint-"

// VCS is the subset of git the manager uses. *vcs.Git implements it.
type VCS interface {
	IsRepo(ctx context.Context) bool
	Dirty(ctx context.Context) (bool, error)
	Stash(ctx context.Context, message string) (bool, error)
	FindStash(ctx context.Context, marker string) (string, error)
	StashApply(ctx context.Context, ref string) error
	StashDrop(ctx context.Context, ref string) error
	Head(ctx context.Context) (string, error)
	Tag(ctx context.Context, name, ref, message string) error
	DeleteTag(ctx context.Context, name string) error
	ResetHard(ctx context.Context, ref string) error
	Commit(ctx context.Context, ref string) (*vcs.CommitInfo, error)
}

// Config controls checkpoint creation and retention.
type Config struct {
	Enabled           bool
	CreateCheckpoints bool
	Keep              int  // Restore points retained (default 10)
	AutoRollback      bool // Roll back automatically once retries are exhausted
}

// Checkpoint is one restore point.
type Checkpoint struct {
	ID          string // Commit SHA the tag points at
	Tag         string
	TaskID      string
	Description string
	Stashed     bool // Uncommitted changes were snapshotted in a stash entry marked with Tag
	CreatedAt   time.Time
}

// Manager owns the bounded list of restore points. Safe for concurrent use.
type Manager struct {
	mu          sync.Mutex
	cfg         Config
	vcs         VCS
	enabled     bool
	checkpoints []*Checkpoint
}

// NewManager creates a manager. It disables itself with a warning when the
// working tree is not a git repository.
func NewManager(ctx context.Context, v VCS, cfg Config) *Manager {
	if cfg.Keep <= 0 {
		cfg.Keep = 10
	}
	m := &Manager{cfg: cfg, vcs: v, enabled: cfg.Enabled}
	if m.enabled && (v == nil || !v.IsRepo(ctx)) {
		log.Printf("WARNING: not a git repository - rollback disabled")
		m.enabled = false
	}
	return m
}

// Enabled reports whether rollback is active.
func (m *Manager) Enabled() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.enabled
}

// AutoRollback reports whether failed tasks should be rolled back.
func (m *Manager) AutoRollback() bool {
	return m.Enabled() && m.cfg.AutoRollback
}

var unsafeTagChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// Create snapshots uncommitted changes into a stash entry, re-applies them so
// the working tree is unchanged, and tags HEAD. It returns nil, nil when
// checkpoints are disabled.
func (m *Manager) Create(ctx context.Context, taskID, description string) (*Checkpoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.enabled || !m.cfg.CreateCheckpoints {
		return nil, nil
	}

	tag := TagPrefix + unsafeTagChars.ReplaceAllString(taskID, "_") + "-" + ulid.Make().String()

	dirty, err := m.vcs.Dirty(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create checkpoint: %w", err)
	}
	stashed := false
	if dirty {
		log.Printf("INFO: stashing uncommitted changes")
		stashed, err = m.vcs.Stash(ctx, fmt.Sprintf("Qoder checkpoint %s: %s", tag, description))
		if err != nil {
			return nil, fmt.Errorf("failed to create checkpoint: %w", err)
		}
		if stashed {
			if err := m.restoreSnapshot(ctx, tag); err != nil {
				return nil, fmt.Errorf("failed to restore working tree after snapshot %s: %w", tag, err)
			}
		}
	}

	head, err := m.vcs.Head(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create checkpoint: %w", err)
	}
	msg := fmt.Sprintf("Checkpoint before task %s: %s", taskID, description)
	if err := m.vcs.Tag(ctx, tag, head, msg); err != nil {
		return nil, fmt.Errorf("failed to create checkpoint: %w", err)
	}

	cp := &Checkpoint{
		ID:          head,
		Tag:         tag,
		TaskID:      taskID,
		Description: description,
		Stashed:     stashed,
		CreatedAt:   time.Now(),
	}
	m.checkpoints = append(m.checkpoints, cp)
	m.pruneLocked(ctx)

	log.Printf("INFO: created checkpoint %s (%s)", tag, shortSHA(head))
	c := *cp
	return &c, nil
}

// RollbackTo hard-resets to the checkpoint identified by SHA or tag, then
// re-applies the uncommitted changes snapshotted when it was created.
// Failure to re-apply is logged, not fatal.
func (m *Manager) RollbackTo(ctx context.Context, id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.enabled {
		log.Printf("WARNING: rollback disabled")
		return false
	}

	cp := m.findLocked(id)
	ref := id
	if cp != nil {
		ref = cp.Tag
	}

	log.Printf("WARNING: rolling back to checkpoint %s", shortSHA(id))
	if err := m.vcs.ResetHard(ctx, ref); err != nil {
		log.Printf("ERROR: rollback failed: %v", err)
		return false
	}

	if cp != nil && cp.Stashed {
		if err := m.restoreSnapshot(ctx, cp.Tag); err != nil {
			log.Printf("WARNING: failed to restore stashed changes: %v", err)
		}
	}

	log.Printf("INFO: rollback successful")
	return true
}

// RollbackLast rolls back to the most recent checkpoint.
func (m *Manager) RollbackLast(ctx context.Context) bool {
	m.mu.Lock()
	if len(m.checkpoints) == 0 {
		m.mu.Unlock()
		log.Printf("WARNING: no checkpoints available for rollback")
		return false
	}
	last := m.checkpoints[len(m.checkpoints)-1].Tag
	m.mu.Unlock()

	return m.RollbackTo(ctx, last)
}

// Checkpoints returns the retained checkpoints, oldest first.
func (m *Manager) Checkpoints() []Checkpoint {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Checkpoint, len(m.checkpoints))
	for i, cp := range m.checkpoints {
		out[i] = *cp
	}
	return out
}

// Info returns commit details for a checkpoint SHA or tag.
func (m *Manager) Info(ctx context.Context, id string) (*vcs.CommitInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.enabled {
		return nil, fmt.Errorf("rollback disabled")
	}
	ref := id
	if cp := m.findLocked(id); cp != nil {
		ref = cp.Tag
	}
	return m.vcs.Commit(ctx, ref)
}

// findLocked looks up by tag first, then by SHA (newest wins).
func (m *Manager) findLocked(id string) *Checkpoint {
	for i := len(m.checkpoints) - 1; i >= 0; i-- {
		if m.checkpoints[i].Tag == id {
			return m.checkpoints[i]
		}
	}
	for i := len(m.checkpoints) - 1; i >= 0; i-- {
		if m.checkpoints[i].ID == id {
			return m.checkpoints[i]
		}
	}
	return nil
}

func (m *Manager) pruneLocked(ctx context.Context) {
	if len(m.checkpoints) <= m.cfg.Keep {
		return
	}
	drop := m.checkpoints[:len(m.checkpoints)-m.cfg.Keep]
	for _, cp := range drop {
		if err := m.vcs.DeleteTag(ctx, cp.Tag); err != nil {
			log.Printf("WARNING: failed to remove old checkpoint: %v", err)
		}
		if !cp.Stashed {
			continue
		}
		if ref, err := m.vcs.FindStash(ctx, cp.Tag); err == nil {
			if err := m.vcs.StashDrop(ctx, ref); err != nil {
				log.Printf("WARNING: failed to drop snapshot of %s: %v", cp.Tag, err)
			}
		}
	}
	m.checkpoints = append([]*Checkpoint(nil), m.checkpoints[len(m.checkpoints)-m.cfg.Keep:]...)
}

// restoreSnapshot applies the stash entry marked with tag, keeping the entry.
func (m *Manager) restoreSnapshot(ctx context.Context, tag string) error {
	ref, err := m.vcs.FindStash(ctx, tag)
	if err != nil {
		return err
	}
	return m.vcs.StashApply(ctx, ref)
}

func shortSHA(s string) string {
	if len(s) > 8 {
		return s[:8]
	}
	return s
}
