package tui

import (
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/francisykl/qoder-cli-orchestrator/internal/config"
	"github.com/francisykl/qoder-cli-orchestrator/internal/events"
)

func newTestModel(t *testing.T) Model {
	t.Helper()
	dir := t.TempDir()
	bus := events.NewEventBus()
	t.Cleanup(bus.Close)
	m := New(bus, config.DefaultConfig(), filepath.Join(dir, "user.yaml"), filepath.Join(dir, "project.yaml"))
	updated, _ := m.Update(tea.WindowSizeMsg{Width: 120, Height: 40})
	return updated.(Model)
}

func send(m Model, msgs ...tea.Msg) Model {
	for _, msg := range msgs {
		updated, _ := m.Update(msg)
		m = updated.(Model)
	}
	return m
}

func TestModel_RoutesTaskEvents(t *testing.T) {
	m := newTestModel(t)
	now := time.Now()

	m = send(m,
		events.TaskStartedEvent{ID: "a", Description: "Build API", Subagent: "backend-dev", Timestamp: now},
		events.TaskRetryEvent{ID: "a", Attempt: 1, Kind: "network", Err: "connection reset", Backoff: time.Second},
		events.TaskCompletedEvent{ID: "a", Output: "done", Duration: 2 * time.Second},
	)

	got, ok := m.agentPane.Selected()
	if !ok {
		t.Fatal("expected a selected task")
	}
	if got.Status != "completed" {
		t.Errorf("status = %q, want completed", got.Status)
	}
	if got.Attempts != 2 {
		t.Errorf("attempts = %d, want 2", got.Attempts)
	}
	log := strings.Join(got.Log, "\n")
	for _, want := range []string{"Build API", "connection reset", "done"} {
		if !strings.Contains(log, want) {
			t.Errorf("log missing %q:\n%s", want, log)
		}
	}
}

func TestModel_RoutesRunEvents(t *testing.T) {
	m := newTestModel(t)
	now := time.Now()

	m = send(m,
		events.StateChangedEvent{State: "executing", Timestamp: now},
		events.WaveStartedEvent{Iteration: 1, TaskIDs: []string{"a", "b"}, Timestamp: now},
		events.CheckpointCreatedEvent{ID: "a", Tag: "qoder-checkpoint-a-1", Timestamp: now},
		events.ProgressEvent{Iteration: 1, Total: 4, Completed: 2, Pending: 2, Timestamp: now},
		events.RolledBackEvent{ID: "b", Tag: "qoder-checkpoint-b-1", OK: true, Timestamp: now},
	)

	if m.dagPane.state != "executing" {
		t.Errorf("state = %q, want executing", m.dagPane.state)
	}
	if m.dagPane.completed != 2 || m.dagPane.total != 4 {
		t.Errorf("progress = %d/%d, want 2/4", m.dagPane.completed, m.dagPane.total)
	}

	lines := m.activityPane.Lines()
	if len(lines) != 4 {
		t.Fatalf("activity lines = %d, want 4: %v", len(lines), lines)
	}
	joined := strings.Join(lines, "\n")
	for _, want := range []string{"state: executing", "dispatching a, b", "checkpoint qoder-checkpoint-a-1", "rolled back to qoder-checkpoint-b-1"} {
		if !strings.Contains(joined, want) {
			t.Errorf("activity missing %q:\n%s", want, joined)
		}
	}
}

func TestModel_Finished(t *testing.T) {
	m := newTestModel(t)
	if m.Finished() {
		t.Fatal("model finished before FinishedMsg")
	}

	m = send(m, FinishedMsg{Summary: "ORCHESTRATION SUMMARY\n", Err: errors.New("boom")})
	if !m.Finished() {
		t.Fatal("model not finished after FinishedMsg")
	}
	if !strings.Contains(m.View(), "boom") {
		t.Error("view does not show the run error")
	}

	m = send(m, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})
	if got := m.View(); got != "ORCHESTRATION SUMMARY\n" {
		t.Errorf("final view = %q", got)
	}
}

func TestModel_FocusCycles(t *testing.T) {
	m := newTestModel(t)
	for _, want := range []PaneID{PaneActivity, PaneProgress, PaneTasks} {
		m = send(m, tea.KeyMsg{Type: tea.KeyTab})
		if m.focusedPane != want {
			t.Fatalf("focus = %d, want %d", m.focusedPane, want)
		}
	}
	m = send(m, tea.KeyMsg{Type: tea.KeyShiftTab})
	if m.focusedPane != PaneProgress {
		t.Errorf("focus after shift+tab = %d, want %d", m.focusedPane, PaneProgress)
	}
}

func TestSettingsPane_ApplyForm(t *testing.T) {
	dir := t.TempDir()
	cfg := config.DefaultConfig()
	p := NewSettingsPaneModel(cfg, filepath.Join(dir, "user.yaml"), filepath.Join(dir, "project.yaml"))

	p.maxParallel = "5"
	p.taskTimeout = "90s"
	p.agentType = "claude"
	p.autoRollback = true

	updated, err := p.applyForm()
	if err != nil {
		t.Fatalf("applyForm: %v", err)
	}
	if updated.Execution.MaxParallel != 5 || updated.Execution.TaskTimeout != 90*time.Second {
		t.Errorf("execution = %+v", updated.Execution)
	}
	if updated.Agent.Type != "claude" || !updated.Rollback.AutoRollbackOnFailure {
		t.Errorf("agent/rollback not applied: %+v %+v", updated.Agent, updated.Rollback)
	}
	if cfg.Execution.MaxParallel != 3 {
		t.Error("applyForm modified the live config")
	}

	p.agentType = "command"
	p.agentCommand = ""
	if _, err := p.applyForm(); err == nil {
		t.Error("expected validation error for command agent without a command")
	}
}
