package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/francisykl/qoder-cli-orchestrator/internal/events"
)

const maxActivityLines = 500

// ActivityPaneModel is a scrolling log of run-level events.
type ActivityPaneModel struct {
	lines    []string
	viewport viewport.Model
	width    int
	height   int
	focused  bool
}

// NewActivityPaneModel creates an empty activity log.
func NewActivityPaneModel() ActivityPaneModel {
	return ActivityPaneModel{viewport: viewport.New(0, 0)}
}

// Update records run events and scrolls on keys when focused.
func (m ActivityPaneModel) Update(msg tea.Msg) (ActivityPaneModel, tea.Cmd) {
	var cmd tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		if m.focused {
			m.viewport, cmd = m.viewport.Update(msg)
		}
	case events.WaveStartedEvent:
		m.add(msg.Timestamp, "iteration %d: dispatching %s", msg.Iteration, strings.Join(msg.TaskIDs, ", "))
	case events.ReplannedEvent:
		line := fmt.Sprintf("plan refined after %s: %d tasks", msg.TriggerID, msg.Tasks)
		for old, renamed := range msg.Renamed {
			line += fmt.Sprintf(", %s -> %s", old, renamed)
		}
		m.add(msg.Timestamp, "%s", line)
	case events.CheckpointCreatedEvent:
		m.add(msg.Timestamp, "checkpoint %s for %s", msg.Tag, msg.ID)
	case events.RolledBackEvent:
		if msg.OK {
			m.add(msg.Timestamp, "rolled back to %s after %s failed", msg.Tag, msg.ID)
		} else {
			m.add(msg.Timestamp, "rollback to %s FAILED", msg.Tag)
		}
	case events.StateChangedEvent:
		if msg.Reason != "" {
			m.add(msg.Timestamp, "state: %s (%s)", msg.State, msg.Reason)
		} else {
			m.add(msg.Timestamp, "state: %s", msg.State)
		}
	case FinishedMsg:
		m.add(time.Now(), "%s", msg.String())
	}

	return m, cmd
}

func (m *ActivityPaneModel) add(ts time.Time, format string, args ...any) {
	m.lines = append(m.lines, ts.Format("15:04:05")+"  "+fmt.Sprintf(format, args...))
	if len(m.lines) > maxActivityLines {
		m.lines = m.lines[len(m.lines)-maxActivityLines:]
	}
	m.viewport.SetContent(strings.Join(m.lines, "\n"))
	m.viewport.GotoBottom()
}

// Lines returns the recorded log lines.
func (m ActivityPaneModel) Lines() []string {
	return append([]string(nil), m.lines...)
}

// View renders the activity pane.
func (m ActivityPaneModel) View() string {
	if m.width == 0 || m.height == 0 {
		return ""
	}
	style := StyleUnfocusedBorder
	if m.focused {
		style = StyleFocusedBorder
	}
	body := StyleTitle.Render("Activity") + "\n" + m.viewport.View()
	return style.
		Width(m.width - 2).
		Height(m.height - 2).
		Render(body)
}

// SetSize updates the pane dimensions.
func (m *ActivityPaneModel) SetSize(w, h int) {
	m.width = w
	m.height = h
	m.viewport.Width = max(w-4, 10)
	m.viewport.Height = max(h-3, 3)
}

// SetFocused updates the focus state.
func (m *ActivityPaneModel) SetFocused(focused bool) {
	m.focused = focused
}
