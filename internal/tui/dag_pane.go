package tui

import (
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/francisykl/qoder-cli-orchestrator/internal/events"
)

// DAGPaneModel shows task counts and the coordinator state.
type DAGPaneModel struct {
	iteration int
	total     int
	completed int
	running   int
	failed    int
	pending   int
	hold      int
	state     string
	reason    string
	width     int
	height    int
	focused   bool
}

// NewDAGPaneModel creates a new DAG pane model.
func NewDAGPaneModel() DAGPaneModel {
	return DAGPaneModel{state: "idle"}
}

// Update handles progress and state events.
func (m DAGPaneModel) Update(msg tea.Msg) (DAGPaneModel, tea.Cmd) {
	switch msg := msg.(type) {
	case events.ProgressEvent:
		m.iteration = msg.Iteration
		m.total = msg.Total
		m.completed = msg.Completed
		m.running = msg.Running
		m.failed = msg.Failed
		m.pending = msg.Pending
		m.hold = msg.Hold

	case events.WaveStartedEvent:
		// The wave is running before the next progress report arrives.
		m.running = len(msg.TaskIDs)
		m.pending = max(0, m.pending-len(msg.TaskIDs))

	case events.StateChangedEvent:
		m.state = msg.State
		m.reason = msg.Reason
	}

	return m, nil
}

// View renders the DAG pane.
func (m DAGPaneModel) View() string {
	if m.width == 0 || m.height == 0 {
		return ""
	}

	var b strings.Builder

	title := StyleTitle.Render("Progress")
	b.WriteString(title)
	b.WriteString("\n")
	b.WriteString(strings.Repeat("=", lipgloss.Width(title)))
	b.WriteString("\n\n")

	state := m.state
	if m.reason != "" {
		state += " (" + m.reason + ")"
	}
	fmt.Fprintf(&b, "State:     %s\n", stateStyle(m.state).Render(state))
	fmt.Fprintf(&b, "Iteration: %d\n", m.iteration)
	fmt.Fprintf(&b, "Total:     %d\n", m.total)
	fmt.Fprintf(&b, "Completed: %s\n", StyleStatusComplete.Render(fmt.Sprint(m.completed)))
	fmt.Fprintf(&b, "Running:   %s\n", StyleStatusRunning.Render(fmt.Sprint(m.running)))
	fmt.Fprintf(&b, "Failed:    %s\n", StyleStatusFailed.Render(fmt.Sprint(m.failed)))
	fmt.Fprintf(&b, "Pending:   %s\n", StyleStatusPending.Render(fmt.Sprint(m.pending)))
	if m.hold > 0 {
		fmt.Fprintf(&b, "On hold:   %s\n", StyleStatusHold.Render(fmt.Sprint(m.hold)))
	}
	b.WriteString("\n")

	if m.total > 0 {
		barWidth := min(m.width-4, 40)
		completedWidth := (m.completed * barWidth) / m.total
		failedWidth := (m.failed * barWidth) / m.total
		runningWidth := (m.running * barWidth) / m.total
		pendingWidth := barWidth - completedWidth - failedWidth - runningWidth

		bar := StyleStatusComplete.Render(strings.Repeat("=", max(0, completedWidth)))
		bar += StyleStatusFailed.Render(strings.Repeat("!", max(0, failedWidth)))
		bar += StyleStatusRunning.Render(strings.Repeat("-", max(0, runningWidth)))
		bar += StyleStatusPending.Render(strings.Repeat(".", max(0, pendingWidth)))

		fmt.Fprintf(&b, "[%s]  %d/%d\n", bar, m.completed, m.total)
	}

	style := StyleUnfocusedBorder
	if m.focused {
		style = StyleFocusedBorder
	}
	return style.
		Width(m.width - 2).
		Height(m.height - 2).
		Render(b.String())
}

func stateStyle(state string) lipgloss.Style {
	switch state {
	case "executing", "planning":
		return StyleStatusRunning
	case "hold":
		return StyleStatusHold
	case "stopped":
		return StyleStatusComplete
	default:
		return StyleStatusPending
	}
}

// SetSize updates the pane dimensions.
func (m *DAGPaneModel) SetSize(w, h int) {
	m.width = w
	m.height = h
}

// SetFocused updates the focus state.
func (m *DAGPaneModel) SetFocused(focused bool) {
	m.focused = focused
}
