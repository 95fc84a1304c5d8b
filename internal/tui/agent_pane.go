package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/francisykl/qoder-cli-orchestrator/internal/events"
)

// AgentState is one agent invocation as seen by the dashboard.
type AgentState struct {
	TaskID      string
	Description string
	Subagent    string
	Batch       string
	Status      string // "running", "completed", "failed"
	Attempts    int
	Log         []string
	StartTime   time.Time
	Duration    time.Duration
}

// AgentPaneModel lists dispatched tasks and shows the selected one's log.
type AgentPaneModel struct {
	agents      map[string]*AgentState // taskID -> state
	agentOrder  []string               // dispatch order for display
	selectedIdx int
	viewport    viewport.Model
	width       int
	height      int
	focused     bool
}

const listWidth = 28

// NewAgentPaneModel creates an empty agent pane.
func NewAgentPaneModel() AgentPaneModel {
	return AgentPaneModel{
		agents:   make(map[string]*AgentState),
		viewport: viewport.New(0, 0),
	}
}

// Update handles key and task events.
func (m AgentPaneModel) Update(msg tea.Msg) (AgentPaneModel, tea.Cmd) {
	var cmd tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		if !m.focused {
			break
		}
		switch msg.String() {
		case KeyJ, KeyDown:
			if m.selectedIdx < len(m.agentOrder)-1 {
				m.selectedIdx++
				m.updateViewportContent()
			}
		case KeyK, KeyUp:
			if m.selectedIdx > 0 {
				m.selectedIdx--
				m.updateViewportContent()
			}
		default:
			m.viewport, cmd = m.viewport.Update(msg)
		}

	case events.TaskStartedEvent:
		agent, exists := m.agents[msg.ID]
		if !exists {
			agent = &AgentState{TaskID: msg.ID}
			m.agents[msg.ID] = agent
			m.agentOrder = append(m.agentOrder, msg.ID)
		}
		// A resumed task starts again with a fresh log.
		agent.Description = msg.Description
		agent.Subagent = msg.Subagent
		agent.Batch = msg.Batch
		agent.Status = "running"
		agent.Attempts = 1
		agent.StartTime = msg.Timestamp
		agent.Log = []string{fmt.Sprintf("[%s] %s", msg.Subagent, msg.Description)}
		if msg.Batch != "" {
			agent.Log = append(agent.Log, "batch: "+msg.Batch)
		}
		m.refreshIfSelected(msg.ID)

	case events.TaskRetryEvent:
		if agent, ok := m.agents[msg.ID]; ok {
			agent.Attempts = msg.Attempt + 1
			agent.Log = append(agent.Log, fmt.Sprintf("attempt %d failed (%s): %s; retrying in %v", msg.Attempt, msg.Kind, msg.Err, msg.Backoff))
			m.refreshIfSelected(msg.ID)
		}

	case events.TaskDeviationEvent:
		if agent, ok := m.agents[msg.ID]; ok {
			agent.Log = append(agent.Log, fmt.Sprintf("deviation noted (%q): consider updating the wiki", msg.Marker))
			m.refreshIfSelected(msg.ID)
		}

	case events.TaskCompletedEvent:
		if agent, ok := m.agents[msg.ID]; ok {
			agent.Status = "completed"
			agent.Duration = msg.Duration
			agent.Log = append(agent.Log, "", strings.TrimSpace(msg.Output), "", fmt.Sprintf("[Completed in %v]", msg.Duration.Round(time.Millisecond)))
			m.refreshIfSelected(msg.ID)
		}

	case events.TaskFailedEvent:
		if agent, ok := m.agents[msg.ID]; ok {
			agent.Status = "failed"
			agent.Duration = msg.Duration
			agent.Log = append(agent.Log, fmt.Sprintf("\n[Failed after %d attempt(s): %v]", msg.Attempts, msg.Err))
			m.refreshIfSelected(msg.ID)
		}
	}

	return m, cmd
}

func (m *AgentPaneModel) refreshIfSelected(taskID string) {
	if len(m.agentOrder) == 1 {
		m.selectedIdx = 0
	}
	if m.getSelectedTaskID() == taskID {
		m.updateViewportContent()
	}
}

// View renders the agent pane.
func (m AgentPaneModel) View() string {
	if m.width == 0 || m.height == 0 {
		return ""
	}

	viewportWidth := m.width - listWidth - 4
	content := lipgloss.JoinHorizontal(
		lipgloss.Top,
		m.renderAgentList(listWidth),
		lipgloss.NewStyle().
			Width(viewportWidth).
			Height(m.height-2).
			Render(m.viewport.View()),
	)

	style := StyleUnfocusedBorder
	if m.focused {
		style = StyleFocusedBorder
	}
	return style.
		Width(m.width - 2).
		Height(m.height - 2).
		Render(content)
}

func (m AgentPaneModel) renderAgentList(width int) string {
	var b strings.Builder

	title := StyleTitle.Render("Tasks")
	b.WriteString(title)
	b.WriteString("\n")
	b.WriteString(strings.Repeat("=", min(width, lipgloss.Width(title))))
	b.WriteString("\n\n")

	if len(m.agentOrder) == 0 {
		b.WriteString(StyleStatusPending.Render("Waiting..."))
	}
	for i, taskID := range m.agentOrder {
		agent := m.agents[taskID]
		name := agent.TaskID
		if agent.Attempts > 1 {
			name = fmt.Sprintf("%s (x%d)", name, agent.Attempts)
		}
		if len(name) > width-4 {
			name = name[:width-7] + "..."
		}

		line := fmt.Sprintf("%s %s", StatusIcon(agent.Status), name)
		if i == m.selectedIdx {
			line = StyleSelected.Render(line)
		}
		b.WriteString(line)
		b.WriteString("\n")
	}

	return lipgloss.NewStyle().
		Width(width).
		Height(m.height - 2).
		Render(b.String())
}

// StatusIcon returns a styled status indicator.
func StatusIcon(status string) string {
	switch status {
	case "running":
		return StyleStatusRunning.Render("●")
	case "completed":
		return StyleStatusComplete.Render("✓")
	case "failed":
		return StyleStatusFailed.Render("✗")
	default:
		return StyleStatusPending.Render("○")
	}
}

func (m AgentPaneModel) getSelectedTaskID() string {
	if m.selectedIdx >= 0 && m.selectedIdx < len(m.agentOrder) {
		return m.agentOrder[m.selectedIdx]
	}
	return ""
}

// Selected returns the state of the selected task, if any.
func (m AgentPaneModel) Selected() (AgentState, bool) {
	agent, ok := m.agents[m.getSelectedTaskID()]
	if !ok {
		return AgentState{}, false
	}
	return *agent, true
}

func (m *AgentPaneModel) updateViewportContent() {
	agent, ok := m.agents[m.getSelectedTaskID()]
	if !ok {
		m.viewport.SetContent("Waiting for tasks...")
		return
	}
	m.viewport.SetContent(strings.Join(agent.Log, "\n"))
	m.viewport.GotoBottom()
}

func (m *AgentPaneModel) resizeViewport() {
	m.viewport.Width = max(m.width-listWidth-4, 10)
	m.viewport.Height = max(m.height-4, 5)
}

// SetSize updates the pane dimensions.
func (m *AgentPaneModel) SetSize(w, h int) {
	m.width = w
	m.height = h
	m.resizeViewport()
}

// SetFocused updates the focus state.
func (m *AgentPaneModel) SetFocused(focused bool) {
	m.focused = focused
}
