// Package tui is the optional live dashboard for a run. It only reads the
// event bus; the coordinator never depends on it.
package tui

import (
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/francisykl/qoder-cli-orchestrator/internal/config"
	"github.com/francisykl/qoder-cli-orchestrator/internal/events"
)

// PaneID identifies which pane is focused.
type PaneID int

const (
	PaneTasks PaneID = iota
	PaneActivity
	PaneProgress
)

const paneCount = 3

// FinishedMsg is sent by the caller when the coordinator returns.
type FinishedMsg struct {
	Summary string
	Err     error
}

func (f FinishedMsg) String() string {
	if f.Err != nil {
		return fmt.Sprintf("run ended with error: %v", f.Err)
	}
	return "run finished"
}

// Model is the root Bubble Tea model for the dashboard.
type Model struct {
	agentPane    AgentPaneModel
	activityPane ActivityPaneModel
	dagPane      DAGPaneModel
	settingsPane SettingsPaneModel
	focusedPane  PaneID
	eventSub     <-chan events.Event
	width        int
	height       int
	quitting     bool
	showSettings bool
	finished     *FinishedMsg
}

// New creates the dashboard model subscribed to every event on bus.
func New(bus *events.EventBus, cfg *config.Config, userPath, projectPath string) Model {
	return Model{
		agentPane:    NewAgentPaneModel(),
		activityPane: NewActivityPaneModel(),
		dagPane:      NewDAGPaneModel(),
		settingsPane: NewSettingsPaneModel(cfg, userPath, projectPath),
		focusedPane:  PaneTasks,
		eventSub:     bus.SubscribeAll(256),
	}
}

// Init starts listening for events.
func (m Model) Init() tea.Cmd {
	return waitForEvent(m.eventSub)
}

func waitForEvent(sub <-chan events.Event) tea.Cmd {
	return func() tea.Msg {
		event, ok := <-sub
		if !ok {
			return nil // bus closed
		}
		return event
	}
}

// Update routes keys to the focused pane and events to the panes that
// display them.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		if m.showSettings {
			switch msg.String() {
			case KeySettings, KeyEsc:
				m.showSettings = false
				m.settingsPane.SetVisible(false)
			default:
				var cmd tea.Cmd
				m.settingsPane, cmd = m.settingsPane.Update(msg)
				cmds = append(cmds, cmd)
				if !m.settingsPane.IsVisible() {
					m.showSettings = false
				}
			}
			return m, tea.Batch(cmds...)
		}

		switch msg.String() {
		case KeyQuit, KeyCtrlC:
			m.quitting = true
			return m, tea.Quit

		case KeySettings:
			m.showSettings = true
			m.settingsPane.SetVisible(true)
			cmds = append(cmds, m.settingsPane.Init())

		case KeyTab:
			m.focusedPane = (m.focusedPane + 1) % paneCount
			m.updateFocusStates()

		case KeyShiftTab:
			m.focusedPane = (m.focusedPane + paneCount - 1) % paneCount
			m.updateFocusStates()

		case KeyPane1:
			m.focusedPane = PaneTasks
			m.updateFocusStates()

		case KeyPane2:
			m.focusedPane = PaneActivity
			m.updateFocusStates()

		case KeyPane3:
			m.focusedPane = PaneProgress
			m.updateFocusStates()

		default:
			var cmd tea.Cmd
			switch m.focusedPane {
			case PaneTasks:
				m.agentPane, cmd = m.agentPane.Update(msg)
			case PaneActivity:
				m.activityPane, cmd = m.activityPane.Update(msg)
			case PaneProgress:
				m.dagPane, cmd = m.dagPane.Update(msg)
			}
			cmds = append(cmds, cmd)
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.computeLayout()
		m.settingsPane.SetSize(msg.Width, msg.Height)

	case events.TaskStartedEvent, events.TaskRetryEvent, events.TaskDeviationEvent,
		events.TaskCompletedEvent, events.TaskFailedEvent:
		var cmd tea.Cmd
		m.agentPane, cmd = m.agentPane.Update(msg)
		cmds = append(cmds, cmd, waitForEvent(m.eventSub))

	case events.ProgressEvent:
		var cmd tea.Cmd
		m.dagPane, cmd = m.dagPane.Update(msg)
		cmds = append(cmds, cmd, waitForEvent(m.eventSub))

	case events.WaveStartedEvent, events.StateChangedEvent:
		var cmd tea.Cmd
		m.dagPane, cmd = m.dagPane.Update(msg)
		cmds = append(cmds, cmd)
		m.activityPane, cmd = m.activityPane.Update(msg)
		cmds = append(cmds, cmd, waitForEvent(m.eventSub))

	case events.ReplannedEvent, events.CheckpointCreatedEvent, events.RolledBackEvent:
		var cmd tea.Cmd
		m.activityPane, cmd = m.activityPane.Update(msg)
		cmds = append(cmds, cmd, waitForEvent(m.eventSub))

	case FinishedMsg:
		m.finished = &msg
		var cmd tea.Cmd
		m.activityPane, cmd = m.activityPane.Update(msg)
		cmds = append(cmds, cmd)
	}

	return m, tea.Batch(cmds...)
}

// Finished reports whether the run has returned.
func (m Model) Finished() bool {
	return m.finished != nil
}

// View renders the dashboard.
func (m Model) View() string {
	if m.quitting {
		if m.finished != nil && m.finished.Summary != "" {
			return m.finished.Summary
		}
		return "Goodbye!\n"
	}

	if m.width == 0 || m.height == 0 {
		return "Initializing..."
	}

	if m.showSettings {
		return m.settingsPane.View()
	}

	left := m.agentPane.View()
	right := lipgloss.JoinVertical(lipgloss.Left, m.activityPane.View(), m.dagPane.View())
	main := lipgloss.JoinHorizontal(lipgloss.Top, left, right)

	help := HelpView()
	if m.finished != nil {
		help = StyleStatusComplete.Render(m.finished.String()+" (q to exit)") + "  " + help
	}
	return lipgloss.JoinVertical(lipgloss.Left, main, help)
}

// computeLayout splits the screen: tasks on the left, activity above
// progress on the right.
func (m *Model) computeLayout() {
	leftWidth := (m.width * 45) / 100
	rightWidth := m.width - leftWidth
	availableHeight := m.height - 1
	activityHeight := (availableHeight * 60) / 100

	m.agentPane.SetSize(leftWidth, availableHeight)
	m.activityPane.SetSize(rightWidth, activityHeight)
	m.dagPane.SetSize(rightWidth, availableHeight-activityHeight)

	m.updateFocusStates()
}

func (m *Model) updateFocusStates() {
	m.agentPane.SetFocused(m.focusedPane == PaneTasks)
	m.activityPane.SetFocused(m.focusedPane == PaneActivity)
	m.dagPane.SetFocused(m.focusedPane == PaneProgress)
}
