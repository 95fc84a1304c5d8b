package tui

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"

	"github.com/francisykl/qoder-cli-orchestrator/internal/config"
)

// SettingsPaneModel is the settings form overlay. Saved values take effect
// on the next run.
type SettingsPaneModel struct {
	form        *huh.Form
	config      *config.Config
	userPath    string
	projectPath string
	width       int
	height      int
	visible     bool
	saved       bool
	savedTo     string
	err         error

	// Form bindings
	saveTarget    string
	maxParallel   string
	maxIterations string
	taskTimeout   string
	agentType     string
	agentCommand  string
	model         string
	autoRollback  bool
	replanning    bool
}

// NewSettingsPaneModel creates a settings pane editing cfg.
func NewSettingsPaneModel(cfg *config.Config, userPath, projectPath string) SettingsPaneModel {
	m := SettingsPaneModel{
		config:      cfg,
		userPath:    userPath,
		projectPath: projectPath,
	}
	m.resetFields()
	m.buildForm()
	return m
}

func (m *SettingsPaneModel) resetFields() {
	m.saveTarget = "project"
	m.maxParallel = strconv.Itoa(m.config.Execution.MaxParallel)
	m.maxIterations = strconv.Itoa(m.config.Execution.MaxIterations)
	m.taskTimeout = m.config.Execution.TaskTimeout.String()
	m.agentType = m.config.Agent.Type
	m.agentCommand = m.config.Agent.Command
	m.model = m.config.Agent.Model
	m.autoRollback = m.config.Rollback.AutoRollbackOnFailure
	m.replanning = m.config.Execution.EnableReplanning
}

func positiveInt(s string) error {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || n < 1 {
		return fmt.Errorf("must be a positive integer")
	}
	return nil
}

func duration(s string) error {
	d, err := time.ParseDuration(strings.TrimSpace(s))
	if err != nil || d < time.Second {
		return fmt.Errorf("must be a duration of at least 1s, e.g. 5m")
	}
	return nil
}

func (m *SettingsPaneModel) buildForm() {
	m.form = huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Key("saveTarget").
				Title("Save To").
				Options(
					huh.NewOption("Project ("+m.projectPath+")", "project"),
					huh.NewOption("User ("+m.userPath+")", "user"),
				).
				Value(&m.saveTarget),
		).Title("Save Target"),

		huh.NewGroup(
			huh.NewInput().
				Key("maxParallel").
				Title("Max Parallel Tasks").
				Value(&m.maxParallel).
				Validate(positiveInt),

			huh.NewInput().
				Key("maxIterations").
				Title("Max Iterations").
				Value(&m.maxIterations).
				Validate(positiveInt),

			huh.NewInput().
				Key("taskTimeout").
				Title("Task Timeout").
				Value(&m.taskTimeout).
				Placeholder("5m").
				Validate(duration),

			huh.NewConfirm().
				Key("replanning").
				Title("Refine the plan after discovery tasks?").
				Value(&m.replanning),

			huh.NewConfirm().
				Key("autoRollback").
				Title("Roll back automatically on failure?").
				Value(&m.autoRollback),
		).Title("Execution"),

		huh.NewGroup(
			huh.NewSelect[string]().
				Key("agentType").
				Title("Agent").
				Options(
					huh.NewOption("Qoder CLI", "qoder"),
					huh.NewOption("Claude Code", "claude"),
					huh.NewOption("Custom command", "command"),
				).
				Value(&m.agentType),

			huh.NewInput().
				Key("agentCommand").
				Title("Command Override").
				Value(&m.agentCommand).
				Placeholder("qodercli"),

			huh.NewInput().
				Key("model").
				Title("Model").
				Value(&m.model),
		).Title("Agent"),
	)
}

// Init initializes the form.
func (m SettingsPaneModel) Init() tea.Cmd {
	return m.form.Init()
}

// Update feeds the form and saves when it completes.
func (m SettingsPaneModel) Update(msg tea.Msg) (SettingsPaneModel, tea.Cmd) {
	if !m.visible {
		return m, nil
	}

	if key, ok := msg.(tea.KeyMsg); ok && key.String() == KeyEsc {
		m.visible = false
		m.saved = false
		return m, nil
	}

	form, cmd := m.form.Update(msg)
	if f, ok := form.(*huh.Form); ok {
		m.form = f
	}

	if m.form.State == huh.StateCompleted && !m.saved && m.err == nil {
		m.save()
	}

	return m, cmd
}

func (m *SettingsPaneModel) save() {
	updated, err := m.applyForm()
	if err != nil {
		m.err = err
		return
	}

	target := m.projectPath
	if m.saveTarget == "user" {
		target = m.userPath
	}
	if err := config.Save(updated, target); err != nil {
		m.err = err
		return
	}

	*m.config = *updated
	m.saved = true
	m.savedTo = target
	m.visible = false
}

// applyForm returns a copy of the config with the form values applied.
func (m *SettingsPaneModel) applyForm() (*config.Config, error) {
	cfg := *m.config
	cfg.Sources = nil

	var err error
	if cfg.Execution.MaxParallel, err = strconv.Atoi(strings.TrimSpace(m.maxParallel)); err != nil {
		return nil, fmt.Errorf("max parallel: %w", err)
	}
	if cfg.Execution.MaxIterations, err = strconv.Atoi(strings.TrimSpace(m.maxIterations)); err != nil {
		return nil, fmt.Errorf("max iterations: %w", err)
	}
	if cfg.Execution.TaskTimeout, err = time.ParseDuration(strings.TrimSpace(m.taskTimeout)); err != nil {
		return nil, fmt.Errorf("task timeout: %w", err)
	}
	cfg.Execution.EnableReplanning = m.replanning
	cfg.Rollback.AutoRollbackOnFailure = m.autoRollback
	cfg.Agent.Type = m.agentType
	cfg.Agent.Command = strings.TrimSpace(m.agentCommand)
	cfg.Agent.Model = strings.TrimSpace(m.model)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// SavedTo returns the file written by the last successful save.
func (m SettingsPaneModel) SavedTo() string {
	return m.savedTo
}

// Err returns the last save error.
func (m SettingsPaneModel) Err() error {
	return m.err
}

// View renders the settings overlay.
func (m SettingsPaneModel) View() string {
	if !m.visible {
		return ""
	}

	var content string
	if m.err != nil {
		content = StyleStatusFailed.Render(fmt.Sprintf("✗ Error saving: %v", m.err)) +
			"\n\n" + StyleHelp.Render("esc: close")
	} else {
		content = m.form.View()
	}

	style := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("62")).
		Padding(1, 2).
		Width(max(m.width-4, 20)).
		Height(max(m.height-4, 10))

	title := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("62")).
		Render("⚙ Settings")

	return lipgloss.JoinVertical(lipgloss.Left, title, style.Render(content))
}

// SetSize updates the dimensions of the settings pane.
func (m *SettingsPaneModel) SetSize(w, h int) {
	m.width = w
	m.height = h
	if m.form != nil {
		m.form.WithWidth(max(w-8, 20)).WithHeight(max(h-8, 10))
	}
}

// SetVisible shows or hides the pane. Showing it starts a fresh form.
func (m *SettingsPaneModel) SetVisible(v bool) {
	m.visible = v
	m.err = nil
	if v {
		m.saved = false
		m.resetFields()
		m.buildForm()
		if m.width > 0 {
			m.SetSize(m.width, m.height)
		}
	}
}

// IsVisible returns whether the settings pane is currently visible.
func (m SettingsPaneModel) IsVisible() bool {
	return m.visible
}
