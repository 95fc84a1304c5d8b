// Package planner asks the agent to decompose an objective into tasks and to
// refine the plan once discovery work has reported back.
package planner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"slices"
	"strings"

	"github.com/francisykl/qoder-cli-orchestrator/internal/backend"
	"github.com/francisykl/qoder-cli-orchestrator/internal/scheduler"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

// ErrEmptyPlan is returned when the agent produced no tasks.
var ErrEmptyPlan = errors.New("planner returned no tasks")

// taskListSchema is the shape every plan must have before it reaches the
// task graph. Extra fields are tolerated.
const taskListSchema = `{
  "type": "array",
  "items": {
    "type": "object",
    "required": ["id", "description"],
    "properties": {
      "id": {"type": "string", "minLength": 1},
      "description": {"type": "string", "minLength": 1},
      "subagent": {"type": "string"},
      "dependencies": {"type": "array", "items": {"type": "string"}},
      "files_scope": {"type": "array", "items": {"type": "string"}},
      "component": {"type": "string"}
    }
  }
}`

// Planner turns objectives into validated task lists using an agent.
type Planner struct {
	agent   backend.Agent
	workDir string
	rules   scheduler.Rules
	schema  *jsonschema.Schema
}

// New creates a planner. Tasks the agent leaves untagged, or tags with an
// unknown subagent, are assigned one through rules.
func New(agent backend.Agent, workDir string, rules scheduler.Rules) (*Planner, error) {
	schema, err := compileSchema(taskListSchema)
	if err != nil {
		return nil, fmt.Errorf("failed to compile plan schema: %w", err)
	}
	if rules.Default == "" && len(rules.Rules) == 0 {
		rules = scheduler.DefaultSubagentRules
	}
	return &Planner{agent: agent, workDir: workDir, rules: rules, schema: schema}, nil
}

func compileSchema(s string) (*jsonschema.Schema, error) {
	c := jsonschema.NewCompiler()
	if err := c.AddResource("plan.json", strings.NewReader(s)); err != nil {
		return nil, err
	}
	return c.Compile("plan.json")
}

// Split decomposes objective into tasks. projectContext is appended verbatim
// to the prompt when non-empty.
func (p *Planner) Split(ctx context.Context, objective, projectContext string) ([]*scheduler.Task, error) {
	log.Printf("INFO: splitting objective into tasks")
	prompt := splitPrompt(objective, projectContext)

	resp, err := p.agent.Invoke(ctx, backend.Request{
		TaskID:     "plan",
		Prompt:     prompt,
		WorkDir:    p.workDir,
		JSONOutput: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to split objective: %w", err)
	}

	tasks, err := p.Parse(resp.Output)
	if err != nil {
		return nil, err
	}
	log.Printf("INFO: planned %d tasks", len(tasks))
	return tasks, nil
}

// Refine asks the agent to rework the plan after trigger completed. The
// returned list replaces every task that has not run yet; merging with the
// current plan is the caller's job.
func (p *Planner) Refine(ctx context.Context, objective string, current []*scheduler.Task, trigger *scheduler.Task, projectContext string) ([]*scheduler.Task, error) {
	log.Printf("INFO: refining plan after discovery task %s", trigger.ID)
	prompt, err := refinePrompt(objective, current, trigger, projectContext)
	if err != nil {
		return nil, err
	}

	resp, err := p.agent.Invoke(ctx, backend.Request{
		TaskID:     "replan-" + trigger.ID,
		Prompt:     prompt,
		WorkDir:    p.workDir,
		JSONOutput: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to refine plan: %w", err)
	}
	return p.Parse(resp.Output)
}

// AnalyzeCodebase asks the agent for a short structural summary of dir.
func (p *Planner) AnalyzeCodebase(ctx context.Context, dir string) (string, error) {
	resp, err := p.agent.Invoke(ctx, backend.Request{
		TaskID:  "analyze",
		Prompt:  analyzePrompt(dir),
		WorkDir: dir,
	})
	if err != nil {
		return "", fmt.Errorf("failed to analyze codebase: %w", err)
	}
	return strings.TrimSpace(resp.Output), nil
}

// Parse extracts, validates and normalises a task list from agent output.
func (p *Planner) Parse(output string) ([]*scheduler.Task, error) {
	raw := ExtractJSON(output)
	if raw == "" {
		return nil, fmt.Errorf("no JSON task list in planner output")
	}

	var doc any
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return nil, fmt.Errorf("failed to parse planner output: %w", err)
	}
	if err := p.schema.Validate(doc); err != nil {
		return nil, fmt.Errorf("planner output does not match task schema: %w", err)
	}

	var tasks []*scheduler.Task
	if err := json.Unmarshal([]byte(raw), &tasks); err != nil {
		return nil, fmt.Errorf("failed to decode tasks: %w", err)
	}
	if len(tasks) == 0 {
		return nil, ErrEmptyPlan
	}
	for _, t := range tasks {
		p.normalise(t)
	}
	return tasks, nil
}

func (p *Planner) normalise(t *scheduler.Task) {
	t.ID = strings.TrimSpace(t.ID)
	t.Status = scheduler.TaskPending
	t.Output = ""
	t.Error = ""
	if t.Component == "" {
		t.Component = scheduler.DefaultComponent
	}
	if t.DependsOn == nil {
		t.DependsOn = []string{}
	}
	if t.FilesScope == nil {
		t.FilesScope = []string{}
	}
	if t.Subagent == "" || !slices.Contains(scheduler.Subagents, t.Subagent) {
		if t.Subagent != "" {
			log.Printf("WARNING: task %s has unknown subagent %q, reassigning", t.ID, t.Subagent)
		}
		t.Subagent = p.rules.Assign(t)
	}
}

// ExtractJSON pulls the JSON array out of agent output. A fenced block is
// preferred; otherwise everything from the first '[' to the last ']' is
// used. It returns "" when nothing looks like an array.
func ExtractJSON(content string) string {
	if block, ok := fenced(content); ok && json.Valid([]byte(block)) {
		return block
	}
	start := strings.Index(content, "[")
	end := strings.LastIndex(content, "]")
	if start < 0 || end <= start {
		return ""
	}
	return content[start : end+1]
}

func fenced(content string) (string, bool) {
	open := strings.Index(content, "```json")
	skip := len("```json")
	if open < 0 {
		open = strings.Index(content, "```")
		skip = len("```")
	}
	if open < 0 {
		return "", false
	}
	rest := content[open+skip:]
	if end := strings.Index(rest, "```"); end >= 0 {
		rest = rest[:end]
	}
	return strings.TrimSpace(rest), true
}
