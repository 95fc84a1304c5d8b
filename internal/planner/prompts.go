package planner

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/francisykl/qoder-cli-orchestrator/internal/scheduler"
)

const taskFields = `Each task is an object with:
- "id": short unique identifier
- "description": concrete instructions for the subagent
- "subagent": one of the subagents listed above
- "dependencies": ids of tasks that must finish first
- "files_scope": files or glob patterns the task will touch
- "component": area of the codebase (backend, frontend, database, tests, docs, infra, general)`

const planningGuidance = `Planning guidance:
1. Start with discovery. When the objective touches existing code, add a
   discovery-specialist task that audits what is already there before
   anything is built.
2. Check impact. Name the files each task changes in files_scope so tasks
   editing the same files never run at the same time.
3. Keep tasks atomic. One subagent, one concern, reviewable on its own.
4. Use the architect for new designs and discovery-specialist for
   understanding existing ones.
5. Be specific. Descriptions must say what to change and where, not just
   what the goal is.`

const exampleTask = `Example:
[
  {"id": "audit-auth", "description": "Audit the existing authentication flow in internal/auth and list gaps", "subagent": "discovery-specialist", "dependencies": [], "files_scope": ["internal/auth/**"], "component": "backend"},
  {"id": "add-refresh", "description": "Add refresh-token rotation to internal/auth/token.go", "subagent": "backend-dev", "dependencies": ["audit-auth"], "files_scope": ["internal/auth/token.go"], "component": "backend"}
]`

func subagentList() string {
	var b strings.Builder
	for _, s := range scheduler.Subagents {
		b.WriteString("- ")
		b.WriteString(s)
		b.WriteString("\n")
	}
	return b.String()
}

func splitPrompt(objective, projectContext string) string {
	var b strings.Builder
	b.WriteString("You are planning work for a team of specialised coding subagents.\n\n")
	fmt.Fprintf(&b, "Objective:\n%s\n\n", objective)
	b.WriteString("Available subagents:\n")
	b.WriteString(subagentList())
	b.WriteString("\n")
	b.WriteString(planningGuidance)
	b.WriteString("\n\n")
	b.WriteString(taskFields)
	b.WriteString("\n\n")
	b.WriteString(exampleTask)
	b.WriteString("\n\n")
	if projectContext != "" {
		fmt.Fprintf(&b, "Project context:\n%s\n\n", projectContext)
	}
	b.WriteString("Return a JSON array of tasks:")
	return b.String()
}

func refinePrompt(objective string, current []*scheduler.Task, trigger *scheduler.Task, projectContext string) (string, error) {
	plan, err := json.MarshalIndent(current, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to encode current plan: %w", err)
	}

	var b strings.Builder
	b.WriteString("A discovery task has finished and the plan may need to change.\n\n")
	fmt.Fprintf(&b, "Objective:\n%s\n\n", objective)
	fmt.Fprintf(&b, "Discovery task %s: %s\nFindings:\n%s\n\n", trigger.ID, trigger.Description, trigger.Output)
	fmt.Fprintf(&b, "Current plan:\n%s\n\n", plan)
	b.WriteString("Completed and running tasks stay as they are. Return the tasks that should run\n")
	b.WriteString("from now on, reusing ids of unchanged pending tasks. New tasks may depend on\n")
	b.WriteString("completed ones.\n\n")
	b.WriteString("Available subagents:\n")
	b.WriteString(subagentList())
	b.WriteString("\n")
	b.WriteString(taskFields)
	b.WriteString("\n\n")
	if projectContext != "" {
		fmt.Fprintf(&b, "Project context:\n%s\n\n", projectContext)
	}
	b.WriteString("Return a JSON array of tasks:")
	return b.String(), nil
}

func analyzePrompt(dir string) string {
	return fmt.Sprintf("Give a high-level structural analysis of the codebase at %s. "+
		"Cover the key components, the folder structure, the entry points and the main dependencies. "+
		"Keep it concise.", dir)
}
