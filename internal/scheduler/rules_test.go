package scheduler

import "testing"

func TestDefaultSubagentRules(t *testing.T) {
	tests := []struct {
		name string
		task *Task
		want string
	}{
		{"audit goes to discovery", &Task{Description: "Audit the backend for missing endpoints"}, SubagentDiscovery},
		{"discovery wins over database keyword", &Task{Description: "Investigate database schema drift"}, SubagentDiscovery},
		{"schema goes to database", &Task{Description: "Define users table schema"}, SubagentDatabase},
		{"database component", &Task{Component: "database", Description: "Seed fixtures"}, SubagentDatabase},
		{"tests", &Task{Description: "Write integration tests for login"}, SubagentTesting},
		{"docs component", &Task{Component: "docs", Description: "Describe setup"}, SubagentDocumentation},
		{"frontend component", &Task{Component: "frontend", Description: "Render dashboard"}, SubagentFrontend},
		{"design", &Task{Description: "Design the session protocol"}, SubagentArchitect},
		{"default", &Task{Description: "Implement payment handler"}, SubagentBackend},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DefaultSubagentRules.Assign(tt.task); got != tt.want {
				t.Errorf("Assign() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestRulesOrder(t *testing.T) {
	rules := Rules{
		Rules: []Rule{
			{Name: "first", Tag: "one", Match: DescriptionHas("alpha")},
			{Name: "second", Tag: "two", Match: DescriptionHas("alpha", "beta")},
		},
		Default: "fallback",
	}

	if got := rules.Assign(&Task{Description: "ALPHA beta"}); got != "one" {
		t.Errorf("Assign() = %q, want first matching rule", got)
	}
	if got := rules.Assign(&Task{Description: "beta"}); got != "two" {
		t.Errorf("Assign() = %q, want two", got)
	}
	if got := rules.Assign(&Task{Description: "gamma"}); got != "fallback" {
		t.Errorf("Assign() = %q, want fallback", got)
	}
	if rules.Matches(&Task{Description: "gamma"}) {
		t.Error("Matches() = true for default-only task")
	}
}

func TestReplanTrigger(t *testing.T) {
	trigger := NewReplanTrigger(Rules{})

	discovery := &Task{ID: "t1", Subagent: SubagentDiscovery, Status: TaskCompleted}
	plain := &Task{ID: "t2", Subagent: SubagentBackend, Description: "Build API", Status: TaskCompleted}
	pending := &Task{ID: "t3", Subagent: SubagentDiscovery, Status: TaskPending}
	byDescription := &Task{ID: "t4", Subagent: SubagentArchitect, Description: "Audit current schema", Status: TaskCompleted}

	if !trigger.OnTaskCompleted(discovery) {
		t.Error("discovery task did not trigger")
	}
	if trigger.OnTaskCompleted(discovery) {
		t.Error("discovery task triggered twice")
	}
	if !trigger.Triggered("t1") {
		t.Error("Triggered(t1) = false")
	}
	if trigger.OnTaskCompleted(plain) {
		t.Error("plain task triggered")
	}
	if trigger.OnTaskCompleted(pending) {
		t.Error("pending task triggered")
	}
	if !trigger.OnTaskCompleted(byDescription) {
		t.Error("audit description did not trigger")
	}
	if !IsDiscovery(discovery) || IsDiscovery(plain) {
		t.Error("IsDiscovery mismatch")
	}
}
