package orchestrator

import (
	"strings"
	"testing"
)

func TestSummaryString(t *testing.T) {
	s := &Summary{
		Total:      3,
		Completed:  1,
		Failed:     1,
		Hold:       1,
		Iterations: 2,
		State:      StateHold,
		Reason:     "tasks failed: [b]",
		Failures: []Failure{
			{ID: "b", Description: "Build API", Error: "agent exited with status 1\nstack trace"},
		},
	}

	out := s.String()
	for _, want := range []string{
		"ORCHESTRATION SUMMARY",
		"Total Tasks: 3\n",
		"Completed: 1\n",
		"Failed: 1\n",
		"On Hold: 1\n",
		"Iterations: 2\n",
		"State: hold (tasks failed: [b])\n",
		"Failed Tasks:\n  - b: Build API\n    Error: agent exited with status 1\n",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("summary missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "stack trace") {
		t.Error("summary should only show the first error line")
	}
}

func TestSummaryString_NoFailures(t *testing.T) {
	out := (&Summary{Total: 1, Completed: 1, State: StateStopped}).String()
	if strings.Contains(out, "Failed Tasks") || strings.Contains(out, "On Hold") {
		t.Errorf("unexpected sections:\n%s", out)
	}
}
