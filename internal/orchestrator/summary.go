package orchestrator

import (
	"fmt"
	"strings"
)

// Failure describes one failed task in the final summary.
type Failure struct {
	ID          string
	Description string
	Error       string
}

// Summary is the outcome of a run.
type Summary struct {
	RunID      string
	Objective  string
	Total      int
	Completed  int
	Failed     int
	Pending    int
	Hold       int
	Iterations int
	State      State
	Reason     string
	Failures   []Failure
}

// String renders the summary as plain text.
func (s *Summary) String() string {
	var b strings.Builder
	rule := strings.Repeat("=", 60)
	fmt.Fprintf(&b, "%s\nORCHESTRATION SUMMARY\n%s\n", rule, rule)
	fmt.Fprintf(&b, "Total Tasks: %d\n", s.Total)
	fmt.Fprintf(&b, "Completed: %d\n", s.Completed)
	fmt.Fprintf(&b, "Failed: %d\n", s.Failed)
	if s.Hold > 0 {
		fmt.Fprintf(&b, "On Hold: %d\n", s.Hold)
	}
	fmt.Fprintf(&b, "Iterations: %d\n", s.Iterations)
	fmt.Fprintf(&b, "State: %s", s.State)
	if s.Reason != "" {
		fmt.Fprintf(&b, " (%s)", s.Reason)
	}
	b.WriteString("\n")

	if len(s.Failures) > 0 {
		b.WriteString("\nFailed Tasks:\n")
		for _, f := range s.Failures {
			fmt.Fprintf(&b, "  - %s: %s\n", f.ID, f.Description)
			if f.Error != "" {
				fmt.Fprintf(&b, "    Error: %s\n", firstLine(f.Error))
			}
		}
	}
	return b.String()
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
