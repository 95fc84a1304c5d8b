package main

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"

	"github.com/francisykl/qoder-cli-orchestrator/internal/events"
	"github.com/francisykl/qoder-cli-orchestrator/internal/orchestrator"
	"github.com/francisykl/qoder-cli-orchestrator/internal/scheduler"
)

var (
	bold   = color.New(color.Bold)
	cyan   = color.New(color.FgCyan)
	green  = color.New(color.FgGreen)
	red    = color.New(color.FgRed)
	yellow = color.New(color.FgYellow)
	faint  = color.New(color.Faint)
)

// formatEvent renders a progress line for ev. Events not worth a line
// return false.
func formatEvent(ev events.Event) (string, bool) {
	switch e := ev.(type) {
	case events.WaveStartedEvent:
		return cyan.Sprintf("── iteration %d: %s", e.Iteration, strings.Join(e.TaskIDs, ", ")), true
	case events.TaskStartedEvent:
		line := fmt.Sprintf("▶ [%s] %s (%s)", e.ID, e.Description, e.Subagent)
		if e.Batch != "" {
			line += faint.Sprintf(" batch %s", e.Batch)
		}
		return line, true
	case events.TaskRetryEvent:
		return yellow.Sprintf("↻ [%s] attempt %d failed (%s), retrying in %v: %s", e.ID, e.Attempt, e.Kind, e.Backoff, e.Err), true
	case events.TaskCompletedEvent:
		return green.Sprintf("✓ [%s] completed in %v", e.ID, e.Duration.Round(time.Millisecond)), true
	case events.TaskFailedEvent:
		return red.Sprintf("✗ [%s] failed after %d attempt(s): %v", e.ID, e.Attempts, e.Err), true
	case events.TaskDeviationEvent:
		return yellow.Sprintf("! [%s] reported a deviation (%q); consider updating the wiki", e.ID, e.Marker), true
	case events.ReplannedEvent:
		line := fmt.Sprintf("⟳ plan refined after %s: %d tasks", e.TriggerID, e.Tasks)
		if len(e.Renamed) > 0 {
			line += fmt.Sprintf(", %d renamed", len(e.Renamed))
		}
		return cyan.Sprint(line), true
	case events.RolledBackEvent:
		if e.OK {
			return yellow.Sprintf("⎌ rolled back to %s after %s failed", e.Tag, e.ID), true
		}
		return red.Sprintf("⎌ rollback to %s failed", e.Tag), true
	case events.StateChangedEvent:
		if e.State == string(orchestrator.StateHold) {
			return yellow.Sprintf("⏸ on hold: %s", e.Reason), true
		}
	}
	return "", false
}

// printProgress writes a line per event on bus until the returned stop
// function is called.
func printProgress(bus *events.EventBus, w io.Writer) (stop func()) {
	sub := bus.SubscribeAll(256)
	done := make(chan struct{})
	var wg sync.WaitGroup

	show := func(ev events.Event) {
		if line, ok := formatEvent(ev); ok {
			fmt.Fprintln(w, line)
		}
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case ev, ok := <-sub:
				if !ok {
					return
				}
				show(ev)
			case <-done:
				// Flush what was published before the run returned.
				for {
					select {
					case ev, ok := <-sub:
						if !ok {
							return
						}
						show(ev)
					default:
						return
					}
				}
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() { close(done) })
		wg.Wait()
	}
}

// printSummary writes the end-of-run summary.
func printSummary(w io.Writer, s *orchestrator.Summary) {
	rule := strings.Repeat("=", 60)
	bold.Fprintf(w, "\n%s\nORCHESTRATION SUMMARY\n%s\n", rule, rule)
	fmt.Fprintf(w, "Total Tasks: %d\n", s.Total)
	fmt.Fprintf(w, "Completed:   %s\n", green.Sprint(s.Completed))
	failed := fmt.Sprint(s.Failed)
	if s.Failed > 0 {
		failed = red.Sprint(s.Failed)
	}
	fmt.Fprintf(w, "Failed:      %s\n", failed)
	if s.Pending > 0 {
		fmt.Fprintf(w, "Pending:     %d\n", s.Pending)
	}
	if s.Hold > 0 {
		fmt.Fprintf(w, "On Hold:     %s\n", yellow.Sprint(s.Hold))
	}
	fmt.Fprintf(w, "Iterations:  %d\n", s.Iterations)

	state := string(s.State)
	if s.Reason != "" {
		state += " (" + s.Reason + ")"
	}
	fmt.Fprintf(w, "State:       %s\n", state)

	if len(s.Failures) > 0 {
		red.Fprintln(w, "\nFailed Tasks:")
		for _, f := range s.Failures {
			fmt.Fprintf(w, "  - %s: %s\n", f.ID, f.Description)
			if f.Error != "" {
				faint.Fprintf(w, "    Error: %s\n", firstLine(f.Error))
			}
		}
	}
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

// statusIcon is the plain-terminal counterpart of the dashboard icons.
func statusIcon(status scheduler.TaskStatus) string {
	switch status {
	case scheduler.TaskCompleted:
		return green.Sprint("✓")
	case scheduler.TaskRunning:
		return yellow.Sprint("●")
	case scheduler.TaskFailed:
		return red.Sprint("✗")
	case scheduler.TaskHold:
		return yellow.Sprint("⏸")
	default:
		return faint.Sprint("○")
	}
}
