package orchestrator

import (
	"fmt"

	"github.com/francisykl/qoder-cli-orchestrator/internal/scheduler"
)

// State is the coordinator's lifecycle state.
type State string

const (
	StateIdle      State = "idle"
	StatePlanning  State = "planning"
	StateExecuting State = "executing"
	StateHold      State = "hold"    // Needs manual intervention, then Resume
	StateStopped   State = "stopped" // Finished or out of iterations
)

// Decision is the outcome of one progress check.
type Decision string

const (
	Proceed Decision = "proceed"
	Hold    Decision = "hold"
	Stop    Decision = "stop"
)

// Decide evaluates the run before each wave. The checks are ordered: an
// exhausted iteration budget stops, any failure holds, full completion
// stops, and a graph with nothing pending or running holds as a deadlock.
func Decide(iteration, maxIterations int, tasks []*scheduler.Task) (Decision, string) {
	if iteration >= maxIterations {
		return Stop, fmt.Sprintf("max iterations (%d) reached", maxIterations)
	}

	var failed []string
	completed, active := 0, 0
	for _, t := range tasks {
		switch t.Status {
		case scheduler.TaskFailed:
			failed = append(failed, t.ID)
		case scheduler.TaskCompleted:
			completed++
		case scheduler.TaskPending, scheduler.TaskRunning:
			active++
		}
	}

	if len(failed) > 0 {
		return Hold, fmt.Sprintf("tasks failed: %v", failed)
	}
	if completed == len(tasks) {
		return Stop, "all tasks completed"
	}
	if active == 0 {
		return Hold, "no pending or running tasks but not all completed (possible deadlock)"
	}
	return Proceed, ""
}
