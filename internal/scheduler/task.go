package scheduler

import "errors"

// TaskStatus represents the current state of a task.
type TaskStatus string

const (
	TaskPending   TaskStatus = "pending"   // Waiting for dependencies or a free file scope
	TaskRunning   TaskStatus = "running"   // Dispatched to an agent
	TaskCompleted TaskStatus = "completed" // Finished successfully
	TaskFailed    TaskStatus = "failed"    // Finished with error after retries
	TaskHold      TaskStatus = "hold"      // Parked until the run is resumed
)

// DefaultComponent is assigned to tasks planned without a component tag.
const DefaultComponent = "general"

var (
	ErrTaskNotFound      = errors.New("task not found")
	ErrDuplicateTask     = errors.New("duplicate task id")
	ErrInvalidTransition = errors.New("invalid status transition")
)

// Task represents a unit of work in the graph.
type Task struct {
	ID          string     `json:"id"`
	Description string     `json:"description"`
	Subagent    string     `json:"subagent"`
	DependsOn   []string   `json:"dependencies"`
	FilesScope  []string   `json:"files_scope"`
	Component   string     `json:"component"`
	Status      TaskStatus `json:"status"`
	Output      string     `json:"output,omitempty"`
	Error       string     `json:"error,omitempty"`
}

// Valid reports whether s is one of the known statuses.
func (s TaskStatus) Valid() bool {
	switch s {
	case TaskPending, TaskRunning, TaskCompleted, TaskFailed, TaskHold:
		return true
	}
	return false
}

// Clone returns a deep copy of the task.
func (t *Task) Clone() *Task {
	return cloneTask(t)
}

func cloneTask(task *Task) *Task {
	if task == nil {
		return nil
	}

	cp := *task
	if task.DependsOn != nil {
		cp.DependsOn = append([]string(nil), task.DependsOn...)
	}
	if task.FilesScope != nil {
		cp.FilesScope = append([]string(nil), task.FilesScope...)
	}
	return &cp
}
