package scheduler

import (
	"fmt"
	"strings"
	"sync"

	"github.com/gammazero/toposort"
)

// DAG holds the tasks of one orchestration run and their dependency edges.
// Tasks are kept in insertion order, which is also the scheduling tie-break.
type DAG struct {
	mu         sync.RWMutex
	tasks      map[string]*Task    // All tasks indexed by ID
	order      []string            // Insertion order of task IDs
	dependents map[string][]string // Maps taskID -> list of tasks that depend on it
}

// NewDAG creates an empty DAG.
func NewDAG() *DAG {
	return &DAG{
		tasks:      make(map[string]*Task),
		dependents: make(map[string][]string),
	}
}

// NewDAGFromTasks builds and validates a DAG from tasks in the given order.
func NewDAGFromTasks(tasks []*Task) (*DAG, error) {
	d := NewDAG()
	for _, t := range tasks {
		if err := d.AddTask(t); err != nil {
			return nil, err
		}
	}
	if _, err := d.Validate(); err != nil {
		return nil, err
	}
	return d, nil
}

// AddTask adds a task to the DAG. Returns error if task ID already exists.
// Empty status and component are normalised to pending and "general".
func (d *DAG) AddTask(task *Task) error {
	if task == nil || task.ID == "" {
		return fmt.Errorf("task must have a non-empty ID")
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if _, exists := d.tasks[task.ID]; exists {
		return fmt.Errorf("%w: %q", ErrDuplicateTask, task.ID)
	}

	t := cloneTask(task)
	normalise(t)
	d.tasks[t.ID] = t
	d.order = append(d.order, t.ID)

	for _, depID := range t.DependsOn {
		d.dependents[depID] = append(d.dependents[depID], t.ID)
	}

	return nil
}

// ReplaceTask adds the task or overwrites an existing task with the same ID,
// keeping its original position.
func (d *DAG) ReplaceTask(task *Task) error {
	if task == nil || task.ID == "" {
		return fmt.Errorf("task must have a non-empty ID")
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	t := cloneTask(task)
	normalise(t)
	if _, exists := d.tasks[t.ID]; !exists {
		d.order = append(d.order, t.ID)
	}
	d.tasks[t.ID] = t
	d.rebuildDependents()
	return nil
}

// Replace swaps the whole task set for tasks, in the given order. The new set
// is validated first; on error the DAG is left untouched.
func (d *DAG) Replace(tasks []*Task) error {
	next, err := NewDAGFromTasks(tasks)
	if err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	d.tasks = next.tasks
	d.order = next.order
	d.dependents = next.dependents
	return nil
}

func (d *DAG) rebuildDependents() {
	d.dependents = make(map[string][]string)
	for _, id := range d.order {
		for _, depID := range d.tasks[id].DependsOn {
			d.dependents[depID] = append(d.dependents[depID], id)
		}
	}
}

func normalise(t *Task) {
	if t.Status == "" {
		t.Status = TaskPending
	}
	if t.Component == "" {
		t.Component = DefaultComponent
	}
}

// Validate runs topological sort using gammazero/toposort.
// Returns ordered task IDs or error if a cycle, a self-dependency or a
// dangling dependency is detected.
func (d *DAG) Validate() ([]string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	for _, taskID := range d.order {
		for _, depID := range d.tasks[taskID].DependsOn {
			if depID == taskID {
				return nil, fmt.Errorf("task %q depends on itself", taskID)
			}
			if _, exists := d.tasks[depID]; !exists {
				return nil, fmt.Errorf("task %q depends on non-existent task %q", taskID, depID)
			}
		}
	}

	var edges []toposort.Edge
	for _, taskID := range d.order {
		task := d.tasks[taskID]
		if len(task.DependsOn) == 0 {
			edges = append(edges, toposort.Edge{nil, taskID})
			continue
		}
		for _, depID := range task.DependsOn {
			// depID must come before taskID
			edges = append(edges, toposort.Edge{depID, taskID})
		}
	}

	sorted, err := toposort.Toposort(edges)
	if err != nil {
		return nil, fmt.Errorf("DAG contains cycle: %w", err)
	}

	order := make([]string, 0, len(sorted))
	for _, id := range sorted {
		if id != nil {
			order = append(order, id.(string))
		}
	}

	if len(order) != len(d.tasks) {
		found := make(map[string]bool, len(order))
		for _, id := range order {
			found[id] = true
		}
		var missing []string
		for _, taskID := range d.order {
			if !found[taskID] {
				missing = append(missing, taskID)
			}
		}
		return nil, fmt.Errorf("topological sort lost %d tasks: %s", len(missing), strings.Join(missing, ", "))
	}

	return order, nil
}

// allowed lists the legal status transitions. Leaving completed is only
// possible by replacing the task wholesale.
var allowed = map[TaskStatus][]TaskStatus{
	TaskPending: {TaskRunning, TaskHold},
	TaskRunning: {TaskCompleted, TaskFailed, TaskPending},
	TaskFailed:  {TaskPending},
	TaskHold:    {TaskPending},
}

// Transition moves a task to status, recording output or error text.
// Re-applying the current status is a no-op so results can be drained in any
// order.
func (d *DAG) Transition(taskID string, status TaskStatus, output, errText string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	task, exists := d.tasks[taskID]
	if !exists {
		return fmt.Errorf("%w: %q", ErrTaskNotFound, taskID)
	}
	if task.Status == status {
		return nil
	}

	ok := false
	for _, next := range allowed[task.Status] {
		if next == status {
			ok = true
			break
		}
	}
	if !ok {
		return fmt.Errorf("%w: %q %s -> %s", ErrInvalidTransition, taskID, task.Status, status)
	}

	task.Status = status
	switch status {
	case TaskCompleted:
		task.Output = output
		task.Error = ""
	case TaskFailed:
		task.Error = errText
	case TaskPending:
		task.Error = ""
	}
	return nil
}

// MarkRunning sets task status to TaskRunning.
func (d *DAG) MarkRunning(taskID string) error {
	return d.Transition(taskID, TaskRunning, "", "")
}

// MarkCompleted sets task status to TaskCompleted and stores output.
func (d *DAG) MarkCompleted(taskID string, output string) error {
	return d.Transition(taskID, TaskCompleted, output, "")
}

// MarkFailed sets task status to TaskFailed and stores the error text.
// Dependents are not touched; they simply never become ready.
func (d *DAG) MarkFailed(taskID string, err error) error {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	return d.Transition(taskID, TaskFailed, "", msg)
}

// MarkHold parks a pending task.
func (d *DAG) MarkHold(taskID string) error {
	return d.Transition(taskID, TaskHold, "", "")
}

// Reset returns a failed, held or stale running task to pending.
func (d *DAG) Reset(taskID string) error {
	return d.Transition(taskID, TaskPending, "", "")
}

// Dependents returns the IDs of tasks that directly depend on taskID.
func (d *DAG) Dependents(taskID string) []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return append([]string(nil), d.dependents[taskID]...)
}

// Get returns task by ID.
func (d *DAG) Get(taskID string) (*Task, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	task, exists := d.tasks[taskID]
	if !exists {
		return nil, false
	}
	return cloneTask(task), true
}

// Tasks returns all tasks in insertion order.
func (d *DAG) Tasks() []*Task {
	d.mu.RLock()
	defer d.mu.RUnlock()

	tasks := make([]*Task, 0, len(d.order))
	for _, id := range d.order {
		tasks = append(tasks, cloneTask(d.tasks[id]))
	}
	return tasks
}

// Len returns the number of tasks.
func (d *DAG) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.order)
}

// Counts returns the number of tasks per status.
func (d *DAG) Counts() map[TaskStatus]int {
	d.mu.RLock()
	defer d.mu.RUnlock()

	counts := make(map[TaskStatus]int)
	for _, t := range d.tasks {
		counts[t.Status]++
	}
	return counts
}

// Order returns topologically sorted task IDs (calls Validate).
func (d *DAG) Order() ([]string, error) {
	return d.Validate()
}
