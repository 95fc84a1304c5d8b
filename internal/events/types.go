package events

import (
	"time"
)

// Event is implemented by everything published on the bus.
type Event interface {
	EventType() string
	Topic() string
	TaskID() string
}

// Topics.
const (
	TopicTask       = "task"
	TopicRun        = "run"
	TopicCheckpoint = "checkpoint"
)

// Event types.
const (
	EventTypeTaskStarted   = "task.started"
	EventTypeTaskRetry     = "task.retry"
	EventTypeTaskCompleted = "task.completed"
	EventTypeTaskFailed    = "task.failed"
	EventTypeTaskDeviation = "task.deviation"

	EventTypeWaveStarted  = "run.wave"
	EventTypeProgress     = "run.progress"
	EventTypeReplanned    = "run.replanned"
	EventTypeStateChanged = "run.state"

	EventTypeCheckpointCreated = "checkpoint.created"
	EventTypeRolledBack        = "checkpoint.rollback"
)

// TaskStartedEvent is published when a task is dispatched to an agent.
type TaskStartedEvent struct {
	ID          string
	Description string
	Subagent    string
	Batch       string // Batch the task was grouped into, if any
	Timestamp   time.Time
}

func (e TaskStartedEvent) EventType() string { return EventTypeTaskStarted }
func (e TaskStartedEvent) Topic() string     { return TopicTask }
func (e TaskStartedEvent) TaskID() string    { return e.ID }

// TaskRetryEvent is published after a failed attempt that will be retried.
type TaskRetryEvent struct {
	ID        string
	Attempt   int
	Kind      string
	Err       string
	Backoff   time.Duration
	Timestamp time.Time
}

func (e TaskRetryEvent) EventType() string { return EventTypeTaskRetry }
func (e TaskRetryEvent) Topic() string     { return TopicTask }
func (e TaskRetryEvent) TaskID() string    { return e.ID }

// TaskCompletedEvent is published when a task succeeds.
type TaskCompletedEvent struct {
	ID        string
	Output    string
	Attempts  int
	Duration  time.Duration
	Timestamp time.Time
}

func (e TaskCompletedEvent) EventType() string { return EventTypeTaskCompleted }
func (e TaskCompletedEvent) Topic() string     { return TopicTask }
func (e TaskCompletedEvent) TaskID() string    { return e.ID }

// TaskFailedEvent is published when a task fails for good.
type TaskFailedEvent struct {
	ID        string
	Err       error
	Attempts  int
	Duration  time.Duration
	Timestamp time.Time
}

func (e TaskFailedEvent) EventType() string { return EventTypeTaskFailed }
func (e TaskFailedEvent) Topic() string     { return TopicTask }
func (e TaskFailedEvent) TaskID() string    { return e.ID }

// TaskDeviationEvent is published when task output says the agent strayed
// from the documented approach.
type TaskDeviationEvent struct {
	ID        string
	Marker    string
	Timestamp time.Time
}

func (e TaskDeviationEvent) EventType() string { return EventTypeTaskDeviation }
func (e TaskDeviationEvent) Topic() string     { return TopicTask }
func (e TaskDeviationEvent) TaskID() string    { return e.ID }

// WaveStartedEvent is published before a wave is dispatched.
type WaveStartedEvent struct {
	Iteration int
	TaskIDs   []string
	Timestamp time.Time
}

func (e WaveStartedEvent) EventType() string { return EventTypeWaveStarted }
func (e WaveStartedEvent) Topic() string     { return TopicRun }
func (e WaveStartedEvent) TaskID() string    { return "" }

// ProgressEvent carries task counts after each wave.
type ProgressEvent struct {
	Iteration int
	Total     int
	Completed int
	Running   int
	Failed    int
	Pending   int
	Hold      int
	Timestamp time.Time
}

func (e ProgressEvent) EventType() string { return EventTypeProgress }
func (e ProgressEvent) Topic() string     { return TopicRun }
func (e ProgressEvent) TaskID() string    { return "" }

// ReplannedEvent is published when a discovery task changed the plan.
type ReplannedEvent struct {
	TriggerID string
	Tasks     int
	Renamed   map[string]string
	Timestamp time.Time
}

func (e ReplannedEvent) EventType() string { return EventTypeReplanned }
func (e ReplannedEvent) Topic() string     { return TopicRun }
func (e ReplannedEvent) TaskID() string    { return e.TriggerID }

// StateChangedEvent is published on coordinator state transitions.
type StateChangedEvent struct {
	State     string
	Reason    string
	Timestamp time.Time
}

func (e StateChangedEvent) EventType() string { return EventTypeStateChanged }
func (e StateChangedEvent) Topic() string     { return TopicRun }
func (e StateChangedEvent) TaskID() string    { return "" }

// CheckpointCreatedEvent is published when a restore point is taken.
type CheckpointCreatedEvent struct {
	ID        string
	Tag       string
	SHA       string
	Timestamp time.Time
}

func (e CheckpointCreatedEvent) EventType() string { return EventTypeCheckpointCreated }
func (e CheckpointCreatedEvent) Topic() string     { return TopicCheckpoint }
func (e CheckpointCreatedEvent) TaskID() string    { return e.ID }

// RolledBackEvent is published after an automatic rollback attempt.
type RolledBackEvent struct {
	ID        string
	Tag       string
	OK        bool
	Timestamp time.Time
}

func (e RolledBackEvent) EventType() string { return EventTypeRolledBack }
func (e RolledBackEvent) Topic() string     { return TopicCheckpoint }
func (e RolledBackEvent) TaskID() string    { return e.ID }
