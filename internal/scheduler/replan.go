package scheduler

import "sync"

// ReplanTrigger decides when a completed task should cause the plan to be
// refined. Each task triggers at most once per run.
type ReplanTrigger struct {
	mu        sync.Mutex
	rules     Rules
	triggered map[string]bool
}

// NewReplanTrigger creates a trigger using rules; an empty table falls back
// to DiscoveryRules.
func NewReplanTrigger(rules Rules) *ReplanTrigger {
	if len(rules.Rules) == 0 {
		rules = DiscoveryRules
	}
	return &ReplanTrigger{
		rules:     rules,
		triggered: make(map[string]bool),
	}
}

// OnTaskCompleted is called after a task completes. It returns true when the
// task produced discovery information that has not been acted on yet.
func (r *ReplanTrigger) OnTaskCompleted(t *Task) bool {
	if t == nil || t.Status != TaskCompleted {
		return false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.triggered[t.ID] {
		return false
	}
	if !r.rules.Matches(t) {
		return false
	}
	r.triggered[t.ID] = true
	return true
}

// Triggered returns whether taskID already caused a refinement.
func (r *ReplanTrigger) Triggered(taskID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.triggered[taskID]
}
