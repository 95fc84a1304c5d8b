package scheduler

import (
	"fmt"
	"strings"
)

// MergeRefined combines the current plan with a refined one. Completed and
// running tasks of the current plan are kept verbatim and in order; every
// other current task is dropped in favour of the refined plan.
//
// A refined task reusing a preserved ID is either the same task echoed back
// (same description, dropped) or a new task, which is renamed to
// "<id>-r<n>" with the smallest free n. Dependency references inside the
// refined plan follow the rename. The returned map holds old -> new IDs.
func MergeRefined(current, refined []*Task) ([]*Task, map[string]string) {
	preserved := make(map[string]*Task)
	var merged []*Task
	for _, t := range current {
		if t.Status == TaskCompleted || t.Status == TaskRunning {
			preserved[t.ID] = t
			merged = append(merged, cloneTask(t))
		}
	}

	used := make(map[string]bool, len(current)+len(refined))
	for _, t := range current {
		used[t.ID] = true
	}
	for _, t := range refined {
		used[t.ID] = true
	}

	renamed := make(map[string]string)
	var incoming []*Task
	for _, t := range refined {
		if old, ok := preserved[t.ID]; ok {
			if sameWork(old, t) {
				continue
			}
			newID := nextFreeID(t.ID, used)
			used[newID] = true
			renamed[t.ID] = newID
		}
		incoming = append(incoming, t)
	}

	for _, t := range incoming {
		nt := cloneTask(t)
		if newID, ok := renamed[nt.ID]; ok {
			nt.ID = newID
		}
		for i, dep := range nt.DependsOn {
			if newID, ok := renamed[dep]; ok {
				nt.DependsOn[i] = newID
			}
		}
		nt.Status = TaskPending
		nt.Output = ""
		nt.Error = ""
		if nt.Component == "" {
			nt.Component = DefaultComponent
		}
		merged = append(merged, nt)
	}

	return merged, renamed
}

func sameWork(a, b *Task) bool {
	return strings.EqualFold(strings.TrimSpace(a.Description), strings.TrimSpace(b.Description))
}

func nextFreeID(id string, used map[string]bool) string {
	for n := 1; ; n++ {
		candidate := fmt.Sprintf("%s-r%d", id, n)
		if !used[candidate] {
			return candidate
		}
	}
}
