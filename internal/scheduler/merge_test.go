package scheduler

import (
	"reflect"
	"testing"
)

func TestMergeRefined(t *testing.T) {
	current := []*Task{
		{ID: "t1", Description: "Audit auth flow", Status: TaskCompleted, Output: "found gaps"},
		{ID: "t2", Description: "Build login API", Status: TaskRunning},
		{ID: "t3", Description: "Old frontend work", Status: TaskPending},
		{ID: "t4", Description: "Broken step", Status: TaskFailed, Error: "boom"},
	}

	t.Run("preserves completed and running tasks verbatim", func(t *testing.T) {
		refined := []*Task{
			{ID: "t5", Description: "Add session store", DependsOn: []string{"t1"}},
		}
		merged, renamed := MergeRefined(current, refined)

		if got := ids(merged); !reflect.DeepEqual(got, []string{"t1", "t2", "t5"}) {
			t.Fatalf("merged ids = %v, want [t1 t2 t5]", got)
		}
		if merged[0].Output != "found gaps" || merged[0].Status != TaskCompleted {
			t.Errorf("preserved t1 changed: %+v", merged[0])
		}
		if merged[1].Status != TaskRunning {
			t.Errorf("preserved t2 status = %q, want running", merged[1].Status)
		}
		if len(renamed) != 0 {
			t.Errorf("renamed = %v, want empty", renamed)
		}
	})

	t.Run("echoed preserved task is dropped", func(t *testing.T) {
		refined := []*Task{
			{ID: "t1", Description: "audit auth flow "},
			{ID: "t6", Description: "Wire UI", DependsOn: []string{"t1"}},
		}
		merged, renamed := MergeRefined(current, refined)

		if got := ids(merged); !reflect.DeepEqual(got, []string{"t1", "t2", "t6"}) {
			t.Fatalf("merged ids = %v, want [t1 t2 t6]", got)
		}
		if !reflect.DeepEqual(merged[2].DependsOn, []string{"t1"}) {
			t.Errorf("t6 deps = %v, want [t1]", merged[2].DependsOn)
		}
		if len(renamed) != 0 {
			t.Errorf("renamed = %v, want empty", renamed)
		}
	})

	t.Run("colliding new task is renamed and references follow", func(t *testing.T) {
		refined := []*Task{
			{ID: "t2", Description: "Rework login API"},
			{ID: "t2-r1", Description: "Unrelated existing suffix"},
			{ID: "t7", Description: "Test login", DependsOn: []string{"t2"}},
		}
		merged, renamed := MergeRefined(current, refined)

		if renamed["t2"] != "t2-r2" {
			t.Fatalf("renamed[t2] = %q, want t2-r2", renamed["t2"])
		}
		if got := ids(merged); !reflect.DeepEqual(got, []string{"t1", "t2", "t2-r2", "t2-r1", "t7"}) {
			t.Fatalf("merged ids = %v", got)
		}
		if !reflect.DeepEqual(merged[4].DependsOn, []string{"t2-r2"}) {
			t.Errorf("t7 deps = %v, want [t2-r2]", merged[4].DependsOn)
		}
		if _, err := NewDAGFromTasks(merged); err != nil {
			t.Errorf("merged plan does not validate: %v", err)
		}
	})

	t.Run("refined tasks start pending", func(t *testing.T) {
		refined := []*Task{{ID: "t9", Description: "x", Status: TaskCompleted, Output: "stale"}}
		merged, _ := MergeRefined(current, refined)
		last := merged[len(merged)-1]
		if last.Status != TaskPending || last.Output != "" {
			t.Errorf("refined task = %+v, want pending with no output", last)
		}
		if last.Component != DefaultComponent {
			t.Errorf("Component = %q, want %q", last.Component, DefaultComponent)
		}
	})

	t.Run("inputs are not mutated", func(t *testing.T) {
		refined := []*Task{{ID: "t2", Description: "other", DependsOn: []string{"t2x"}}}
		MergeRefined(current, refined)
		if refined[0].ID != "t2" {
			t.Errorf("refined input mutated: %+v", refined[0])
		}
	})
}
