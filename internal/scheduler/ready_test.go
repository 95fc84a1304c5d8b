package scheduler

import (
	"reflect"
	"testing"
)

func ids(tasks []*Task) []string {
	out := make([]string, 0, len(tasks))
	for _, t := range tasks {
		out = append(out, t.ID)
	}
	return out
}

func TestReady(t *testing.T) {
	tests := []struct {
		name  string
		tasks []*Task
		want  []string
	}{
		{
			name: "roots are ready in insertion order",
			tasks: []*Task{
				{ID: "b", Status: TaskPending},
				{ID: "a", Status: TaskPending},
				{ID: "c", Status: TaskPending, DependsOn: []string{"a"}},
			},
			want: []string{"b", "a"},
		},
		{
			name: "failed dependency keeps dependent blocked",
			tasks: []*Task{
				{ID: "a", Status: TaskFailed},
				{ID: "b", Status: TaskPending, DependsOn: []string{"a"}},
			},
			want: []string{},
		},
		{
			name: "running scope blocks overlapping task",
			tasks: []*Task{
				{ID: "a", Status: TaskRunning, FilesScope: []string{"src/api.go"}},
				{ID: "b", Status: TaskPending, FilesScope: []string{"src/api.go"}},
				{ID: "c", Status: TaskPending, FilesScope: []string{"src/web.go"}},
			},
			want: []string{"c"},
		},
		{
			name: "glob scope overlaps concrete path",
			tasks: []*Task{
				{ID: "a", Status: TaskRunning, FilesScope: []string{"app/components/*.js"}},
				{ID: "b", Status: TaskPending, FilesScope: []string{"app/components/button.js"}},
				{ID: "c", Status: TaskPending, FilesScope: []string{"app/api.js"}},
			},
			want: []string{"c"},
		},
		{
			name: "directory scope overlaps nested file",
			tasks: []*Task{
				{ID: "a", Status: TaskRunning, FilesScope: []string{"lib/auth/"}},
				{ID: "b", Status: TaskPending, FilesScope: []string{"lib/auth/session.go"}},
			},
			want: []string{},
		},
		{
			name: "non-pending tasks are never ready",
			tasks: []*Task{
				{ID: "a", Status: TaskHold},
				{ID: "b", Status: TaskCompleted},
				{ID: "c", Status: TaskRunning},
			},
			want: []string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ids(Ready(tt.tasks))
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Ready() = %v, want %v", got, tt.want)
			}
		})
	}
}

// TestReadyScenario walks the three-task example: after t1 completes both
// t2 and t3 are ready and may run together.
func TestReadyScenario(t *testing.T) {
	tasks := []*Task{
		{ID: "t1", Status: TaskCompleted, FilesScope: []string{"a.txt"}},
		{ID: "t2", Status: TaskPending, DependsOn: []string{"t1"}, FilesScope: []string{"b.txt"}},
		{ID: "t3", Status: TaskPending, DependsOn: []string{"t1"}, FilesScope: []string{"a.txt"}},
	}

	if got := ids(Ready(tasks)); !reflect.DeepEqual(got, []string{"t2", "t3"}) {
		t.Fatalf("Ready() = %v, want [t2 t3]", got)
	}
	if got := ids(NextWave(tasks, 0, nil)); !reflect.DeepEqual(got, []string{"t2", "t3"}) {
		t.Errorf("NextWave() = %v, want [t2 t3]", got)
	}

	// A fourth task touching a.txt cannot join t3 in the same wave.
	tasks = append(tasks, &Task{ID: "t4", Status: TaskPending, FilesScope: []string{"a.txt"}})
	if got := ids(NextWave(tasks, 0, nil)); !reflect.DeepEqual(got, []string{"t2", "t3"}) {
		t.Errorf("NextWave() with t4 = %v, want [t2 t3]", got)
	}
}

func TestNextWave(t *testing.T) {
	tasks := []*Task{
		{ID: "a", Status: TaskPending, FilesScope: []string{"x.go"}},
		{ID: "b", Status: TaskPending, FilesScope: []string{"x.go"}},
		{ID: "c", Status: TaskPending, FilesScope: []string{"y.go"}},
		{ID: "d", Status: TaskPending},
	}

	tests := []struct {
		name     string
		limit    int
		priority []string
		want     []string
	}{
		{"unbounded excludes intra-wave conflicts", 0, nil, []string{"a", "c", "d"}},
		{"limit caps wave size", 2, nil, []string{"a", "c"}},
		{"priority reorders selection", 0, []string{"b", "d"}, []string{"b", "d", "c"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ids(NextWave(tasks, tt.limit, tt.priority))
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("NextWave() = %v, want %v", got, tt.want)
			}
		})
	}
}

// TestNextWaveNeverOverlaps checks that a wave plus the running set never
// share a scope entry.
func TestNextWaveNeverOverlaps(t *testing.T) {
	tasks := []*Task{
		{ID: "r", Status: TaskRunning, FilesScope: []string{"src/**"}},
		{ID: "a", Status: TaskPending, FilesScope: []string{"src/a.go"}},
		{ID: "b", Status: TaskPending, FilesScope: []string{"docs/a.md", "cmd/main.go"}},
		{ID: "c", Status: TaskPending, FilesScope: []string{"cmd/main.go"}},
		{ID: "d", Status: TaskPending, FilesScope: []string{"docs/b.md"}},
		{ID: "e", Status: TaskPending, FilesScope: []string{"lib/auth/**"}},
		{ID: "f", Status: TaskPending, FilesScope: []string{"lib/*/login.go"}},
		{ID: "g", Status: TaskPending, FilesScope: []string{"*.go"}},
		{ID: "h", Status: TaskPending, FilesScope: []string{"main.*"}},
		{ID: "i", Status: TaskPending, FilesScope: []string{"*/a.go"}},
	}

	wave := NextWave(tasks, 0, nil)
	active := []*Task{tasks[0]}
	active = append(active, wave...)
	for i := range active {
		for j := i + 1; j < len(active); j++ {
			if ScopesOverlap(active[i].FilesScope, active[j].FilesScope) {
				t.Errorf("tasks %q and %q overlap in the same wave", active[i].ID, active[j].ID)
			}
		}
	}
	if got := ids(wave); !reflect.DeepEqual(got, []string{"b", "d", "e", "g"}) {
		t.Errorf("NextWave() = %v, want [b d e g]", got)
	}
}

// TestReadyLiveness drives an acyclic graph to completion and checks every
// task is surfaced exactly once.
func TestReadyLiveness(t *testing.T) {
	dag := NewDAG()
	dag.AddTask(&Task{ID: "a", FilesScope: []string{"shared.go"}})
	dag.AddTask(&Task{ID: "b", FilesScope: []string{"shared.go"}})
	dag.AddTask(&Task{ID: "c", DependsOn: []string{"a"}})
	dag.AddTask(&Task{ID: "d", DependsOn: []string{"b", "c"}, FilesScope: []string{"shared.go"}})
	dag.AddTask(&Task{ID: "e"})

	seen := make(map[string]int)
	for round := 0; round < 10 && dag.Counts()[TaskCompleted] < dag.Len(); round++ {
		wave := NextWave(dag.Tasks(), 2, nil)
		for _, task := range wave {
			seen[task.ID]++
			dag.MarkRunning(task.ID)
		}
		for _, task := range wave {
			dag.MarkCompleted(task.ID, "ok")
		}
	}

	if dag.Counts()[TaskCompleted] != dag.Len() {
		t.Fatalf("graph did not converge: %v", dag.Counts())
	}
	for _, task := range dag.Tasks() {
		if seen[task.ID] != 1 {
			t.Errorf("task %q surfaced %d times, want 1", task.ID, seen[task.ID])
		}
	}
}

func TestPathsOverlap(t *testing.T) {
	tests := []struct {
		a, b string
		want bool
	}{
		{"a.txt", "a.txt", true},
		{"./a.txt", "a.txt", true},
		{"a.txt", "b.txt", false},
		{"src/**", "src/pkg/x.go", true},
		{"src/*.go", "src/x.go", true},
		{"src/*.go", "src/pkg/x.go", false},
		{"docs", "docs/readme.md", true},
		{"doc", "docs/readme.md", false},
		{"", "a.txt", false},
		{"lib/auth/**", "lib/*/login.go", true},
		{"lib/*/login.go", "lib/auth/**", true},
		{"*.go", "main.*", true},
		{"*.go", "*.md", false},
		{"src", "*/a.go", true},
		{"src/*", "docs/*", false},
		{"src/*/x.go", "src/pkg/*.go", true},
		{"src/*/x.go", "src/pkg/*.md", false},
		{"api/{users,orders}.go", "api/users.go", true},
		{"api/{users,orders}.go", "api/carts.go", false},
		{"**", "anything/at/all.txt", true},
		{"src/**/*.go", "docs/**", false},
	}

	for _, tt := range tests {
		if got := PathsOverlap(tt.a, tt.b); got != tt.want {
			t.Errorf("PathsOverlap(%q, %q) = %v, want %v", tt.a, tt.b, got, tt.want)
		}
	}
}
