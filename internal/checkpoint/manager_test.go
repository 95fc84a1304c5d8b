package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/francisykl/qoder-cli-orchestrator/internal/vcs"
)

// fakeVCS records calls and simulates a repository.
type fakeVCS struct {
	mu       sync.Mutex
	repo     bool
	dirty    bool
	head     string
	tags     map[string]string
	stashes  []string
	calls    []string
	resetErr error
}

func newFakeVCS() *fakeVCS {
	return &fakeVCS{repo: true, head: "0123456789abcdef", tags: make(map[string]string)}
}

func (f *fakeVCS) record(call string) {
	f.calls = append(f.calls, call)
}

func (f *fakeVCS) IsRepo(ctx context.Context) bool { return f.repo }

func (f *fakeVCS) Dirty(ctx context.Context) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.dirty, nil
}

func (f *fakeVCS) Stash(ctx context.Context, message string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("stash")
	f.stashes = append([]string{message}, f.stashes...)
	f.dirty = false
	return true, nil
}

func (f *fakeVCS) FindStash(ctx context.Context, marker string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, s := range f.stashes {
		if strings.Contains(s, marker) {
			return fmt.Sprintf("stash@{%d}", i), nil
		}
	}
	return "", errors.New("not found")
}

func (f *fakeVCS) StashApply(ctx context.Context, ref string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("apply " + ref)
	f.dirty = true
	return nil
}

func (f *fakeVCS) StashDrop(ctx context.Context, ref string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("drop " + ref)
	var i int
	if _, err := fmt.Sscanf(ref, "stash@{%d}", &i); err != nil || i >= len(f.stashes) {
		return errors.New("no such stash")
	}
	f.stashes = append(f.stashes[:i], f.stashes[i+1:]...)
	return nil
}

func (f *fakeVCS) Head(ctx context.Context) (string, error) { return f.head, nil }

func (f *fakeVCS) Tag(ctx context.Context, name, ref, message string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tags[name] = ref
	return nil
}

func (f *fakeVCS) DeleteTag(ctx context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("delete " + name)
	delete(f.tags, name)
	return nil
}

func (f *fakeVCS) ResetHard(ctx context.Context, ref string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("reset " + ref)
	return f.resetErr
}

func (f *fakeVCS) Commit(ctx context.Context, ref string) (*vcs.CommitInfo, error) {
	return &vcs.CommitInfo{SHA: f.head, Message: "checkpoint " + ref}, nil
}

func enabledConfig() Config {
	return Config{Enabled: true, CreateCheckpoints: true, Keep: 10}
}

func TestCreate_Disabled(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		name string
		cfg  Config
		repo bool
	}{
		{"rollback disabled", Config{Enabled: false, CreateCheckpoints: true}, true},
		{"checkpoints not requested", Config{Enabled: true, CreateCheckpoints: false}, true},
		{"not a repository", enabledConfig(), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFakeVCS()
			f.repo = tt.repo
			m := NewManager(ctx, f, tt.cfg)

			cp, err := m.Create(ctx, "t1", "setup")
			if err != nil || cp != nil {
				t.Errorf("Create = %v, %v; want nil, nil", cp, err)
			}
			if len(f.tags) != 0 {
				t.Errorf("tags created: %v", f.tags)
			}
		})
	}
}

func TestCreate_TagsHead(t *testing.T) {
	ctx := context.Background()
	f := newFakeVCS()
	m := NewManager(ctx, f, enabledConfig())

	cp, err := m.Create(ctx, "task 1/api", "build api")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if cp.ID != f.head {
		t.Errorf("ID = %q, want HEAD %q", cp.ID, f.head)
	}
	if !strings.HasPrefix(cp.Tag, TagPrefix+"task_1_api-") {
		t.Errorf("Tag = %q, want sanitised task id", cp.Tag)
	}
	if cp.Stashed {
		t.Error("clean tree reported as stashed")
	}
	if f.tags[cp.Tag] != f.head {
		t.Errorf("tag %q not created at HEAD", cp.Tag)
	}
}

func TestCreate_StashesDirtyTree(t *testing.T) {
	ctx := context.Background()
	f := newFakeVCS()
	f.dirty = true
	m := NewManager(ctx, f, enabledConfig())

	cp, err := m.Create(ctx, "t1", "setup")
	if err != nil {
		t.Fatal(err)
	}
	if !cp.Stashed {
		t.Error("expected Stashed = true")
	}
	if len(f.stashes) != 1 || !strings.Contains(f.stashes[0], cp.Tag) {
		t.Errorf("stash message does not carry tag: %v", f.stashes)
	}
	if !f.dirty {
		t.Error("working tree not restored after snapshot")
	}
	want := "stash,apply stash@{0}"
	if got := strings.Join(f.calls, ","); got != want {
		t.Errorf("calls = %s, want %s", got, want)
	}
}

func TestRetention_DropsSnapshots(t *testing.T) {
	ctx := context.Background()
	f := newFakeVCS()
	f.dirty = true
	cfg := enabledConfig()
	cfg.Keep = 1
	m := NewManager(ctx, f, cfg)

	first, _ := m.Create(ctx, "t1", "first")
	second, _ := m.Create(ctx, "t2", "second")

	if len(f.stashes) != 1 || !strings.Contains(f.stashes[0], second.Tag) {
		t.Errorf("stashes = %v, want only the snapshot of %s", f.stashes, second.Tag)
	}
	if _, ok := f.tags[first.Tag]; ok {
		t.Error("pruned tag still present")
	}
	if !strings.Contains(strings.Join(f.calls, ","), "drop stash@{1}") {
		t.Errorf("calls = %v, want a drop of the older snapshot", f.calls)
	}
}

func TestRetention(t *testing.T) {
	ctx := context.Background()
	f := newFakeVCS()
	cfg := enabledConfig()
	cfg.Keep = 2
	m := NewManager(ctx, f, cfg)

	var created []*Checkpoint
	for i := 0; i < 4; i++ {
		cp, err := m.Create(ctx, fmt.Sprintf("t%d", i), "step")
		if err != nil {
			t.Fatal(err)
		}
		created = append(created, cp)
	}

	kept := m.Checkpoints()
	if len(kept) != 2 {
		t.Fatalf("kept %d checkpoints, want 2", len(kept))
	}
	if kept[0].Tag != created[2].Tag || kept[1].Tag != created[3].Tag {
		t.Errorf("kept wrong checkpoints: %v", kept)
	}
	if _, ok := f.tags[created[0].Tag]; ok {
		t.Error("oldest tag not deleted")
	}
	if len(f.tags) != 2 {
		t.Errorf("tags = %d, want 2", len(f.tags))
	}
}

func TestRollback(t *testing.T) {
	ctx := context.Background()
	f := newFakeVCS()
	f.dirty = true
	m := NewManager(ctx, f, enabledConfig())

	stashedCP, _ := m.Create(ctx, "t1", "first")
	f.dirty = false
	cleanCP, _ := m.Create(ctx, "t2", "second")

	f.calls = nil
	if !m.RollbackTo(ctx, cleanCP.Tag) {
		t.Fatal("RollbackTo returned false")
	}
	if len(f.calls) != 1 || f.calls[0] != "reset "+cleanCP.Tag {
		t.Errorf("calls = %v, want reset only", f.calls)
	}

	f.calls = nil
	if !m.RollbackTo(ctx, stashedCP.ID) {
		t.Fatal("RollbackTo by SHA returned false")
	}
	// Both checkpoints share HEAD; lookup by SHA picks the newest.
	if f.calls[0] != "reset "+cleanCP.Tag {
		t.Errorf("calls = %v", f.calls)
	}

	f.calls = nil
	if !m.RollbackTo(ctx, stashedCP.Tag) {
		t.Fatal("RollbackTo stashed returned false")
	}
	want := []string{"reset " + stashedCP.Tag, "apply stash@{0}"}
	if strings.Join(f.calls, ",") != strings.Join(want, ",") {
		t.Errorf("calls = %v, want %v", f.calls, want)
	}

	f.calls = nil
	if !m.RollbackLast(ctx) {
		t.Fatal("RollbackLast returned false")
	}
	if f.calls[0] != "reset "+cleanCP.Tag {
		t.Errorf("RollbackLast reset %v", f.calls)
	}

	f.resetErr = errors.New("locked")
	if m.RollbackTo(ctx, cleanCP.Tag) {
		t.Error("RollbackTo reported success on reset failure")
	}
}

func TestRollbackLast_NoCheckpoints(t *testing.T) {
	m := NewManager(context.Background(), newFakeVCS(), enabledConfig())
	if m.RollbackLast(context.Background()) {
		t.Error("RollbackLast succeeded with no checkpoints")
	}
}

func TestAutoRollback(t *testing.T) {
	ctx := context.Background()
	cfg := enabledConfig()
	cfg.AutoRollback = true

	if !NewManager(ctx, newFakeVCS(), cfg).AutoRollback() {
		t.Error("AutoRollback = false")
	}
	f := newFakeVCS()
	f.repo = false
	if NewManager(ctx, f, cfg).AutoRollback() {
		t.Error("AutoRollback = true outside a repository")
	}
}

func TestManager_RealGit(t *testing.T) {
	if err := vcs.Available(); err != nil {
		t.Skip("git not available")
	}
	repo := t.TempDir()
	for _, args := range [][]string{
		{"init"},
		{"config", "user.name", "Test User"},
		{"config", "user.email", "test@example.com"},
		{"config", "commit.gpgsign", "false"},
		{"config", "tag.gpgsign", "false"},
	} {
		cmd := exec.Command("git", args...)
		cmd.Dir = repo
		if out, err := cmd.CombinedOutput(); err != nil {
			t.Fatalf("git %v: %v (%s)", args, err, out)
		}
	}
	readme := filepath.Join(repo, "README.md")
	os.WriteFile(readme, []byte("v1\n"), 0644)
	for _, args := range [][]string{{"add", "."}, {"commit", "-m", "initial"}} {
		cmd := exec.Command("git", args...)
		cmd.Dir = repo
		if out, err := cmd.CombinedOutput(); err != nil {
			t.Fatalf("git %v: %v (%s)", args, err, out)
		}
	}

	ctx := context.Background()
	m := NewManager(ctx, vcs.New(repo), enabledConfig())

	// Uncommitted work from an earlier task must survive checkpointing.
	os.WriteFile(readme, []byte("v2 wip\n"), 0644)

	cp, err := m.Create(ctx, "t1", "edit readme")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if !cp.Stashed {
		t.Error("dirty tree not snapshotted")
	}
	data, _ := os.ReadFile(readme)
	if string(data) != "v2 wip\n" {
		t.Fatalf("README after Create = %q, want the uncommitted edit", data)
	}

	// Simulate an agent that broke the file.
	os.WriteFile(readme, []byte("broken\n"), 0644)

	if !m.RollbackTo(ctx, cp.ID) {
		t.Fatal("RollbackTo failed")
	}
	data, _ = os.ReadFile(readme)
	if string(data) != "v2 wip\n" {
		t.Errorf("README = %q, want the snapshot restored", data)
	}

	info, err := m.Info(ctx, cp.Tag)
	if err != nil {
		t.Fatalf("Info: %v", err)
	}
	if info.SHA != cp.ID {
		t.Errorf("Info SHA = %q, want %q", info.SHA, cp.ID)
	}
}
