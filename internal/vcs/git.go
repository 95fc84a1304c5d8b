// Package vcs wraps the git CLI operations the orchestrator needs: restore
// points (stash + tag), hard resets and repository inspection.
package vcs

import (
	"bufio"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"sync"
	"time"
)

// Runner executes git with args in dir and returns the combined output.
type Runner interface {
	Run(ctx context.Context, dir string, args ...string) (string, error)
}

// ExecRunner runs the real git binary.
type ExecRunner struct{}

// Run implements Runner.
func (ExecRunner) Run(ctx context.Context, dir string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	if err != nil {
		return string(out), fmt.Errorf("git %s: %w (output: %s)", args[0], err, strings.TrimSpace(string(out)))
	}
	return string(out), nil
}

// Available reports an error when git is not on PATH.
func Available() error {
	if _, err := exec.LookPath("git"); err != nil {
		return fmt.Errorf("git not found on PATH: %w", err)
	}
	return nil
}

// CommitInfo describes a commit.
type CommitInfo struct {
	SHA       string
	Message   string
	Author    string
	Timestamp time.Time
}

// Git runs git commands against one working tree. Commands are serialized to
// avoid index.lock contention between workers.
type Git struct {
	dir    string
	runner Runner
	mu     sync.Mutex
}

// New creates a Git for dir using the real git binary.
func New(dir string) *Git {
	return NewWithRunner(dir, ExecRunner{})
}

// NewWithRunner creates a Git backed by runner.
func NewWithRunner(dir string, runner Runner) *Git {
	return &Git{dir: dir, runner: runner}
}

// Dir returns the working tree path.
func (g *Git) Dir() string { return g.dir }

func (g *Git) run(ctx context.Context, args ...string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.runner.Run(ctx, g.dir, args...)
}

// IsRepo reports whether dir is inside a git repository.
func (g *Git) IsRepo(ctx context.Context) bool {
	_, err := g.run(ctx, "rev-parse", "--git-dir")
	return err == nil
}

// Head returns the SHA of HEAD.
func (g *Git) Head(ctx context.Context) (string, error) {
	return g.ResolveRef(ctx, "HEAD")
}

// ResolveRef resolves a SHA, tag or branch to a commit SHA.
func (g *Git) ResolveRef(ctx context.Context, ref string) (string, error) {
	out, err := g.run(ctx, "rev-parse", "--verify", ref+"^{commit}")
	if err != nil {
		return "", fmt.Errorf("failed to resolve %s: %w", ref, err)
	}
	return strings.TrimSpace(out), nil
}

// Status returns the paths reported by `git status --porcelain`.
func (g *Git) Status(ctx context.Context) ([]string, error) {
	out, err := g.run(ctx, "status", "--porcelain")
	if err != nil {
		return nil, fmt.Errorf("failed to get status: %w", err)
	}
	var paths []string
	scanner := bufio.NewScanner(strings.NewReader(out))
	for scanner.Scan() {
		line := scanner.Text()
		if len(line) > 3 {
			paths = append(paths, strings.TrimSpace(line[3:]))
		}
	}
	return paths, nil
}

// Dirty reports whether the tree has uncommitted or untracked changes.
func (g *Git) Dirty(ctx context.Context) (bool, error) {
	paths, err := g.Status(ctx)
	if err != nil {
		return false, err
	}
	return len(paths) > 0, nil
}

// Stash saves tracked and untracked changes under message. It reports
// whether anything was stashed.
func (g *Git) Stash(ctx context.Context, message string) (bool, error) {
	out, err := g.run(ctx, "stash", "push", "--include-untracked", "-m", message)
	if err != nil {
		return false, fmt.Errorf("failed to stash: %w", err)
	}
	return !strings.Contains(out, "No local changes to save"), nil
}

// StashApply restores the stash entry ref without removing it, so the entry
// can be applied again later.
func (g *Git) StashApply(ctx context.Context, ref string) error {
	if _, err := g.run(ctx, "stash", "apply", ref); err != nil {
		return fmt.Errorf("failed to apply stash %s: %w", ref, err)
	}
	return nil
}

// StashDrop removes the stash entry ref.
func (g *Git) StashDrop(ctx context.Context, ref string) error {
	if _, err := g.run(ctx, "stash", "drop", ref); err != nil {
		return fmt.Errorf("failed to drop stash %s: %w", ref, err)
	}
	return nil
}

// FindStash returns the stash ref (stash@{n}) whose message contains marker.
func (g *Git) FindStash(ctx context.Context, marker string) (string, error) {
	out, err := g.run(ctx, "stash", "list", "--format=%gd%x00%gs")
	if err != nil {
		return "", fmt.Errorf("failed to list stashes: %w", err)
	}
	for _, line := range strings.Split(out, "\n") {
		ref, subject, ok := strings.Cut(line, "\x00")
		if ok && strings.Contains(subject, marker) {
			return ref, nil
		}
	}
	return "", fmt.Errorf("no stash matching %q", marker)
}

// Tag creates an annotated tag at ref.
func (g *Git) Tag(ctx context.Context, name, ref, message string) error {
	if _, err := g.run(ctx, "tag", "-a", name, "-m", message, ref); err != nil {
		return fmt.Errorf("failed to create tag %s: %w", name, err)
	}
	return nil
}

// DeleteTag removes a tag.
func (g *Git) DeleteTag(ctx context.Context, name string) error {
	if _, err := g.run(ctx, "tag", "-d", name); err != nil {
		return fmt.Errorf("failed to delete tag %s: %w", name, err)
	}
	return nil
}

// Tags lists tags matching a glob pattern.
func (g *Git) Tags(ctx context.Context, pattern string) ([]string, error) {
	out, err := g.run(ctx, "tag", "--list", pattern)
	if err != nil {
		return nil, fmt.Errorf("failed to list tags: %w", err)
	}
	var tags []string
	for _, line := range strings.Split(out, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			tags = append(tags, line)
		}
	}
	return tags, nil
}

// ResetHard resets the working tree and index to ref.
func (g *Git) ResetHard(ctx context.Context, ref string) error {
	if _, err := g.run(ctx, "reset", "--hard", ref); err != nil {
		return fmt.Errorf("failed to reset to %s: %w", ref, err)
	}
	return nil
}

// Commit returns information about ref.
func (g *Git) Commit(ctx context.Context, ref string) (*CommitInfo, error) {
	out, err := g.run(ctx, "log", "-1", "--format=%H%x00%an <%ae>%x00%cI%x00%B", ref+"^{commit}")
	if err != nil {
		return nil, fmt.Errorf("failed to read commit %s: %w", ref, err)
	}
	return parseCommit(out)
}

func parseCommit(out string) (*CommitInfo, error) {
	parts := strings.SplitN(out, "\x00", 4)
	if len(parts) != 4 {
		return nil, fmt.Errorf("unexpected git log output: %q", out)
	}
	ts, err := time.Parse(time.RFC3339, strings.TrimSpace(parts[2]))
	if err != nil {
		return nil, fmt.Errorf("failed to parse commit time: %w", err)
	}
	return &CommitInfo{
		SHA:       strings.TrimSpace(parts[0]),
		Author:    strings.TrimSpace(parts[1]),
		Timestamp: ts,
		Message:   strings.TrimSpace(parts[3]),
	}, nil
}
