package orchestrator

import (
	"context"
	"fmt"
	"os/exec"

	"github.com/francisykl/qoder-cli-orchestrator/internal/vcs"
)

// PreflightReport collects environment problems found before a run.
// Errors abort the run; warnings are only shown.
type PreflightReport struct {
	Errors   []string
	Warnings []string
}

// OK reports whether no blocking problem was found.
func (r PreflightReport) OK() bool {
	return len(r.Errors) == 0
}

// Preflight checks that git is installed, dir is a repository and the agent
// binary can be found. Uncommitted changes only warn.
func Preflight(ctx context.Context, dir, agentBinary string) PreflightReport {
	var r PreflightReport

	if err := vcs.Available(); err != nil {
		r.Errors = append(r.Errors, "git is not installed or not on PATH")
	} else {
		g := vcs.New(dir)
		if !g.IsRepo(ctx) {
			r.Errors = append(r.Errors, fmt.Sprintf("%s is not a git repository", dir))
		} else if dirty, err := g.Dirty(ctx); err != nil {
			r.Warnings = append(r.Warnings, fmt.Sprintf("could not read git status: %v", err))
		} else if dirty {
			r.Warnings = append(r.Warnings, "working tree has uncommitted changes")
		}
	}

	if agentBinary == "" {
		r.Errors = append(r.Errors, "no agent binary configured")
	} else if _, err := exec.LookPath(agentBinary); err != nil {
		r.Errors = append(r.Errors, fmt.Sprintf("agent binary %q not found on PATH", agentBinary))
	}

	return r
}
