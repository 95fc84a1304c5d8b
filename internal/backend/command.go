package backend

import (
	"context"
	"fmt"
	"strings"
)

// CommandAgent runs an arbitrary executable. "{prompt}" and "{subagent}" in
// Args are substituted; without a "{prompt}" placeholder the prompt is
// appended as the last argument.
type CommandAgent struct {
	binary  string
	args    []string
	workDir string
	env     map[string]string
	procMgr *ProcessManager
}

// NewCommandAgent creates a generic command agent. cfg.Command is required.
func NewCommandAgent(cfg Config, procMgr *ProcessManager) (*CommandAgent, error) {
	if cfg.Command == "" {
		return nil, fmt.Errorf("command agent requires a command")
	}
	return &CommandAgent{
		binary:  cfg.Command,
		args:    cfg.Args,
		workDir: cfg.WorkDir,
		env:     cfg.Env,
		procMgr: procMgr,
	}, nil
}

// Invoke runs one prompt.
func (a *CommandAgent) Invoke(ctx context.Context, req Request) (Response, error) {
	dir := req.WorkDir
	if dir == "" {
		dir = a.workDir
	}
	stdout, err := runAgent(ctx, a.procMgr, dir, a.env, a.binary, a.buildArgs(req)...)
	if err != nil {
		return Response{}, err
	}
	return Response{Output: string(stdout)}, nil
}

func (a *CommandAgent) buildArgs(req Request) []string {
	args := make([]string, 0, len(a.args)+1)
	substituted := false
	for _, arg := range a.args {
		if strings.Contains(arg, "{prompt}") {
			substituted = true
		}
		arg = strings.ReplaceAll(arg, "{prompt}", req.Prompt)
		arg = strings.ReplaceAll(arg, "{subagent}", req.Subagent)
		args = append(args, arg)
	}
	if !substituted {
		args = append(args, req.Prompt)
	}
	return args
}
