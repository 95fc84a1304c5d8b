package backend

import (
	"context"
	"strings"
)

// QoderAgent invokes the Qoder CLI in non-interactive mode:
// qoder --yolo -p <prompt> [-f json] [--model m].
type QoderAgent struct {
	binary  string
	args    []string
	model   string
	workDir string
	env     map[string]string
	procMgr *ProcessManager
}

// NewQoderAgent creates a Qoder agent. The ProcessManager is optional.
func NewQoderAgent(cfg Config, procMgr *ProcessManager) *QoderAgent {
	return &QoderAgent{
		binary:  Binary(Config{Type: "qoder", Command: cfg.Command}),
		args:    cfg.Args,
		model:   cfg.Model,
		workDir: cfg.WorkDir,
		env:     cfg.Env,
		procMgr: procMgr,
	}
}

// Invoke runs one prompt.
func (a *QoderAgent) Invoke(ctx context.Context, req Request) (Response, error) {
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

// buildArgs routes the prompt to the subagent with the /agent command.
func (a *QoderAgent) buildArgs(req Request) []string {
	prompt := req.Prompt
	if req.Subagent != "" {
		prompt = "/agent " + req.Subagent + " " + prompt
	}

	args := append([]string{}, a.args...)
	args = append(args, "--yolo", "-p", prompt)
	if req.JSONOutput {
		args = append(args, "-f", "json")
	}
	if a.model != "" {
		args = append(args, "--model", a.model)
	}
	return args
}

// Version runs `<binary> --version`.
func (a *QoderAgent) Version(ctx context.Context) (string, error) {
	out, err := runAgent(ctx, a.procMgr, a.workDir, a.env, a.binary, "--version")
	return strings.TrimSpace(string(out)), err
}
