// Package backend invokes external coding agents as subprocesses.
package backend

import (
	"context"
	"fmt"
)

// Agent executes one prompt in a working directory. Exit status zero is
// success; anything else is returned as an error.
type Agent interface {
	Invoke(ctx context.Context, req Request) (Response, error)
}

// AgentFunc adapts a function to Agent.
type AgentFunc func(ctx context.Context, req Request) (Response, error)

// Invoke calls f.
func (f AgentFunc) Invoke(ctx context.Context, req Request) (Response, error) {
	return f(ctx, req)
}

// New creates an agent based on the provided configuration.
// This factory function switches on cfg.Type and returns the appropriate adapter.
func New(cfg Config, pm *ProcessManager) (Agent, error) {
	switch cfg.Type {
	case "", "qoder":
		return NewQoderAgent(cfg, pm), nil
	case "claude":
		return NewClaudeAgent(cfg, pm), nil
	case "command":
		return NewCommandAgent(cfg, pm)
	default:
		return nil, fmt.Errorf("unknown agent type: %s", cfg.Type)
	}
}

// Binary returns the executable cfg resolves to.
func Binary(cfg Config) string {
	if cfg.Command != "" {
		return cfg.Command
	}
	switch cfg.Type {
	case "claude":
		return "claude"
	default:
		return "qoder"
	}
}
