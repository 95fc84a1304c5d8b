package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/francisykl/qoder-cli-orchestrator/internal/retry"
	"github.com/google/uuid"
)

// ClaudeAgent invokes the Claude Code CLI. Every invocation starts a fresh
// session whose ID is returned in the response.
type ClaudeAgent struct {
	binary       string
	args         []string
	model        string
	systemPrompt string
	workDir      string
	env          map[string]string
	procMgr      *ProcessManager
}

// claudeResponse covers both output shapes the CLI emits:
// {"session_id": "...", "result": "text"} and
// {"session_id": "...", "result": {"content": [{"type": "text", "text": "..."}]}}.
type claudeResponse struct {
	SessionID string          `json:"session_id"`
	IsError   bool            `json:"is_error"`
	Result    json.RawMessage `json:"result"`
}

type claudeContent struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
}

// NewClaudeAgent creates a Claude Code agent.
// The ProcessManager is optional - if nil, subprocesses won't be tracked.
func NewClaudeAgent(cfg Config, procMgr *ProcessManager) *ClaudeAgent {
	return &ClaudeAgent{
		binary:       Binary(Config{Type: "claude", Command: cfg.Command}),
		args:         cfg.Args,
		model:        cfg.Model,
		systemPrompt: cfg.SystemPrompt,
		workDir:      cfg.WorkDir,
		env:          cfg.Env,
		procMgr:      procMgr,
	}
}

// Invoke runs one prompt in a new session.
func (a *ClaudeAgent) Invoke(ctx context.Context, req Request) (Response, error) {
	dir := req.WorkDir
	if dir == "" {
		dir = a.workDir
	}
	sessionID := uuid.NewString()

	stdout, err := runAgent(ctx, a.procMgr, dir, a.env, a.binary, a.buildArgs(req, sessionID)...)
	if err != nil {
		return Response{}, err
	}

	resp, err := parseClaudeResponse(stdout)
	if err != nil {
		return Response{}, retry.TemporaryError("failed to parse claude response", err)
	}
	if resp.SessionID == "" {
		resp.SessionID = sessionID
	}
	return resp, nil
}

// buildArgs constructs the command-line arguments for the claude CLI.
func (a *ClaudeAgent) buildArgs(req Request, sessionID string) []string {
	args := append([]string{}, a.args...)
	args = append(args, "-p", req.Prompt, "--output-format", "json", "--session-id", sessionID)

	if a.model != "" {
		args = append(args, "--model", a.model)
	}

	system := a.systemPrompt
	if req.Subagent != "" {
		role := fmt.Sprintf("You are acting as the %s subagent.", req.Subagent)
		if system != "" {
			system = role + "\n\n" + system
		} else {
			system = role
		}
	}
	if system != "" {
		args = append(args, "--append-system-prompt", system)
	}

	return args
}

// parseClaudeResponse extracts the text result and session ID.
func parseClaudeResponse(data []byte) (Response, error) {
	var cr claudeResponse
	if err := json.Unmarshal(data, &cr); err != nil {
		return Response{}, fmt.Errorf("failed to unmarshal JSON: %w", err)
	}

	var text string
	if len(cr.Result) > 0 {
		if err := json.Unmarshal(cr.Result, &text); err != nil {
			var content claudeContent
			if err := json.Unmarshal(cr.Result, &content); err != nil {
				return Response{}, fmt.Errorf("unexpected result shape: %w", err)
			}
			var b strings.Builder
			for _, item := range content.Content {
				if item.Type == "text" {
					b.WriteString(item.Text)
				}
			}
			text = b.String()
		}
	}

	if cr.IsError {
		return Response{}, fmt.Errorf("claude reported an error: %s", text)
	}

	return Response{Output: text, SessionID: cr.SessionID}, nil
}
