package backend

// Request is one agent invocation.
type Request struct {
	TaskID     string
	Subagent   string // Worker profile the agent should adopt
	Prompt     string
	WorkDir    string
	JSONOutput bool // Ask the agent for machine-readable output
}

// Response is the result of a successful invocation.
type Response struct {
	Output    string
	SessionID string
}

// Config defines the configuration for an agent.
type Config struct {
	Type         string            // "qoder", "claude", or "command"
	Command      string            // Binary override; required for "command"
	Args         []string          // Extra arguments; "{prompt}" and "{subagent}" are substituted for "command"
	Model        string
	SystemPrompt string
	WorkDir      string            // Default working directory
	Env          map[string]string // Added to the inherited environment
}
