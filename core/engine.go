package core

import "context"

// EngineConfig captures everything a session needs to establish an engine
// connection: the initial model, the fully assembled system prompt, the tool
// allow-list derived from active capabilities, the integration identifiers
// enabled for the conversation, and an optional resumption token from a
// previous connection.
type EngineConfig struct {
	Model        string   `json:"model"`
	SystemPrompt string   `json:"system_prompt,omitempty"`
	AllowedTools []string `json:"allowed_tools,omitempty"`
	Integrations []string `json:"integrations,omitempty"`
	ResumeToken  string   `json:"resume_token,omitempty"`
}

// EngineHandle is one live connection to the execution engine for one
// logical conversation. Handles are not safe for concurrent prompts; the
// session layer serializes turns.
type EngineHandle interface {
	// SubmitPrompt sends a user prompt and returns the lazy unit sequence of
	// the engine's response, terminated by a TerminalUnit.
	SubmitPrompt(ctx context.Context, text string) (ContentStream, error)

	// SetModel switches the model used for subsequent prompts on this handle.
	SetModel(ctx context.Context, model string) error

	// SessionToken returns the opaque resumption token for this connection,
	// or "" when the engine does not support resumption.
	SessionToken() string

	// Disconnect releases engine-side resources. Idempotent.
	Disconnect(ctx context.Context) error
}

// Engine is the agent execution engine collaborator. Implementations adapt a
// concrete provider (Anthropic, OpenAI, a scripted fake) behind this minimal
// surface.
type Engine interface {
	Connect(ctx context.Context, cfg EngineConfig) (EngineHandle, error)
}

// Capability describes one tool/integration capability active for a user at
// session start. Capability sets are fetched fresh per session and never
// cached across sessions.
type Capability struct {
	Name         string   `json:"name"`
	Tools        []string `json:"tools,omitempty"`
	Instructions string   `json:"instructions,omitempty"`
}

// CapabilitySource supplies the currently active capability set.
type CapabilitySource interface {
	ActiveCapabilities(ctx context.Context) ([]Capability, error)
}

// ContextResolver resolves a linked external context (a project, document or
// workspace the conversation is attached to) into a prompt block. Resolution
// happens once, synchronously, before the engine binding connects.
type ContextResolver interface {
	ResolveContext(ctx context.Context, contextID string) (string, error)
}
