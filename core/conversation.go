package core

import (
	"encoding/json"
	"time"

	"github.com/parleyhq/parley/metrics"
)

// Role identifies the author of a turn.
type Role string

// Turn roles.
const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Outcome is the terminal disposition of an exchange.
type Outcome string

// Exchange outcomes.
const (
	OutcomeCompleted Outcome = "completed"
	OutcomeCancelled Outcome = "cancelled"
	OutcomeFailed    Outcome = "failed"
)

// ToolCallStatus tracks the lifecycle of a single tool invocation.
type ToolCallStatus string

// Tool call statuses.
const (
	ToolCallRunning   ToolCallStatus = "running"
	ToolCallCompleted ToolCallStatus = "completed"
	ToolCallError     ToolCallStatus = "error"
)

// Identity binds a conversation to one open channel. It is created when a
// session starts or resumes, is immutable for the conversation's lifetime,
// and is detached (not deleted) when the channel closes.
type Identity struct {
	ConversationID  string `json:"conversation_id"`
	ChannelID       string `json:"channel_id"`
	SessionToken    string `json:"session_token,omitempty"`
	LinkedContextID string `json:"linked_context_id,omitempty"`
}

// ToolCallRecord captures one tool invocation within an assistant turn.
// CallID is unique within the turn and is the sole correlation key between a
// tool-use event and its eventual result.
type ToolCallRecord struct {
	CallID string          `json:"call_id"`
	Name   string          `json:"name"`
	Input  json.RawMessage `json:"input,omitempty"`
	Output json.RawMessage `json:"output,omitempty"`
	Status ToolCallStatus  `json:"status"`
}

// TurnMeta carries per-turn metadata persisted alongside the content.
// Metrics is only populated on assistant turns, after the exchange has been
// finalized.
type TurnMeta struct {
	Model     string           `json:"model,omitempty"`
	Outcome   Outcome          `json:"outcome,omitempty"`
	ToolCalls []ToolCallRecord `json:"tool_calls,omitempty"`
	Metrics   *metrics.Report  `json:"metrics,omitempty"`
}

// Turn is one user message or one assistant reply within a conversation.
// Exactly one user turn and one assistant turn are persisted per completed
// exchange; an in-flight assistant reply has no record until the exchange
// reaches a terminal outcome.
type Turn struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	Role           Role      `json:"role"`
	Content        string    `json:"content"`
	Meta           TurnMeta  `json:"meta"`
	CreatedAt      time.Time `json:"created_at"`
}

// Conversation is the persisted conversation record with its aggregate
// counters. MessageCount and Model are updated after every completed
// exchange; Active reflects whether a channel is currently attached.
type Conversation struct {
	ID              string    `json:"id"`
	Title           string    `json:"title,omitempty"`
	Model           string    `json:"model,omitempty"`
	MessageCount    int       `json:"message_count"`
	Active          bool      `json:"active"`
	LinkedContextID string    `json:"linked_context_id,omitempty"`
	Created         time.Time `json:"created"`
	Updated         time.Time `json:"updated"`
}
