package core

import "context"

// ConversationPatch carries the optional fields accepted by
// UpdateConversation. Nil fields are left untouched.
type ConversationPatch struct {
	Title        *string
	Model        *string
	MessageCount *int
	Active       *bool
}

// ConversationStore persists conversations and their turns. Implementations
// are treated as idempotent-on-retry collaborators with no transactional
// coupling to the streaming path: a write failure after a delivered stream
// never rolls the stream back.
type ConversationStore interface {
	// CreateConversation persists a new conversation record. The caller
	// assigns the id.
	CreateConversation(ctx context.Context, conv *Conversation) error

	// GetConversation returns the conversation or (nil, nil) when the id is
	// unknown.
	GetConversation(ctx context.Context, id string) (*Conversation, error)

	// CreateTurn persists a turn and returns its id (assigning one when the
	// turn carries none).
	CreateTurn(ctx context.Context, turn *Turn) (string, error)

	// UpdateConversation applies a partial update to the conversation record.
	UpdateConversation(ctx context.Context, id string, patch ConversationPatch) error

	// ListRecentTurns returns up to limit most recent turns in chronological
	// order (oldest first).
	ListRecentTurns(ctx context.Context, conversationID string, limit int) ([]*Turn, error)
}
