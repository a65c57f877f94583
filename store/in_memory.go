// Package store houses concrete implementations of core.ConversationStore.
// The interface itself lives in the core package to centralize domain
// contracts; keeping only implementations here prevents higher level
// packages (session, registry) from depending on concrete storage.
//
// Add additional backends in sub-packages (see sqlite) without changing any
// calling code – only the wiring layer decides which implementation to
// instantiate.
package store

import (
	"context"
	"sync"
	"time"

	"github.com/parleyhq/parley/core"
)

// InMemoryStore is a volatile ConversationStore implementation storing
// records in process local maps. It is safe for concurrent access and best
// suited for tests or ephemeral demo servers. Returned records are cloned to
// prevent external mutation of internal state.
type InMemoryStore struct {
	mu            sync.RWMutex
	conversations map[string]*core.Conversation
	turns         map[string][]*core.Turn // conversation id -> turns, append order
}

// NewInMemoryStore constructs an empty in-memory conversation store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		conversations: make(map[string]*core.Conversation),
		turns:         make(map[string][]*core.Turn),
	}
}

// CreateConversation stores a clone of the provided conversation record.
func (s *InMemoryStore) CreateConversation(_ context.Context, conv *core.Conversation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := *conv
	s.conversations[conv.ID] = &c
	return nil
}

// GetConversation returns a clone of the conversation or (nil, nil) when the
// id is unknown.
func (s *InMemoryStore) GetConversation(_ context.Context, id string) (*core.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	conv, ok := s.conversations[id]
	if !ok {
		return nil, nil
	}
	c := *conv
	return &c, nil
}

// CreateTurn appends a turn to the conversation history, assigning an id
// when the turn carries none.
func (s *InMemoryStore) CreateTurn(_ context.Context, turn *core.Turn) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := *turn
	if t.ID == "" {
		t.ID = core.NewID()
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now()
	}
	s.turns[t.ConversationID] = append(s.turns[t.ConversationID], &t)
	return t.ID, nil
}

// UpdateConversation applies the non-nil patch fields to the record. Unknown
// ids are ignored (idempotent-on-retry collaborator contract).
func (s *InMemoryStore) UpdateConversation(_ context.Context, id string, patch core.ConversationPatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.conversations[id]
	if !ok {
		return nil
	}
	if patch.Title != nil {
		conv.Title = *patch.Title
	}
	if patch.Model != nil {
		conv.Model = *patch.Model
	}
	if patch.MessageCount != nil {
		conv.MessageCount = *patch.MessageCount
	}
	if patch.Active != nil {
		conv.Active = *patch.Active
	}
	conv.Updated = time.Now()
	return nil
}

// ListRecentTurns returns up to limit most recent turns in chronological
// order (oldest first), cloned.
func (s *InMemoryStore) ListRecentTurns(_ context.Context, conversationID string, limit int) ([]*core.Turn, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	all := s.turns[conversationID]
	if limit > 0 && len(all) > limit {
		all = all[len(all)-limit:]
	}
	res := make([]*core.Turn, 0, len(all))
	for _, t := range all {
		c := *t
		res = append(res, &c)
	}
	return res, nil
}
