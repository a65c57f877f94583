package session

import (
	"context"
	"time"

	"github.com/parleyhq/parley/core"
)

// titleTimeout bounds the background title generation request so a stalled
// title service cannot hold resources indefinitely.
const titleTimeout = 30 * time.Second

// maybeAnnounceTitle schedules background title generation after the first
// completed exchange of a conversation that has no title yet. The task runs
// on its own goroutine with its own error boundary: any failure only logs
// and never touches the session's state machine.
func (s *Session) maybeAnnounceTitle(userText, assistantText string) {
	if s.opts.Titler == nil {
		return
	}
	s.mu.Lock()
	if s.titleRequested {
		s.mu.Unlock()
		return
	}
	s.titleRequested = true
	s.mu.Unlock()

	s.titleWG.Add(1)
	go func() {
		defer s.titleWG.Done()
		ctx, cancel := context.WithTimeout(context.Background(), titleTimeout)
		defer cancel()

		title, err := s.opts.Titler.GenerateTitle(ctx, userText, assistantText)
		if err != nil {
			s.opts.Logger.Warn("title generation failed", "conversation_id", s.identity.ConversationID, "error", err)
			return
		}
		if title == "" {
			return
		}

		if err := s.emit(core.NewTitleUpdateEvent(s.identity.ConversationID, title)); err != nil {
			s.opts.Logger.Debug("title update not delivered", "conversation_id", s.identity.ConversationID, "error", err)
		}
		if err := s.opts.Store.UpdateConversation(ctx, s.identity.ConversationID, core.ConversationPatch{Title: &title}); err != nil {
			s.opts.Logger.Warn("title not persisted", "conversation_id", s.identity.ConversationID, "error", err)
		}
	}()
}

// waitForTitle blocks until any scheduled title task finishes. Test helper.
func (s *Session) waitForTitle() { s.titleWG.Wait() }
