// Package registry maps channel identifiers to conversation sessions and
// owns the connect/disconnect lifecycle: one session is bound to at most one
// open channel at a time, resumption is attempted before fresh starts (and
// never silently falls back), and channel close ends the bound session.
package registry

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/parleyhq/parley/core"
	"github.com/parleyhq/parley/logging"
	"github.com/parleyhq/parley/session"
)

// Channel is one open client connection. The transport is assumed to
// deliver discrete, ordered, typed messages in both directions; Send must be
// safe for concurrent use because background tasks (title updates) emit
// while a turn may be streaming.
type Channel interface {
	ID() string
	Send(ev core.ServerEvent) error
	Close() error
}

// Options holds dependency + configuration overrides passed to New().
type Options struct {
	// SessionOptions is applied to every session the registry creates.
	SessionOptions func(o *session.Options)
	// Logger receives registry diagnostics.
	Logger logging.Logger
}

type entry struct {
	ch   Channel
	sess *session.Session
}

// Registry multiplexes many independent sessions over one process. Sessions
// share no mutable state; the only synchronization is the channel map.
type Registry struct {
	engine      core.Engine
	sessionOpts func(o *session.Options)
	logger      logging.Logger

	mu       sync.RWMutex
	channels map[string]*entry
}

// New constructs a Registry bound to an execution engine.
func New(engine core.Engine, optFns ...func(o *Options)) *Registry {
	opts := Options{Logger: logging.NoOpLogger{}}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Registry{
		engine:      engine,
		sessionOpts: opts.SessionOptions,
		logger:      opts.Logger,
		channels:    make(map[string]*entry),
	}
}

// Open attaches a session to a freshly opened channel. With a non-empty
// resumeConversationID resumption is attempted; if it fails the failure is
// surfaced to the client and the channel is closed rather than silently
// starting a new conversation. Otherwise a fresh session is started,
// optionally linked to an external context. The init event is sent before
// Open returns.
func (r *Registry) Open(ctx context.Context, ch Channel, resumeConversationID, linkedContextID string) (*session.Session, error) {
	r.mu.RLock()
	_, exists := r.channels[ch.ID()]
	r.mu.RUnlock()
	if exists {
		return nil, fmt.Errorf("channel %s already open", ch.ID())
	}

	sessOpts := func(o *session.Options) {
		if r.sessionOpts != nil {
			r.sessionOpts(o)
		}
		if o.Logger == nil {
			o.Logger = r.logger
		}
	}

	var (
		sess    *session.Session
		err     error
		resumed bool
	)
	if resumeConversationID != "" {
		sess, err = session.Resume(ctx, r.engine, ch.ID(), resumeConversationID, ch.Send, sessOpts)
		resumed = true
	} else {
		sess, err = session.Start(ctx, r.engine, ch.ID(), linkedContextID, ch.Send, sessOpts)
	}
	if err != nil {
		r.logger.Error("session attach failed", "channel_id", ch.ID(), "resumed", resumed, "error", err)
		_ = ch.Send(core.NewErrorEvent(err.Error()))
		_ = ch.Close()
		return nil, err
	}

	r.mu.Lock()
	if _, dup := r.channels[ch.ID()]; dup {
		r.mu.Unlock()
		_ = sess.End(ctx)
		_ = ch.Close()
		return nil, fmt.Errorf("channel %s already open", ch.ID())
	}
	r.channels[ch.ID()] = &entry{ch: ch, sess: sess}
	r.mu.Unlock()

	identity := sess.Identity()
	if err := ch.Send(core.NewInitEvent(identity.ConversationID, resumed, sess.History())); err != nil {
		r.logger.Warn("init event not delivered", "channel_id", ch.ID(), "error", err)
	}

	return sess, nil
}

// HandleMessage dispatches one client message for the given channel. A
// "message" runs the turn on its own goroutine so a subsequent "cancel" can
// be processed while the turn streams; a turn rejected by the Idle gate is
// surfaced to the client as an error event.
func (r *Registry) HandleMessage(ctx context.Context, channelID string, msg core.ClientMessage) error {
	r.mu.RLock()
	e, ok := r.channels[channelID]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("channel %s not open", channelID)
	}

	switch msg.Type {
	case core.ClientTypeMessage:
		turnCtx := context.WithoutCancel(ctx)
		go func() {
			if err := e.sess.SendTurn(turnCtx, msg.Content, msg.Model); err != nil {
				var ise *core.InvalidStateError
				if errors.As(err, &ise) {
					_ = e.ch.Send(core.NewErrorEvent(ise.Error()))
					return
				}
				r.logger.Error("turn dispatch failed", "channel_id", channelID, "error", err)
			}
		}()
		return nil

	case core.ClientTypeCancel:
		e.sess.RequestCancel()
		return nil

	default:
		return fmt.Errorf("unknown message type %q", msg.Type)
	}
}

// CloseChannel detaches and ends the session bound to channelID. Called for
// both orderly and abnormal disconnects; the conversation and its turns are
// kept, only the engine binding is released and the conversation is marked
// inactive. Idempotent.
func (r *Registry) CloseChannel(ctx context.Context, channelID string) error {
	r.mu.Lock()
	e, ok := r.channels[channelID]
	delete(r.channels, channelID)
	r.mu.Unlock()
	if !ok {
		return nil
	}

	err := e.sess.End(ctx)
	if cerr := e.ch.Close(); cerr != nil && err == nil {
		err = cerr
	}
	return err
}

// Session returns the session bound to channelID.
func (r *Registry) Session(channelID string) (*session.Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.channels[channelID]
	if !ok {
		return nil, false
	}
	return e.sess, true
}

// Len returns the number of open channels.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.channels)
}
