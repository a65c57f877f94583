// Package parley provides a high-level façade over the session registry and
// its collaborator abstractions (execution engine, conversation store, title
// service and logging), enabling rapid construction of multiplexed,
// resumable, cancellable conversational streaming backends. Most
// applications interact with this package by:
//  1. Creating a Parley via New() with a concrete engine (optionally
//     overriding the default in-memory store and NoOp logger)
//  2. Opening a channel per client connection (Open), fresh or resumed
//  3. Forwarding client messages (HandleMessage) and closing channels on
//     disconnect (CloseChannel)
//
// The façade delegates lifecycle and fan-out to registry.Registry while
// keeping setup ergonomics concise. All defaults are safe for local
// development and testing; production deployments typically supply a durable
// store implementation and a structured logger.
package parley

import (
	"context"

	"github.com/parleyhq/parley/core"
	"github.com/parleyhq/parley/logging"
	"github.com/parleyhq/parley/registry"
	"github.com/parleyhq/parley/session"
	"github.com/parleyhq/parley/store"
)

// Options configures the Parley instance.
type Options struct {
	// Store persists conversations and turns (defaults to in-memory).
	Store core.ConversationStore
	// Titler generates conversation titles after the first exchange. Optional.
	Titler core.TitleService
	// ContextResolver resolves linked external contexts. Optional.
	ContextResolver core.ContextResolver
	// Capabilities supplies the active tool/integration set, fetched fresh
	// per session. Optional.
	Capabilities core.CapabilitySource
	// BaseInstructions overrides the default system instruction set.
	BaseInstructions string
	// Integrations lists integration identifiers enabled for new sessions.
	Integrations []string
	// DefaultModel is used when the client does not request a model.
	DefaultModel string
	// HistoryLimit bounds the turns replayed during resumption (default 10).
	HistoryLimit int
	// Logger (defaults to NoOp logger if nil).
	Logger logging.Logger
}

// Parley is the high-level façade aggregating the registry and services.
type Parley struct {
	opts     Options
	registry *registry.Registry
}

// New creates a new Parley instance bound to an execution engine. Any unset
// service defaults to a safe local implementation.
func New(engine core.Engine, optFns ...func(o *Options)) *Parley {
	opts := Options{
		Store:  store.NewInMemoryStore(),
		Logger: logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	reg := registry.New(engine, func(o *registry.Options) {
		o.Logger = opts.Logger
		o.SessionOptions = func(so *session.Options) {
			so.Store = opts.Store
			so.Titler = opts.Titler
			so.ContextResolver = opts.ContextResolver
			so.Capabilities = opts.Capabilities
			so.BaseInstructions = opts.BaseInstructions
			so.Integrations = opts.Integrations
			so.DefaultModel = opts.DefaultModel
			so.HistoryLimit = opts.HistoryLimit
			so.Logger = opts.Logger
		}
	})

	return &Parley{opts: opts, registry: reg}
}

// Open attaches a session to a freshly opened channel. A non-empty
// resumeConversationID resumes that conversation (failures close the channel
// rather than silently starting fresh); otherwise a new conversation is
// started, optionally linked to an external context.
func (p *Parley) Open(ctx context.Context, ch registry.Channel, resumeConversationID, linkedContextID string) (*session.Session, error) {
	return p.registry.Open(ctx, ch, resumeConversationID, linkedContextID)
}

// HandleMessage dispatches one client message for the given channel.
func (p *Parley) HandleMessage(ctx context.Context, channelID string, msg core.ClientMessage) error {
	return p.registry.HandleMessage(ctx, channelID, msg)
}

// CloseChannel ends the session bound to channelID and releases its engine
// connection. Called for both orderly and abnormal disconnects.
func (p *Parley) CloseChannel(ctx context.Context, channelID string) error {
	return p.registry.CloseChannel(ctx, channelID)
}

// Registry exposes the underlying session registry.
func (p *Parley) Registry() *registry.Registry { return p.registry }
