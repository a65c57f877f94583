// Package binding owns one connection to the agent execution engine for one
// logical conversation. It assembles the engine configuration (base
// instructions, linked-context block, the fresh capability set), issues
// prompts and exposes the engine's lazy content-unit sequence. One Binding
// serves exactly one session; the session layer serializes prompts.
package binding

import (
	"context"
	"fmt"
	"strings"

	"github.com/parleyhq/parley/core"
	"github.com/parleyhq/parley/internal/util"
	"github.com/parleyhq/parley/logging"
)

// DefaultInstructions is the base instruction set used when no override is
// supplied.
const DefaultInstructions = "You are a helpful assistant. Answer concisely and use the available tools when they help."

const contextBlockTemplate = `

## Linked context

The conversation is attached to the following context. Use it to ground your answers.

{{.Context}}`

const primingTemplate = `This conversation is being resumed. The prior exchanges are replayed below to restore your context. Do not answer them again.

{{range .Turns}}[{{.Role}}] {{.Content}}
{{end}}
Reply with a brief acknowledgement that context has been restored.`

// Options holds dependency + configuration overrides passed to Connect().
type Options struct {
	// BaseInstructions is the instruction set prepended to every system prompt.
	BaseInstructions string
	// Integrations lists integration identifiers enabled for the conversation.
	Integrations []string
	// ContextResolver resolves a linked external context into a prompt block.
	ContextResolver core.ContextResolver
	// Capabilities supplies the active tool/integration capability set.
	// It is queried fresh on every Connect; capability sets are never cached
	// across sessions.
	Capabilities core.CapabilitySource
	// ResumeToken re-attaches to a previous engine-side session when set.
	ResumeToken string
	// Logger receives binding diagnostics.
	Logger logging.Logger
}

// Binding is one live engine connection bound to a conversation.
type Binding struct {
	handle core.EngineHandle
	model  string
	logger logging.Logger
}

// Connect resolves the linked context, fetches the active capability set,
// assembles the engine configuration and establishes the engine connection.
// A context-resolution failure degrades to a prompt without the context
// block; a capability-fetch failure aborts the connect since the tool
// allow-list would be undefined.
func Connect(ctx context.Context, engine core.Engine, model, linkedContextID string, optFns ...func(o *Options)) (*Binding, error) {
	opts := Options{
		BaseInstructions: DefaultInstructions,
		Logger:           logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	cfg := core.EngineConfig{
		Model:        model,
		Integrations: opts.Integrations,
		ResumeToken:  opts.ResumeToken,
	}

	prompt := strings.TrimSpace(opts.BaseInstructions)

	if opts.Capabilities != nil {
		caps, err := opts.Capabilities.ActiveCapabilities(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch active capabilities: %w", err)
		}
		for _, c := range caps {
			cfg.AllowedTools = append(cfg.AllowedTools, c.Tools...)
			if c.Instructions != "" {
				prompt += "\n\n" + c.Instructions
			}
		}
	}

	if linkedContextID != "" && opts.ContextResolver != nil {
		block, err := opts.ContextResolver.ResolveContext(ctx, linkedContextID)
		if err != nil {
			opts.Logger.Warn("linked context resolution failed, continuing without it", "context_id", linkedContextID, "error", err)
		} else if block != "" {
			rendered, err := util.RenderTemplate(contextBlockTemplate, map[string]any{"Context": block})
			if err != nil {
				return nil, fmt.Errorf("failed to render context block: %w", err)
			}
			prompt += rendered
		}
	}

	cfg.SystemPrompt = prompt

	handle, err := engine.Connect(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("engine connect failed: %w", err)
	}

	return &Binding{handle: handle, model: model, logger: opts.Logger}, nil
}

// Prompt submits a user prompt and returns the engine's content-unit stream.
func (b *Binding) Prompt(ctx context.Context, text string) (core.ContentStream, error) {
	return b.handle.SubmitPrompt(ctx, text)
}

// SetModel switches the model for subsequent prompts on this connection.
func (b *Binding) SetModel(ctx context.Context, model string) error {
	if err := b.handle.SetModel(ctx, model); err != nil {
		return err
	}
	b.model = model
	return nil
}

// Model returns the model currently active on the connection.
func (b *Binding) Model() string { return b.model }

// SessionToken returns the engine's resumption token, or "" when resumption
// is unsupported.
func (b *Binding) SessionToken() string { return b.handle.SessionToken() }

// Prime replays prior turns into the engine as one synthetic prompt whose
// response is consumed and discarded. It re-establishes engine-side context
// during resumption without emitting anything to the client.
func (b *Binding) Prime(ctx context.Context, turns []*core.Turn) error {
	if len(turns) == 0 {
		return nil
	}
	// Releases the engine-side producer if the replay is abandoned early.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	prompt, err := util.RenderTemplate(primingTemplate, map[string]any{"Turns": turns})
	if err != nil {
		return fmt.Errorf("failed to render priming prompt: %w", err)
	}
	stream, err := b.handle.SubmitPrompt(ctx, prompt)
	if err != nil {
		return fmt.Errorf("priming prompt failed: %w", err)
	}
	if err := core.DrainStream(ctx, stream); err != nil {
		return fmt.Errorf("priming replay failed: %w", err)
	}
	b.logger.Debug("priming replay complete", "turns", len(turns))
	return nil
}

// Disconnect releases the engine connection. Idempotent.
func (b *Binding) Disconnect(ctx context.Context) error {
	return b.handle.Disconnect(ctx)
}
