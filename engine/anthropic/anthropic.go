// Package anthropic provides an execution-engine adapter for the Anthropic
// Messages API. Each handle keeps the provider-side message history for one
// conversation and runs the engine-side tool loop: tool_use blocks returned
// by the model are executed through the configured ToolHandler and their
// results fed back until the model stops, surfacing every step as a
// normalized content unit.
package anthropic

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/shared/constant"
	"github.com/parleyhq/parley/core"
)

// ToolHandler executes one engine-side tool invocation.
type ToolHandler func(ctx context.Context, name string, input json.RawMessage) (json.RawMessage, error)

// ToolDefinition declaratively exposes a callable tool to the model.
// Parameters is a JSON Schema object (minimal subset expected).
type ToolDefinition struct {
	Name        string
	Description string
	Parameters  map[string]interface{}
}

// Options configures the Anthropic engine adapter.
type Options struct {
	DefaultModel  anthropic.Model
	Temperature   float64
	MaxTokens     int64
	APIKey        string
	Tools         []ToolDefinition
	ToolHandler   ToolHandler
	MaxToolRounds int
}

// Engine adapts the Anthropic client to the core.Engine interface.
type Engine struct {
	client *anthropic.Client
	opts   Options
}

// New creates a new Anthropic engine using the official client.
func New(optFns ...func(o *Options)) *Engine {
	opts := defaultOptions(optFns)

	var clientOpts []option.RequestOption
	if opts.APIKey != "" {
		clientOpts = append(clientOpts, option.WithAPIKey(opts.APIKey))
	}
	client := anthropic.NewClient(clientOpts...)

	return &Engine{client: &client, opts: opts}
}

// NewFromClient creates a new Anthropic engine from an existing client.
func NewFromClient(client *anthropic.Client, optFns ...func(o *Options)) *Engine {
	return &Engine{client: client, opts: defaultOptions(optFns)}
}

func defaultOptions(optFns []func(o *Options)) Options {
	opts := Options{
		DefaultModel:  anthropic.ModelClaude3_5Sonnet20241022,
		Temperature:   0.7,
		MaxTokens:     4096,
		MaxToolRounds: 8,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return opts
}

// Connect establishes a handle for one conversation. The tool set is the
// adapter's tool definitions filtered by the config's allow-list (an empty
// allow-list permits all configured tools).
func (e *Engine) Connect(_ context.Context, cfg core.EngineConfig) (core.EngineHandle, error) {
	model := anthropic.Model(cfg.Model)
	if cfg.Model == "" || cfg.Model == "default" {
		model = e.opts.DefaultModel
	}

	token := cfg.ResumeToken
	if token == "" {
		token = core.NewID()
	}

	return &handle{
		engine: e,
		model:  model,
		system: cfg.SystemPrompt,
		tools:  filterTools(e.opts.Tools, cfg.AllowedTools),
		token:  token,
	}, nil
}

func filterTools(tools []ToolDefinition, allowed []string) []ToolDefinition {
	if len(allowed) == 0 {
		return tools
	}
	allow := make(map[string]bool, len(allowed))
	for _, name := range allowed {
		allow[name] = true
	}
	var res []ToolDefinition
	for _, t := range tools {
		if allow[t.Name] {
			res = append(res, t)
		}
	}
	return res
}

type handle struct {
	engine *Engine
	system string
	tools  []ToolDefinition
	token  string

	// mu guards model and history: the producer goroutine of an abandoned
	// stream may still be appending when the next prompt or a disconnect
	// arrives.
	mu      sync.Mutex
	model   anthropic.Model
	history []anthropic.MessageParam
}

// SubmitPrompt sends the prompt and returns the lazy unit sequence of the
// response, including tool execution rounds. The producer stops when ctx is
// cancelled, so a caller abandoning the stream cancels the context it
// submitted with.
func (h *handle) SubmitPrompt(ctx context.Context, text string) (core.ContentStream, error) {
	h.mu.Lock()
	h.history = append(h.history, anthropic.NewUserMessage(anthropic.NewTextBlock(text)))
	h.mu.Unlock()

	units := make(chan core.Unit, 32)
	errs := make(chan error, 1)

	go func() {
		defer close(units)
		h.run(ctx, units, errs)
	}()

	return core.StreamFromChannels(units, errs), nil
}

func (h *handle) run(ctx context.Context, units chan<- core.Unit, errs chan<- error) {
	for round := 0; ; round++ {
		if round >= h.engine.opts.MaxToolRounds {
			send(ctx, units, core.TerminalUnit{Success: false, ErrorMessage: "tool round limit exceeded"})
			return
		}

		h.mu.Lock()
		params := anthropic.MessageNewParams{
			Model:       h.model,
			Messages:    append([]anthropic.MessageParam(nil), h.history...),
			MaxTokens:   h.engine.opts.MaxTokens,
			Temperature: anthropic.Float(h.engine.opts.Temperature),
		}
		h.mu.Unlock()
		if h.system != "" {
			params.System = []anthropic.TextBlockParam{{Text: h.system}}
		}
		if len(h.tools) > 0 {
			params.Tools = buildTools(h.tools)
		}

		resp, err := h.engine.client.Messages.New(ctx, params)
		if err != nil {
			errs <- fmt.Errorf("anthropic api error: %w", err)
			return
		}

		h.mu.Lock()
		h.history = append(h.history, resp.ToParam())
		h.mu.Unlock()

		type pendingCall struct {
			id    string
			name  string
			input json.RawMessage
		}
		var calls []pendingCall

		for _, block := range resp.Content {
			switch block.Type {
			case "text":
				textBlock := block.AsText()
				if textBlock.Text != "" {
					if !send(ctx, units, core.TextUnit{Text: textBlock.Text}) {
						return
					}
				}
			case "tool_use":
				toolBlock := block.AsToolUse()
				var input json.RawMessage
				if toolBlock.Input != nil {
					if b, err := json.Marshal(toolBlock.Input); err == nil {
						input = b
					}
				}
				if !send(ctx, units, core.ToolUseUnit{ID: toolBlock.ID, Name: toolBlock.Name, Input: input}) {
					return
				}
				calls = append(calls, pendingCall{id: toolBlock.ID, name: toolBlock.Name, input: input})
			}
		}

		if resp.StopReason != "tool_use" || len(calls) == 0 {
			send(ctx, units, core.TerminalUnit{TaskID: resp.ID, Success: true})
			return
		}

		var results []anthropic.ContentBlockParamUnion
		for _, call := range calls {
			output, isErr := h.runTool(ctx, call.name, call.input)
			if !send(ctx, units, core.ToolResultUnit{ID: call.id, Name: call.name, Output: output}) {
				return
			}
			results = append(results, anthropic.NewToolResultBlock(call.id, string(output), isErr))
		}
		h.mu.Lock()
		h.history = append(h.history, anthropic.NewUserMessage(results...))
		h.mu.Unlock()
	}
}

func (h *handle) runTool(ctx context.Context, name string, input json.RawMessage) (json.RawMessage, bool) {
	if h.engine.opts.ToolHandler == nil {
		return json.RawMessage(`"tool execution is not configured"`), true
	}
	output, err := h.engine.opts.ToolHandler(ctx, name, input)
	if err != nil {
		msg, _ := json.Marshal(err.Error())
		return msg, true
	}
	return output, false
}

func send(ctx context.Context, units chan<- core.Unit, u core.Unit) bool {
	select {
	case <-ctx.Done():
		return false
	case units <- u:
		return true
	}
}

// SetModel switches the model for subsequent prompts.
func (h *handle) SetModel(_ context.Context, model string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.model = anthropic.Model(model)
	return nil
}

// SessionToken returns the resumption token for this handle.
func (h *handle) SessionToken() string { return h.token }

// Disconnect drops the provider-side message history. Idempotent.
func (h *handle) Disconnect(context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.history = nil
	return nil
}

func buildTools(tools []ToolDefinition) []anthropic.ToolUnionParam {
	res := make([]anthropic.ToolUnionParam, len(tools))
	for i, tool := range tools {
		inputSchema := anthropic.ToolInputSchemaParam{
			Type: constant.Object("object"),
		}
		if tool.Parameters != nil {
			if properties, exists := tool.Parameters["properties"]; exists {
				inputSchema.Properties = properties
			}
			if required, exists := tool.Parameters["required"]; exists {
				if reqSlice, ok := required.([]string); ok {
					inputSchema.Required = reqSlice
				} else if reqInterface, ok := required.([]interface{}); ok {
					var reqStrings []string
					for _, r := range reqInterface {
						if s, ok := r.(string); ok {
							reqStrings = append(reqStrings, s)
						}
					}
					inputSchema.Required = reqStrings
				}
			}
		}
		res[i] = anthropic.ToolUnionParamOfTool(inputSchema, tool.Name)
	}
	return res
}
