// Package openai provides an execution-engine adapter for the OpenAI Chat
// Completions API with true streaming: text arrives as per-chunk deltas and
// tool-call deltas are aggregated until complete, then executed through the
// configured ToolHandler and fed back in an engine-side loop until the model
// stops.
package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/openai/openai-go"
	"github.com/parleyhq/parley/core"
)

// ToolHandler executes one engine-side tool invocation.
type ToolHandler func(ctx context.Context, name string, input json.RawMessage) (json.RawMessage, error)

// ToolDefinition declaratively exposes a callable tool to the model.
type ToolDefinition struct {
	Name        string
	Description string
	Parameters  map[string]interface{}
}

// aggCall aggregates partial tool call streaming deltas (id, name, arguments)
// allowing reconstruction of complete invocations when the finish reason is
// emitted. Internal helper (unexported).
type aggCall struct{ id, name, args string }

// Options configures the OpenAI engine adapter.
type Options struct {
	DefaultModel        string
	Temperature         float64
	MaxCompletionTokens int64
	Tools               []ToolDefinition
	ToolHandler         ToolHandler
	MaxToolRounds       int
}

// Engine adapts the OpenAI client to the core.Engine interface.
type Engine struct {
	client *openai.Client
	opts   Options
}

// New creates a new OpenAI engine using the official client.
func New(optFns ...func(o *Options)) *Engine {
	client := openai.NewClient()
	return NewFromClient(&client, optFns...)
}

// NewFromClient creates a new OpenAI engine from an existing client.
func NewFromClient(client *openai.Client, optFns ...func(o *Options)) *Engine {
	opts := Options{
		DefaultModel:        openai.ChatModelGPT4oMini,
		Temperature:         0.7,
		MaxCompletionTokens: 4096,
		MaxToolRounds:       8,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Engine{client: client, opts: opts}
}

// Connect establishes a handle for one conversation.
func (e *Engine) Connect(_ context.Context, cfg core.EngineConfig) (core.EngineHandle, error) {
	model := cfg.Model
	if model == "" || model == "default" {
		model = e.opts.DefaultModel
	}

	token := cfg.ResumeToken
	if token == "" {
		token = core.NewID()
	}

	h := &handle{
		engine: e,
		model:  model,
		tools:  filterTools(e.opts.Tools, cfg.AllowedTools),
		token:  token,
	}
	if cfg.SystemPrompt != "" {
		h.history = append(h.history, openai.SystemMessage(cfg.SystemPrompt))
	}
	return h, nil
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
	tools  []ToolDefinition
	token  string

	// mu guards model and history: the producer goroutine of an abandoned
	// stream may still be appending when the next prompt or a disconnect
	// arrives.
	mu      sync.Mutex
	model   string
	history []openai.ChatCompletionMessageParamUnion
}

// SubmitPrompt sends the prompt and streams the response as content units.
// The producer stops when ctx is cancelled, so a caller abandoning the
// stream cancels the context it submitted with.
func (h *handle) SubmitPrompt(ctx context.Context, text string) (core.ContentStream, error) {
	h.mu.Lock()
	h.history = append(h.history, openai.UserMessage(text))
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

		stream := h.engine.client.Chat.Completions.NewStreaming(ctx, h.buildParams())

		var (
			taskID       string
			text         string
			finishReason string
			toolAgg      = map[int64]*aggCall{}
			toolOrder    []int64
		)
		for stream.Next() {
			ck := stream.Current()
			if taskID == "" {
				taskID = ck.ID
			}
			for _, choice := range ck.Choices {
				if choice.Delta.Content != "" {
					text += choice.Delta.Content
					if !send(ctx, units, core.TextUnit{Text: choice.Delta.Content}) {
						return
					}
				}
				for _, tc := range choice.Delta.ToolCalls {
					ac, ok := toolAgg[tc.Index]
					if !ok {
						ac = &aggCall{}
						toolAgg[tc.Index] = ac
						toolOrder = append(toolOrder, tc.Index)
					}
					if tc.ID != "" {
						ac.id = tc.ID
					}
					if tc.Function.Name != "" {
						ac.name = tc.Function.Name
					}
					if tc.Function.Arguments != "" {
						ac.args += tc.Function.Arguments
					}
				}
				if choice.FinishReason != "" {
					finishReason = choice.FinishReason
				}
			}
		}
		if err := stream.Err(); err != nil {
			errs <- fmt.Errorf("openai streaming error: %w", err)
			return
		}

		h.appendAssistant(text, toolAgg, toolOrder)

		if finishReason != "tool_calls" || len(toolOrder) == 0 {
			send(ctx, units, core.TerminalUnit{TaskID: taskID, Success: true})
			return
		}

		for _, idx := range toolOrder {
			ac := toolAgg[idx]
			input := json.RawMessage(ac.args)
			if !send(ctx, units, core.ToolUseUnit{ID: ac.id, Name: ac.name, Input: input}) {
				return
			}
			output := h.runTool(ctx, ac.name, input)
			if !send(ctx, units, core.ToolResultUnit{ID: ac.id, Name: ac.name, Output: output}) {
				return
			}
			h.mu.Lock()
			h.history = append(h.history, openai.ToolMessage(string(output), ac.id))
			h.mu.Unlock()
		}
	}
}

func (h *handle) buildParams() openai.ChatCompletionNewParams {
	h.mu.Lock()
	messages := append([]openai.ChatCompletionMessageParamUnion(nil), h.history...)
	model := h.model
	h.mu.Unlock()
	params := openai.ChatCompletionNewParams{
		Messages:            messages,
		Model:               model,
		Temperature:         openai.Float(h.engine.opts.Temperature),
		MaxCompletionTokens: openai.Int(h.engine.opts.MaxCompletionTokens),
	}
	if len(h.tools) == 0 {
		return params
	}
	tools := make([]openai.ChatCompletionToolParam, len(h.tools))
	for i, tdef := range h.tools {
		tools[i] = openai.ChatCompletionToolParam{
			Type: "function",
			Function: openai.FunctionDefinitionParam{
				Name:        tdef.Name,
				Description: openai.String(tdef.Description),
				Parameters:  tdef.Parameters,
			},
		}
	}
	params.Tools = tools
	return params
}

func (h *handle) appendAssistant(text string, toolAgg map[int64]*aggCall, toolOrder []int64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(toolOrder) == 0 {
		h.history = append(h.history, openai.AssistantMessage(text))
		return
	}
	toolCalls := make([]openai.ChatCompletionMessageToolCallParam, 0, len(toolOrder))
	for _, idx := range toolOrder {
		ac := toolAgg[idx]
		toolCalls = append(toolCalls, openai.ChatCompletionMessageToolCallParam{
			ID:   ac.id,
			Type: "function",
			Function: openai.ChatCompletionMessageToolCallFunctionParam{
				Name:      ac.name,
				Arguments: ac.args,
			},
		})
	}
	h.history = append(h.history, openai.ChatCompletionMessageParamUnion{
		OfAssistant: &openai.ChatCompletionAssistantMessageParam{
			Role:      "assistant",
			ToolCalls: toolCalls,
		},
	})
}

func (h *handle) runTool(ctx context.Context, name string, input json.RawMessage) json.RawMessage {
	if h.engine.opts.ToolHandler == nil {
		return json.RawMessage(`"tool execution is not configured"`)
	}
	output, err := h.engine.opts.ToolHandler(ctx, name, input)
	if err != nil {
		msg, _ := json.Marshal(err.Error())
		return msg
	}
	return output
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
	h.model = model
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
