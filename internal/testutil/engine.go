package testutil

import (
	"context"
	"io"
	"sync"

	"github.com/parleyhq/parley/core"
)

// script is one canned engine response: its units are yielded in order, then
// err (if any) is surfaced instead of exhaustion.
type script struct {
	units []core.Unit
	err   error
}

// ScriptedEngine is a core.Engine whose responses are scripted in FIFO
// order. When the queue is empty a minimal successful response is produced.
// Connects and per-handle prompts are recorded for assertions.
type ScriptedEngine struct {
	mu       sync.Mutex
	queue    []script
	configs  []core.EngineConfig
	handles  []*ScriptedHandle
	connects int

	// ConnectErr, when set, fails the next Connect.
	ConnectErr error
}

// NewScriptedEngine constructs an empty scripted engine.
func NewScriptedEngine() *ScriptedEngine { return &ScriptedEngine{} }

// Enqueue appends one canned response.
func (e *ScriptedEngine) Enqueue(units ...core.Unit) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.queue = append(e.queue, script{units: units})
}

// EnqueueFailure appends a response that yields units then fails with err.
func (e *ScriptedEngine) EnqueueFailure(err error, units ...core.Unit) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.queue = append(e.queue, script{units: units, err: err})
}

// Connect implements core.Engine.
func (e *ScriptedEngine) Connect(_ context.Context, cfg core.EngineConfig) (core.EngineHandle, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.ConnectErr != nil {
		err := e.ConnectErr
		e.ConnectErr = nil
		return nil, err
	}
	e.connects++
	e.configs = append(e.configs, cfg)
	token := cfg.ResumeToken
	if token == "" {
		token = core.NewID()
	}
	h := &ScriptedHandle{engine: e, model: cfg.Model, token: token}
	e.handles = append(e.handles, h)
	return h, nil
}

// Configs returns the engine configurations passed to Connect, in order.
func (e *ScriptedEngine) Configs() []core.EngineConfig {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]core.EngineConfig(nil), e.configs...)
}

// Handles returns the handles issued so far.
func (e *ScriptedEngine) Handles() []*ScriptedHandle {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]*ScriptedHandle(nil), e.handles...)
}

func (e *ScriptedEngine) pop() script {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.queue) == 0 {
		return script{units: []core.Unit{
			core.TextUnit{Text: "ok"},
			core.TerminalUnit{Success: true},
		}}
	}
	s := e.queue[0]
	e.queue = e.queue[1:]
	return s
}

// ScriptedHandle is the handle issued by a ScriptedEngine.
type ScriptedHandle struct {
	engine *ScriptedEngine
	token  string

	mu           sync.Mutex
	model        string
	prompts      []string
	modelChanges []string
	disconnected bool
}

// SubmitPrompt records the prompt and returns the next scripted response.
func (h *ScriptedHandle) SubmitPrompt(_ context.Context, text string) (core.ContentStream, error) {
	h.mu.Lock()
	h.prompts = append(h.prompts, text)
	h.mu.Unlock()
	s := h.engine.pop()
	return &scriptStream{units: s.units, err: s.err}, nil
}

// SetModel records the model change.
func (h *ScriptedHandle) SetModel(_ context.Context, model string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.model = model
	h.modelChanges = append(h.modelChanges, model)
	return nil
}

// SessionToken implements core.EngineHandle.
func (h *ScriptedHandle) SessionToken() string { return h.token }

// Disconnect implements core.EngineHandle.
func (h *ScriptedHandle) Disconnect(context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.disconnected = true
	return nil
}

// Prompts returns the prompts submitted on this handle, in order.
func (h *ScriptedHandle) Prompts() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.prompts...)
}

// ModelChanges returns the SetModel calls on this handle, in order.
func (h *ScriptedHandle) ModelChanges() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.modelChanges...)
}

// Disconnected reports whether Disconnect was called.
func (h *ScriptedHandle) Disconnected() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.disconnected
}

type scriptStream struct {
	units []core.Unit
	err   error
	pos   int
}

func (s *scriptStream) Next(ctx context.Context) (core.Unit, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.pos >= len(s.units) {
		if s.err != nil {
			return nil, s.err
		}
		return nil, io.EOF
	}
	u := s.units[s.pos]
	s.pos++
	return u, nil
}
