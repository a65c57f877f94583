// Package session implements the resumable unit of conversational state: one
// ConversationSession binds a conversation identity, an engine binding, a
// stream translator and per-exchange metrics, and drives the
// Idle/Streaming/CancelRequested/Terminated state machine.
package session

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/parleyhq/parley/binding"
	"github.com/parleyhq/parley/core"
	"github.com/parleyhq/parley/logging"
	"github.com/parleyhq/parley/metrics"
	"github.com/parleyhq/parley/store"
	"github.com/parleyhq/parley/translator"
)

// State is the session lifecycle state. It is owned exclusively by the
// Session; no other component mutates it.
type State int32

// Session states.
const (
	StateIdle State = iota
	StateStreaming
	StateCancelRequested
	StateTerminated
)

// String returns the lowercase state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStreaming:
		return "streaming"
	case StateCancelRequested:
		return "cancel_requested"
	case StateTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// EmitFunc delivers one server event to the bound channel. Implementations
// must be safe for concurrent use: the title announcer may emit while a later
// turn is streaming.
type EmitFunc func(core.ServerEvent) error

// Options holds dependency + configuration overrides shared by sessions.
type Options struct {
	// Store persists conversations and turns. Defaults to an in-memory store.
	Store core.ConversationStore
	// Titler generates conversation titles after the first exchange. Optional.
	Titler core.TitleService
	// ContextResolver resolves linked external contexts. Optional.
	ContextResolver core.ContextResolver
	// Capabilities supplies the active tool/integration set. Optional.
	Capabilities core.CapabilitySource
	// BaseInstructions overrides the default system instruction set.
	BaseInstructions string
	// Integrations lists integration identifiers enabled for new sessions.
	Integrations []string
	// DefaultModel is used when the caller does not request a model.
	DefaultModel string
	// HistoryLimit bounds the turns replayed during resumption.
	HistoryLimit int
	// Logger receives session diagnostics.
	Logger logging.Logger
}

func (o *Options) applyDefaults() {
	if o.Store == nil {
		o.Store = store.NewInMemoryStore()
	}
	if o.DefaultModel == "" {
		o.DefaultModel = "default"
	}
	if o.HistoryLimit <= 0 {
		o.HistoryLimit = 10
	}
	if o.BaseInstructions == "" {
		o.BaseInstructions = binding.DefaultInstructions
	}
	if o.Logger == nil {
		o.Logger = logging.NoOpLogger{}
	}
}

// Session is one resumable conversation bound to at most one open channel.
// SendTurn processes at most one turn at a time, enforced by the Idle gate;
// RequestCancel and End may be called concurrently with a streaming turn.
type Session struct {
	identity core.Identity
	binding  *binding.Binding
	trans    *translator.Translator
	opts     Options
	emit     EmitFunc
	history  []*core.Turn // loaded on resume, replayed to the client in init

	mu             sync.Mutex
	state          State
	model          string
	messageCount   int
	titleRequested bool
	exchanges      int

	cancelFlag atomic.Bool
	titleWG    sync.WaitGroup
}

// Start creates a fresh conversation: registers the identity with the store,
// resolves the linked context, fetches the active capability set and connects
// the engine binding. The returned session is Idle.
func Start(ctx context.Context, engine core.Engine, channelID, linkedContextID string, emit EmitFunc, optFns ...func(o *Options)) (*Session, error) {
	var opts Options
	for _, fn := range optFns {
		fn(&opts)
	}
	opts.applyDefaults()

	conversationID := core.NewID()
	now := time.Now()
	conv := &core.Conversation{
		ID:              conversationID,
		Model:           opts.DefaultModel,
		Active:          true,
		LinkedContextID: linkedContextID,
		Created:         now,
		Updated:         now,
	}
	if err := opts.Store.CreateConversation(ctx, conv); err != nil {
		return nil, &core.PersistenceError{Op: "create conversation", Err: err}
	}

	b, err := connectBinding(ctx, engine, opts, opts.DefaultModel, linkedContextID, "")
	if err != nil {
		// Do not leave the just-created record looking live.
		inactive := false
		if uerr := opts.Store.UpdateConversation(ctx, conversationID, core.ConversationPatch{Active: &inactive}); uerr != nil {
			opts.Logger.Warn("failed to deactivate conversation after connect failure", "conversation_id", conversationID, "error", uerr)
		}
		return nil, err
	}

	return newSession(conv, channelID, b, opts, emit, nil), nil
}

// Resume rehydrates an existing conversation: loads the identity and recent
// turns, reconnects the engine binding and replays the turns as a priming
// prompt whose response never reaches the client. Returns NotFoundError when
// the conversation is unknown to the store.
func Resume(ctx context.Context, engine core.Engine, channelID, conversationID string, emit EmitFunc, optFns ...func(o *Options)) (*Session, error) {
	var opts Options
	for _, fn := range optFns {
		fn(&opts)
	}
	opts.applyDefaults()

	conv, err := opts.Store.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, &core.PersistenceError{Op: "load conversation", Err: err}
	}
	if conv == nil {
		return nil, &core.NotFoundError{ConversationID: conversationID}
	}

	turns, err := opts.Store.ListRecentTurns(ctx, conversationID, opts.HistoryLimit)
	if err != nil {
		return nil, &core.PersistenceError{Op: "load history", Err: err}
	}

	model := conv.Model
	if model == "" {
		model = opts.DefaultModel
	}
	b, err := connectBinding(ctx, engine, opts, model, conv.LinkedContextID, "")
	if err != nil {
		return nil, err
	}

	if err := b.Prime(ctx, turns); err != nil {
		_ = b.Disconnect(ctx)
		return nil, &core.EngineError{Err: err}
	}

	active := true
	if err := opts.Store.UpdateConversation(ctx, conversationID, core.ConversationPatch{Active: &active}); err != nil {
		opts.Logger.Warn("failed to mark conversation active", "conversation_id", conversationID, "error", err)
	}

	return newSession(conv, channelID, b, opts, emit, turns), nil
}

func connectBinding(ctx context.Context, engine core.Engine, opts Options, model, linkedContextID, resumeToken string) (*binding.Binding, error) {
	return binding.Connect(ctx, engine, model, linkedContextID, func(o *binding.Options) {
		o.BaseInstructions = opts.BaseInstructions
		o.Integrations = opts.Integrations
		o.ContextResolver = opts.ContextResolver
		o.Capabilities = opts.Capabilities
		o.ResumeToken = resumeToken
		o.Logger = opts.Logger
	})
}

func newSession(conv *core.Conversation, channelID string, b *binding.Binding, opts Options, emit EmitFunc, history []*core.Turn) *Session {
	if sl, ok := opts.Logger.(*logging.SessionLogger); ok {
		opts.Logger = sl.WithComponent("session").WithConversation(conv.ID, channelID)
	}
	return &Session{
		identity: core.Identity{
			ConversationID:  conv.ID,
			ChannelID:       channelID,
			SessionToken:    b.SessionToken(),
			LinkedContextID: conv.LinkedContextID,
		},
		binding:        b,
		trans:          translator.New(opts.Logger),
		opts:           opts,
		emit:           emit,
		history:        history,
		state:          StateIdle,
		model:          b.Model(),
		messageCount:   conv.MessageCount,
		titleRequested: conv.Title != "",
	}
}

// Identity returns the immutable conversation identity.
func (s *Session) Identity() core.Identity { return s.identity }

// History returns the turns loaded during resumption, oldest first. Nil for
// fresh sessions.
func (s *Session) History() []*core.Turn { return s.history }

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Model returns the model used for the next turn.
func (s *Session) Model() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.model
}

// SendTurn submits one user turn and streams the assistant reply to the
// channel. It returns InvalidStateError when the session is not Idle; every
// other failure mode is surfaced to the client as a terminal wire event and
// the session returns to Idle so the conversation stays usable.
func (s *Session) SendTurn(ctx context.Context, text, requestedModel string) error {
	s.mu.Lock()
	if s.state != StateIdle {
		st := s.state
		s.mu.Unlock()
		return &core.InvalidStateError{Op: "send_turn", State: st.String()}
	}
	s.state = StateStreaming
	s.cancelFlag.Store(false)
	model := s.model
	s.mu.Unlock()

	defer s.returnToIdle()

	// Model switch happens before the prompt is submitted, and its event is
	// emitted before stream_start.
	if requestedModel != "" && requestedModel != model {
		if err := s.emit(core.NewModelSwitchEvent(model, requestedModel)); err != nil {
			return err
		}
		if err := s.binding.SetModel(ctx, requestedModel); err != nil {
			s.opts.Logger.Error("model switch failed", "from", model, "to", requestedModel, "error", err)
			return s.emit(core.NewErrorEvent("model switch failed: " + err.Error()))
		}
		model = requestedModel
		s.mu.Lock()
		s.model = requestedModel
		s.mu.Unlock()
	}

	// The user turn is persisted before any streamed event so a crash
	// mid-stream never loses the user's input.
	userTurn := &core.Turn{
		ID:             core.NewID(),
		ConversationID: s.identity.ConversationID,
		Role:           core.RoleUser,
		Content:        text,
		Meta:           core.TurnMeta{Model: model},
		CreatedAt:      time.Now(),
	}
	if _, err := s.opts.Store.CreateTurn(ctx, userTurn); err != nil {
		perr := &core.PersistenceError{Op: "persist user turn", Err: err}
		s.opts.Logger.Error("aborting turn", "error", perr)
		return s.emit(core.NewErrorEvent(perr.Error()))
	}

	if err := s.emit(core.NewStreamStartEvent(model)); err != nil {
		return err
	}

	exchange := metrics.NewExchange()
	started := time.Now()

	// The engine may produce units from its own goroutine behind the stream.
	// Cancelling this context when the turn is over releases a producer whose
	// stream was abandoned mid-sequence; the engine connection itself stays up.
	turnCtx, cancelTurn := context.WithCancel(ctx)
	defer cancelTurn()

	stream, err := s.binding.Prompt(turnCtx, text)
	if err != nil {
		return s.finishFailed(ctx, model, text, &translator.Outcome{ErrorMessage: err.Error()}, exchange, &core.EngineError{Err: err})
	}

	outcome, relayErr := s.trans.Relay(turnCtx, stream, s.cancelFlag.Load, s.emit, exchange)

	if sl, ok := s.opts.Logger.(*logging.SessionLogger); ok {
		sl.LogEngineCall(model, time.Since(started), relayErr == nil && outcome.Success, relayErr)
	}

	switch {
	case outcome.Cancelled:
		// A cancelled turn is persisted as cancelled even when delivering the
		// terminal cancelled event failed.
		if err := s.finishCancelled(ctx, model, outcome, exchange); err != nil {
			return err
		}
		return relayErr
	case relayErr != nil:
		return s.finishFailed(ctx, model, text, outcome, exchange, relayErr)
	case !outcome.Success:
		return s.finishFailed(ctx, model, text, outcome, exchange, nil)
	default:
		return s.finishCompleted(ctx, model, text, outcome, exchange)
	}
}

// RequestCancel sets the cooperative cancellation flag. The translator
// checks it at every content-unit boundary, so at most one more in-flight
// unit may be delivered after the request. No-op unless a turn is streaming.
func (s *Session) RequestCancel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateStreaming {
		return
	}
	s.state = StateCancelRequested
	s.cancelFlag.Store(true)
}

// End terminates the session: disconnects the engine binding and marks the
// conversation inactive (the conversation and its turns are kept). Terminal;
// no further transitions. Idempotent.
func (s *Session) End(ctx context.Context) error {
	s.mu.Lock()
	if s.state == StateTerminated {
		s.mu.Unlock()
		return nil
	}
	s.state = StateTerminated
	s.mu.Unlock()

	// Stop an in-flight relay at its next unit boundary.
	s.cancelFlag.Store(true)

	if err := s.binding.Disconnect(ctx); err != nil {
		s.opts.Logger.Warn("engine disconnect failed", "conversation_id", s.identity.ConversationID, "error", err)
	}

	active := false
	if err := s.opts.Store.UpdateConversation(ctx, s.identity.ConversationID, core.ConversationPatch{Active: &active}); err != nil {
		s.opts.Logger.Warn("failed to mark conversation inactive", "conversation_id", s.identity.ConversationID, "error", err)
		return &core.PersistenceError{Op: "deactivate conversation", Err: err}
	}
	return nil
}

func (s *Session) returnToIdle() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateStreaming || s.state == StateCancelRequested {
		s.state = StateIdle
	}
}

func (s *Session) finishCompleted(ctx context.Context, model, userText string, outcome *translator.Outcome, exchange *metrics.Exchange) error {
	report := exchange.Finalize(true)
	messageID := s.persistAssistantTurn(ctx, model, core.OutcomeCompleted, outcome, report)
	s.updateAggregates(ctx, model)
	s.logExchange(core.OutcomeCompleted, report)

	if err := s.emit(core.NewStreamEndEvent(outcome.TaskID, messageID)); err != nil {
		return err
	}

	s.maybeAnnounceTitle(userText, outcome.Text)
	return nil
}

func (s *Session) finishCancelled(ctx context.Context, model string, outcome *translator.Outcome, exchange *metrics.Exchange) error {
	report := exchange.Finalize(false)
	s.persistAssistantTurn(ctx, model, core.OutcomeCancelled, outcome, report)
	s.updateAggregates(ctx, model)
	s.logExchange(core.OutcomeCancelled, report)
	// The translator already emitted the terminal cancelled event.
	return nil
}

func (s *Session) finishFailed(ctx context.Context, model, userText string, outcome *translator.Outcome, exchange *metrics.Exchange, cause error) error {
	report := exchange.Finalize(false)
	s.persistAssistantTurn(ctx, model, core.OutcomeFailed, outcome, report)
	s.updateAggregates(ctx, model)
	s.logExchange(core.OutcomeFailed, report)

	msg := outcome.ErrorMessage
	if cause != nil {
		msg = cause.Error()
		s.opts.Logger.Error("exchange failed", "conversation_id", s.identity.ConversationID, "error", cause)
	}
	if msg == "" {
		msg = "exchange failed"
	}
	return s.emit(core.NewErrorEvent(msg))
}

// persistAssistantTurn writes the assistant turn including whatever partial
// text and tool data was accumulated. A write failure is logged and surfaced
// as a secondary error event; it never invalidates the delivered stream.
func (s *Session) persistAssistantTurn(ctx context.Context, model string, outcome core.Outcome, res *translator.Outcome, report *metrics.Report) string {
	turn := &core.Turn{
		ID:             core.NewID(),
		ConversationID: s.identity.ConversationID,
		Role:           core.RoleAssistant,
		Content:        res.Text,
		Meta: core.TurnMeta{
			Model:     model,
			Outcome:   outcome,
			ToolCalls: res.ToolCalls,
			Metrics:   report,
		},
		CreatedAt: time.Now(),
	}
	id, err := s.opts.Store.CreateTurn(ctx, turn)
	if err != nil {
		perr := &core.PersistenceError{Op: "persist assistant turn", Err: err}
		s.opts.Logger.Error("assistant turn not persisted", "conversation_id", s.identity.ConversationID, "error", perr)
		_ = s.emit(core.NewErrorEvent(perr.Error()))
		return ""
	}
	return id
}

func (s *Session) updateAggregates(ctx context.Context, model string) {
	s.mu.Lock()
	s.messageCount += 2
	count := s.messageCount
	s.exchanges++
	s.mu.Unlock()

	patch := core.ConversationPatch{MessageCount: &count, Model: &model}
	if err := s.opts.Store.UpdateConversation(ctx, s.identity.ConversationID, patch); err != nil {
		s.opts.Logger.Warn("failed to update conversation aggregates", "conversation_id", s.identity.ConversationID, "error", err)
	}
}

func (s *Session) logExchange(outcome core.Outcome, report *metrics.Report) {
	if sl, ok := s.opts.Logger.(*logging.SessionLogger); ok {
		sl.LogExchange(string(outcome), len(report.Steps), len(report.Tools), report.Complexity, report.Duration())
		return
	}
	s.opts.Logger.Debug("exchange finished",
		"outcome", string(outcome),
		"steps", len(report.Steps),
		"tools", len(report.Tools),
		"complexity", report.Complexity,
	)
}
