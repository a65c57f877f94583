// Package translator converts the engine's normalized content-unit sequence
// into the external wire protocol. It tracks tool-call identity so that a
// result unit arriving without its tool name can still be labelled, honors a
// cooperative cancellation flag between units, and reports the terminal
// outcome upstream. Events are emitted in the exact order produced by the
// engine; the translator never reorders or buffers beyond a single unit.
package translator

import (
	"context"
	"io"
	"strings"
	"time"

	"github.com/parleyhq/parley/core"
	"github.com/parleyhq/parley/logging"
	"github.com/parleyhq/parley/metrics"
)

// UnknownToolName labels a tool result whose call id was never announced.
// The result is still delivered; the mismatch is logged as a protocol
// anomaly, never dropped and never fatal.
const UnknownToolName = "unknown"

// Outcome summarizes one relayed exchange: the accumulated assistant text,
// the tool-call records in announcement order, and the terminal disposition.
// It is always populated, including on error and cancellation, so the
// session can persist partial progress.
type Outcome struct {
	Text         string
	ToolCalls    []core.ToolCallRecord
	TaskID       string
	Success      bool
	Cancelled    bool
	ErrorMessage string
}

// Translator relays one conversation's streams. The correlation map persists
// across turns of the same session so a result referencing a call announced
// in an earlier unit of the turn always resolves.
type Translator struct {
	calls  map[string]string // call id -> tool name
	logger logging.Logger
}

// New constructs a Translator. A nil logger falls back to NoOp.
func New(logger logging.Logger) *Translator {
	if logger == nil {
		logger = logging.NoOpLogger{}
	}
	return &Translator{calls: map[string]string{}, logger: logger}
}

// Relay pulls units from stream until the terminal marker, emitting wire
// events through emit and accumulating instrumentation into exchange (which
// may be nil). cancelRequested is polled before each pull; once it reports
// true a single cancelled event is emitted and iteration stops without
// draining the remainder of the engine's sequence.
//
// The returned Outcome is non-nil even when an error is returned. Errors
// from the stream are wrapped in core.EngineError; errors from emit are
// returned verbatim (the channel is gone, there is nobody left to notify).
func (t *Translator) Relay(
	ctx context.Context,
	stream core.ContentStream,
	cancelRequested func() bool,
	emit func(core.ServerEvent) error,
	exchange *metrics.Exchange,
) (*Outcome, error) {
	out := &Outcome{}
	var text strings.Builder
	recordIdx := map[string]int{}
	announced := map[string]time.Time{}

	defer func() { out.Text = text.String() }()

	for {
		if cancelRequested != nil && cancelRequested() {
			out.Cancelled = true
			if err := emit(core.NewCancelledEvent()); err != nil {
				return out, err
			}
			return out, nil
		}

		u, err := stream.Next(ctx)
		if err == io.EOF {
			// The engine closed the sequence without a terminal marker.
			return out, &core.EngineError{Err: io.ErrUnexpectedEOF}
		}
		if err != nil {
			return out, &core.EngineError{Err: err}
		}

		switch v := u.(type) {
		case core.TextUnit:
			text.WriteString(v.Text)
			if err := emit(core.NewTextDeltaEvent(v.Text)); err != nil {
				return out, err
			}

		case core.ToolUseUnit:
			t.calls[v.ID] = v.Name
			announced[v.ID] = time.Now()
			if exchange != nil {
				exchange.RecordStep("tool:" + v.Name)
				exchange.RecordTool(v.Name)
			}
			recordIdx[v.ID] = len(out.ToolCalls)
			out.ToolCalls = append(out.ToolCalls, core.ToolCallRecord{
				CallID: v.ID,
				Name:   v.Name,
				Input:  v.Input,
				Status: core.ToolCallRunning,
			})
			if err := emit(core.NewToolUseEvent(v.ID, v.Name, v.Input)); err != nil {
				return out, err
			}

		case core.ToolResultUnit:
			name := v.Name
			if name == "" {
				name = t.calls[v.ID]
			}
			if name == "" {
				name = UnknownToolName
				t.logger.Warn("tool result references unknown call id", "call_id", v.ID)
			}
			if i, ok := recordIdx[v.ID]; ok {
				out.ToolCalls[i].Output = v.Output
				out.ToolCalls[i].Status = core.ToolCallCompleted
			} else {
				// Result without a matching invocation in this turn: record it
				// so persistence reflects what the client saw.
				out.ToolCalls = append(out.ToolCalls, core.ToolCallRecord{
					CallID: v.ID,
					Name:   name,
					Output: v.Output,
					Status: core.ToolCallCompleted,
				})
			}
			if err := emit(core.NewToolResultEvent(v.ID, name, v.Output)); err != nil {
				return out, err
			}
			if sl, ok := t.logger.(*logging.SessionLogger); ok {
				if start, seen := announced[v.ID]; seen {
					sl.LogToolCall(name, time.Since(start), true, nil)
				}
			}

		case core.TerminalUnit:
			out.TaskID = v.TaskID
			out.Success = v.Success
			out.ErrorMessage = v.ErrorMessage
			return out, nil
		}
	}
}
