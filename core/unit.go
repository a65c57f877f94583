package core

import (
	"context"
	"encoding/json"
	"io"
)

// Unit represents one atomic item in the engine's output sequence for a
// single turn: a text fragment, a tool invocation, a tool result, or the
// terminal marker. Concrete unit types implement the unexported isUnit
// marker enabling a closed set, so consumers can switch exhaustively.
type Unit interface{ isUnit() }

// TextUnit is a plain text fragment of the assistant reply.
type TextUnit struct {
	Text string
}

// isUnit implements the Unit interface for TextUnit.
func (TextUnit) isUnit() {}

// ToolUseUnit signals that the engine started executing a tool. ID is the
// engine-assigned call identifier used to correlate the eventual result.
type ToolUseUnit struct {
	ID    string
	Name  string
	Input json.RawMessage
}

// isUnit implements the Unit interface for ToolUseUnit.
func (ToolUseUnit) isUnit() {}

// ToolResultUnit carries the outcome of a previously announced tool call.
// Name may be empty; the translator resolves it through its correlation map.
type ToolResultUnit struct {
	ID     string
	Name   string
	Output json.RawMessage
}

// isUnit implements the Unit interface for ToolResultUnit.
func (ToolResultUnit) isUnit() {}

// TerminalUnit ends the sequence for one turn and carries the engine's
// success/failure verdict. TaskID is an optional engine-side task handle.
type TerminalUnit struct {
	TaskID       string
	Success      bool
	ErrorMessage string
}

// isUnit implements the Unit interface for TerminalUnit.
func (TerminalUnit) isUnit() {}

// ContentStream is a lazy, ordered, finite sequence of Units terminated by a
// TerminalUnit. Next blocks until the next unit is available, the context is
// cancelled, or the producer fails. After the producer is exhausted Next
// returns io.EOF.
//
// Consumers decide when to stop pulling; abandoning a stream mid-sequence is
// legal and must not wedge the producer.
type ContentStream interface {
	Next(ctx context.Context) (Unit, error)
}

// StreamFromChannels adapts the goroutine-plus-channel production idiom to
// the pull-based ContentStream contract. The producer sends units on units,
// reports at most one terminal error on errs (buffered), and closes units
// when done.
func StreamFromChannels(units <-chan Unit, errs <-chan error) ContentStream {
	return &chanStream{units: units, errs: errs}
}

// StreamFromUnits returns a ContentStream over a fixed, pre-computed unit
// slice. Useful for tests and replay.
func StreamFromUnits(units ...Unit) ContentStream {
	return &sliceStream{units: units}
}

type chanStream struct {
	units <-chan Unit
	errs  <-chan error
}

func (s *chanStream) Next(ctx context.Context) (Unit, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case u, ok := <-s.units:
		if !ok {
			select {
			case err := <-s.errs:
				if err != nil {
					return nil, err
				}
			default:
			}
			return nil, io.EOF
		}
		return u, nil
	}
}

type sliceStream struct {
	units []Unit
	pos   int
}

func (s *sliceStream) Next(ctx context.Context) (Unit, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.pos >= len(s.units) {
		return nil, io.EOF
	}
	u := s.units[s.pos]
	s.pos++
	return u, nil
}

// DrainStream pulls units until exhaustion or terminal marker, discarding
// them. Used for priming replay during resumption where the response must
// never reach a client.
func DrainStream(ctx context.Context, stream ContentStream) error {
	for {
		u, err := stream.Next(ctx)
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		if _, ok := u.(TerminalUnit); ok {
			return nil
		}
	}
}
