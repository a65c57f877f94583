package core

import "fmt"

// InvalidStateError is returned when an operation is attempted while the
// session is not in a state that permits it (e.g. a turn submitted while a
// previous turn is still streaming). It never enters the streaming path.
type InvalidStateError struct {
	Op    string
	State string
}

// Error implements the error interface.
func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("%s not allowed in state %s", e.Op, e.State)
}

// NotFoundError is returned when resuming a conversation unknown to the
// persistent store.
type NotFoundError struct {
	ConversationID string
}

// Error implements the error interface.
func (e *NotFoundError) Error() string {
	return fmt.Sprintf("conversation %s not found", e.ConversationID)
}

// EngineError wraps any failure surfaced by the execution engine during a
// turn. It is caught at the session boundary, terminates the exchange with a
// failed outcome and is surfaced to the client as a single error event; it
// never tears down the channel or the engine binding.
type EngineError struct {
	Err error
}

// Error implements the error interface.
func (e *EngineError) Error() string { return fmt.Sprintf("engine error: %v", e.Err) }

// Unwrap exposes the underlying cause for errors.Is / errors.As.
func (e *EngineError) Unwrap() error { return e.Err }

// PersistenceError wraps a store write failure. It is logged and surfaced as
// a secondary error event but does not invalidate an already delivered
// stream.
type PersistenceError struct {
	Op  string
	Err error
}

// Error implements the error interface.
func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence failure during %s: %v", e.Op, e.Err)
}

// Unwrap exposes the underlying cause for errors.Is / errors.As.
func (e *PersistenceError) Unwrap() error { return e.Err }
