package core

import "github.com/google/uuid"

// NewID generates a new unique identifier for conversations, turns and
// engine-side correlation keys.
//
// Returns a string representation of a new UUID.
func NewID() string { return uuid.NewString() }
