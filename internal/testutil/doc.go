// Package testutil provides scripted collaborators for tests: a scripted
// execution engine with per-prompt canned unit sequences, a recording
// channel that captures emitted wire events, and stub context/capability/
// title collaborators.
package testutil
