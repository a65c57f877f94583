package testutil

import (
	"context"
	"sync"
	"time"

	"github.com/parleyhq/parley/core"
)

// RecordingChannel captures every emitted wire event and signals terminal
// events so tests can wait for asynchronously dispatched turns.
type RecordingChannel struct {
	id string

	mu       sync.Mutex
	events   []core.ServerEvent
	closed   bool
	terminal chan core.ServerEvent

	// SendErr, when set, is returned from every subsequent Send.
	SendErr error

	// OnEvent, when set, runs synchronously inside Send before recording.
	// Useful to trigger cancellation mid-stream.
	OnEvent func(core.ServerEvent)
}

// NewRecordingChannel constructs a channel with the given id.
func NewRecordingChannel(id string) *RecordingChannel {
	return &RecordingChannel{id: id, terminal: make(chan core.ServerEvent, 16)}
}

// ID implements registry.Channel.
func (c *RecordingChannel) ID() string { return c.id }

// Send implements registry.Channel.
func (c *RecordingChannel) Send(ev core.ServerEvent) error {
	c.mu.Lock()
	onEvent := c.OnEvent
	err := c.SendErr
	c.mu.Unlock()

	if onEvent != nil {
		onEvent(ev)
	}
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.events = append(c.events, ev)
	c.mu.Unlock()
	if ev.IsTerminal() {
		c.terminal <- ev
	}
	return nil
}

// Close implements registry.Channel.
func (c *RecordingChannel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

// Closed reports whether Close was called.
func (c *RecordingChannel) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Events returns a snapshot of everything sent so far.
func (c *RecordingChannel) Events() []core.ServerEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]core.ServerEvent(nil), c.events...)
}

// Types returns the event types sent so far, in order.
func (c *RecordingChannel) Types() []core.EventType {
	c.mu.Lock()
	defer c.mu.Unlock()
	types := make([]core.EventType, len(c.events))
	for i, ev := range c.events {
		types[i] = ev.Type
	}
	return types
}

// WaitTerminal blocks until a terminal event arrives or the timeout expires.
func (c *RecordingChannel) WaitTerminal(timeout time.Duration) (core.ServerEvent, bool) {
	select {
	case ev := <-c.terminal:
		return ev, true
	case <-time.After(timeout):
		return core.ServerEvent{}, false
	}
}

// StubTitler is a core.TitleService returning a fixed title (or error).
type StubTitler struct {
	Title string
	Err   error

	mu    sync.Mutex
	calls int
}

// GenerateTitle implements core.TitleService.
func (t *StubTitler) GenerateTitle(context.Context, string, string) (string, error) {
	t.mu.Lock()
	t.calls++
	t.mu.Unlock()
	return t.Title, t.Err
}

// Calls returns how many times GenerateTitle ran.
func (t *StubTitler) Calls() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.calls
}

// StubResolver is a core.ContextResolver returning a fixed block (or error).
type StubResolver struct {
	Block string
	Err   error
}

// ResolveContext implements core.ContextResolver.
func (r *StubResolver) ResolveContext(context.Context, string) (string, error) {
	return r.Block, r.Err
}

// StubCapabilities is a core.CapabilitySource returning a fixed set.
type StubCapabilities struct {
	Caps []core.Capability
	Err  error

	mu      sync.Mutex
	fetches int
}

// ActiveCapabilities implements core.CapabilitySource.
func (s *StubCapabilities) ActiveCapabilities(context.Context) ([]core.Capability, error) {
	s.mu.Lock()
	s.fetches++
	s.mu.Unlock()
	return s.Caps, s.Err
}

// Fetches returns how many times the capability set was queried.
func (s *StubCapabilities) Fetches() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fetches
}
