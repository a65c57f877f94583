package registry_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parleyhq/parley/core"
	"github.com/parleyhq/parley/internal/testutil"
	"github.com/parleyhq/parley/registry"
	"github.com/parleyhq/parley/session"
	"github.com/parleyhq/parley/store"
)

const waitTimeout = 2 * time.Second

func newRegistry(st *store.InMemoryStore) (*registry.Registry, *testutil.ScriptedEngine) {
	eng := testutil.NewScriptedEngine()
	reg := registry.New(eng, func(o *registry.Options) {
		o.SessionOptions = func(so *session.Options) {
			so.Store = st
			so.DefaultModel = "model-a"
		}
	})
	return reg, eng
}

func TestOpenFreshChannel(t *testing.T) {
	st := store.NewInMemoryStore()
	reg, _ := newRegistry(st)
	ch := testutil.NewRecordingChannel("ch-1")

	sess, err := reg.Open(context.Background(), ch, "", "")
	require.NoError(t, err)
	require.NotNil(t, sess)
	assert.Equal(t, 1, reg.Len())

	events := ch.Events()
	require.Len(t, events, 1)
	assert.Equal(t, core.EventInit, events[0].Type)
	assert.Equal(t, sess.Identity().ConversationID, events[0].ConversationID)
	require.NotNil(t, events[0].Resumed)
	assert.False(t, *events[0].Resumed)
	assert.Empty(t, events[0].History)

	got, ok := reg.Session("ch-1")
	require.True(t, ok)
	assert.Same(t, sess, got)
}

func TestOpenDuplicateChannel(t *testing.T) {
	st := store.NewInMemoryStore()
	reg, _ := newRegistry(st)
	ch := testutil.NewRecordingChannel("ch-1")

	_, err := reg.Open(context.Background(), ch, "", "")
	require.NoError(t, err)

	_, err = reg.Open(context.Background(), testutil.NewRecordingChannel("ch-1"), "", "")
	require.Error(t, err)
	assert.Equal(t, 1, reg.Len())
}

func TestOpenResumeFailureClosesChannel(t *testing.T) {
	st := store.NewInMemoryStore()
	reg, _ := newRegistry(st)
	ch := testutil.NewRecordingChannel("ch-1")

	// Resumption of an unknown conversation never falls back to a fresh
	// start: the failure is surfaced and the channel closed.
	_, err := reg.Open(context.Background(), ch, "no-such-id", "")
	require.Error(t, err)
	assert.Equal(t, 0, reg.Len())
	assert.True(t, ch.Closed())

	events := ch.Events()
	require.Len(t, events, 1)
	assert.Equal(t, core.EventError, events[0].Type)
}

func TestOpenResumedChannel(t *testing.T) {
	st := store.NewInMemoryStore()
	reg, eng := newRegistry(st)
	ch := testutil.NewRecordingChannel("ch-1")

	sess, err := reg.Open(context.Background(), ch, "", "")
	require.NoError(t, err)
	conversationID := sess.Identity().ConversationID

	require.NoError(t, reg.HandleMessage(context.Background(), "ch-1", core.ClientMessage{
		Type:    core.ClientTypeMessage,
		Content: "hi",
	}))
	_, ok := ch.WaitTerminal(waitTimeout)
	require.True(t, ok)
	require.NoError(t, reg.CloseChannel(context.Background(), "ch-1"))

	eng.Enqueue(core.TextUnit{Text: "restored"}, core.TerminalUnit{Success: true})

	ch2 := testutil.NewRecordingChannel("ch-2")
	sess2, err := reg.Open(context.Background(), ch2, conversationID, "")
	require.NoError(t, err)
	assert.Equal(t, conversationID, sess2.Identity().ConversationID)

	events := ch2.Events()
	require.Len(t, events, 1)
	assert.Equal(t, core.EventInit, events[0].Type)
	require.NotNil(t, events[0].Resumed)
	assert.True(t, *events[0].Resumed)
	assert.Len(t, events[0].History, 2)
}

func TestHandleMessageRunsTurnAsync(t *testing.T) {
	st := store.NewInMemoryStore()
	reg, eng := newRegistry(st)
	ch := testutil.NewRecordingChannel("ch-1")
	eng.Enqueue(core.TextUnit{Text: "reply"}, core.TerminalUnit{Success: true})

	_, err := reg.Open(context.Background(), ch, "", "")
	require.NoError(t, err)

	// HandleMessage returns before the turn finishes.
	require.NoError(t, reg.HandleMessage(context.Background(), "ch-1", core.ClientMessage{
		Type:    core.ClientTypeMessage,
		Content: "hi",
	}))

	ev, ok := ch.WaitTerminal(waitTimeout)
	require.True(t, ok)
	assert.Equal(t, core.EventStreamEnd, ev.Type)
}

func TestHandleMessageCancelMidStream(t *testing.T) {
	st := store.NewInMemoryStore()
	reg, eng := newRegistry(st)
	ch := testutil.NewRecordingChannel("ch-1")
	eng.Enqueue(
		core.ToolUseUnit{ID: "call-1", Name: "search"},
		core.ToolResultUnit{ID: "call-1"},
		core.TerminalUnit{Success: true},
	)

	_, err := reg.Open(context.Background(), ch, "", "")
	require.NoError(t, err)

	// Cancel through the registry as soon as the tool invocation streams,
	// exactly like a client sending {"type":"cancel"} mid-turn.
	ch.OnEvent = func(ev core.ServerEvent) {
		if ev.Type == core.EventToolUse {
			_ = reg.HandleMessage(context.Background(), "ch-1", core.ClientMessage{Type: core.ClientTypeCancel})
		}
	}

	require.NoError(t, reg.HandleMessage(context.Background(), "ch-1", core.ClientMessage{
		Type:    core.ClientTypeMessage,
		Content: "go",
	}))

	ev, ok := ch.WaitTerminal(waitTimeout)
	require.True(t, ok)
	assert.Equal(t, core.EventCancelled, ev.Type)
}

func TestHandleMessageValidation(t *testing.T) {
	st := store.NewInMemoryStore()
	reg, _ := newRegistry(st)

	err := reg.HandleMessage(context.Background(), "unknown", core.ClientMessage{Type: core.ClientTypeMessage})
	require.Error(t, err)

	ch := testutil.NewRecordingChannel("ch-1")
	_, err = reg.Open(context.Background(), ch, "", "")
	require.NoError(t, err)

	err = reg.HandleMessage(context.Background(), "ch-1", core.ClientMessage{Type: "bogus"})
	require.Error(t, err)

	// Cancel while idle is a harmless no-op.
	require.NoError(t, reg.HandleMessage(context.Background(), "ch-1", core.ClientMessage{Type: core.ClientTypeCancel}))
}

func TestCloseChannelEndsSession(t *testing.T) {
	st := store.NewInMemoryStore()
	reg, eng := newRegistry(st)
	ch := testutil.NewRecordingChannel("ch-1")

	sess, err := reg.Open(context.Background(), ch, "", "")
	require.NoError(t, err)

	require.NoError(t, reg.CloseChannel(context.Background(), "ch-1"))
	assert.Equal(t, 0, reg.Len())
	assert.True(t, ch.Closed())
	assert.Equal(t, session.StateTerminated, sess.State())
	assert.True(t, eng.Handles()[0].Disconnected())

	conv, err := st.GetConversation(context.Background(), sess.Identity().ConversationID)
	require.NoError(t, err)
	require.NotNil(t, conv)
	assert.False(t, conv.Active)

	// Closing an unknown or already-closed channel is a no-op.
	require.NoError(t, reg.CloseChannel(context.Background(), "ch-1"))
}
