package core_test

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parleyhq/parley/core"
)

func TestSliceStream(t *testing.T) {
	stream := core.StreamFromUnits(
		core.TextUnit{Text: "a"},
		core.TerminalUnit{Success: true},
	)

	u, err := stream.Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, core.TextUnit{Text: "a"}, u)

	u, err = stream.Next(context.Background())
	require.NoError(t, err)
	assert.IsType(t, core.TerminalUnit{}, u)

	_, err = stream.Next(context.Background())
	assert.Equal(t, io.EOF, err)
}

func TestChanStream(t *testing.T) {
	t.Run("clean close yields EOF", func(t *testing.T) {
		units := make(chan core.Unit, 1)
		errs := make(chan error, 1)
		units <- core.TextUnit{Text: "a"}
		close(units)

		stream := core.StreamFromChannels(units, errs)
		u, err := stream.Next(context.Background())
		require.NoError(t, err)
		assert.Equal(t, core.TextUnit{Text: "a"}, u)

		_, err = stream.Next(context.Background())
		assert.Equal(t, io.EOF, err)
	})

	t.Run("producer error surfaces after close", func(t *testing.T) {
		boom := errors.New("boom")
		units := make(chan core.Unit)
		errs := make(chan error, 1)
		errs <- boom
		close(units)

		stream := core.StreamFromChannels(units, errs)
		_, err := stream.Next(context.Background())
		assert.ErrorIs(t, err, boom)
	})

	t.Run("context cancellation unblocks", func(t *testing.T) {
		units := make(chan core.Unit)
		errs := make(chan error, 1)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		stream := core.StreamFromChannels(units, errs)
		_, err := stream.Next(ctx)
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestDrainStream(t *testing.T) {
	// Stops at the terminal marker without requiring exhaustion.
	err := core.DrainStream(context.Background(), core.StreamFromUnits(
		core.TextUnit{Text: "a"},
		core.TerminalUnit{Success: true},
	))
	require.NoError(t, err)

	// Exhaustion without a terminal marker is also clean for draining.
	err = core.DrainStream(context.Background(), core.StreamFromUnits(
		core.TextUnit{Text: "a"},
	))
	require.NoError(t, err)

	boom := errors.New("boom")
	units := make(chan core.Unit)
	errs := make(chan error, 1)
	errs <- boom
	close(units)
	err = core.DrainStream(context.Background(), core.StreamFromChannels(units, errs))
	assert.ErrorIs(t, err, boom)
}

func TestServerEventIsTerminal(t *testing.T) {
	assert.True(t, core.NewStreamEndEvent("t", "m").IsTerminal())
	assert.True(t, core.NewCancelledEvent().IsTerminal())
	assert.True(t, core.NewErrorEvent("boom").IsTerminal())
	assert.False(t, core.NewStreamStartEvent("model-a").IsTerminal())
	assert.False(t, core.NewTextDeltaEvent("hi").IsTerminal())
	assert.False(t, core.NewTitleUpdateEvent("c", "t").IsTerminal())
}

func TestErrorWrapping(t *testing.T) {
	cause := errors.New("disk full")

	var pe error = &core.PersistenceError{Op: "persist turn", Err: cause}
	assert.ErrorIs(t, pe, cause)
	assert.Contains(t, pe.Error(), "persist turn")

	var ee error = &core.EngineError{Err: cause}
	assert.ErrorIs(t, ee, cause)

	ise := &core.InvalidStateError{Op: "send_turn", State: "streaming"}
	assert.Contains(t, ise.Error(), "send_turn")
	assert.Contains(t, ise.Error(), "streaming")
}
