package sqlite_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parleyhq/parley/core"
	"github.com/parleyhq/parley/metrics"
	"github.com/parleyhq/parley/store/sqlite"
)

func openStore(t *testing.T) *sqlite.Store {
	t.Helper()
	st, err := sqlite.Open(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestConversationLifecycle(t *testing.T) {
	ctx := context.Background()
	st := openStore(t)

	now := time.Now()
	require.NoError(t, st.CreateConversation(ctx, &core.Conversation{
		ID:              "conv-1",
		Model:           "model-a",
		Active:          true,
		LinkedContextID: "ctx-42",
		Created:         now,
		Updated:         now,
	}))

	got, err := st.GetConversation(ctx, "conv-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "model-a", got.Model)
	assert.True(t, got.Active)
	assert.Equal(t, "ctx-42", got.LinkedContextID)
	assert.WithinDuration(t, now, got.Created, time.Second)

	missing, err := st.GetConversation(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)

	title := "Weather Chat"
	count := 2
	active := false
	require.NoError(t, st.UpdateConversation(ctx, "conv-1", core.ConversationPatch{
		Title:        &title,
		MessageCount: &count,
		Active:       &active,
	}))

	got, err = st.GetConversation(ctx, "conv-1")
	require.NoError(t, err)
	assert.Equal(t, "Weather Chat", got.Title)
	assert.Equal(t, 2, got.MessageCount)
	assert.False(t, got.Active)
	assert.Equal(t, "model-a", got.Model)

	// Empty patch is a no-op.
	require.NoError(t, st.UpdateConversation(ctx, "conv-1", core.ConversationPatch{}))
}

func TestTurnOrderingAndLimit(t *testing.T) {
	ctx := context.Background()
	st := openStore(t)
	require.NoError(t, st.CreateConversation(ctx, &core.Conversation{ID: "conv-1"}))

	for i := 0; i < 6; i++ {
		_, err := st.CreateTurn(ctx, &core.Turn{
			ConversationID: "conv-1",
			Role:           core.RoleUser,
			Content:        fmt.Sprintf("turn %d", i),
		})
		require.NoError(t, err)
	}

	turns, err := st.ListRecentTurns(ctx, "conv-1", 4)
	require.NoError(t, err)
	require.Len(t, turns, 4)
	assert.Equal(t, "turn 2", turns[0].Content)
	assert.Equal(t, "turn 5", turns[3].Content)

	none, err := st.ListRecentTurns(ctx, "other", 10)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestTurnMetaRoundTrip(t *testing.T) {
	ctx := context.Background()
	st := openStore(t)
	require.NoError(t, st.CreateConversation(ctx, &core.Conversation{ID: "conv-1"}))

	started := time.Now().Add(-2 * time.Second)
	id, err := st.CreateTurn(ctx, &core.Turn{
		ConversationID: "conv-1",
		Role:           core.RoleAssistant,
		Content:        "It is 21 degrees.",
		Meta: core.TurnMeta{
			Model:   "model-a",
			Outcome: core.OutcomeCompleted,
			ToolCalls: []core.ToolCallRecord{
				{CallID: "call-1", Name: "search", Status: core.ToolCallCompleted},
			},
			Metrics: &metrics.Report{
				Steps:      []string{"tool:search"},
				Tools:      []string{"search"},
				StartedAt:  started,
				EndedAt:    time.Now(),
				Success:    true,
				Complexity: 1,
			},
		},
	})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	turns, err := st.ListRecentTurns(ctx, "conv-1", 1)
	require.NoError(t, err)
	require.Len(t, turns, 1)

	turn := turns[0]
	assert.Equal(t, id, turn.ID)
	assert.Equal(t, core.RoleAssistant, turn.Role)
	assert.Equal(t, core.OutcomeCompleted, turn.Meta.Outcome)
	require.Len(t, turn.Meta.ToolCalls, 1)
	assert.Equal(t, "search", turn.Meta.ToolCalls[0].Name)
	require.NotNil(t, turn.Meta.Metrics)
	assert.True(t, turn.Meta.Metrics.Success)
	assert.Equal(t, 1, turn.Meta.Metrics.Complexity)
}
