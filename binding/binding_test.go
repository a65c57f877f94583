package binding_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parleyhq/parley/binding"
	"github.com/parleyhq/parley/core"
	"github.com/parleyhq/parley/internal/testutil"
)

func TestConnectAssemblesConfig(t *testing.T) {
	eng := testutil.NewScriptedEngine()
	caps := &testutil.StubCapabilities{Caps: []core.Capability{
		{Name: "web", Tools: []string{"search", "fetch"}, Instructions: "Prefer primary sources."},
		{Name: "calc", Tools: []string{"calculator"}},
	}}
	resolver := &testutil.StubResolver{Block: "Project Apollo design notes"}

	b, err := binding.Connect(context.Background(), eng, "model-a", "ctx-42", func(o *binding.Options) {
		o.BaseInstructions = "You are a research assistant."
		o.Integrations = []string{"jira"}
		o.Capabilities = caps
		o.ContextResolver = resolver
	})
	require.NoError(t, err)
	assert.Equal(t, "model-a", b.Model())
	assert.NotEmpty(t, b.SessionToken())

	cfgs := eng.Configs()
	require.Len(t, cfgs, 1)
	cfg := cfgs[0]
	assert.Equal(t, "model-a", cfg.Model)
	assert.Equal(t, []string{"jira"}, cfg.Integrations)
	assert.Equal(t, []string{"search", "fetch", "calculator"}, cfg.AllowedTools)
	assert.Contains(t, cfg.SystemPrompt, "You are a research assistant.")
	assert.Contains(t, cfg.SystemPrompt, "Prefer primary sources.")
	assert.Contains(t, cfg.SystemPrompt, "Project Apollo design notes")
}

func TestConnectFetchesCapabilitiesFresh(t *testing.T) {
	eng := testutil.NewScriptedEngine()
	caps := &testutil.StubCapabilities{}

	for i := 0; i < 3; i++ {
		_, err := binding.Connect(context.Background(), eng, "model-a", "", func(o *binding.Options) {
			o.Capabilities = caps
		})
		require.NoError(t, err)
	}
	assert.Equal(t, 3, caps.Fetches())
}

func TestConnectCapabilityFailureAborts(t *testing.T) {
	eng := testutil.NewScriptedEngine()
	caps := &testutil.StubCapabilities{Err: errors.New("capability service down")}

	_, err := binding.Connect(context.Background(), eng, "model-a", "", func(o *binding.Options) {
		o.Capabilities = caps
	})
	require.Error(t, err)
	assert.Empty(t, eng.Configs())
}

func TestConnectContextFailureDegrades(t *testing.T) {
	eng := testutil.NewScriptedEngine()
	resolver := &testutil.StubResolver{Err: errors.New("context service down")}

	b, err := binding.Connect(context.Background(), eng, "model-a", "ctx-42", func(o *binding.Options) {
		o.ContextResolver = resolver
	})
	require.NoError(t, err)
	require.NotNil(t, b)

	cfgs := eng.Configs()
	require.Len(t, cfgs, 1)
	assert.NotContains(t, cfgs[0].SystemPrompt, "Linked context")
}

func TestConnectPassesResumeToken(t *testing.T) {
	eng := testutil.NewScriptedEngine()

	b, err := binding.Connect(context.Background(), eng, "model-a", "", func(o *binding.Options) {
		o.ResumeToken = "prior-token"
	})
	require.NoError(t, err)
	assert.Equal(t, "prior-token", b.SessionToken())
	assert.Equal(t, "prior-token", eng.Configs()[0].ResumeToken)
}

func TestSetModel(t *testing.T) {
	eng := testutil.NewScriptedEngine()
	b, err := binding.Connect(context.Background(), eng, "model-a", "")
	require.NoError(t, err)

	require.NoError(t, b.SetModel(context.Background(), "model-b"))
	assert.Equal(t, "model-b", b.Model())
	assert.Equal(t, []string{"model-b"}, eng.Handles()[0].ModelChanges())
}

func TestPrime(t *testing.T) {
	eng := testutil.NewScriptedEngine()
	b, err := binding.Connect(context.Background(), eng, "model-a", "")
	require.NoError(t, err)

	turns := []*core.Turn{
		{Role: core.RoleUser, Content: "what's the weather?"},
		{Role: core.RoleAssistant, Content: "Sunny, 21 degrees."},
	}
	require.NoError(t, b.Prime(context.Background(), turns))

	prompts := eng.Handles()[0].Prompts()
	require.Len(t, prompts, 1)
	assert.Contains(t, prompts[0], "[user] what's the weather?")
	assert.Contains(t, prompts[0], "[assistant] Sunny, 21 degrees.")
}

func TestPrimeEmptyHistoryIsNoOp(t *testing.T) {
	eng := testutil.NewScriptedEngine()
	b, err := binding.Connect(context.Background(), eng, "model-a", "")
	require.NoError(t, err)

	require.NoError(t, b.Prime(context.Background(), nil))
	assert.Empty(t, eng.Handles()[0].Prompts())
}
