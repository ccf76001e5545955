package contextmgr

import (
	"context"
	"fmt"
	"testing"

	"github.com/solstice-labs/agentmem/toolcriticality"
	"github.com/solstice-labs/agentmem/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildConversation(n int) []types.Message {
	msgs := []types.Message{{Kind: types.KindSystem, Content: "you are a coding agent"}}
	for i := 0; i < n; i++ {
		if i%3 == 0 {
			msgs = append(msgs, types.Message{Kind: types.KindHuman, Content: fmt.Sprintf("do thing %d", i)})
		} else if i%3 == 1 {
			msgs = append(msgs, types.Message{Kind: types.KindAssistant, Content: "working on it"})
		} else {
			msgs = append(msgs, types.Message{Kind: types.KindTool, Content: "result ok"})
		}
	}
	return msgs
}

func TestAdaptBelowThresholdUnchanged(t *testing.T) {
	msgs := buildConversation(20)
	out, err := Adapt(context.Background(), msgs, 0.40, ProviderA, toolcriticality.DefaultTables())
	require.NoError(t, err)
	assert.Len(t, out, len(msgs))
}

// TestAdaptModeratePressureBanding mirrors seed scenario 4 from spec §8:
// with rho=0.65 and 100 non-system messages, the adapted output keeps
// roughly 70% recent plus essential folds plus one summary message.
func TestAdaptModeratePressureBanding(t *testing.T) {
	msgs := buildConversation(100)
	out, err := Adapt(context.Background(), msgs, 0.65, ProviderA, toolcriticality.DefaultTables())
	require.NoError(t, err)
	assert.Less(t, len(out), len(msgs))
	assert.GreaterOrEqual(t, len(out), 65)
}

func TestAdaptEmergencyPressureKeepsFew(t *testing.T) {
	msgs := buildConversation(100)
	out, err := Adapt(context.Background(), msgs, 0.95, ProviderA, toolcriticality.DefaultTables())
	require.NoError(t, err)
	assert.LessOrEqual(t, len(out), 5)
}

func TestAdaptAlwaysStartsWithSystemMessage(t *testing.T) {
	msgs := buildConversation(50)
	for _, rho := range []float64{0.10, 0.65, 0.85, 0.95} {
		out, err := Adapt(context.Background(), msgs, rho, ProviderA, toolcriticality.DefaultTables())
		require.NoError(t, err)
		require.NotEmpty(t, out)
		assert.Equal(t, types.KindSystem, out[0].Kind)
		assert.Equal(t, msgs[0].Content, out[0].Content)
	}
}

func TestAdaptPreservesEssentialToolCallVerbatim(t *testing.T) {
	msgs := []types.Message{{Kind: types.KindSystem, Content: "sys"}}
	for i := 0; i < 30; i++ {
		msgs = append(msgs, types.Message{Kind: types.KindTool, Content: "routine output"})
	}
	msgs = append(msgs, types.Message{
		Kind: types.KindAssistant, Content: "updating config",
		ToolCalls: []types.ToolCall{{ID: "t1", Name: "write_file", Path: "config.yaml", Content: "port: 80"}},
	})
	for i := 0; i < 30; i++ {
		msgs = append(msgs, types.Message{Kind: types.KindTool, Content: "more routine output"})
	}

	out, err := Adapt(context.Background(), msgs, 0.75, ProviderA, toolcriticality.DefaultTables())
	require.NoError(t, err)

	var found bool
	for _, m := range out {
		if m.HasToolCalls() && m.Content == "updating config" {
			found = true
		}
	}
	assert.True(t, found, "essential tool call should survive verbatim")
}

func TestFormatForProviderCCollapsesNoSystems(t *testing.T) {
	msgs := buildConversation(5)
	out := formatForProvider(msgs, rulesFor(ProviderC))
	assert.Equal(t, types.KindSystem, out[0].Kind)
}

func TestFormatForProviderMergesMultipleSystemsWhenDisallowed(t *testing.T) {
	msgs := []types.Message{
		{Kind: types.KindSystem, Content: "first"},
		{Kind: types.KindHuman, Content: "hi"},
		{Kind: types.KindSystem, Content: "second"},
	}
	out := formatForProvider(msgs, rulesFor(ProviderA))
	require.Len(t, out, 2)
	assert.Equal(t, types.KindSystem, out[0].Kind)
	assert.Contains(t, out[0].Content, "first")
	assert.Contains(t, out[0].Content, "second")
}
