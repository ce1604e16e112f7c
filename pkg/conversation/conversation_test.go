package conversation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	m := New("ws-1", "profile-1", "kubernetes_triage", "1. gather logs\n2. diagnose", "en-US", "kubectl_logs, kubectl_describe")

	assert.Equal(t, "ws-1", m.WorkspaceID)
	assert.Equal(t, "profile-1", m.ProfileID)
	assert.Equal(t, "kubernetes_triage", m.PackID)
	assert.Equal(t, 0, m.StepCounter)
	assert.Empty(t, m.Turns())
	assert.Empty(t, m.StructuredOutputs())
}

func TestAppendTurn(t *testing.T) {
	m := New("ws-1", "profile-1", "pack", "sop", "en-US", "")
	m.AppendTurn(RoleSystem, "you are a triage agent")
	m.AppendTurn(RoleUser, "pod foo is crashlooping")
	m.AppendTurn(RoleAssistant, "let me check the logs")

	turns := m.Turns()
	require.Len(t, turns, 3)
	assert.Equal(t, RoleSystem, turns[0].Role)
	assert.Equal(t, RoleUser, turns[1].Role)
	assert.Equal(t, RoleAssistant, turns[2].Role)
	assert.Equal(t, "let me check the logs", turns[2].Content)
}

func TestNextStep(t *testing.T) {
	t.Run("advances sequentially from zero", func(t *testing.T) {
		m := New("ws-1", "profile-1", "pack", "sop", "en-US", "")
		assert.Equal(t, 0, m.NextStep())
		assert.Equal(t, 1, m.NextStep())
		assert.Equal(t, 2, m.NextStep())
	})

	t.Run("skips indices named in the variant", func(t *testing.T) {
		m := New("ws-1", "profile-1", "pack", "sop", "en-US", "")
		m.Variant.SkipSteps = []int{1}
		assert.Equal(t, 0, m.NextStep())
		assert.Equal(t, 2, m.NextStep(), "step 1 is skipped")
	})
}

func TestStructuredOutputs(t *testing.T) {
	m := New("ws-1", "profile-1", "pack", "sop", "en-US", "")

	_, ok := m.StructuredOutput("diagnose")
	assert.False(t, ok)

	m.SetStructuredOutput("diagnose", map[string]interface{}{"root_cause": "OOMKilled"})

	v, ok := m.StructuredOutput("diagnose")
	require.True(t, ok)
	assert.Equal(t, "OOMKilled", v.(map[string]interface{})["root_cause"])
}

func TestSerializeDeserialize_RoundTrip(t *testing.T) {
	m := New("ws-1", "profile-42", "kubernetes_triage", "1. gather\n2. fix", "en-US", "kubectl_logs, kubectl_restart")
	m.AppendTurn(RoleSystem, "system prompt")
	m.AppendTurn(RoleUser, "investigate pod foo")
	m.AppendTurn(RoleAssistant, "checking now")
	m.NextStep()
	m.NextStep()
	m.SetStructuredOutput("gather", map[string]interface{}{"logs": "OOMKilled at 12:01"})
	m.Variant.SkipSteps = []int{3}
	m.Variant.ExtraChecklistItems = []string{"check node pressure"}

	state := m.Serialize()

	restored, err := Deserialize(state)
	require.NoError(t, err)

	assert.Equal(t, m.WorkspaceID, restored.WorkspaceID)
	assert.Equal(t, m.ProfileID, restored.ProfileID)
	assert.Equal(t, m.PackID, restored.PackID)
	assert.Equal(t, m.SOPBody, restored.SOPBody)
	assert.Equal(t, m.Locale, restored.Locale)
	assert.Equal(t, m.ToolCatalog, restored.ToolCatalog)
	assert.Equal(t, m.StepCounter, restored.StepCounter)
	assert.Equal(t, m.Turns(), restored.Turns())
	assert.Equal(t, m.Variant.SkipSteps, restored.Variant.SkipSteps)
	assert.Equal(t, m.Variant.ExtraChecklistItems, restored.Variant.ExtraChecklistItems)

	v, ok := restored.StructuredOutput("gather")
	require.True(t, ok)
	assert.Equal(t, "OOMKilled at 12:01", v.(map[string]interface{})["logs"])

	// Resumed execution must be able to keep stepping forward.
	assert.Equal(t, 2, restored.NextStep())
}

func TestDeserialize_EmptyState(t *testing.T) {
	m, err := Deserialize(map[string]interface{}{})
	require.NoError(t, err)
	assert.Equal(t, 0, m.StepCounter)
	assert.Empty(t, m.Turns())
	assert.Empty(t, m.StructuredOutputs())
}

func TestDeserialize_JSONRoundTripNumericTypes(t *testing.T) {
	// After a real JSON marshal/unmarshal cycle (as happens through ent's
	// JSON column), numbers arrive as float64 and nested objects as
	// map[string]interface{} / []interface{} — not the original Go types.
	state := map[string]interface{}{
		"workspace_id": "ws-1",
		"step_counter": float64(4),
		"variant": map[string]interface{}{
			"skip_steps": []interface{}{float64(1), float64(2)},
		},
	}

	m, err := Deserialize(state)
	require.NoError(t, err)
	assert.Equal(t, 4, m.StepCounter)
	assert.Equal(t, []int{1, 2}, m.Variant.SkipSteps)
}
