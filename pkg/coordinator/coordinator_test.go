package coordinator

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/haasonsaas/playbookengine/ent"
	"github.com/haasonsaas/playbookengine/ent/workspace"
	"github.com/haasonsaas/playbookengine/pkg/config"
	"github.com/haasonsaas/playbookengine/pkg/masking"
	testdb "github.com/haasonsaas/playbookengine/test/database"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestWorkspace(t *testing.T, client *ent.Client, mode workspace.ExecutionMode, priority workspace.Priority) *ent.Workspace {
	t.Helper()
	ctx := context.Background()
	ws, err := client.Workspace.Create().
		SetID(uuid.New().String()).
		SetOwnerPrincipalID("principal-1").
		SetStorageRoot("/tmp/ws").
		SetExecutionMode(mode).
		SetPriority(priority).
		Save(ctx)
	require.NoError(t, err)
	return ws
}

func newTestRegistry(packs ...*config.PlaybookConfig) *config.PlaybookRegistry {
	m := make(map[string]*config.PlaybookConfig, len(packs))
	for _, p := range packs {
		m[p.PackID] = p
	}
	return config.NewPlaybookRegistry(m)
}

func TestEvaluate_InvalidPack(t *testing.T) {
	client := testdb.NewTestClient(t)
	registry := newTestRegistry()
	c := NewCoordinator(client.Client, registry, nil, nil)
	ctx := context.Background()

	ws := newTestWorkspace(t, client.Client, workspace.ExecutionModeQa, workspace.PriorityMedium)

	result, err := c.Evaluate(ctx, ws, "user-1", Proposal{PackID: "nonexistent_pack", Confidence: 0.9})
	require.NoError(t, err)
	assert.Equal(t, OutcomeSkipped, result.Outcome)
	assert.Equal(t, ReasonInvalidPlaybook, result.SkipReason)
}

func TestEvaluate_BuiltinPackAlwaysValid(t *testing.T) {
	client := testdb.NewTestClient(t)
	registry := newTestRegistry()
	c := NewCoordinator(client.Client, registry, nil, nil)
	ctx := context.Background()

	ws := newTestWorkspace(t, client.Client, workspace.ExecutionModeQa, workspace.PriorityMedium)

	result, err := c.Evaluate(ctx, ws, "user-1", Proposal{PackID: "intent_extraction", Confidence: 0.1})
	require.NoError(t, err)
	assert.Equal(t, OutcomeSuggested, result.Outcome)
}

func TestEvaluate_ReadonlyExecutionModeAboveThreshold(t *testing.T) {
	client := testdb.NewTestClient(t)
	registry := newTestRegistry(&config.PlaybookConfig{
		PackID:         "log_triage",
		SideEffectTier: config.SideEffectTierReadonly,
	})
	c := NewCoordinator(client.Client, registry, nil, nil)
	ctx := context.Background()

	ws := newTestWorkspace(t, client.Client, workspace.ExecutionModeExecution, workspace.PriorityMedium)

	result, err := c.Evaluate(ctx, ws, "user-1", Proposal{PackID: "log_triage", Confidence: 0.80})
	require.NoError(t, err)
	assert.Equal(t, OutcomeExecuteNow, result.Outcome)
}

func TestEvaluate_ReadonlyExecutionModeBelowThreshold(t *testing.T) {
	client := testdb.NewTestClient(t)
	registry := newTestRegistry(&config.PlaybookConfig{
		PackID:         "log_triage",
		SideEffectTier: config.SideEffectTierReadonly,
	})
	c := NewCoordinator(client.Client, registry, nil, nil)
	ctx := context.Background()

	ws := newTestWorkspace(t, client.Client, workspace.ExecutionModeExecution, workspace.PriorityMedium)

	result, err := c.Evaluate(ctx, ws, "user-1", Proposal{PackID: "log_triage", Confidence: 0.50})
	require.NoError(t, err)
	assert.Equal(t, OutcomeSuggested, result.Outcome)
}

func TestEvaluate_ReadonlyQAModeNeverAutoExecutes(t *testing.T) {
	client := testdb.NewTestClient(t)
	registry := newTestRegistry(&config.PlaybookConfig{
		PackID:         "log_triage",
		SideEffectTier: config.SideEffectTierReadonly,
	})
	c := NewCoordinator(client.Client, registry, nil, nil)
	ctx := context.Background()

	ws := newTestWorkspace(t, client.Client, workspace.ExecutionModeQa, workspace.PriorityHigh)

	result, err := c.Evaluate(ctx, ws, "user-1", Proposal{PackID: "log_triage", Confidence: 0.99})
	require.NoError(t, err)
	assert.Equal(t, OutcomeSuggested, result.Outcome, "qa mode never auto-executes, regardless of confidence")
}

func TestEvaluate_SoftWriteRequiresPerPackOverride(t *testing.T) {
	client := testdb.NewTestClient(t)
	registry := newTestRegistry(&config.PlaybookConfig{
		PackID:         "restart_pod",
		SideEffectTier: config.SideEffectTierSoftWrite,
	})
	c := NewCoordinator(client.Client, registry, nil, nil)
	ctx := context.Background()

	t.Run("no override never auto-executes", func(t *testing.T) {
		ws := newTestWorkspace(t, client.Client, workspace.ExecutionModeExecution, workspace.PriorityLow)
		result, err := c.Evaluate(ctx, ws, "user-1", Proposal{PackID: "restart_pod", Confidence: 0.99})
		require.NoError(t, err)
		assert.Equal(t, OutcomeSuggested, result.Outcome)
	})

	t.Run("override with met threshold executes now", func(t *testing.T) {
		ws := newTestWorkspace(t, client.Client, workspace.ExecutionModeExecution, workspace.PriorityLow)
		ws, err := ws.Update().SetAutoExecutionConfig(map[string]interface{}{
			"restart_pod": map[string]interface{}{
				"confidence_threshold": 0.7,
				"auto_execute":         true,
			},
		}).Save(ctx)
		require.NoError(t, err)

		result, err := c.Evaluate(ctx, ws, "user-1", Proposal{PackID: "restart_pod", Confidence: 0.8})
		require.NoError(t, err)
		assert.Equal(t, OutcomeExecuteNow, result.Outcome)
	})

	t.Run("override below threshold creates a suggestion", func(t *testing.T) {
		ws := newTestWorkspace(t, client.Client, workspace.ExecutionModeExecution, workspace.PriorityLow)
		ws, err := ws.Update().SetAutoExecutionConfig(map[string]interface{}{
			"restart_pod": map[string]interface{}{
				"confidence_threshold": 0.9,
				"auto_execute":         true,
			},
		}).Save(ctx)
		require.NoError(t, err)

		result, err := c.Evaluate(ctx, ws, "user-1", Proposal{PackID: "restart_pod", Confidence: 0.5})
		require.NoError(t, err)
		assert.Equal(t, OutcomeSuggested, result.Outcome)
	})
}

func TestEvaluate_ExternalWriteAlwaysSuggests(t *testing.T) {
	client := testdb.NewTestClient(t)
	registry := newTestRegistry(&config.PlaybookConfig{
		PackID:         "send_email",
		SideEffectTier: config.SideEffectTierExternalWrite,
	})
	c := NewCoordinator(client.Client, registry, nil, nil)
	ctx := context.Background()

	ws := newTestWorkspace(t, client.Client, workspace.ExecutionModeExecution, workspace.PriorityHigh)
	ws, err := ws.Update().SetAutoExecutionConfig(map[string]interface{}{
		"send_email": map[string]interface{}{"confidence_threshold": 0.1, "auto_execute": true},
	}).Save(ctx)
	require.NoError(t, err)

	result, err := c.Evaluate(ctx, ws, "user-1", Proposal{PackID: "send_email", Confidence: 0.99})
	require.NoError(t, err)
	assert.Equal(t, OutcomeSuggested, result.Outcome, "external_write always requires explicit user consent")
}

func TestEvaluate_SuggestionCarriesNormalizedAnalysis(t *testing.T) {
	client := testdb.NewTestClient(t)
	registry := newTestRegistry(&config.PlaybookConfig{
		PackID:         "habit_learning",
		SideEffectTier: config.SideEffectTierReadonly,
		IsBackground:   true,
	})
	c := NewCoordinator(client.Client, registry, nil, nil)
	ctx := context.Background()

	ws := newTestWorkspace(t, client.Client, workspace.ExecutionModeQa, workspace.PriorityMedium)

	result, err := c.Evaluate(ctx, ws, "user-1", Proposal{
		PackID:          "habit_learning",
		Confidence:      0.3,
		Reason:          "recurring pattern detected",
		ContentTags:     []string{"habit", "recurring"},
		AnalysisSummary: "user does X every Monday",
	})
	require.NoError(t, err)
	require.Equal(t, OutcomeSuggested, result.Outcome)
	require.NotNil(t, result.Task)

	assert.Equal(t, 0.3, result.Task.Params["confidence"])
	assert.Equal(t, "recurring pattern detected", result.Task.Params["reason"])
	assert.Equal(t, "user does X every Monday", result.Task.Params["analysis_summary"])
	assert.Equal(t, true, result.Task.Params["is_background"])
}

func TestEvaluate_SuggestionParamsAreMasked(t *testing.T) {
	client := testdb.NewTestClient(t)
	registry := newTestRegistry(&config.PlaybookConfig{
		PackID:         "log_triage",
		SideEffectTier: config.SideEffectTierReadonly,
	})
	defaults := &config.Defaults{
		ParamsMasking: &config.ParamsMaskingDefaults{Enabled: true, PatternGroup: "basic"},
	}
	c := NewCoordinator(client.Client, registry, masking.NewService(), defaults)
	ctx := context.Background()

	ws := newTestWorkspace(t, client.Client, workspace.ExecutionModeQa, workspace.PriorityMedium)

	result, err := c.Evaluate(ctx, ws, "user-1", Proposal{
		PackID:     "log_triage",
		Confidence: 0.3,
		Params:     map[string]interface{}{"api_key": `sk-FAKE-NOT-REAL-API-KEY-XXXX`},
	})
	require.NoError(t, err)
	require.Equal(t, OutcomeSuggested, result.Outcome)
	require.NotNil(t, result.Task)

	assert.Contains(t, result.Task.Params["api_key"], "[MASKED_API_KEY]")
}

func TestEvaluate_AutoSuggestDisabledPreference(t *testing.T) {
	client := testdb.NewTestClient(t)
	registry := newTestRegistry(&config.PlaybookConfig{
		PackID:         "log_triage",
		SideEffectTier: config.SideEffectTierReadonly,
	})
	c := NewCoordinator(client.Client, registry, nil, nil)
	ctx := context.Background()

	ws := newTestWorkspace(t, client.Client, workspace.ExecutionModeQa, workspace.PriorityMedium)

	_, err := client.Preference.Create().
		SetID(uuid.New().String()).
		SetWorkspaceID(ws.ID).
		SetUserID("user-1").
		SetPackID("log_triage").
		SetTaskType("suggestion").
		SetAutoSuggestDisabled(true).
		Save(ctx)
	require.NoError(t, err)

	result, err := c.Evaluate(ctx, ws, "user-1", Proposal{PackID: "log_triage", Confidence: 0.99})
	require.NoError(t, err)
	assert.Equal(t, OutcomeSkipped, result.Outcome)
	assert.Equal(t, ReasonAutoSuggestDisabled, result.SkipReason)
}

func TestEvaluate_DuplicateSuppression(t *testing.T) {
	client := testdb.NewTestClient(t)
	registry := newTestRegistry(&config.PlaybookConfig{
		PackID:         "log_triage",
		SideEffectTier: config.SideEffectTierReadonly,
	})
	c := NewCoordinator(client.Client, registry, nil, nil)
	ctx := context.Background()

	ws := newTestWorkspace(t, client.Client, workspace.ExecutionModeQa, workspace.PriorityMedium)

	params := map[string]interface{}{"source": "alert-1", "files": []interface{}{"a.log", "b.log"}}

	first, err := c.Evaluate(ctx, ws, "user-1", Proposal{PackID: "log_triage", Confidence: 0.5, Params: params})
	require.NoError(t, err)
	require.Equal(t, OutcomeSuggested, first.Outcome)

	t.Run("matching source and files reuses the existing task", func(t *testing.T) {
		second, err := c.Evaluate(ctx, ws, "user-1", Proposal{PackID: "log_triage", Confidence: 0.5, Params: params})
		require.NoError(t, err)
		assert.Equal(t, OutcomeDuplicate, second.Outcome)
		assert.Equal(t, first.Task.ID, second.Task.ID)
	})

	t.Run("different files create a new task", func(t *testing.T) {
		different := map[string]interface{}{"source": "alert-1", "files": []interface{}{"c.log"}}
		third, err := c.Evaluate(ctx, ws, "user-1", Proposal{PackID: "log_triage", Confidence: 0.5, Params: different})
		require.NoError(t, err)
		require.Equal(t, OutcomeSuggested, third.Outcome)
		assert.NotEqual(t, first.Task.ID, third.Task.ID)
	})
}

func TestFallbackToSuggestion(t *testing.T) {
	client := testdb.NewTestClient(t)
	registry := newTestRegistry(&config.PlaybookConfig{
		PackID:         "log_triage",
		SideEffectTier: config.SideEffectTierReadonly,
	})
	c := NewCoordinator(client.Client, registry, nil, nil)
	ctx := context.Background()

	ws := newTestWorkspace(t, client.Client, workspace.ExecutionModeQa, workspace.PriorityMedium)

	t.Run("no pending task falls back to a suggestion", func(t *testing.T) {
		result, err := c.FallbackToSuggestion(ctx, ws, "user-1", Proposal{PackID: "log_triage", Confidence: 0.5})
		require.NoError(t, err)
		assert.Equal(t, OutcomeSuggested, result.Outcome)
	})

	t.Run("an existing pending task prevents a suggestion loop", func(t *testing.T) {
		result, err := c.FallbackToSuggestion(ctx, ws, "user-1", Proposal{PackID: "log_triage", Confidence: 0.5})
		require.NoError(t, err)
		assert.Equal(t, OutcomeSkipped, result.Outcome)
		assert.Equal(t, ReasonPendingTaskExists, result.SkipReason)
	})
}
