package runner

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/google/uuid"
	"github.com/haasonsaas/playbookengine/ent"
	"github.com/haasonsaas/playbookengine/ent/task"
	"github.com/haasonsaas/playbookengine/pkg/config"
	"github.com/haasonsaas/playbookengine/pkg/conversation"
	"github.com/haasonsaas/playbookengine/pkg/eventlog"
	"github.com/haasonsaas/playbookengine/pkg/llm"
)

// StartInput carries start_playbook_execution's parameters (spec.md
// §4.3). Variant is accepted pre-resolved rather than as a bare
// variant_id: the spec names a variant_id parameter but never defines
// where variant definitions live, so resolving variant_id -> Variant is
// left to the caller (HTTP handler, coordinator) that owns whatever
// variant store it chooses.
type StartInput struct {
	PackID      string
	PrincipalID string
	Inputs      map[string]interface{}
	WorkspaceID string
	Locale      string
	Variant     conversation.Variant

	TriggerSource string
	IntentID      string
	SuggestionID  string
}

// StartOutput is start_playbook_execution's return value.
type StartOutput struct {
	ExecutionID         string
	Message             string
	IsComplete          bool
	ConversationHistory []conversation.Turn
}

// phaseMarkerRe counts "### Phase N:" markers in a SOP body to infer
// total_steps for a conversational playbook with no structured step
// list (spec.md §4.3 step 1).
var phaseMarkerRe = regexp.MustCompile(`(?m)^###\s*Phase\s+\d+`)

func countPhaseMarkers(sopBody string) int {
	return len(phaseMarkerRe.FindAllString(sopBody, -1))
}

// resolveTotalSteps implements spec.md §4.3 step 1: prefer an explicit
// structured step list (config.PlaybookConfig.StepSchema's top-level
// "steps" array, when present) over counting "### Phase N:" markers in
// the SOP body, defaulting to 1 for a purely conversational playbook.
func resolveTotalSteps(pb *config.PlaybookConfig) int {
	if steps, ok := pb.StepSchema["steps"].([]interface{}); ok && len(steps) > 0 {
		return len(steps)
	}
	if n := countPhaseMarkers(pb.SOPBody); n > 0 {
		return n
	}
	return 1
}

// StartPlaybookExecution implements spec.md §4.3's 8-step contract,
// creating its own task row up front as StatusRunning. Used by callers
// that start an execution synchronously within the calling request
// (Execution Chat's continue-on-confirm path, tests). Callers that
// want claim/heartbeat/reap semantics (pkg/queue's Scheduler) should
// instead create a pending task directly (pkg/coordinator does this
// for auto-executed proposals) and drive it through RunClaimedTask.
func (r *Runner) StartPlaybookExecution(ctx context.Context, in StartInput) (*StartOutput, error) {
	executionID := uuid.New().String()
	execCtx := map[string]interface{}{
		"trigger_source": in.TriggerSource,
	}
	if in.IntentID != "" {
		execCtx["intent_id"] = in.IntentID
	}
	if in.SuggestionID != "" {
		execCtx["suggestion_id"] = in.SuggestionID
	}

	t, err := r.client.Task.Create().
		SetID(executionID).
		SetWorkspaceID(in.WorkspaceID).
		SetExecutionID(executionID).
		SetPackID(in.PackID).
		SetTaskType(task.TaskTypePlaybookExecution).
		SetStatus(task.StatusRunning).
		SetParams(in.Inputs).
		SetExecutionContext(execCtx).
		SetStartedAt(time.Now()).
		Save(ctx)
	if err != nil {
		return nil, fmt.Errorf("runner: creating task for pack %q: %w", in.PackID, err)
	}

	return r.runFirstTurn(ctx, t, in)
}

// RunClaimedTask drives the first turn of a playbook execution for an
// already-existing task row that a Scheduler has just claimed via
// pkg/store.TaskStore.TryClaim (status already StatusRunning). taskID
// and execution_id are the same value throughout this package's
// convention. The task's params, pack_id, workspace_id and
// execution_context (trigger_source/principal_id/intent_id/
// suggestion_id, set by whichever component created the pending row —
// see pkg/coordinator.createExecutionTask) drive the run in place of a
// StartInput.
func (r *Runner) RunClaimedTask(ctx context.Context, taskID string) (*StartOutput, error) {
	t, err := r.client.Task.Get(ctx, taskID)
	if err != nil {
		return nil, fmt.Errorf("runner: loading claimed task %s: %w", taskID, err)
	}

	in := StartInput{
		PackID:        t.PackID,
		PrincipalID:   stringField(t.ExecutionContext, "principal_id"),
		Inputs:        t.Params,
		WorkspaceID:   t.WorkspaceID,
		Locale:        stringField(t.ExecutionContext, "locale"),
		TriggerSource: stringField(t.ExecutionContext, "trigger_source"),
		IntentID:      stringField(t.ExecutionContext, "intent_id"),
		SuggestionID:  stringField(t.ExecutionContext, "suggestion_id"),
	}

	if t.StartedAt.IsZero() {
		if _, err := r.client.Task.UpdateOne(t).SetStartedAt(time.Now()).Save(ctx); err != nil {
			return nil, fmt.Errorf("runner: marking claimed task %s started: %w", taskID, err)
		}
	}

	return r.runFirstTurn(ctx, t, in)
}

// runFirstTurn is the shared body of StartPlaybookExecution and
// RunClaimedTask: resolve the playbook, seed the conversation, call
// the LLM once, and persist the first step. t must already be
// StatusRunning with ID == ExecutionID == in's execution identity.
func (r *Runner) runFirstTurn(ctx context.Context, t *ent.Task, in StartInput) (*StartOutput, error) {
	executionID := t.ID

	pb, err := r.playbooks.Get(in.PackID)
	if err != nil {
		return nil, r.fail(ctx, t, fmt.Errorf("runner: resolving playbook %q: %w", in.PackID, err))
	}
	totalSteps := resolveTotalSteps(pb)

	catalog := ""
	if r.toolCatalog != nil {
		catalog, err = r.toolCatalog(ctx, in.WorkspaceID)
		if err != nil {
			return nil, r.fail(ctx, t, fmt.Errorf("runner: loading tool catalog: %w", err))
		}
	}

	conv := conversation.New(in.WorkspaceID, in.PrincipalID, in.PackID, pb.SOPBody, effectiveLocale(in.Locale), catalog)
	conv.Variant = in.Variant

	conv.AppendTurn(conversation.RoleSystem, buildSystemPrompt(pb.SOPBody, conv.Variant, conv.Locale, catalog))
	conv.AppendTurn(conversation.RoleUser, "Begin.")

	provider, model, err := r.providerFor(in.PackID)
	if err != nil {
		return nil, r.fail(ctx, t, err)
	}

	resp, err := callLLM(ctx, provider, model, conv, nil)
	if err != nil {
		return nil, r.fail(ctx, t, fmt.Errorf("runner: calling llm: %w", err))
	}
	conv.AppendTurn(conversation.RoleAssistant, resp.Content)
	conv.NextStep()

	if err := r.events.AppendPlaybookStep(ctx, in.WorkspaceID, eventlog.PlaybookStepPayload{
		ExecutionID: executionID,
		StepIndex:   1,
		StepName:    "step_1",
		Status:      "completed",
		LogSummary:  stepPreview(resp.Content),
		TotalSteps:  totalSteps,
	}); err != nil {
		return nil, r.fail(ctx, t, fmt.Errorf("runner: recording step event: %w", err))
	}

	ec := cloneExecutionContext(t.ExecutionContext)
	ec["current_step_index"] = 0
	ec["total_steps"] = totalSteps
	if _, err := r.client.Task.UpdateOne(t).SetExecutionContext(ec).Save(ctx); err != nil {
		return nil, r.fail(ctx, t, fmt.Errorf("runner: updating execution context: %w", err))
	}

	if err := r.turns.SaveTurn(ctx, executionID, conv, 0, totalSteps); err != nil {
		return nil, r.fail(ctx, t, err)
	}
	if r.snapshots != nil {
		snap := snapshotFrom(conv, in.IntentID, in.SuggestionID, []string{stepPreview(resp.Content)}, nil)
		_ = r.snapshots.Snapshot(ctx, executionID, executionID, snap, true)
	}

	r.conv.set(executionID, conv)

	return &StartOutput{
		ExecutionID:         executionID,
		Message:             resp.Content,
		IsComplete:          false,
		ConversationHistory: conv.Turns(),
	}, nil
}

func effectiveLocale(locale string) string {
	if locale == "" {
		return "en"
	}
	return locale
}

func cloneExecutionContext(m map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(m)+2)
	for k, v := range m {
		out[k] = v
	}
	return out
}

// buildSystemPrompt assembles the system turn a Conversation Manager is
// seeded with (spec.md §4.3 step 3): the SOP body, variant overrides,
// the explicit language instruction, and the literal structured-output
// instruction shape §4.4 step 4 knows how to parse back out.
func buildSystemPrompt(sopBody string, variant conversation.Variant, locale, toolCatalog string) string {
	prompt := sopBody + "\n\n"
	prompt += fmt.Sprintf("Respond only in the language with locale code %q.\n", locale)

	if len(variant.SkipSteps) > 0 {
		prompt += fmt.Sprintf("Skip the steps at these 0-based indices: %v.\n", variant.SkipSteps)
	}
	if len(variant.ExtraChecklistItems) > 0 {
		prompt += "Additionally verify:\n"
		for _, item := range variant.ExtraChecklistItems {
			prompt += "- " + item + "\n"
		}
	}

	if toolCatalog != "" {
		prompt += "\nAvailable tools:\n" + toolCatalog + "\n"
	}

	prompt += "\nWhen the playbook is complete, finish your final reply with a line beginning " +
		"\"STRUCTURED_OUTPUT:\" followed by a single JSON object capturing the result. " +
		"To invoke a tool, emit a JSON object of the shape " +
		`{"tool_call": {"tool_name": "...", "parameters": {...}}}` + "."
	return prompt
}

func callLLM(ctx context.Context, provider llm.Provider, model string, conv *conversation.Manager, tools []llm.ToolDefinition) (*llm.ChatResponse, error) {
	messages := make([]llm.Message, 0, len(conv.Turns()))
	for _, t := range conv.Turns() {
		messages = append(messages, llm.Message{Role: llm.Role(t.Role), Content: t.Content})
	}
	return provider.Chat(ctx, llm.ChatRequest{
		Model:    model,
		Messages: messages,
		Tools:    tools,
	})
}
