package runner

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/haasonsaas/playbookengine/ent"
	"github.com/haasonsaas/playbookengine/ent/playbookexecution"
	"github.com/haasonsaas/playbookengine/ent/stageresult"
	"github.com/haasonsaas/playbookengine/ent/task"
	"github.com/haasonsaas/playbookengine/pkg/checkpoint"
	"github.com/haasonsaas/playbookengine/pkg/conversation"
	"github.com/haasonsaas/playbookengine/pkg/eventlog"
	"github.com/haasonsaas/playbookengine/pkg/llm"
	"github.com/haasonsaas/playbookengine/pkg/toolexec"
)

// ContinueInput carries continue_playbook_execution's parameters
// (spec.md §4.4).
type ContinueInput struct {
	ExecutionID string
	UserMessage string
	PrincipalID string
}

// ContinueOutput is continue_playbook_execution's return value.
type ContinueOutput struct {
	Message             string
	IsComplete          bool
	StructuredOutput    map[string]interface{}
	ConversationHistory []conversation.Turn
}

// ContinuePlaybookExecution implements spec.md §4.4's 10-step contract.
// Two concurrent calls on the same execution_id serialize on the
// per-key lock held by r.conv; different executions run in parallel.
func (r *Runner) ContinuePlaybookExecution(ctx context.Context, in ContinueInput) (*ContinueOutput, error) {
	lock := r.conv.lockFor(in.ExecutionID)
	lock.Lock()
	defer lock.Unlock()

	conv, t, err := r.restoreConversation(ctx, in.ExecutionID)
	if err != nil {
		return nil, err
	}

	conv.AppendTurn(conversation.RoleUser, in.UserMessage)
	if err := r.events.AppendMessage(ctx, conv.WorkspaceID, in.ExecutionID, eventlog.MessagePayload{Role: "user", Content: in.UserMessage}); err != nil {
		return nil, r.fail(ctx, t, fmt.Errorf("runner: recording message event: %w", err))
	}

	provider, model, err := r.providerFor(t.PackID)
	if err != nil {
		return nil, r.fail(ctx, t, err)
	}

	finalResponse, usedTools, err := r.runToolLoop(ctx, t, conv, provider, model)
	if err != nil {
		return nil, r.fail(ctx, t, err)
	}

	structuredOutput, isComplete := ExtractStructuredOutput(finalResponse)

	priorSteps, err := r.events.ListPlaybookSteps(ctx, conv.WorkspaceID, in.ExecutionID)
	if err != nil {
		return nil, r.fail(ctx, t, fmt.Errorf("runner: listing step events: %w", err))
	}

	nextIndex := conv.NextStep()
	totalSteps := nextIndex + 1
	if n := len(priorSteps) + 1; n > totalSteps {
		totalSteps = n
	}

	if len(priorSteps) > 0 {
		prev := priorSteps[len(priorSteps)-1]
		if status, _ := prev.Payload["status"].(string); status != "completed" {
			_ = r.events.UpdateStepPayload(ctx, prev, map[string]interface{}{"status": "completed"})
		}
	}

	if err := r.events.AppendPlaybookStep(ctx, conv.WorkspaceID, eventlog.PlaybookStepPayload{
		ExecutionID: in.ExecutionID,
		StepIndex:   nextIndex + 1,
		StepName:    fmt.Sprintf("step_%d", nextIndex+1),
		Status:      "completed",
		UsedTools:   usedTools,
		LogSummary:  stepPreview(finalResponse),
		TotalSteps:  totalSteps,
	}); err != nil {
		return nil, r.fail(ctx, t, fmt.Errorf("runner: recording step event: %w", err))
	}

	for _, evt := range priorSteps {
		if n, _ := evt.Payload["total_steps"].(float64); int(n) != totalSteps {
			_ = r.events.UpdateStepPayload(ctx, evt, map[string]interface{}{"total_steps": totalSteps})
		}
	}

	currentStepIndex := nextIndex
	if currentStepIndex < 0 {
		currentStepIndex = 0
	}

	if isComplete {
		if err := r.complete(ctx, t, in.ExecutionID, structuredOutput); err != nil {
			return nil, r.fail(ctx, t, err)
		}
	} else {
		ec := cloneExecutionContext(t.ExecutionContext)
		ec["current_step_index"] = currentStepIndex
		ec["total_steps"] = totalSteps
		if _, err := r.client.Task.UpdateOne(t).SetExecutionContext(ec).Save(ctx); err != nil {
			return nil, r.fail(ctx, t, fmt.Errorf("runner: updating execution context: %w", err))
		}
	}

	if err := r.turns.SaveTurn(ctx, in.ExecutionID, conv, currentStepIndex, totalSteps); err != nil {
		return nil, r.fail(ctx, t, err)
	}
	if r.snapshots != nil {
		snap := snapshotFrom(
			conv,
			stringField(t.ExecutionContext, "intent_id"),
			stringField(t.ExecutionContext, "suggestion_id"),
			collectLogSummaries(priorSteps, finalResponse),
			nil,
		)
		_ = r.snapshots.Snapshot(ctx, in.ExecutionID, in.ExecutionID, snap, !isComplete)
	}

	if isComplete {
		r.conv.evict(in.ExecutionID)
	}

	return &ContinueOutput{
		Message:             finalResponse,
		IsComplete:          isComplete,
		StructuredOutput:    structuredOutput,
		ConversationHistory: conv.Turns(),
	}, nil
}

// restoreConversation returns the in-memory Conversation Manager for
// executionID if one is registered, otherwise rehydrates it from the
// task's stored conversation_state (spec.md §4.4 step 1, §4.6
// "Restore"), re-priming the cached tool catalog from the workspace.
func (r *Runner) restoreConversation(ctx context.Context, executionID string) (*conversation.Manager, *ent.Task, error) {
	t, err := r.client.Task.Get(ctx, executionID)
	if err != nil {
		return nil, nil, fmt.Errorf("runner: loading task %s: %w", executionID, err)
	}

	if conv, ok := r.conv.get(executionID); ok {
		return conv, t, nil
	}

	conv, err := checkpoint.Restore(t)
	if err != nil {
		return nil, nil, err
	}
	if r.toolCatalog != nil {
		if catalog, err := r.toolCatalog(ctx, conv.WorkspaceID); err == nil {
			conv.ToolCatalog = catalog
		}
	}
	r.conv.set(executionID, conv)
	return conv, t, nil
}

// toolCallOutcome pairs a parsed directive with its dispatch result, for
// the system-turn summary spec.md §4.4 step 3 injects.
type toolCallOutcome struct {
	ToolName string
	Result   *toolexec.Result
}

// runToolLoop implements spec.md §4.4 step 3's tool-call inner loop,
// bounded at maxToolIterations. It returns the final assistant response
// text (the one with zero parsed tool calls, or the last one produced
// before the loop gave up) and the flattened list of tool names invoked
// across all iterations.
func (r *Runner) runToolLoop(ctx context.Context, t *ent.Task, conv *conversation.Manager, provider llm.Provider, model string) (string, []string, error) {
	var finalResponse string
	var usedTools []string

	for i := 0; i < maxToolIterations; i++ {
		resp, err := callLLM(ctx, provider, model, conv, nil)
		if err != nil {
			return "", usedTools, fmt.Errorf("runner: calling llm: %w", err)
		}
		conv.AppendTurn(conversation.RoleAssistant, resp.Content)
		finalResponse = resp.Content

		calls := ParseToolCalls(resp.Content)
		if len(calls) == 0 {
			break
		}

		outcomes := make([]toolCallOutcome, 0, len(calls))
		anySucceeded := false
		for _, c := range calls {
			usedTools = append(usedTools, c.ToolName)
			result, err := r.tools.Run(ctx, toolexec.Call{
				ToolFQN:     c.ToolName,
				PrincipalID: conv.ProfileID,
				WorkspaceID: conv.WorkspaceID,
				ExecutionID: t.ID,
				Params:      c.Parameters,
			})
			if err != nil {
				return "", usedTools, fmt.Errorf("runner: dispatching tool %s: %w", c.ToolName, err)
			}
			if !result.IsError {
				anySucceeded = true
			}
			outcomes = append(outcomes, toolCallOutcome{ToolName: c.ToolName, Result: result})
		}

		conv.AppendTurn(conversation.RoleSystem, summarizeToolResults(outcomes))

		if !anySucceeded {
			break
		}
	}

	return finalResponse, usedTools, nil
}

func summarizeToolResults(outcomes []toolCallOutcome) string {
	var b strings.Builder
	b.WriteString("Tool results:\n")
	for _, o := range outcomes {
		if o.Result.IsError {
			b.WriteString(fmt.Sprintf("- %s: failed: %s\n", o.ToolName, truncate(o.Result.Error, toolResultExcerptLen)))
			continue
		}
		b.WriteString(fmt.Sprintf("- %s: ok: %s\n", o.ToolName, truncate(fmt.Sprintf("%v", o.Result.Response), toolResultExcerptLen)))
	}
	return b.String()
}

// complete implements spec.md §4.4 step 8: mark the task succeeded,
// mirror status to the peer playbook_executions record, fire the
// optional habit-observation hook, and record the structured output as
// a draft stage_result.
func (r *Runner) complete(ctx context.Context, t *ent.Task, executionID string, structuredOutput map[string]interface{}) error {
	now := time.Now()
	if _, err := r.client.Task.UpdateOne(t).
		SetStatus(task.StatusSucceeded).
		SetResult(structuredOutput).
		SetCompletedAt(now).
		Save(ctx); err != nil {
		return fmt.Errorf("runner: marking task %s succeeded: %w", t.ID, err)
	}

	if r.snapshots != nil {
		_ = r.snapshots.MirrorStatus(ctx, executionID, playbookexecution.StatusSucceeded)
	}

	if r.HabitHook != nil {
		go r.HabitHook(executionID, structuredOutput)
	}

	preview := stepPreview(fmt.Sprintf("%v", structuredOutput))
	if _, err := r.client.StageResult.Create().
		SetID(uuid.New().String()).
		SetExecutionID(executionID).
		SetStageName("final_output").
		SetResultType(stageresult.ResultTypeDraft).
		SetContent(structuredOutput).
		SetPreview(preview).
		Save(ctx); err != nil {
		return fmt.Errorf("runner: recording stage result for %s: %w", executionID, err)
	}
	return nil
}

func stringField(m map[string]interface{}, key string) string {
	s, _ := m[key].(string)
	return s
}

func collectLogSummaries(steps []*ent.Event, finalResponse string) []string {
	out := make([]string, 0, len(steps)+1)
	for _, evt := range steps {
		if s, ok := evt.Payload["log_summary"].(string); ok && s != "" {
			out = append(out, s)
		}
	}
	return append(out, stepPreview(finalResponse))
}
