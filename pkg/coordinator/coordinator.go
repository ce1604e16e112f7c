// Package coordinator implements the Execution Coordinator (spec.md
// §4.1): given a candidate task proposal, decides whether to execute it
// now, create a suggestion for later user approval, or skip it.
package coordinator

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/haasonsaas/playbookengine/ent"
	"github.com/haasonsaas/playbookengine/ent/preference"
	"github.com/haasonsaas/playbookengine/ent/task"
	"github.com/haasonsaas/playbookengine/pkg/config"
	"github.com/haasonsaas/playbookengine/pkg/masking"
)

// Outcome is the coordinator's decision for one proposal.
type Outcome string

const (
	OutcomeExecuteNow Outcome = "execute_now"
	OutcomeSuggested  Outcome = "suggestion_created"
	OutcomeDuplicate  Outcome = "duplicate_reused"
	OutcomeSkipped    Outcome = "skipped"
)

// Skip reasons named by spec.md §4.1.
const (
	ReasonInvalidPlaybook     = "invalid_playbook_code"
	ReasonAutoSuggestDisabled = "auto_suggest_disabled"
	ReasonPendingTaskExists   = "pending_task_exists"
)

// duplicateWindow is how far back duplicate suggestion suppression
// looks for an existing pending/running task of the same pack.
const duplicateWindow = time.Hour

// Proposal is one candidate task a coordinator call evaluates.
type Proposal struct {
	PackID          string
	Params          map[string]interface{}
	Confidence      float64
	AutoExecuteHint bool
	Reason          string
	ContentTags     []string
	AnalysisSummary string
}

// Result is the coordinator's decision for one proposal.
type Result struct {
	Outcome    Outcome
	Task       *ent.Task // nil when Outcome is OutcomeSkipped
	SkipReason string
}

// Coordinator wraps *ent.Client and a playbook registry to implement
// the tier-classification / threshold / duplicate-suppression policy,
// grounded on pkg/services/alert_service.go's validate-then-create
// shape and pkg/config/chain.go's registry-lookup pattern. masker and
// defaults may both be nil, in which case params are stored unmasked
// (SPEC_FULL.md §6: masking is ambient hygiene, not a required
// dependency of task creation).
type Coordinator struct {
	client    *ent.Client
	playbooks *config.PlaybookRegistry
	masker    *masking.Service
	defaults  *config.Defaults
}

// NewCoordinator creates a Coordinator. masker/defaults may be nil to
// disable params masking entirely.
func NewCoordinator(client *ent.Client, playbooks *config.PlaybookRegistry, masker *masking.Service, defaults *config.Defaults) *Coordinator {
	return &Coordinator{client: client, playbooks: playbooks, masker: masker, defaults: defaults}
}

// Evaluate decides the outcome for one proposal within workspace, on
// behalf of userID (consulted against suggestion opt-out preferences).
func (c *Coordinator) Evaluate(ctx context.Context, workspace *ent.Workspace, userID string, p Proposal) (*Result, error) {
	tier, valid := c.resolveTier(p.PackID)
	if !valid {
		return &Result{Outcome: OutcomeSkipped, SkipReason: ReasonInvalidPlaybook}, nil
	}

	if c.autoExecuteAllowed(workspace, tier, p.PackID, p.Confidence) {
		t, err := c.createExecutionTask(ctx, workspace, userID, p)
		if err != nil {
			return nil, err
		}
		return &Result{Outcome: OutcomeExecuteNow, Task: t}, nil
	}

	return c.createSuggestionOrSkip(ctx, workspace, userID, p)
}

// createExecutionTask writes a pending playbook_execution task for an
// auto-executed proposal (spec.md §4.1's "execute now" branch). It
// deliberately leaves the task pending rather than calling
// pkg/runner.StartPlaybookExecution inline: pkg/queue's Scheduler
// claims it via pkg/store.TaskStore.TryClaim and drives it through
// pkg/runner.RunClaimedTask, giving auto-executed proposals the same
// claim/heartbeat/reap lifecycle as any other scheduled task.
func (c *Coordinator) createExecutionTask(ctx context.Context, workspace *ent.Workspace, userID string, p Proposal) (*ent.Task, error) {
	id := uuid.New().String()
	execCtx := map[string]interface{}{
		"trigger_source": "coordinator_auto_execute",
		"principal_id":   userID,
	}

	t, err := c.client.Task.Create().
		SetID(id).
		SetWorkspaceID(workspace.ID).
		SetExecutionID(id).
		SetPackID(p.PackID).
		SetTaskType(task.TaskTypePlaybookExecution).
		SetStatus(task.StatusPending).
		SetParams(c.maskParams(p.Params)).
		SetExecutionContext(execCtx).
		Save(ctx)
	if err != nil {
		return nil, fmt.Errorf("coordinator: creating execution task: %w", err)
	}
	return t, nil
}

// FallbackToSuggestion implements the failure semantics of spec.md
// §4.1: a coordinator-level execution failure falls back to a
// suggestion only if no pending task already exists for the pack,
// preventing infinite suggestion loops when a pack is broken.
func (c *Coordinator) FallbackToSuggestion(ctx context.Context, workspace *ent.Workspace, userID string, p Proposal) (*Result, error) {
	exists, err := c.client.Task.Query().
		Where(
			task.WorkspaceIDEQ(workspace.ID),
			task.PackIDEQ(p.PackID),
			task.StatusEQ(task.StatusPending),
		).
		Exist(ctx)
	if err != nil {
		return nil, fmt.Errorf("coordinator: checking for pending task: %w", err)
	}
	if exists {
		return &Result{Outcome: OutcomeSkipped, SkipReason: ReasonPendingTaskExists}, nil
	}

	return c.createSuggestionOrSkip(ctx, workspace, userID, p)
}

// resolveTier returns the pack's side-effect tier and whether the pack
// id is valid (a registered playbook/capability, or a built-in
// special-case pack).
func (c *Coordinator) resolveTier(packID string) (config.SideEffectTier, bool) {
	if pb, err := c.playbooks.Get(packID); err == nil {
		return pb.SideEffectTier, true
	}
	if config.IsBuiltinPack(packID) {
		return config.SideEffectTierReadonly, true
	}
	return "", false
}

// autoExecuteAllowed implements the three-step "Auto-execute threshold"
// procedure of spec.md §4.1, used by both the readonly "auto_execute
// allowed" branch and the soft_write "threshold met" branch.
// external_write never reaches here — callers never pass that tier.
func (c *Coordinator) autoExecuteAllowed(workspace *ent.Workspace, tier config.SideEffectTier, packID string, confidence float64) bool {
	if tier == config.SideEffectTierExternalWrite {
		return false
	}

	mode := config.ExecutionMode(workspace.ExecutionMode)
	if tier == config.SideEffectTierReadonly && (mode == config.ExecutionModeExecution || mode == config.ExecutionModeHybrid) {
		priority := config.WorkspacePriority(workspace.Priority)
		return confidence >= ThresholdFor(priority)
	}

	if override, ok := packOverride(workspace, packID); ok {
		return override.AutoExecute && confidence >= override.ConfidenceThreshold
	}

	return false
}

// packOverrideConfig is one entry of Workspace.auto_execution_config.
type packOverrideConfig struct {
	ConfidenceThreshold float64
	AutoExecute         bool
}

func packOverride(workspace *ent.Workspace, packID string) (packOverrideConfig, bool) {
	raw, ok := workspace.AutoExecutionConfig[packID]
	if !ok {
		return packOverrideConfig{}, false
	}
	entry, ok := raw.(map[string]interface{})
	if !ok {
		return packOverrideConfig{}, false
	}

	var out packOverrideConfig
	if v, ok := entry["confidence_threshold"].(float64); ok {
		out.ConfidenceThreshold = v
	}
	if v, ok := entry["auto_execute"].(bool); ok {
		out.AutoExecute = v
	}
	return out, true
}

// createSuggestionOrSkip consults the opt-out preference and duplicate
// suppression rules, then either reuses a matching pending/running task,
// creates a new suggestion, or skips.
func (c *Coordinator) createSuggestionOrSkip(ctx context.Context, workspace *ent.Workspace, userID string, p Proposal) (*Result, error) {
	disabled, err := c.suggestionDisabled(ctx, workspace.ID, userID, p.PackID)
	if err != nil {
		return nil, err
	}
	if disabled {
		return &Result{Outcome: OutcomeSkipped, SkipReason: ReasonAutoSuggestDisabled}, nil
	}

	dup, err := c.findDuplicate(ctx, workspace.ID, p)
	if err != nil {
		return nil, err
	}
	if dup != nil {
		return &Result{Outcome: OutcomeDuplicate, Task: dup}, nil
	}

	t, err := c.createSuggestion(ctx, workspace, p)
	if err != nil {
		return nil, err
	}
	return &Result{Outcome: OutcomeSuggested, Task: t}, nil
}

func (c *Coordinator) suggestionDisabled(ctx context.Context, workspaceID, userID, packID string) (bool, error) {
	pref, err := c.client.Preference.Query().
		Where(
			preference.WorkspaceIDEQ(workspaceID),
			preference.UserIDEQ(userID),
			preference.PackIDEQ(packID),
			preference.TaskTypeEQ(string(task.TaskTypeSuggestion)),
		).
		Only(ctx)
	if err != nil {
		if ent.IsNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("coordinator: checking suggestion preference: %w", err)
	}
	return pref.AutoSuggestDisabled, nil
}

// findDuplicate looks for a pending or running task in workspaceID with
// the same pack id created within the last hour whose params.source and
// params.files match p's, per spec.md §4.1's duplicate suppression rule.
func (c *Coordinator) findDuplicate(ctx context.Context, workspaceID string, p Proposal) (*ent.Task, error) {
	candidates, err := c.client.Task.Query().
		Where(
			task.WorkspaceIDEQ(workspaceID),
			task.PackIDEQ(p.PackID),
			task.StatusIn(task.StatusPending, task.StatusRunning),
			task.CreatedAtGT(time.Now().Add(-duplicateWindow)),
		).
		All(ctx)
	if err != nil {
		return nil, fmt.Errorf("coordinator: querying duplicate candidates: %w", err)
	}

	for _, cand := range candidates {
		if paramsMatch(cand.Params, p.Params) {
			return cand, nil
		}
	}
	return nil, nil
}

func paramsMatch(existing, proposed map[string]interface{}) bool {
	return existing["source"] == proposed["source"] && stringSliceEqual(toStringSlice(existing["files"]), toStringSlice(proposed["files"]))
}

func toStringSlice(v interface{}) []string {
	raw, ok := v.([]interface{})
	if !ok {
		if strs, ok := v.([]string); ok {
			return strs
		}
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func stringSliceEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	seen := make(map[string]int, len(a))
	for _, s := range a {
		seen[s]++
	}
	for _, s := range b {
		seen[s]--
	}
	for _, n := range seen {
		if n != 0 {
			return false
		}
	}
	return true
}

// createSuggestion writes a task of type suggestion, normalizing its
// params to always include confidence, reason, content_tags,
// analysis_summary, and is_background (spec.md §4.1).
func (c *Coordinator) createSuggestion(ctx context.Context, workspace *ent.Workspace, p Proposal) (*ent.Task, error) {
	isBackground := false
	if pb, err := c.playbooks.Get(p.PackID); err == nil {
		isBackground = pb.IsBackground
	}

	params := make(map[string]interface{}, len(p.Params)+5)
	for k, v := range p.Params {
		params[k] = v
	}
	params["confidence"] = p.Confidence
	params["reason"] = p.Reason
	params["content_tags"] = p.ContentTags
	params["analysis_summary"] = p.AnalysisSummary
	params["is_background"] = isBackground
	params = c.maskParams(params)

	t, err := c.client.Task.Create().
		SetID(uuid.New().String()).
		SetWorkspaceID(workspace.ID).
		SetPackID(p.PackID).
		SetTaskType(task.TaskTypeSuggestion).
		SetStatus(task.StatusPending).
		SetParams(params).
		Save(ctx)
	if err != nil {
		return nil, fmt.Errorf("coordinator: creating suggestion: %w", err)
	}
	return t, nil
}

// maskParams applies the system-wide params-masking defaults to params
// before they reach durable storage (SPEC_FULL.md §6). A nil masker or
// nil/disabled ParamsMasking defaults leaves params untouched.
func (c *Coordinator) maskParams(params map[string]interface{}) map[string]interface{} {
	if c.masker == nil || c.defaults == nil {
		return params
	}
	return c.masker.MaskParams(params, c.defaults.ParamsMasking)
}
