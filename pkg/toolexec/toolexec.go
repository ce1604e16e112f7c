// Package toolexec implements the Unified Tool Executor (spec.md §4.5):
// a single `run_tool` entry point that records a ToolCall lifecycle row
// around dispatch to one of several backend clusters, routed by FQN
// naming convention. Grounded on the teacher's
// pkg/agent/tool_executor.go (ToolExecutor/ToolResult shape) and
// pkg/agent/orchestrator/tool_executor.go (route-by-name-then-dispatch
// pattern, composite-executor Close semantics).
package toolexec

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/haasonsaas/playbookengine/ent"
	"github.com/haasonsaas/playbookengine/ent/toolcall"
	"github.com/haasonsaas/playbookengine/pkg/eventlog"
)

// Cluster names the backend a tool_fqn routes to (spec.md §4.5 table).
type Cluster string

const (
	ClusterLocalMCP Cluster = "local_mcp"
	ClusterSemHub   Cluster = "sem-hub"
	ClusterWPHub    Cluster = "wp-hub"
	ClusterN8N      Cluster = "n8n"
)

// maxResponsePreview/maxErrorPreview bound the stored response/error
// text so a runaway tool result never bloats the tools_calls row.
const (
	maxResponsePreview = 8000
	maxErrorPreview    = 500
)

// Backend is the abstract dispatch target toolexec calls into after
// recording the pending row. One Backend typically fronts several
// clusters (e.g. a local MCP client registry); the Executor looks the
// backend up by Cluster.
type Backend interface {
	// ExecuteTool resolves fqn against params and returns the raw
	// result, or an error that is recorded as the ToolCall's failure.
	ExecuteTool(ctx context.Context, fqn string, params map[string]interface{}) (interface{}, error)
}

// Call is one invocation request passed to Run.
type Call struct {
	ToolFQN     string
	PrincipalID string
	WorkspaceID string
	ExecutionID string
	StepID      string
	Params      map[string]interface{}
}

// Result is what Run returns after dispatch, success or failure.
type Result struct {
	ToolCallID string
	Response   interface{}
	IsError    bool
	Error      string
}

// Executor wraps *ent.Client plus the per-cluster Backend registry and
// optional event mirroring, implementing run_tool.
type Executor struct {
	client   *ent.Client
	events   *eventlog.EventLog // nil disables the tool_call mirror event
	backends map[Cluster]Backend
	fallback Backend
}

// NewExecutor creates an Executor. events may be nil. fallback is used
// for any cluster with no dedicated Backend registered (spec.md §4.5's
// "local_mcp (default)" catch-all).
func NewExecutor(client *ent.Client, events *eventlog.EventLog, fallback Backend) *Executor {
	return &Executor{
		client:   client,
		events:   events,
		backends: make(map[Cluster]Backend),
		fallback: fallback,
	}
}

// RegisterBackend wires a Backend to handle one cluster's calls.
func (e *Executor) RegisterBackend(cluster Cluster, b Backend) {
	e.backends[cluster] = b
}

// RouteCluster classifies tool_fqn per spec.md §4.5's pattern table.
func RouteCluster(toolFQN string) Cluster {
	lower := strings.ToLower(toolFQN)
	switch {
	case strings.HasPrefix(lower, "local_") || strings.Contains(lower, "mcp"):
		return ClusterLocalMCP
	case strings.Contains(lower, "sem-"):
		return ClusterSemHub
	case strings.Contains(lower, "wp") || strings.Contains(lower, "wordpress"):
		return ClusterWPHub
	case strings.Contains(lower, "n8n"):
		return ClusterN8N
	default:
		return ClusterLocalMCP
	}
}

// normalizeParams applies the single hard-coded parameter rename named
// by spec.md §9 ("treat as out of scope unless required"): the
// filesystem_write_file tool accepts `file_path`, not `path`.
func normalizeParams(toolFQN string, params map[string]interface{}) map[string]interface{} {
	if !strings.Contains(toolFQN, "filesystem_write_file") {
		return params
	}
	if _, ok := params["path"]; !ok {
		return params
	}
	out := make(map[string]interface{}, len(params))
	for k, v := range params {
		if k == "path" {
			out["file_path"] = v
			continue
		}
		out[k] = v
	}
	return out
}

// Run records a pending ToolCall row, dispatches to the routed cluster's
// Backend, and records the outcome. It never returns an error for a
// failed tool call — callers (the Playbook Runner) see failure via
// Result.IsError, matching spec.md §4.5's "per-call failure record
// rather than aborting" contract. Run does return an error if the
// ToolCall row itself cannot be written or updated.
func (e *Executor) Run(ctx context.Context, call Call) (*Result, error) {
	cluster := RouteCluster(call.ToolFQN)
	params := normalizeParams(call.ToolFQN, call.Params)

	row, err := e.client.ToolCall.Create().
		SetID(uuid.New().String()).
		SetExecutionID(call.ExecutionID).
		SetNillableStepID(nonEmptyPtr(call.StepID)).
		SetToolName(call.ToolFQN).
		SetParameters(params).
		SetStatus(toolcall.StatusPending).
		SetFactoryCluster(string(cluster)).
		SetStartedAt(time.Now()).
		Save(ctx)
	if err != nil {
		return nil, fmt.Errorf("toolexec: recording pending call: %w", err)
	}

	backend := e.backends[cluster]
	if backend == nil {
		backend = e.fallback
	}
	if backend == nil {
		return e.finishFailure(ctx, row, call.WorkspaceID, fmt.Errorf("toolexec: no backend registered for cluster %q", cluster))
	}

	response, execErr := backend.ExecuteTool(ctx, call.ToolFQN, params)
	if execErr != nil {
		return e.finishFailure(ctx, row, call.WorkspaceID, execErr)
	}
	return e.finishSuccess(ctx, row, call.WorkspaceID, response)
}

func (e *Executor) finishSuccess(ctx context.Context, row *ent.ToolCall, workspaceID string, response interface{}) (*Result, error) {
	completedAt := time.Now()
	previewed, responseMap := previewResponse(response)

	update := e.client.ToolCall.UpdateOne(row).
		SetStatus(toolcall.StatusCompleted).
		SetCompletedAt(completedAt).
		SetDurationMs(durationMs(row.StartedAt, completedAt))
	if responseMap != nil {
		update = update.SetResponse(responseMap)
	}
	if _, err := update.Save(ctx); err != nil {
		return nil, fmt.Errorf("toolexec: recording success: %w", err)
	}

	e.mirrorEvent(ctx, workspaceID, row.ID, row.ExecutionID, row.ToolName, string(toolcall.StatusCompleted))

	return &Result{ToolCallID: row.ID, Response: previewed}, nil
}

func (e *Executor) finishFailure(ctx context.Context, row *ent.ToolCall, workspaceID string, cause error) (*Result, error) {
	completedAt := time.Now()
	message := truncate(cause.Error(), maxErrorPreview)

	if _, err := e.client.ToolCall.UpdateOne(row).
		SetStatus(toolcall.StatusFailed).
		SetError(message).
		SetCompletedAt(completedAt).
		SetDurationMs(durationMs(row.StartedAt, completedAt)).
		Save(ctx); err != nil {
		return nil, fmt.Errorf("toolexec: recording failure: %w", err)
	}

	e.mirrorEvent(ctx, workspaceID, row.ID, row.ExecutionID, row.ToolName, string(toolcall.StatusFailed))

	return &Result{ToolCallID: row.ID, IsError: true, Error: message}, nil
}

func (e *Executor) mirrorEvent(ctx context.Context, workspaceID, toolCallID, executionID, toolName, status string) {
	if e.events == nil {
		return
	}
	// Best-effort: a failed mirror event must never fail the tool call
	// itself, matching store.MirrorPlaybookExecutionStatus's convention.
	_ = e.events.AppendToolCall(ctx, workspaceID, eventlog.ToolCallPayload{
		ToolCallID:  toolCallID,
		ExecutionID: executionID,
		ToolName:    toolName,
		Status:      status,
	})
}

func durationMs(startedAt time.Time, completedAt time.Time) int {
	if startedAt.IsZero() {
		return 0
	}
	return int(completedAt.Sub(startedAt).Milliseconds())
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}

// previewResponse truncates a tool response to a safe size for storage
// (spec.md §4.5 "response truncated to a safe size") and returns both
// the possibly-truncated value handed back to the caller and the JSON
// map ent's Response column expects.
func previewResponse(response interface{}) (interface{}, map[string]interface{}) {
	if response == nil {
		return nil, nil
	}

	raw, err := json.Marshal(response)
	if err != nil {
		return response, map[string]interface{}{"value": fmt.Sprintf("%v", response)}
	}

	if len(raw) <= maxResponsePreview {
		var m map[string]interface{}
		if json.Unmarshal(raw, &m) == nil {
			return response, m
		}
		return response, map[string]interface{}{"value": json.RawMessage(raw)}
	}

	truncated := string(raw[:maxResponsePreview])
	return truncated, map[string]interface{}{"value": truncated, "truncated": true}
}

func nonEmptyPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
