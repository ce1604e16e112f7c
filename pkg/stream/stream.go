// Package stream implements the Streaming Projection (spec.md §4.7): a
// single-client, polling-based, server-sent-event-style projector that
// turns an execution's task row, event log, tool calls, and stage
// results into an ordered sequence of typed Events.
//
// The loop shape — select on a ticker against a cancellable context,
// one poll-and-process pass per tick — is grounded on the teacher's
// pkg/queue/worker.go run loop, adapted from session-claiming to
// watermarked projection.
package stream

import (
	"context"
	"fmt"
	"time"

	"github.com/haasonsaas/playbookengine/ent"
	"github.com/haasonsaas/playbookengine/ent/event"
	"github.com/haasonsaas/playbookengine/ent/stageresult"
	"github.com/haasonsaas/playbookengine/ent/task"
	"github.com/haasonsaas/playbookengine/ent/toolcall"
	"github.com/haasonsaas/playbookengine/pkg/eventlog"
)

// Event is one typed message the projector emits for a stream (spec.md
// §4.7's event type list).
type Event struct {
	Type string
	Data map[string]interface{}
}

// Event type names (spec.md §4.7).
const (
	TypeExecutionUpdate   = "execution_update"
	TypeStepUpdate        = "step_update"
	TypeToolCallUpdate    = "tool_call_update"
	TypeStageResult       = "stage_result"
	TypeExecutionChat     = "execution_chat"
	TypeExecutionCompleted = "execution_completed"
	TypeError             = "error"
	TypeStreamEnd         = "stream_end"
)

// DefaultTickInterval is used when config.StreamConfig.TickInterval is
// unset (spec.md §4.7 "every tick (default 1 second)").
const DefaultTickInterval = time.Second

// triple is the watermark spec.md §4.7 names: "last-emitted (status,
// current_step_index, paused_at) triple".
type triple struct {
	status      string
	currentStep int
	pausedAt    string
}

// watermarks is the full per-stream watermark set (spec.md §4.7
// "Model").
type watermarks struct {
	step       eventlog.Watermark
	chat       eventlog.Watermark
	toolCall   time.Time
	stageResult time.Time
	triple     triple
	tripleSet  bool
}

// Projector drives one execution's stream by re-querying the task,
// event log, tool calls, and stage results on every tick.
type Projector struct {
	client *ent.Client
	events *eventlog.EventLog
	tick   time.Duration
}

// NewProjector creates a Projector. A tick <= 0 is replaced with
// DefaultTickInterval.
func NewProjector(client *ent.Client, events *eventlog.EventLog, tick time.Duration) *Projector {
	if tick <= 0 {
		tick = DefaultTickInterval
	}
	return &Projector{client: client, events: events, tick: tick}
}

// Run drives executionID's stream, calling emit for each Event in
// non-decreasing timestamp order, until ctx is cancelled or the
// execution reaches a terminal state (spec.md §4.7's 7-step loop).
// emit is called synchronously from the polling goroutine; a slow or
// blocking emit delays the next tick.
func (p *Projector) Run(ctx context.Context, workspaceID, executionID string, emit func(Event)) {
	wm := watermarks{}
	ticker := time.NewTicker(p.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			emit(Event{Type: TypeStreamEnd})
			return
		case <-ticker.C:
		}

		done := p.poll(ctx, workspaceID, executionID, &wm, emit)
		if done {
			return
		}
	}
}

// poll executes one loop iteration. It returns true once the stream has
// reached a terminal state (execution_completed/error already emitted,
// along with stream_end) and the caller should stop ticking.
func (p *Projector) poll(ctx context.Context, workspaceID, executionID string, wm *watermarks, emit func(Event)) bool {
	t, err := p.client.Task.Get(ctx, executionID)
	if err != nil {
		emit(Event{Type: TypeError, Data: map[string]interface{}{"message": fmt.Sprintf("loading execution %s: %v", executionID, err)}})
		emit(Event{Type: TypeStreamEnd})
		return true
	}

	view := executionView(t)
	cur := tripleOf(t)
	if !wm.tripleSet || cur != wm.triple {
		emit(Event{Type: TypeExecutionUpdate, Data: view})
		wm.triple = cur
		wm.tripleSet = true
	}

	if isTerminal(t.Status) {
		emit(Event{Type: TypeExecutionCompleted, Data: map[string]interface{}{"final_status": finalStatus(t.Status)}})
		emit(Event{Type: TypeStreamEnd})
		return true
	}

	p.emitSteps(ctx, workspaceID, executionID, wm, emit)
	p.emitChat(ctx, workspaceID, executionID, wm, emit)
	p.emitToolCalls(ctx, executionID, wm, emit)
	p.emitStageResults(ctx, executionID, wm, emit)

	return false
}

func (p *Projector) emitSteps(ctx context.Context, workspaceID, executionID string, wm *watermarks, emit func(Event)) {
	evts, err := p.events.ListSince(ctx, workspaceID, event.EventTypePlaybookStep, wm.step, 200)
	if err != nil {
		emit(Event{Type: TypeError, Data: map[string]interface{}{"message": err.Error()}})
		return
	}
	for _, evt := range evts {
		if !containsEntity(evt.EntityIds, executionID) {
			wm.step = eventlog.Watermark{Timestamp: evt.Timestamp, ID: evt.ID}
			continue
		}
		emit(Event{Type: TypeStepUpdate, Data: evt.Payload})
		wm.step = eventlog.Watermark{Timestamp: evt.Timestamp, ID: evt.ID}
	}
}

func (p *Projector) emitChat(ctx context.Context, workspaceID, executionID string, wm *watermarks, emit func(Event)) {
	evts, err := p.events.ListSince(ctx, workspaceID, event.EventTypeExecutionChat, wm.chat, 200)
	if err != nil {
		emit(Event{Type: TypeError, Data: map[string]interface{}{"message": err.Error()}})
		return
	}
	for _, evt := range evts {
		if !containsEntity(evt.EntityIds, executionID) {
			wm.chat = eventlog.Watermark{Timestamp: evt.Timestamp, ID: evt.ID}
			continue
		}
		emit(Event{Type: TypeExecutionChat, Data: evt.Payload})
		wm.chat = eventlog.Watermark{Timestamp: evt.Timestamp, ID: evt.ID}
	}
}

func (p *Projector) emitToolCalls(ctx context.Context, executionID string, wm *watermarks, emit func(Event)) {
	q := p.client.ToolCall.Query().Where(toolcall.ExecutionIDEQ(executionID))
	if !wm.toolCall.IsZero() {
		q = q.Where(toolcall.CreatedAtGT(wm.toolCall))
	}
	rows, err := q.Order(ent.Asc(toolcall.FieldCreatedAt)).All(ctx)
	if err != nil {
		emit(Event{Type: TypeError, Data: map[string]interface{}{"message": err.Error()}})
		return
	}
	for _, tc := range rows {
		emit(Event{Type: TypeToolCallUpdate, Data: toolCallView(tc)})
		wm.toolCall = tc.CreatedAt
	}
}

func (p *Projector) emitStageResults(ctx context.Context, executionID string, wm *watermarks, emit func(Event)) {
	q := p.client.StageResult.Query().Where(stageresult.ExecutionIDEQ(executionID))
	if !wm.stageResult.IsZero() {
		q = q.Where(stageresult.CreatedAtGT(wm.stageResult))
	}
	rows, err := q.Order(ent.Asc(stageresult.FieldCreatedAt)).All(ctx)
	if err != nil {
		emit(Event{Type: TypeError, Data: map[string]interface{}{"message": err.Error()}})
		return
	}
	for _, sr := range rows {
		emit(Event{Type: TypeStageResult, Data: stageResultView(sr)})
		wm.stageResult = sr.CreatedAt
	}
}

// tripleOf reads current_step_index and paused_at from the task's loose
// execution_context bag. Neither is a dedicated ent field: the status
// enum this module carries (spec.md §3.2's generalized
// pending/running/succeeded/failed/cancelled_by_user/expired) has no
// waiting_confirmation member, so "paused" is represented as an
// execution_context key rather than a Task.status value or a separate
// column — see DESIGN.md's Open Question decisions.
func tripleOf(t *ent.Task) triple {
	currentStep := -1
	if n, ok := t.ExecutionContext["current_step_index"].(float64); ok {
		currentStep = int(n)
	}
	pausedAt, _ := t.ExecutionContext["paused_at"].(string)
	return triple{status: string(t.Status), currentStep: currentStep, pausedAt: pausedAt}
}

func isTerminal(s task.Status) bool {
	switch s {
	case task.StatusSucceeded, task.StatusFailed, task.StatusCancelledByUser, task.StatusExpired:
		return true
	default:
		return false
	}
}

// finalStatus maps the Task status enum onto spec.md §4.7's
// execution_completed final_status vocabulary ({completed, failed,
// cancelled}).
func finalStatus(s task.Status) string {
	switch s {
	case task.StatusSucceeded:
		return "completed"
	case task.StatusCancelledByUser, task.StatusExpired:
		return "cancelled"
	default:
		return "failed"
	}
}

func executionView(t *ent.Task) map[string]interface{} {
	currentStep := -1
	totalSteps := 0
	if n, ok := t.ExecutionContext["current_step_index"].(float64); ok {
		currentStep = int(n)
	}
	if n, ok := t.ExecutionContext["total_steps"].(float64); ok {
		totalSteps = int(n)
	}
	view := map[string]interface{}{
		"execution_id":        t.ID,
		"pack_id":             t.PackID,
		"status":              string(t.Status),
		"current_step_index":  currentStep,
		"total_steps":         totalSteps,
		"paused_at":           t.ExecutionContext["paused_at"],
	}
	if t.Error != nil {
		view["error"] = *t.Error
	}
	return view
}

func toolCallView(tc *ent.ToolCall) map[string]interface{} {
	view := map[string]interface{}{
		"tool_call_id":    tc.ID,
		"execution_id":    tc.ExecutionID,
		"tool_name":       tc.ToolName,
		"status":          string(tc.Status),
		"factory_cluster": tc.FactoryCluster,
	}
	if tc.Error != nil {
		view["error"] = *tc.Error
	}
	return view
}

func stageResultView(sr *ent.StageResult) map[string]interface{} {
	return map[string]interface{}{
		"stage_result_id": sr.ID,
		"execution_id":    sr.ExecutionID,
		"stage_name":      sr.StageName,
		"result_type":     string(sr.ResultType),
		"review_status":   string(sr.ReviewStatus),
		"preview":         sr.Preview,
	}
}

func containsEntity(ids []string, id string) bool {
	for _, x := range ids {
		if x == id {
			return true
		}
	}
	return false
}
