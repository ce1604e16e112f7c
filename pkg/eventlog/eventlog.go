// Package eventlog is the append-only Event Log (spec.md §3.3): the
// record of everything observable that happened during a task's life,
// read by the streaming projection and the execution chat sidebar.
package eventlog

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/haasonsaas/playbookengine/ent"
	"github.com/haasonsaas/playbookengine/ent/event"
	"github.com/haasonsaas/playbookengine/ent/predicate"
)

// EventLog wraps *ent.Client and exposes append/list-since operations
// over the mind_events table.
type EventLog struct {
	client *ent.Client
}

// NewEventLog creates an EventLog.
func NewEventLog(client *ent.Client) *EventLog {
	return &EventLog{client: client}
}

// AppendInput describes one event to record.
type AppendInput struct {
	WorkspaceID string
	ProfileID   *string
	ThreadID    *string
	EntityIDs   []string
	Actor       event.Actor
	EventType   event.EventType
	Payload     map[string]interface{}
	Metadata    map[string]interface{}
}

// Append records one observable event and returns it.
func (l *EventLog) Append(ctx context.Context, in AppendInput) (*ent.Event, error) {
	if in.WorkspaceID == "" {
		return nil, fmt.Errorf("eventlog: workspace_id required")
	}

	builder := l.client.Event.Create().
		SetID(uuid.New().String()).
		SetWorkspaceID(in.WorkspaceID).
		SetActor(in.Actor).
		SetEventType(in.EventType).
		SetTimestamp(time.Now())

	if in.ProfileID != nil {
		builder = builder.SetProfileID(*in.ProfileID)
	}
	if in.ThreadID != nil {
		builder = builder.SetThreadID(*in.ThreadID)
	}
	if len(in.EntityIDs) > 0 {
		builder = builder.SetEntityIds(in.EntityIDs)
	}
	if in.Payload != nil {
		builder = builder.SetPayload(in.Payload)
	}
	if in.Metadata != nil {
		builder = builder.SetMetadata(in.Metadata)
	}

	evt, err := builder.Save(ctx)
	if err != nil {
		return nil, fmt.Errorf("eventlog: append event: %w", err)
	}
	return evt, nil
}

// AppendError records an ERROR-flavored playbook_step event: the shape
// used both by the zombie reaper (satisfying store.EventAppender) and by
// any other component that needs to surface a terminal failure onto the
// timeline.
func (l *EventLog) AppendError(ctx context.Context, workspaceID, executionID, message string) error {
	_, err := l.Append(ctx, AppendInput{
		WorkspaceID: workspaceID,
		EntityIDs:   []string{executionID},
		Actor:       event.ActorSystem,
		EventType:   event.EventTypePlaybookStep,
		Payload: map[string]interface{}{
			"execution_id": executionID,
			"status":       "error",
			"log_summary":  message,
		},
	})
	return err
}

// Watermark identifies a position in the event log's total order
// (timestamp, then id lexicographically on ties — spec.md §3.3).
type Watermark struct {
	Timestamp time.Time
	ID        string
}

// ListSince returns events for workspaceID strictly after the watermark,
// in ascending (timestamp, id) order, up to limit. Pass a zero Watermark
// to read from the beginning. eventType may be empty to match all types.
func (l *EventLog) ListSince(ctx context.Context, workspaceID string, eventType event.EventType, since Watermark, limit int) ([]*ent.Event, error) {
	preds := []predicate.Event{
		event.WorkspaceIDEQ(workspaceID),
	}
	if eventType != "" {
		preds = append(preds, event.EventTypeEQ(eventType))
	}
	if !since.Timestamp.IsZero() || since.ID != "" {
		preds = append(preds, event.Or(
			event.TimestampGT(since.Timestamp),
			event.And(event.TimestampEQ(since.Timestamp), event.IDGT(since.ID)),
		))
	}

	evts, err := l.client.Event.Query().
		Where(preds...).
		Order(ent.Asc(event.FieldTimestamp), ent.Asc(event.FieldID)).
		Limit(limit).
		All(ctx)
	if err != nil {
		return nil, fmt.Errorf("eventlog: list since watermark: %w", err)
	}
	return evts, nil
}

// LatestWatermark returns the Watermark positioned at the most recent
// event in workspaceID, or the zero Watermark if there are none yet.
func (l *EventLog) LatestWatermark(ctx context.Context, workspaceID string) (Watermark, error) {
	evt, err := l.client.Event.Query().
		Where(event.WorkspaceIDEQ(workspaceID)).
		Order(ent.Desc(event.FieldTimestamp), ent.Desc(event.FieldID)).
		First(ctx)
	if err != nil {
		if ent.IsNotFound(err) {
			return Watermark{}, nil
		}
		return Watermark{}, fmt.Errorf("eventlog: latest watermark: %w", err)
	}
	return Watermark{Timestamp: evt.Timestamp, ID: evt.ID}, nil
}

// ListPlaybookSteps returns every playbook_step event recorded for
// executionID within workspaceID, ordered oldest first. EntityIds is a
// generic JSON string list rather than a native array column, so the
// executionID match is applied in Go after the event_type/workspace
// predicate narrows the candidate set.
func (l *EventLog) ListPlaybookSteps(ctx context.Context, workspaceID, executionID string) ([]*ent.Event, error) {
	rows, err := l.client.Event.Query().
		Where(event.WorkspaceIDEQ(workspaceID), event.EventTypeEQ(event.EventTypePlaybookStep)).
		Order(ent.Asc(event.FieldTimestamp)).
		All(ctx)
	if err != nil {
		return nil, fmt.Errorf("eventlog: listing playbook steps: %w", err)
	}

	out := make([]*ent.Event, 0, len(rows))
	for _, r := range rows {
		if containsID(r.EntityIds, executionID) {
			out = append(out, r)
		}
	}
	return out, nil
}

// ListExecutionChat returns every execution_chat event recorded for
// executionID within workspaceID, ordered oldest first — the same
// entity-id-filtered-in-Go shape as ListPlaybookSteps, since entity_ids
// is a generic JSON list rather than a native array column.
func (l *EventLog) ListExecutionChat(ctx context.Context, workspaceID, executionID string) ([]*ent.Event, error) {
	rows, err := l.client.Event.Query().
		Where(event.WorkspaceIDEQ(workspaceID), event.EventTypeEQ(event.EventTypeExecutionChat)).
		Order(ent.Asc(event.FieldTimestamp)).
		All(ctx)
	if err != nil {
		return nil, fmt.Errorf("eventlog: listing execution chat: %w", err)
	}

	out := make([]*ent.Event, 0, len(rows))
	for _, r := range rows {
		if containsID(r.EntityIds, executionID) {
			out = append(out, r)
		}
	}
	return out, nil
}

// UpdateStepPayload merges patch into evt's existing payload and saves
// it. Used to mark a prior playbook_step event completed and to
// back-fill total_steps onto earlier steps of the same execution
// (spec.md §4.4 step 6) — payload is not an Immutable field, so this is
// a genuine update, not an append.
func (l *EventLog) UpdateStepPayload(ctx context.Context, evt *ent.Event, patch map[string]interface{}) error {
	merged := make(map[string]interface{}, len(evt.Payload)+len(patch))
	for k, v := range evt.Payload {
		merged[k] = v
	}
	for k, v := range patch {
		merged[k] = v
	}
	if _, err := l.client.Event.UpdateOne(evt).SetPayload(merged).Save(ctx); err != nil {
		return fmt.Errorf("eventlog: updating step %s payload: %w", evt.ID, err)
	}
	return nil
}

func containsID(ids []string, id string) bool {
	for _, x := range ids {
		if x == id {
			return true
		}
	}
	return false
}
