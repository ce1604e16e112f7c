package api

import (
	"github.com/haasonsaas/playbookengine/ent"
)

// ExecutionView is the view-model spec.md §6's execution_update payload
// and list/get endpoints share: Task plus the execution_context fields
// the Runner/Streaming Projection treat as first-class (current_step_index,
// total_steps, paused_at), since the Task status enum has no dedicated
// columns for them.
type ExecutionView struct {
	ID               string                 `json:"id"`
	WorkspaceID      string                 `json:"workspace_id"`
	PackID           string                 `json:"pack_id"`
	Status           string                 `json:"status"`
	CurrentStepIndex int                    `json:"current_step_index"`
	TotalSteps       int                    `json:"total_steps"`
	PausedAt         string                 `json:"paused_at,omitempty"`
	WaitingConfirm   bool                   `json:"waiting_confirmation,omitempty"`
	Result           map[string]interface{} `json:"result,omitempty"`
	Error            string                 `json:"error,omitempty"`
	CreatedAt        string                 `json:"created_at"`
	StartedAt        string                 `json:"started_at,omitempty"`
	CompletedAt      string                 `json:"completed_at,omitempty"`
}

func newExecutionView(t *ent.Task) ExecutionView {
	v := ExecutionView{
		ID:          t.ID,
		WorkspaceID: t.WorkspaceID,
		PackID:      t.PackID,
		Status:      string(t.Status),
		Result:      t.Result,
		CreatedAt:   t.CreatedAt.Format(timeFormat),
	}
	if t.Error != nil {
		v.Error = *t.Error
	}
	if t.StartedAt != nil {
		v.StartedAt = t.StartedAt.Format(timeFormat)
	}
	if t.CompletedAt != nil {
		v.CompletedAt = t.CompletedAt.Format(timeFormat)
	}
	if n, ok := t.ExecutionContext["current_step_index"].(float64); ok {
		v.CurrentStepIndex = int(n)
	}
	if n, ok := t.ExecutionContext["total_steps"].(float64); ok {
		v.TotalSteps = int(n)
	}
	if s, ok := t.ExecutionContext["paused_at"].(string); ok {
		v.PausedAt = s
	}
	if b, ok := t.ExecutionContext["waiting_confirmation"].(bool); ok {
		v.WaitingConfirm = b
	}
	return v
}

const timeFormat = "2006-01-02T15:04:05.999999999Z07:00"

// StepView is one playbook_step event, per spec.md §4.7's step_update
// payload.
type StepView struct {
	ID         string   `json:"id"`
	StepIndex  int      `json:"step_index"`
	StepName   string   `json:"step_name"`
	Status     string   `json:"status"`
	UsedTools  []string `json:"used_tools,omitempty"`
	LogSummary string   `json:"log_summary,omitempty"`
	TotalSteps int      `json:"total_steps,omitempty"`
	Timestamp  string   `json:"timestamp"`
}

func newStepView(evt *ent.Event) StepView {
	v := StepView{ID: evt.ID, Timestamp: evt.Timestamp.Format(timeFormat)}
	if s, ok := evt.Payload["step_index"].(float64); ok {
		v.StepIndex = int(s)
	}
	if s, ok := evt.Payload["step_name"].(string); ok {
		v.StepName = s
	}
	if s, ok := evt.Payload["status"].(string); ok {
		v.Status = s
	}
	if s, ok := evt.Payload["log_summary"].(string); ok {
		v.LogSummary = s
	}
	if s, ok := evt.Payload["total_steps"].(float64); ok {
		v.TotalSteps = int(s)
	}
	if raw, ok := evt.Payload["used_tools"].([]interface{}); ok {
		for _, t := range raw {
			if s, ok := t.(string); ok {
				v.UsedTools = append(v.UsedTools, s)
			}
		}
	}
	return v
}

// ChatMessageView is one execution_chat event, per spec.md §6's chat
// endpoints.
type ChatMessageView struct {
	ID        string `json:"id"`
	Role      string `json:"role"`
	Content   string `json:"content"`
	Timestamp string `json:"timestamp"`
}

func newChatMessageView(evt *ent.Event) ChatMessageView {
	v := ChatMessageView{ID: evt.ID, Timestamp: evt.Timestamp.Format(timeFormat)}
	if s, ok := evt.Payload["role"].(string); ok {
		v.Role = s
	}
	if s, ok := evt.Payload["content"].(string); ok {
		v.Content = s
	}
	return v
}
