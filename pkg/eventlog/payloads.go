package eventlog

import (
	"context"

	"github.com/haasonsaas/playbookengine/ent/event"
)

// PlaybookStepPayload is the payload for playbook_step events (spec.md
// §3.3): one step of an execution.
type PlaybookStepPayload struct {
	ExecutionID string   `json:"execution_id"`
	StepIndex   int      `json:"step_index"`
	StepName    string   `json:"step_name"`
	Status      string   `json:"status"` // e.g. "running", "completed", "error"
	UsedTools   []string `json:"used_tools,omitempty"`
	LogSummary  string   `json:"log_summary,omitempty"`
	TotalSteps  int      `json:"total_steps,omitempty"`
}

// AppendPlaybookStep records one step transition of an execution.
func (l *EventLog) AppendPlaybookStep(ctx context.Context, workspaceID string, p PlaybookStepPayload) error {
	actor := event.ActorAgent
	if p.Status == "error" {
		actor = event.ActorSystem
	}
	_, err := l.Append(ctx, AppendInput{
		WorkspaceID: workspaceID,
		EntityIDs:   []string{p.ExecutionID},
		Actor:       actor,
		EventType:   event.EventTypePlaybookStep,
		Payload: map[string]interface{}{
			"execution_id": p.ExecutionID,
			"step_index":   p.StepIndex,
			"step_name":    p.StepName,
			"status":       p.Status,
			"used_tools":   p.UsedTools,
			"log_summary":  p.LogSummary,
			"total_steps":  p.TotalSteps,
		},
	})
	return err
}

// MessagePayload is the payload for message events: a user or assistant
// chat turn.
type MessagePayload struct {
	Role    string `json:"role"` // "user" or "assistant"
	Content string `json:"content"`
}

// AppendMessage records a chat turn.
func (l *EventLog) AppendMessage(ctx context.Context, workspaceID, threadID string, p MessagePayload) error {
	actor := event.ActorUser
	if p.Role == "assistant" {
		actor = event.ActorAssistant
	}
	_, err := l.Append(ctx, AppendInput{
		WorkspaceID: workspaceID,
		ThreadID:    &threadID,
		Actor:       actor,
		EventType:   event.EventTypeMessage,
		Payload: map[string]interface{}{
			"role":    p.Role,
			"content": p.Content,
		},
	})
	return err
}

// ExecutionChatPayload is the payload for execution_chat events: sidebar
// discussion about a specific execution.
type ExecutionChatPayload struct {
	ExecutionID string `json:"execution_id"`
	Role        string `json:"role"`
	Content     string `json:"content"`
}

// AppendExecutionChat records a sidebar chat turn tied to an execution.
func (l *EventLog) AppendExecutionChat(ctx context.Context, workspaceID string, p ExecutionChatPayload) error {
	actor := event.ActorUser
	if p.Role == "assistant" {
		actor = event.ActorAssistant
	}
	_, err := l.Append(ctx, AppendInput{
		WorkspaceID: workspaceID,
		EntityIDs:   []string{p.ExecutionID},
		Actor:       actor,
		EventType:   event.EventTypeExecutionChat,
		Payload: map[string]interface{}{
			"execution_id": p.ExecutionID,
			"role":         p.Role,
			"content":      p.Content,
		},
	})
	return err
}

// ToolCallPayload mirrors a structured ToolCall record for discoverability
// on the timeline.
type ToolCallPayload struct {
	ToolCallID  string `json:"tool_call_id"`
	ExecutionID string `json:"execution_id"`
	ToolName    string `json:"tool_name"`
	Status      string `json:"status"`
}

// AppendToolCall records a convenience mirror of a tool call for
// timeline discovery.
func (l *EventLog) AppendToolCall(ctx context.Context, workspaceID string, p ToolCallPayload) error {
	_, err := l.Append(ctx, AppendInput{
		WorkspaceID: workspaceID,
		EntityIDs:   []string{p.ExecutionID, p.ToolCallID},
		Actor:       event.ActorAgent,
		EventType:   event.EventTypeToolCall,
		Payload: map[string]interface{}{
			"tool_call_id": p.ToolCallID,
			"execution_id": p.ExecutionID,
			"tool_name":    p.ToolName,
			"status":       p.Status,
		},
	})
	return err
}

// AgentExecutionPayload is the payload for agent_execution events: agent
// collaboration / hand-off.
type AgentExecutionPayload struct {
	ExecutionID string `json:"execution_id"`
	AgentName   string `json:"agent_name"`
	Status      string `json:"status"`
}

// AppendAgentExecution records an agent collaboration/hand-off event.
func (l *EventLog) AppendAgentExecution(ctx context.Context, workspaceID string, p AgentExecutionPayload) error {
	_, err := l.Append(ctx, AppendInput{
		WorkspaceID: workspaceID,
		EntityIDs:   []string{p.ExecutionID},
		Actor:       event.ActorAgent,
		EventType:   event.EventTypeAgentExecution,
		Payload: map[string]interface{}{
			"execution_id": p.ExecutionID,
			"agent_name":   p.AgentName,
			"status":       p.Status,
		},
	})
	return err
}
