// Package checkpoint implements the per-turn checkpoint write/restore
// and the explicit CheckpointManager snapshot layer of spec.md §4.6.
// Grounded on pkg/services/stage_service.go's read-modify-write pattern
// over JSON columns (fetch the row, mutate a copy, Save within a
// timeout-bounded context).
package checkpoint

import (
	"context"
	"errors"
	"fmt"

	"github.com/haasonsaas/playbookengine/ent"
	"github.com/haasonsaas/playbookengine/ent/task"
	"github.com/haasonsaas/playbookengine/pkg/conversation"
)

// ErrNotResumable is returned by Restore when the task's status forbids
// resuming (spec.md §4.4 step 1: only running or succeeded qualify).
var ErrNotResumable = errors.New("checkpoint: task status does not permit restore")

// ErrNoConversationState is returned by Restore when the task carries no
// prior conversation_state to rehydrate from.
var ErrNoConversationState = errors.New("checkpoint: task has no conversation_state")

// Checkpointer persists and restores the per-turn Conversation Manager
// state onto Task.execution_context (spec.md §4.6 "Checkpoint"/
// "Restore"), independent of the richer CheckpointManager snapshots
// below.
type Checkpointer struct {
	client *ent.Client
}

// New creates a Checkpointer.
func New(client *ent.Client) *Checkpointer {
	return &Checkpointer{client: client}
}

// SaveTurn writes conv's serialized state and the fresh step bookkeeping
// onto taskID's execution_context, called at the end of every start and
// continue turn.
func (c *Checkpointer) SaveTurn(ctx context.Context, taskID string, conv *conversation.Manager, currentStepIndex, totalSteps int) error {
	t, err := c.client.Task.Get(ctx, taskID)
	if err != nil {
		return fmt.Errorf("checkpoint: loading task %s: %w", taskID, err)
	}

	ec := cloneContext(t.ExecutionContext)
	ec["conversation_state"] = conv.Serialize()
	if currentStepIndex < 0 {
		currentStepIndex = 0
	}
	ec["current_step_index"] = currentStepIndex
	ec["total_steps"] = totalSteps

	if _, err := c.client.Task.UpdateOne(t).SetExecutionContext(ec).Save(ctx); err != nil {
		return fmt.Errorf("checkpoint: saving task %s: %w", taskID, err)
	}
	return nil
}

// Restore rehydrates the Conversation Manager for t from its stored
// conversation_state, rejecting tasks whose status forbids resume.
func Restore(t *ent.Task) (*conversation.Manager, error) {
	if t.Status != task.StatusRunning && t.Status != task.StatusSucceeded {
		return nil, fmt.Errorf("%w: status=%s", ErrNotResumable, t.Status)
	}

	raw, ok := t.ExecutionContext["conversation_state"].(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("%w: task %s", ErrNoConversationState, t.ID)
	}

	conv, err := conversation.Deserialize(raw)
	if err != nil {
		return nil, fmt.Errorf("checkpoint: restoring task %s: %w", t.ID, err)
	}
	return conv, nil
}

func cloneContext(m map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(m)+2)
	for k, v := range m {
		out[k] = v
	}
	return out
}
