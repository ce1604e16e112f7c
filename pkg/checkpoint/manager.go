package checkpoint

import (
	"context"
	"fmt"
	"time"

	"github.com/haasonsaas/playbookengine/ent"
	"github.com/haasonsaas/playbookengine/ent/playbookexecution"
)

// Snapshot is the document CheckpointManager writes to the peer
// playbook_executions record (spec.md §4.6 "Explicit checkpoint
// objects"): full execution context, phase summaries, intent
// correlation, and failure metadata, alongside whether the execution
// can still be resumed from it.
type Snapshot struct {
	ExecutionContext map[string]interface{} `json:"execution_context"`
	PhaseSummaries   []string                `json:"phase_summaries,omitempty"`
	IntentID         string                  `json:"intent_id,omitempty"`
	SuggestionID     string                  `json:"suggestion_id,omitempty"`
	FailureMetadata  map[string]interface{}  `json:"failure_metadata,omitempty"`
}

// CheckpointManager owns the durable snapshot layer distinct from the
// per-turn Checkpointer above: one playbook_executions row per
// execution, upserted on every snapshot, readable independently of the
// live Task row for offline recovery.
type CheckpointManager struct {
	client *ent.Client
}

// NewCheckpointManager creates a CheckpointManager.
func NewCheckpointManager(client *ent.Client) *CheckpointManager {
	return &CheckpointManager{client: client}
}

// Snapshot writes (or updates) the checkpoint document for executionID,
// deriving SupportsResume from whether a FailureMetadata is present
// without an accompanying resumable status hint — conservatively true
// unless the caller explicitly marks the execution unresumable via
// supportsResume.
func (m *CheckpointManager) Snapshot(ctx context.Context, taskID, executionID string, snap Snapshot, supportsResume bool) error {
	now := time.Now()

	payload := map[string]interface{}{
		"execution_context": snap.ExecutionContext,
		"phase_summaries":   snap.PhaseSummaries,
		"intent_id":         snap.IntentID,
		"suggestion_id":     snap.SuggestionID,
		"failure_metadata":  snap.FailureMetadata,
	}

	existing, err := m.client.PlaybookExecution.Query().
		Where(playbookexecution.IDEQ(executionID)).
		Only(ctx)
	if err != nil {
		if !ent.IsNotFound(err) {
			return fmt.Errorf("checkpoint: loading playbook_execution %s: %w", executionID, err)
		}
		_, err = m.client.PlaybookExecution.Create().
			SetID(executionID).
			SetTaskID(taskID).
			SetCheckpoint(payload).
			SetSupportsResume(supportsResume).
			SetCheckpointedAt(now).
			Save(ctx)
		if err != nil {
			return fmt.Errorf("checkpoint: creating playbook_execution %s: %w", executionID, err)
		}
		return nil
	}

	_, err = m.client.PlaybookExecution.UpdateOne(existing).
		SetCheckpoint(payload).
		SetSupportsResume(supportsResume).
		SetCheckpointedAt(now).
		Save(ctx)
	if err != nil {
		return fmt.Errorf("checkpoint: updating playbook_execution %s: %w", executionID, err)
	}
	return nil
}

// MirrorStatus updates only the best-effort status projection on
// executionID's playbook_executions row, independent of a full
// Snapshot write (spec.md §4.4 step 8's "mirror to the peer
// playbook_executions record").
func (m *CheckpointManager) MirrorStatus(ctx context.Context, executionID string, status playbookexecution.Status) error {
	n, err := m.client.PlaybookExecution.Update().
		Where(playbookexecution.IDEQ(executionID)).
		SetStatus(status).
		Save(ctx)
	if err != nil {
		return fmt.Errorf("checkpoint: mirroring status for %s: %w", executionID, err)
	}
	if n == 0 {
		return fmt.Errorf("checkpoint: no playbook_execution row for %s", executionID)
	}
	return nil
}

// ResumeView is the Task+ExecutionSession view resume_from_checkpoint
// reconstructs for offline recovery tooling.
type ResumeView struct {
	Task      *ent.Task
	Execution *ent.PlaybookExecution
	Snapshot  Snapshot
}

// ResumeFromCheckpoint reconstructs a ResumeView from the latest
// snapshot recorded for executionID.
func (m *CheckpointManager) ResumeFromCheckpoint(ctx context.Context, executionID string) (*ResumeView, error) {
	pe, err := m.client.PlaybookExecution.Query().
		Where(playbookexecution.IDEQ(executionID)).
		Only(ctx)
	if err != nil {
		return nil, fmt.Errorf("checkpoint: loading playbook_execution %s: %w", executionID, err)
	}
	if !pe.SupportsResume {
		return nil, fmt.Errorf("checkpoint: execution %s does not support resume", executionID)
	}

	t, err := m.client.Task.Get(ctx, pe.TaskID)
	if err != nil {
		return nil, fmt.Errorf("checkpoint: loading task %s: %w", pe.TaskID, err)
	}

	snap := Snapshot{}
	if ec, ok := pe.Checkpoint["execution_context"].(map[string]interface{}); ok {
		snap.ExecutionContext = ec
	}
	if ps, ok := pe.Checkpoint["phase_summaries"].([]interface{}); ok {
		for _, p := range ps {
			if s, ok := p.(string); ok {
				snap.PhaseSummaries = append(snap.PhaseSummaries, s)
			}
		}
	}
	snap.IntentID, _ = pe.Checkpoint["intent_id"].(string)
	snap.SuggestionID, _ = pe.Checkpoint["suggestion_id"].(string)
	if fm, ok := pe.Checkpoint["failure_metadata"].(map[string]interface{}); ok {
		snap.FailureMetadata = fm
	}

	return &ResumeView{Task: t, Execution: pe, Snapshot: snap}, nil
}
