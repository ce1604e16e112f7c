package runner

import (
	"github.com/haasonsaas/playbookengine/pkg/checkpoint"
	"github.com/haasonsaas/playbookengine/pkg/conversation"
)

// snapshotFrom builds the checkpoint.Snapshot document the
// CheckpointManager mirrors onto the peer playbook_executions record
// (spec.md §4.6 "Explicit checkpoint objects") at the end of every
// start and continue turn.
func snapshotFrom(conv *conversation.Manager, intentID, suggestionID string, phaseSummaries []string, failure map[string]interface{}) checkpoint.Snapshot {
	return checkpoint.Snapshot{
		ExecutionContext: conv.Serialize(),
		PhaseSummaries:   phaseSummaries,
		IntentID:         intentID,
		SuggestionID:     suggestionID,
		FailureMetadata:  failure,
	}
}
