package schema

import (
	"time"

	"entgo.io/ent"
	"entgo.io/ent/schema/field"
)

// RunnerHeartbeat holds the schema definition for the separate runner
// liveness table required by spec.md §4.2 ("Runner heartbeat table").
// Distinct from Task.execution_context.heartbeat_at — this table lets a
// scheduler decide whether to self-elect as worker via HasActiveRunner,
// independent of any single task's state. New table; the teacher folds
// the equivalent pod_id/last_interaction_at bookkeeping directly onto
// AlertSession, which this core splits out per the spec.
type RunnerHeartbeat struct {
	ent.Schema
}

// Fields of the RunnerHeartbeat.
func (RunnerHeartbeat) Fields() []ent.Field {
	return []ent.Field{
		field.String("runner_id").
			StorageKey("runner_id").
			Unique().
			Immutable(),
		field.Time("heartbeat_at").
			Default(time.Now).
			UpdateDefault(time.Now),
	}
}
