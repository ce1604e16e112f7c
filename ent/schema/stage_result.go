package schema

import (
	"time"

	"entgo.io/ent"
	"entgo.io/ent/schema/field"
	"entgo.io/ent/schema/index"
)

// StageResult holds the schema definition for the StageResult entity
// (spec.md §3.6): an intermediate, review-worthy output produced during
// an execution. Adapted from the teacher's Stage entity, narrowed from
// full stage-coordination bookkeeping (expected_agent_count,
// parallel_type, success_policy — all chain-orchestration concerns
// outside this core's scope) down to the review/approval record the
// spec actually names.
type StageResult struct {
	ent.Schema
}

// Fields of the StageResult.
func (StageResult) Fields() []ent.Field {
	return []ent.Field{
		field.String("id").
			StorageKey("stage_result_id").
			Unique().
			Immutable(),
		field.String("execution_id").
			Immutable(),
		field.String("step_id").
			Optional().
			Nillable(),
		field.String("stage_name"),
		field.Enum("result_type").
			Values("draft", "analysis", "design", "data"),
		field.JSON("content", map[string]interface{}{}).
			Optional(),
		field.Text("preview").
			Optional(),
		field.Bool("requires_review").
			Default(false),
		field.Enum("review_status").
			Values("pending", "approved", "rejected").
			Default("pending"),
		field.String("artifact_id").
			Optional().
			Nillable(),
		field.Time("created_at").
			Default(time.Now).
			Immutable(),
	}
}

// Indexes of the StageResult.
func (StageResult) Indexes() []ent.Index {
	return []ent.Index{
		index.Fields("execution_id", "created_at"),
	}
}
