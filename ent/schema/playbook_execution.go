package schema

import (
	"time"

	"entgo.io/ent"
	"entgo.io/ent/schema/edge"
	"entgo.io/ent/schema/field"
	"entgo.io/ent/schema/index"
)

// PlaybookExecution holds the schema definition for the peer status-
// mirror table named in spec.md §4.2 and §4.6: best-effort projection of
// Task.status, plus the explicit checkpoint snapshots written by
// CheckpointManager (full execution context, phase summaries, intent
// correlation, failure metadata, supports_resume). Adapted from the
// teacher's AgentExecution, which plays the analogous "one durable row
// tracking one running unit of work, separate from the claim table"
// role for sub-agent dispatch.
type PlaybookExecution struct {
	ent.Schema
}

// Fields of the PlaybookExecution.
func (PlaybookExecution) Fields() []ent.Field {
	return []ent.Field{
		field.String("id").
			StorageKey("execution_id").
			Unique().
			Immutable(),
		field.String("task_id").
			Immutable(),
		field.Enum("status").
			Values("pending", "running", "succeeded", "failed", "cancelled_by_user", "expired").
			Default("pending").
			Comment("Best-effort projection of Task.status — never written independently"),
		field.JSON("checkpoint", map[string]interface{}{}).
			Optional().
			Comment("Latest CheckpointManager snapshot: execution context, phase summaries, intent correlation, failure metadata"),
		field.Bool("supports_resume").
			Default(true),
		field.Time("checkpointed_at").
			Optional().
			Nillable(),
		field.Time("created_at").
			Default(time.Now).
			Immutable(),
	}
}

// Edges of the PlaybookExecution.
func (PlaybookExecution) Edges() []ent.Edge {
	return []ent.Edge{
		edge.From("task", Task.Type).
			Ref("playbook_execution").
			Field("task_id").
			Unique().
			Required().
			Immutable(),
	}
}

// Indexes of the PlaybookExecution.
func (PlaybookExecution) Indexes() []ent.Index {
	return []ent.Index{
		index.Fields("task_id").Unique(),
		index.Fields("status"),
	}
}
