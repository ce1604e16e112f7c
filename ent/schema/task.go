package schema

import (
	"time"

	"entgo.io/ent"
	"entgo.io/ent/dialect/entsql"
	"entgo.io/ent/schema"
	"entgo.io/ent/schema/edge"
	"entgo.io/ent/schema/field"
	"entgo.io/ent/schema/index"
)

// Task holds the schema definition for the Task entity — the central
// unit of work (spec.md §3.2). Adapted from the teacher's AlertSession:
// the claim protocol, heartbeat bookkeeping, and pod/runner coordination
// fields all generalize directly from session-claiming to task-claiming.
type Task struct {
	ent.Schema
}

// Fields of the Task.
func (Task) Fields() []ent.Field {
	return []ent.Field{
		field.String("id").
			StorageKey("task_id").
			Unique().
			Immutable(),
		field.String("workspace_id").
			Immutable().
			Comment("Scoping"),
		field.String("execution_id").
			Optional().
			Nillable().
			Comment("Correlates with the event log; usually equals id"),
		field.String("project_id").
			Optional().
			Nillable().
			Comment("Denormalized grouping"),
		field.String("pack_id").
			Comment("Playbook code or capability code"),
		field.Enum("task_type").
			Values("playbook_execution", "suggestion", "agent_dispatch", "execution", "extraction"),
		field.Enum("status").
			Values("pending", "running", "succeeded", "failed", "cancelled_by_user", "expired").
			Default("pending"),
		field.JSON("params", map[string]interface{}{}).
			Optional().
			Comment("Inputs supplied at creation"),
		field.JSON("result", map[string]interface{}{}).
			Optional().
			Comment("Terminal output"),
		field.JSON("execution_context", map[string]interface{}{}).
			Optional().
			Comment("Durable mid-run state: conversation, step counters, runner_id, heartbeat_at, failure metadata"),
		field.Strings("storyline_tags").
			Optional().
			Comment("Ordered narrative labels"),
		field.Time("created_at").
			Default(time.Now).
			Immutable(),
		field.Time("started_at").
			Optional().
			Nillable(),
		field.Time("completed_at").
			Optional().
			Nillable(),
		field.String("error").
			Optional().
			Nillable().
			Comment("Failure summary"),
	}
}

// Edges of the Task.
func (Task) Edges() []ent.Edge {
	return []ent.Edge{
		edge.To("events", Event.Type).
			Annotations(entsql.OnDelete(entsql.Cascade)),
		edge.To("tool_calls", ToolCall.Type).
			Annotations(entsql.OnDelete(entsql.Cascade)),
		edge.To("stage_results", StageResult.Type).
			Annotations(entsql.OnDelete(entsql.Cascade)),
		edge.To("artifacts", Artifact.Type).
			Annotations(entsql.OnDelete(entsql.Cascade)),
		edge.To("playbook_execution", PlaybookExecution.Type).
			Unique().
			Annotations(entsql.OnDelete(entsql.Cascade)),
	}
}

// Indexes of the Task.
func (Task) Indexes() []ent.Index {
	return []ent.Index{
		index.Fields("status"),
		index.Fields("pack_id"),
		index.Fields("task_type"),
		index.Fields("workspace_id", "status", "created_at"),
		index.Fields("task_type", "status", "created_at"),
	}
}

// Annotations for PostgreSQL-specific features.
func (Task) Annotations() []schema.Annotation {
	return []schema.Annotation{}
}
