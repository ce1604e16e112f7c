package schema

import (
	"time"

	"entgo.io/ent"
	"entgo.io/ent/schema/field"
	"entgo.io/ent/schema/index"
)

// ToolCall holds the schema definition for the ToolCall entity
// (spec.md §3.5): a discrete, queryable record of one tool invocation.
// Adapted from the teacher's MCPInteraction, generalized from MCP-only
// dispatch to the Unified Tool Executor's multi-cluster routing
// (local_mcp, sem-hub, wp-hub, n8n).
type ToolCall struct {
	ent.Schema
}

// Fields of the ToolCall.
func (ToolCall) Fields() []ent.Field {
	return []ent.Field{
		field.String("id").
			StorageKey("tool_call_id").
			Unique().
			Immutable(),
		field.String("execution_id").
			Immutable(),
		field.String("step_id").
			Optional().
			Nillable(),
		field.String("tool_name").
			Comment("Fully qualified, e.g. filesystem.write_file"),
		field.JSON("parameters", map[string]interface{}{}).
			Optional(),
		field.JSON("response", map[string]interface{}{}).
			Optional(),
		field.Enum("status").
			Values("pending", "completed", "failed").
			Default("pending"),
		field.String("error").
			Optional().
			Nillable(),
		field.Int("duration_ms").
			Optional().
			Nillable(),
		field.String("factory_cluster").
			Comment("Dispatch channel classification: local_mcp, sem-hub, wp-hub, n8n"),
		field.Time("started_at").
			Optional().
			Nillable(),
		field.Time("completed_at").
			Optional().
			Nillable(),
		field.Time("created_at").
			Default(time.Now).
			Immutable(),
	}
}

// Indexes of the ToolCall. Ordered by started_at, tie-broken by id
// (spec.md §5 "Ordering guarantees").
func (ToolCall) Indexes() []ent.Index {
	return []ent.Index{
		index.Fields("execution_id", "started_at"),
		index.Fields("created_at"),
	}
}
