package schema

import (
	"time"

	"entgo.io/ent"
	"entgo.io/ent/dialect/entsql"
	"entgo.io/ent/schema/field"
	"entgo.io/ent/schema/index"
)

// Event holds the schema definition for the Event entity (spec.md §3.3),
// the append-mostly record read by the streaming projection. Storage
// table is "mind_events", named directly in spec.md §6. Adapted from
// the teacher's TimelineEvent, generalized from a fixed investigation
// timeline to the broader event_type set the spec requires (message,
// playbook_step, execution_chat, tool_call, agent_execution).
type Event struct {
	ent.Schema
}

// Annotations pins the storage table name to "mind_events" (spec.md §6),
// rather than the default name ent would derive from the Go type.
func (Event) Annotations() []ent.Annotation {
	return []ent.Annotation{
		entsql.Annotation{Table: "mind_events"},
	}
}

// Fields of the Event.
func (Event) Fields() []ent.Field {
	return []ent.Field{
		field.String("id").
			StorageKey("event_id").
			Unique().
			Immutable(),
		field.String("workspace_id").
			Immutable(),
		field.String("profile_id").
			Optional().
			Nillable(),
		field.String("thread_id").
			Optional().
			Nillable(),
		field.Strings("entity_ids").
			Optional().
			Comment("Cross-reference ids, e.g. the execution_id an event belongs to"),
		field.Enum("actor").
			Values("user", "assistant", "system", "agent"),
		field.Enum("event_type").
			Values("message", "playbook_step", "execution_chat", "tool_call", "agent_execution"),
		field.JSON("payload", map[string]interface{}{}).
			Optional(),
		field.JSON("metadata", map[string]interface{}{}).
			Optional(),
		field.Time("timestamp").
			Default(time.Now).
			Immutable(),
	}
}

// Indexes of the Event.
// Ordering is strictly by timestamp, tie-broken by id (spec.md §3.3).
func (Event) Indexes() []ent.Index {
	return []ent.Index{
		index.Fields("workspace_id", "event_type", "timestamp"),
		index.Fields("timestamp", "id"),
	}
}
