package schema

import (
	"entgo.io/ent"
	"entgo.io/ent/schema/field"
	"entgo.io/ent/schema/index"
)

// Preference holds the schema definition for the Preference entity: a
// per (workspace, user, pack, task_type) auto-suggestion opt-out,
// consulted by the Execution Coordinator (spec.md §4.1, "User
// preferences"). New table; no teacher analogue exists because the
// teacher has no per-user suggestion-consent model.
type Preference struct {
	ent.Schema
}

// Fields of the Preference.
func (Preference) Fields() []ent.Field {
	return []ent.Field{
		field.String("id").
			StorageKey("preference_id").
			Unique().
			Immutable(),
		field.String("workspace_id").
			Immutable(),
		field.String("user_id").
			Immutable(),
		field.String("pack_id").
			Immutable(),
		field.String("task_type").
			Immutable(),
		field.Bool("auto_suggest_disabled").
			Default(false),
	}
}

// Indexes of the Preference.
func (Preference) Indexes() []ent.Index {
	return []ent.Index{
		index.Fields("workspace_id", "user_id", "pack_id", "task_type").
			Unique(),
	}
}
