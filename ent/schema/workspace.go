package schema

import (
	"time"

	"entgo.io/ent"
	"entgo.io/ent/schema/field"
	"entgo.io/ent/schema/index"
)

// Workspace holds the schema definition for the Workspace entity.
// A container owned by one principal; the core only reads it.
type Workspace struct {
	ent.Schema
}

// Fields of the Workspace.
func (Workspace) Fields() []ent.Field {
	return []ent.Field{
		field.String("id").
			StorageKey("workspace_id").
			Unique().
			Immutable(),
		field.String("owner_principal_id").
			Immutable(),
		field.String("default_locale").
			Default("en"),
		field.String("storage_root").
			Comment("Opaque path, validated outside the core"),
		field.Enum("execution_mode").
			Values("qa", "execution", "hybrid").
			Default("qa"),
		field.Enum("priority").
			Values("low", "medium", "high").
			Default("medium"),
		field.JSON("auto_execution_config", map[string]interface{}{}).
			Optional().
			Comment("pack_id -> {confidence_threshold, auto_execute}"),
		field.Time("created_at").
			Default(time.Now).
			Immutable(),
	}
}

// Indexes of the Workspace.
func (Workspace) Indexes() []ent.Index {
	return []ent.Index{
		index.Fields("owner_principal_id"),
	}
}
