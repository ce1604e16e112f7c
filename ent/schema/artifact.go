package schema

import (
	"time"

	"entgo.io/ent"
	"entgo.io/ent/schema/field"
	"entgo.io/ent/schema/index"
)

// Artifact holds the schema definition for the Artifact entity
// (spec.md §3.7): a durable output of an execution. New schema — the
// teacher has no direct analogue (its outputs live as final_analysis /
// executive_summary text on AlertSession) — grounded on the same
// metadata-plus-storage-ref shape the teacher uses for its other
// content-bearing entities (JSON content column, optional nillable
// pointers, a version/is_latest pair carried inside metadata exactly
// like the teacher carries debug links inside TimelineEvent.metadata).
type Artifact struct {
	ent.Schema
}

// Fields of the Artifact.
func (Artifact) Fields() []ent.Field {
	return []ent.Field{
		field.String("id").
			StorageKey("artifact_id").
			Unique().
			Immutable(),
		field.String("workspace_id").
			Immutable(),
		field.String("intent_id").
			Optional().
			Nillable(),
		field.String("task_id").
			Optional().
			Nillable(),
		field.String("execution_id").
			Immutable(),
		field.String("playbook_code").
			Immutable(),
		field.Enum("artifact_type").
			Values("docx", "draft", "checklist", "config", "audio", "canva", "post", "other"),
		field.String("title"),
		field.Text("summary").
			Optional(),
		field.JSON("content", map[string]interface{}{}).
			Optional(),
		field.String("storage_ref").
			Optional().
			Nillable().
			Comment("Opaque path or URL to bytes"),
		field.Enum("sync_state").
			Values("pending", "synced", "failed").
			Optional().
			Nillable(),
		field.Enum("primary_action_type").
			Values("copy", "download", "open_external"),
		field.Int("version").
			Default(1),
		field.Bool("is_latest").
			Default(true),
		field.JSON("metadata", map[string]interface{}{}).
			Optional(),
		field.Time("created_at").
			Default(time.Now).
			Immutable(),
	}
}

// Indexes of the Artifact. Only one artifact per
// (workspace, playbook_code, artifact_type) chain has is_latest=true;
// enforced in application code atomically within the store (spec.md §3.7).
func (Artifact) Indexes() []ent.Index {
	return []ent.Index{
		index.Fields("workspace_id", "playbook_code", "artifact_type", "is_latest"),
		index.Fields("execution_id"),
	}
}
