// Package conversation implements the per-execution Conversation Manager
// (spec.md §3.4): the in-memory, serializable state a playbook execution
// carries across continuations — chat turns, step counter, extracted
// structured outputs, and variant overrides.
package conversation

import (
	"fmt"
)

// Role is the speaker of one chat turn.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is one chat message in the conversation's ordered history.
type Turn struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Variant holds the optional per-execution overrides to a playbook's
// nominal step sequence.
type Variant struct {
	// SkipSteps lists 0-based step indices the Runner must not emit.
	SkipSteps []int `json:"skip_steps,omitempty"`

	// ExtraChecklistItems are appended to the playbook's SOP checklist
	// for this execution only.
	ExtraChecklistItems []string `json:"extra_checklist_items,omitempty"`
}

// Manager holds everything the Playbook Runner needs to resume an
// execution without re-reading the originating Task: the playbook body,
// owning identities (held by id, resolved lazily — not embedded objects,
// so serialization never has to chase a live reference), the ordered
// chat history, the step cursor, structured outputs extracted so far,
// and a frozen tool-catalog string captured at start time.
type Manager struct {
	WorkspaceID string
	ProfileID   string

	PackID  string
	SOPBody string

	Locale string

	turns []Turn

	// StepCounter is 0-based and names the *next* step to emit.
	StepCounter int

	structuredOutputs map[string]interface{}

	Variant Variant

	// ToolCatalog is a frozen view of the workspace's enabled tools,
	// captured once at execution start and never refreshed mid-run.
	ToolCatalog string
}

// New creates a Manager for a fresh execution.
func New(workspaceID, profileID, packID, sopBody, locale, toolCatalog string) *Manager {
	return &Manager{
		WorkspaceID:       workspaceID,
		ProfileID:         profileID,
		PackID:            packID,
		SOPBody:           sopBody,
		Locale:            locale,
		structuredOutputs: make(map[string]interface{}),
		ToolCatalog:       toolCatalog,
	}
}

// AppendTurn appends one chat turn to the ordered history.
func (m *Manager) AppendTurn(role Role, content string) {
	m.turns = append(m.turns, Turn{Role: role, Content: content})
}

// Turns returns the ordered chat history. The returned slice must not be
// mutated by the caller.
func (m *Manager) Turns() []Turn {
	return m.turns
}

// NextStep returns the step index about to be emitted and advances the
// counter, skipping any indices named in Variant.SkipSteps.
func (m *Manager) NextStep() int {
	step := m.StepCounter
	m.StepCounter++
	for m.skipsStep(m.StepCounter) {
		m.StepCounter++
	}
	return step
}

func (m *Manager) skipsStep(step int) bool {
	for _, s := range m.Variant.SkipSteps {
		if s == step {
			return true
		}
	}
	return false
}

// SetStructuredOutput records the extracted structured output of a
// completed step, keyed by step name.
func (m *Manager) SetStructuredOutput(stepName string, value interface{}) {
	if m.structuredOutputs == nil {
		m.structuredOutputs = make(map[string]interface{})
	}
	m.structuredOutputs[stepName] = value
}

// StructuredOutput returns the extracted structured output for stepName,
// if any.
func (m *Manager) StructuredOutput(stepName string) (interface{}, bool) {
	v, ok := m.structuredOutputs[stepName]
	return v, ok
}

// StructuredOutputs returns every extracted structured output keyed by
// step name. The returned map must not be mutated by the caller.
func (m *Manager) StructuredOutputs() map[string]interface{} {
	return m.structuredOutputs
}

// Serialize produces the lossless map[string]interface{} representation
// stored at Task.execution_context.conversation_state (spec.md §4.6).
func (m *Manager) Serialize() map[string]interface{} {
	turns := make([]interface{}, len(m.turns))
	for i, t := range m.turns {
		turns[i] = map[string]interface{}{
			"role":    string(t.Role),
			"content": t.Content,
		}
	}

	return map[string]interface{}{
		"workspace_id":       m.WorkspaceID,
		"profile_id":         m.ProfileID,
		"pack_id":            m.PackID,
		"sop_body":           m.SOPBody,
		"locale":             m.Locale,
		"turns":              turns,
		"step_counter":       m.StepCounter,
		"structured_outputs": m.structuredOutputs,
		"variant": map[string]interface{}{
			"skip_steps":            intsToAny(m.Variant.SkipSteps),
			"extra_checklist_items": stringsToAny(m.Variant.ExtraChecklistItems),
		},
		"tool_catalog": m.ToolCatalog,
	}
}

// Deserialize restores a Manager from the map produced by Serialize.
// Every field required to resume execution round-trips losslessly.
func Deserialize(state map[string]interface{}) (*Manager, error) {
	m := &Manager{structuredOutputs: make(map[string]interface{})}

	m.WorkspaceID, _ = state["workspace_id"].(string)
	m.ProfileID, _ = state["profile_id"].(string)
	m.PackID, _ = state["pack_id"].(string)
	m.SOPBody, _ = state["sop_body"].(string)
	m.Locale, _ = state["locale"].(string)
	m.ToolCatalog, _ = state["tool_catalog"].(string)

	if raw, ok := state["step_counter"]; ok {
		n, err := asInt(raw)
		if err != nil {
			return nil, fmt.Errorf("conversation: step_counter: %w", err)
		}
		m.StepCounter = n
	}

	if raw, ok := state["turns"].([]interface{}); ok {
		for _, item := range raw {
			entry, ok := item.(map[string]interface{})
			if !ok {
				continue
			}
			role, _ := entry["role"].(string)
			content, _ := entry["content"].(string)
			m.turns = append(m.turns, Turn{Role: Role(role), Content: content})
		}
	}

	if raw, ok := state["structured_outputs"].(map[string]interface{}); ok {
		for k, v := range raw {
			m.structuredOutputs[k] = v
		}
	}

	if raw, ok := state["variant"].(map[string]interface{}); ok {
		if skip, ok := raw["skip_steps"].([]interface{}); ok {
			for _, v := range skip {
				n, err := asInt(v)
				if err == nil {
					m.Variant.SkipSteps = append(m.Variant.SkipSteps, n)
				}
			}
		}
		if extra, ok := raw["extra_checklist_items"].([]interface{}); ok {
			for _, v := range extra {
				if s, ok := v.(string); ok {
					m.Variant.ExtraChecklistItems = append(m.Variant.ExtraChecklistItems, s)
				}
			}
		}
	}

	return m, nil
}

func asInt(v interface{}) (int, error) {
	switch n := v.(type) {
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case float64:
		return int(n), nil
	default:
		return 0, fmt.Errorf("unexpected numeric type %T", v)
	}
}

func intsToAny(ints []int) []interface{} {
	out := make([]interface{}, len(ints))
	for i, n := range ints {
		out[i] = n
	}
	return out
}

func stringsToAny(strs []string) []interface{} {
	out := make([]interface{}, len(strs))
	for i, s := range strs {
		out[i] = s
	}
	return out
}
