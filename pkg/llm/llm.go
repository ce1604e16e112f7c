// Package llm defines the LLMProvider contract the Playbook Runner calls
// into (spec.md §1: "the LLM providers themselves ... treated as a
// generic LLMProvider.Chat capability") and the concrete backends that
// satisfy it. Grounded on the Go-side shape of the teacher's
// pkg/agent/llm_client.go (message/role/tool-call vocabulary), collapsed
// from a streaming-chunk channel API to a single-shot Chat call — the
// Runner's step driver (spec.md §4.4) only ever needs the final message
// of one round, never intermediate tokens.
package llm

import "context"

// Role is the speaker of one message in a Chat request.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one turn handed to a provider.
type Message struct {
	Role    Role
	Content string
}

// ToolDefinition describes one tool the model may call, rendered into
// the provider's native tool-use format by each backend.
type ToolDefinition struct {
	Name        string
	Description string
	Schema      map[string]interface{} // JSON Schema for parameters
}

// ChatRequest is a single-shot completion request.
type ChatRequest struct {
	Model       string
	Messages    []Message
	Tools       []ToolDefinition // nil/empty when the pack exposes no tools
	MaxTokens   int
	Temperature float32
}

// ChatResponse is a provider's reply to one ChatRequest.
type ChatResponse struct {
	// Content is the assistant's text. The Playbook Runner's tool-call
	// parser (pkg/runner) operates on this field; providers are never
	// asked to pre-parse tool-call directives themselves.
	Content string

	// StopReason is provider-specific ("end_turn", "max_tokens", ...),
	// surfaced for diagnostics only; the Runner does not branch on it.
	StopReason string

	// InputTokens/OutputTokens are usage counts, when the backend reports
	// them. Zero when unavailable.
	InputTokens  int
	OutputTokens int
}

// Provider is the generic capability the Playbook Runner depends on.
// Concrete backends: AnthropicProvider, OpenAIProvider, GRPCProvider.
type Provider interface {
	Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error)
}
