// Package chat implements Execution Chat (spec.md §4.8): a sidebar
// conversation about a running or completed execution that branches,
// per post, into continue mode (drive the paused execution forward) or
// discussion mode (an LLM side-reply that never touches the run). The
// branch condition and the discussion-mode prompt assembly are grounded
// on the teacher's pkg/agent/controller/iterating.go's "decide what to
// do with the next user turn" shape, adapted from a single fixed branch
// to Execution Chat's two-way split.
package chat

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/haasonsaas/playbookengine/ent"
	"github.com/haasonsaas/playbookengine/ent/event"
	"github.com/haasonsaas/playbookengine/pkg/config"
	"github.com/haasonsaas/playbookengine/pkg/eventbus"
	"github.com/haasonsaas/playbookengine/pkg/eventlog"
	"github.com/haasonsaas/playbookengine/pkg/llm"
	"github.com/haasonsaas/playbookengine/pkg/runner"
)

// chatHistoryLimit bounds how many prior execution_chat turns are
// folded into a discussion-mode prompt.
const chatHistoryLimit = 20

// stepHistoryLimit bounds how many prior playbook_step summaries are
// folded into a discussion-mode prompt.
const stepHistoryLimit = 5

// Runner is the subset of *runner.Runner Service depends on, so tests
// can substitute a stub.
type Runner interface {
	ContinuePlaybookExecution(ctx context.Context, in runner.ContinueInput) (*runner.ContinueOutput, error)
}

// Publisher is the subset of *eventbus.Bus Service depends on. Left as
// an interface (rather than importing pkg/eventbus directly) so a bare
// *Service can be constructed without a live bus in tests; nil disables
// push entirely and callers fall back on pkg/stream's poll.
type Publisher interface {
	PublishJSON(channel string, v interface{}) error
}

// Service posts sidebar chat turns and decides, per spec.md §4.8,
// whether they resume the run or merely discuss it.
type Service struct {
	client     *ent.Client
	events     *eventlog.EventLog
	playbooks  *config.PlaybookRegistry
	providers  *config.LLMProviderRegistry
	resolveLLM runner.ProviderResolver
	runner     Runner
	bus        Publisher

	defaultProvider string
}

// New creates a Service. bus may be nil.
func New(
	client *ent.Client,
	events *eventlog.EventLog,
	playbooks *config.PlaybookRegistry,
	providers *config.LLMProviderRegistry,
	resolveLLM runner.ProviderResolver,
	r Runner,
	bus Publisher,
	defaultProviderName string,
) *Service {
	return &Service{
		client:          client,
		events:          events,
		playbooks:       playbooks,
		providers:       providers,
		resolveLLM:      resolveLLM,
		runner:          r,
		bus:             bus,
		defaultProvider: defaultProviderName,
	}
}

// publish pushes payload onto the sidebar's bus channel, if a bus is
// configured. Best-effort: a push failure never fails the post, since
// pkg/stream's poll remains the source of truth.
func (s *Service) publish(executionID string, payload map[string]interface{}) {
	if s.bus == nil {
		return
	}
	if err := s.bus.PublishJSON(eventbus.ExecutionChannel(executionID), payload); err != nil {
		slog.Warn("chat: publishing to bus failed", "execution_id", executionID, "error", err)
	}
}

// PostInput carries one user sidebar post (spec.md §4.8).
type PostInput struct {
	ExecutionID string
	PrincipalID string
	Content     string
}

// PostOutput reports which mode handled the post and, in continue mode,
// the runner's reply.
type PostOutput struct {
	Mode             string // "continue" or "discussion"
	Reply            string
	IsComplete       bool
	StructuredOutput map[string]interface{}
}

// Post records in.Content as a user execution_chat event, then either
// drives the execution forward (continue mode) or generates a
// discussion reply (discussion mode), persisting that reply as its own
// execution_chat event in either case (spec.md §4.8).
func (s *Service) Post(ctx context.Context, in PostInput) (*PostOutput, error) {
	if strings.TrimSpace(in.Content) == "" {
		return nil, fmt.Errorf("chat: content required")
	}

	t, err := s.client.Task.Get(ctx, in.ExecutionID)
	if err != nil {
		return nil, fmt.Errorf("chat: loading execution %s: %w", in.ExecutionID, err)
	}

	if err := s.events.AppendExecutionChat(ctx, t.WorkspaceID, eventlog.ExecutionChatPayload{
		ExecutionID: in.ExecutionID,
		Role:        "user",
		Content:     in.Content,
	}); err != nil {
		return nil, fmt.Errorf("chat: recording user post: %w", err)
	}
	s.publish(in.ExecutionID, map[string]interface{}{"execution_id": in.ExecutionID, "role": "user", "content": in.Content})

	if awaitingInput(t) {
		return s.continueMode(ctx, in)
	}
	return s.discussionMode(ctx, t, in)
}

// awaitingInput implements spec.md §4.8's continue-mode predicate. The
// Task status enum this module carries has no waiting_confirmation
// member (see pkg/stream's Open Question note), so "paused" and
// "awaiting step confirmation" are both represented as
// execution_context keys: paused_at (string, set by the Runner when a
// future pause point lands) and waiting_confirmation (bool, set when
// the current step is gated on human approval).
func awaitingInput(t *ent.Task) bool {
	if s, ok := t.ExecutionContext["paused_at"].(string); ok && s != "" {
		return true
	}
	if b, ok := t.ExecutionContext["waiting_confirmation"].(bool); ok && b {
		return true
	}
	return false
}

func (s *Service) continueMode(ctx context.Context, in PostInput) (*PostOutput, error) {
	out, err := s.runner.ContinuePlaybookExecution(ctx, runner.ContinueInput{
		ExecutionID: in.ExecutionID,
		UserMessage: in.Content,
		PrincipalID: in.PrincipalID,
	})
	if err != nil {
		return nil, fmt.Errorf("chat: continuing execution %s: %w", in.ExecutionID, err)
	}
	return &PostOutput{
		Mode:             "continue",
		Reply:            out.Message,
		IsComplete:       out.IsComplete,
		StructuredOutput: out.StructuredOutput,
	}, nil
}

func (s *Service) discussionMode(ctx context.Context, t *ent.Task, in PostInput) (*PostOutput, error) {
	provider, model, err := s.providerFor(t.PackID)
	if err != nil {
		return nil, fmt.Errorf("chat: resolving llm provider: %w", err)
	}

	prompt, err := s.buildDiscussionPrompt(ctx, t)
	if err != nil {
		return nil, err
	}

	resp, err := provider.Chat(ctx, llm.ChatRequest{
		Model: model,
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: prompt},
			{Role: llm.RoleUser, Content: in.Content},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("chat: generating discussion reply: %w", err)
	}

	if err := s.events.AppendExecutionChat(ctx, t.WorkspaceID, eventlog.ExecutionChatPayload{
		ExecutionID: t.ID,
		Role:        "assistant",
		Content:     resp.Content,
	}); err != nil {
		return nil, fmt.Errorf("chat: recording assistant reply: %w", err)
	}
	s.publish(t.ID, map[string]interface{}{"execution_id": t.ID, "role": "assistant", "content": resp.Content})

	return &PostOutput{Mode: "discussion", Reply: resp.Content}, nil
}

// providerFor mirrors runner.Runner.providerFor: the same pack ->
// provider-name -> config.LLMProviderConfig resolution, duplicated
// rather than exported from pkg/runner since a discussion reply is not
// part of the Playbook Runner's own contract.
func (s *Service) providerFor(packID string) (llm.Provider, string, error) {
	name := s.defaultProvider
	if pb, err := s.playbooks.Get(packID); err == nil && pb.LLMProvider != "" {
		name = pb.LLMProvider
	}
	cfg, err := s.providers.Get(name)
	if err != nil {
		return nil, "", fmt.Errorf("resolving llm provider %q: %w", name, err)
	}
	provider, err := s.resolveLLM(cfg)
	if err != nil {
		return nil, "", fmt.Errorf("constructing llm provider %q: %w", name, err)
	}
	return provider, cfg.Model, nil
}

// buildDiscussionPrompt assembles the execution-context prompt spec.md
// §4.8 requires: playbook code, current step index, recent step
// summaries, recent chat.
func (s *Service) buildDiscussionPrompt(ctx context.Context, t *ent.Task) (string, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "You are discussing a playbook execution with an operator, without controlling it.\n")
	fmt.Fprintf(&b, "Playbook: %s\n", t.PackID)
	if n, ok := t.ExecutionContext["current_step_index"].(float64); ok {
		fmt.Fprintf(&b, "Current step index: %d\n", int(n))
	}
	fmt.Fprintf(&b, "Status: %s\n", t.Status)

	steps, err := s.events.ListPlaybookSteps(ctx, t.WorkspaceID, t.ID)
	if err != nil {
		return "", fmt.Errorf("chat: loading step history: %w", err)
	}
	if len(steps) > 0 {
		b.WriteString("\nRecent steps:\n")
		start := 0
		if len(steps) > stepHistoryLimit {
			start = len(steps) - stepHistoryLimit
		}
		for _, evt := range steps[start:] {
			name, _ := evt.Payload["step_name"].(string)
			summary, _ := evt.Payload["log_summary"].(string)
			fmt.Fprintf(&b, "- %s: %s\n", name, summary)
		}
	}

	chatEvts, err := s.events.ListSince(ctx, t.WorkspaceID, event.EventTypeExecutionChat, eventlog.Watermark{}, 500)
	if err != nil {
		return "", fmt.Errorf("chat: loading chat history: %w", err)
	}
	var relevant []*ent.Event
	for _, evt := range chatEvts {
		if containsID(evt.EntityIds, t.ID) {
			relevant = append(relevant, evt)
		}
	}
	if len(relevant) > 0 {
		b.WriteString("\nRecent chat:\n")
		start := 0
		if len(relevant) > chatHistoryLimit {
			start = len(relevant) - chatHistoryLimit
		}
		for _, evt := range relevant[start:] {
			role, _ := evt.Payload["role"].(string)
			content, _ := evt.Payload["content"].(string)
			fmt.Fprintf(&b, "%s: %s\n", role, content)
		}
	}

	return b.String(), nil
}

func containsID(ids []string, id string) bool {
	for _, x := range ids {
		if x == id {
			return true
		}
	}
	return false
}
