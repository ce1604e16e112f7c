// Package runner implements the Playbook Runner (spec.md §4.3, §4.4):
// StartPlaybookExecution and ContinuePlaybookExecution, the component
// that actually drives a playbook's conversation with the LLM and the
// Unified Tool Executor turn by turn. Grounded in spirit — the
// iteration-bounded loop shape, not the literal tool-call-format
// mechanics — on the teacher's pkg/agent/controller/iterating.go.
package runner

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/haasonsaas/playbookengine/ent"
	"github.com/haasonsaas/playbookengine/ent/task"
	"github.com/haasonsaas/playbookengine/pkg/checkpoint"
	"github.com/haasonsaas/playbookengine/pkg/config"
	"github.com/haasonsaas/playbookengine/pkg/conversation"
	"github.com/haasonsaas/playbookengine/pkg/eventlog"
	"github.com/haasonsaas/playbookengine/pkg/llm"
	"github.com/haasonsaas/playbookengine/pkg/toolexec"
)

// maxToolIterations bounds the tool-call inner loop (spec.md §4.4 step 3).
const maxToolIterations = 5

// stepSummaryLen/toolResultExcerptLen bound the text stored on step
// events and injected tool-result summaries (spec.md §4.4 steps 3, 6).
const (
	stepSummaryLen       = 280
	toolResultExcerptLen = 500
)

// ProviderResolver constructs (or looks up a pooled) llm.Provider for
// cfg. Kept as a caller-supplied function rather than a fixed
// Anthropic/OpenAI/gRPC switch so tests can inject a stub provider.
type ProviderResolver func(cfg *config.LLMProviderConfig) (llm.Provider, error)

// ToolCatalogFunc loads the frozen tool-catalog string an execution
// captures once at start time (spec.md §4.3 step 3, §3.4).
type ToolCatalogFunc func(ctx context.Context, workspaceID string) (string, error)

// Runner owns the task store, event log, tool executor, and checkpoint
// layers a playbook execution touches, plus the in-memory conversation
// registry spec.md §4.4's "Concurrency" section requires.
type Runner struct {
	client      *ent.Client
	events      *eventlog.EventLog
	playbooks   *config.PlaybookRegistry
	providers   *config.LLMProviderRegistry
	resolveLLM  ProviderResolver
	tools       *toolexec.Executor
	toolCatalog ToolCatalogFunc
	turns       *checkpoint.Checkpointer
	snapshots   *checkpoint.CheckpointManager

	defaultProvider string

	conv convRegistry

	// HabitHook, if set, is fired in a goroutine whenever an execution
	// completes (spec.md §4.4 step 8's "optional background
	// habit-observation hook"). Left nil by default; wired by cmd/ when
	// habit learning is enabled.
	HabitHook func(executionID string, structuredOutput map[string]interface{})
}

// New creates a Runner. defaultProviderName names the
// config.LLMProviderRegistry entry used when a playbook's
// config.PlaybookConfig.LLMProvider is unset.
func New(
	client *ent.Client,
	events *eventlog.EventLog,
	playbooks *config.PlaybookRegistry,
	providers *config.LLMProviderRegistry,
	resolveLLM ProviderResolver,
	tools *toolexec.Executor,
	toolCatalog ToolCatalogFunc,
	turns *checkpoint.Checkpointer,
	snapshots *checkpoint.CheckpointManager,
	defaultProviderName string,
) *Runner {
	return &Runner{
		client:          client,
		events:          events,
		playbooks:       playbooks,
		providers:       providers,
		resolveLLM:      resolveLLM,
		tools:           tools,
		toolCatalog:     toolCatalog,
		turns:           turns,
		snapshots:       snapshots,
		defaultProvider: defaultProviderName,
		conv:            newConvRegistry(),
	}
}

// convRegistry is the execution_id -> Conversation Manager map, guarded
// per-key so two concurrent continue calls on the same execution
// serialize while different executions proceed in parallel.
type convRegistry struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
	convs map[string]*conversation.Manager
}

func newConvRegistry() convRegistry {
	return convRegistry{
		locks: make(map[string]*sync.Mutex),
		convs: make(map[string]*conversation.Manager),
	}
}

func (r *convRegistry) lockFor(executionID string) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.locks[executionID]
	if !ok {
		l = &sync.Mutex{}
		r.locks[executionID] = l
	}
	return l
}

func (r *convRegistry) get(executionID string) (*conversation.Manager, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.convs[executionID]
	return c, ok
}

func (r *convRegistry) set(executionID string, c *conversation.Manager) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.convs[executionID] = c
}

func (r *convRegistry) evict(executionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.convs, executionID)
	delete(r.locks, executionID)
}

// providerFor resolves the llm.Provider and model name a pack's
// conversation should use, falling back to the system default provider.
func (r *Runner) providerFor(packID string) (llm.Provider, string, error) {
	name := r.defaultProvider
	if pb, err := r.playbooks.Get(packID); err == nil && pb.LLMProvider != "" {
		name = pb.LLMProvider
	}

	cfg, err := r.providers.Get(name)
	if err != nil {
		return nil, "", fmt.Errorf("runner: resolving llm provider %q: %w", name, err)
	}
	provider, err := r.resolveLLM(cfg)
	if err != nil {
		return nil, "", fmt.Errorf("runner: constructing llm provider %q: %w", name, err)
	}
	return provider, cfg.Model, nil
}

// fail marks t failed with a truncated error summary (spec.md §4.3's
// "On failure anywhere ... task is set to failed with a truncated error
// string") and returns cause so callers can `return r.fail(...)`.
func (r *Runner) fail(ctx context.Context, t *ent.Task, cause error) error {
	msg := truncate(cause.Error(), toolResultExcerptLen)
	now := time.Now()
	if _, err := r.client.Task.UpdateOne(t).
		SetStatus(task.StatusFailed).
		SetError(msg).
		SetCompletedAt(now).
		Save(ctx); err != nil {
		return fmt.Errorf("runner: marking task %s failed (original error: %v): %w", t.ID, cause, err)
	}
	return cause
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}

func stepPreview(s string) string {
	return truncate(strings.TrimSpace(s), stepSummaryLen)
}
