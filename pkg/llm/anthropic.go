package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// AnthropicProvider implements Provider against Claude's Messages API.
// Grounded on the retry/backoff shape of
// providers.AnthropicProvider.Complete in the nexus example, collapsed
// from a streaming channel to a single blocking call per pkg/llm's
// single-shot Provider contract.
type AnthropicProvider struct {
	client       anthropic.Client
	maxRetries   int
	retryDelay   time.Duration
	defaultModel string
}

// AnthropicConfig configures NewAnthropicProvider.
type AnthropicConfig struct {
	APIKey       string
	BaseURL      string
	MaxRetries   int
	RetryDelay   time.Duration
	DefaultModel string
}

// NewAnthropicProvider builds an AnthropicProvider, applying the same
// retry/model defaults as the teacher's provider construction.
func NewAnthropicProvider(cfg AnthropicConfig) (*AnthropicProvider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("llm: anthropic API key is required")
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = time.Second
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = "claude-sonnet-4-20250514"
	}

	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if strings.TrimSpace(cfg.BaseURL) != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	return &AnthropicProvider{
		client:       anthropic.NewClient(opts...),
		maxRetries:   cfg.MaxRetries,
		retryDelay:   cfg.RetryDelay,
		defaultModel: cfg.DefaultModel,
	}, nil
}

// Chat sends req to Claude, retrying transient failures with exponential
// backoff, and returns the concatenation of every text block in the
// reply. The Runner's tool-call parser (pkg/runner) works against that
// concatenated text, not against Anthropic's content-block structure.
func (p *AnthropicProvider) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	params, err := p.buildParams(req)
	if err != nil {
		return nil, fmt.Errorf("llm: anthropic: %w", err)
	}

	var msg *anthropic.Message
	var lastErr error
	for attempt := 0; attempt <= p.maxRetries; attempt++ {
		msg, lastErr = p.client.Messages.New(ctx, params)
		if lastErr == nil {
			break
		}
		if !isRetryableAnthropicError(lastErr) {
			return nil, fmt.Errorf("llm: anthropic: %w", lastErr)
		}
		if attempt == p.maxRetries {
			break
		}
		backoff := p.retryDelay * time.Duration(math.Pow(2, float64(attempt)))
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
		}
	}
	if lastErr != nil {
		return nil, fmt.Errorf("llm: anthropic: max retries exceeded: %w", lastErr)
	}

	var text strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}

	return &ChatResponse{
		Content:      text.String(),
		StopReason:   string(msg.StopReason),
		InputTokens:  int(msg.Usage.InputTokens),
		OutputTokens: int(msg.Usage.OutputTokens),
	}, nil
}

func (p *AnthropicProvider) buildParams(req ChatRequest) (anthropic.MessageNewParams, error) {
	model := req.Model
	if model == "" {
		model = p.defaultModel
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}

	var messages []anthropic.MessageParam
	var system []anthropic.TextBlockParam
	for _, m := range req.Messages {
		if m.Role == RoleSystem {
			system = append(system, anthropic.TextBlockParam{Type: "text", Text: m.Content})
			continue
		}
		if m.Role == RoleAssistant {
			messages = append(messages, anthropic.NewAssistantMessage(anthropic.NewTextBlock(m.Content)))
		} else {
			messages = append(messages, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
		}
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		Messages:  messages,
		MaxTokens: int64(maxTokens),
	}
	if len(system) > 0 {
		params.System = system
	}

	if len(req.Tools) > 0 {
		tools := make([]anthropic.ToolUnionParam, 0, len(req.Tools))
		for _, t := range req.Tools {
			schemaJSON, err := json.Marshal(t.Schema)
			if err != nil {
				return params, fmt.Errorf("marshaling tool schema for %s: %w", t.Name, err)
			}
			var schema anthropic.ToolInputSchemaParam
			if err := json.Unmarshal(schemaJSON, &schema); err != nil {
				return params, fmt.Errorf("invalid tool schema for %s: %w", t.Name, err)
			}
			toolParam := anthropic.ToolUnionParamOfTool(schema, t.Name)
			if toolParam.OfTool != nil {
				toolParam.OfTool.Description = anthropic.String(t.Description)
			}
			tools = append(tools, toolParam)
		}
		params.Tools = tools
	}

	return params, nil
}

// isRetryableAnthropicError classifies rate-limit/server/network errors
// as retryable, mirroring the nexus provider's classification rules.
func isRetryableAnthropicError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	for _, substr := range []string{
		"rate_limit", "429", "too many requests",
		"500", "502", "503", "504",
		"internal server error", "bad gateway", "service unavailable", "gateway timeout",
		"timeout", "deadline exceeded",
		"connection reset", "connection refused", "no such host",
	} {
		if strings.Contains(msg, substr) {
			return true
		}
	}
	return false
}
