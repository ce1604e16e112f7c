package notify

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/haasonsaas/playbookengine/pkg/config"
)

// Service posts claim/terminal notifications for a task. Nil-safe: all
// methods are no-ops when the Service itself is nil, matching the
// teacher's pkg/slack.Service convention so pkg/queue's Scheduler can
// hold one unconditionally and call through it without a nil check at
// every call site.
type Service struct {
	client *Client
	logger *slog.Logger
}

// NewService constructs a Service from cfg, resolving the bot token
// from the environment variable cfg.TokenEnv names. Returns nil if
// notifications are disabled or the token/channel are unset, so that
// pkg/queue always holds a safely-callable (possibly nil) *Service.
func NewService(cfg *config.NotifyConfig) *Service {
	if cfg == nil || !cfg.Enabled || cfg.Channel == "" {
		return nil
	}
	token := os.Getenv(cfg.TokenEnv)
	if token == "" {
		slog.Warn("notify: enabled but token env var is unset, disabling", "token_env", cfg.TokenEnv)
		return nil
	}
	return &Service{
		client: NewClient(token, cfg.Channel),
		logger: slog.Default().With("component", "notify-service"),
	}
}

// NotifyClaimed sends a "task claimed" notification (SPEC_FULL.md §6:
// "invoked by the Task Store worker loop on claim"). Fail-open: errors
// are logged, never returned.
func (s *Service) NotifyClaimed(ctx context.Context, packID, executionID string) {
	if s == nil {
		return
	}
	blocks := buildClaimedMessage(packID, executionID)
	if err := s.client.PostMessage(ctx, blocks, 5*time.Second); err != nil {
		s.logger.Error("failed to send claim notification", "execution_id", executionID, "error", err)
	}
}

// NotifyTerminal sends a terminal-status notification ("... and on
// terminal transition"). Fail-open: errors are logged, never returned.
func (s *Service) NotifyTerminal(ctx context.Context, packID, executionID, status, errMsg string) {
	if s == nil {
		return
	}
	blocks := buildTerminalMessage(packID, executionID, status, errMsg)
	if err := s.client.PostMessage(ctx, blocks, 10*time.Second); err != nil {
		s.logger.Error("failed to send terminal notification", "execution_id", executionID, "status", status, "error", err)
	}
}
