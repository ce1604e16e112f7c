// Package notify implements the optional outbound Slack notification
// hook supplemented by SPEC_FULL.md §6 ("Slack notifications on session
// start/terminal"): a Service invoked by pkg/queue's Scheduler on task
// claim and on terminal transition. Adapted from the teacher's
// pkg/slack, narrowed from alert-session threading (fingerprint-based
// thread lookup, Slack-sourced alert context) to a plain one-message-
// per-event posting style, since playbook executions in this domain
// never originate from a Slack message there could be a thread to
// continue.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	goslack "github.com/slack-go/slack"
)

// Client is a thin wrapper around the slack-go SDK.
type Client struct {
	api       *goslack.Client
	channelID string
	logger    *slog.Logger
}

// NewClient creates a new Slack API client.
func NewClient(token, channelID string) *Client {
	return &Client{
		api:       goslack.New(token),
		channelID: channelID,
		logger:    slog.Default().With("component", "notify-client"),
	}
}

// PostMessage sends a message to the configured channel.
func (c *Client) PostMessage(ctx context.Context, blocks []goslack.Block, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	_, _, err := c.api.PostMessageContext(ctx, c.channelID, goslack.MsgOptionBlocks(blocks...))
	if err != nil {
		return fmt.Errorf("chat.postMessage failed: %w", err)
	}
	return nil
}
