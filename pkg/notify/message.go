package notify

import (
	"fmt"

	goslack "github.com/slack-go/slack"
)

const maxBlockTextLength = 2900

var statusEmoji = map[string]string{
	"running":           ":arrows_counterclockwise:",
	"succeeded":         ":white_check_mark:",
	"failed":            ":x:",
	"cancelled_by_user": ":no_entry_sign:",
	"expired":           ":hourglass:",
}

var statusLabel = map[string]string{
	"running":           "Execution Claimed",
	"succeeded":         "Execution Completed",
	"failed":            "Execution Failed",
	"cancelled_by_user": "Execution Cancelled",
	"expired":           "Execution Expired",
}

// buildClaimedMessage creates Block Kit blocks for a task-claimed
// notification.
func buildClaimedMessage(packID, executionID string) []goslack.Block {
	text := fmt.Sprintf(":arrows_counterclockwise: *Playbook `%s` started* (execution `%s`)", packID, executionID)
	return []goslack.Block{
		goslack.NewSectionBlock(
			goslack.NewTextBlockObject(goslack.MarkdownType, text, false, false),
			nil, nil,
		),
	}
}

// buildTerminalMessage creates Block Kit blocks for a terminal-status
// notification.
func buildTerminalMessage(packID, executionID, status, errMsg string) []goslack.Block {
	emoji := statusEmoji[status]
	if emoji == "" {
		emoji = ":question:"
	}
	label := statusLabel[status]
	if label == "" {
		label = "Execution " + status
	}

	headerText := fmt.Sprintf("%s *%s*: playbook `%s` (execution `%s`)", emoji, label, packID, executionID)
	if errMsg != "" {
		headerText += fmt.Sprintf("\n\n*Error:*\n%s", truncateForSlack(errMsg))
	}

	return []goslack.Block{
		goslack.NewSectionBlock(
			goslack.NewTextBlockObject(goslack.MarkdownType, headerText, false, false),
			nil, nil,
		),
	}
}

func truncateForSlack(text string) string {
	if len(text) <= maxBlockTextLength {
		return text
	}
	return text[:maxBlockTextLength] + "\n\n_... (truncated)_"
}
