package eventlog

import (
	"context"
	"testing"

	"github.com/haasonsaas/playbookengine/ent/event"
	testdb "github.com/haasonsaas/playbookengine/test/database"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppendPlaybookStep(t *testing.T) {
	client := testdb.NewTestClient(t)
	log := NewEventLog(client.Client)
	ctx := context.Background()

	t.Run("running step is attributed to the agent", func(t *testing.T) {
		err := log.AppendPlaybookStep(ctx, "ws-1", PlaybookStepPayload{
			ExecutionID: "exec-1",
			StepIndex:   0,
			StepName:    "gather_logs",
			Status:      "running",
			UsedTools:   []string{"kubectl_logs"},
			TotalSteps:  3,
		})
		require.NoError(t, err)

		evts, err := log.ListSince(ctx, "ws-1", event.EventTypePlaybookStep, Watermark{}, 10)
		require.NoError(t, err)
		require.Len(t, evts, 1)
		assert.Equal(t, event.ActorAgent, evts[0].Actor)
		assert.Equal(t, []string{"exec-1"}, evts[0].EntityIds)
		assert.Equal(t, "gather_logs", evts[0].Payload["step_name"])
	})

	t.Run("error step is attributed to the system", func(t *testing.T) {
		err := log.AppendPlaybookStep(ctx, "ws-2", PlaybookStepPayload{
			ExecutionID: "exec-2",
			StepIndex:   1,
			StepName:    "apply_fix",
			Status:      "error",
			LogSummary:  "timed out waiting for rollout",
		})
		require.NoError(t, err)

		evts, err := log.ListSince(ctx, "ws-2", event.EventTypePlaybookStep, Watermark{}, 10)
		require.NoError(t, err)
		require.Len(t, evts, 1)
		assert.Equal(t, event.ActorSystem, evts[0].Actor)
		assert.Equal(t, "error", evts[0].Payload["status"])
	})
}

func TestAppendMessage(t *testing.T) {
	client := testdb.NewTestClient(t)
	log := NewEventLog(client.Client)
	ctx := context.Background()

	t.Run("user role maps to user actor", func(t *testing.T) {
		err := log.AppendMessage(ctx, "ws-1", "thread-1", MessagePayload{
			Role:    "user",
			Content: "what happened to pod foo?",
		})
		require.NoError(t, err)
	})

	t.Run("assistant role maps to assistant actor", func(t *testing.T) {
		err := log.AppendMessage(ctx, "ws-1", "thread-1", MessagePayload{
			Role:    "assistant",
			Content: "pod foo was OOMKilled",
		})
		require.NoError(t, err)

		evts, err := log.ListSince(ctx, "ws-1", event.EventTypeMessage, Watermark{}, 10)
		require.NoError(t, err)
		require.Len(t, evts, 2)
		assert.Equal(t, event.ActorUser, evts[0].Actor)
		assert.Equal(t, event.ActorAssistant, evts[1].Actor)
	})
}

func TestAppendExecutionChat(t *testing.T) {
	client := testdb.NewTestClient(t)
	log := NewEventLog(client.Client)
	ctx := context.Background()

	err := log.AppendExecutionChat(ctx, "ws-1", ExecutionChatPayload{
		ExecutionID: "exec-1",
		Role:        "assistant",
		Content:     "this step restarted the deployment",
	})
	require.NoError(t, err)

	evts, err := log.ListSince(ctx, "ws-1", event.EventTypeExecutionChat, Watermark{}, 10)
	require.NoError(t, err)
	require.Len(t, evts, 1)
	assert.Equal(t, []string{"exec-1"}, evts[0].EntityIds)
	assert.Equal(t, event.ActorAssistant, evts[0].Actor)
}

func TestAppendToolCall(t *testing.T) {
	client := testdb.NewTestClient(t)
	log := NewEventLog(client.Client)
	ctx := context.Background()

	err := log.AppendToolCall(ctx, "ws-1", ToolCallPayload{
		ToolCallID:  "tc-1",
		ExecutionID: "exec-1",
		ToolName:    "kubectl_logs",
		Status:      "completed",
	})
	require.NoError(t, err)

	evts, err := log.ListSince(ctx, "ws-1", event.EventTypeToolCall, Watermark{}, 10)
	require.NoError(t, err)
	require.Len(t, evts, 1)
	assert.ElementsMatch(t, []string{"exec-1", "tc-1"}, evts[0].EntityIds)
	assert.Equal(t, event.ActorAgent, evts[0].Actor)
}

func TestAppendAgentExecution(t *testing.T) {
	client := testdb.NewTestClient(t)
	log := NewEventLog(client.Client)
	ctx := context.Background()

	err := log.AppendAgentExecution(ctx, "ws-1", AgentExecutionPayload{
		ExecutionID: "exec-1",
		AgentName:   "kubernetes_triage",
		Status:      "completed",
	})
	require.NoError(t, err)

	evts, err := log.ListSince(ctx, "ws-1", event.EventTypeAgentExecution, Watermark{}, 10)
	require.NoError(t, err)
	require.Len(t, evts, 1)
	assert.Equal(t, "kubernetes_triage", evts[0].Payload["agent_name"])
}
