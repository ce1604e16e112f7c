package eventlog

import (
	"context"
	"testing"
	"time"

	"github.com/haasonsaas/playbookengine/ent/event"
	testdb "github.com/haasonsaas/playbookengine/test/database"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppend(t *testing.T) {
	client := testdb.NewTestClient(t)
	log := NewEventLog(client.Client)
	ctx := context.Background()

	t.Run("records a message event", func(t *testing.T) {
		evt, err := log.Append(ctx, AppendInput{
			WorkspaceID: "ws-1",
			Actor:       event.ActorUser,
			EventType:   event.EventTypeMessage,
			Payload:     map[string]interface{}{"role": "user", "content": "hello"},
		})
		require.NoError(t, err)
		assert.Equal(t, "ws-1", evt.WorkspaceID)
		assert.Equal(t, event.ActorUser, evt.Actor)
		assert.Equal(t, event.EventTypeMessage, evt.EventType)
		assert.NotEmpty(t, evt.ID)
		assert.False(t, evt.Timestamp.IsZero())
	})

	t.Run("rejects a missing workspace id", func(t *testing.T) {
		_, err := log.Append(ctx, AppendInput{
			Actor:     event.ActorUser,
			EventType: event.EventTypeMessage,
		})
		require.Error(t, err)
	})

	t.Run("carries entity ids for cross-reference", func(t *testing.T) {
		evt, err := log.Append(ctx, AppendInput{
			WorkspaceID: "ws-1",
			EntityIDs:   []string{"exec-1", "tool-call-1"},
			Actor:       event.ActorAgent,
			EventType:   event.EventTypeToolCall,
			Payload:     map[string]interface{}{"status": "pending"},
		})
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{"exec-1", "tool-call-1"}, evt.EntityIds)
	})
}

func TestAppendError(t *testing.T) {
	client := testdb.NewTestClient(t)
	log := NewEventLog(client.Client)
	ctx := context.Background()

	err := log.AppendError(ctx, "ws-1", "exec-1", "reaped: heartbeat_ttl fired")
	require.NoError(t, err)

	evts, err := log.ListSince(ctx, "ws-1", event.EventTypePlaybookStep, Watermark{}, 10)
	require.NoError(t, err)
	require.Len(t, evts, 1)
	assert.Equal(t, event.ActorSystem, evts[0].Actor)
	assert.Equal(t, "error", evts[0].Payload["status"])
	assert.Equal(t, []string{"exec-1"}, evts[0].EntityIds)
}

func TestListSince(t *testing.T) {
	client := testdb.NewTestClient(t)
	log := NewEventLog(client.Client)
	ctx := context.Background()

	workspaceID := "ws-listsince"

	var watermarks []Watermark
	for i := 0; i < 3; i++ {
		evt, err := log.Append(ctx, AppendInput{
			WorkspaceID: workspaceID,
			Actor:       event.ActorAgent,
			EventType:   event.EventTypePlaybookStep,
			Payload:     map[string]interface{}{"step_index": i},
		})
		require.NoError(t, err)
		watermarks = append(watermarks, Watermark{Timestamp: evt.Timestamp, ID: evt.ID})
		time.Sleep(2 * time.Millisecond)
	}

	t.Run("reads everything from the zero watermark", func(t *testing.T) {
		evts, err := log.ListSince(ctx, workspaceID, "", Watermark{}, 10)
		require.NoError(t, err)
		assert.Len(t, evts, 3)
	})

	t.Run("reads strictly after a given watermark", func(t *testing.T) {
		evts, err := log.ListSince(ctx, workspaceID, "", watermarks[0], 10)
		require.NoError(t, err)
		require.Len(t, evts, 2)
		assert.Equal(t, 1, int(evts[0].Payload["step_index"].(float64)))
		assert.Equal(t, 2, int(evts[1].Payload["step_index"].(float64)))
	})

	t.Run("orders ascending by timestamp then id", func(t *testing.T) {
		evts, err := log.ListSince(ctx, workspaceID, "", Watermark{}, 10)
		require.NoError(t, err)
		for i := 1; i < len(evts); i++ {
			prev, cur := evts[i-1], evts[i]
			ok := prev.Timestamp.Before(cur.Timestamp) ||
				(prev.Timestamp.Equal(cur.Timestamp) && prev.ID < cur.ID)
			assert.True(t, ok, "events must be ordered by (timestamp, id)")
		}
	})

	t.Run("respects limit", func(t *testing.T) {
		evts, err := log.ListSince(ctx, workspaceID, "", Watermark{}, 1)
		require.NoError(t, err)
		assert.Len(t, evts, 1)
	})

	t.Run("filters by event type", func(t *testing.T) {
		_, err := log.Append(ctx, AppendInput{
			WorkspaceID: workspaceID,
			Actor:       event.ActorUser,
			EventType:   event.EventTypeMessage,
			Payload:     map[string]interface{}{"role": "user", "content": "hi"},
		})
		require.NoError(t, err)

		evts, err := log.ListSince(ctx, workspaceID, event.EventTypeMessage, Watermark{}, 10)
		require.NoError(t, err)
		require.Len(t, evts, 1)
		assert.Equal(t, event.EventTypeMessage, evts[0].EventType)
	})

	t.Run("isolates by workspace", func(t *testing.T) {
		_, err := log.Append(ctx, AppendInput{
			WorkspaceID: "ws-other",
			Actor:       event.ActorAgent,
			EventType:   event.EventTypePlaybookStep,
			Payload:     map[string]interface{}{"step_index": 0},
		})
		require.NoError(t, err)

		evts, err := log.ListSince(ctx, "ws-other", "", Watermark{}, 10)
		require.NoError(t, err)
		assert.Len(t, evts, 1)
	})
}

func TestLatestWatermark(t *testing.T) {
	client := testdb.NewTestClient(t)
	log := NewEventLog(client.Client)
	ctx := context.Background()

	t.Run("zero watermark for an empty workspace", func(t *testing.T) {
		wm, err := log.LatestWatermark(ctx, "ws-empty")
		require.NoError(t, err)
		assert.True(t, wm.Timestamp.IsZero())
		assert.Empty(t, wm.ID)
	})

	t.Run("matches the most recently appended event", func(t *testing.T) {
		var last *Watermark
		for i := 0; i < 3; i++ {
			evt, err := log.Append(ctx, AppendInput{
				WorkspaceID: "ws-watermark",
				Actor:       event.ActorAgent,
				EventType:   event.EventTypePlaybookStep,
				Payload:     map[string]interface{}{"step_index": i},
			})
			require.NoError(t, err)
			last = &Watermark{Timestamp: evt.Timestamp, ID: evt.ID}
			time.Sleep(2 * time.Millisecond)
		}

		wm, err := log.LatestWatermark(ctx, "ws-watermark")
		require.NoError(t, err)
		assert.Equal(t, last.ID, wm.ID)
		assert.True(t, wm.Timestamp.Equal(last.Timestamp))

		// no events beyond the latest watermark
		evts, err := log.ListSince(ctx, "ws-watermark", "", wm, 10)
		require.NoError(t, err)
		assert.Empty(t, evts)
	})
}
