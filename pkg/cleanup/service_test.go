package cleanup

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/haasonsaas/playbookengine/ent"
	"github.com/haasonsaas/playbookengine/ent/event"
	"github.com/haasonsaas/playbookengine/ent/task"
	"github.com/haasonsaas/playbookengine/pkg/config"
	testdb "github.com/haasonsaas/playbookengine/test/database"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTaskAt(t *testing.T, c *ent.Client, status task.Status, createdAt time.Time) string {
	t.Helper()
	id := uuid.New().String()
	_, err := c.Task.Create().
		SetID(id).
		SetWorkspaceID("ws-1").
		SetPackID("kubernetes_triage").
		SetTaskType(task.TaskTypePlaybookExecution).
		SetStatus(status).
		SetCreatedAt(createdAt).
		Save(t.Context())
	require.NoError(t, err)
	return id
}

func newEventAt(t *testing.T, c *ent.Client, entityIDs []string, ts time.Time) string {
	t.Helper()
	id := uuid.New().String()
	_, err := c.Event.Create().
		SetID(id).
		SetWorkspaceID("ws-1").
		SetEntityIds(entityIDs).
		SetActor(event.ActorSystem).
		SetEventType(event.EventTypePlaybookStep).
		SetTimestamp(ts).
		Save(t.Context())
	require.NoError(t, err)
	return id
}

func TestDeleteOldTasks(t *testing.T) {
	dbClient := testdb.NewTestClient(t)
	svc := NewService(dbClient.Client, &config.RetentionConfig{
		TaskRetentionDays: 30,
		EventTTL:          time.Hour,
		CleanupInterval:   time.Hour,
	})

	old := newTaskAt(t, dbClient.Client, task.StatusSucceeded, time.Now().AddDate(0, 0, -60))
	recent := newTaskAt(t, dbClient.Client, task.StatusSucceeded, time.Now())
	stillRunning := newTaskAt(t, dbClient.Client, task.StatusRunning, time.Now().AddDate(0, 0, -60))

	svc.deleteOldTasks(t.Context())

	_, err := dbClient.Task.Get(t.Context(), old)
	assert.Error(t, err, "old terminal task should have been deleted")

	_, err = dbClient.Task.Get(t.Context(), recent)
	assert.NoError(t, err, "recent task should survive")

	_, err = dbClient.Task.Get(t.Context(), stillRunning)
	assert.NoError(t, err, "running task should survive regardless of age")
}

func TestCleanupOrphanedEvents(t *testing.T) {
	dbClient := testdb.NewTestClient(t)
	svc := NewService(dbClient.Client, &config.RetentionConfig{
		TaskRetentionDays: 365,
		EventTTL:          time.Minute,
		CleanupInterval:   time.Hour,
	})

	survivingTask := newTaskAt(t, dbClient.Client, task.StatusRunning, time.Now())
	oldTS := time.Now().Add(-2 * time.Hour)

	linked := newEventAt(t, dbClient.Client, []string{survivingTask}, oldTS)
	orphan := newEventAt(t, dbClient.Client, []string{uuid.New().String()}, oldTS)
	recentOrphan := newEventAt(t, dbClient.Client, []string{uuid.New().String()}, time.Now())

	svc.cleanupOrphanedEvents(t.Context())

	_, err := dbClient.Event.Get(t.Context(), linked)
	assert.NoError(t, err, "event referencing a surviving task must not be deleted")

	_, err = dbClient.Event.Get(t.Context(), orphan)
	assert.Error(t, err, "event referencing no surviving task past the TTL should be deleted")

	_, err = dbClient.Event.Get(t.Context(), recentOrphan)
	assert.NoError(t, err, "event younger than EventTTL must not be deleted even if orphaned")
}
