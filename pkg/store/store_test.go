package store

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/haasonsaas/playbookengine/ent/task"
	testdb "github.com/haasonsaas/playbookengine/test/database"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newPendingTask(t *testing.T, ts *TaskStore, taskType task.TaskType) string {
	t.Helper()
	id := uuid.New().String()
	_, err := ts.client.Task.Create().
		SetID(id).
		SetWorkspaceID("ws-1").
		SetPackID("kubernetes_triage").
		SetTaskType(taskType).
		SetStatus(task.StatusPending).
		Save(t.Context())
	require.NoError(t, err)
	return id
}

func TestTryClaim(t *testing.T) {
	dbClient := testdb.NewTestClient(t)
	ts := NewTaskStore(dbClient.Client, nil)
	ctx := context.Background()

	taskID := newPendingTask(t, ts, task.TaskTypePlaybookExecution)

	claimed, err := ts.TryClaim(ctx, taskID, "runner-1")
	require.NoError(t, err)
	assert.True(t, claimed)

	// A second claim attempt loses the race — status is no longer pending.
	claimed, err = ts.TryClaim(ctx, taskID, "runner-2")
	require.NoError(t, err)
	assert.False(t, claimed)

	got, err := dbClient.Task.Get(ctx, taskID)
	require.NoError(t, err)
	assert.Equal(t, task.StatusRunning, got.Status)
	assert.Equal(t, "runner-1", got.ExecutionContext["runner_id"])
}

func TestTryClaim_MissingTask(t *testing.T) {
	dbClient := testdb.NewTestClient(t)
	ts := NewTaskStore(dbClient.Client, nil)

	claimed, err := ts.TryClaim(context.Background(), uuid.New().String(), "runner-1")
	require.NoError(t, err)
	assert.False(t, claimed)
}

func TestUpdateHeartbeat_LiveRun(t *testing.T) {
	dbClient := testdb.NewTestClient(t)
	ts := NewTaskStore(dbClient.Client, nil)
	ctx := context.Background()

	taskID := newPendingTask(t, ts, task.TaskTypePlaybookExecution)
	claimed, err := ts.TryClaim(ctx, taskID, "runner-1")
	require.NoError(t, err)
	require.True(t, claimed)

	abort, err := ts.UpdateHeartbeat(ctx, taskID, "runner-1")
	require.NoError(t, err)
	assert.False(t, abort)
}

func TestUpdateHeartbeat_AbortsOnCancellation(t *testing.T) {
	dbClient := testdb.NewTestClient(t)
	ts := NewTaskStore(dbClient.Client, nil)
	ctx := context.Background()

	taskID := newPendingTask(t, ts, task.TaskTypePlaybookExecution)
	_, err := ts.TryClaim(ctx, taskID, "runner-1")
	require.NoError(t, err)

	require.NoError(t, ts.CancelTask(ctx, taskID))

	abort, err := ts.UpdateHeartbeat(ctx, taskID, "runner-1")
	require.NoError(t, err)
	assert.True(t, abort)
}

func TestUpdateHeartbeat_RevivesAfterServerRestart(t *testing.T) {
	dbClient := testdb.NewTestClient(t)
	ts := NewTaskStore(dbClient.Client, nil)
	ctx := context.Background()

	taskID := newPendingTask(t, ts, task.TaskTypePlaybookExecution)
	_, err := ts.TryClaim(ctx, taskID, "runner-1")
	require.NoError(t, err)

	// Simulate a graceful shutdown marking the task failed.
	require.NoError(t, dbClient.Task.UpdateOneID(taskID).
		SetStatus(task.StatusFailed).
		SetError(ServerRestartMarker).
		Exec(ctx))

	abort, err := ts.UpdateHeartbeat(ctx, taskID, "runner-1")
	require.NoError(t, err)
	assert.False(t, abort)

	got, err := dbClient.Task.Get(ctx, taskID)
	require.NoError(t, err)
	assert.Equal(t, task.StatusRunning, got.Status)
	assert.Nil(t, got.Error)
}

func TestUpdateHeartbeat_DoesNotReviveForAnotherRunner(t *testing.T) {
	dbClient := testdb.NewTestClient(t)
	ts := NewTaskStore(dbClient.Client, nil)
	ctx := context.Background()

	taskID := newPendingTask(t, ts, task.TaskTypePlaybookExecution)
	_, err := ts.TryClaim(ctx, taskID, "runner-1")
	require.NoError(t, err)

	require.NoError(t, dbClient.Task.UpdateOneID(taskID).
		SetStatus(task.StatusFailed).
		SetError(ServerRestartMarker).
		Exec(ctx))

	abort, err := ts.UpdateHeartbeat(ctx, taskID, "runner-2")
	require.NoError(t, err)
	assert.True(t, abort)
}

func TestCancelTask(t *testing.T) {
	dbClient := testdb.NewTestClient(t)
	ts := NewTaskStore(dbClient.Client, nil)
	ctx := context.Background()

	taskID := newPendingTask(t, ts, task.TaskTypePlaybookExecution)

	require.NoError(t, ts.CancelTask(ctx, taskID))

	got, err := dbClient.Task.Get(ctx, taskID)
	require.NoError(t, err)
	assert.Equal(t, task.StatusCancelledByUser, got.Status)

	err = ts.CancelTask(ctx, taskID)
	assert.ErrorIs(t, err, ErrTaskNotCancellable)
}

func TestCancelTask_NotFound(t *testing.T) {
	dbClient := testdb.NewTestClient(t)
	ts := NewTaskStore(dbClient.Client, nil)

	err := ts.CancelTask(context.Background(), uuid.New().String())
	assert.ErrorIs(t, err, ErrTaskNotFound)
}

func TestListRunnableTasks_OrderedByCreatedAt(t *testing.T) {
	dbClient := testdb.NewTestClient(t)
	ts := NewTaskStore(dbClient.Client, nil)
	ctx := context.Background()

	first := newPendingTask(t, ts, task.TaskTypePlaybookExecution)
	time.Sleep(10 * time.Millisecond)
	second := newPendingTask(t, ts, task.TaskTypePlaybookExecution)

	tasks, err := ts.ListRunnablePlaybookExecutionTasks(ctx, 10)
	require.NoError(t, err)
	require.Len(t, tasks, 2)
	assert.Equal(t, first, tasks[0].ID)
	assert.Equal(t, second, tasks[1].ID)
}

func TestListRunnableAgentDispatchTasks_FiltersByType(t *testing.T) {
	dbClient := testdb.NewTestClient(t)
	ts := NewTaskStore(dbClient.Client, nil)
	ctx := context.Background()

	dispatchID := newPendingTask(t, ts, task.TaskTypeAgentDispatch)
	newPendingTask(t, ts, task.TaskTypePlaybookExecution)

	tasks, err := ts.ListRunnableAgentDispatchTasks(ctx, 10)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, dispatchID, tasks[0].ID)
}

func TestReapZombies_StaleHeartbeat(t *testing.T) {
	dbClient := testdb.NewTestClient(t)
	ts := NewTaskStore(dbClient.Client, nil)
	ctx := context.Background()

	taskID := newPendingTask(t, ts, task.TaskTypePlaybookExecution)
	_, err := ts.TryClaim(ctx, taskID, "runner-1")
	require.NoError(t, err)

	staleHeartbeat := time.Now().Add(-20 * time.Minute).Format(time.RFC3339Nano)
	require.NoError(t, dbClient.Task.UpdateOneID(taskID).
		SetExecutionContext(map[string]interface{}{
			"runner_id":    "runner-1",
			"heartbeat_at": staleHeartbeat,
		}).
		Exec(ctx))

	reaped, err := ts.ReapZombies(ctx, 10*time.Minute, 30*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 1, reaped)

	got, err := dbClient.Task.Get(ctx, taskID)
	require.NoError(t, err)
	assert.Equal(t, task.StatusFailed, got.Status)
	require.NotNil(t, got.Error)
	assert.Contains(t, *got.Error, "heartbeat_ttl")
}

func TestReapZombies_NoHeartbeatEver(t *testing.T) {
	dbClient := testdb.NewTestClient(t)
	ts := NewTaskStore(dbClient.Client, nil)
	ctx := context.Background()

	taskID := uuid.New().String()
	startedAt := time.Now().Add(-45 * time.Minute)
	_, err := dbClient.Task.Create().
		SetID(taskID).
		SetWorkspaceID("ws-1").
		SetPackID("kubernetes_triage").
		SetTaskType(task.TaskTypePlaybookExecution).
		SetStatus(task.StatusRunning).
		SetStartedAt(startedAt).
		Save(ctx)
	require.NoError(t, err)

	reaped, err := ts.ReapZombies(ctx, 10*time.Minute, 30*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 1, reaped)

	got, err := dbClient.Task.Get(ctx, taskID)
	require.NoError(t, err)
	assert.Equal(t, task.StatusFailed, got.Status)
	require.NotNil(t, got.Error)
	assert.Contains(t, *got.Error, "no_heartbeat_ttl")
}

func TestReapZombies_LeavesHealthyTasksAlone(t *testing.T) {
	dbClient := testdb.NewTestClient(t)
	ts := NewTaskStore(dbClient.Client, nil)
	ctx := context.Background()

	taskID := newPendingTask(t, ts, task.TaskTypePlaybookExecution)
	_, err := ts.TryClaim(ctx, taskID, "runner-1")
	require.NoError(t, err)

	reaped, err := ts.ReapZombies(ctx, 10*time.Minute, 30*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 0, reaped)

	got, err := dbClient.Task.Get(ctx, taskID)
	require.NoError(t, err)
	assert.Equal(t, task.StatusRunning, got.Status)
}

func TestRunnerHeartbeat_UpsertAndHasActiveRunner(t *testing.T) {
	dbClient := testdb.NewTestClient(t)
	ts := NewTaskStore(dbClient.Client, nil)
	ctx := context.Background()

	active, err := ts.HasActiveRunner(ctx, 30*time.Second)
	require.NoError(t, err)
	assert.False(t, active)

	require.NoError(t, ts.UpsertRunnerHeartbeat(ctx, "runner-1"))

	active, err = ts.HasActiveRunner(ctx, 30*time.Second)
	require.NoError(t, err)
	assert.True(t, active)

	// Upsert again should update, not duplicate.
	require.NoError(t, ts.UpsertRunnerHeartbeat(ctx, "runner-1"))
	count, err := dbClient.RunnerHeartbeat.Query().Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}
