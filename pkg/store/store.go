// Package store owns the durable Task record and the claim, heartbeat,
// and reap primitives that make multi-worker execution safe.
package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"entgo.io/ent/dialect/sql"
	"github.com/haasonsaas/playbookengine/ent"
	"github.com/haasonsaas/playbookengine/ent/playbookexecution"
	"github.com/haasonsaas/playbookengine/ent/task"
)

// ServerRestartMarker is the sentinel error message a graceful shutdown
// writes onto tasks it owned. UpdateHeartbeat treats a failed task with
// this exact message, owned by the calling runner, as revivable.
const ServerRestartMarker = "Execution interrupted by server restart"

var (
	// ErrTaskNotFound is returned when a referenced task does not exist.
	ErrTaskNotFound = errors.New("task not found")

	// ErrTaskNotCancellable is returned when cancellation is requested on
	// a task that has already reached a terminal state.
	ErrTaskNotCancellable = errors.New("task is not in a cancellable state")
)

// EventAppender is the narrow collaborator used to record a timeline item
// when the store reaps a zombie task. Satisfied by pkg/eventlog; nil
// disables event emission (matches the teacher's nil-disables convention
// for optional collaborators).
type EventAppender interface {
	AppendError(ctx context.Context, workspaceID, executionID, message string) error
}

// TaskStore wraps *ent.Client and provides the claim/heartbeat/reap
// primitives every runner uses to safely coordinate work over Task rows.
type TaskStore struct {
	client *ent.Client
	events EventAppender
}

// NewTaskStore creates a TaskStore. events may be nil.
func NewTaskStore(client *ent.Client, events EventAppender) *TaskStore {
	return &TaskStore{client: client, events: events}
}

// TryClaim atomically claims a pending task for runnerID using
// SELECT ... FOR UPDATE SKIP LOCKED, generalized from the teacher's
// session-claiming transaction. Returns true iff this call claimed the
// task; false (with no error) if the task is missing or no longer
// pending — that is the expected outcome of a lost race, not a failure.
func (s *TaskStore) TryClaim(ctx context.Context, taskID, runnerID string) (bool, error) {
	tx, err := s.client.Tx(ctx)
	if err != nil {
		return false, fmt.Errorf("starting claim transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	t, err := tx.Task.Query().
		Where(task.IDEQ(taskID), task.StatusEQ(task.StatusPending)).
		ForUpdate(sql.WithLockAction(sql.SkipLocked)).
		Only(ctx)
	if err != nil {
		if ent.IsNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("querying claimable task: %w", err)
	}

	now := time.Now()
	execCtx := cloneExecutionContext(t.ExecutionContext)
	execCtx["runner_id"] = runnerID
	execCtx["heartbeat_at"] = now.Format(time.RFC3339Nano)

	if err := tx.Task.UpdateOneID(taskID).
		SetStatus(task.StatusRunning).
		SetStartedAt(now).
		SetExecutionContext(execCtx).
		Exec(ctx); err != nil {
		return false, fmt.Errorf("claiming task: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("committing claim: %w", err)
	}

	return true, nil
}

// UpdateHeartbeat writes the current time to execution_context.heartbeat_at
// and performs an abort check. It returns true when the calling runner
// must stop: the task has been cancelled, expired, or failed by an
// external party (a failed status whose error isn't the server-restart
// marker). A task this runner owns that was marked failed with the
// server-restart marker is instead resurrected to running — the
// graceful-shutdown re-attach path.
func (s *TaskStore) UpdateHeartbeat(ctx context.Context, taskID, runnerID string) (bool, error) {
	tx, err := s.client.Tx(ctx)
	if err != nil {
		return true, fmt.Errorf("starting heartbeat transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	t, err := tx.Task.Get(ctx, taskID)
	if err != nil {
		if ent.IsNotFound(err) {
			return true, nil
		}
		return true, fmt.Errorf("reading task for heartbeat: %w", err)
	}

	execCtx := cloneExecutionContext(t.ExecutionContext)
	now := time.Now()

	if t.Status == task.StatusFailed && t.Error != nil && *t.Error == ServerRestartMarker {
		if owner, _ := execCtx["runner_id"].(string); owner == runnerID {
			execCtx["heartbeat_at"] = now.Format(time.RFC3339Nano)
			if err := tx.Task.UpdateOneID(taskID).
				SetStatus(task.StatusRunning).
				ClearError().
				SetExecutionContext(execCtx).
				Exec(ctx); err != nil {
				return true, fmt.Errorf("reviving task: %w", err)
			}
			if err := tx.Commit(); err != nil {
				return true, fmt.Errorf("committing revival: %w", err)
			}
			slog.Info("task revived after server restart", "task_id", taskID, "runner_id", runnerID)
			return false, nil
		}
	}

	switch t.Status {
	case task.StatusCancelledByUser, task.StatusExpired, task.StatusFailed:
		return true, nil
	case task.StatusSucceeded:
		return true, nil
	}

	execCtx["runner_id"] = runnerID
	execCtx["heartbeat_at"] = now.Format(time.RFC3339Nano)
	if err := tx.Task.UpdateOneID(taskID).
		SetExecutionContext(execCtx).
		Exec(ctx); err != nil {
		return true, fmt.Errorf("writing heartbeat: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return true, fmt.Errorf("committing heartbeat: %w", err)
	}

	return false, nil
}

// CancelTask transitions a pending or running task to cancelled_by_user.
// The owning runner learns of the cancellation via its next heartbeat.
func (s *TaskStore) CancelTask(ctx context.Context, taskID string) error {
	t, err := s.client.Task.Get(ctx, taskID)
	if err != nil {
		if ent.IsNotFound(err) {
			return ErrTaskNotFound
		}
		return fmt.Errorf("reading task for cancellation: %w", err)
	}

	if t.Status != task.StatusPending && t.Status != task.StatusRunning {
		return ErrTaskNotCancellable
	}

	now := time.Now()
	if err := s.client.Task.UpdateOneID(taskID).
		SetStatus(task.StatusCancelledByUser).
		SetCompletedAt(now).
		Exec(ctx); err != nil {
		return fmt.Errorf("cancelling task: %w", err)
	}

	if t.ExecutionID != nil {
		s.MirrorPlaybookExecutionStatus(ctx, *t.ExecutionID, task.StatusCancelledByUser)
	}

	return nil
}

// ListRunnablePlaybookExecutionTasks returns the oldest pending
// playbook_execution tasks, up to limit, ordered by created_at ascending.
func (s *TaskStore) ListRunnablePlaybookExecutionTasks(ctx context.Context, limit int) ([]*ent.Task, error) {
	return s.client.Task.Query().
		Where(task.StatusEQ(task.StatusPending), task.TaskTypeEQ(task.TaskTypePlaybookExecution)).
		Order(ent.Asc(task.FieldCreatedAt)).
		Limit(limit).
		All(ctx)
}

// ListRunnableAgentDispatchTasks returns the oldest pending agent_dispatch
// tasks, up to limit, ordered by created_at ascending.
func (s *TaskStore) ListRunnableAgentDispatchTasks(ctx context.Context, limit int) ([]*ent.Task, error) {
	return s.client.Task.Query().
		Where(task.StatusEQ(task.StatusPending), task.TaskTypeEQ(task.TaskTypeAgentDispatch)).
		Order(ent.Asc(task.FieldCreatedAt)).
		Limit(limit).
		All(ctx)
}

// CountRunningTasks returns the process-wide count of tasks currently
// running, letting a Scheduler enforce config.QueueConfig's
// MaxConcurrentTasks via a plain COUNT(*) admission check before
// claiming more work.
func (s *TaskStore) CountRunningTasks(ctx context.Context) (int, error) {
	n, err := s.client.Task.Query().Where(task.StatusEQ(task.StatusRunning)).Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("counting running tasks: %w", err)
	}
	return n, nil
}

// ListRunningTasksOwnedBy returns running tasks whose execution_context
// runner_id matches runnerID. A Scheduler uses this for its periodic
// heartbeat sweep: the claiming goroutine only heartbeats once (via
// TryClaim); a task that runs long past that via Execution Chat's
// continue mode is kept alive by this sweep instead, since Continue
// runs on whichever goroutine served the chat/confirm/reject request,
// not the one that claimed the task.
func (s *TaskStore) ListRunningTasksOwnedBy(ctx context.Context, runnerID string) ([]*ent.Task, error) {
	running, err := s.client.Task.Query().Where(task.StatusEQ(task.StatusRunning)).All(ctx)
	if err != nil {
		return nil, fmt.Errorf("querying running tasks: %w", err)
	}
	owned := make([]*ent.Task, 0, len(running))
	for _, t := range running {
		if owner, _ := t.ExecutionContext["runner_id"].(string); owner == runnerID {
			owned = append(owned, t)
		}
	}
	return owned, nil
}

// ListUnnotifiedTerminalTasks returns playbook_execution tasks in a
// terminal status whose execution_context has not yet been flagged
// terminal_notified, up to limit, newest-completed first. A Scheduler
// uses this to drive pkg/notify.Service.NotifyTerminal exactly once per
// execution (SPEC_FULL.md §6: the notify hook fires "on claim and on
// terminal transition") without coupling pkg/runner's fail/complete
// paths to an outbound notification dependency.
func (s *TaskStore) ListUnnotifiedTerminalTasks(ctx context.Context, limit int) ([]*ent.Task, error) {
	rows, err := s.client.Task.Query().
		Where(
			task.TaskTypeEQ(task.TaskTypePlaybookExecution),
			task.StatusIn(task.StatusSucceeded, task.StatusFailed, task.StatusCancelledByUser, task.StatusExpired),
		).
		Order(ent.Desc(task.FieldCompletedAt)).
		Limit(limit * 4).
		All(ctx)
	if err != nil {
		return nil, fmt.Errorf("querying terminal tasks: %w", err)
	}

	out := make([]*ent.Task, 0, limit)
	for _, t := range rows {
		if notified, _ := t.ExecutionContext["terminal_notified"].(bool); notified {
			continue
		}
		out = append(out, t)
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

// MarkTerminalNotified flags taskID so ListUnnotifiedTerminalTasks never
// returns it again.
func (s *TaskStore) MarkTerminalNotified(ctx context.Context, taskID string) error {
	t, err := s.client.Task.Get(ctx, taskID)
	if err != nil {
		return fmt.Errorf("loading task for notify flag: %w", err)
	}
	ec := cloneExecutionContext(t.ExecutionContext)
	ec["terminal_notified"] = true
	if err := s.client.Task.UpdateOneID(taskID).SetExecutionContext(ec).Exec(ctx); err != nil {
		return fmt.Errorf("marking terminal notified: %w", err)
	}
	return nil
}

// MarkInterruptedByRestart transitions a running task to failed with
// ServerRestartMarker. A restarted process reusing the same runner id
// can revive it through UpdateHeartbeat's re-attach path; otherwise it
// is eventually reaped via ReapZombies' no_heartbeat_ttl rule.
func (s *TaskStore) MarkInterruptedByRestart(ctx context.Context, taskID string) error {
	now := time.Now()
	if err := s.client.Task.UpdateOneID(taskID).
		SetStatus(task.StatusFailed).
		SetError(ServerRestartMarker).
		SetCompletedAt(now).
		Exec(ctx); err != nil {
		return fmt.Errorf("marking task interrupted by restart: %w", err)
	}
	return nil
}

// MirrorPlaybookExecutionStatus best-effort projects a task's terminal
// status onto its playbook_executions mirror row. Failures are logged,
// not returned, per spec: the mirror write must never block the primary
// status transition.
func (s *TaskStore) MirrorPlaybookExecutionStatus(ctx context.Context, executionID string, status task.Status) {
	if executionID == "" {
		return
	}

	err := s.client.PlaybookExecution.UpdateOneID(executionID).
		SetStatus(playbookexecution.Status(status)).
		Exec(ctx)
	if err != nil && !ent.IsNotFound(err) {
		slog.Warn("failed to mirror playbook execution status",
			"execution_id", executionID, "status", status, "error", err)
	}
}

// cloneExecutionContext returns a shallow copy of an execution_context
// JSON map, initializing it if nil. Ent JSON columns are replaced
// wholesale on write, so every partial update reads, copies, and rewrites
// the whole map.
func cloneExecutionContext(m map[string]interface{}) map[string]interface{} {
	if m == nil {
		return make(map[string]interface{})
	}
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
