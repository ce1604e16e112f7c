package store

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/haasonsaas/playbookengine/ent/task"
)

// ReapZombies scans running tasks and fails the ones whose owning runner
// has gone silent, applying both rules of the combined reaper in a
// single pass: a stale heartbeat older than heartbeatTTL, or no
// heartbeat at all on a task started more than noHeartbeatTTL ago.
// Returns the number of tasks reaped. All pods run this independently;
// each reaping is idempotent since a reaped task is no longer running.
func (s *TaskStore) ReapZombies(ctx context.Context, heartbeatTTL, noHeartbeatTTL time.Duration) (int, error) {
	running, err := s.client.Task.Query().
		Where(task.StatusEQ(task.StatusRunning)).
		All(ctx)
	if err != nil {
		return 0, fmt.Errorf("querying running tasks: %w", err)
	}

	now := time.Now()
	reaped := 0

	for _, t := range running {
		rule, elapsed, zombie := classifyZombie(t.ExecutionContext, t.StartedAt, now, heartbeatTTL, noHeartbeatTTL)
		if !zombie {
			continue
		}

		errMsg := fmt.Sprintf("reaped: %s fired, no signal for %s", rule, elapsed.Round(time.Second))
		if err := s.client.Task.UpdateOneID(t.ID).
			SetStatus(task.StatusFailed).
			SetCompletedAt(now).
			SetError(errMsg).
			Exec(ctx); err != nil {
			slog.Error("failed to reap zombie task", "task_id", t.ID, "error", err)
			continue
		}

		executionID := t.ID
		if t.ExecutionID != nil {
			executionID = *t.ExecutionID
			s.MirrorPlaybookExecutionStatus(ctx, executionID, task.StatusFailed)
		}

		if s.events != nil {
			if err := s.events.AppendError(ctx, t.WorkspaceID, executionID, errMsg); err != nil {
				slog.Warn("failed to append zombie reap event", "task_id", t.ID, "error", err)
			}
		}

		slog.Warn("reaped zombie task", "task_id", t.ID, "rule", rule, "elapsed", elapsed)
		reaped++
	}

	return reaped, nil
}

// classifyZombie decides whether a running task should be reaped and why.
func classifyZombie(execCtx map[string]interface{}, startedAt *time.Time, now time.Time, heartbeatTTL, noHeartbeatTTL time.Duration) (rule string, elapsed time.Duration, zombie bool) {
	if at, ok := heartbeatAt(execCtx); ok {
		age := now.Sub(at)
		if age > heartbeatTTL {
			return "heartbeat_ttl", age, true
		}
		return "", 0, false
	}

	if startedAt == nil {
		return "", 0, false
	}
	age := now.Sub(*startedAt)
	if age > noHeartbeatTTL {
		return "no_heartbeat_ttl", age, true
	}
	return "", 0, false
}

// heartbeatAt extracts and parses execution_context.heartbeat_at.
func heartbeatAt(execCtx map[string]interface{}) (time.Time, bool) {
	raw, ok := execCtx["heartbeat_at"].(string)
	if !ok || raw == "" {
		return time.Time{}, false
	}
	at, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, false
	}
	return at, true
}
