package store

import (
	"context"
	"fmt"
	"time"

	"entgo.io/ent/dialect/sql"
	"github.com/haasonsaas/playbookengine/ent/runnerheartbeat"
)

// UpsertRunnerHeartbeat records that runnerID is alive as of now. Separate
// from task heartbeats: a scheduler uses HasActiveRunner to decide
// whether to self-elect as worker, independent of any single task.
func (s *TaskStore) UpsertRunnerHeartbeat(ctx context.Context, runnerID string) error {
	err := s.client.RunnerHeartbeat.Create().
		SetRunnerID(runnerID).
		SetHeartbeatAt(time.Now()).
		OnConflict(sql.ConflictColumns(runnerheartbeat.FieldRunnerID)).
		UpdateHeartbeatAt().
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("upserting runner heartbeat: %w", err)
	}
	return nil
}

// HasActiveRunner reports whether any runner has heartbeated within maxAge.
func (s *TaskStore) HasActiveRunner(ctx context.Context, maxAge time.Duration) (bool, error) {
	threshold := time.Now().Add(-maxAge)
	count, err := s.client.RunnerHeartbeat.Query().
		Where(runnerheartbeat.HeartbeatAtGT(threshold)).
		Count(ctx)
	if err != nil {
		return false, fmt.Errorf("querying active runners: %w", err)
	}
	return count > 0, nil
}
