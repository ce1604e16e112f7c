// Package cleanup provides data retention and cleanup services,
// adapted from the teacher's pkg/cleanup: the session/event retention
// loop shape and nil-safe Start/Stop lifecycle are kept, generalized
// from AlertSession to Task and from the teacher's SessionService/
// EventService collaborators to direct *ent.Client queries, since this
// module has no equivalent service layer between the Task Store and
// the database.
package cleanup

import (
	"context"
	"log/slog"
	"time"

	"github.com/haasonsaas/playbookengine/ent"
	"github.com/haasonsaas/playbookengine/ent/event"
	"github.com/haasonsaas/playbookengine/ent/task"
	"github.com/haasonsaas/playbookengine/pkg/config"
)

// Service periodically enforces retention policies:
//   - Deletes terminal tasks older than TaskRetentionDays.
//   - Deletes mind_events rows older than EventTTL whose entity_ids
//     reference no surviving task (the orphans a per-task cascade would
//     otherwise leave behind once its task row is gone).
//
// All operations are idempotent and safe to run from multiple pods.
type Service struct {
	client *ent.Client
	config *config.RetentionConfig

	cancel context.CancelFunc
	done   chan struct{}
}

// NewService creates a new cleanup service.
func NewService(client *ent.Client, cfg *config.RetentionConfig) *Service {
	if cfg == nil {
		cfg = config.DefaultRetentionConfig()
	}
	return &Service{client: client, config: cfg}
}

// Start launches the background cleanup loop.
func (s *Service) Start(ctx context.Context) {
	if s.cancel != nil {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	go s.run(ctx)

	slog.Info("cleanup service started",
		"task_retention_days", s.config.TaskRetentionDays,
		"event_ttl", s.config.EventTTL,
		"interval", s.config.CleanupInterval)
}

// Stop signals the cleanup loop to exit and waits for it to finish.
func (s *Service) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	slog.Info("cleanup service stopped")
}

func (s *Service) run(ctx context.Context) {
	defer close(s.done)

	s.runAll(ctx)

	ticker := time.NewTicker(s.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runAll(ctx)
		}
	}
}

func (s *Service) runAll(ctx context.Context) {
	s.deleteOldTasks(ctx)
	s.cleanupOrphanedEvents(ctx)
}

func (s *Service) deleteOldTasks(ctx context.Context) {
	cutoff := time.Now().AddDate(0, 0, -s.config.TaskRetentionDays)
	count, err := s.client.Task.Delete().
		Where(
			task.StatusIn(task.StatusSucceeded, task.StatusFailed, task.StatusCancelledByUser, task.StatusExpired),
			task.CreatedAtLT(cutoff),
		).
		Exec(ctx)
	if err != nil {
		slog.Error("retention: deleting old tasks failed", "error", err)
		return
	}
	if count > 0 {
		slog.Info("retention: deleted old tasks", "count", count)
	}
}

func (s *Service) cleanupOrphanedEvents(ctx context.Context) {
	cutoff := time.Now().Add(-s.config.EventTTL)
	candidates, err := s.client.Event.Query().
		Where(event.TimestampLT(cutoff)).
		Limit(1000).
		All(ctx)
	if err != nil {
		slog.Error("retention: querying events for cleanup failed", "error", err)
		return
	}

	var orphaned []string
	for _, evt := range candidates {
		if s.isOrphaned(ctx, evt) {
			orphaned = append(orphaned, evt.ID)
		}
	}
	if len(orphaned) == 0 {
		return
	}

	count, err := s.client.Event.Delete().Where(event.IDIn(orphaned...)).Exec(ctx)
	if err != nil {
		slog.Error("retention: deleting orphaned events failed", "error", err)
		return
	}
	if count > 0 {
		slog.Info("retention: cleaned up orphaned events", "count", count)
	}
}

// isOrphaned reports whether none of evt's entity_ids still resolve to
// a surviving task row.
func (s *Service) isOrphaned(ctx context.Context, evt *ent.Event) bool {
	for _, id := range evt.EntityIds {
		if exists, err := s.client.Task.Query().Where(task.IDEQ(id)).Exist(ctx); err == nil && exists {
			return false
		}
	}
	return len(evt.EntityIds) > 0
}
