// Package queue drives pkg/store's durable Task records to completion.
// It is a from-scratch rewrite of the teacher's pkg/queue (which polled
// a Postgres LISTEN/NOTIFY channel of AlertSession rows): this module
// has no message broker, so the Scheduler polls pkg/store.TaskStore
// directly, the way the teacher's own worker.go polled its session
// queue between notifications arriving.
package queue

import (
	"context"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/haasonsaas/playbookengine/pkg/config"
	"github.com/haasonsaas/playbookengine/pkg/metrics"
	"github.com/haasonsaas/playbookengine/pkg/notify"
	"github.com/haasonsaas/playbookengine/pkg/runner"
	"github.com/haasonsaas/playbookengine/pkg/store"
)

// ClaimedTaskRunner drives a single already-claimed task's first turn.
// Satisfied by *pkg/runner.Runner.
type ClaimedTaskRunner interface {
	RunClaimedTask(ctx context.Context, taskID string) (*runner.StartOutput, error)
}

// Scheduler polls the Task Store for runnable work, claims it, and
// drives each claim through a ClaimedTaskRunner. A single Scheduler
// instance represents one runner process; RunnerID must be stable
// across restarts of the same process identity for UpdateHeartbeat's
// revival path to reattach interrupted tasks.
type Scheduler struct {
	store   *store.TaskStore
	runner  ClaimedTaskRunner
	notify  *notify.Service
	metrics *metrics.Registry
	cfg     *config.QueueConfig

	runnerID string

	sem chan struct{}
	wg  sync.WaitGroup
}

// NewScheduler constructs a Scheduler. notifier and reg may be nil
// (notifications/metrics are then skipped); cfg may be nil (defaults
// apply).
func NewScheduler(st *store.TaskStore, runner ClaimedTaskRunner, notifier *notify.Service, reg *metrics.Registry, cfg *config.QueueConfig, runnerID string) *Scheduler {
	if cfg == nil {
		cfg = config.DefaultQueueConfig()
	}
	return &Scheduler{
		store:    st,
		runner:   runner,
		notify:   notifier,
		metrics:  reg,
		cfg:      cfg,
		runnerID: runnerID,
		sem:      make(chan struct{}, cfg.WorkerCount),
	}
}

// Run blocks, driving the poll/reap/heartbeat/notify loops until ctx is
// cancelled, then waits (bounded by GracefulShutdownTimeout) for
// in-flight claims to finish before marking anything still running as
// interrupted by restart.
func (s *Scheduler) Run(ctx context.Context) {
	if err := s.store.UpsertRunnerHeartbeat(ctx, s.runnerID); err != nil {
		slog.Warn("queue: initial runner heartbeat failed", "error", err)
	}

	loops := []func(context.Context){
		s.pollLoop,
		s.reapLoop,
		s.heartbeatLoop,
		s.notifyLoop,
		s.runnerHeartbeatLoop,
	}
	var loopWG sync.WaitGroup
	loopWG.Add(len(loops))
	for _, loop := range loops {
		loop := loop
		go func() {
			defer loopWG.Done()
			loop(ctx)
		}()
	}
	loopWG.Wait()

	s.shutdown()
}

func (s *Scheduler) pollLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-time.After(jittered(s.cfg.PollInterval, s.cfg.PollIntervalJitter)):
		}
		s.pollOnce(ctx)
	}
}

func (s *Scheduler) pollOnce(ctx context.Context) {
	running, err := s.store.CountRunningTasks(ctx)
	if err != nil {
		slog.Error("queue: counting running tasks failed", "error", err)
		return
	}
	capacity := s.cfg.MaxConcurrentTasks - running
	if capacity <= 0 {
		return
	}

	candidates, err := s.store.ListRunnablePlaybookExecutionTasks(ctx, capacity)
	if err != nil {
		slog.Error("queue: listing runnable tasks failed", "error", err)
		return
	}

	for _, t := range candidates {
		select {
		case s.sem <- struct{}{}:
		default:
			return // no free worker slots left this tick
		}
		s.wg.Add(1)
		go func(taskID, packID string) {
			defer s.wg.Done()
			defer func() { <-s.sem }()
			s.claimAndRun(ctx, taskID, packID)
		}(t.ID, t.PackID)
	}

	s.logAgentDispatchBacklog(ctx)
}

// logAgentDispatchBacklog surfaces pending agent_dispatch tasks as a
// warning: no component in this tree drives that task type yet, so a
// backlog here means work is silently stuck rather than silently lost.
func (s *Scheduler) logAgentDispatchBacklog(ctx context.Context) {
	pending, err := s.store.ListRunnableAgentDispatchTasks(ctx, 1)
	if err != nil {
		slog.Error("queue: checking agent_dispatch backlog failed", "error", err)
		return
	}
	if len(pending) > 0 {
		slog.Warn("queue: agent_dispatch tasks pending with no dispatcher wired")
	}
}

func (s *Scheduler) claimAndRun(ctx context.Context, taskID, packID string) {
	claimed, err := s.store.TryClaim(ctx, taskID, s.runnerID)
	if err != nil {
		slog.Error("queue: claim failed", "task_id", taskID, "error", err)
		return
	}
	if !claimed {
		return // lost the race to another runner
	}

	if s.metrics != nil {
		s.metrics.TasksClaimed.WithLabelValues("playbook_execution").Inc()
		s.metrics.RunningTasks.Inc()
		defer s.metrics.RunningTasks.Dec()
	}
	s.notify.NotifyClaimed(ctx, packID, taskID)

	taskCtx := ctx
	var cancel context.CancelFunc
	if s.cfg.TaskTimeout > 0 {
		taskCtx, cancel = context.WithTimeout(ctx, s.cfg.TaskTimeout)
		defer cancel()
	}

	if _, err := s.runner.RunClaimedTask(taskCtx, taskID); err != nil {
		slog.Warn("queue: first turn did not complete cleanly", "task_id", taskID, "error", err)
	}
}

// heartbeatLoop periodically refreshes execution_context.heartbeat_at
// for every running task this runner owns, independent of which
// goroutine is actively driving it right now (a long Execution Chat
// continue call runs on the HTTP goroutine that served it, not on
// claimAndRun's goroutine).
func (s *Scheduler) heartbeatLoop(ctx context.Context) {
	interval := s.cfg.HeartbeatInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		owned, err := s.store.ListRunningTasksOwnedBy(ctx, s.runnerID)
		if err != nil {
			slog.Error("queue: listing owned tasks for heartbeat failed", "error", err)
			continue
		}
		for _, t := range owned {
			if _, err := s.store.UpdateHeartbeat(ctx, t.ID, s.runnerID); err != nil {
				slog.Error("queue: heartbeat failed", "task_id", t.ID, "error", err)
			}
		}
	}
}

// notifyLoop drives NotifyTerminal for tasks that reached a terminal
// status through any path (claimAndRun's own first turn, or a later
// Execution Chat continue call it never observes directly).
func (s *Scheduler) notifyLoop(ctx context.Context) {
	interval := s.cfg.HeartbeatInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		tasks, err := s.store.ListUnnotifiedTerminalTasks(ctx, 50)
		if err != nil {
			slog.Error("queue: listing unnotified terminal tasks failed", "error", err)
			continue
		}
		for _, t := range tasks {
			errMsg := ""
			if t.Error != nil {
				errMsg = *t.Error
			}
			s.notify.NotifyTerminal(ctx, t.PackID, t.ID, string(t.Status), errMsg)
			if err := s.store.MarkTerminalNotified(ctx, t.ID); err != nil {
				slog.Error("queue: marking terminal notified failed", "task_id", t.ID, "error", err)
			}
			if s.metrics != nil {
				s.metrics.TasksCompleted.WithLabelValues(string(t.TaskType), string(t.Status)).Inc()
			}
		}
	}
}

func (s *Scheduler) reapLoop(ctx context.Context) {
	interval := s.cfg.ReapInterval
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		n, err := s.store.ReapZombies(ctx, s.cfg.HeartbeatTTL, s.cfg.NoHeartbeatTTL)
		if err != nil {
			slog.Error("queue: reap failed", "error", err)
			continue
		}
		if n > 0 {
			slog.Info("queue: reaped zombie tasks", "count", n)
			if s.metrics != nil {
				s.metrics.TasksReaped.Add(float64(n))
			}
		}
	}
}

// runnerHeartbeatLoop maintains the distinct per-runner (not per-task)
// heartbeat row that HasActiveRunner reads.
func (s *Scheduler) runnerHeartbeatLoop(ctx context.Context) {
	interval := s.cfg.HeartbeatInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		if err := s.store.UpsertRunnerHeartbeat(ctx, s.runnerID); err != nil {
			slog.Error("queue: runner heartbeat failed", "error", err)
		}
	}
}

func (s *Scheduler) shutdown() {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(s.cfg.GracefulShutdownTimeout):
		slog.Warn("queue: graceful shutdown timed out, marking in-flight tasks for restart revival")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	owned, err := s.store.ListRunningTasksOwnedBy(ctx, s.runnerID)
	if err != nil {
		slog.Error("queue: listing owned tasks at shutdown failed", "error", err)
		return
	}
	for _, t := range owned {
		if err := s.store.MarkInterruptedByRestart(ctx, t.ID); err != nil {
			slog.Error("queue: marking task interrupted at shutdown failed", "task_id", t.ID, "error", err)
		}
	}
}

func jittered(base, jitter time.Duration) time.Duration {
	if jitter <= 0 {
		return base
	}
	delta := time.Duration(rand.Int63n(int64(2*jitter))) - jitter
	d := base + delta
	if d < 0 {
		return base
	}
	return d
}
