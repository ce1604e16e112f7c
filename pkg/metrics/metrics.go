// Package metrics exposes the process's Prometheus collectors: task
// claim/completion counters and a running-tasks gauge for pkg/queue's
// Scheduler, plus the registry an HTTP /metrics handler serves. Grounded
// on github.com/prometheus/client_golang, already a teacher go.mod
// dependency with no prior home in this tree.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Registry groups the collectors pkg/queue's Scheduler updates.
type Registry struct {
	TasksClaimed   *prometheus.CounterVec
	TasksCompleted *prometheus.CounterVec
	TasksReaped    prometheus.Counter
	RunningTasks   prometheus.Gauge
	ClaimDuration  prometheus.Histogram
}

// NewRegistry registers and returns a fresh Registry against reg. Pass
// prometheus.NewRegistry() for an isolated registry (tests) or
// prometheus.DefaultRegisterer-backed reg for the process registry.
func NewRegistry(reg prometheus.Registerer) *Registry {
	factory := promauto.With(reg)
	return &Registry{
		TasksClaimed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "playbookengine",
			Subsystem: "scheduler",
			Name:      "tasks_claimed_total",
			Help:      "Total tasks claimed by this runner, by task_type.",
		}, []string{"task_type"}),
		TasksCompleted: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "playbookengine",
			Subsystem: "scheduler",
			Name:      "tasks_completed_total",
			Help:      "Total tasks that reached a terminal status, by task_type and status.",
		}, []string{"task_type", "status"}),
		TasksReaped: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "playbookengine",
			Subsystem: "scheduler",
			Name:      "tasks_reaped_total",
			Help:      "Total tasks failed by the zombie reaper.",
		}),
		RunningTasks: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "playbookengine",
			Subsystem: "scheduler",
			Name:      "running_tasks",
			Help:      "Tasks currently being driven by this runner process.",
		}),
		ClaimDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "playbookengine",
			Subsystem: "scheduler",
			Name:      "claim_to_terminal_seconds",
			Help:      "Wall-clock time from a task's claim to its terminal transition.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
		}),
	}
}
