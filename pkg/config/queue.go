package config

import "time"

// QueueConfig contains queue and worker pool configuration. These
// values control how tasks are polled, claimed, heartbeated, and reaped.
type QueueConfig struct {
	// WorkerCount is the number of worker goroutines per runner process.
	// Each worker independently polls and processes tasks.
	WorkerCount int `yaml:"worker_count"`

	// MaxConcurrentTasks is the global limit of concurrently running
	// tasks across ALL runner processes. Enforced by database COUNT(*).
	MaxConcurrentTasks int `yaml:"max_concurrent_tasks"`

	// PollInterval is the base interval for checking runnable tasks.
	PollInterval time.Duration `yaml:"poll_interval"`

	// PollIntervalJitter is the random jitter added to PollInterval.
	// Actual interval: PollInterval ± PollIntervalJitter.
	PollIntervalJitter time.Duration `yaml:"poll_interval_jitter"`

	// TaskTimeout is the maximum time a task can run before the runner
	// forces it to a conclusion.
	TaskTimeout time.Duration `yaml:"task_timeout"`

	// GracefulShutdownTimeout is the max time to wait for in-flight
	// tasks to complete during shutdown.
	GracefulShutdownTimeout time.Duration `yaml:"graceful_shutdown_timeout"`

	// ReapInterval is how often the zombie reaper scans for stale or
	// abandoned running tasks.
	ReapInterval time.Duration `yaml:"reap_interval"`

	// HeartbeatInterval is how often a claimed task's worker writes
	// execution_context.heartbeat_at. Must be less than HeartbeatTTL.
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`

	// HeartbeatTTL is the reap_zombies rule for a running task whose
	// heartbeat_at has gone stale: reaped once older than this, strict >.
	HeartbeatTTL time.Duration `yaml:"heartbeat_ttl"`

	// NoHeartbeatTTL is the reap_zombies rule for a running task that
	// never heartbeated at all: reaped once started_at is older than this.
	NoHeartbeatTTL time.Duration `yaml:"no_heartbeat_ttl"`

	// RunnerHeartbeatMaxAge bounds has_active_runner: a runner with no
	// RunnerHeartbeat row fresher than this is not considered active.
	RunnerHeartbeatMaxAge time.Duration `yaml:"runner_heartbeat_max_age"`
}

// DefaultQueueConfig returns the built-in queue defaults.
func DefaultQueueConfig() *QueueConfig {
	return &QueueConfig{
		WorkerCount:             5,
		MaxConcurrentTasks:      5,
		PollInterval:            1 * time.Second,
		PollIntervalJitter:      500 * time.Millisecond,
		TaskTimeout:             15 * time.Minute,
		GracefulShutdownTimeout: 15 * time.Minute,
		ReapInterval:            1 * time.Minute,
		HeartbeatInterval:       30 * time.Second,
		HeartbeatTTL:            10 * time.Minute,
		NoHeartbeatTTL:          30 * time.Minute,
		RunnerHeartbeatMaxAge:   30 * time.Second,
	}
}
