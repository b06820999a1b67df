// Package scheduler drives tasks through their lifecycle: a poll loop
// promotes PENDING tasks into the priority queue, sweeps RUNNING tasks for
// timeouts and reconciles the queue against the store, while a faster
// dispatch loop pops the highest-priority queued task and hands it to an
// executor.
package scheduler

import (
	"context"
	"time"
)

// Scheduler runs the task lifecycle loops.
type Scheduler interface {
	// Start begins the loops. Blocks until ctx is cancelled or Stop is called.
	Start(ctx context.Context) error

	// Stop gracefully shuts the loops down and waits for in-flight
	// executions to finish or be cancelled.
	Stop() error
}

// Config holds scheduler configuration.
type Config struct {
	// PollInterval is the cadence of the discovery loop (pending
	// promotion, timeout sweep, queue reconciliation).
	PollInterval time.Duration

	// DispatchInterval is the cadence of the dispatch loop.
	DispatchInterval time.Duration

	// MaxConcurrent caps how many tasks execute at once.
	MaxConcurrent int

	// TimeoutGrace is added on top of a task's own timeout when deriving
	// its execution context deadline, so the timeout sweep normally marks
	// the task before the context kills it.
	TimeoutGrace time.Duration
}

// DefaultConfig returns the reference cadences.
func DefaultConfig() Config {
	return Config{
		PollInterval:     1 * time.Second,
		DispatchInterval: 500 * time.Millisecond,
		MaxConcurrent:    4,
		TimeoutGrace:     5 * time.Second,
	}
}
