// Package queue holds ready-to-dispatch task identifiers ranked by priority.
//
// The queue is not the source of truth for task state; an entry only means
// "ready for dispatch". The scheduler keeps queue membership consistent with
// the store's QUEUED status.
package queue

import "context"

// Queue ranks task identifiers by priority. Higher priority dequeues first;
// among equal priorities, earlier-enqueued entries dequeue first when the
// implementation can track insertion order (a remote sorted set may not —
// such implementations must document score-only ordering as a limitation).
type Queue interface {
	// Enqueue inserts or re-inserts an identifier with the given priority.
	// Re-enqueueing an existing identifier updates its priority and keeps a
	// single live entry.
	Enqueue(ctx context.Context, taskID string, priority int) error

	// DequeueHighest atomically removes and returns the highest-ranked
	// identifier. ok is false when the queue is empty; an empty queue is
	// never an error.
	DequeueHighest(ctx context.Context) (taskID string, ok bool, err error)

	// Remove deletes an identifier if present. Idempotent; removing an
	// absent identifier succeeds trivially.
	Remove(ctx context.Context, taskID string) error

	// Contains reports queue membership. Diagnostic only, except for the
	// reconciliation sweep that re-enqueues orphaned QUEUED tasks.
	Contains(ctx context.Context, taskID string) (bool, error)

	// Size returns the number of live entries. Diagnostic only.
	Size(ctx context.Context) (int, error)
}
