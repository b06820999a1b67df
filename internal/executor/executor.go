// Package executor defines the pluggable task execution backends and the
// registry that maps task types to them.
package executor

import (
	"context"

	"github.com/me/opsched/pkg/model"
)

// Reporter receives progress and log output from a running execution.
// Implementations must be safe for concurrent use; executors may report
// from multiple goroutines.
type Reporter interface {
	// Progress reports completion in percent (0-100).
	Progress(taskID string, percent int)

	// Log emits one line of execution output.
	Log(taskID string, level model.LogLevel, source, message string)
}

// Executor is a pluggable backend that runs tasks to completion.
type Executor interface {
	// Type returns the task type this executor handles.
	Type() model.TaskType

	// Execute runs the task synchronously and returns its result. The
	// context carries the task's execution deadline; implementations must
	// stop work when it is cancelled. A non-nil error means the backend
	// itself failed, not the task: task-level failures are reported via
	// ExecutionResult.Success.
	Execute(ctx context.Context, task *model.Task, rep Reporter) (*model.ExecutionResult, error)

	// Cleanup releases resources held for the task (scratch directories,
	// handles). Called after the task reaches a terminal state.
	Cleanup(ctx context.Context, task *model.Task) error

	// Cancel requests cancellation of a running task. It returns true when
	// a running execution was found and signalled.
	Cancel(ctx context.Context, task *model.Task) (bool, error)
}
