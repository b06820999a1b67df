package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/me/opsched/pkg/model"
)

// timeoutMessage is the error recorded on tasks that exceed their timeout.
const timeoutMessage = "task execution timeout"

// sweepTimeouts marks RUNNING tasks that exceeded their timeout as TIMEOUT
// and asks their executor to cancel and clean up. Timeouts never retry.
func (l *Loop) sweepTimeouts(ctx context.Context, now time.Time) error {
	running, err := l.store.FindRunning(ctx)
	if err != nil {
		return fmt.Errorf("find running: %w", err)
	}

	for _, task := range running {
		if !task.TimedOut(now) {
			continue
		}

		task.Status = model.TaskStatusTimeout
		task.ErrorMessage = timeoutMessage
		task.CompletedAt = &now
		if err := l.store.UpdateTask(ctx, task); err != nil {
			var invalid *model.InvalidTransitionError
			if errors.As(err, &invalid) {
				// The dispatcher finished the task first; its
				// outcome stands.
				l.logger.Debug("timeout write lost to terminal state", "task_id", task.ID, "error", err)
				continue
			}
			l.logger.Error("mark task timeout", "task_id", task.ID, "error", err)
			continue
		}

		elapsed := now.Sub(*task.StartedAt).Round(time.Second)
		l.logger.Warn("task timed out", "task_id", task.ID, "elapsed", elapsed, "timeout_seconds", task.TimeoutSeconds)
		l.appendLog(ctx, task.ID, model.LogLevelError, "scheduler",
			fmt.Sprintf("%s after %s (limit %ds)", timeoutMessage, elapsed, task.TimeoutSeconds))
		l.hub.BroadcastCompletion(task.ID, false, nil, timeoutMessage)

		l.cancelExecution(ctx, task)
		l.cleanupExecutor(ctx, task)
	}
	return nil
}

// cancelExecution signals the executor to stop a still-running execution.
func (l *Loop) cancelExecution(ctx context.Context, task *model.Task) {
	exec, err := l.registry.Get(task.Type)
	if err != nil {
		return
	}
	found, err := exec.Cancel(ctx, task)
	if err != nil {
		l.logger.Warn("executor cancel", "task_id", task.ID, "error", err)
		return
	}
	if found {
		l.logger.Info("execution cancelled after timeout", "task_id", task.ID)
	}
}
