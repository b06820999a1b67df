package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/me/opsched/pkg/model"
)

// DispatchTick runs one dispatch iteration: pop the highest-priority queued
// task and start executing it. A tick with no free execution slot or an
// empty queue is a no-op.
func (l *Loop) DispatchTick(ctx context.Context) error {
	select {
	case l.slots <- struct{}{}:
	default:
		return nil // all execution slots busy
	}
	release := func() { <-l.slots }

	taskID, ok, err := l.queue.DequeueHighest(ctx)
	if err != nil {
		release()
		return fmt.Errorf("dequeue: %w", err)
	}
	if !ok {
		release()
		return nil
	}

	task, err := l.store.GetTask(ctx, taskID)
	if err != nil {
		release()
		return fmt.Errorf("load task %s: %w", taskID, err)
	}
	if task == nil {
		// Deleted between enqueue and dispatch.
		release()
		l.logger.Warn("queued task no longer exists", "task_id", taskID)
		return nil
	}
	if task.Status != model.TaskStatusQueued {
		// Cancelled (or otherwise moved on) while waiting in the queue.
		release()
		l.logger.Debug("skipping dispatch, task not queued", "task_id", task.ID, "status", task.Status)
		return nil
	}

	now := time.Now().UTC()
	task.Status = model.TaskStatusRunning
	task.StartedAt = &now
	task.Progress = 0
	if err := l.store.UpdateTask(ctx, task); err != nil {
		release()
		var invalid *model.InvalidTransitionError
		if errors.As(err, &invalid) {
			l.logger.Debug("dispatch lost transition race", "task_id", task.ID, "error", err)
			return nil
		}
		return fmt.Errorf("start task %s: %w", task.ID, err)
	}

	l.logger.Info("task dispatched", "task_id", task.ID, "type", task.Type, "attempt", task.RetryCount+1)
	l.appendLog(ctx, task.ID, model.LogLevelInfo, "scheduler", "task started")
	l.hub.BroadcastProgress(task.ID, 0, "task started")

	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		defer release()
		l.execute(ctx, task)
	}()
	return nil
}

// execute runs the task to completion under its timeout deadline and
// persists the outcome.
func (l *Loop) execute(ctx context.Context, task *model.Task) {
	timeout := time.Duration(task.TimeoutSeconds)*time.Second + l.config.TimeoutGrace
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	result := l.runExecutor(runCtx, task)

	// The outcome is written with a fresh context: the run context may
	// already be past its deadline.
	now := time.Now().UTC()
	if result.Success {
		l.finishSuccess(ctx, task, result, now)
	} else {
		l.finishFailure(ctx, task, result, now)
	}
}

// runExecutor resolves the executor and runs it, converting backend errors
// and panics into failed results.
func (l *Loop) runExecutor(ctx context.Context, task *model.Task) (result *model.ExecutionResult) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("executor panicked", "task_id", task.ID, "panic", r)
			result = model.FailureResult(fmt.Sprintf("executor panicked: %v", r))
		}
	}()

	exec, err := l.registry.Get(task.Type)
	if err != nil {
		return model.FailureResult(err.Error())
	}

	res, err := exec.Execute(ctx, task, &taskReporter{loop: l, task: task})
	if err != nil {
		return model.FailureResult(err.Error())
	}
	if res == nil {
		return model.FailureResult("executor returned no result")
	}
	return res
}

func (l *Loop) finishSuccess(ctx context.Context, task *model.Task, result *model.ExecutionResult, now time.Time) {
	task.Status = model.TaskStatusSuccess
	task.Progress = 100
	task.ErrorMessage = ""
	task.CompletedAt = &now
	task.OutputData = result.OutputData
	if task.OutputData == nil {
		task.OutputData = map[string]any{"status": "success"}
	}

	if err := l.store.UpdateTask(ctx, task); err != nil {
		var invalid *model.InvalidTransitionError
		if errors.As(err, &invalid) {
			// The timeout sweep marked the task first; its outcome stands.
			l.logger.Debug("success write lost to terminal state", "task_id", task.ID, "error", err)
		} else {
			l.logger.Error("persist task success", "task_id", task.ID, "error", err)
		}
		l.cleanupExecutor(ctx, task)
		return
	}

	for _, artifact := range result.Artifacts {
		if err := l.store.CreateArtifact(ctx, &artifact); err != nil {
			l.logger.Error("persist artifact", "task_id", task.ID, "artifact", artifact.Name, "error", err)
		}
	}

	l.logger.Info("task succeeded", "task_id", task.ID)
	l.appendLog(ctx, task.ID, model.LogLevelInfo, "scheduler", "task completed")
	l.hub.BroadcastProgress(task.ID, 100, "task completed")
	l.hub.BroadcastCompletion(task.ID, true, task.OutputData, "")
	l.cleanupExecutor(ctx, task)
}

func (l *Loop) finishFailure(ctx context.Context, task *model.Task, result *model.ExecutionResult, now time.Time) {
	errMsg := result.ErrorMessage
	if errMsg == "" {
		errMsg = "task execution failed"
	}

	task.Status = model.TaskStatusFailed
	task.ErrorMessage = errMsg
	task.CompletedAt = &now
	if err := l.store.UpdateTask(ctx, task); err != nil {
		var invalid *model.InvalidTransitionError
		if errors.As(err, &invalid) {
			// Already TIMEOUT (or cancelled); that outcome stands.
			l.logger.Debug("failure write lost to terminal state", "task_id", task.ID, "error", err)
		} else {
			l.logger.Error("persist task failure", "task_id", task.ID, "error", err)
		}
		l.cleanupExecutor(ctx, task)
		return
	}

	if task.RetryCount < task.MaxRetries {
		task.RetryCount++
		task.Status = model.TaskStatusPending
		task.StartedAt = nil
		task.CompletedAt = nil
		if err := l.store.UpdateTask(ctx, task); err != nil {
			l.logger.Error("grant retry", "task_id", task.ID, "error", err)
		} else {
			msg := fmt.Sprintf("task failed, retrying (attempt %d/%d): %s", task.RetryCount, task.MaxRetries, errMsg)
			l.logger.Warn("task retry granted", "task_id", task.ID, "attempt", task.RetryCount, "max_retries", task.MaxRetries)
			l.appendLog(ctx, task.ID, model.LogLevelWarn, "scheduler", msg)
			l.cleanupExecutor(ctx, task)
			return
		}
	}

	l.logger.Warn("task failed", "task_id", task.ID, "error", errMsg)
	l.appendLog(ctx, task.ID, model.LogLevelError, "scheduler", "task failed: "+errMsg)
	l.hub.BroadcastCompletion(task.ID, false, nil, errMsg)
	l.cleanupExecutor(ctx, task)
}

// cleanupExecutor releases executor-side resources; failures are logged only.
func (l *Loop) cleanupExecutor(ctx context.Context, task *model.Task) {
	exec, err := l.registry.Get(task.Type)
	if err != nil {
		return
	}
	if err := exec.Cleanup(ctx, task); err != nil {
		l.logger.Warn("executor cleanup", "task_id", task.ID, "error", err)
	}
}

// taskReporter bridges executor progress and log output into the store and
// the broadcast hub. Executors may report from multiple goroutines, so the
// task snapshot is mutex-guarded.
type taskReporter struct {
	loop *Loop
	mu   sync.Mutex
	task *model.Task
}

func (r *taskReporter) Progress(taskID string, percent int) {
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}

	r.mu.Lock()
	if percent <= r.task.Progress {
		// Progress never moves backwards within an attempt.
		r.mu.Unlock()
		return
	}
	r.task.Progress = percent
	err := r.loop.store.UpdateTask(context.Background(), r.task)
	r.mu.Unlock()

	if err != nil {
		r.loop.logger.Warn("persist progress", "task_id", taskID, "error", err)
	}
	r.loop.hub.BroadcastProgress(taskID, percent, "")
}

func (r *taskReporter) Log(taskID string, level model.LogLevel, source, message string) {
	r.loop.appendLog(context.Background(), taskID, level, source, message)
	r.loop.hub.BroadcastLog(taskID, level, source, message)
}
