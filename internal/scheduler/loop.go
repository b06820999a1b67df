package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/me/opsched/internal/broadcast"
	"github.com/me/opsched/internal/executor"
	"github.com/me/opsched/internal/queue"
	"github.com/me/opsched/internal/store"
	"github.com/me/opsched/pkg/model"
)

// Loop implements Scheduler with two polling loops over the store and the
// priority queue.
type Loop struct {
	store    store.TaskStore
	queue    queue.Queue
	registry *executor.Registry
	hub      *broadcast.Hub
	config   Config
	logger   *slog.Logger

	slots  chan struct{} // execution concurrency, one token per running task
	wg     sync.WaitGroup
	stopCh chan struct{}
	doneCh chan struct{}
}

// NewLoop creates a scheduler loop.
func NewLoop(st store.TaskStore, q queue.Queue, reg *executor.Registry, hub *broadcast.Hub, cfg Config, logger *slog.Logger) *Loop {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = DefaultConfig().MaxConcurrent
	}
	return &Loop{
		store:    st,
		queue:    q,
		registry: reg,
		hub:      hub,
		config:   cfg,
		logger:   logger.With("component", "scheduler"),
		slots:    make(chan struct{}, cfg.MaxConcurrent),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Start begins the poll and dispatch loops. Blocks until ctx is cancelled or
// Stop is called; in-flight executions are cancelled on the way out.
func (l *Loop) Start(ctx context.Context) error {
	l.logger.Info("scheduler started",
		"poll_interval", l.config.PollInterval,
		"dispatch_interval", l.config.DispatchInterval,
		"max_concurrent", l.config.MaxConcurrent,
	)

	execCtx, cancelExec := context.WithCancel(ctx)
	defer cancelExec()

	pollTicker := time.NewTicker(l.config.PollInterval)
	defer pollTicker.Stop()
	dispatchTicker := time.NewTicker(l.config.DispatchInterval)
	defer dispatchTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			l.logger.Info("scheduler stopping (context cancelled)")
			l.shutdown(cancelExec)
			return ctx.Err()
		case <-l.stopCh:
			l.logger.Info("scheduler stopping (stop called)")
			l.shutdown(cancelExec)
			return nil
		case <-pollTicker.C:
			if err := l.PollTick(ctx); err != nil {
				l.logger.Error("poll tick", "error", err)
			}
		case <-dispatchTicker.C:
			if err := l.DispatchTick(execCtx); err != nil {
				l.logger.Error("dispatch tick", "error", err)
			}
		}
	}
}

// Stop shuts the scheduler down and waits for the loops to exit.
func (l *Loop) Stop() error {
	close(l.stopCh)
	<-l.doneCh
	return nil
}

func (l *Loop) shutdown(cancelExec context.CancelFunc) {
	cancelExec()
	l.wg.Wait()
	close(l.doneCh)
}

// WaitIdle blocks until all in-flight executions have finished.
func (l *Loop) WaitIdle() {
	l.wg.Wait()
}

// PollTick runs one discovery iteration: promote PENDING tasks into the
// queue, sweep RUNNING tasks for timeouts and reconcile the queue against
// the store. Per-task failures are isolated so one bad row cannot stall the
// loop.
func (l *Loop) PollTick(ctx context.Context) error {
	return errors.Join(
		l.promotePending(ctx),
		l.sweepTimeouts(ctx, time.Now().UTC()),
		l.reconcileQueue(ctx),
	)
}

// promotePending moves PENDING tasks to QUEUED and enqueues them, highest
// priority first.
func (l *Loop) promotePending(ctx context.Context) error {
	pending, err := l.store.FindPending(ctx)
	if err != nil {
		return fmt.Errorf("find pending: %w", err)
	}

	for _, task := range pending {
		task.Status = model.TaskStatusQueued
		if err := l.store.UpdateTask(ctx, task); err != nil {
			l.logger.Error("promote task", "task_id", task.ID, "error", err)
			continue
		}
		if err := l.queue.Enqueue(ctx, task.ID, task.Priority); err != nil {
			// The reconcile sweep re-enqueues QUEUED tasks missing
			// from the queue, so this is not lost.
			l.logger.Error("enqueue task", "task_id", task.ID, "error", err)
			continue
		}
		l.logger.Info("task queued", "task_id", task.ID, "priority", task.Priority)
		l.appendLog(ctx, task.ID, model.LogLevelInfo, "scheduler", "task queued")
	}
	return nil
}

// reconcileQueue re-enqueues tasks that are QUEUED in the store but absent
// from the queue, e.g. after a restart.
func (l *Loop) reconcileQueue(ctx context.Context) error {
	queued, err := l.store.FindQueued(ctx)
	if err != nil {
		return fmt.Errorf("find queued: %w", err)
	}

	for _, task := range queued {
		present, err := l.queue.Contains(ctx, task.ID)
		if err != nil {
			l.logger.Error("queue contains", "task_id", task.ID, "error", err)
			continue
		}
		if present {
			continue
		}
		if err := l.queue.Enqueue(ctx, task.ID, task.Priority); err != nil {
			l.logger.Error("re-enqueue task", "task_id", task.ID, "error", err)
			continue
		}
		l.logger.Warn("task re-enqueued after queue loss", "task_id", task.ID)
	}
	return nil
}

// appendLog persists a task log line, logging (not propagating) failures.
func (l *Loop) appendLog(ctx context.Context, taskID string, level model.LogLevel, source, message string) {
	entry := &model.TaskLog{
		ID:        uuid.NewString(),
		TaskID:    taskID,
		Level:     level,
		Message:   message,
		Source:    source,
		Timestamp: time.Now().UTC(),
	}
	if err := l.store.AppendLog(ctx, entry); err != nil {
		l.logger.Error("append task log", "task_id", taskID, "error", err)
	}
}
