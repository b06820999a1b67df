package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/me/opsched/pkg/model"
)

// startRunning drives a task into RUNNING with the given start time.
func startRunning(t *testing.T, env *testEnv, task *model.Task, startedAt time.Time) {
	t.Helper()
	ctx := context.Background()

	task.Status = model.TaskStatusQueued
	if err := env.store.UpdateTask(ctx, task); err != nil {
		t.Fatalf("UpdateTask to QUEUED: %v", err)
	}
	task.Status = model.TaskStatusRunning
	task.StartedAt = &startedAt
	if err := env.store.UpdateTask(ctx, task); err != nil {
		t.Fatalf("UpdateTask to RUNNING: %v", err)
	}
}

func TestSweepTimeouts_MarksOverdueTask(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	task := env.createTask(t, 5, 3)
	startedAt := time.Now().UTC().Add(-time.Duration(task.TimeoutSeconds+10) * time.Second)
	startRunning(t, env, task, startedAt)

	if err := env.loop.sweepTimeouts(ctx, time.Now().UTC()); err != nil {
		t.Fatalf("sweepTimeouts: %v", err)
	}

	got := env.mustGet(t, task.ID)
	if got.Status != model.TaskStatusTimeout {
		t.Fatalf("status = %q, want TIMEOUT", got.Status)
	}
	if got.ErrorMessage != timeoutMessage {
		t.Errorf("error_message = %q, want %q", got.ErrorMessage, timeoutMessage)
	}
	if got.CompletedAt == nil {
		t.Error("CompletedAt is nil after timeout")
	}
	// Timeouts never retry, even with retries remaining.
	if got.RetryCount != 0 {
		t.Errorf("retry_count = %d, want 0", got.RetryCount)
	}

	if env.exec.cleanupCount() != 1 {
		t.Errorf("cleanup calls = %d, want 1", env.exec.cleanupCount())
	}
	env.exec.mu.Lock()
	cancelled := len(env.exec.cancelled)
	env.exec.mu.Unlock()
	if cancelled != 1 {
		t.Errorf("cancel calls = %d, want 1", cancelled)
	}
}

func TestSweepTimeouts_LeavesHealthyTaskAlone(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	task := env.createTask(t, 5, 3)
	startRunning(t, env, task, time.Now().UTC().Add(-1*time.Second))

	if err := env.loop.sweepTimeouts(ctx, time.Now().UTC()); err != nil {
		t.Fatalf("sweepTimeouts: %v", err)
	}

	if got := env.mustGet(t, task.ID); got.Status != model.TaskStatusRunning {
		t.Errorf("status = %q, want RUNNING", got.Status)
	}
}

func TestSweepTimeouts_CompletedTaskNotTimedOut(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	task := env.createTask(t, 5, 3)
	startedAt := time.Now().UTC().Add(-600 * time.Second)
	startRunning(t, env, task, startedAt)

	// The dispatcher finishes the task just before the sweep runs.
	done := env.mustGet(t, task.ID)
	done.Status = model.TaskStatusSuccess
	now := time.Now().UTC()
	done.CompletedAt = &now
	done.Progress = 100
	if err := env.store.UpdateTask(ctx, done); err != nil {
		t.Fatalf("UpdateTask to SUCCESS: %v", err)
	}

	if err := env.loop.sweepTimeouts(ctx, time.Now().UTC()); err != nil {
		t.Fatalf("sweepTimeouts: %v", err)
	}

	if got := env.mustGet(t, task.ID); got.Status != model.TaskStatusSuccess {
		t.Errorf("status = %q, want SUCCESS preserved over late timeout", got.Status)
	}
}
