package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/me/opsched/internal/executor"
	"github.com/me/opsched/pkg/model"
)

func TestDispatchTick_SuccessPath(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.exec.execute = func(_ context.Context, task *model.Task, rep executor.Reporter) (*model.ExecutionResult, error) {
		rep.Progress(task.ID, 50)
		rep.Log(task.ID, model.LogLevelInfo, "executor", "halfway")
		return model.SuccessResult(map[string]any{"answer": float64(42)}), nil
	}

	task := env.createTask(t, 5, 0)
	if err := env.loop.PollTick(ctx); err != nil {
		t.Fatalf("PollTick: %v", err)
	}
	if err := env.loop.DispatchTick(ctx); err != nil {
		t.Fatalf("DispatchTick: %v", err)
	}
	env.loop.WaitIdle()

	got := env.mustGet(t, task.ID)
	if got.Status != model.TaskStatusSuccess {
		t.Fatalf("status = %q, want SUCCESS", got.Status)
	}
	if got.Progress != 100 {
		t.Errorf("progress = %d, want 100", got.Progress)
	}
	if got.OutputData["answer"] != float64(42) {
		t.Errorf("output = %v, want answer=42", got.OutputData)
	}
	if got.StartedAt == nil || got.CompletedAt == nil {
		t.Fatal("StartedAt or CompletedAt is nil")
	}
	if got.CompletedAt.Before(*got.StartedAt) {
		t.Errorf("CompletedAt %v before StartedAt %v", got.CompletedAt, got.StartedAt)
	}

	logs, err := env.store.ListLogs(ctx, task.ID)
	if err != nil {
		t.Fatalf("ListLogs: %v", err)
	}
	var sawExecutorLine bool
	for _, entry := range logs {
		if entry.Source == "executor" && entry.Message == "halfway" {
			sawExecutorLine = true
		}
	}
	if !sawExecutorLine {
		t.Error("executor log line was not persisted")
	}

	if env.exec.cleanupCount() != 1 {
		t.Errorf("cleanup calls = %d, want 1", env.exec.cleanupCount())
	}
}

func TestDispatchTick_EmptyQueueIsNoOp(t *testing.T) {
	env := newTestEnv(t)
	if err := env.loop.DispatchTick(context.Background()); err != nil {
		t.Fatalf("DispatchTick on empty queue: %v", err)
	}
}

func TestDispatchTick_SkipsCancelledTask(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	executed := false
	env.exec.execute = func(context.Context, *model.Task, executor.Reporter) (*model.ExecutionResult, error) {
		executed = true
		return model.SuccessResult(nil), nil
	}

	task := env.createTask(t, 5, 0)
	if err := env.loop.PollTick(ctx); err != nil {
		t.Fatalf("PollTick: %v", err)
	}

	// Cancel after queueing but before dispatch.
	task = env.mustGet(t, task.ID)
	task.Status = model.TaskStatusCancelled
	now := time.Now().UTC()
	task.CompletedAt = &now
	if err := env.store.UpdateTask(ctx, task); err != nil {
		t.Fatalf("UpdateTask: %v", err)
	}

	if err := env.loop.DispatchTick(ctx); err != nil {
		t.Fatalf("DispatchTick: %v", err)
	}
	env.loop.WaitIdle()

	if executed {
		t.Error("cancelled task was executed")
	}
	if got := env.mustGet(t, task.ID); got.Status != model.TaskStatusCancelled {
		t.Errorf("status = %q, want CANCELLED", got.Status)
	}
}

func TestDispatchTick_SkipsDeletedTask(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	task := env.createTask(t, 5, 0)
	if err := env.loop.PollTick(ctx); err != nil {
		t.Fatalf("PollTick: %v", err)
	}
	if err := env.store.DeleteTask(ctx, task.ID); err != nil {
		t.Fatalf("DeleteTask: %v", err)
	}

	if err := env.loop.DispatchTick(ctx); err != nil {
		t.Fatalf("DispatchTick after delete: %v", err)
	}
}

func TestDispatchTick_FailureGrantsRetry(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.exec.execute = func(context.Context, *model.Task, executor.Reporter) (*model.ExecutionResult, error) {
		return model.FailureResult("boom"), nil
	}

	task := env.createTask(t, 5, 2)
	if err := env.loop.PollTick(ctx); err != nil {
		t.Fatalf("PollTick: %v", err)
	}
	if err := env.loop.DispatchTick(ctx); err != nil {
		t.Fatalf("DispatchTick: %v", err)
	}
	env.loop.WaitIdle()

	got := env.mustGet(t, task.ID)
	if got.Status != model.TaskStatusPending {
		t.Fatalf("status = %q, want PENDING (retry granted)", got.Status)
	}
	if got.RetryCount != 1 {
		t.Errorf("retry_count = %d, want 1", got.RetryCount)
	}
	if got.StartedAt != nil || got.CompletedAt != nil {
		t.Error("StartedAt/CompletedAt not cleared on retry grant")
	}
	if got.ErrorMessage != "boom" {
		t.Errorf("error_message = %q, want boom", got.ErrorMessage)
	}
}

func TestDispatchTick_RetriesExhaustedEndsFailed(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.exec.execute = func(context.Context, *model.Task, executor.Reporter) (*model.ExecutionResult, error) {
		return model.FailureResult("boom"), nil
	}

	task := env.createTask(t, 5, 1)

	// Attempt 1 fails and is granted a retry; attempt 2 fails terminally.
	for attempt := 0; attempt < 2; attempt++ {
		if err := env.loop.PollTick(ctx); err != nil {
			t.Fatalf("PollTick: %v", err)
		}
		if err := env.loop.DispatchTick(ctx); err != nil {
			t.Fatalf("DispatchTick: %v", err)
		}
		env.loop.WaitIdle()
	}

	got := env.mustGet(t, task.ID)
	if got.Status != model.TaskStatusFailed {
		t.Fatalf("status = %q, want FAILED", got.Status)
	}
	if got.RetryCount != 1 {
		t.Errorf("retry_count = %d, want 1", got.RetryCount)
	}
	if got.CompletedAt == nil {
		t.Error("CompletedAt is nil on terminal failure")
	}
}

func TestDispatchTick_BackendErrorFailsTask(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.exec.execute = func(context.Context, *model.Task, executor.Reporter) (*model.ExecutionResult, error) {
		return nil, errors.New("backend unavailable")
	}

	task := env.createTask(t, 5, 0)
	if err := env.loop.PollTick(ctx); err != nil {
		t.Fatalf("PollTick: %v", err)
	}
	if err := env.loop.DispatchTick(ctx); err != nil {
		t.Fatalf("DispatchTick: %v", err)
	}
	env.loop.WaitIdle()

	got := env.mustGet(t, task.ID)
	if got.Status != model.TaskStatusFailed {
		t.Fatalf("status = %q, want FAILED", got.Status)
	}
	if got.ErrorMessage != "backend unavailable" {
		t.Errorf("error_message = %q", got.ErrorMessage)
	}
}

func TestDispatchTick_PanicFailsTask(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.exec.execute = func(context.Context, *model.Task, executor.Reporter) (*model.ExecutionResult, error) {
		panic("unexpected")
	}

	task := env.createTask(t, 5, 0)
	if err := env.loop.PollTick(ctx); err != nil {
		t.Fatalf("PollTick: %v", err)
	}
	if err := env.loop.DispatchTick(ctx); err != nil {
		t.Fatalf("DispatchTick: %v", err)
	}
	env.loop.WaitIdle()

	got := env.mustGet(t, task.ID)
	if got.Status != model.TaskStatusFailed {
		t.Fatalf("status = %q, want FAILED after executor panic", got.Status)
	}
}

func TestDispatchTick_UnknownTaskTypeFails(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	// No executor is registered for package tasks in this environment.
	task := &model.Task{
		ID:             "task_pkg",
		Name:           "package-task",
		Type:           model.TaskTypePackage,
		UserID:         "user_1",
		Status:         model.TaskStatusPending,
		Priority:       5,
		TimeoutSeconds: 300,
		CreatedAt:      time.Now().UTC(),
	}
	if err := env.store.CreateTask(ctx, task); err != nil {
		t.Fatalf("CreateTask: %v", err)
	}

	if err := env.loop.PollTick(ctx); err != nil {
		t.Fatalf("PollTick: %v", err)
	}
	if err := env.loop.DispatchTick(ctx); err != nil {
		t.Fatalf("DispatchTick: %v", err)
	}
	env.loop.WaitIdle()

	got := env.mustGet(t, task.ID)
	if got.Status != model.TaskStatusFailed {
		t.Fatalf("status = %q, want FAILED for unregistered task type", got.Status)
	}
}

func TestTaskReporter_IgnoresRegressingProgress(t *testing.T) {
	env := newTestEnv(t)

	env.exec.execute = func(_ context.Context, task *model.Task, rep executor.Reporter) (*model.ExecutionResult, error) {
		rep.Progress(task.ID, 60)
		rep.Progress(task.ID, 30)
		return nil, errors.New("stop here")
	}

	task := env.createTask(t, 5, 3)
	ctx := context.Background()
	if err := env.loop.PollTick(ctx); err != nil {
		t.Fatalf("PollTick: %v", err)
	}
	if err := env.loop.DispatchTick(ctx); err != nil {
		t.Fatalf("DispatchTick: %v", err)
	}
	env.loop.WaitIdle()

	// The failed attempt's last progress stays on the record; the regressing
	// report must not have overwritten the 60.
	got := env.mustGet(t, task.ID)
	if got.Progress != 60 {
		t.Errorf("progress = %d, want 60 (regressing report ignored)", got.Progress)
	}
}

func TestTaskReporter_ConcurrentReports(t *testing.T) {
	env := newTestEnv(t)

	env.exec.execute = func(_ context.Context, task *model.Task, rep executor.Reporter) (*model.ExecutionResult, error) {
		var wg sync.WaitGroup
		for percent := 1; percent <= 90; percent++ {
			wg.Add(1)
			go func(p int) {
				defer wg.Done()
				rep.Progress(task.ID, p)
			}(percent)
		}
		wg.Wait()
		return nil, errors.New("stop here")
	}

	task := env.createTask(t, 5, 3)
	ctx := context.Background()
	if err := env.loop.PollTick(ctx); err != nil {
		t.Fatalf("PollTick: %v", err)
	}
	if err := env.loop.DispatchTick(ctx); err != nil {
		t.Fatalf("DispatchTick: %v", err)
	}
	env.loop.WaitIdle()

	got := env.mustGet(t, task.ID)
	if got.Progress != 90 {
		t.Errorf("progress = %d, want 90 after concurrent reports", got.Progress)
	}
}
