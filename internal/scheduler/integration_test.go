package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/me/opsched/internal/executor"
	"github.com/me/opsched/pkg/model"
)

// TestLifecycle_EndToEnd walks a task through the full happy path and checks
// what an attached observer sees along the way.
func TestLifecycle_EndToEnd(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.exec.execute = func(_ context.Context, task *model.Task, rep executor.Reporter) (*model.ExecutionResult, error) {
		rep.Progress(task.ID, 50)
		return model.SuccessResult(map[string]any{"status": "success"}), nil
	}

	task := env.createTask(t, 10, 0)
	sub := env.hub.Register(task.ID)
	defer env.hub.Deregister(sub)

	if err := env.loop.PollTick(ctx); err != nil {
		t.Fatalf("PollTick: %v", err)
	}
	if got := env.mustGet(t, task.ID); got.Status != model.TaskStatusQueued {
		t.Fatalf("after poll: status = %q, want QUEUED", got.Status)
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
	if got.OutputData["status"] != "success" {
		t.Errorf("output = %v", got.OutputData)
	}
	if got.StartedAt == nil || got.CompletedAt == nil || got.CompletedAt.Before(*got.StartedAt) {
		t.Errorf("timestamps: started=%v completed=%v", got.StartedAt, got.CompletedAt)
	}

	// The observer saw the welcome first, then progress, then completion.
	var types []model.StreamEventType
	var sawCompletion bool
drain:
	for {
		select {
		case ev := <-sub.Events:
			types = append(types, ev.Type)
			if ev.Type == model.StreamEventCompletion {
				if ev.Success == nil || !*ev.Success {
					t.Errorf("completion success = %v, want true", ev.Success)
				}
				sawCompletion = true
			}
			if ev.Timestamp == 0 {
				t.Errorf("%s event has zero timestamp", ev.Type)
			}
		case <-time.After(100 * time.Millisecond):
			break drain
		}
	}

	if len(types) == 0 || types[0] != model.StreamEventWelcome {
		t.Errorf("event order = %v, want welcome first", types)
	}
	if !sawCompletion {
		t.Errorf("no completion event seen, got %v", types)
	}
}

// TestLifecycle_RetryThenSuccess fails the first attempt and succeeds on the
// retry.
func TestLifecycle_RetryThenSuccess(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	attempts := 0
	env.exec.execute = func(_ context.Context, task *model.Task, _ executor.Reporter) (*model.ExecutionResult, error) {
		attempts++
		if attempts == 1 {
			return model.FailureResult("transient"), nil
		}
		return model.SuccessResult(nil), nil
	}

	task := env.createTask(t, 5, 3)

	for tick := 0; tick < 2; tick++ {
		if err := env.loop.PollTick(ctx); err != nil {
			t.Fatalf("PollTick: %v", err)
		}
		if err := env.loop.DispatchTick(ctx); err != nil {
			t.Fatalf("DispatchTick: %v", err)
		}
		env.loop.WaitIdle()
	}

	got := env.mustGet(t, task.ID)
	if got.Status != model.TaskStatusSuccess {
		t.Fatalf("status = %q, want SUCCESS after retry", got.Status)
	}
	if got.RetryCount != 1 {
		t.Errorf("retry_count = %d, want 1", got.RetryCount)
	}
	if attempts != 2 {
		t.Errorf("attempts = %d, want 2", attempts)
	}
}
