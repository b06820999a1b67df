package queue

import (
	"context"
	"fmt"
	"testing"
)

func TestMemoryQueue_DequeueOrder(t *testing.T) {
	ctx := context.Background()
	q := NewMemoryQueue()

	// Enqueued with priorities [5, 1, 5, 3]: expected dequeue order is
	// priority descending with insertion order breaking the 5/5 tie.
	ids := []struct {
		id       string
		priority int
	}{
		{"task-a", 5},
		{"task-b", 1},
		{"task-c", 5},
		{"task-d", 3},
	}
	for _, e := range ids {
		if err := q.Enqueue(ctx, e.id, e.priority); err != nil {
			t.Fatalf("Enqueue(%s): %v", e.id, err)
		}
	}

	want := []string{"task-a", "task-c", "task-d", "task-b"}
	for i, wantID := range want {
		id, ok, err := q.DequeueHighest(ctx)
		if err != nil {
			t.Fatalf("DequeueHighest #%d: %v", i, err)
		}
		if !ok {
			t.Fatalf("DequeueHighest #%d: queue unexpectedly empty", i)
		}
		if id != wantID {
			t.Errorf("dequeue #%d = %s, want %s", i, id, wantID)
		}
	}
}

func TestMemoryQueue_EmptyDequeue(t *testing.T) {
	ctx := context.Background()
	q := NewMemoryQueue()

	id, ok, err := q.DequeueHighest(ctx)
	if err != nil {
		t.Fatalf("DequeueHighest on empty queue: %v", err)
	}
	if ok || id != "" {
		t.Errorf("DequeueHighest on empty queue = (%q, %v), want (\"\", false)", id, ok)
	}
}

func TestMemoryQueue_RemoveIdempotent(t *testing.T) {
	ctx := context.Background()
	q := NewMemoryQueue()

	if err := q.Enqueue(ctx, "task-1", 10); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if err := q.Remove(ctx, "task-1"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	// Removing again and removing an identifier that was never queued must
	// both succeed trivially.
	if err := q.Remove(ctx, "task-1"); err != nil {
		t.Errorf("second Remove: %v", err)
	}
	if err := q.Remove(ctx, "never-queued"); err != nil {
		t.Errorf("Remove of absent id: %v", err)
	}

	if n, _ := q.Size(ctx); n != 0 {
		t.Errorf("Size = %d, want 0", n)
	}
}

func TestMemoryQueue_ReEnqueueKeepsSingleEntry(t *testing.T) {
	ctx := context.Background()
	q := NewMemoryQueue()

	if err := q.Enqueue(ctx, "task-1", 1); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if err := q.Enqueue(ctx, "task-1", 9); err != nil {
		t.Fatalf("re-Enqueue: %v", err)
	}
	if err := q.Enqueue(ctx, "task-2", 5); err != nil {
		t.Fatalf("Enqueue task-2: %v", err)
	}

	if n, _ := q.Size(ctx); n != 2 {
		t.Fatalf("Size = %d, want 2", n)
	}

	// task-1's priority was raised to 9, so it comes out first.
	id, ok, _ := q.DequeueHighest(ctx)
	if !ok || id != "task-1" {
		t.Errorf("first dequeue = (%q, %v), want (task-1, true)", id, ok)
	}
	if c, _ := q.Contains(ctx, "task-1"); c {
		t.Error("task-1 should no longer be in the queue after dequeue")
	}
}

func TestMemoryQueue_ContainsAndSize(t *testing.T) {
	ctx := context.Background()
	q := NewMemoryQueue()

	for i := 0; i < 5; i++ {
		if err := q.Enqueue(ctx, fmt.Sprintf("task-%d", i), i); err != nil {
			t.Fatalf("Enqueue: %v", err)
		}
	}

	if n, _ := q.Size(ctx); n != 5 {
		t.Errorf("Size = %d, want 5", n)
	}
	if c, _ := q.Contains(ctx, "task-3"); !c {
		t.Error("Contains(task-3) = false, want true")
	}
	if c, _ := q.Contains(ctx, "task-9"); c {
		t.Error("Contains(task-9) = true, want false")
	}
}
