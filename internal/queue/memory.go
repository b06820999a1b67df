package queue

import (
	"container/heap"
	"context"
	"sync"
)

// MemoryQueue is an in-process Queue backed by a binary heap. Ranking is
// priority-descending with insertion sequence as tiebreak, so equal-priority
// entries dequeue in FIFO order. All operations are safe for concurrent use;
// DequeueHighest is atomic, which makes the queue the sole arbiter of task
// ownership across dispatchers.
type MemoryQueue struct {
	mu      sync.Mutex
	entries entryHeap
	byID    map[string]*entry
	seq     uint64
}

type entry struct {
	taskID   string
	priority int
	seq      uint64 // insertion order, lower = earlier
	index    int    // heap index, -1 when removed
}

// NewMemoryQueue creates an empty in-memory priority queue.
func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{byID: make(map[string]*entry)}
}

// Enqueue inserts taskID with the given priority. An already-queued
// identifier keeps one live entry: its priority is updated and its original
// insertion order retained.
func (q *MemoryQueue) Enqueue(_ context.Context, taskID string, priority int) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if e, ok := q.byID[taskID]; ok {
		if e.priority != priority {
			e.priority = priority
			heap.Fix(&q.entries, e.index)
		}
		return nil
	}

	e := &entry{taskID: taskID, priority: priority, seq: q.seq}
	q.seq++
	q.byID[taskID] = e
	heap.Push(&q.entries, e)
	return nil
}

// DequeueHighest pops the highest-priority identifier, or ok=false when empty.
func (q *MemoryQueue) DequeueHighest(_ context.Context) (string, bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.entries.Len() == 0 {
		return "", false, nil
	}
	e := heap.Pop(&q.entries).(*entry)
	delete(q.byID, e.taskID)
	return e.taskID, true, nil
}

// Remove deletes taskID if present.
func (q *MemoryQueue) Remove(_ context.Context, taskID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	e, ok := q.byID[taskID]
	if !ok {
		return nil
	}
	heap.Remove(&q.entries, e.index)
	delete(q.byID, taskID)
	return nil
}

// Contains reports whether taskID has a live entry.
func (q *MemoryQueue) Contains(_ context.Context, taskID string) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	_, ok := q.byID[taskID]
	return ok, nil
}

// Size returns the number of live entries.
func (q *MemoryQueue) Size(_ context.Context) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.entries.Len(), nil
}

// entryHeap implements heap.Interface ordered highest-priority-first,
// earliest-inserted-first among equals.
type entryHeap []*entry

func (h entryHeap) Len() int { return len(h) }

func (h entryHeap) Less(i, j int) bool {
	if h[i].priority != h[j].priority {
		return h[i].priority > h[j].priority
	}
	return h[i].seq < h[j].seq
}

func (h entryHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *entryHeap) Push(x any) {
	e := x.(*entry)
	e.index = len(*h)
	*h = append(*h, e)
}

func (h *entryHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*h = old[:n-1]
	return e
}
