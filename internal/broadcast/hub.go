// Package broadcast fans task progress and log events out to stream
// observers. Each task has at most one observer; a new connection for the
// same task replaces the previous one.
package broadcast

import (
	"log/slog"
	"sync"

	"github.com/me/opsched/pkg/model"
)

// eventBuffer bounds how many undelivered events a slow observer may hold
// before further events are dropped.
const eventBuffer = 32

// Subscription is one observer's attachment to a task's event stream. The
// Events channel is closed when the subscription is replaced by a newer
// observer or deregistered.
type Subscription struct {
	TaskID string
	Events chan model.StreamEvent

	closeOnce sync.Once
}

func (s *Subscription) close() {
	s.closeOnce.Do(func() { close(s.Events) })
}

// Hub routes task events to their observers. Broadcasting to a task without
// an observer is a silent no-op, and a slow observer loses events rather
// than blocking the scheduler.
type Hub struct {
	logger *slog.Logger

	mu        sync.Mutex
	observers map[string]*Subscription
}

// NewHub creates an empty Hub.
func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		logger:    logger.With("component", "broadcast-hub"),
		observers: make(map[string]*Subscription),
	}
}

// Register attaches an observer to the task's stream. Any existing observer
// for the same task is replaced and its channel closed. The new observer
// receives a welcome event first.
func (h *Hub) Register(taskID string) *Subscription {
	sub := &Subscription{
		TaskID: taskID,
		Events: make(chan model.StreamEvent, eventBuffer),
	}

	h.mu.Lock()
	if old, ok := h.observers[taskID]; ok {
		old.close()
		h.logger.Debug("observer replaced", "task_id", taskID)
	}
	h.observers[taskID] = sub
	sub.Events <- model.NewWelcomeEvent(taskID)
	h.mu.Unlock()

	h.logger.Debug("observer registered", "task_id", taskID)
	return sub
}

// Deregister detaches a subscription. A subscription that was already
// replaced by a newer observer is left alone.
func (h *Hub) Deregister(sub *Subscription) {
	h.mu.Lock()
	if current, ok := h.observers[sub.TaskID]; ok && current == sub {
		delete(h.observers, sub.TaskID)
	}
	h.mu.Unlock()
	sub.close()
}

// ObserverCount returns the number of attached observers.
func (h *Hub) ObserverCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.observers)
}

// Ping sends a pong event to the task's observer. It returns false when no
// observer is attached.
func (h *Hub) Ping(taskID string) bool {
	return h.send(model.NewPongEvent(taskID))
}

// BroadcastLog sends a log line to the task's observer.
func (h *Hub) BroadcastLog(taskID string, level model.LogLevel, source, message string) {
	h.send(model.NewLogEvent(taskID, level, source, message))
}

// BroadcastProgress sends a progress update to the task's observer.
func (h *Hub) BroadcastProgress(taskID string, progress int, message string) {
	h.send(model.NewProgressEvent(taskID, progress, message))
}

// BroadcastCompletion sends the terminal outcome to the task's observer.
func (h *Hub) BroadcastCompletion(taskID string, success bool, output map[string]any, errorMessage string) {
	h.send(model.NewCompletionEvent(taskID, success, output, errorMessage))
}

// send delivers an event to the task's observer without blocking. Events to
// tasks without an observer, or to an observer with a full buffer, are
// dropped. It reports whether an observer was attached.
func (h *Hub) send(ev model.StreamEvent) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	sub, ok := h.observers[ev.TaskID]
	if !ok {
		return false
	}
	select {
	case sub.Events <- ev:
	default:
		h.logger.Warn("observer buffer full, dropping event", "task_id", ev.TaskID, "type", ev.Type)
	}
	return true
}
