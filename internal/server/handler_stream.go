package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/me/opsched/pkg/model"
)

// streamHeartbeat is the cadence of SSE comment lines that keep idle
// connections alive through proxies.
const streamHeartbeat = 15 * time.Second

// handleStreamTask streams a task's live events via Server-Sent Events.
// Each task carries at most one observer; connecting replaces any previous
// observer for the same task. The first event is always the welcome
// acknowledgment.
// GET /api/v1/stream/tasks/{id}
func (s *Server) handleStreamTask(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())

	task, ok := s.loadTask(w, r, reqID)
	if !ok {
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		respondError(w, reqID, http.StatusInternalServerError, model.NewInternalError("streaming not supported"))
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering

	sub := s.hub.Register(task.ID)
	defer s.hub.Deregister(sub)
	s.logger.Info("stream observer attached", "task_id", task.ID, "request_id", reqID)

	ticker := time.NewTicker(streamHeartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			s.logger.Debug("stream observer disconnected", "task_id", task.ID)
			return
		case ev, open := <-sub.Events:
			if !open {
				// Replaced by a newer observer for this task.
				s.logger.Debug("stream observer replaced", "task_id", task.ID)
				return
			}
			if err := sendStreamEvent(w, flusher, ev); err != nil {
				s.logger.Debug("stream write failed", "task_id", task.ID, "error", err)
				return
			}
		case <-ticker.C:
			fmt.Fprintf(w, ": heartbeat\n\n")
			flusher.Flush()
		}
	}
}

// handleStreamPing delivers a liveness ping to the task's stream; the pong
// comes back on the stream itself.
// POST /api/v1/stream/tasks/{id}/ping
func (s *Server) handleStreamPing(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())

	task, ok := s.loadTask(w, r, reqID)
	if !ok {
		return
	}

	delivered := s.hub.Ping(task.ID)
	respondOK(w, reqID, map[string]bool{"delivered": delivered})
}

func sendStreamEvent(w http.ResponseWriter, flusher http.Flusher, ev model.StreamEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, data); err != nil {
		return err
	}
	flusher.Flush()
	return nil
}
