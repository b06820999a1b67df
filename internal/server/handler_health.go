package server

import (
	"net/http"
	"runtime"
	"time"

	"github.com/me/opsched/pkg/model"
)

type healthResponse struct {
	Status    string `json:"status"`
	Version   string `json:"version"`
	GoVersion string `json:"go_version"`
	Uptime    string `json:"uptime"`
	Scheduler string `json:"scheduler"`
	QueueSize int    `json:"queue_size"`
	Observers int    `json:"observers"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())

	size, err := s.queue.Size(r.Context())
	if err != nil {
		respondError(w, reqID, http.StatusInternalServerError, model.NewInternalError(err.Error()))
		return
	}

	schedState := "disabled"
	if s.scheduler != nil {
		schedState = "running"
	}

	respondOK(w, reqID, healthResponse{
		Status:    "healthy",
		Version:   "0.1.0",
		GoVersion: runtime.Version(),
		Uptime:    time.Since(s.startTime).Round(time.Second).String(),
		Scheduler: schedState,
		QueueSize: size,
		Observers: s.hub.ObserverCount(),
	})
}

type queueInfoResponse struct {
	Size int `json:"size"`
}

// handleQueueInfo reports queue depth for diagnostics.
// GET /api/v1/queue
func (s *Server) handleQueueInfo(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())

	size, err := s.queue.Size(r.Context())
	if err != nil {
		respondError(w, reqID, http.StatusInternalServerError, model.NewInternalError(err.Error()))
		return
	}
	respondOK(w, reqID, queueInfoResponse{Size: size})
}
