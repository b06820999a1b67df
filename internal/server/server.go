// Package server exposes the scheduler over a JSON REST API plus an SSE
// stream per task for live progress and log output.
package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/me/opsched/internal/broadcast"
	"github.com/me/opsched/internal/config"
	"github.com/me/opsched/internal/queue"
	"github.com/me/opsched/internal/scheduler"
	"github.com/me/opsched/internal/store"
)

// Server is the opsched REST API server.
type Server struct {
	router    chi.Router
	logger    *slog.Logger
	config    config.ServerConfig
	startTime time.Time
	store     store.TaskStore
	queue     queue.Queue
	hub       *broadcast.Hub
	scheduler scheduler.Scheduler
}

// New creates a Server with all routes registered.
// sched may be nil if no scheduling is desired (e.g. in tests).
func New(cfg config.ServerConfig, st store.TaskStore, q queue.Queue, hub *broadcast.Hub, sched scheduler.Scheduler, logger *slog.Logger) *Server {
	s := &Server{
		router:    chi.NewRouter(),
		logger:    logger.With("component", "server"),
		config:    cfg,
		startTime: time.Now(),
		store:     st,
		queue:     q,
		hub:       hub,
		scheduler: sched,
	}
	s.routes()
	return s
}

// StartScheduler begins the scheduling loops in a background goroutine.
func (s *Server) StartScheduler(ctx context.Context) {
	if s.scheduler == nil {
		return
	}
	go func() {
		if err := s.scheduler.Start(ctx); err != nil && err != context.Canceled {
			s.logger.Error("scheduler stopped", "error", err)
		}
	}()
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Handler returns the http.Handler for this server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() {
	r := s.router

	// Global middleware
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(s.logger))

	r.Route("/api/v1", func(r chi.Router) {
		// Health
		r.Get("/health", s.handleHealth)

		// Tasks
		r.Route("/tasks", func(r chi.Router) {
			r.Get("/", s.handleListTasks)
			r.Post("/", s.handleCreateTask)
			r.Get("/stats", s.handleTaskStats)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handleGetTask)
				r.Delete("/", s.handleDeleteTask)
				r.Put("/cancel", s.handleCancelTask)
				r.Post("/retry", s.handleRetryTask)
				r.Get("/logs", s.handleGetTaskLogs)
				r.Get("/artifacts", s.handleGetTaskArtifacts)
			})
		})

		// Queue diagnostics
		r.Get("/queue", s.handleQueueInfo)

		// Per-task live stream
		r.Route("/stream/tasks/{id}", func(r chi.Router) {
			r.Get("/", s.handleStreamTask)
			r.Post("/ping", s.handleStreamPing)
		})
	})
}
