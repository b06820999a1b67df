package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/me/opsched/internal/store"
	"github.com/me/opsched/pkg/model"
)

// handleCreateTask registers a new task in PENDING state.
// POST /api/v1/tasks
func (s *Server) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())

	var req model.CreateTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, reqID, http.StatusBadRequest, model.NewValidationError("invalid JSON body: "+err.Error()))
		return
	}
	if req.Name == "" {
		respondError(w, reqID, http.StatusBadRequest, model.NewValidationError("name is required"))
		return
	}
	if !req.Type.Valid() {
		respondError(w, reqID, http.StatusBadRequest, model.NewValidationError("type must be operator_execution or package_execution"))
		return
	}
	if req.UserID == "" {
		respondError(w, reqID, http.StatusBadRequest, model.NewValidationError("user_id is required"))
		return
	}

	timeoutSeconds := s.config.Scheduler.DefaultTimeoutSeconds
	if req.TimeoutSeconds != nil {
		if *req.TimeoutSeconds <= 0 {
			respondError(w, reqID, http.StatusBadRequest, model.NewValidationError("timeout_seconds must be positive"))
			return
		}
		timeoutSeconds = *req.TimeoutSeconds
	}
	maxRetries := s.config.Scheduler.DefaultMaxRetries
	if req.MaxRetries != nil {
		if *req.MaxRetries < 0 {
			respondError(w, reqID, http.StatusBadRequest, model.NewValidationError("max_retries must be >= 0"))
			return
		}
		maxRetries = *req.MaxRetries
	}

	task := &model.Task{
		ID:                "task_" + uuid.NewString(),
		Name:              req.Name,
		Type:              req.Type,
		OperatorID:        req.OperatorID,
		PackageID:         req.PackageID,
		OperatorVersionID: req.OperatorVersionID,
		PackageVersionID:  req.PackageVersionID,
		UserID:            req.UserID,
		Status:            model.TaskStatusPending,
		Priority:          req.Priority,
		InputParams:       req.InputParams,
		MaxRetries:        maxRetries,
		TimeoutSeconds:    timeoutSeconds,
		CreatedAt:         time.Now().UTC(),
	}
	if err := s.store.CreateTask(r.Context(), task); err != nil {
		respondError(w, reqID, http.StatusInternalServerError, model.NewInternalError(err.Error()))
		return
	}

	s.logger.Info("task created", "task_id", task.ID, "type", task.Type, "priority", task.Priority, "user_id", task.UserID)
	respondCreated(w, reqID, task)
}

// handleListTasks lists tasks, newest first, with optional status and user
// filters.
// GET /api/v1/tasks?status=&user_id=&limit=&offset=
func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())

	opts := model.DefaultListOptions()
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			respondError(w, reqID, http.StatusBadRequest, model.NewValidationError("limit must be an integer"))
			return
		}
		opts.Limit = n
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			respondError(w, reqID, http.StatusBadRequest, model.NewValidationError("offset must be an integer"))
			return
		}
		opts.Offset = n
	}
	opts.Status = r.URL.Query().Get("status")
	opts.UserID = r.URL.Query().Get("user_id")
	opts.Clamp()

	tasks, total, err := s.store.ListTasks(r.Context(), opts)
	if err != nil {
		respondError(w, reqID, http.StatusInternalServerError, model.NewInternalError(err.Error()))
		return
	}

	respondList(w, reqID, tasks, &model.Pagination{
		Total:   total,
		Limit:   opts.Limit,
		Offset:  opts.Offset,
		HasMore: opts.Offset+len(tasks) < total,
	})
}

// handleGetTask returns one task.
// GET /api/v1/tasks/{id}
func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())

	task, ok := s.loadTask(w, r, reqID)
	if !ok {
		return
	}
	respondOK(w, reqID, task)
}

// handleCancelTask cancels a task that has not started running yet.
// PUT /api/v1/tasks/{id}/cancel
func (s *Server) handleCancelTask(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())

	task, ok := s.loadTask(w, r, reqID)
	if !ok {
		return
	}
	if task.Status != model.TaskStatusPending && task.Status != model.TaskStatusQueued {
		respondError(w, reqID, http.StatusConflict,
			model.NewConflictError("only pending or queued tasks can be cancelled, task is "+string(task.Status)))
		return
	}

	now := time.Now().UTC()
	task.Status = model.TaskStatusCancelled
	task.CompletedAt = &now
	if err := s.store.UpdateTask(r.Context(), task); err != nil {
		var invalid *model.InvalidTransitionError
		if errors.As(err, &invalid) {
			respondError(w, reqID, http.StatusConflict, model.NewConflictError(err.Error()))
			return
		}
		respondError(w, reqID, http.StatusInternalServerError, model.NewInternalError(err.Error()))
		return
	}
	if err := s.queue.Remove(r.Context(), task.ID); err != nil {
		s.logger.Warn("remove cancelled task from queue", "task_id", task.ID, "error", err)
	}

	s.logger.Info("task cancelled", "task_id", task.ID)
	s.hub.BroadcastCompletion(task.ID, false, nil, "task cancelled")
	respondOK(w, reqID, task)
}

// handleRetryTask creates a fresh copy of a failed or timed-out task. The
// copy starts over with a zero retry count.
// POST /api/v1/tasks/{id}/retry
func (s *Server) handleRetryTask(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())

	task, ok := s.loadTask(w, r, reqID)
	if !ok {
		return
	}
	if task.Status != model.TaskStatusFailed && task.Status != model.TaskStatusTimeout {
		respondError(w, reqID, http.StatusConflict,
			model.NewConflictError("only failed or timed-out tasks can be retried, task is "+string(task.Status)))
		return
	}

	retry := &model.Task{
		ID:                "task_" + uuid.NewString(),
		Name:              task.Name + " (Retry)",
		Type:              task.Type,
		OperatorID:        task.OperatorID,
		PackageID:         task.PackageID,
		OperatorVersionID: task.OperatorVersionID,
		PackageVersionID:  task.PackageVersionID,
		UserID:            task.UserID,
		Status:            model.TaskStatusPending,
		Priority:          task.Priority,
		InputParams:       task.InputParams,
		MaxRetries:        task.MaxRetries,
		TimeoutSeconds:    task.TimeoutSeconds,
		CreatedAt:         time.Now().UTC(),
	}
	if err := s.store.CreateTask(r.Context(), retry); err != nil {
		respondError(w, reqID, http.StatusInternalServerError, model.NewInternalError(err.Error()))
		return
	}

	s.logger.Info("task retried", "task_id", task.ID, "retry_task_id", retry.ID)
	respondCreated(w, reqID, retry)
}

// handleDeleteTask removes a task and its logs and artifacts. Running tasks
// cannot be deleted.
// DELETE /api/v1/tasks/{id}
func (s *Server) handleDeleteTask(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())

	task, ok := s.loadTask(w, r, reqID)
	if !ok {
		return
	}

	if err := s.store.DeleteTask(r.Context(), task.ID); err != nil {
		if errors.Is(err, store.ErrTaskRunning) {
			respondError(w, reqID, http.StatusConflict, model.NewConflictError("running tasks cannot be deleted"))
			return
		}
		respondError(w, reqID, http.StatusInternalServerError, model.NewInternalError(err.Error()))
		return
	}
	if err := s.queue.Remove(r.Context(), task.ID); err != nil {
		s.logger.Warn("remove deleted task from queue", "task_id", task.ID, "error", err)
	}

	s.logger.Info("task deleted", "task_id", task.ID)
	respondOK(w, reqID, map[string]string{"id": task.ID, "deleted": "true"})
}

// handleGetTaskLogs returns the persisted log lines for a task, oldest first.
// GET /api/v1/tasks/{id}/logs
func (s *Server) handleGetTaskLogs(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())

	task, ok := s.loadTask(w, r, reqID)
	if !ok {
		return
	}
	logs, err := s.store.ListLogs(r.Context(), task.ID)
	if err != nil {
		respondError(w, reqID, http.StatusInternalServerError, model.NewInternalError(err.Error()))
		return
	}
	respondOK(w, reqID, logs)
}

// handleGetTaskArtifacts returns the artifacts recorded for a task.
// GET /api/v1/tasks/{id}/artifacts
func (s *Server) handleGetTaskArtifacts(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())

	task, ok := s.loadTask(w, r, reqID)
	if !ok {
		return
	}
	artifacts, err := s.store.ListArtifacts(r.Context(), task.ID)
	if err != nil {
		respondError(w, reqID, http.StatusInternalServerError, model.NewInternalError(err.Error()))
		return
	}
	respondOK(w, reqID, artifacts)
}

// handleTaskStats returns task counts grouped by status.
// GET /api/v1/tasks/stats
func (s *Server) handleTaskStats(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())

	stats, err := s.store.Stats(r.Context())
	if err != nil {
		respondError(w, reqID, http.StatusInternalServerError, model.NewInternalError(err.Error()))
		return
	}
	respondOK(w, reqID, stats)
}

// loadTask fetches the task in the URL, writing the error response itself
// when the task cannot be served.
func (s *Server) loadTask(w http.ResponseWriter, r *http.Request, reqID string) (*model.Task, bool) {
	id := chi.URLParam(r, "id")
	task, err := s.store.GetTask(r.Context(), id)
	if err != nil {
		respondError(w, reqID, http.StatusInternalServerError, model.NewInternalError(err.Error()))
		return nil, false
	}
	if task == nil {
		respondError(w, reqID, http.StatusNotFound, model.NewNotFoundError("task", id))
		return nil, false
	}
	return task, true
}
