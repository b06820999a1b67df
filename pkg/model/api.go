package model

import "time"

// Response is the standard API response envelope.
type Response struct {
	Status     string      `json:"status"`
	RequestID  string      `json:"request_id"`
	Timestamp  time.Time   `json:"timestamp"`
	Data       any         `json:"data"`
	Pagination *Pagination `json:"pagination,omitempty"`
	Error      *APIError   `json:"error"`
}

// Pagination holds pagination metadata for list endpoints.
type Pagination struct {
	Total   int  `json:"total"`
	Limit   int  `json:"limit"`
	Offset  int  `json:"offset"`
	HasMore bool `json:"has_more"`
}

// ListOptions configures list queries with pagination and filtering.
type ListOptions struct {
	Limit  int
	Offset int
	Status string // Optional status filter
	UserID string // Optional owner filter
}

// DefaultListOptions returns sensible defaults.
func DefaultListOptions() ListOptions {
	return ListOptions{Limit: 20, Offset: 0}
}

// Clamp enforces limits (max 100, min 1).
func (o *ListOptions) Clamp() {
	if o.Limit <= 0 {
		o.Limit = 20
	}
	if o.Limit > 100 {
		o.Limit = 100
	}
	if o.Offset < 0 {
		o.Offset = 0
	}
}

// TaskStats summarizes task counts by status.
type TaskStats struct {
	Total     int64 `json:"total"`
	Pending   int64 `json:"pending"`
	Queued    int64 `json:"queued"`
	Running   int64 `json:"running"`
	Success   int64 `json:"success"`
	Failed    int64 `json:"failed"`
	Timeout   int64 `json:"timeout"`
	Cancelled int64 `json:"cancelled"`
}

// CreateTaskRequest is the payload for task creation.
type CreateTaskRequest struct {
	Name              string         `json:"name"`
	Type              TaskType       `json:"type"`
	OperatorID        string         `json:"operator_id,omitempty"`
	PackageID         string         `json:"package_id,omitempty"`
	OperatorVersionID string         `json:"operator_version_id,omitempty"`
	PackageVersionID  string         `json:"package_version_id,omitempty"`
	UserID            string         `json:"user_id"`
	Priority          int            `json:"priority"`
	InputParams       map[string]any `json:"input_params,omitempty"`
	MaxRetries        *int           `json:"max_retries,omitempty"`
	TimeoutSeconds    *int           `json:"timeout_seconds,omitempty"`
}
