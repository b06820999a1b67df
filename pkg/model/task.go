package model

import (
	"time"
)

// Task is one schedulable unit of work tied to an operator or package execution.
type Task struct {
	ID   string   `json:"id"`
	Name string   `json:"name"`
	Type TaskType `json:"type"`

	// References into the operator/package catalog. Opaque to the scheduler;
	// the Executor resolves them.
	OperatorID        string `json:"operator_id,omitempty"`
	PackageID         string `json:"package_id,omitempty"`
	OperatorVersionID string `json:"operator_version_id,omitempty"`
	PackageVersionID  string `json:"package_version_id,omitempty"`

	UserID string     `json:"user_id"`
	Status TaskStatus `json:"status"`

	// Priority: higher value = dispatched first. Ties break on creation order.
	Priority int `json:"priority"`

	InputParams map[string]any `json:"input_params,omitempty"`
	OutputData  map[string]any `json:"output_data,omitempty"`

	// Progress is 0-100 and monotonic within a single execution attempt.
	Progress int `json:"progress"`

	ErrorMessage   string `json:"error_message,omitempty"`
	RetryCount     int    `json:"retry_count"`
	MaxRetries     int    `json:"max_retries"`
	TimeoutSeconds int    `json:"timeout_seconds"`

	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// TimedOut reports whether the task's wall-clock execution time has exceeded
// its configured timeout at the given instant. False when the task has not
// started or carries no timeout.
func (t *Task) TimedOut(now time.Time) bool {
	if t.StartedAt == nil || t.TimeoutSeconds <= 0 {
		return false
	}
	return now.Sub(*t.StartedAt) > time.Duration(t.TimeoutSeconds)*time.Second
}

// DurationSeconds returns elapsed execution seconds: completed minus started
// when both are set, started to now for a task still running, nil otherwise.
func (t *Task) DurationSeconds(now time.Time) *int64 {
	if t.StartedAt == nil {
		return nil
	}
	end := now
	if t.CompletedAt != nil {
		end = *t.CompletedAt
	}
	secs := int64(end.Sub(*t.StartedAt).Seconds())
	return &secs
}

// TaskLog is an immutable, append-only record of one event in a task's
// execution. Never mutated after creation.
type TaskLog struct {
	ID        string    `json:"id"`
	TaskID    string    `json:"task_id"`
	Level     LogLevel  `json:"level"`
	Message   string    `json:"message"`
	Source    string    `json:"source,omitempty"`
	Trace     string    `json:"trace,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// TaskArtifact is an immutable reference to a named output produced by
// execution. The scheduler only passes these through; the Executor owns
// their content.
type TaskArtifact struct {
	ID          string    `json:"id"`
	TaskID      string    `json:"task_id"`
	Name        string    `json:"name"`
	Type        string    `json:"type,omitempty"`
	FilePath    string    `json:"file_path,omitempty"`
	Size        int64     `json:"size"`
	ContentType string    `json:"content_type,omitempty"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}
