package model

// TaskStatus represents the lifecycle status of a Task.
type TaskStatus string

const (
	TaskStatusPending   TaskStatus = "PENDING"
	TaskStatusQueued    TaskStatus = "QUEUED"
	TaskStatusRunning   TaskStatus = "RUNNING"
	TaskStatusSuccess   TaskStatus = "SUCCESS"
	TaskStatusFailed    TaskStatus = "FAILED"
	TaskStatusTimeout   TaskStatus = "TIMEOUT"
	TaskStatusCancelled TaskStatus = "CANCELLED"
)

// String returns the string representation of the task status.
func (s TaskStatus) String() string {
	return string(s)
}

// IsTerminal returns true if no further automatic transition occurs from s.
// The retry policy moves a retryable failure back to PENDING before the task
// ever rests in FAILED, so a persisted FAILED status is terminal.
func (s TaskStatus) IsTerminal() bool {
	switch s {
	case TaskStatusSuccess, TaskStatusFailed, TaskStatusTimeout, TaskStatusCancelled:
		return true
	}
	return false
}

// ValidTaskTransitions defines the allowed status transitions for Tasks.
// FAILED -> PENDING is the automatic retry grant. CANCELLED is reachable
// from PENDING or QUEUED only; a running task is never cancelled in place.
var ValidTaskTransitions = map[TaskStatus][]TaskStatus{
	TaskStatusPending: {TaskStatusQueued, TaskStatusCancelled},
	TaskStatusQueued:  {TaskStatusRunning, TaskStatusCancelled},
	TaskStatusRunning: {TaskStatusSuccess, TaskStatusFailed, TaskStatusTimeout},
	TaskStatusFailed:  {TaskStatusPending},
}

// CanTransitionTo returns true if moving from the current status to next is valid.
func (s TaskStatus) CanTransitionTo(next TaskStatus) bool {
	for _, allowed := range ValidTaskTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// TaskType identifies what kind of payload a Task executes.
type TaskType string

const (
	TaskTypeOperator TaskType = "operator_execution"
	TaskTypePackage  TaskType = "package_execution"
)

// Valid returns true for a known task type.
func (t TaskType) Valid() bool {
	return t == TaskTypeOperator || t == TaskTypePackage
}

// LogLevel classifies a TaskLog entry.
type LogLevel string

const (
	LogLevelTrace LogLevel = "TRACE"
	LogLevelDebug LogLevel = "DEBUG"
	LogLevelInfo  LogLevel = "INFO"
	LogLevelWarn  LogLevel = "WARN"
	LogLevelError LogLevel = "ERROR"
)
