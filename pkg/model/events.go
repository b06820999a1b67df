package model

import "time"

// StreamEventType discriminates the payloads carried on a task's live channel.
type StreamEventType string

const (
	StreamEventWelcome    StreamEventType = "welcome"
	StreamEventLog        StreamEventType = "log"
	StreamEventProgress   StreamEventType = "progress"
	StreamEventCompletion StreamEventType = "completion"
	StreamEventPong       StreamEventType = "pong"
)

// StreamEvent is one message on a task's live channel. Timestamps are epoch
// milliseconds, matching the wire contract observers expect.
type StreamEvent struct {
	Type      StreamEventType `json:"type"`
	TaskID    string          `json:"taskId"`
	Timestamp int64           `json:"timestamp"`

	// Log events.
	Level   string `json:"level,omitempty"`
	Source  string `json:"source,omitempty"`
	Message string `json:"message,omitempty"`

	// Progress events.
	Progress *int `json:"progress,omitempty"`

	// Completion events.
	Success *bool          `json:"success,omitempty"`
	Output  map[string]any `json:"output,omitempty"`
	Error   string         `json:"error,omitempty"`
}

// NowMillis returns the current time in epoch milliseconds.
func NowMillis() int64 {
	return time.Now().UnixMilli()
}

// NewLogEvent builds a log stream event.
func NewLogEvent(taskID string, level LogLevel, source, message string) StreamEvent {
	return StreamEvent{
		Type:      StreamEventLog,
		TaskID:    taskID,
		Timestamp: NowMillis(),
		Level:     string(level),
		Source:    source,
		Message:   message,
	}
}

// NewProgressEvent builds a progress stream event.
func NewProgressEvent(taskID string, progress int, message string) StreamEvent {
	return StreamEvent{
		Type:      StreamEventProgress,
		TaskID:    taskID,
		Timestamp: NowMillis(),
		Progress:  &progress,
		Message:   message,
	}
}

// NewCompletionEvent builds a completion stream event.
func NewCompletionEvent(taskID string, success bool, output map[string]any, errMsg string) StreamEvent {
	return StreamEvent{
		Type:      StreamEventCompletion,
		TaskID:    taskID,
		Timestamp: NowMillis(),
		Success:   &success,
		Output:    output,
		Error:     errMsg,
	}
}

// NewWelcomeEvent builds the acknowledgment sent when an observer attaches.
func NewWelcomeEvent(taskID string) StreamEvent {
	return StreamEvent{
		Type:      StreamEventWelcome,
		TaskID:    taskID,
		Timestamp: NowMillis(),
		Message:   "connected to task stream",
	}
}

// NewPongEvent builds the reply to a liveness ping.
func NewPongEvent(taskID string) StreamEvent {
	return StreamEvent{
		Type:      StreamEventPong,
		TaskID:    taskID,
		Timestamp: NowMillis(),
		Message:   "pong",
	}
}
