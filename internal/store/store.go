package store

import (
	"context"
	"errors"
	"time"

	"github.com/me/opsched/pkg/model"
)

// ErrTaskRunning is returned when an operation is refused because the task is
// actively running (e.g. delete).
var ErrTaskRunning = errors.New("task is running")

// TaskStore defines the persistence layer the scheduler reads and writes.
// Implementations must enforce terminal-state precedence: once a task row is
// in a terminal status, an update that would change its status is rejected
// with *model.InvalidTransitionError, except for transitions the state
// machine still allows (the FAILED -> PENDING retry grant). That guard is what keeps the dispatcher
// and the timeout monitor from overwriting each other's terminal writes.
type TaskStore interface {
	// Task lifecycle
	CreateTask(ctx context.Context, task *model.Task) error
	GetTask(ctx context.Context, id string) (*model.Task, error)
	ListTasks(ctx context.Context, opts model.ListOptions) ([]*model.Task, int, error)
	UpdateTask(ctx context.Context, task *model.Task) error
	DeleteTask(ctx context.Context, id string) error

	// Scheduler queries
	FindPending(ctx context.Context) ([]*model.Task, error) // priority desc, creation asc
	FindQueued(ctx context.Context) ([]*model.Task, error)
	FindRunning(ctx context.Context) ([]*model.Task, error)
	CountByStatus(ctx context.Context, status model.TaskStatus) (int64, error)
	Stats(ctx context.Context) (*model.TaskStats, error)

	// Task logs (append-only)
	AppendLog(ctx context.Context, entry *model.TaskLog) error
	ListLogs(ctx context.Context, taskID string) ([]*model.TaskLog, error)
	PruneLogs(ctx context.Context, before time.Time) (int64, error)

	// Task artifacts (pass-through records)
	CreateArtifact(ctx context.Context, artifact *model.TaskArtifact) error
	ListArtifacts(ctx context.Context, taskID string) ([]*model.TaskArtifact, error)

	// Lifecycle
	Close() error
	Migrate(ctx context.Context) error
}
