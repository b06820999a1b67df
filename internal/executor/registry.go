package executor

import (
	"fmt"
	"log/slog"

	"github.com/me/opsched/pkg/model"
)

// Registry maps TaskType values to their Executor implementations.
// Registration happens at startup before concurrent access, so no mutex is needed.
type Registry struct {
	executors map[model.TaskType]Executor
	logger    *slog.Logger
}

// NewRegistry creates an empty Registry.
func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		executors: make(map[model.TaskType]Executor),
		logger:    logger.With("component", "executor-registry"),
	}
}

// Register adds an Executor to the registry, keyed by its Type().
func (r *Registry) Register(exec Executor) {
	t := exec.Type()
	r.executors[t] = exec
	r.logger.Info("executor registered", "type", t)
}

// Get returns the Executor for the given task type or an error if none is
// registered.
func (r *Registry) Get(t model.TaskType) (Executor, error) {
	exec, ok := r.executors[t]
	if !ok {
		return nil, fmt.Errorf("no executor registered for task type %q", t)
	}
	return exec, nil
}
