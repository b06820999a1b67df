package executor

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sync"

	"github.com/google/uuid"

	"github.com/me/opsched/pkg/model"
)

// LocalExecutor runs tasks as local OS processes. The command is taken from
// the task's input parameters: "command" (string) and optional "args"
// (list of strings).
type LocalExecutor struct {
	taskType model.TaskType
	workDir  string
	logger   *slog.Logger

	mu      sync.Mutex
	running map[string]context.CancelFunc
}

// NewLocalExecutor creates a LocalExecutor for the given task type, rooted at
// workDir. If workDir is empty, os.TempDir() is used.
func NewLocalExecutor(taskType model.TaskType, workDir string, logger *slog.Logger) *LocalExecutor {
	if workDir == "" {
		workDir = os.TempDir()
	}
	return &LocalExecutor{
		taskType: taskType,
		workDir:  workDir,
		logger:   logger.With("component", "local-executor", "task_type", taskType),
		running:  make(map[string]context.CancelFunc),
	}
}

// Type returns the task type this executor handles.
func (e *LocalExecutor) Type() model.TaskType {
	return e.taskType
}

// Execute runs the task's command as a child process, streaming its output
// through the reporter line by line. Files the command leaves in its working
// directory are returned as artifacts.
func (e *LocalExecutor) Execute(ctx context.Context, task *model.Task, rep Reporter) (*model.ExecutionResult, error) {
	taskDir := filepath.Join(e.workDir, task.ID)
	if err := os.MkdirAll(taskDir, 0o755); err != nil {
		return nil, fmt.Errorf("task %s: create work dir: %w", task.ID, err)
	}

	parts := commandFromParams(task.InputParams)
	if len(parts) == 0 {
		return model.FailureResult("input parameters missing command"), nil
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	e.track(task.ID, cancel)
	defer e.untrack(task.ID)

	cmd := exec.CommandContext(runCtx, parts[0], parts[1:]...)
	cmd.Dir = taskDir

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("task %s: stdout pipe: %w", task.ID, err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("task %s: stderr pipe: %w", task.ID, err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("task %s: start command: %w", task.ID, err)
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go e.streamLines(&wg, stdout, task.ID, model.LogLevelInfo, "stdout", rep)
	go e.streamLines(&wg, stderr, task.ID, model.LogLevelWarn, "stderr", rep)
	wg.Wait()

	runErr := cmd.Wait()

	var exitCode int
	switch err := runErr.(type) {
	case nil:
		exitCode = 0
	case *exec.ExitError:
		exitCode = err.ExitCode()
	default:
		return nil, fmt.Errorf("task %s: run command: %w", task.ID, runErr)
	}

	result := &model.ExecutionResult{
		Success:    exitCode == 0,
		ExitCode:   &exitCode,
		OutputData: map[string]any{"exitCode": exitCode},
		Artifacts:  collectArtifacts(task.ID, taskDir),
	}
	if exitCode != 0 {
		result.ErrorMessage = fmt.Sprintf("command exited with code %d", exitCode)
	}

	e.logger.Debug("command finished", "task_id", task.ID, "exit_code", exitCode)
	return result, nil
}

// Cleanup removes the task's working directory.
func (e *LocalExecutor) Cleanup(_ context.Context, task *model.Task) error {
	taskDir := filepath.Join(e.workDir, task.ID)
	if err := os.RemoveAll(taskDir); err != nil {
		return fmt.Errorf("task %s: remove work dir: %w", task.ID, err)
	}
	return nil
}

// Cancel signals a running execution to stop. It returns true when a running
// process was found.
func (e *LocalExecutor) Cancel(_ context.Context, task *model.Task) (bool, error) {
	e.mu.Lock()
	cancel, ok := e.running[task.ID]
	e.mu.Unlock()
	if !ok {
		return false, nil
	}
	cancel()
	e.logger.Info("execution cancelled", "task_id", task.ID)
	return true, nil
}

func (e *LocalExecutor) track(taskID string, cancel context.CancelFunc) {
	e.mu.Lock()
	e.running[taskID] = cancel
	e.mu.Unlock()
}

func (e *LocalExecutor) untrack(taskID string) {
	e.mu.Lock()
	delete(e.running, taskID)
	e.mu.Unlock()
}

func (e *LocalExecutor) streamLines(wg *sync.WaitGroup, r io.Reader, taskID string, level model.LogLevel, source string, rep Reporter) {
	defer wg.Done()
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		if rep != nil {
			rep.Log(taskID, level, source, scanner.Text())
		}
	}
}

// commandFromParams extracts the command line from the task's input
// parameters. Args entries that are not strings are ignored.
func commandFromParams(params map[string]any) []string {
	if params == nil {
		return nil
	}
	command, ok := params["command"].(string)
	if !ok || command == "" {
		return nil
	}
	parts := []string{command}
	if args, ok := params["args"].([]any); ok {
		for _, a := range args {
			if s, ok := a.(string); ok {
				parts = append(parts, s)
			}
		}
	}
	return parts
}

// collectArtifacts lists regular files left in the task work directory.
func collectArtifacts(taskID, taskDir string) []model.TaskArtifact {
	var artifacts []model.TaskArtifact
	_ = filepath.WalkDir(taskDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		artifacts = append(artifacts, model.TaskArtifact{
			ID:        uuid.NewString(),
			TaskID:    taskID,
			Name:      d.Name(),
			Type:      "file",
			FilePath:  path,
			Size:      info.Size(),
			CreatedAt: info.ModTime().UTC(),
		})
		return nil
	})
	return artifacts
}
