package executor

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/me/opsched/pkg/model"
)

type recordedLine struct {
	level   model.LogLevel
	source  string
	message string
}

// recordingReporter collects reported lines for assertions.
type recordingReporter struct {
	mu    sync.Mutex
	lines []recordedLine
}

func (r *recordingReporter) Progress(string, int) {}

func (r *recordingReporter) Log(_ string, level model.LogLevel, source, message string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lines = append(r.lines, recordedLine{level: level, source: source, message: message})
}

func (r *recordingReporter) bySource(source string) []recordedLine {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []recordedLine
	for _, l := range r.lines {
		if l.source == source {
			out = append(out, l)
		}
	}
	return out
}

func testLocalExecutor(t *testing.T) *LocalExecutor {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	return NewLocalExecutor(model.TaskTypeOperator, t.TempDir(), logger)
}

func shellTask(script string) *model.Task {
	return &model.Task{
		ID:   uuid.NewString(),
		Name: "shell",
		Type: model.TaskTypeOperator,
		InputParams: map[string]any{
			"command": "sh",
			"args":    []any{"-c", script},
		},
	}
}

func TestLocalExecutor_Success(t *testing.T) {
	exec := testLocalExecutor(t)
	rep := &recordingReporter{}
	task := shellTask("echo hello; echo oops >&2")

	result, err := exec.Execute(context.Background(), task, rep)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !result.Success {
		t.Errorf("Success = false, want true (error: %s)", result.ErrorMessage)
	}
	if result.ExitCode == nil || *result.ExitCode != 0 {
		t.Errorf("ExitCode = %v, want 0", result.ExitCode)
	}

	stdout := rep.bySource("stdout")
	if len(stdout) != 1 || stdout[0].message != "hello" {
		t.Errorf("stdout lines = %v, want [hello]", stdout)
	}
	stderr := rep.bySource("stderr")
	if len(stderr) != 1 || stderr[0].level != model.LogLevelWarn {
		t.Errorf("stderr lines = %v, want one warn line", stderr)
	}
}

func TestLocalExecutor_NonZeroExit(t *testing.T) {
	exec := testLocalExecutor(t)
	task := shellTask("exit 3")

	result, err := exec.Execute(context.Background(), task, nil)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if result.Success {
		t.Error("Success = true, want false")
	}
	if result.ExitCode == nil || *result.ExitCode != 3 {
		t.Errorf("ExitCode = %v, want 3", result.ExitCode)
	}
	if result.ErrorMessage == "" {
		t.Error("ErrorMessage is empty, want exit code message")
	}
}

func TestLocalExecutor_MissingCommand(t *testing.T) {
	exec := testLocalExecutor(t)
	task := &model.Task{ID: uuid.NewString(), Type: model.TaskTypeOperator}

	result, err := exec.Execute(context.Background(), task, nil)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if result.Success {
		t.Error("Success = true, want false for missing command")
	}
}

func TestLocalExecutor_DeadlineKillsProcess(t *testing.T) {
	exec := testLocalExecutor(t)
	task := shellTask("sleep 10")

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	start := time.Now()
	result, err := exec.Execute(ctx, task, nil)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if result.Success {
		t.Error("Success = true, want false after deadline")
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("Execute ran %v, expected the deadline to kill the process", elapsed)
	}
}

func TestLocalExecutor_CancelUnknownTask(t *testing.T) {
	exec := testLocalExecutor(t)
	found, err := exec.Cancel(context.Background(), &model.Task{ID: "nope"})
	if err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if found {
		t.Error("Cancel found an execution for an unknown task")
	}
}

func TestLocalExecutor_ArtifactsAndCleanup(t *testing.T) {
	exec := testLocalExecutor(t)
	task := shellTask("echo data > result.txt")

	result, err := exec.Execute(context.Background(), task, nil)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if len(result.Artifacts) != 1 {
		t.Fatalf("Artifacts = %d, want 1", len(result.Artifacts))
	}
	art := result.Artifacts[0]
	if art.Name != "result.txt" || art.TaskID != task.ID {
		t.Errorf("artifact = %+v, want result.txt for task %s", art, task.ID)
	}
	if art.Size == 0 {
		t.Error("artifact size is 0, want non-empty")
	}
	if art.CreatedAt.IsZero() {
		t.Error("artifact CreatedAt is zero, want the file timestamp")
	}

	taskDir := filepath.Dir(art.FilePath)
	if err := exec.Cleanup(context.Background(), task); err != nil {
		t.Fatalf("Cleanup: %v", err)
	}
	if _, err := os.Stat(taskDir); !os.IsNotExist(err) {
		t.Errorf("work dir %s still exists after Cleanup", taskDir)
	}
}
