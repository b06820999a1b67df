package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/me/opsched/pkg/model"
)

// timeLayout is fixed-width so lexical ORDER BY on timestamp columns matches
// chronological order. RFC3339Nano trims trailing fractional zeros and would
// mis-order values within the same second.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// dialect distinguishes placeholder styles between backends.
type dialect int

const (
	dialectSQLite dialect = iota
	dialectPostgres
)

// SQLStore implements TaskStore on database/sql. The same queries serve both
// SQLite and Postgres; rebind rewrites placeholders for the Postgres case.
type SQLStore struct {
	db      *sql.DB
	dialect dialect
	logger  *slog.Logger
}

// rebind converts ?-style placeholders to $n for Postgres.
func (s *SQLStore) rebind(query string) string {
	if s.dialect != dialectPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Close closes the underlying database connection.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

// Migrate creates all required tables and indexes.
func (s *SQLStore) Migrate(ctx context.Context) error {
	s.logger.Debug("sql", "op", "migrate")
	return migrate(ctx, s.db)
}

// --- Task lifecycle ---

func (s *SQLStore) CreateTask(ctx context.Context, task *model.Task) error {
	s.logger.Debug("sql", "op", "insert", "table", "tasks", "id", task.ID)

	inputJSON, err := json.Marshal(task.InputParams)
	if err != nil {
		return fmt.Errorf("marshal input_params: %w", err)
	}
	outputJSON, err := json.Marshal(task.OutputData)
	if err != nil {
		return fmt.Errorf("marshal output_data: %w", err)
	}

	_, err = s.db.ExecContext(ctx, s.rebind(
		`INSERT INTO tasks (id, name, task_type, operator_id, package_id,
		 operator_version_id, package_version_id, user_id, status, priority,
		 input_params, output_data, progress, error_message,
		 retry_count, max_retries, timeout_seconds,
		 created_at, started_at, completed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		task.ID, task.Name, string(task.Type), task.OperatorID, task.PackageID,
		task.OperatorVersionID, task.PackageVersionID, task.UserID,
		string(task.Status), task.Priority,
		string(inputJSON), string(outputJSON), task.Progress, task.ErrorMessage,
		task.RetryCount, task.MaxRetries, task.TimeoutSeconds,
		task.CreatedAt.Format(timeLayout),
		formatTimePtr(task.StartedAt), formatTimePtr(task.CompletedAt),
	)
	return err
}

const taskColumns = `id, name, task_type, operator_id, package_id,
	operator_version_id, package_version_id, user_id, status, priority,
	input_params, output_data, progress, error_message,
	retry_count, max_retries, timeout_seconds,
	created_at, started_at, completed_at`

func (s *SQLStore) GetTask(ctx context.Context, id string) (*model.Task, error) {
	s.logger.Debug("sql", "op", "select", "table", "tasks", "id", id)
	return scanTask(s.db.QueryRowContext(ctx, s.rebind(
		`SELECT `+taskColumns+` FROM tasks WHERE id = ?`), id))
}

func (s *SQLStore) ListTasks(ctx context.Context, opts model.ListOptions) ([]*model.Task, int, error) {
	s.logger.Debug("sql", "op", "list", "table", "tasks", "limit", opts.Limit, "offset", opts.Offset)
	opts.Clamp()

	var whereClauses []string
	var args []any
	if opts.Status != "" {
		whereClauses = append(whereClauses, "status = ?")
		args = append(args, opts.Status)
	}
	if opts.UserID != "" {
		whereClauses = append(whereClauses, "user_id = ?")
		args = append(args, opts.UserID)
	}
	whereSQL := ""
	if len(whereClauses) > 0 {
		whereSQL = " WHERE " + strings.Join(whereClauses, " AND ")
	}

	var total int
	countQuery := s.rebind(`SELECT COUNT(*) FROM tasks` + whereSQL)
	if err := s.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	listQuery := s.rebind(`SELECT ` + taskColumns + ` FROM tasks` + whereSQL +
		` ORDER BY created_at DESC LIMIT ? OFFSET ?`)
	listArgs := append(args, opts.Limit, opts.Offset)

	rows, err := s.db.QueryContext(ctx, listQuery, listArgs...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	tasks, err := scanTasks(rows)
	return tasks, total, err
}

// UpdateTask persists a task's mutable fields. The write runs inside a
// transaction with a guard read: if the stored status is terminal and the
// update would change it, the update is rejected with
// *model.InvalidTransitionError. Last writer wins only below that line.
func (s *SQLStore) UpdateTask(ctx context.Context, task *model.Task) error {
	s.logger.Debug("sql", "op", "update", "table", "tasks", "id", task.ID, "status", task.Status)

	outputJSON, err := json.Marshal(task.OutputData)
	if err != nil {
		return fmt.Errorf("marshal output_data: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var current string
	err = tx.QueryRowContext(ctx, s.rebind(`SELECT status FROM tasks WHERE id = ?`), task.ID).Scan(&current)
	if err == sql.ErrNoRows {
		return fmt.Errorf("task %s not found", task.ID)
	}
	if err != nil {
		return err
	}

	// FAILED -> PENDING stays legal: that is the retry grant.
	currentStatus := model.TaskStatus(current)
	if currentStatus.IsTerminal() && currentStatus != task.Status &&
		!currentStatus.CanTransitionTo(task.Status) {
		return &model.InvalidTransitionError{TaskID: task.ID, From: currentStatus, To: task.Status}
	}

	_, err = tx.ExecContext(ctx, s.rebind(
		`UPDATE tasks SET status=?, priority=?, output_data=?, progress=?,
		 error_message=?, retry_count=?, started_at=?, completed_at=?
		 WHERE id=?`),
		string(task.Status), task.Priority, string(outputJSON), task.Progress,
		task.ErrorMessage, task.RetryCount,
		formatTimePtr(task.StartedAt), formatTimePtr(task.CompletedAt),
		task.ID,
	)
	if err != nil {
		return err
	}
	return tx.Commit()
}

// DeleteTask removes a task and its logs and artifacts. Refused with
// ErrTaskRunning while the task is actively executing.
func (s *SQLStore) DeleteTask(ctx context.Context, id string) error {
	s.logger.Debug("sql", "op", "delete", "table", "tasks", "id", id)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var current string
	err = tx.QueryRowContext(ctx, s.rebind(`SELECT status FROM tasks WHERE id = ?`), id).Scan(&current)
	if err == sql.ErrNoRows {
		return fmt.Errorf("task %s not found", id)
	}
	if err != nil {
		return err
	}
	if model.TaskStatus(current) == model.TaskStatusRunning {
		return fmt.Errorf("delete task %s: %w", id, ErrTaskRunning)
	}

	if _, err := tx.ExecContext(ctx, s.rebind(`DELETE FROM task_logs WHERE task_id = ?`), id); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, s.rebind(`DELETE FROM task_artifacts WHERE task_id = ?`), id); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, s.rebind(`DELETE FROM tasks WHERE id = ?`), id); err != nil {
		return err
	}
	return tx.Commit()
}

// --- Scheduler queries ---

// FindPending returns PENDING tasks ordered by priority descending, then
// creation time ascending — the dispatch order contract.
func (s *SQLStore) FindPending(ctx context.Context) ([]*model.Task, error) {
	return s.findByStatus(ctx, model.TaskStatusPending,
		` ORDER BY priority DESC, created_at ASC`)
}

func (s *SQLStore) FindQueued(ctx context.Context) ([]*model.Task, error) {
	return s.findByStatus(ctx, model.TaskStatusQueued, ` ORDER BY created_at ASC`)
}

func (s *SQLStore) FindRunning(ctx context.Context) ([]*model.Task, error) {
	return s.findByStatus(ctx, model.TaskStatusRunning, ` ORDER BY created_at ASC`)
}

func (s *SQLStore) findByStatus(ctx context.Context, status model.TaskStatus, orderSQL string) ([]*model.Task, error) {
	s.logger.Debug("sql", "op", "list_by_status", "table", "tasks", "status", status)

	rows, err := s.db.QueryContext(ctx, s.rebind(
		`SELECT `+taskColumns+` FROM tasks WHERE status = ?`+orderSQL), string(status))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTasks(rows)
}

func (s *SQLStore) CountByStatus(ctx context.Context, status model.TaskStatus) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, s.rebind(
		`SELECT COUNT(*) FROM tasks WHERE status = ?`), string(status)).Scan(&n)
	return n, err
}

func (s *SQLStore) Stats(ctx context.Context) (*model.TaskStats, error) {
	s.logger.Debug("sql", "op", "stats", "table", "tasks")

	stats := &model.TaskStats{}
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM tasks GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var status string
		var count int64
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		stats.Total += count
		switch model.TaskStatus(status) {
		case model.TaskStatusPending:
			stats.Pending = count
		case model.TaskStatusQueued:
			stats.Queued = count
		case model.TaskStatusRunning:
			stats.Running = count
		case model.TaskStatusSuccess:
			stats.Success = count
		case model.TaskStatusFailed:
			stats.Failed = count
		case model.TaskStatusTimeout:
			stats.Timeout = count
		case model.TaskStatusCancelled:
			stats.Cancelled = count
		}
	}
	return stats, rows.Err()
}

// --- Task logs ---

func (s *SQLStore) AppendLog(ctx context.Context, entry *model.TaskLog) error {
	s.logger.Debug("sql", "op", "insert", "table", "task_logs", "task_id", entry.TaskID)

	_, err := s.db.ExecContext(ctx, s.rebind(
		`INSERT INTO task_logs (id, task_id, log_level, message, source, trace, timestamp)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`),
		entry.ID, entry.TaskID, string(entry.Level), entry.Message,
		entry.Source, entry.Trace, entry.Timestamp.Format(timeLayout),
	)
	return err
}

func (s *SQLStore) ListLogs(ctx context.Context, taskID string) ([]*model.TaskLog, error) {
	s.logger.Debug("sql", "op", "list", "table", "task_logs", "task_id", taskID)

	rows, err := s.db.QueryContext(ctx, s.rebind(
		`SELECT id, task_id, log_level, message, source, trace, timestamp
		 FROM task_logs WHERE task_id = ? ORDER BY timestamp ASC`), taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var logs []*model.TaskLog
	for rows.Next() {
		var entry model.TaskLog
		var level, timestamp string
		if err := rows.Scan(&entry.ID, &entry.TaskID, &level, &entry.Message,
			&entry.Source, &entry.Trace, &timestamp); err != nil {
			return nil, err
		}
		entry.Level = model.LogLevel(level)
		entry.Timestamp, err = time.Parse(timeLayout, timestamp)
		if err != nil {
			return nil, fmt.Errorf("parse log timestamp: %w", err)
		}
		logs = append(logs, &entry)
	}
	return logs, rows.Err()
}

func (s *SQLStore) PruneLogs(ctx context.Context, before time.Time) (int64, error) {
	s.logger.Debug("sql", "op", "prune", "table", "task_logs", "before", before)

	result, err := s.db.ExecContext(ctx, s.rebind(
		`DELETE FROM task_logs WHERE timestamp < ?`), before.Format(timeLayout))
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// --- Task artifacts ---

func (s *SQLStore) CreateArtifact(ctx context.Context, a *model.TaskArtifact) error {
	s.logger.Debug("sql", "op", "insert", "table", "task_artifacts", "task_id", a.TaskID)

	_, err := s.db.ExecContext(ctx, s.rebind(
		`INSERT INTO task_artifacts (id, task_id, name, artifact_type, file_path,
		 file_size, content_type, description, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		a.ID, a.TaskID, a.Name, a.Type, a.FilePath,
		a.Size, a.ContentType, a.Description, a.CreatedAt.Format(timeLayout),
	)
	return err
}

func (s *SQLStore) ListArtifacts(ctx context.Context, taskID string) ([]*model.TaskArtifact, error) {
	s.logger.Debug("sql", "op", "list", "table", "task_artifacts", "task_id", taskID)

	rows, err := s.db.QueryContext(ctx, s.rebind(
		`SELECT id, task_id, name, artifact_type, file_path, file_size, content_type, description, created_at
		 FROM task_artifacts WHERE task_id = ? ORDER BY created_at ASC`), taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var artifacts []*model.TaskArtifact
	for rows.Next() {
		var a model.TaskArtifact
		var createdAt string
		if err := rows.Scan(&a.ID, &a.TaskID, &a.Name, &a.Type, &a.FilePath,
			&a.Size, &a.ContentType, &a.Description, &createdAt); err != nil {
			return nil, err
		}
		a.CreatedAt, err = time.Parse(timeLayout, createdAt)
		if err != nil {
			return nil, fmt.Errorf("parse artifact created_at: %w", err)
		}
		artifacts = append(artifacts, &a)
	}
	return artifacts, rows.Err()
}

// --- scan helpers ---

type scanner interface {
	Scan(dest ...any) error
}

func scanTask(row scanner) (*model.Task, error) {
	var task model.Task
	var taskType, status, createdAt string
	var inputJSON, outputJSON string
	var startedAt, completedAt *string

	err := row.Scan(
		&task.ID, &task.Name, &taskType, &task.OperatorID, &task.PackageID,
		&task.OperatorVersionID, &task.PackageVersionID, &task.UserID,
		&status, &task.Priority,
		&inputJSON, &outputJSON, &task.Progress, &task.ErrorMessage,
		&task.RetryCount, &task.MaxRetries, &task.TimeoutSeconds,
		&createdAt, &startedAt, &completedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	task.Type = model.TaskType(taskType)
	task.Status = model.TaskStatus(status)
	if err := json.Unmarshal([]byte(inputJSON), &task.InputParams); err != nil {
		return nil, fmt.Errorf("unmarshal input_params for %s: %w", task.ID, err)
	}
	if err := json.Unmarshal([]byte(outputJSON), &task.OutputData); err != nil {
		return nil, fmt.Errorf("unmarshal output_data for %s: %w", task.ID, err)
	}
	if task.CreatedAt, err = time.Parse(timeLayout, createdAt); err != nil {
		return nil, fmt.Errorf("parse created_at for %s: %w", task.ID, err)
	}
	if task.StartedAt, err = parseTimePtr(startedAt); err != nil {
		return nil, fmt.Errorf("parse started_at for %s: %w", task.ID, err)
	}
	if task.CompletedAt, err = parseTimePtr(completedAt); err != nil {
		return nil, fmt.Errorf("parse completed_at for %s: %w", task.ID, err)
	}

	return &task, nil
}

func scanTasks(rows *sql.Rows) ([]*model.Task, error) {
	var tasks []*model.Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, task)
	}
	return tasks, rows.Err()
}

func formatTimePtr(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.Format(timeLayout)
	return &s
}

func parseTimePtr(s *string) (*time.Time, error) {
	if s == nil {
		return nil, nil
	}
	t, err := time.Parse(timeLayout, *s)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
