package store

import (
	"context"
	"database/sql"
	"fmt"
)

// schema contains the DDL for all tables. Statements use IF NOT EXISTS for
// idempotency and stick to types valid in both SQLite and Postgres.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS tasks (
		id                  TEXT PRIMARY KEY,
		name                TEXT NOT NULL,
		task_type           TEXT NOT NULL,
		operator_id         TEXT NOT NULL DEFAULT '',
		package_id          TEXT NOT NULL DEFAULT '',
		operator_version_id TEXT NOT NULL DEFAULT '',
		package_version_id  TEXT NOT NULL DEFAULT '',
		user_id             TEXT NOT NULL,
		status              TEXT NOT NULL DEFAULT 'PENDING',
		priority            INTEGER NOT NULL DEFAULT 0,
		input_params        TEXT NOT NULL DEFAULT '{}',
		output_data         TEXT NOT NULL DEFAULT '{}',
		progress            INTEGER NOT NULL DEFAULT 0,
		error_message       TEXT NOT NULL DEFAULT '',
		retry_count         INTEGER NOT NULL DEFAULT 0,
		max_retries         INTEGER NOT NULL DEFAULT 3,
		timeout_seconds     INTEGER NOT NULL DEFAULT 300,
		created_at          TEXT NOT NULL,
		started_at          TEXT,
		completed_at        TEXT
	)`,

	`CREATE TABLE IF NOT EXISTS task_logs (
		id        TEXT PRIMARY KEY,
		task_id   TEXT NOT NULL,
		log_level TEXT NOT NULL,
		message   TEXT NOT NULL,
		source    TEXT NOT NULL DEFAULT '',
		trace     TEXT NOT NULL DEFAULT '',
		timestamp TEXT NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS task_artifacts (
		id            TEXT PRIMARY KEY,
		task_id       TEXT NOT NULL,
		name          TEXT NOT NULL,
		artifact_type TEXT NOT NULL DEFAULT '',
		file_path     TEXT NOT NULL DEFAULT '',
		file_size     INTEGER NOT NULL DEFAULT 0,
		content_type  TEXT NOT NULL DEFAULT '',
		description   TEXT NOT NULL DEFAULT '',
		created_at    TEXT NOT NULL
	)`,

	`CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(status)`,
	`CREATE INDEX IF NOT EXISTS idx_tasks_user_id ON tasks(user_id)`,
	`CREATE INDEX IF NOT EXISTS idx_tasks_created_at ON tasks(created_at)`,
	// Compound index for the poller's pending scan.
	`CREATE INDEX IF NOT EXISTS idx_tasks_status_priority ON tasks(status, priority, created_at)`,
	`CREATE INDEX IF NOT EXISTS idx_task_logs_task_id ON task_logs(task_id)`,
	`CREATE INDEX IF NOT EXISTS idx_task_logs_timestamp ON task_logs(timestamp)`,
	`CREATE INDEX IF NOT EXISTS idx_task_artifacts_task_id ON task_artifacts(task_id)`,
}

func migrate(ctx context.Context, db *sql.DB) error {
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}
