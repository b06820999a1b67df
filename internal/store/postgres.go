package store

import (
	"database/sql"
	"fmt"
	"log/slog"

	_ "github.com/lib/pq"
)

// NewPostgresStore connects to a Postgres database and returns a TaskStore.
// The DSN is a lib/pq connection string, e.g.
// "user=ops password=... dbname=opsched host=localhost sslmode=disable".
func NewPostgresStore(dsn string, logger *slog.Logger) (*SQLStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	return &SQLStore{
		db:      db,
		dialect: dialectPostgres,
		logger:  logger.With("component", "store"),
	}, nil
}
