package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"

	"github.com/me/opsched/internal/broadcast"
	"github.com/me/opsched/internal/config"
	"github.com/me/opsched/internal/executor"
	"github.com/me/opsched/internal/logging"
	"github.com/me/opsched/internal/queue"
	"github.com/me/opsched/internal/scheduler"
	"github.com/me/opsched/internal/server"
	"github.com/me/opsched/internal/store"
	"github.com/me/opsched/pkg/model"
)

func main() {
	// Pick up a local .env before flags and config are resolved.
	_ = godotenv.Load()

	cfg := config.DefaultServerConfig()

	configFile := flag.String("config", "", "Path to YAML config file")
	flag.StringVar(&cfg.Addr, "addr", cfg.Addr, "Listen address")
	flag.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "Log level (debug, info, warn, error)")
	flag.StringVar(&cfg.LogFormat, "log-format", cfg.LogFormat, "Log format (text, json)")
	flag.StringVar(&cfg.DBPath, "db", cfg.DBPath, "SQLite database path (default ~/.opsched/opsched.db)")
	flag.StringVar(&cfg.PostgresDSN, "postgres", cfg.PostgresDSN, "Postgres DSN; overrides --db (or OPSCHED_POSTGRES_DSN env)")
	workDir := flag.String("work-dir", "", "Executor scratch directory (default: system temp)")
	debug := flag.Bool("debug", false, "Shorthand for --log-level=debug")
	flag.Parse()

	if *configFile != "" {
		if err := config.LoadFile(*configFile, &cfg); err != nil {
			fmt.Fprintf(os.Stderr, "%v\n", err)
			os.Exit(1)
		}
	}
	if dsn := os.Getenv("OPSCHED_POSTGRES_DSN"); dsn != "" && cfg.PostgresDSN == "" {
		cfg.PostgresDSN = dsn
	}
	if *debug {
		cfg.LogLevel = "debug"
	}

	logger := logging.New(logging.ParseLevel(cfg.LogLevel), cfg.LogFormat)

	// Open store and run migrations.
	st, err := openStore(cfg, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "open database: %v\n", err)
		os.Exit(1)
	}
	defer st.Close()

	if err := st.Migrate(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "migrate database: %v\n", err)
		os.Exit(1)
	}

	// Create executor registry and register executors.
	reg := executor.NewRegistry(logger)
	reg.Register(executor.NewLocalExecutor(model.TaskTypeOperator, *workDir, logger))
	reg.Register(executor.NewLocalExecutor(model.TaskTypePackage, *workDir, logger))

	q := queue.NewMemoryQueue()
	hub := broadcast.NewHub(logger)

	sched := scheduler.NewLoop(st, q, reg, hub, schedConfig(cfg.Scheduler), logger)
	srv := server.New(cfg, st, q, hub, sched, logger)

	// Periodic task log pruning.
	pruner := cron.New()
	if cfg.LogRetention.Std() > 0 {
		_, err := pruner.AddFunc(cfg.PruneSchedule, func() {
			cutoff := time.Now().UTC().Add(-cfg.LogRetention.Std())
			n, err := st.PruneLogs(context.Background(), cutoff)
			if err != nil {
				logger.Error("prune task logs", "error", err)
				return
			}
			if n > 0 {
				logger.Info("pruned task logs", "removed", n, "cutoff", cutoff)
			}
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "invalid prune_schedule %q: %v\n", cfg.PruneSchedule, err)
			os.Exit(1)
		}
		pruner.Start()
		defer pruner.Stop()
	}

	httpServer := &http.Server{
		Addr:    cfg.Addr,
		Handler: srv.Handler(),
	}

	// Graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv.StartScheduler(ctx)

	go func() {
		logger.Info("server starting", "addr", cfg.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	// Stop scheduler before the HTTP server so no new executions start.
	if err := sched.Stop(); err != nil {
		logger.Error("scheduler stop error", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		fmt.Fprintf(os.Stderr, "shutdown error: %v\n", err)
		os.Exit(1)
	}
	logger.Info("server stopped")
}

// openStore selects Postgres when a DSN is configured, SQLite otherwise.
func openStore(cfg config.ServerConfig, logger *slog.Logger) (*store.SQLStore, error) {
	if cfg.PostgresDSN != "" {
		st, err := store.NewPostgresStore(cfg.PostgresDSN, logger)
		if err != nil {
			return nil, err
		}
		logger.Info("database ready", "dialect", "postgres")
		return st, nil
	}

	dbPath := cfg.DBPath
	if dbPath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("cannot determine home directory: %w", err)
		}
		dir := filepath.Join(home, ".opsched")
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("cannot create %s: %w", dir, err)
		}
		dbPath = filepath.Join(dir, "opsched.db")
	}

	st, err := store.NewSQLiteStore(dbPath, logger)
	if err != nil {
		return nil, err
	}
	logger.Info("database ready", "dialect", "sqlite", "path", dbPath)
	return st, nil
}

func schedConfig(c config.SchedulerConfig) scheduler.Config {
	sc := scheduler.DefaultConfig()
	if c.PollInterval.Std() > 0 {
		sc.PollInterval = c.PollInterval.Std()
	}
	if c.DispatchInterval.Std() > 0 {
		sc.DispatchInterval = c.DispatchInterval.Std()
	}
	if c.MaxConcurrent > 0 {
		sc.MaxConcurrent = c.MaxConcurrent
	}
	return sc
}
