package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/pulsedir/beacon/internal/config"
	"github.com/pulsedir/beacon/internal/db"
	"github.com/pulsedir/beacon/internal/ingest"
	"github.com/pulsedir/beacon/internal/worker"
	"github.com/pulsedir/beacon/tools/migrator"
	_ "github.com/mattn/go-sqlite3"
)

func main() {
	// Parse command-line flags
	configFile := flag.String("config", "", "Path to configuration file (TOML)")
	flag.Parse()

	// Load configuration
	cfg, err := config.LoadConfig(*configFile)
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	// Initialize structured logger
	logger := newLogger(cfg.Logging)
	slog.SetDefault(logger)

	slog.Info("starting beacond heartbeat service")
	slog.Info("database configuration",
		"driver", cfg.Database.Driver,
		"dsn", cfg.Database.DSN,
		"migrations_dir", cfg.Database.MigrationsDir)

	// Open database connection with pool settings
	database, err := db.OpenWithConfig(cfg.Database)
	if err != nil {
		slog.Error("failed to connect to database", "error", err, "driver", cfg.Database.Driver)
		os.Exit(1)
	}
	defer database.Close()

	// Run migrations
	if !cfg.Database.SkipMigrations {
		slog.Info("running migrations", "migrations_dir", cfg.Database.MigrationsDir)
		if err := migrator.RunMigrations(database.DB, cfg.Database.MigrationsDir); err != nil {
			slog.Error("failed to run migrations", "error", err, "migrations_dir", cfg.Database.MigrationsDir)
			os.Exit(1)
		}

		version, err := migrator.GetCurrentVersion(database.DB)
		if err != nil {
			slog.Error("failed to get schema version", "error", err)
			os.Exit(1)
		}
		slog.Info("database schema ready", "version", version)
	} else {
		slog.Info("skipping migrations", "reason", "configured to skip")
	}

	// Build the ingest pipeline and its HTTP surface
	gate := &ingest.DBConsentGate{DB: database}
	pipeline := ingest.NewPipeline(database, gate, cfg.Ingest, logger)
	handler := ingest.NewHandler(pipeline, logger)

	server, err := ingest.NewServer(cfg.HTTP.Listen(), handler, logger)
	if err != nil {
		slog.Error("failed to bind ingest server", "error", err, "listen", cfg.HTTP.Listen())
		os.Exit(1)
	}

	pool := worker.NewPool(database, cfg.Derive, cfg.Worker, logger)

	// Everything below runs until the first interrupt
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		slog.Info("ingest server listening", "address", server.Addr())
		if err := server.Run(ctx); err != nil {
			slog.Error("ingest server failed", "error", err)
			stop()
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		slog.Info("recompute pool starting", "workers", cfg.Worker.Workers)
		pool.Run(ctx)
	}()

	<-ctx.Done()
	slog.Info("shutting down gracefully")
	wg.Wait()
	slog.Info("beacond stopped")
}

func newLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "text" {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}
