package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"
	"github.com/joho/godotenv"
	"github.com/opsmith/cloudbase/internal/audit"
	"github.com/opsmith/cloudbase/internal/database"
	"github.com/opsmith/cloudbase/internal/ledger"
	"github.com/opsmith/cloudbase/internal/lifecycle"
	"github.com/opsmith/cloudbase/internal/registry"
	"github.com/opsmith/cloudbase/internal/tasks"
	"github.com/opsmith/cloudbase/internal/versioning"
	"github.com/opsmith/cloudbase/pkg/config"
	"github.com/opsmith/cloudbase/pkg/queue"
	"github.com/opsmith/cloudbase/pkg/util"
)

func main() {
	// Load .env file
	_ = godotenv.Load()

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	// Initialize logger
	logger := util.NewLogger(cfg.Server.Env, "cloudbase-worker")
	slog.SetDefault(logger)

	logger.Info("starting Cloudbase worker")

	// Connect to database
	db, err := database.Connect(&cfg.Database, logger)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}

	// Create Asynq server
	srv := queue.NewServer(&cfg.Redis, cfg.Worker.Concurrency)

	// Wire domain services
	led := ledger.New(db, logger)
	reg := registry.NewService(db, led, versioning.NewGuard(), logger)
	recorder := audit.NewRecorder(db, logger)
	machine := lifecycle.NewMachine(db, reg, recorder, logger)
	provisioner := tasks.NewStubProvisioner(logger)

	// Create task handler
	handler := tasks.NewHandler(reg, machine, provisioner, logger)

	// Register handlers
	mux := asynq.NewServeMux()
	handler.RegisterHandlers(mux)

	// Handle shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit
		logger.Info("shutting down worker...")
		srv.Shutdown()
		cancel()
	}()

	logger.Info("worker started, waiting for tasks...")

	// Start the server
	if err := srv.Run(mux); err != nil {
		logger.Error("worker error", "error", err)
	}

	// Wait for context cancellation
	<-ctx.Done()

	// Close database connection
	sqlDB, _ := db.DB()
	sqlDB.Close()

	logger.Info("worker stopped")
}
