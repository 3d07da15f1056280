package main

import (
	"context"
	"log/slog"

	"fintrack/internal/cli"
	"fintrack/internal/clock"
	"fintrack/internal/config"
	"fintrack/internal/services"
	"fintrack/internal/worker"
)

func main() {
	// Load .env file for local development (ignore errors in production/docker)
	cli.LoadEnvFile()

	logger := cli.SetupLogger(config.Load())
	cfg := cli.LoadAndValidateConfig(logger)
	logger = cli.SetupLogger(cfg)

	logger.Info("Starting recurring-worker")

	sqliteRepo := cli.InitSQLite(logger, cfg.SQLiteDBPath)
	notifier, notifierCloser := cli.InitNotifier(logger, cfg)

	processor := services.NewRecurringProcessor(sqliteRepo, notifier)

	scheduler, err := worker.NewScheduler(processor, worker.SchedulerConfig{
		Schedule:   cfg.RecurringSchedule,
		RunOnStart: cfg.RecurringRunOnStart,
	}, clock.Real())
	if err != nil {
		logger.Error("Failed to create scheduler", "error", err)
		if cerr := cli.CloseAll(notifierCloser, sqliteRepo); cerr != nil {
			logger.Error("Failed to release resources", "error", cerr)
		}
		return
	}

	logger.Info("Recurring processor configured",
		"schedule", cfg.RecurringSchedule,
		"run_on_start", cfg.RecurringRunOnStart,
		"sqlite_db", cfg.SQLiteDBPath)

	ctx, done := cli.GracefulShutdown(logger, cfg.ShutdownTimeout, func(ctx context.Context) error {
		logger.Info("Shutting down recurring-worker...")
		if err := scheduler.Stop(ctx); err != nil {
			slog.WarnContext(ctx, "Scheduler did not stop cleanly", "error", err)
		}
		return cli.CloseAll(notifierCloser, sqliteRepo)
	})

	if err := scheduler.Start(ctx); err != nil {
		logger.Error("Failed to start scheduler", "error", err)
		return
	}

	cli.WaitForShutdown(ctx, done)
	logger.Info("Recurring-worker shutdown complete")
}
