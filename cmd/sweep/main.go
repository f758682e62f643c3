package main

import (
	"context"
	"os"

	"github.com/joho/godotenv"

	"cashtrack/internal/amqp"
	"cashtrack/internal/config"
	applog "cashtrack/internal/log"
	"cashtrack/internal/services"
	"cashtrack/internal/storage"
)

// sweep runs one catch-up pass over every schedule frequency and exits.
// Useful from cron or as a manual backfill after downtime.
func main() {
	_ = godotenv.Load()

	logger := applog.New(applog.DefaultConfig())
	applog.SetDefault(logger)

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		logger.Error("Configuration validation failed", "error", err)
		os.Exit(1)
	}

	repo, err := storage.NewSQLiteRepository(cfg.SQLiteDBPath)
	if err != nil {
		logger.Error("Failed to initialize SQLite repository", "error", err, "path", cfg.SQLiteDBPath)
		os.Exit(1)
	}

	var amqpClient *amqp.Client
	if cfg.AMQPURL != "" {
		amqpClient, err = amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
		if err != nil {
			logger.Warn("Failed to initialize AMQP client, continuing without ledger events", "error", err)
			amqpClient = nil
		}
	}

	// Closes both the repository and the AMQP client.
	txService := services.NewTransactionService(repo, amqpClient)
	defer txService.Close()

	scheduler := services.NewScheduler(repo, txService, logger, services.SchedulerOptions{
		Hour: cfg.DisburseHour,
	})

	logger.Info("Running catch-up sweep", "sqlite_db", cfg.SQLiteDBPath)
	if err := scheduler.CatchUp(context.Background()); err != nil {
		logger.Error("Catch-up sweep failed", "error", err)
		os.Exit(1)
	}
	logger.Info("Catch-up sweep complete")
}
