package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"studybuddy/internal/accountapi"
	"studybuddy/internal/config"
	"studybuddy/internal/logger"
	"studybuddy/internal/outbox"
	"studybuddy/internal/pgmq"
	"studybuddy/internal/secrets"
	"studybuddy/internal/syncer"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
)

// syncworker drains the durable usage delta outbox and pushes deltas to the
// account service. It runs alongside engine deployments on the postgres
// backend, where the queue outlives any single process.
func main() {
	logger := logger.New()

	if err := godotenv.Load(); err != nil {
		logger.Warn().Msg("Warning: no .env file found")
	}

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Msgf("Error loading config: %v", err)
	}
	if cfg.StorageBackend != "postgres" {
		logger.Fatal().Msg("syncworker requires STORAGE_BACKEND=postgres")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := secrets.ResolveAll(ctx, cfg.GCPProjectID, &cfg.AccountAPIToken, &cfg.DBConnectionString); err != nil {
		logger.Fatal().Msgf("Failed to resolve secrets: %v", err)
	}

	pool, err := pgxpool.New(ctx, cfg.DBConnectionString)
	if err != nil {
		logger.Fatal().Msgf("Failed to open DB pool: %v", err)
	}
	defer pool.Close()

	if err := pool.Ping(ctx); err != nil {
		logger.Fatal().Msgf("Failed to ping DB: %v", err)
	}
	logger.Info().Msg("Database connection established")

	queue := outbox.NewPGMQQueue(pgmq.New(pool), cfg.UsageQueueName, cfg.UsageDeadLetterQueueName, cfg.UsagePollTimeoutSec, logger)
	apiClient := accountapi.NewClient(cfg.AccountAPIBaseURL, cfg.AccountAPIToken, cfg.AccountAPITimeout(), logger)

	drainer := syncer.NewDrainer(queue, apiClient, syncer.DrainConfig{
		BatchSize:      cfg.UsagePushBatchSize,
		MaxRetries:     cfg.UsagePushMaxRetries,
		BackoffInitial: time.Duration(cfg.UsagePushBackoffInitSec) * time.Second,
		BackoffMax:     time.Duration(cfg.UsagePushBackoffMaxSec) * time.Second,
	}, logger)

	if err := drainer.Run(ctx); err != nil {
		logger.Fatal().Msgf("Usage drain loop failed: %v", err)
	}
	logger.Info().Msg("syncworker stopped gracefully")
}
