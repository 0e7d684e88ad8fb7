package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/wolfman30/appointment-engine/cmd/mainconfig"
	"github.com/wolfman30/appointment-engine/internal/app/bootstrap"
	appconfig "github.com/wolfman30/appointment-engine/internal/config"
	"github.com/wolfman30/appointment-engine/internal/events"
	"github.com/wolfman30/appointment-engine/pkg/logging"
)

var errMissingQueue = errors.New("BOOKING_EVENTS_QUEUE_URL is required")

func main() {
	_ = godotenv.Load()
	cfg := appconfig.Load()
	logger := logging.New(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("outbox worker failed", "error", err)
		os.Exit(1)
	}
	logger.Info("outbox worker stopped")
}

func run(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger) error {
	if err := validate(cfg); err != nil {
		return err
	}

	pool, err := bootstrap.BuildPostgresPool(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer pool.Close()

	sqsClient, err := mainconfig.NewSQSClient(ctx, cfg)
	if err != nil {
		return err
	}

	deliverer := events.NewDeliverer(events.NewOutboxStore(pool), events.NewSQSHandler(sqsClient, cfg.BookingEventsQueueURL), logger).
		WithBatchSize(int32(cfg.OutboxBatchSize)).
		WithInterval(cfg.OutboxPollInterval)

	logger.Info("outbox worker started",
		"queue_url", cfg.BookingEventsQueueURL,
		"batch_size", cfg.OutboxBatchSize,
		"interval", cfg.OutboxPollInterval.String(),
	)
	deliverer.Start(ctx)
	return nil
}

func validate(cfg *appconfig.Config) error {
	if !cfg.UsePostgres() {
		return errors.New("DATABASE_URL is required")
	}
	if strings.TrimSpace(cfg.BookingEventsQueueURL) == "" {
		return errMissingQueue
	}
	return nil
}
