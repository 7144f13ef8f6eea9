// Package main provides the intake service entry point.
// Consumes care events from the broker and feeds them through the pipeline.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/luminacare/twinpulse/internal/config"
	"github.com/luminacare/twinpulse/internal/domain/event"
	"github.com/luminacare/twinpulse/internal/infrastructure/postgres"
	"github.com/luminacare/twinpulse/internal/infrastructure/stream"
	"github.com/luminacare/twinpulse/internal/observability/metrics"
	"github.com/luminacare/twinpulse/internal/observability/tracing"
	"github.com/luminacare/twinpulse/internal/pipeline"
	"github.com/luminacare/twinpulse/internal/seed"
	"github.com/luminacare/twinpulse/pkg/idempotency"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	cfg := config.FromEnv()
	ctx := context.Background()

	tp, err := tracing.Init(ctx, tracing.DefaultConfig("intake-service", cfg.OTLPEndpoint))
	if err != nil {
		logger.Warn("tracing disabled", zap.Error(err))
	} else {
		defer tp.Shutdown(context.Background())
	}

	m := metrics.New()

	// Connect to database
	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("database connection failed", zap.Error(err))
	}
	defer pool.Close()
	if err := pool.Ping(ctx); err != nil {
		logger.Fatal("database ping failed", zap.Error(err))
	}
	if err := postgres.EnsureSchema(ctx, pool); err != nil {
		logger.Fatal("schema migration failed", zap.Error(err))
	}
	logger.Info("connected to database")

	store := postgres.NewEventStore(pool, m, logger)

	// Ensure topics exist before consuming
	admin, err := stream.NewAdmin(cfg.KafkaBrokers, logger)
	if err != nil {
		logger.Fatal("admin client creation failed", zap.Error(err))
	}
	if err := admin.EnsureTopics(ctx); err != nil {
		logger.Fatal("topic creation failed", zap.Error(err))
	}
	admin.Close()

	now := time.Now().UTC()
	registry := seed.Registry(now)
	pipe := pipeline.New(registry, store, seed.AlertRules(), seed.ActionRules(), cfg, pipeline.Options{
		Metrics:  m,
		Notifier: postgres.NewAlertOutboxNotifier(pool, stream.TopicAlertNotifications),
		Logger:   logger,
	})

	// Outbox relay publishes pending alert notifications to the broker
	producerCfg := stream.DefaultProducerConfig()
	producerCfg.Brokers = cfg.KafkaBrokers
	producer, err := stream.NewProducer(producerCfg, m, logger)
	if err != nil {
		logger.Fatal("producer creation failed", zap.Error(err))
	}
	defer producer.Close()

	outbox := postgres.NewOutbox(pool, producer, postgres.DefaultOutboxConfig(), logger)
	outbox.Start()
	defer outbox.Stop()

	// Hourly maintenance: retire exhausted entries to the dead-letter topic
	// and drop processed rows older than a day.
	maintCtx, stopMaint := context.WithCancel(ctx)
	defer stopMaint()
	go func() {
		ticker := time.NewTicker(time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-maintCtx.Done():
				return
			case <-ticker.C:
				if n, err := outbox.MoveToDeadLetter(maintCtx, stream.TopicDeadLetter); err != nil {
					logger.Error("dead-letter sweep failed", zap.Error(err))
				} else if n > 0 {
					logger.Warn("entries moved to dead letter", zap.Int64("count", n))
				}
				if n, err := outbox.CleanupProcessed(maintCtx, 24*time.Hour); err != nil {
					logger.Error("outbox cleanup failed", zap.Error(err))
				} else if n > 0 {
					logger.Info("processed outbox entries removed", zap.Int64("count", n))
				}
			}
		}
	}()

	// Inbox deduplicates redeliveries across restarts
	inbox := idempotency.NewInbox(pool, logger)
	if n, err := inbox.RecoverStale(ctx); err != nil {
		logger.Error("stale inbox recovery failed", zap.Error(err))
	} else if n > 0 {
		logger.Warn("stale inbox claims released", zap.Int64("count", n))
	}
	inbox.StartCleanup()

	handler := func(ctx context.Context, msg *stream.ConsumedMessage) error {
		var ce event.CareEvent
		if err := json.Unmarshal(msg.Value, &ce); err != nil {
			return fmt.Errorf("decode care event: %w", err)
		}

		_, err := inbox.Process(ctx, ce, pipe.IngestEvent)
		return err
	}

	consumerCfg := stream.DefaultConsumerConfig()
	consumerCfg.Brokers = cfg.KafkaBrokers

	consumer, err := stream.NewConsumer(consumerCfg, handler, m, logger)
	if err != nil {
		logger.Fatal("consumer creation failed", zap.Error(err))
	}

	consumer.Start()
	logger.Info("intake service started", zap.Strings("brokers", cfg.KafkaBrokers))

	// Wait for shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutting down")
	if err := consumer.Stop(); err != nil {
		logger.Error("consumer stop error", zap.Error(err))
	}
	inbox.Stop()
	logger.Info("intake service stopped")
}
