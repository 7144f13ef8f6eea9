// Package main provides the batch re-score entry point. It re-runs the full
// pipeline pass for every registered patient, typically on a nightly schedule.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/luminacare/twinpulse/internal/config"
	"github.com/luminacare/twinpulse/internal/infrastructure/postgres"
	"github.com/luminacare/twinpulse/internal/infrastructure/stream"
	"github.com/luminacare/twinpulse/internal/observability/metrics"
	"github.com/luminacare/twinpulse/internal/pipeline"
	"github.com/luminacare/twinpulse/internal/predictions"
	"github.com/luminacare/twinpulse/internal/seed"
	"github.com/luminacare/twinpulse/pkg/circuitbreaker"
	"github.com/luminacare/twinpulse/pkg/workerpool"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	cfg := config.FromEnv()
	ctx := context.Background()

	// Connect to database
	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("database connection failed", zap.Error(err))
	}
	defer pool.Close()
	if err := pool.Ping(ctx); err != nil {
		logger.Fatal("database ping failed", zap.Error(err))
	}

	m := metrics.New()
	store := postgres.NewEventStore(pool, m, logger)

	breaker, err := circuitbreaker.New(circuitbreaker.DefaultConfig("risk-scorer"), logger)
	if err != nil {
		logger.Fatal("circuit breaker init failed", zap.Error(err))
	}
	scorer := predictions.NewHTTPScorer(cfg.ScorerURL, cfg.ScorerTimeout, breaker, logger)

	registry := seed.Registry(time.Now().UTC())
	pipe := pipeline.New(registry, store, seed.AlertRules(), seed.ActionRules(), cfg, pipeline.Options{
		Scorer:   scorer,
		Metrics:  m,
		Notifier: postgres.NewAlertOutboxNotifier(pool, stream.TopicAlertNotifications),
		Logger:   logger,
	})

	// Cancellation stops between patients, never mid-pass
	runCtx, cancel := context.WithCancel(ctx)
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan
		logger.Info("cancellation requested")
		cancel()
	}()

	poolCfg := workerpool.DefaultConfig()
	workerPool, err := workerpool.New(poolCfg, func(ctx context.Context, patientID string) error {
		return pipe.RunPatient(ctx, patientID)
	}, logger)
	if err != nil {
		logger.Fatal("worker pool creation failed", zap.Error(err))
	}

	workerPool.Start()

	ids := registry.IDs()
	for _, id := range ids {
		if runCtx.Err() != nil {
			break
		}
		if err := workerPool.Submit(id); err != nil {
			logger.Error("submit failed", zap.String("patient_id", id), zap.Error(err))
		}
	}

	var failures int
	done := make(chan struct{})
	go func() {
		defer close(done)
		for res := range workerPool.Results() {
			if res.Err != nil {
				failures++
				logger.Error("patient pass failed",
					zap.String("patient_id", res.PatientID),
					zap.Error(res.Err))
			}
		}
	}()

	workerPool.Drain()
	<-done

	stats := workerPool.Stats()
	logger.Info("batch re-score finished",
		zap.Int("patients", len(ids)),
		zap.Int64("completed", stats.Completed),
		zap.Int64("failed", stats.Failed),
		zap.Int64("retried", stats.Retried))

	if failures > 0 {
		os.Exit(1)
	}
}
