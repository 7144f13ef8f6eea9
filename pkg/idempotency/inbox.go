// Package idempotency deduplicates care-event deliveries. Kafka redelivers
// on consumer restart and channel gateways retry on timeout, so every
// envelope is keyed and claimed in a Postgres inbox before it reaches the
// pipeline.
package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/luminacare/twinpulse/internal/domain/event"
	"github.com/luminacare/twinpulse/internal/errs"
)

// Status is the lifecycle of an inbox row. STARTED rows older than staleAfter
// belong to a crashed consumer and may be reclaimed on the next delivery.
type Status string

const (
	StatusStarted     Status = "STARTED"
	StatusFinished    Status = "FINISHED"
	StatusRecoverable Status = "RECOVERABLE"
	StatusFailed      Status = "FAILED"
)

// Retention and recovery windows. Seven days covers the longest channel
// retry horizon observed in practice (pharmacy batch re-uploads).
const (
	entryTTL     = 7 * 24 * time.Hour
	staleAfter   = 5 * time.Minute
	cleanupEvery = time.Hour
)

// ErrInProgress signals that another consumer holds the claim for this
// delivery. The caller should nack and let the broker redeliver.
var ErrInProgress = errors.New("care event delivery already in progress")

// IngestFunc hands a deduplicated event to the pipeline and returns the
// stored event id.
type IngestFunc func(ctx context.Context, ce event.CareEvent) (string, error)

// Receipt reports how a delivery was handled.
type Receipt struct {
	Duplicate bool
	Recovered bool
	EventID   string
}

// Inbox records care-event deliveries in Postgres so each envelope reaches
// the pipeline exactly once across retries and restarts.
type Inbox struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
	tracer trace.Tracer

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

func NewInbox(pool *pgxpool.Pool, logger *zap.Logger) *Inbox {
	if logger == nil {
		logger = zap.NewNop()
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Inbox{
		pool:   pool,
		logger: logger,
		tracer: otel.Tracer("inbox"),
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
}

// Key derives the deduplication key for an envelope. The timestamp is
// truncated to the minute so channels with drifting clocks still collide on
// the same report.
func Key(ce event.CareEvent) string {
	parts := strings.Join([]string{
		ce.PatientID,
		string(ce.Kind),
		ce.ID,
		ce.Timestamp.Truncate(time.Minute).UTC().Format(time.RFC3339),
	}, "|")
	sum := sha256.Sum256([]byte(parts))
	return hex.EncodeToString(sum[:])
}

// Process claims the delivery, runs fn once, and records the outcome.
// Finished deliveries short-circuit with the previously stored event id.
func (i *Inbox) Process(ctx context.Context, ce event.CareEvent, fn IngestFunc) (*Receipt, error) {
	key := Key(ce)

	ctx, span := i.tracer.Start(ctx, "inbox_process",
		trace.WithAttributes(
			attribute.String("patient_id", ce.PatientID),
			attribute.String("event_kind", string(ce.Kind)),
		))
	defer span.End()

	prior, err := i.getEntry(ctx, key)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("inbox lookup: %w", err)
	}

	if prior != nil {
		switch prior.status {
		case StatusFinished:
			span.SetAttributes(attribute.Bool("duplicate", true))
			return &Receipt{Duplicate: true, EventID: prior.eventID}, nil

		case StatusFailed:
			span.SetAttributes(attribute.Bool("previously_rejected", true))
			return nil, fmt.Errorf("care event previously rejected: %s", key)

		case StatusStarted:
			if time.Since(prior.updatedAt) <= staleAfter {
				return nil, ErrInProgress
			}
			// The claiming consumer is presumed dead. Reclaim below.
			if err := i.setStatus(ctx, key, StatusRecoverable, "", "consumer presumed crashed"); err != nil {
				return nil, fmt.Errorf("inbox reclaim: %w", err)
			}

		case StatusRecoverable:
			span.SetAttributes(attribute.Bool("recovered", true))
		}
	}

	if err := i.claim(ctx, key, ce); err != nil {
		if errors.Is(err, ErrInProgress) {
			return nil, err
		}
		return nil, fmt.Errorf("inbox claim: %w", err)
	}

	eventID, ingestErr := fn(ctx, ce)
	if ingestErr != nil {
		status := StatusRecoverable
		if terminal(ingestErr) {
			status = StatusFailed
		}
		if err := i.setStatus(ctx, key, status, "", ingestErr.Error()); err != nil {
			i.logger.Error("inbox status update failed", zap.Error(err))
		}
		span.RecordError(ingestErr)
		return nil, ingestErr
	}

	// The pipeline already applied the event. A failed bookkeeping write is
	// logged and the row is swept as stale later.
	if err := i.setStatus(ctx, key, StatusFinished, eventID, ""); err != nil {
		i.logger.Error("inbox finish failed", zap.Error(err))
	}

	return &Receipt{
		Recovered: prior != nil && prior.status == StatusRecoverable,
		EventID:   eventID,
	}, nil
}

// terminal reports whether an ingest error will fail on every redelivery.
// Validation, unknown-patient, and state errors are deterministic rejections;
// everything else (store outage, scorer timeout) is worth retrying.
func terminal(err error) bool {
	return errors.Is(err, errs.ErrValidation) ||
		errors.Is(err, errs.ErrNotFound) ||
		errors.Is(err, errs.ErrInvalidState)
}

type inboxRow struct {
	status    Status
	eventID   string
	updatedAt time.Time
}

func (i *Inbox) getEntry(ctx context.Context, key string) (*inboxRow, error) {
	query := `
		SELECT status, COALESCE(event_id, ''), updated_at
		FROM inbox
		WHERE idempotency_key = $1
	`

	row := &inboxRow{}
	if err := i.pool.QueryRow(ctx, query, key).Scan(&row.status, &row.eventID, &row.updatedAt); err != nil {
		return nil, err
	}
	return row, nil
}

// claim inserts the row as STARTED, or takes over a RECOVERABLE one. A
// conflict with any other status means a concurrent consumer won the race.
func (i *Inbox) claim(ctx context.Context, key string, ce event.CareEvent) error {
	query := `
		INSERT INTO inbox (idempotency_key, patient_id, event_kind, status, expires_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (idempotency_key) DO UPDATE
		SET status = $4, updated_at = NOW()
		WHERE inbox.status = 'RECOVERABLE'
		RETURNING idempotency_key
	`

	var returned string
	err := i.pool.QueryRow(ctx, query,
		key, ce.PatientID, string(ce.Kind), StatusStarted, time.Now().Add(entryTTL),
	).Scan(&returned)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrInProgress
	}
	return err
}

func (i *Inbox) setStatus(ctx context.Context, key string, status Status, eventID, lastError string) error {
	query := `
		UPDATE inbox
		SET status = $1, event_id = NULLIF($2, ''), last_error = NULLIF($3, ''), updated_at = NOW()
		WHERE idempotency_key = $4
	`

	_, err := i.pool.Exec(ctx, query, status, eventID, lastError, key)
	return err
}

// RecoverStale flips STARTED rows older than the recovery window back to
// RECOVERABLE. Run once at startup to release claims held by a crashed
// predecessor.
func (i *Inbox) RecoverStale(ctx context.Context) (int64, error) {
	query := `
		UPDATE inbox
		SET status = 'RECOVERABLE', updated_at = NOW()
		WHERE status = 'STARTED'
		  AND updated_at < NOW() - $1::interval
	`

	result, err := i.pool.Exec(ctx, query, staleAfter.String())
	if err != nil {
		return 0, err
	}
	return result.RowsAffected(), nil
}

// StartCleanup begins the hourly expiry sweep.
func (i *Inbox) StartCleanup() {
	go i.cleanupLoop()
	i.logger.Info("inbox cleanup started", zap.Duration("interval", cleanupEvery))
}

// Stop halts the cleanup sweep.
func (i *Inbox) Stop() {
	i.cancel()
	<-i.done
	i.logger.Info("inbox stopped")
}

func (i *Inbox) cleanupLoop() {
	defer close(i.done)

	ticker := time.NewTicker(cleanupEvery)
	defer ticker.Stop()

	for {
		select {
		case <-i.ctx.Done():
			return
		case <-ticker.C:
			if err := i.cleanup(i.ctx); err != nil {
				i.logger.Error("inbox cleanup failed", zap.Error(err))
			}
		}
	}
}

func (i *Inbox) cleanup(ctx context.Context) error {
	query := `DELETE FROM inbox WHERE expires_at < NOW()`

	result, err := i.pool.Exec(ctx, query)
	if err != nil {
		return err
	}

	if result.RowsAffected() > 0 {
		i.logger.Info("expired inbox entries removed", zap.Int64("deleted", result.RowsAffected()))
	}
	return nil
}
