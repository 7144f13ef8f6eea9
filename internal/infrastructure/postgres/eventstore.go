// Package postgres provides PostgreSQL infrastructure components: the
// durable care-event store and a transactional outbox for reliable alert
// fan-out.
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/luminacare/twinpulse/internal/domain/event"
	"github.com/luminacare/twinpulse/internal/errs"
	"github.com/luminacare/twinpulse/internal/eventstore"
	"github.com/luminacare/twinpulse/internal/observability/metrics"
)

// EventStore is the durable eventstore.Store implementation. Arrival order is
// the seq bigserial; duplicate event ids are dropped by the primary key, so
// at-least-once delivery upstream is safe to replay.
type EventStore struct {
	pool    *pgxpool.Pool
	logger  *zap.Logger
	metrics *metrics.Metrics
}

// NewEventStore creates a store over the given pool. metrics may be nil.
func NewEventStore(pool *pgxpool.Pool, m *metrics.Metrics, logger *zap.Logger) *EventStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EventStore{pool: pool, logger: logger, metrics: m}
}

// Schema is the DDL the store expects. Applied by EnsureSchema at startup.
const Schema = `
CREATE TABLE IF NOT EXISTS care_events (
	id         TEXT PRIMARY KEY,
	patient_id TEXT NOT NULL,
	kind       TEXT NOT NULL,
	ts         TIMESTAMPTZ NOT NULL,
	seq        BIGSERIAL,
	payload    JSONB NOT NULL
);
CREATE INDEX IF NOT EXISTS care_events_patient_kind_ts
	ON care_events (patient_id, kind, ts, seq);

CREATE TABLE IF NOT EXISTS outbox (
	id          BIGSERIAL PRIMARY KEY,
	patient_id  TEXT NOT NULL,
	event_type  TEXT NOT NULL,
	payload     JSONB NOT NULL,
	kafka_topic TEXT NOT NULL,
	kafka_key   TEXT NOT NULL,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	processed_at TIMESTAMPTZ,
	retry_count INT NOT NULL DEFAULT 0,
	last_error  TEXT
);
CREATE INDEX IF NOT EXISTS outbox_unprocessed
	ON outbox (created_at) WHERE processed_at IS NULL;

CREATE TABLE IF NOT EXISTS inbox (
	idempotency_key TEXT PRIMARY KEY,
	patient_id      TEXT NOT NULL,
	event_kind      TEXT NOT NULL,
	status          TEXT NOT NULL,
	event_id        TEXT,
	last_error      TEXT,
	created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	expires_at      TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS inbox_expires
	ON inbox (expires_at);
`

// EnsureSchema applies the DDL.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// Append implements eventstore.Store.
func (s *EventStore) Append(ctx context.Context, e event.CareEvent) (string, error) {
	if e.ID == "" {
		return "", errs.Validation("event id is required", nil)
	}
	if e.PatientID == "" {
		return "", errs.Validation("patient id is required", nil)
	}
	if e.Timestamp.IsZero() {
		return "", errs.Validation("event timestamp is required", nil)
	}

	query := `
		INSERT INTO care_events (id, patient_id, kind, ts, payload)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO NOTHING
	`
	tag, err := s.pool.Exec(ctx, query, e.ID, e.PatientID, string(e.Kind), e.Timestamp, e.Payload)
	if err != nil {
		return "", fmt.Errorf("insert care event: %w", err)
	}
	if tag.RowsAffected() == 0 {
		if s.metrics != nil {
			s.metrics.DuplicateEvents.Inc()
		}
		s.logger.Debug("duplicate event dropped", zap.String("event_id", e.ID))
	}
	return e.ID, nil
}

// Query implements eventstore.Store.
func (s *EventStore) Query(ctx context.Context, patientID string, kind event.Kind, tr eventstore.TimeRange) ([]event.CareEvent, error) {
	query := `
		SELECT id, patient_id, kind, ts, seq, payload
		FROM care_events
		WHERE patient_id = $1 AND kind = $2
		  AND ($3::timestamptz IS NULL OR ts >= $3)
		  AND ($4::timestamptz IS NULL OR ts <= $4)
		ORDER BY ts ASC, seq ASC
	`
	var from, to interface{}
	if !tr.From.IsZero() {
		from = tr.From
	}
	if !tr.To.IsZero() {
		to = tr.To
	}

	rows, err := s.pool.Query(ctx, query, patientID, string(kind), from, to)
	if err != nil {
		return nil, fmt.Errorf("query care events: %w", err)
	}
	defer rows.Close()

	var events []event.CareEvent
	for rows.Next() {
		var e event.CareEvent
		var k string
		if err := rows.Scan(&e.ID, &e.PatientID, &k, &e.Timestamp, &e.Seq, &e.Payload); err != nil {
			return nil, fmt.Errorf("scan care event: %w", err)
		}
		e.Kind = event.Kind(k)
		events = append(events, e)
	}
	return events, rows.Err()
}
