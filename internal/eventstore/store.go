// Package eventstore defines the append-only ledger of care events and an
// in-memory implementation used for sessions and tests. Durable storage is
// provided by internal/infrastructure/postgres behind the same interface.
package eventstore

import (
	"context"
	"time"

	"github.com/luminacare/twinpulse/internal/domain/event"
)

// TimeRange bounds a query. Zero values mean unbounded on that side.
type TimeRange struct {
	From time.Time
	To   time.Time
}

// Contains reports whether t falls inside the range.
func (r TimeRange) Contains(t time.Time) bool {
	if !r.From.IsZero() && t.Before(r.From) {
		return false
	}
	if !r.To.IsZero() && t.After(r.To) {
		return false
	}
	return true
}

// Store is the persistence boundary the core calls through. The core never
// assumes a specific storage engine.
type Store interface {
	// Append records an event and returns its id. Appending an event whose
	// id is already stored is a no-op returning the existing id, making
	// ingestion idempotent under at-least-once delivery.
	Append(ctx context.Context, e event.CareEvent) (string, error)

	// Query returns the patient's events of the given kind within the time
	// range, ordered by event timestamp with ties broken by arrival
	// sequence number.
	Query(ctx context.Context, patientID string, kind event.Kind, tr TimeRange) ([]event.CareEvent, error)
}
