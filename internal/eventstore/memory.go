package eventstore

import (
	"context"
	"sort"
	"sync"

	"github.com/luminacare/twinpulse/internal/domain/event"
	"github.com/luminacare/twinpulse/internal/errs"
)

// Memory is an in-memory Store. Per-patient state is constructed at session
// start and torn down at session end. Safe for concurrent use; appends for a
// patient serialize on the store lock.
type Memory struct {
	mu     sync.RWMutex
	seq    uint64
	byID   map[string]struct{}
	events map[string][]event.CareEvent // patient id -> events, kept sorted
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		byID:   make(map[string]struct{}),
		events: make(map[string][]event.CareEvent),
	}
}

// Append records an event. Duplicate event ids are dropped (no-op) so
// at-least-once delivery from multiple channels is safe.
func (m *Memory) Append(ctx context.Context, e event.CareEvent) (string, error) {
	if e.ID == "" {
		return "", errs.Validation("event id is required", nil)
	}
	if e.PatientID == "" {
		return "", errs.Validation("event patient id is required", map[string]string{"event_id": e.ID})
	}
	if e.Timestamp.IsZero() {
		return "", errs.Validation("event timestamp is required", map[string]string{"event_id": e.ID})
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, dup := m.byID[e.ID]; dup {
		return e.ID, nil
	}

	m.seq++
	e.Seq = m.seq
	m.byID[e.ID] = struct{}{}

	list := append(m.events[e.PatientID], e)
	// Keep the slice ordered by (timestamp, arrival seq) so queries are a
	// filter, not a sort.
	sort.SliceStable(list, func(i, j int) bool {
		if list[i].Timestamp.Equal(list[j].Timestamp) {
			return list[i].Seq < list[j].Seq
		}
		return list[i].Timestamp.Before(list[j].Timestamp)
	})
	m.events[e.PatientID] = list

	return e.ID, nil
}

// Query returns events of a kind within the range, ordered by
// (timestamp, arrival seq).
func (m *Memory) Query(ctx context.Context, patientID string, kind event.Kind, tr TimeRange) ([]event.CareEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []event.CareEvent
	for _, e := range m.events[patientID] {
		if e.Kind != kind {
			continue
		}
		if !tr.Contains(e.Timestamp) {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

// Len reports the number of stored events for a patient.
func (m *Memory) Len(patientID string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.events[patientID])
}
