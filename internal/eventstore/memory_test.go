package eventstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/luminacare/twinpulse/internal/domain/event"
	"github.com/luminacare/twinpulse/internal/errs"
)

func vitalAt(id string, at time.Time) event.CareEvent {
	return event.CareEvent{
		ID:        id,
		PatientID: "PT-1",
		Kind:      event.KindVital,
		Timestamp: at,
		Payload:   []byte(`{"metric":"glucose","value":140,"unit":"mg/dL"}`),
	}
}

func TestAppendOrdersByTimestampThenArrival(t *testing.T) {
	ctx := context.Background()
	store := NewMemory()
	base := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)

	// Arrive out of timestamp order, plus two events sharing a timestamp.
	for _, e := range []event.CareEvent{
		vitalAt("E3", base.Add(2*time.Hour)),
		vitalAt("E1", base),
		vitalAt("E2a", base.Add(time.Hour)),
		vitalAt("E2b", base.Add(time.Hour)),
	} {
		if _, err := store.Append(ctx, e); err != nil {
			t.Fatalf("Append(%s): %v", e.ID, err)
		}
	}

	got, err := store.Query(ctx, "PT-1", event.KindVital, TimeRange{})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	want := []string{"E1", "E2a", "E2b", "E3"}
	if len(got) != len(want) {
		t.Fatalf("got %d events, want %d", len(got), len(want))
	}
	for i, id := range want {
		if got[i].ID != id {
			t.Errorf("position %d: got %s, want %s", i, got[i].ID, id)
		}
	}
}

func TestAppendDuplicateIDIsNoOp(t *testing.T) {
	ctx := context.Background()
	store := NewMemory()
	at := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)

	id, err := store.Append(ctx, vitalAt("E1", at))
	if err != nil {
		t.Fatalf("first Append: %v", err)
	}
	// Redelivery with the same id but a different timestamp must not
	// change what is stored.
	again, err := store.Append(ctx, vitalAt("E1", at.Add(time.Hour)))
	if err != nil {
		t.Fatalf("second Append: %v", err)
	}
	if again != id {
		t.Errorf("duplicate append returned %s, want %s", again, id)
	}
	if n := store.Len("PT-1"); n != 1 {
		t.Errorf("stored %d events, want 1", n)
	}

	got, _ := store.Query(ctx, "PT-1", event.KindVital, TimeRange{})
	if !got[0].Timestamp.Equal(at) {
		t.Errorf("stored timestamp %v, want original %v", got[0].Timestamp, at)
	}
}

func TestAppendValidation(t *testing.T) {
	ctx := context.Background()
	store := NewMemory()
	at := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)

	cases := []struct {
		name string
		e    event.CareEvent
	}{
		{"missing id", event.CareEvent{PatientID: "PT-1", Kind: event.KindVital, Timestamp: at}},
		{"missing patient", event.CareEvent{ID: "E1", Kind: event.KindVital, Timestamp: at}},
		{"missing timestamp", event.CareEvent{ID: "E1", PatientID: "PT-1", Kind: event.KindVital}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := store.Append(ctx, tc.e); !errors.Is(err, errs.ErrValidation) {
				t.Errorf("got %v, want validation error", err)
			}
		})
	}
	if n := store.Len("PT-1"); n != 0 {
		t.Errorf("rejected events were stored: %d", n)
	}
}

func TestQueryTimeRangeAndKind(t *testing.T) {
	ctx := context.Background()
	store := NewMemory()
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		e := vitalAt("V"+string(rune('0'+i)), base.AddDate(0, 0, i))
		if _, err := store.Append(ctx, e); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}
	comm := event.CareEvent{
		ID:        "C1",
		PatientID: "PT-1",
		Kind:      event.KindCommunication,
		Timestamp: base.AddDate(0, 0, 2),
		Payload:   []byte(`{"direction":"outbound","channel":"SMS","at":"2026-03-03T00:00:00Z"}`),
	}
	if _, err := store.Append(ctx, comm); err != nil {
		t.Fatalf("Append comm: %v", err)
	}

	got, err := store.Query(ctx, "PT-1", event.KindVital, TimeRange{
		From: base.AddDate(0, 0, 1),
		To:   base.AddDate(0, 0, 3),
	})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("got %d events, want 3", len(got))
	}
	for _, e := range got {
		if e.Kind != event.KindVital {
			t.Errorf("got kind %s, want vital", e.Kind)
		}
	}

	// Unknown patient is empty, not an error.
	none, err := store.Query(ctx, "PT-404", event.KindVital, TimeRange{})
	if err != nil {
		t.Fatalf("Query unknown patient: %v", err)
	}
	if len(none) != 0 {
		t.Errorf("unknown patient returned %d events", len(none))
	}
}
