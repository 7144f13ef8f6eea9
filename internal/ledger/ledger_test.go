package ledger

import (
	"errors"
	"testing"
	"time"

	"github.com/luminacare/twinpulse/internal/errs"
	"github.com/luminacare/twinpulse/pkg/clock"
)

func TestTaskLifecycle(t *testing.T) {
	now := time.Date(2026, 2, 10, 9, 0, 0, 0, time.UTC)
	l := New(clock.NewFixed(now), nil)

	created, err := l.CreateTask("Confirm refill pickup", "nurse.lee", "Call pharmacy", now.Add(48*time.Hour))
	if err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	if created.Status != TaskOpen {
		t.Fatalf("new task status = %s, want %s", created.Status, TaskOpen)
	}
	if created.CreatedAt != now {
		t.Fatalf("CreatedAt = %v, want %v", created.CreatedAt, now)
	}

	done, err := l.CompleteTask(created.ID)
	if err != nil {
		t.Fatalf("CompleteTask: %v", err)
	}
	if done.Status != TaskDone {
		t.Fatalf("completed status = %s, want %s", done.Status, TaskDone)
	}
	if done.CompletedAt == nil || !done.CompletedAt.Equal(now) {
		t.Fatalf("CompletedAt = %v, want %v", done.CompletedAt, now)
	}
}

func TestCompleteTaskErrors(t *testing.T) {
	l := New(nil, nil)

	if _, err := l.CompleteTask("no-such-task"); !errors.Is(err, errs.ErrNotFound) {
		t.Fatalf("complete unknown: err = %v, want not found", err)
	}

	created, err := l.CreateTask("Review vitals", "dr.okafor", "", time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	if _, err := l.CompleteTask(created.ID); err != nil {
		t.Fatalf("first complete: %v", err)
	}
	if _, err := l.CompleteTask(created.ID); !errors.Is(err, errs.ErrInvalidState) {
		t.Fatalf("second complete: err = %v, want invalid state", err)
	}
}

func TestCreateTaskRequiresTitle(t *testing.T) {
	l := New(nil, nil)
	if _, err := l.CreateTask("  ", "nurse.lee", "", time.Time{}); !errors.Is(err, errs.ErrValidation) {
		t.Fatalf("err = %v, want validation", err)
	}
}

func TestNotesAppendOnly(t *testing.T) {
	now := time.Date(2026, 2, 10, 9, 0, 0, 0, time.UTC)
	l := New(clock.NewFixed(now), nil)

	if _, err := l.AddNote("nurse.lee", "RN", ""); !errors.Is(err, errs.ErrValidation) {
		t.Fatalf("empty note: err = %v, want validation", err)
	}

	first, err := l.AddNote("nurse.lee", "RN", "Patient reports dizziness in the morning.")
	if err != nil {
		t.Fatalf("AddNote: %v", err)
	}
	second, err := l.AddNote("dr.okafor", "MD", "Adjusting evening dose timing.")
	if err != nil {
		t.Fatalf("AddNote: %v", err)
	}

	notes := l.Notes()
	if len(notes) != 2 {
		t.Fatalf("len(notes) = %d, want 2", len(notes))
	}
	if notes[0].ID != first.ID || notes[1].ID != second.ID {
		t.Fatalf("notes out of append order")
	}
	if notes[0].Timestamp != now {
		t.Fatalf("note timestamp = %v, want %v", notes[0].Timestamp, now)
	}
}

func TestTasksCreationOrder(t *testing.T) {
	l := New(nil, nil)
	a, _ := l.CreateTask("A", "x", "", time.Time{})
	b, _ := l.CreateTask("B", "x", "", time.Time{})
	c, _ := l.CreateTask("C", "x", "", time.Time{})

	got := l.Tasks()
	want := []string{a.ID, b.ID, c.ID}
	for i, id := range want {
		if got[i].ID != id {
			t.Fatalf("tasks[%d].ID = %s, want %s", i, got[i].ID, id)
		}
	}
}
