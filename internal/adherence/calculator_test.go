package adherence

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/luminacare/twinpulse/internal/domain/event"
	"github.com/luminacare/twinpulse/internal/errs"
	"github.com/luminacare/twinpulse/pkg/clock"
)

var base = time.Date(2026, 3, 9, 8, 0, 0, 0, time.UTC)

func doseEvent(t *testing.T, med string, scheduled time.Time, taken *time.Time) event.CareEvent {
	t.Helper()
	e, err := event.NewDose("PT-10724", event.Dose{
		MedicationID: med,
		ScheduledAt:  scheduled,
		TakenAt:      taken,
		Source:       event.SourceDeviceMeasured,
		Confidence:   0.95,
	})
	if err != nil {
		t.Fatalf("NewDose: %v", err)
	}
	return e
}

func at(t time.Time) *time.Time { return &t }

func TestClassify(t *testing.T) {
	threshold := 30 * time.Minute
	now := base.Add(48 * time.Hour)
	calc := NewCalculator(clock.NewFixed(now))

	tests := []struct {
		name  string
		dose  event.Dose
		want  event.DoseState
		clock time.Time
	}{
		{
			name: "taken within threshold",
			dose: event.Dose{ScheduledAt: base, TakenAt: at(base.Add(10 * time.Minute))},
			want: event.DoseOnTime,
		},
		{
			name: "taken beyond threshold",
			dose: event.Dose{ScheduledAt: base, TakenAt: at(base.Add(65 * time.Minute))},
			want: event.DoseLate,
		},
		{
			name: "untaken past grace window",
			dose: event.Dose{ScheduledAt: base},
			want: event.DoseMissed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := calc.Classify(tt.dose, threshold); got != tt.want {
				t.Errorf("Classify() = %v, want %v", got, tt.want)
			}
		})
	}

	// Untaken but still inside the grace window is pending, not missed.
	early := NewCalculator(clock.NewFixed(base.Add(10 * time.Minute)))
	if got := early.Classify(event.Dose{ScheduledAt: base}, threshold); got != event.DosePending {
		t.Errorf("Classify() inside grace window = %v, want pending", got)
	}
}

func TestComputeScenario(t *testing.T) {
	// scheduled 08:00 taken 08:10 (on_time), scheduled 20:00 taken 21:05
	// with 30min threshold (late), next-day 08:00 never taken (missed).
	events := []event.CareEvent{
		doseEvent(t, "M1", base, at(base.Add(10*time.Minute))),
		doseEvent(t, "M1", base.Add(12*time.Hour), at(base.Add(13*time.Hour+5*time.Minute))),
		doseEvent(t, "M1", base.Add(24*time.Hour), nil),
	}

	calc := NewCalculator(clock.NewFixed(base.Add(72 * time.Hour)))
	res, err := calc.Compute(events, 30*24*time.Hour, 30*time.Minute)
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}

	if res.OnTime != 1 || res.Late != 1 || res.Missed != 1 {
		t.Errorf("counts = on_time %d late %d missed %d, want 1/1/1", res.OnTime, res.Late, res.Missed)
	}
	if math.Abs(res.Score-2.0/3.0) > 1e-9 {
		t.Errorf("score = %v, want 2/3", res.Score)
	}
	if math.Abs(res.Percent()-66.666666) > 0.001 {
		t.Errorf("percent = %v, want ~66.7", res.Percent())
	}
}

func TestComputeBounds(t *testing.T) {
	calc := NewCalculator(clock.NewFixed(base.Add(72 * time.Hour)))
	window := 30 * 24 * time.Hour
	threshold := 30 * time.Minute

	perfect := []event.CareEvent{
		doseEvent(t, "M1", base, at(base)),
		doseEvent(t, "M1", base.Add(12*time.Hour), at(base.Add(12*time.Hour+5*time.Minute))),
	}
	res, err := calc.Compute(perfect, window, threshold)
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}
	if res.Score != 1.0 {
		t.Errorf("all on-time score = %v, want 1.0", res.Score)
	}

	allMissed := []event.CareEvent{
		doseEvent(t, "M1", base, nil),
		doseEvent(t, "M1", base.Add(12*time.Hour), nil),
	}
	res, err = calc.Compute(allMissed, window, threshold)
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}
	if res.Score != 0.0 {
		t.Errorf("all missed score = %v, want 0.0", res.Score)
	}
}

func TestComputePendingExcluded(t *testing.T) {
	now := base.Add(10 * time.Minute)
	calc := NewCalculator(clock.NewFixed(now))

	events := []event.CareEvent{
		doseEvent(t, "M1", base.Add(-12*time.Hour), at(base.Add(-12*time.Hour))),
		doseEvent(t, "M1", base, nil), // inside grace window
	}
	res, err := calc.Compute(events, 30*24*time.Hour, 30*time.Minute)
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}
	if res.Pending != 1 {
		t.Errorf("pending = %d, want 1", res.Pending)
	}
	if res.Score != 1.0 {
		t.Errorf("score with pending dose = %v, want 1.0 (pending excluded from denominator)", res.Score)
	}
}

func TestComputeSupersede(t *testing.T) {
	// A correction for the same (medication, scheduled time) replaces the
	// earlier event instead of double-counting.
	missed := doseEvent(t, "M1", base, nil)
	corrected := doseEvent(t, "M1", base, at(base.Add(5*time.Minute)))

	calc := NewCalculator(clock.NewFixed(base.Add(72 * time.Hour)))
	res, err := calc.Compute([]event.CareEvent{missed, corrected}, 30*24*time.Hour, 30*time.Minute)
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}
	if len(res.PerDose) != 1 {
		t.Fatalf("per-dose count = %d, want 1", len(res.PerDose))
	}
	if res.Score != 1.0 {
		t.Errorf("score after correction = %v, want 1.0", res.Score)
	}
}

func TestComputeRejectsMalformed(t *testing.T) {
	good := doseEvent(t, "M1", base, at(base))
	bad := good
	bad.Payload = []byte(`{"medication_id":"M1","scheduled_at":"0001-01-01T00:00:00Z"}`)

	calc := NewCalculator(clock.NewFixed(base.Add(72 * time.Hour)))
	_, err := calc.Compute([]event.CareEvent{good, bad}, 30*24*time.Hour, 30*time.Minute)
	if err == nil {
		t.Fatal("expected validation error for malformed event")
	}
	if !errors.Is(err, errs.ErrValidation) {
		t.Errorf("error = %v, want ErrValidation", err)
	}
}
