// Package adherence computes rolling adherence scores and per-dose
// classifications for a medication.
package adherence

import (
	"time"

	"github.com/luminacare/twinpulse/internal/domain/event"
	"github.com/luminacare/twinpulse/internal/errs"
	"github.com/luminacare/twinpulse/pkg/clock"
)

// Result is the outcome of one adherence computation.
type Result struct {
	// Score is the adherence fraction in [0,1]: (on_time + late) divided by
	// doses scheduled in the window, pending doses excluded.
	Score float64
	// PerDose carries each dose with its derived classification, ordered as
	// supplied.
	PerDose []event.Dose
	// OnTime, Late, Missed, Pending count the classifications in the window.
	OnTime  int
	Late    int
	Missed  int
	Pending int
}

// Percent returns the score scaled to 0-100 for display.
func (r Result) Percent() float64 { return r.Score * 100 }

// Calculator classifies doses and scores adherence. It is a pure function of
// its inputs plus the injected clock; no network or hidden time reads.
type Calculator struct {
	clk clock.Clock
}

// NewCalculator creates a calculator using clk for "now".
func NewCalculator(clk clock.Clock) *Calculator {
	if clk == nil {
		clk = clock.System{}
	}
	return &Calculator{clk: clk}
}

// Classify derives the state of a single dose. The classification is a pure
// function of (scheduled time, taken time, late threshold, now): a taken dose
// within the threshold is on_time, beyond it is late; an untaken dose past
// the grace window is missed, and still inside it is pending.
func (c *Calculator) Classify(d event.Dose, lateThreshold time.Duration) event.DoseState {
	if d.TakenAt == nil {
		if c.clk.Now().After(d.ScheduledAt.Add(lateThreshold)) {
			return event.DoseMissed
		}
		return event.DosePending
	}
	if d.TakenAt.Sub(d.ScheduledAt) <= lateThreshold {
		return event.DoseOnTime
	}
	return event.DoseLate
}

// Compute classifies every dose scheduled within the rolling window ending at
// "now" and returns the adherence score. A validation failure for any event
// in the window rejects the whole computation; the window is never partially
// applied.
//
// Doses sharing a (medication, scheduled time) supersede key collapse to the
// latest arrival, so corrections replace rather than double-count.
func (c *Calculator) Compute(events []event.CareEvent, window, lateThreshold time.Duration) (Result, error) {
	now := c.clk.Now()
	windowStart := now.Add(-window)

	// Latest arrival wins per supersede key; first-seen position is kept so
	// output order is stable.
	latest := make(map[string]int, len(events))
	doses := make([]event.Dose, 0, len(events))

	for _, e := range events {
		d, err := e.DecodeDose()
		if err != nil {
			return Result{}, err
		}
		if d.ScheduledAt.IsZero() {
			return Result{}, errs.Validation("dose event missing scheduled time",
				map[string]string{"event_id": e.ID})
		}
		key := d.SupersedeKey()
		if i, seen := latest[key]; seen {
			doses[i] = d
			continue
		}
		latest[key] = len(doses)
		doses = append(doses, d)
	}

	res := Result{PerDose: make([]event.Dose, 0, len(doses))}
	scheduled := 0
	taken := 0

	for _, d := range doses {
		if d.ScheduledAt.Before(windowStart) || d.ScheduledAt.After(now) {
			continue
		}
		d.State = c.Classify(d, lateThreshold)
		res.PerDose = append(res.PerDose, d)

		switch d.State {
		case event.DoseOnTime:
			res.OnTime++
			scheduled++
			taken++
		case event.DoseLate:
			res.Late++
			scheduled++
			taken++
		case event.DoseMissed:
			res.Missed++
			scheduled++
		case event.DosePending:
			// Not yet classifiable; excluded from the denominator until
			// it resolves.
			res.Pending++
		}
	}

	if scheduled == 0 {
		res.Score = 1.0
		return res, nil
	}
	res.Score = float64(taken) / float64(scheduled)
	return res, nil
}
