package alerts

import (
	"errors"
	"testing"
	"time"

	"github.com/luminacare/twinpulse/internal/domain/event"
	"github.com/luminacare/twinpulse/internal/errs"
	"github.com/luminacare/twinpulse/pkg/clock"
)

var evalTime = time.Date(2026, 3, 9, 7, 20, 0, 0, time.UTC)

func adherenceRules() []Rule {
	return []Rule{
		{
			ID:              "adherence-low",
			Priority:        PriorityHigh,
			Title:           "Medication adherence below target",
			MessageTemplate: "Rolling adherence dropped below 85%% as of %s.",
			SuggestedAction: "Schedule a coaching call and review dose reminders.",
			Requires:        []string{"adherence:M1"},
			Order:           1,
			Condition:       ThresholdBelow("adherence:M1", 0.85),
		},
		{
			ID:              "glucose-high",
			Priority:        PriorityMed,
			Title:           "Elevated fasting glucose",
			SuggestedAction: "Reinforce diet; review SMBG at bedtime.",
			Requires:        []string{"glucose_avg_3d"},
			Order:           2,
			Condition:       ThresholdAbove("glucose_avg_3d", 140),
		},
	}
}

func snap(values map[string]float64) Snapshot {
	return Snapshot{PatientID: "PT-10724", At: evalTime, Values: values}
}

func TestEvaluateRaisesAndResolves(t *testing.T) {
	eng := NewEngine(adherenceRules(), clock.NewFixed(evalTime), nil)

	active := eng.Evaluate(snap(map[string]float64{"adherence:M1": 0.667, "glucose_avg_3d": 120}))
	if len(active) != 1 {
		t.Fatalf("active alerts = %d, want 1", len(active))
	}
	if active[0].RuleID != "adherence-low" || active[0].Priority != PriorityHigh {
		t.Errorf("alert = %+v, want high-priority adherence-low", active[0])
	}
	if active[0].Status != StatusActive {
		t.Errorf("status = %v, want active", active[0].Status)
	}

	// Score recovers: the alert auto-resolves, distinct from dismissal.
	active = eng.Evaluate(snap(map[string]float64{"adherence:M1": 0.90, "glucose_avg_3d": 120}))
	if len(active) != 0 {
		t.Fatalf("active after recovery = %d, want 0", len(active))
	}
	history := eng.History()
	if len(history) != 1 || history[0].Status != StatusResolved {
		t.Errorf("history = %+v, want one resolved alert", history)
	}
}

func TestEvaluateIdempotent(t *testing.T) {
	eng := NewEngine(adherenceRules(), clock.NewFixed(evalTime), nil)
	values := map[string]float64{"adherence:M1": 0.5, "glucose_avg_3d": 150}

	first := eng.Evaluate(snap(values))
	second := eng.Evaluate(snap(values))

	if len(first) != 2 || len(second) != 2 {
		t.Fatalf("active counts = %d then %d, want 2 and 2", len(first), len(second))
	}
	for i := range first {
		if first[i].ID != second[i].ID {
			t.Errorf("rank %d: id changed across identical evaluations (%s vs %s)",
				i, first[i].ID, second[i].ID)
		}
	}
}

func TestDismissSuppressesSameBreach(t *testing.T) {
	eng := NewEngine(adherenceRules(), clock.NewFixed(evalTime), nil)
	values := map[string]float64{"adherence:M1": 0.5, "glucose_avg_3d": 100}

	active := eng.Evaluate(snap(values))
	if len(active) != 1 {
		t.Fatalf("active = %d, want 1", len(active))
	}
	firstID := active[0].ID

	if err := eng.Dismiss(firstID); err != nil {
		t.Fatalf("Dismiss: %v", err)
	}

	// Same breach instance must not resurrect.
	active = eng.Evaluate(snap(values))
	if len(active) != 0 {
		t.Fatalf("active after dismiss + re-evaluate = %d, want 0", len(active))
	}

	// Condition recovers, then breaches again: a new breach window gets a
	// new alert id.
	eng.Evaluate(snap(map[string]float64{"adherence:M1": 0.95, "glucose_avg_3d": 100}))
	active = eng.Evaluate(Snapshot{
		PatientID: "PT-10724",
		At:        evalTime.Add(24 * time.Hour),
		Values:    values,
	})
	if len(active) != 1 {
		t.Fatalf("active after new breach = %d, want 1", len(active))
	}
	if active[0].ID == firstID {
		t.Error("new breach reused the dismissed alert id")
	}
}

func TestDismissErrors(t *testing.T) {
	eng := NewEngine(adherenceRules(), clock.NewFixed(evalTime), nil)

	if err := eng.Dismiss("missing"); !errors.Is(err, errs.ErrNotFound) {
		t.Errorf("dismiss unknown id = %v, want ErrNotFound", err)
	}

	active := eng.Evaluate(snap(map[string]float64{"adherence:M1": 0.5, "glucose_avg_3d": 100}))
	id := active[0].ID
	if err := eng.Dismiss(id); err != nil {
		t.Fatalf("Dismiss: %v", err)
	}
	if err := eng.Dismiss(id); !errors.Is(err, errs.ErrInvalidState) {
		t.Errorf("double dismiss = %v, want ErrInvalidState", err)
	}
}

func TestPriorityMonotone(t *testing.T) {
	eng := NewEngine(adherenceRules(), clock.NewFixed(evalTime), nil)
	active := eng.Evaluate(snap(map[string]float64{"adherence:M1": 0.5, "glucose_avg_3d": 100}))
	id := active[0].ID

	if err := eng.Escalate(id, PriorityLow); !errors.Is(err, errs.ErrInvalidState) {
		t.Errorf("lowering priority = %v, want ErrInvalidState", err)
	}
	if err := eng.Escalate(id, PriorityHigh); err != nil {
		t.Errorf("re-asserting same priority = %v, want nil", err)
	}
}

func TestMissingMetricSkipsOnlyThatRule(t *testing.T) {
	eng := NewEngine(adherenceRules(), clock.NewFixed(evalTime), nil)

	// Snapshot lacks glucose_avg_3d: only the adherence rule runs.
	active := eng.Evaluate(snap(map[string]float64{"adherence:M1": 0.5}))
	if len(active) != 1 || active[0].RuleID != "adherence-low" {
		t.Fatalf("active = %+v, want only adherence-low", active)
	}
}

func TestRankingTotalOrder(t *testing.T) {
	rules := adherenceRules()
	rules = append(rules, Rule{
		ID:              "bp-variability",
		Priority:        PriorityMed,
		Title:           "BP variability",
		SuggestedAction: "Check BP after physio sessions.",
		Requires:        []string{"sbp_cv"},
		Order:           3,
		Condition:       ThresholdAbove("sbp_cv", 3.0),
	})
	eng := NewEngine(rules, clock.NewFixed(evalTime), nil)
	values := map[string]float64{"adherence:M1": 0.5, "glucose_avg_3d": 150, "sbp_cv": 3.8}

	active := eng.Evaluate(snap(values))
	if len(active) != 3 {
		t.Fatalf("active = %d, want 3", len(active))
	}
	if active[0].RuleID != "adherence-low" {
		t.Errorf("rank 0 = %s, want adherence-low (high priority first)", active[0].RuleID)
	}
	// Both med alerts share the evaluation timestamp; rule order breaks
	// the tie deterministically.
	if active[1].RuleID != "glucose-high" || active[2].RuleID != "bp-variability" {
		t.Errorf("med ordering = %s, %s; want glucose-high, bp-variability",
			active[1].RuleID, active[2].RuleID)
	}
}

func TestReminderSuppression(t *testing.T) {
	rules := []Rule{{
		ID:              "vitd-adherence",
		Priority:        PriorityLow,
		Title:           "Adherence dip, vitamin D",
		SuggestedAction: "Automate the weekly reminder.",
		Requires:        []string{"adherence:M4"},
		Condition:       ThresholdBelow("adherence:M4", 0.85),
		SuppressedBy:    ReminderSent("vitamin d reminder", 24*time.Hour),
	}}
	eng := NewEngine(rules, clock.NewFixed(evalTime), nil)

	s := snap(map[string]float64{"adherence:M4": 0.80})
	s.Comms = []event.Communication{{
		Direction: event.DirectionOutbound,
		Channel:   "SMS",
		Actor:     "Twin Agent",
		At:        evalTime.Add(-2 * time.Hour),
		Subject:   "Vitamin D reminder scheduled",
	}}

	if active := eng.Evaluate(s); len(active) != 0 {
		t.Fatalf("active = %d, want 0 (reminder already sent)", len(active))
	}

	// Without the recent reminder the alert fires.
	s.Comms = nil
	eng2 := NewEngine(rules, clock.NewFixed(evalTime), nil)
	if active := eng2.Evaluate(s); len(active) != 1 {
		t.Fatalf("active without reminder = %d, want 1", len(active))
	}
}
