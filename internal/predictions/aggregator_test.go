package predictions

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/luminacare/twinpulse/pkg/clock"
)

var asOf = time.Date(2026, 3, 9, 2, 0, 0, 0, time.UTC)

func TestIngestClampsProbability(t *testing.T) {
	agg := NewAggregator(3, clock.NewFixed(asOf), nil, nil)

	got := agg.Ingest([]RawScore{
		{Label: "30d Hyperglycemia Risk", Probability: 1.4, Drivers: []string{"late dinners"}},
		{Label: "30d HTN Escalation", Probability: -0.2, Drivers: []string{"evening variability"}},
	})

	if len(got) != 2 {
		t.Fatalf("predictions = %d, want 2", len(got))
	}
	if got[0].Probability != 1.0 {
		t.Errorf("probability 1.4 stored as %v, want 1.0", got[0].Probability)
	}
	if got[1].Probability != 0.0 {
		t.Errorf("probability -0.2 stored as %v, want 0.0", got[1].Probability)
	}
}

func TestIngestCountsRangeWarnings(t *testing.T) {
	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "test_range_warnings_total"})
	agg := NewAggregator(3, clock.NewFixed(asOf), nil, counter)

	agg.Ingest([]RawScore{
		{Label: "30d Hyperglycemia Risk", Probability: 1.4},
		{Label: "30d HTN Escalation", Probability: -0.2},
		{Label: "90d Readmission", Probability: 0.5},
	})

	if got := testutil.ToFloat64(counter); got != 2 {
		t.Fatalf("range warnings = %v, want 2", got)
	}
}

func TestIngestTruncatesDrivers(t *testing.T) {
	agg := NewAggregator(3, clock.NewFixed(asOf), nil, nil)

	got := agg.Ingest([]RawScore{{
		Label:       "90d Readmission",
		Probability: 0.06,
		Drivers:     []string{"good PT adherence", "no infection signs", "stable gait", "extra driver"},
	}})

	if len(got[0].Drivers) != 3 {
		t.Errorf("drivers = %d, want 3", len(got[0].Drivers))
	}
	if got[0].Drivers[0] != "good PT adherence" {
		t.Errorf("driver order changed: %v", got[0].Drivers)
	}
}

func TestIngestOrdering(t *testing.T) {
	agg := NewAggregator(3, clock.NewFixed(asOf), nil, nil)

	got := agg.Ingest([]RawScore{
		{Label: "B risk", Probability: 0.12},
		{Label: "A risk", Probability: 0.12},
		{Label: "C risk", Probability: 0.18},
	})

	want := []string{"C risk", "A risk", "B risk"}
	for i, label := range want {
		if got[i].Label != label {
			t.Errorf("rank %d = %s, want %s", i, got[i].Label, label)
		}
	}
}

func TestIngestReplacesWholesale(t *testing.T) {
	agg := NewAggregator(3, clock.NewFixed(asOf), nil, nil)

	agg.Ingest([]RawScore{
		{Label: "old A", Probability: 0.5},
		{Label: "old B", Probability: 0.4},
	})
	agg.Ingest([]RawScore{{Label: "new only", Probability: 0.3}})

	current := agg.Current()
	if len(current) != 1 || current[0].Label != "new only" {
		t.Fatalf("current = %+v, want only the new set", current)
	}
	if !current[0].AsOf.Equal(asOf) {
		t.Errorf("as-of = %v, want %v", current[0].AsOf, asOf)
	}
}
