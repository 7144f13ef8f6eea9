package idempotency

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/luminacare/twinpulse/internal/domain/event"
	"github.com/luminacare/twinpulse/internal/errs"
)

func TestKeyCollidesAcrossClockDrift(t *testing.T) {
	base := time.Date(2026, 3, 1, 8, 30, 10, 0, time.UTC)
	ce := event.CareEvent{ID: "e1", PatientID: "p1", Kind: event.KindDose, Timestamp: base}

	drifted := ce
	drifted.Timestamp = base.Add(40 * time.Second) // same minute

	if Key(ce) != Key(drifted) {
		t.Fatal("keys differ for deliveries within the same minute")
	}

	nextMinute := ce
	nextMinute.Timestamp = base.Add(time.Minute)
	if Key(ce) == Key(nextMinute) {
		t.Fatal("keys collide across minutes")
	}

	otherPatient := ce
	otherPatient.PatientID = "p2"
	if Key(ce) == Key(otherPatient) {
		t.Fatal("keys collide across patients")
	}
}

func TestTerminalClassification(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"validation", errs.Validation("bad dose", nil), true},
		{"unknown patient", errs.NotFound("patient", "p9"), true},
		{"illegal transition", errs.InvalidState("already done"), true},
		{"wrapped validation", fmt.Errorf("ingest: %w", errs.Validation("bad", nil)), true},
		{"store outage", errors.New("connection refused"), false},
		{"scorer timeout", errs.Upstream("risk-scorer", errors.New("timeout")), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := terminal(tc.err); got != tc.want {
				t.Fatalf("terminal(%v) = %v, want %v", tc.err, got, tc.want)
			}
		})
	}
}
