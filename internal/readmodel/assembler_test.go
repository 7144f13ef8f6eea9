package readmodel

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/luminacare/twinpulse/internal/adherence"
	"github.com/luminacare/twinpulse/internal/alerts"
	"github.com/luminacare/twinpulse/internal/domain/event"
	"github.com/luminacare/twinpulse/internal/domain/patient"
	"github.com/luminacare/twinpulse/internal/engagement"
	"github.com/luminacare/twinpulse/internal/errs"
	"github.com/luminacare/twinpulse/internal/eventstore"
	"github.com/luminacare/twinpulse/internal/ledger"
	"github.com/luminacare/twinpulse/internal/nba"
	"github.com/luminacare/twinpulse/internal/predictions"
	"github.com/luminacare/twinpulse/pkg/clock"
)

var snapTime = time.Date(2026, 4, 2, 9, 0, 0, 0, time.UTC)

type stubProvider struct {
	comps Components
}

func (s stubProvider) Components(patientID string) (Components, bool) {
	if patientID != "PT-1" {
		return Components{}, false
	}
	return s.comps, true
}

func fixture(t *testing.T) (*Assembler, Components) {
	t.Helper()
	clk := clock.NewFixed(snapTime)

	reg := patient.NewRegistry()
	if err := reg.Add(patient.Patient{
		ID:       "PT-1",
		Name:     "Asha Rao",
		Age:      67,
		Sex:      "F",
		Location: "Pune",
		CareTeam: []patient.Caregiver{{Name: "Dr. Okafor", Role: "Cardiologist"}},
		Conditions: []patient.Condition{
			{Name: "Type 2 Diabetes", Since: "2019", Status: "active"},
		},
		Episodes: []patient.Episode{
			{Title: "OPD review", Date: snapTime.Add(-30 * 24 * time.Hour), Summary: "Stable", Location: "Clinic 4"},
		},
	}); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := reg.AddMedication("PT-1", patient.Medication{ID: "M1", Name: "Metformin", Schedule: patient.ScheduleDaily, TimesPerDay: 2, Purpose: "Glycemic control"}); err != nil {
		t.Fatalf("AddMedication: %v", err)
	}

	store := eventstore.NewMemory()
	taken := snapTime.Add(-24*time.Hour + 5*time.Minute)
	seed := []func() (event.CareEvent, error){
		func() (event.CareEvent, error) {
			return event.NewDose("PT-1", event.Dose{MedicationID: "M1", ScheduledAt: snapTime.Add(-24 * time.Hour), TakenAt: &taken, Source: event.SourceDeviceMeasured, Confidence: 1})
		},
		func() (event.CareEvent, error) {
			return event.NewVital("PT-1", event.Vital{Metric: "glucose", Value: 132, Unit: "mg/dL", At: snapTime.Add(-20 * time.Hour)})
		},
		func() (event.CareEvent, error) {
			return event.NewVital("PT-1", event.Vital{Metric: "glucose", Value: 148, Unit: "mg/dL", At: snapTime.Add(-2 * time.Hour)})
		},
		func() (event.CareEvent, error) {
			return event.NewCommunication("PT-1", event.Communication{Direction: event.DirectionOutbound, Channel: "sms", Actor: "system", At: snapTime.Add(-3 * time.Hour), Subject: "Refill reminder"})
		},
	}
	for _, mk := range seed {
		ce, err := mk()
		if err != nil {
			t.Fatalf("seed event: %v", err)
		}
		if _, err := store.Append(context.Background(), ce); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	surveys := engagement.NewStore()
	nps := 8
	if err := surveys.Record(engagement.Response{PatientID: "PT-1", NPS: &nps, At: snapTime.Add(-48 * time.Hour)}); err != nil {
		t.Fatalf("Record: %v", err)
	}

	comps := Components{
		Alerts:      alerts.NewEngine(nil, clk, nil),
		Predictions: predictions.NewAggregator(3, clk, nil, nil),
		Actions:     nba.NewGenerator(24*time.Hour, clk, nil),
		Ledger:      ledger.New(clk, nil),
	}
	comps.Predictions.Ingest([]predictions.RawScore{
		{Label: "readmission", Probability: 0.82, Drivers: []string{"missed doses"}},
	})
	if _, err := comps.Ledger.CreateTask("Confirm refill", "nurse.lee", "", snapTime.Add(72*time.Hour)); err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	if _, err := comps.Ledger.AddNote("nurse.lee", "RN", "Spoke to daughter about pillbox."); err != nil {
		t.Fatalf("AddNote: %v", err)
	}

	a := NewAssembler(reg, store, adherence.NewCalculator(clk), surveys, stubProvider{comps: comps}, 30*24*time.Hour, 30*time.Minute, clk)
	return a, comps
}

func TestAssembleSnapshot(t *testing.T) {
	a, _ := fixture(t)

	snap, err := a.Assemble(context.Background(), "PT-1")
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}

	if snap.PatientID != "PT-1" || snap.Name != "Asha Rao" {
		t.Fatalf("identity = %s/%s", snap.PatientID, snap.Name)
	}
	if len(snap.CareTeam) != 1 || snap.CareTeam[0].Role != "Cardiologist" {
		t.Fatalf("care team = %+v", snap.CareTeam)
	}
	if len(snap.Conditions) != 1 || len(snap.Episodes) != 1 {
		t.Fatalf("conditions/episodes = %d/%d", len(snap.Conditions), len(snap.Episodes))
	}

	if len(snap.Medications) != 1 {
		t.Fatalf("medications = %+v", snap.Medications)
	}
	med := snap.Medications[0]
	if med.MedicationID != "M1" || med.Adherence != 100 || med.OnTime != 1 {
		t.Fatalf("medication adherence = %+v", med)
	}

	if len(snap.Vitals) != 1 {
		t.Fatalf("vitals = %+v", snap.Vitals)
	}
	glucose := snap.Vitals[0]
	if glucose.Metric != "glucose" || glucose.Latest != 148 || glucose.Mean != 140 || len(glucose.Points) != 2 {
		t.Fatalf("glucose series = %+v", glucose)
	}

	if len(snap.Predictions) != 1 || snap.Predictions[0].Label != "readmission" {
		t.Fatalf("predictions = %+v", snap.Predictions)
	}
	if len(snap.Tasks) != 1 || snap.Tasks[0].Status != "Open" {
		t.Fatalf("tasks = %+v", snap.Tasks)
	}
	if len(snap.Notes) != 1 {
		t.Fatalf("notes = %+v", snap.Notes)
	}
	if len(snap.Communications) != 1 || snap.Communications[0].Subject != "Refill reminder" {
		t.Fatalf("communications = %+v", snap.Communications)
	}
	if snap.Satisfaction.LatestNPS == nil || *snap.Satisfaction.LatestNPS != 8 {
		t.Fatalf("satisfaction = %+v", snap.Satisfaction)
	}
	if !snap.GeneratedAt.Equal(snapTime) {
		t.Fatalf("GeneratedAt = %v", snap.GeneratedAt)
	}
}

func TestAssembleIdempotent(t *testing.T) {
	a, _ := fixture(t)

	first, err := a.Assemble(context.Background(), "PT-1")
	if err != nil {
		t.Fatalf("first Assemble: %v", err)
	}
	second, err := a.Assemble(context.Background(), "PT-1")
	if err != nil {
		t.Fatalf("second Assemble: %v", err)
	}
	if len(first.Medications) != len(second.Medications) || first.Medications[0].Adherence != second.Medications[0].Adherence {
		t.Fatalf("repeated assembly diverged: %+v vs %+v", first.Medications, second.Medications)
	}
}

func TestAssembleUnknownPatient(t *testing.T) {
	a, _ := fixture(t)
	if _, err := a.Assemble(context.Background(), "nope"); !errors.Is(err, errs.ErrNotFound) {
		t.Fatalf("err = %v, want not found", err)
	}
}
