package readmodel

import (
	"context"
	"fmt"
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

// Components are the live per-patient components the assembler reads from.
type Components struct {
	Alerts      *alerts.Engine
	Predictions *predictions.Aggregator
	Actions     *nba.Generator
	Ledger      *ledger.Ledger
}

// Provider resolves the components owned by the orchestrator for a patient.
type Provider interface {
	Components(patientID string) (Components, bool)
}

// Assembler builds dashboard snapshots. Each Assemble call reads the current
// committed state of every component; per-component reads are consistent,
// never a partial swap.
type Assembler struct {
	registry      *patient.Registry
	events        eventstore.Store
	calc          *adherence.Calculator
	surveys       *engagement.Store
	provider      Provider
	window        time.Duration
	lateThreshold time.Duration
	clk           clock.Clock
}

func NewAssembler(
	registry *patient.Registry,
	events eventstore.Store,
	calc *adherence.Calculator,
	surveys *engagement.Store,
	provider Provider,
	window, lateThreshold time.Duration,
	clk clock.Clock,
) *Assembler {
	if clk == nil {
		clk = clock.System{}
	}
	return &Assembler{
		registry:      registry,
		events:        events,
		calc:          calc,
		surveys:       surveys,
		provider:      provider,
		window:        window,
		lateThreshold: lateThreshold,
		clk:           clk,
	}
}

// Assemble builds the snapshot for one patient.
func (a *Assembler) Assemble(ctx context.Context, patientID string) (Snapshot, error) {
	p, err := a.registry.Get(patientID)
	if err != nil {
		return Snapshot{}, err
	}
	comps, ok := a.provider.Components(patientID)
	if !ok {
		return Snapshot{}, errs.NotFound("patient state", patientID)
	}

	now := a.clk.Now()
	snap := Snapshot{
		PatientID:   p.ID,
		GeneratedAt: now,
		Name:        p.Name,
		Age:         p.Age,
		Sex:         p.Sex,
		Location:    p.Location,
	}
	for _, c := range p.CareTeam {
		snap.CareTeam = append(snap.CareTeam, Caregiver{Name: c.Name, Role: c.Role})
	}
	for _, c := range p.Conditions {
		snap.Conditions = append(snap.Conditions, Condition(c))
	}
	for _, e := range p.Episodes {
		snap.Episodes = append(snap.Episodes, Episode{
			Title: e.Title, Date: e.Date, Summary: e.Summary, Tags: e.Tags, Location: e.Location,
		})
	}

	if snap.Medications, err = a.medications(ctx, patientID); err != nil {
		return Snapshot{}, err
	}
	if snap.Vitals, err = a.vitals(ctx, patientID, now); err != nil {
		return Snapshot{}, err
	}
	if snap.Communications, err = a.communications(ctx, patientID); err != nil {
		return Snapshot{}, err
	}

	for _, al := range comps.Alerts.ListActive() {
		snap.Alerts = append(snap.Alerts, Alert{
			ID:              al.ID,
			Priority:        string(al.Priority),
			Title:           al.Title,
			Message:         al.Message,
			SuggestedAction: al.SuggestedAction,
			Status:          string(al.Status),
			CreatedAt:       al.CreatedAt,
			UpdatedAt:       al.UpdatedAt,
		})
	}
	for _, pr := range comps.Predictions.Current() {
		snap.Predictions = append(snap.Predictions, Prediction{
			ID:          pr.ID,
			Label:       pr.Label,
			Probability: pr.Probability,
			Drivers:     pr.Drivers,
			AsOf:        pr.AsOf,
		})
	}
	for _, act := range comps.Actions.List() {
		snap.Actions = append(snap.Actions, Action{
			ID:                   act.ID,
			Priority:             string(act.Priority),
			Action:               act.Action,
			Rationale:            act.Rationale,
			TalkTrack:            act.TalkTrack,
			Status:               string(act.Status),
			TriggerAlertIDs:      act.TriggerAlertIDs,
			TriggerPredictionIDs: act.TriggerPredictionIDs,
			SnoozedUntil:         act.SnoozedUntil,
		})
	}
	for _, t := range comps.Ledger.Tasks() {
		snap.Tasks = append(snap.Tasks, Task{
			ID:          t.ID,
			Title:       t.Title,
			Owner:       t.Owner,
			Due:         t.Due,
			Description: t.Description,
			Status:      string(t.Status),
			CompletedAt: t.CompletedAt,
		})
	}
	for _, n := range comps.Ledger.Notes() {
		snap.Notes = append(snap.Notes, Note{
			ID: n.ID, Author: n.Author, Role: n.Role, Text: n.Text, Timestamp: n.Timestamp,
		})
	}

	sum := a.surveys.Summarize(patientID)
	snap.Satisfaction = Satisfaction{
		LatestNPS:   sum.LatestNPS,
		AverageCSAT: sum.AverageCSAT,
		CSATSamples: sum.CSATSamples,
		ByEpisode:   sum.ByEpisode,
	}
	return snap, nil
}

// medications scores each medication over the rolling window from its own
// dose events.
func (a *Assembler) medications(ctx context.Context, patientID string) ([]MedicationAdherence, error) {
	doses, err := a.events.Query(ctx, patientID, event.KindDose, eventstore.TimeRange{})
	if err != nil {
		return nil, fmt.Errorf("query dose events: %w", err)
	}

	byMed := make(map[string][]event.CareEvent)
	for _, ce := range doses {
		d, err := ce.DecodeDose()
		if err != nil {
			return nil, err
		}
		byMed[d.MedicationID] = append(byMed[d.MedicationID], ce)
	}

	var out []MedicationAdherence
	for _, m := range a.registry.Medications(patientID) {
		res, err := a.calc.Compute(byMed[m.ID], a.window, a.lateThreshold)
		if err != nil {
			return nil, err
		}
		out = append(out, MedicationAdherence{
			MedicationID: m.ID,
			Name:         m.Name,
			Schedule:     string(m.Schedule),
			TimesPerDay:  m.TimesPerDay,
			Purpose:      m.Purpose,
			Adherence:    res.Percent(),
			OnTime:       res.OnTime,
			Late:         res.Late,
			Missed:       res.Missed,
			Pending:      res.Pending,
		})
	}
	return out, nil
}

// vitals groups readings per metric, preserving store order within a series.
func (a *Assembler) vitals(ctx context.Context, patientID string, now time.Time) ([]VitalSeries, error) {
	events, err := a.events.Query(ctx, patientID, event.KindVital, eventstore.TimeRange{From: now.Add(-a.window)})
	if err != nil {
		return nil, fmt.Errorf("query vital events: %w", err)
	}

	byMetric := make(map[string]*VitalSeries)
	var order []string
	for _, ce := range events {
		v, err := ce.DecodeVital()
		if err != nil {
			return nil, err
		}
		s, ok := byMetric[v.Metric]
		if !ok {
			s = &VitalSeries{Metric: v.Metric, Unit: v.Unit}
			byMetric[v.Metric] = s
			order = append(order, v.Metric)
		}
		s.Points = append(s.Points, VitalPoint{At: v.At, Value: v.Value})
		s.Latest = v.Value
	}

	out := make([]VitalSeries, 0, len(order))
	for _, metric := range order {
		s := byMetric[metric]
		var total float64
		for _, pt := range s.Points {
			total += pt.Value
		}
		s.Mean = total / float64(len(s.Points))
		out = append(out, *s)
	}
	return out, nil
}

func (a *Assembler) communications(ctx context.Context, patientID string) ([]Communication, error) {
	events, err := a.events.Query(ctx, patientID, event.KindCommunication, eventstore.TimeRange{})
	if err != nil {
		return nil, fmt.Errorf("query communication events: %w", err)
	}
	var out []Communication
	for _, ce := range events {
		c, err := ce.DecodeCommunication()
		if err != nil {
			return nil, err
		}
		out = append(out, Communication{
			Direction: string(c.Direction),
			Channel:   c.Channel,
			Actor:     c.Actor,
			At:        c.At,
			Subject:   c.Subject,
		})
	}
	return out, nil
}
