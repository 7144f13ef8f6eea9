// Package pipeline orchestrates the per-patient intelligence pass: event
// store reads feed the adherence calculator, whose output joins vital trends
// in the alert engine's metrics snapshot; scorer output flows through the
// prediction aggregator; both feed the next-best-action generator. Mutations
// for one patient are serialized behind a per-patient writer lock.
package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/luminacare/twinpulse/internal/adherence"
	"github.com/luminacare/twinpulse/internal/alerts"
	"github.com/luminacare/twinpulse/internal/config"
	"github.com/luminacare/twinpulse/internal/domain/event"
	"github.com/luminacare/twinpulse/internal/domain/patient"
	"github.com/luminacare/twinpulse/internal/eventstore"
	"github.com/luminacare/twinpulse/internal/ledger"
	"github.com/luminacare/twinpulse/internal/nba"
	"github.com/luminacare/twinpulse/internal/observability/metrics"
	"github.com/luminacare/twinpulse/internal/predictions"
	"github.com/luminacare/twinpulse/internal/readmodel"
	"github.com/luminacare/twinpulse/pkg/clock"
)

// vitalTrendWindow is the moving-average window exposed to alert rules as
// "<metric>_avg_3d".
const vitalTrendWindow = 72 * time.Hour

// Notifier publishes raised alerts to downstream consumers.
type Notifier interface {
	PublishAlert(ctx context.Context, patientID string, a alerts.Alert) error
}

// Pipeline owns the per-patient component instances and runs passes over
// them.
type Pipeline struct {
	registry   *patient.Registry
	store      eventstore.Store
	calc       *adherence.Calculator
	scorer     predictions.Scorer
	alertRules []alerts.Rule
	nbaRules   []nba.Rule
	cfg        config.Config
	clk        clock.Clock
	logger     *zap.Logger
	metrics    *metrics.Metrics
	notifier   Notifier

	mu     sync.Mutex
	states map[string]*patientState
}

// patientState groups one patient's mutable components. Its lock makes each
// pass the single writer for that patient.
type patientState struct {
	mu      sync.Mutex
	engine  *alerts.Engine
	preds   *predictions.Aggregator
	actions *nba.Generator
	ledger  *ledger.Ledger
}

// Options carries the optional collaborators.
type Options struct {
	Scorer   predictions.Scorer
	Metrics  *metrics.Metrics
	Notifier Notifier
	Logger   *zap.Logger
	Clock    clock.Clock
}

// New builds a pipeline over the given registry and event store.
func New(registry *patient.Registry, store eventstore.Store, alertRules []alerts.Rule, nbaRules []nba.Rule, cfg config.Config, opts Options) *Pipeline {
	clk := opts.Clock
	if clk == nil {
		clk = clock.System{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{
		registry:   registry,
		store:      store,
		calc:       adherence.NewCalculator(clk),
		scorer:     opts.Scorer,
		alertRules: alertRules,
		nbaRules:   nbaRules,
		cfg:        cfg,
		clk:        clk,
		logger:     logger,
		metrics:    opts.Metrics,
		notifier:   opts.Notifier,
		states:     make(map[string]*patientState),
	}
}

// state returns the patient's component set, creating it on first use.
func (p *Pipeline) state(patientID string) *patientState {
	p.mu.Lock()
	defer p.mu.Unlock()
	st, ok := p.states[patientID]
	if !ok {
		var rangeWarnings prometheus.Counter
		if p.metrics != nil {
			rangeWarnings = p.metrics.RangeWarnings
		}
		st = &patientState{
			engine:  alerts.NewEngine(p.alertRules, p.clk, p.logger),
			preds:   predictions.NewAggregator(p.cfg.MaxPredictionDrivers, p.clk, p.logger, rangeWarnings),
			actions: nba.NewGenerator(p.cfg.SnoozeDuration, p.clk, p.logger),
			ledger:  ledger.New(p.clk, p.logger),
		}
		p.states[patientID] = st
	}
	return st
}

// Components implements readmodel.Provider.
func (p *Pipeline) Components(patientID string) (readmodel.Components, bool) {
	if _, err := p.registry.Get(patientID); err != nil {
		return readmodel.Components{}, false
	}
	st := p.state(patientID)
	return readmodel.Components{
		Alerts:      st.engine,
		Predictions: st.preds,
		Actions:     st.actions,
		Ledger:      st.ledger,
	}, true
}

// RunPatient executes one full pass for a patient. The pass commits each
// component transition atomically; a scorer failure leaves the previous
// prediction set in place and is propagated for the caller to retry.
func (p *Pipeline) RunPatient(ctx context.Context, patientID string) error {
	if _, err := p.registry.Get(patientID); err != nil {
		return err
	}
	st := p.state(patientID)
	st.mu.Lock()
	defer st.mu.Unlock()

	started := time.Now()
	defer func() {
		if p.metrics != nil {
			p.metrics.PipelineDuration.Observe(time.Since(started).Seconds())
		}
	}()

	now := p.clk.Now()
	values, err := p.metricValues(ctx, patientID, now)
	if err != nil {
		return err
	}
	comms, err := p.communications(ctx, patientID)
	if err != nil {
		return err
	}

	before := activeIDs(st.engine.ListActive())
	active := st.engine.Evaluate(alerts.Snapshot{
		PatientID: patientID,
		At:        now,
		Values:    values,
		Comms:     comms,
	})
	p.recordAlertTransitions(ctx, patientID, before, active)

	if p.scorer != nil {
		raw, err := p.scorer.Score(ctx, patientID, values)
		if err != nil {
			return fmt.Errorf("score patient %s: %w", patientID, err)
		}
		st.preds.Ingest(raw)
	}

	generated := st.actions.Generate(active, st.preds.Current(), p.nbaRules)
	if p.metrics != nil {
		p.metrics.ActionsGenerated.Add(float64(len(generated)))
	}

	p.logger.Debug("pipeline pass complete",
		zap.String("patient_id", patientID),
		zap.Int("active_alerts", len(active)),
		zap.Int("actions", len(generated)))
	return nil
}

// RunAll runs a pass for every registered patient, checking for cancellation
// between patients. A cancelled run never leaves a single patient's state
// half-updated; completed patients stay updated, the rest keep their prior
// state.
func (p *Pipeline) RunAll(ctx context.Context) error {
	for _, id := range p.registry.IDs() {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := p.RunPatient(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

// metricValues assembles the named metric map alert rules and the scorer
// consume: per-medication and overall adherence fractions plus per-vital
// latest, mean, and 3-day moving-average statistics.
func (p *Pipeline) metricValues(ctx context.Context, patientID string, now time.Time) (map[string]float64, error) {
	values := make(map[string]float64)

	doses, err := p.store.Query(ctx, patientID, event.KindDose, eventstore.TimeRange{})
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
	window := p.cfg.AdherenceWindow()
	threshold := p.cfg.LateThreshold()
	for medID, medDoses := range byMed {
		res, err := p.calc.Compute(medDoses, window, threshold)
		if err != nil {
			return nil, err
		}
		values["adherence:"+medID] = res.Score
	}
	overall, err := p.calc.Compute(doses, window, threshold)
	if err != nil {
		return nil, err
	}
	values["adherence"] = overall.Score

	vitals, err := p.store.Query(ctx, patientID, event.KindVital, eventstore.TimeRange{From: now.Add(-window)})
	if err != nil {
		return nil, fmt.Errorf("query vital events: %w", err)
	}
	type stat struct {
		latest   float64
		sum      float64
		n        int
		trendSum float64
		trendN   int
	}
	stats := make(map[string]*stat)
	for _, ce := range vitals {
		v, err := ce.DecodeVital()
		if err != nil {
			return nil, err
		}
		s, ok := stats[v.Metric]
		if !ok {
			s = &stat{}
			stats[v.Metric] = s
		}
		s.latest = v.Value
		s.sum += v.Value
		s.n++
		if !v.At.Before(now.Add(-vitalTrendWindow)) {
			s.trendSum += v.Value
			s.trendN++
		}
	}
	for metric, s := range stats {
		values[metric+"_latest"] = s.latest
		values[metric+"_mean"] = s.sum / float64(s.n)
		if s.trendN > 0 {
			values[metric+"_avg_3d"] = s.trendSum / float64(s.trendN)
		}
	}
	return values, nil
}

func (p *Pipeline) communications(ctx context.Context, patientID string) ([]event.Communication, error) {
	events, err := p.store.Query(ctx, patientID, event.KindCommunication, eventstore.TimeRange{})
	if err != nil {
		return nil, fmt.Errorf("query communication events: %w", err)
	}
	out := make([]event.Communication, 0, len(events))
	for _, ce := range events {
		c, err := ce.DecodeCommunication()
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

// recordAlertTransitions counts raises and resolutions relative to the
// previous active set and fans newly raised alerts out to the notifier.
func (p *Pipeline) recordAlertTransitions(ctx context.Context, patientID string, before map[string]struct{}, active []alerts.Alert) {
	after := activeIDs(active)
	for _, a := range active {
		if _, existed := before[a.ID]; existed {
			continue
		}
		if p.metrics != nil {
			p.metrics.AlertsRaised.Inc()
		}
		if p.notifier != nil {
			if err := p.notifier.PublishAlert(ctx, patientID, a); err != nil {
				p.logger.Warn("alert notification failed",
					zap.String("alert_id", a.ID),
					zap.Error(err))
			}
		}
	}
	if p.metrics != nil {
		for id := range before {
			if _, still := after[id]; !still {
				p.metrics.AlertsResolved.Inc()
			}
		}
	}
}

func activeIDs(list []alerts.Alert) map[string]struct{} {
	ids := make(map[string]struct{}, len(list))
	for _, a := range list {
		ids[a.ID] = struct{}{}
	}
	return ids
}
