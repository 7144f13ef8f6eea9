package alerts

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/luminacare/twinpulse/internal/errs"
	"github.com/luminacare/twinpulse/pkg/clock"
)

// Alert is one occurrence of a rule breach. It is owned by the engine and
// mutated only through its transition operations.
type Alert struct {
	ID              string    `json:"id"`
	RuleID          string    `json:"rule_id"`
	Priority        Priority  `json:"priority"`
	Title           string    `json:"title"`
	Message         string    `json:"message"`
	SuggestedAction string    `json:"suggested_action"`
	Status          Status    `json:"status"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`

	breachKey string
	ruleOrder int
}

// BreachKey identifies the continuous breach instance that raised the alert.
func (a Alert) BreachKey() string { return a.breachKey }

// Engine runs rules over metric snapshots for one patient and keeps the
// alert collection. All mutations commit as a single state transition under
// the engine lock; readers see either the pre- or post-update state.
type Engine struct {
	mu     sync.RWMutex
	rules  []Rule
	clk    clock.Clock
	logger *zap.Logger

	alerts   map[string]*Alert // alert id -> alert
	byBreach map[string]string // breach key -> alert id
	onset    map[string]time.Time
}

// NewEngine creates an engine over the configured rule set.
func NewEngine(rules []Rule, clk clock.Clock, logger *zap.Logger) *Engine {
	if clk == nil {
		clk = clock.System{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		rules:    append([]Rule(nil), rules...),
		clk:      clk,
		logger:   logger,
		alerts:   make(map[string]*Alert),
		byBreach: make(map[string]string),
		onset:    make(map[string]time.Time),
	}
}

// Evaluate runs every rule against the snapshot and reconciles the alert
// collection: breaches raise or refresh alerts, recovered conditions resolve
// them. Re-running on an unchanged snapshot is idempotent. A snapshot missing
// a required metric skips only that rule.
func (e *Engine) Evaluate(snap Snapshot) []Alert {
	e.mu.Lock()
	defer e.mu.Unlock()

	for _, rule := range e.rules {
		if name, absent := rule.missing(snap); absent {
			e.logger.Warn("skipping rule, snapshot missing metric",
				zap.String("rule_id", rule.ID),
				zap.String("metric", name),
				zap.String("patient_id", snap.PatientID))
			continue
		}

		if rule.Condition(snap) {
			e.applyBreach(rule, snap)
		} else {
			e.applyRecovery(rule)
		}
	}

	return e.activeLocked()
}

// applyBreach raises or refreshes the alert for a breaching rule.
func (e *Engine) applyBreach(rule Rule, snap Snapshot) {
	onset, ok := e.onset[rule.ID]
	if !ok {
		onset = snap.At
		e.onset[rule.ID] = onset
	}
	key := rule.ID + "|" + onset.UTC().Format(time.RFC3339)

	if id, exists := e.byBreach[key]; exists {
		a := e.alerts[id]
		if a.Status == StatusDismissed {
			// Idempotent suppression: the same breach instance never
			// regenerates a dismissed alert.
			return
		}
		a.Message = rule.message(snap)
		a.UpdatedAt = e.clk.Now()
		// Priority is monotone while the condition persists; a refresh
		// never lowers it.
		a.Priority = Max(a.Priority, rule.Priority)
		return
	}

	if rule.SuppressedBy != nil && rule.SuppressedBy(snap) {
		e.logger.Info("alert suppressed, reminder already sent",
			zap.String("rule_id", rule.ID),
			zap.String("patient_id", snap.PatientID))
		return
	}

	now := e.clk.Now()
	a := &Alert{
		ID:              uuid.New().String(),
		RuleID:          rule.ID,
		Priority:        rule.Priority,
		Title:           rule.Title,
		Message:         rule.message(snap),
		SuggestedAction: rule.SuggestedAction,
		Status:          StatusActive,
		CreatedAt:       now,
		UpdatedAt:       now,
		breachKey:       key,
		ruleOrder:       rule.Order,
	}
	e.alerts[a.ID] = a
	e.byBreach[key] = a.ID
	e.logger.Info("alert raised",
		zap.String("alert_id", a.ID),
		zap.String("rule_id", rule.ID),
		zap.String("priority", string(a.Priority)))
}

// applyRecovery auto-resolves the active alert for a rule whose condition no
// longer holds. Resolution ends the breach instance; a later breach starts a
// new one with a new alert id.
func (e *Engine) applyRecovery(rule Rule) {
	onset, breached := e.onset[rule.ID]
	if !breached {
		return
	}
	delete(e.onset, rule.ID)

	key := rule.ID + "|" + onset.UTC().Format(time.RFC3339)
	id, ok := e.byBreach[key]
	if !ok {
		return
	}
	a := e.alerts[id]
	if a.Status != StatusActive {
		return
	}
	a.Status = StatusResolved
	a.UpdatedAt = e.clk.Now()
	e.logger.Info("alert resolved",
		zap.String("alert_id", a.ID),
		zap.String("rule_id", rule.ID))
}

// Escalate raises an active alert's priority. Lowering is rejected; priority
// never auto-downgrades without the condition itself improving.
func (e *Engine) Escalate(alertID string, p Priority) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	a, ok := e.alerts[alertID]
	if !ok {
		return errs.NotFound("alert", alertID)
	}
	if a.Status != StatusActive {
		return errs.InvalidState("only active alerts can be escalated")
	}
	if p.Rank() < a.Priority.Rank() {
		return errs.InvalidState("alert priority cannot be lowered")
	}
	a.Priority = p
	a.UpdatedAt = e.clk.Now()
	return nil
}

// Dismiss is the caregiver-driven terminal transition for an alert
// occurrence. The breach suppression key is kept so re-evaluating the same
// breach instance does not resurrect it.
func (e *Engine) Dismiss(alertID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	a, ok := e.alerts[alertID]
	if !ok {
		return errs.NotFound("alert", alertID)
	}
	if a.Status == StatusDismissed {
		return errs.InvalidState("alert already dismissed")
	}
	if a.Status == StatusResolved {
		return errs.InvalidState("alert already resolved")
	}
	a.Status = StatusDismissed
	a.UpdatedAt = e.clk.Now()
	e.logger.Info("alert dismissed", zap.String("alert_id", alertID))
	return nil
}

// ListActive returns active alerts in display order.
func (e *Engine) ListActive() []Alert {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.activeLocked()
}

// activeLocked ranks active alerts: priority first, most recent update next,
// then rule-defined order, then rule id. The order is total so identical
// input always yields identical output.
func (e *Engine) activeLocked() []Alert {
	var out []Alert
	for _, a := range e.alerts {
		if a.Status == StatusActive {
			out = append(out, *a)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority.Rank() != out[j].Priority.Rank() {
			return out[i].Priority.Rank() > out[j].Priority.Rank()
		}
		if !out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].UpdatedAt.After(out[j].UpdatedAt)
		}
		if out[i].ruleOrder != out[j].ruleOrder {
			return out[i].ruleOrder < out[j].ruleOrder
		}
		return out[i].RuleID < out[j].RuleID
	})
	return out
}

// History returns every alert the engine has seen, newest first, for the
// read model's audit view.
func (e *Engine) History() []Alert {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]Alert, 0, len(e.alerts))
	for _, a := range e.alerts {
		out = append(out, *a)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}
