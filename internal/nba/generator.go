// Package nba synthesizes ranked next-best-actions for caregivers from
// active alerts, current predictions, and care-plan rules.
package nba

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/luminacare/twinpulse/internal/alerts"
	"github.com/luminacare/twinpulse/internal/errs"
	"github.com/luminacare/twinpulse/internal/predictions"
	"github.com/luminacare/twinpulse/pkg/clock"
)

// Status of a next-best-action. Caregiver transitions:
// proposed→assigned|snoozed|done, snoozed→proposed on expiry, assigned→done.
type Status string

const (
	StatusProposed Status = "proposed"
	StatusAssigned Status = "assigned"
	StatusSnoozed  Status = "snoozed"
	StatusDone     Status = "done"
)

// Rule maps a trigger pattern to the caregiver action it proposes.
type Rule struct {
	ID string
	// AlertRuleIDs name the alert rules whose active alerts trigger this
	// action.
	AlertRuleIDs []string
	// PredictionLabels name the predictions that trigger this action once
	// their probability reaches MinProbability.
	PredictionLabels []string
	MinProbability   float64
	DefaultPriority  alerts.Priority
	Action           string
	// RationaleTemplate receives the comma-joined trigger identifiers.
	RationaleTemplate string
	TalkTrack         string
}

// NextBestAction is one ranked caregiver recommendation. Trigger ids are
// provenance links only; the action owns nothing it references.
type NextBestAction struct {
	ID                   string          `json:"id"`
	RuleID               string          `json:"rule_id"`
	Priority             alerts.Priority `json:"priority"`
	Action               string          `json:"action"`
	Rationale            string          `json:"rationale"`
	TalkTrack            string          `json:"talk_track"`
	Status               Status          `json:"status"`
	TriggerAlertIDs      []string        `json:"trigger_alert_ids,omitempty"`
	TriggerPredictionIDs []string        `json:"trigger_prediction_ids,omitempty"`
	SnoozedUntil         *time.Time      `json:"snoozed_until,omitempty"`
	CreatedAt            time.Time       `json:"created_at"`
	UpdatedAt            time.Time       `json:"updated_at"`
}

// Generator derives the action list. Beyond caregiver-set status it holds no
// state of its own; every Generate is a pure function of current triggers.
type Generator struct {
	mu       sync.RWMutex
	byRule   map[string]*NextBestAction
	snoozeBy time.Duration
	clk      clock.Clock
	logger   *zap.Logger
}

// NewGenerator creates a generator with the configured snooze duration.
func NewGenerator(snoozeBy time.Duration, clk clock.Clock, logger *zap.Logger) *Generator {
	if clk == nil {
		clk = clock.System{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Generator{
		byRule:   make(map[string]*NextBestAction),
		snoozeBy: snoozeBy,
		clk:      clk,
		logger:   logger,
	}
}

// Generate synthesizes at most one action per rule whose pattern matches the
// current triggers. Regeneration updates an existing action in place (same
// id) so caregiver-set status survives; actions whose triggers vanished drop
// out. Expired snoozes return to proposed.
func (g *Generator) Generate(active []alerts.Alert, preds []predictions.Prediction, rules []Rule) []NextBestAction {
	now := g.clk.Now()

	g.mu.Lock()
	defer g.mu.Unlock()

	seen := make(map[string]struct{}, len(rules))
	for _, rule := range rules {
		alertIDs, topPriority := matchAlerts(rule, active)
		predIDs := matchPredictions(rule, preds)
		if len(alertIDs) == 0 && len(predIDs) == 0 {
			continue
		}
		seen[rule.ID] = struct{}{}

		// Priority is recomputed from currently firing triggers each
		// pass: max of the rule default and the triggering alerts.
		priority := alerts.Max(rule.DefaultPriority, topPriority)
		rationale := rule.RationaleTemplate
		if rationale != "" {
			refs := append(append([]string(nil), alertIDs...), predIDs...)
			rationale = fmt.Sprintf(rule.RationaleTemplate, strings.Join(refs, ", "))
		}

		if existing, ok := g.byRule[rule.ID]; ok {
			if existing.Status == StatusSnoozed && existing.SnoozedUntil != nil && !now.Before(*existing.SnoozedUntil) {
				existing.Status = StatusProposed
				existing.SnoozedUntil = nil
			}
			existing.Priority = priority
			existing.Rationale = rationale
			existing.Action = rule.Action
			existing.TalkTrack = rule.TalkTrack
			existing.TriggerAlertIDs = alertIDs
			existing.TriggerPredictionIDs = predIDs
			existing.UpdatedAt = now
			continue
		}

		g.byRule[rule.ID] = &NextBestAction{
			ID:                   uuid.New().String(),
			RuleID:               rule.ID,
			Priority:             priority,
			Action:               rule.Action,
			Rationale:            rationale,
			TalkTrack:            rule.TalkTrack,
			Status:               StatusProposed,
			TriggerAlertIDs:      alertIDs,
			TriggerPredictionIDs: predIDs,
			CreatedAt:            now,
			UpdatedAt:            now,
		}
	}

	// Actions whose triggers no longer fire are dropped; the list is
	// derivable from current state alone.
	for ruleID := range g.byRule {
		if _, ok := seen[ruleID]; !ok {
			delete(g.byRule, ruleID)
		}
	}

	return g.listLocked()
}

// List returns the current actions in display order.
func (g *Generator) List() []NextBestAction {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.listLocked()
}

func (g *Generator) listLocked() []NextBestAction {
	out := make([]NextBestAction, 0, len(g.byRule))
	for _, n := range g.byRule {
		out = append(out, *n)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority.Rank() != out[j].Priority.Rank() {
			return out[i].Priority.Rank() > out[j].Priority.Rank()
		}
		return out[i].RuleID < out[j].RuleID
	})
	return out
}

// Assign marks a proposed action as taken up by a caregiver.
func (g *Generator) Assign(id string) error {
	return g.transition(id, StatusAssigned, StatusProposed)
}

// Snooze defers a proposed action until the snooze duration elapses.
func (g *Generator) Snooze(id string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	n, err := g.findLocked(id)
	if err != nil {
		return err
	}
	if n.Status != StatusProposed {
		return errs.InvalidState(fmt.Sprintf("cannot snooze action in state %s", n.Status))
	}
	until := g.clk.Now().Add(g.snoozeBy)
	n.Status = StatusSnoozed
	n.SnoozedUntil = &until
	n.UpdatedAt = g.clk.Now()
	return nil
}

// Complete marks an action done. Allowed from proposed or assigned; done is
// terminal.
func (g *Generator) Complete(id string) error {
	return g.transition(id, StatusDone, StatusProposed, StatusAssigned)
}

func (g *Generator) transition(id string, to Status, from ...Status) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	n, err := g.findLocked(id)
	if err != nil {
		return err
	}
	for _, f := range from {
		if n.Status == f {
			n.Status = to
			n.SnoozedUntil = nil
			n.UpdatedAt = g.clk.Now()
			return nil
		}
	}
	return errs.InvalidState(fmt.Sprintf("cannot move action from %s to %s", n.Status, to))
}

func (g *Generator) findLocked(id string) (*NextBestAction, error) {
	for _, n := range g.byRule {
		if n.ID == id {
			return n, nil
		}
	}
	return nil, errs.NotFound("next-best-action", id)
}

func matchAlerts(rule Rule, active []alerts.Alert) ([]string, alerts.Priority) {
	var ids []string
	var top alerts.Priority
	for _, a := range active {
		for _, ruleID := range rule.AlertRuleIDs {
			if a.RuleID == ruleID {
				ids = append(ids, a.ID)
				top = alerts.Max(top, a.Priority)
			}
		}
	}
	return ids, top
}

func matchPredictions(rule Rule, preds []predictions.Prediction) []string {
	var ids []string
	for _, p := range preds {
		for _, label := range rule.PredictionLabels {
			if p.Label == label && p.Probability >= rule.MinProbability {
				ids = append(ids, p.ID)
			}
		}
	}
	return ids
}
