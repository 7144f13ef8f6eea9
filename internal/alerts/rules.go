// Package alerts evaluates configurable rules against metric snapshots and
// maintains the alert collection as a small state machine.
package alerts

import (
	"fmt"
	"strings"
	"time"

	"github.com/luminacare/twinpulse/internal/domain/event"
)

// Priority of an alert. Ordered high > med > low.
type Priority string

const (
	PriorityHigh Priority = "high"
	PriorityMed  Priority = "med"
	PriorityLow  Priority = "low"
)

// Rank maps a priority to a sortable weight.
func (p Priority) Rank() int {
	switch p {
	case PriorityHigh:
		return 3
	case PriorityMed:
		return 2
	case PriorityLow:
		return 1
	}
	return 0
}

// Max returns the higher of two priorities.
func Max(a, b Priority) Priority {
	if a.Rank() >= b.Rank() {
		return a
	}
	return b
}

// Status of an alert occurrence. Dismissal is terminal for the occurrence;
// a recurring condition produces a new alert id.
type Status string

const (
	StatusActive    Status = "active"
	StatusDismissed Status = "dismissed"
	StatusResolved  Status = "resolved"
)

// Snapshot is the materialized metrics input one evaluation pass runs over.
type Snapshot struct {
	PatientID string
	At        time.Time
	// Values holds named metric values: adherence scores per medication
	// (e.g. "adherence:M1"), vital statistics (e.g. "glucose_avg_3d").
	Values map[string]float64
	// Comms carries recent communications so rules can suppress alerts
	// whose reminder was already sent.
	Comms []event.Communication
}

// Get returns a metric value and whether it is present.
func (s Snapshot) Get(name string) (float64, bool) {
	v, ok := s.Values[name]
	return v, ok
}

// Condition decides whether a rule's breach condition holds for a snapshot.
type Condition func(Snapshot) bool

// Rule pairs a breach condition with the alert it produces. Rules are
// supplied through configuration; the engine has no built-in thresholds.
type Rule struct {
	ID              string
	Priority        Priority
	Title           string
	MessageTemplate string // fmt template receiving the snapshot timestamp
	SuggestedAction string
	// Requires lists the metric names the condition reads. A snapshot
	// missing any of them skips this rule only, isolating the failure.
	Requires []string
	// Order is the rule-defined stable display order used as the ranking
	// tie-break before rule id.
	Order     int
	Condition Condition
	// SuppressedBy optionally inhibits creating a new alert, e.g. when an
	// outbound reminder for the same concern was already sent.
	SuppressedBy func(Snapshot) bool
}

// missing returns the first required metric absent from the snapshot.
func (r Rule) missing(s Snapshot) (string, bool) {
	for _, name := range r.Requires {
		if _, ok := s.Values[name]; !ok {
			return name, true
		}
	}
	return "", false
}

// message renders the alert message for a snapshot.
func (r Rule) message(s Snapshot) string {
	if r.MessageTemplate == "" {
		return r.Title
	}
	return fmt.Sprintf(r.MessageTemplate, s.At.Format("2006-01-02 15:04"))
}

// ThresholdBelow builds a condition true when the metric drops below limit.
func ThresholdBelow(metric string, limit float64) Condition {
	return func(s Snapshot) bool {
		v, ok := s.Get(metric)
		return ok && v < limit
	}
}

// ThresholdAbove builds a condition true when the metric exceeds limit.
func ThresholdAbove(metric string, limit float64) Condition {
	return func(s Snapshot) bool {
		v, ok := s.Get(metric)
		return ok && v > limit
	}
}

// ReminderSent builds a suppression check matching an outbound communication
// whose subject contains the given fragment within lookback of the snapshot.
func ReminderSent(subjectFragment string, lookback time.Duration) func(Snapshot) bool {
	return func(s Snapshot) bool {
		for _, c := range s.Comms {
			if c.Direction != event.DirectionOutbound {
				continue
			}
			if c.At.Before(s.At.Add(-lookback)) || c.At.After(s.At) {
				continue
			}
			if containsFold(c.Subject, subjectFragment) {
				return true
			}
		}
		return false
	}
}

func containsFold(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}
