package pipeline

import (
	"context"
	"time"

	"github.com/luminacare/twinpulse/internal/alerts"
	"github.com/luminacare/twinpulse/internal/domain/event"
	"github.com/luminacare/twinpulse/internal/ledger"
)

// IngestEvent appends a care event and immediately re-runs the patient's
// pass so alerts and actions reflect it. Duplicate event ids are absorbed by
// the store.
func (p *Pipeline) IngestEvent(ctx context.Context, e event.CareEvent) (string, error) {
	id, err := p.store.Append(ctx, e)
	if err != nil {
		return "", err
	}
	if p.metrics != nil {
		p.metrics.EventsIngested.WithLabelValues(string(e.Kind)).Inc()
	}
	if err := p.RunPatient(ctx, e.PatientID); err != nil {
		return id, err
	}
	return id, nil
}

// DismissAlert dismisses an alert; the dismissal is terminal and suppresses
// the underlying breach instance.
func (p *Pipeline) DismissAlert(patientID, alertID string) error {
	st := p.state(patientID)
	if err := st.engine.Dismiss(alertID); err != nil {
		return err
	}
	if p.metrics != nil {
		p.metrics.AlertsDismissed.Inc()
	}
	return nil
}

// EscalateAlert raises an active alert's priority. Lowering is rejected by
// the engine.
func (p *Pipeline) EscalateAlert(patientID, alertID string, to alerts.Priority) error {
	return p.state(patientID).engine.Escalate(alertID, to)
}

// AlertHistory returns every alert the patient's engine has recorded,
// including resolved and dismissed occurrences.
func (p *Pipeline) AlertHistory(patientID string) ([]alerts.Alert, error) {
	if _, err := p.registry.Get(patientID); err != nil {
		return nil, err
	}
	return p.state(patientID).engine.History(), nil
}

// AssignAction marks a proposed next-best-action as assigned.
func (p *Pipeline) AssignAction(patientID, actionID string) error {
	return p.state(patientID).actions.Assign(actionID)
}

// SnoozeAction snoozes a proposed next-best-action.
func (p *Pipeline) SnoozeAction(patientID, actionID string) error {
	return p.state(patientID).actions.Snooze(actionID)
}

// CompleteAction marks a next-best-action done.
func (p *Pipeline) CompleteAction(patientID, actionID string) error {
	return p.state(patientID).actions.Complete(actionID)
}

// CreateTask records a caregiver task on the patient's ledger.
func (p *Pipeline) CreateTask(patientID, title, owner, description string, due time.Time) (ledger.Task, error) {
	return p.state(patientID).ledger.CreateTask(title, owner, description, due)
}

// CompleteTask transitions a task Open to Done.
func (p *Pipeline) CompleteTask(patientID, taskID string) (ledger.Task, error) {
	return p.state(patientID).ledger.CompleteTask(taskID)
}

// AddNote appends a caregiver note to the patient's ledger.
func (p *Pipeline) AddNote(patientID, author, role, text string) (ledger.Note, error) {
	return p.state(patientID).ledger.AddNote(author, role, text)
}
