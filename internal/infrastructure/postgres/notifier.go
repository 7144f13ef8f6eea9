package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/luminacare/twinpulse/internal/alerts"
)

// AlertOutboxNotifier records raised alerts in the outbox instead of
// publishing directly, so a raised alert survives a broker outage and is
// relayed by the outbox processor.
type AlertOutboxNotifier struct {
	pool  *pgxpool.Pool
	topic string
}

// NewAlertOutboxNotifier creates a notifier writing to the given topic.
func NewAlertOutboxNotifier(pool *pgxpool.Pool, topic string) *AlertOutboxNotifier {
	return &AlertOutboxNotifier{pool: pool, topic: topic}
}

type outboxAlertPayload struct {
	PatientID       string    `json:"patient_id"`
	AlertID         string    `json:"alert_id"`
	RuleID          string    `json:"rule_id"`
	Priority        string    `json:"priority"`
	Title           string    `json:"title"`
	Message         string    `json:"message"`
	SuggestedAction string    `json:"suggested_action"`
	RaisedAt        time.Time `json:"raised_at"`
}

// PublishAlert implements the pipeline notifier boundary.
func (n *AlertOutboxNotifier) PublishAlert(ctx context.Context, patientID string, a alerts.Alert) error {
	payload, err := json.Marshal(outboxAlertPayload{
		PatientID:       patientID,
		AlertID:         a.ID,
		RuleID:          a.RuleID,
		Priority:        string(a.Priority),
		Title:           a.Title,
		Message:         a.Message,
		SuggestedAction: a.SuggestedAction,
		RaisedAt:        a.CreatedAt,
	})
	if err != nil {
		return fmt.Errorf("encode alert payload: %w", err)
	}
	return WriteEntry(ctx, n.pool, &OutboxEntry{
		PatientID:  patientID,
		EventType:  "alert.raised",
		Payload:    payload,
		KafkaTopic: n.topic,
		KafkaKey:   patientID,
	})
}
