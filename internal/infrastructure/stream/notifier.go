package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/luminacare/twinpulse/internal/alerts"
)

// AlertNotifier fans raised alerts out to the notifications topic, keyed by
// patient id.
type AlertNotifier struct {
	producer *Producer
	topic    string
}

// NewAlertNotifier wraps a producer for alert fan-out.
func NewAlertNotifier(producer *Producer) *AlertNotifier {
	return &AlertNotifier{producer: producer, topic: TopicAlertNotifications}
}

type alertNotification struct {
	PatientID       string    `json:"patient_id"`
	AlertID         string    `json:"alert_id"`
	RuleID          string    `json:"rule_id"`
	Priority        string    `json:"priority"`
	Title           string    `json:"title"`
	Message         string    `json:"message"`
	SuggestedAction string    `json:"suggested_action"`
	RaisedAt        time.Time `json:"raised_at"`
}

// PublishAlert publishes one raised alert.
func (n *AlertNotifier) PublishAlert(ctx context.Context, patientID string, a alerts.Alert) error {
	payload, err := json.Marshal(alertNotification{
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
		return fmt.Errorf("encode alert notification: %w", err)
	}
	return n.producer.Produce(ctx, n.topic, patientID, payload)
}
