// Package event defines the care-event envelope and payload types ingested
// into the event store: dose events, vital readings, and communications.
package event

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/luminacare/twinpulse/internal/errs"
)

// Kind discriminates the event payload.
type Kind string

const (
	KindDose          Kind = "dose"
	KindVital         Kind = "vital"
	KindCommunication Kind = "communication"
)

// Source identifies the delivery channel of a dose event.
type Source string

const (
	SourceDeviceMeasured Source = "device_measured"
	SourceSelfReported   Source = "self_reported"
	SourceInferred       Source = "inferred"
)

// DoseState is the derived classification of a dose event. It is computed by
// the adherence calculator, never asserted by the ingesting channel.
type DoseState string

const (
	DoseOnTime  DoseState = "on_time"
	DoseLate    DoseState = "late"
	DoseMissed  DoseState = "missed"
	DosePending DoseState = "pending"
)

// CareEvent is the append-only envelope persisted in the event store.
// Corrections are new events that supersede by (medication, scheduled time).
type CareEvent struct {
	ID        string          `json:"id"`
	PatientID string          `json:"patient_id"`
	Kind      Kind            `json:"kind"`
	Timestamp time.Time       `json:"timestamp"`
	Seq       uint64          `json:"seq"` // arrival order, assigned by the store
	Payload   json.RawMessage `json:"payload"`
}

// Dose is the payload of a KindDose event. TakenAt is nil while the dose is
// unconfirmed.
type Dose struct {
	MedicationID string     `json:"medication_id"`
	ScheduledAt  time.Time  `json:"scheduled_at"`
	TakenAt      *time.Time `json:"taken_at,omitempty"`
	Source       Source     `json:"source"`
	Confidence   float64    `json:"confidence"`
	State        DoseState  `json:"state,omitempty"` // derived, set on read paths only
}

// SupersedeKey identifies the dose occurrence a correction replaces.
func (d Dose) SupersedeKey() string {
	return d.MedicationID + "|" + d.ScheduledAt.UTC().Format(time.RFC3339)
}

// Vital is the payload of a KindVital event.
type Vital struct {
	Metric string    `json:"metric"`
	Value  float64   `json:"value"`
	Unit   string    `json:"unit"`
	At     time.Time `json:"at"`
}

// Direction of a communication event.
type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

// Communication is the payload of a KindCommunication event. It is an
// informational input to the alert engine (reminder suppression) and is not
// transformed further by the core.
type Communication struct {
	Direction Direction `json:"direction"`
	Channel   string    `json:"channel"`
	Actor     string    `json:"actor"`
	At        time.Time `json:"at"`
	Subject   string    `json:"subject"`
	Metadata  string    `json:"metadata,omitempty"`
}

// NewDose wraps a dose payload in a care-event envelope. The envelope
// timestamp is the scheduled time so the store orders doses by occurrence.
func NewDose(patientID string, d Dose) (CareEvent, error) {
	if d.ScheduledAt.IsZero() {
		return CareEvent{}, errs.Validation("dose event missing scheduled time",
			map[string]string{"medication_id": d.MedicationID})
	}
	if d.MedicationID == "" {
		return CareEvent{}, errs.Validation("dose event missing medication id", nil)
	}
	payload, err := json.Marshal(d)
	if err != nil {
		return CareEvent{}, err
	}
	return CareEvent{
		ID:        uuid.New().String(),
		PatientID: patientID,
		Kind:      KindDose,
		Timestamp: d.ScheduledAt.UTC(),
		Payload:   payload,
	}, nil
}

// NewVital wraps a vital reading in a care-event envelope.
func NewVital(patientID string, v Vital) (CareEvent, error) {
	if v.At.IsZero() {
		return CareEvent{}, errs.Validation("vital reading missing timestamp",
			map[string]string{"metric": v.Metric})
	}
	if v.Metric == "" {
		return CareEvent{}, errs.Validation("vital reading missing metric", nil)
	}
	payload, err := json.Marshal(v)
	if err != nil {
		return CareEvent{}, err
	}
	return CareEvent{
		ID:        uuid.New().String(),
		PatientID: patientID,
		Kind:      KindVital,
		Timestamp: v.At.UTC(),
		Payload:   payload,
	}, nil
}

// NewCommunication wraps a communication in a care-event envelope.
func NewCommunication(patientID string, c Communication) (CareEvent, error) {
	if c.At.IsZero() {
		return CareEvent{}, errs.Validation("communication missing timestamp", nil)
	}
	payload, err := json.Marshal(c)
	if err != nil {
		return CareEvent{}, err
	}
	return CareEvent{
		ID:        uuid.New().String(),
		PatientID: patientID,
		Kind:      KindCommunication,
		Timestamp: c.At.UTC(),
		Payload:   payload,
	}, nil
}

// DecodeDose unmarshals a dose payload.
func (e CareEvent) DecodeDose() (Dose, error) {
	var d Dose
	if e.Kind != KindDose {
		return d, errs.Validation("event is not a dose event", map[string]string{"kind": string(e.Kind)})
	}
	return d, json.Unmarshal(e.Payload, &d)
}

// DecodeVital unmarshals a vital payload.
func (e CareEvent) DecodeVital() (Vital, error) {
	var v Vital
	if e.Kind != KindVital {
		return v, errs.Validation("event is not a vital reading", map[string]string{"kind": string(e.Kind)})
	}
	return v, json.Unmarshal(e.Payload, &v)
}

// DecodeCommunication unmarshals a communication payload.
func (e CareEvent) DecodeCommunication() (Communication, error) {
	var c Communication
	if e.Kind != KindCommunication {
		return c, errs.Validation("event is not a communication", map[string]string{"kind": string(e.Kind)})
	}
	return c, json.Unmarshal(e.Payload, &c)
}
