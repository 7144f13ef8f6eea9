// Package readmodel assembles the per-patient dashboard snapshot. It is a
// read-only aggregation over the other components and exposes its own DTOs;
// callers never see the internal types of the components it reads from.
package readmodel

import "time"

// Snapshot is the single per-patient view handed to the presentation layer.
// Computing it has no side effects and may be repeated freely.
type Snapshot struct {
	PatientID   string    `json:"patient_id"`
	GeneratedAt time.Time `json:"generated_at"`

	Name     string      `json:"name"`
	Age      int         `json:"age"`
	Sex      string      `json:"sex"`
	Location string      `json:"location"`
	CareTeam []Caregiver `json:"care_team"`

	Conditions  []Condition           `json:"conditions"`
	Episodes    []Episode             `json:"episodes"`
	Medications []MedicationAdherence `json:"medications"`

	Vitals         []VitalSeries   `json:"vitals"`
	Alerts         []Alert         `json:"alerts"`
	Predictions    []Prediction    `json:"predictions"`
	Actions        []Action        `json:"actions"`
	Tasks          []Task          `json:"tasks"`
	Notes          []Note          `json:"notes"`
	Communications []Communication `json:"communications"`
	Satisfaction   Satisfaction    `json:"satisfaction"`
}

type Caregiver struct {
	Name string `json:"name"`
	Role string `json:"role"`
}

type Condition struct {
	Name   string `json:"name"`
	Since  string `json:"since"`
	Status string `json:"status"`
}

type Episode struct {
	Title    string    `json:"title"`
	Date     time.Time `json:"date"`
	Summary  string    `json:"summary"`
	Tags     []string  `json:"tags"`
	Location string    `json:"location"`
}

// MedicationAdherence pairs a medication with its windowed adherence score.
// The score is reported on a 0-100 scale.
type MedicationAdherence struct {
	MedicationID string  `json:"medication_id"`
	Name         string  `json:"name"`
	Schedule     string  `json:"schedule"`
	TimesPerDay  int     `json:"times_per_day,omitempty"`
	Purpose      string  `json:"purpose"`
	Adherence    float64 `json:"adherence"`
	OnTime       int     `json:"on_time"`
	Late         int     `json:"late"`
	Missed       int     `json:"missed"`
	Pending      int     `json:"pending"`
}

// VitalSeries is one metric's time series inside the snapshot window.
type VitalSeries struct {
	Metric string       `json:"metric"`
	Unit   string       `json:"unit"`
	Latest float64      `json:"latest"`
	Mean   float64      `json:"mean"`
	Points []VitalPoint `json:"points"`
}

type VitalPoint struct {
	At    time.Time `json:"at"`
	Value float64   `json:"value"`
}

type Alert struct {
	ID              string    `json:"id"`
	Priority        string    `json:"priority"`
	Title           string    `json:"title"`
	Message         string    `json:"message"`
	SuggestedAction string    `json:"suggested_action"`
	Status          string    `json:"status"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

type Prediction struct {
	ID          string    `json:"id"`
	Label       string    `json:"label"`
	Probability float64   `json:"probability"`
	Drivers     []string  `json:"drivers"`
	AsOf        time.Time `json:"as_of"`
}

type Action struct {
	ID                   string     `json:"id"`
	Priority             string     `json:"priority"`
	Action               string     `json:"action"`
	Rationale            string     `json:"rationale"`
	TalkTrack            string     `json:"talk_track"`
	Status               string     `json:"status"`
	TriggerAlertIDs      []string   `json:"trigger_alert_ids,omitempty"`
	TriggerPredictionIDs []string   `json:"trigger_prediction_ids,omitempty"`
	SnoozedUntil         *time.Time `json:"snoozed_until,omitempty"`
}

type Task struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Owner       string     `json:"owner"`
	Due         time.Time  `json:"due"`
	Description string     `json:"description"`
	Status      string     `json:"status"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

type Note struct {
	ID        string    `json:"id"`
	Author    string    `json:"author"`
	Role      string    `json:"role"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

type Communication struct {
	Direction string    `json:"direction"`
	Channel   string    `json:"channel"`
	Actor     string    `json:"actor"`
	At        time.Time `json:"at"`
	Subject   string    `json:"subject"`
}

type Satisfaction struct {
	LatestNPS   *int           `json:"latest_nps,omitempty"`
	AverageCSAT float64        `json:"average_csat"`
	CSATSamples int            `json:"csat_samples"`
	ByEpisode   map[string]int `json:"by_episode,omitempty"`
}
