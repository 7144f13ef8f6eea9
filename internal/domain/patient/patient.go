// Package patient holds the patient registry: demographics, conditions,
// episodes, medications, and the care-team roster.
package patient

import (
	"sync"
	"time"

	"github.com/luminacare/twinpulse/internal/errs"
)

// Patient identity and demographics. Immutable after creation except for the
// care-team roster.
type Patient struct {
	ID         string      `json:"id"`
	Name       string      `json:"name"`
	Age        int         `json:"age"`
	Sex        string      `json:"sex"`
	BloodGroup string      `json:"blood_group"`
	Location   string      `json:"location"`
	CareTeam   []Caregiver `json:"care_team"`
	Conditions []Condition `json:"conditions"`
	Episodes   []Episode   `json:"episodes"`
	CreatedAt  time.Time   `json:"created_at"`
}

// Caregiver is a care-team member.
type Caregiver struct {
	Name string `json:"name"`
	Role string `json:"role"`
}

// Condition is a chronic or active problem.
type Condition struct {
	Name   string `json:"name"`
	Since  string `json:"since"`
	Status string `json:"status"`
}

// Episode is a discrete care episode (OPD visit, surgery, admission).
type Episode struct {
	Title    string    `json:"title"`
	Date     time.Time `json:"date"`
	Summary  string    `json:"summary"`
	Tags     []string  `json:"tags"`
	Location string    `json:"location"`
}

// ScheduleKind distinguishes times-per-day dosing from weekly dosing.
type ScheduleKind string

const (
	ScheduleDaily  ScheduleKind = "daily"
	ScheduleWeekly ScheduleKind = "weekly"
)

// Medication is created at care-plan setup and rarely mutated.
type Medication struct {
	ID          string       `json:"id"`
	Name        string       `json:"name"`
	Schedule    ScheduleKind `json:"schedule"`
	TimesPerDay int          `json:"times_per_day,omitempty"`
	Purpose     string       `json:"purpose"`
}

// Registry owns patients and their medications for a session. State is
// constructed at session start and torn down at session end; there are no
// process-wide mutable singletons.
type Registry struct {
	mu          sync.RWMutex
	patients    map[string]*Patient
	medications map[string][]Medication // patient id -> medications
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		patients:    make(map[string]*Patient),
		medications: make(map[string][]Medication),
	}
}

// Add registers a patient. Fails if the id is already taken.
func (r *Registry) Add(p Patient) error {
	if p.ID == "" {
		return errs.Validation("patient id is required", nil)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.patients[p.ID]; ok {
		return errs.InvalidState("patient already registered: " + p.ID)
	}
	cp := p
	r.patients[p.ID] = &cp
	return nil
}

// Get returns the patient by id.
func (r *Registry) Get(id string) (Patient, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.patients[id]
	if !ok {
		return Patient{}, errs.NotFound("patient", id)
	}
	return *p, nil
}

// IDs returns all registered patient ids.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.patients))
	for id := range r.patients {
		ids = append(ids, id)
	}
	return ids
}

// SetCareTeam replaces the care-team roster, the one mutation a patient
// record permits after creation.
func (r *Registry) SetCareTeam(patientID string, team []Caregiver) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.patients[patientID]
	if !ok {
		return errs.NotFound("patient", patientID)
	}
	p.CareTeam = append([]Caregiver(nil), team...)
	return nil
}

// AddMedication attaches a medication to a patient's care plan.
func (r *Registry) AddMedication(patientID string, m Medication) error {
	if m.ID == "" || m.Name == "" {
		return errs.Validation("medication id and name are required", nil)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.patients[patientID]; !ok {
		return errs.NotFound("patient", patientID)
	}
	for _, existing := range r.medications[patientID] {
		if existing.ID == m.ID {
			return errs.InvalidState("medication already registered: " + m.ID)
		}
	}
	r.medications[patientID] = append(r.medications[patientID], m)
	return nil
}

// Medications returns the patient's medication list.
func (r *Registry) Medications(patientID string) []Medication {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]Medication(nil), r.medications[patientID]...)
}
