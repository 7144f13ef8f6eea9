package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/luminacare/twinpulse/internal/adherence"
	"github.com/luminacare/twinpulse/internal/alerts"
	"github.com/luminacare/twinpulse/internal/config"
	"github.com/luminacare/twinpulse/internal/domain/patient"
	"github.com/luminacare/twinpulse/internal/engagement"
	"github.com/luminacare/twinpulse/internal/eventstore"
	"github.com/luminacare/twinpulse/internal/nba"
	"github.com/luminacare/twinpulse/internal/pipeline"
	"github.com/luminacare/twinpulse/internal/readmodel"
	"github.com/luminacare/twinpulse/pkg/clock"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()

	reg := patient.NewRegistry()
	if err := reg.Add(patient.Patient{ID: "PT-1", Name: "Asha Rao", Age: 61}); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := reg.AddMedication("PT-1", patient.Medication{ID: "M1", Name: "Metformin", Schedule: patient.ScheduleDaily, TimesPerDay: 2}); err != nil {
		t.Fatalf("AddMedication: %v", err)
	}

	store := eventstore.NewMemory()
	cfg := config.Config{
		LateThresholdMinutes: 30,
		AdherenceWindowDays:  30,
		MaxPredictionDrivers: 3,
		SnoozeDuration:       24 * time.Hour,
	}
	alertRules := []alerts.Rule{{
		ID:              "adherence-low",
		Priority:        alerts.PriorityHigh,
		Title:           "Medication adherence below target",
		SuggestedAction: "Call patient",
		Requires:        []string{"adherence"},
		Order:           1,
		Condition:       alerts.ThresholdBelow("adherence", 0.85),
	}}
	var nbaRules []nba.Rule

	pipe := pipeline.New(reg, store, alertRules, nbaRules, cfg, pipeline.Options{})
	surveys := engagement.NewStore()
	assembler := readmodel.NewAssembler(reg, store, adherence.NewCalculator(clock.System{}), surveys, pipe,
		cfg.AdherenceWindow(), cfg.LateThreshold(), clock.System{})

	r := chi.NewRouter()
	r.Mount("/patients", NewPatientHandler(reg, pipe, assembler, surveys, nil, nil).Routes())
	r.Mount("/careplan", NewCarePlanHandler(pipe, nil, nil).Routes())

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func postJSON(t *testing.T, url, body string) (*http.Response, map[string]any) {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	var decoded map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return resp, decoded
}

func TestIngestEventThenSnapshot(t *testing.T) {
	srv := newTestServer(t)

	taken := time.Now().UTC().Add(-2 * time.Hour).Format(time.RFC3339)
	scheduled := time.Now().UTC().Add(-2*time.Hour - 5*time.Minute).Format(time.RFC3339)
	resp, body := postJSON(t, srv.URL+"/patients/PT-1/events", `{
		"kind": "dose",
		"dose": {
			"medication_id": "M1",
			"scheduled_at": "`+scheduled+`",
			"taken_at": "`+taken+`",
			"source": "device_measured",
			"confidence": 0.95
		}
	}`)
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("ingest status %d, want 202", resp.StatusCode)
	}
	if body["id"] == "" {
		t.Error("response missing event id")
	}

	snapResp, err := http.Get(srv.URL + "/patients/PT-1/snapshot")
	if err != nil {
		t.Fatalf("GET snapshot: %v", err)
	}
	defer snapResp.Body.Close()
	if snapResp.StatusCode != http.StatusOK {
		t.Fatalf("snapshot status %d, want 200", snapResp.StatusCode)
	}
	var snap readmodel.Snapshot
	if err := json.NewDecoder(snapResp.Body).Decode(&snap); err != nil {
		t.Fatalf("decode snapshot: %v", err)
	}
	if snap.Name != "Asha Rao" {
		t.Errorf("snapshot name %q, want Asha Rao", snap.Name)
	}
	if len(snap.Medications) != 1 || snap.Medications[0].Adherence != 100 {
		t.Errorf("medications %+v, want one at 100%% adherence", snap.Medications)
	}
}

func TestSnapshotUnknownPatient(t *testing.T) {
	srv := newTestServer(t)

	resp, err := http.Get(srv.URL + "/patients/PT-404/snapshot")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status %d, want 404", resp.StatusCode)
	}
	var body map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	if body["error"] == "" {
		t.Error("error body missing error field")
	}
}

func TestIngestEventBadRequest(t *testing.T) {
	srv := newTestServer(t)

	cases := []struct {
		name string
		body string
	}{
		{"unknown kind", `{"kind":"appointment"}`},
		{"kind payload mismatch", `{"kind":"dose","vital":{"metric":"glucose","value":140,"at":"2026-03-01T08:00:00Z"}}`},
		{"invalid dose", `{"kind":"dose","dose":{"medication_id":"M1"}}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp, _ := postJSON(t, srv.URL+"/patients/PT-1/events", tc.body)
			if resp.StatusCode != http.StatusBadRequest {
				t.Errorf("status %d, want 400", resp.StatusCode)
			}
		})
	}
}

func TestTaskLifecycleOverHTTP(t *testing.T) {
	srv := newTestServer(t)

	resp, body := postJSON(t, srv.URL+"/careplan/PT-1/tasks", `{
		"title": "Diabetes coaching call",
		"owner": "Anil Sharma"
	}`)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create status %d, want 201", resp.StatusCode)
	}
	taskID, _ := body["id"].(string)
	if taskID == "" {
		t.Fatal("create response missing task id")
	}

	resp, body = postJSON(t, srv.URL+"/careplan/PT-1/tasks/"+taskID+"/complete", `{}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("complete status %d, want 200", resp.StatusCode)
	}
	if body["status"] != "Done" {
		t.Errorf("task status %v, want Done", body["status"])
	}

	// Completing twice is a conflict, not a silent no-op.
	resp, _ = postJSON(t, srv.URL+"/careplan/PT-1/tasks/"+taskID+"/complete", `{}`)
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("second complete status %d, want 409", resp.StatusCode)
	}
}

func TestAddNoteValidation(t *testing.T) {
	srv := newTestServer(t)

	resp, _ := postJSON(t, srv.URL+"/careplan/PT-1/notes", `{"author":"Priya Nair","role":"RN","text":""}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("empty note status %d, want 400", resp.StatusCode)
	}

	resp, body := postJSON(t, srv.URL+"/careplan/PT-1/notes", `{"author":"Priya Nair","role":"RN","text":"Tolerating partial weight-bearing."}`)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("note status %d, want 201", resp.StatusCode)
	}
	if body["text"] != "Tolerating partial weight-bearing." {
		t.Errorf("note text %v not echoed", body["text"])
	}
}

func TestUpdateCareTeam(t *testing.T) {
	srv := newTestServer(t)

	req, err := http.NewRequest(http.MethodPut, srv.URL+"/patients/PT-1/careteam",
		strings.NewReader(`{"care_team":[{"name":"Dr. Rhea Kapoor","role":"Primary Care Physician"}]}`))
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("PUT: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d, want 200", resp.StatusCode)
	}

	snapResp, err := http.Get(srv.URL + "/patients/PT-1/snapshot")
	if err != nil {
		t.Fatalf("GET snapshot: %v", err)
	}
	defer snapResp.Body.Close()
	var snap readmodel.Snapshot
	if err := json.NewDecoder(snapResp.Body).Decode(&snap); err != nil {
		t.Fatalf("decode snapshot: %v", err)
	}
	if len(snap.CareTeam) != 1 || snap.CareTeam[0].Name != "Dr. Rhea Kapoor" {
		t.Errorf("care team %+v not updated", snap.CareTeam)
	}
}

func TestRecordSurvey(t *testing.T) {
	srv := newTestServer(t)

	resp, _ := postJSON(t, srv.URL+"/patients/PT-1/surveys", `{"nps":9,"comment":"Coaching helped."}`)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("survey status %d, want 201", resp.StatusCode)
	}

	// A survey with no score at all is rejected.
	resp, _ = postJSON(t, srv.URL+"/patients/PT-1/surveys", `{"comment":"no scores"}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("empty survey status %d, want 400", resp.StatusCode)
	}
}
