// Package seed provides the demo dataset and the default rule catalog the
// service entry points are started with. Everything here is constructed per
// call; callers own the returned state.
package seed

import (
	"time"

	"github.com/luminacare/twinpulse/internal/alerts"
	"github.com/luminacare/twinpulse/internal/domain/event"
	"github.com/luminacare/twinpulse/internal/domain/patient"
	"github.com/luminacare/twinpulse/internal/engagement"
	"github.com/luminacare/twinpulse/internal/nba"
)

// DemoPatientID is the id of the seeded demo patient.
const DemoPatientID = "PT-10724"

// AlertRules returns the default alert rule catalog. Each rule reads only
// the metrics it declares; a snapshot missing one skips that rule alone.
func AlertRules() []alerts.Rule {
	return []alerts.Rule{
		{
			ID:              "glucose-elevated",
			Priority:        alerts.PriorityHigh,
			Title:           "Elevated Fasting Glucose",
			MessageTemplate: "3-day moving average above 140 mg/dL as of %s.",
			SuggestedAction: "Reinforce diet; consider SMBG at bedtime; review in 2 weeks.",
			Requires:        []string{"glucose_avg_3d"},
			Order:           1,
			Condition:       alerts.ThresholdAbove("glucose_avg_3d", 140),
			SuppressedBy:    alerts.ReminderSent("glucose reminder", 24*time.Hour),
		},
		{
			ID:              "bp-variability",
			Priority:        alerts.PriorityMed,
			Title:           "BP Variability",
			MessageTemplate: "Systolic mean above 135 mmHg as of %s; monitor post-PT sessions.",
			SuggestedAction: "Check BP 1h post-physio; encourage cooldown breathing.",
			Requires:        []string{"sbp_mean"},
			Order:           2,
			Condition:       alerts.ThresholdAbove("sbp_mean", 135),
		},
		{
			ID:              "adherence-dip",
			Priority:        alerts.PriorityLow,
			Title:           "Adherence Dip",
			MessageTemplate: "Medication adherence below 85%% over the rolling window as of %s.",
			SuggestedAction: "Automate a reminder for the lowest-adherence medication.",
			Requires:        []string{"adherence"},
			Order:           3,
			Condition:       alerts.ThresholdBelow("adherence", 0.85),
			SuppressedBy:    alerts.ReminderSent("dose reminder", 24*time.Hour),
		},
	}
}

// ActionRules returns the default next-best-action catalog.
func ActionRules() []nba.Rule {
	return []nba.Rule{
		{
			ID:                "diabetes-coaching",
			AlertRuleIDs:      []string{"glucose-elevated", "adherence-dip"},
			PredictionLabels:  []string{"30d Hyperglycemia Risk"},
			MinProbability:    0.15,
			DefaultPriority:   alerts.PriorityMed,
			Action:            "Schedule diabetes coaching call in next 72h",
			RationaleTemplate: "Triggered by: %s.",
			TalkTrack:         "I noticed bedtime sugars rise late in the week. Let's plan a simple snack swap and a short post-dinner walk.",
		},
		{
			ID:                "htn-dosing-trial",
			AlertRuleIDs:      []string{"bp-variability"},
			PredictionLabels:  []string{"30d HTN Escalation"},
			MinProbability:    0.10,
			DefaultPriority:   alerts.PriorityMed,
			Action:            "Trial morning Telmisartan dosing for 1 week",
			RationaleTemplate: "Triggered by: %s.",
			TalkTrack:         "We'll try morning dosing and check your BP log mid-week. If dizziness occurs, switch back.",
		},
		{
			ID:                "readmission-outreach",
			AlertRuleIDs:      nil,
			PredictionLabels:  []string{"90d Readmission (Ortho)"},
			MinProbability:    0.25,
			DefaultPriority:   alerts.PriorityHigh,
			Action:            "Arrange rehab outreach visit this week",
			RationaleTemplate: "Triggered by: %s.",
			TalkTrack:         "Your recovery is the priority. A home visit will keep the rehab plan on track.",
		},
	}
}

// Registry builds the demo patient registry.
func Registry(now time.Time) *patient.Registry {
	reg := patient.NewRegistry()
	_ = reg.Add(patient.Patient{
		ID:         DemoPatientID,
		Name:       "Aarav Mehta",
		Age:        56,
		Sex:        "Male",
		BloodGroup: "B+",
		Location:   "Gurugram, IN",
		CareTeam: []patient.Caregiver{
			{Name: "Dr. Rhea Kapoor", Role: "Primary Care Physician"},
			{Name: "Anil Sharma", Role: "Care Coordinator"},
			{Name: "Priya Nair", Role: "RN / Diabetes Educator"},
		},
		Conditions: []patient.Condition{
			{Name: "Type 2 Diabetes", Since: "2017", Status: "Stable"},
			{Name: "Hypertension", Since: "2014", Status: "Moderate"},
		},
		Episodes: []patient.Episode{
			{
				Title:    "Seasonal Flu",
				Date:     now.AddDate(0, 0, -20),
				Summary:  "Fever, sore throat, congestion; treated with oseltamivir; recovered in 5 days.",
				Tags:     []string{"OPD", "Viral"},
				Location: "OPD - Artemis Hospital",
			},
			{
				Title:    "Road Traffic Trauma - Tibial Fracture",
				Date:     now.AddDate(0, -4, 0),
				Summary:  "Closed mid-shaft tibial fracture. ORIF with intramedullary nail; 2-day ICU, 5-day IP stay. Ongoing PT.",
				Tags:     []string{"Surgery", "ICU", "Rehab"},
				Location: "Artemis Hospital - OR & Ward",
			},
		},
		CreatedAt: now,
	})
	for _, m := range []patient.Medication{
		{ID: "M1", Name: "Metformin 1000 mg", Schedule: patient.ScheduleDaily, TimesPerDay: 2, Purpose: "T2D"},
		{ID: "M2", Name: "Telmisartan 40 mg", Schedule: patient.ScheduleDaily, TimesPerDay: 1, Purpose: "HTN"},
		{ID: "M3", Name: "Atorvastatin 20 mg", Schedule: patient.ScheduleDaily, TimesPerDay: 1, Purpose: "Dyslipidemia"},
		{ID: "M4", Name: "Vitamin D3 60k IU", Schedule: patient.ScheduleWeekly, Purpose: "Supplement"},
	} {
		_ = reg.AddMedication(DemoPatientID, m)
	}
	return reg
}

// Events builds the demo dose log, vital readings and communications,
// anchored relative to now so the demo stays inside the rolling windows.
func Events(now time.Time) []event.CareEvent {
	day := func(d int, hh, mm int) time.Time {
		t := now.AddDate(0, 0, d)
		return time.Date(t.Year(), t.Month(), t.Day(), hh, mm, 0, 0, time.UTC)
	}
	ptr := func(t time.Time) *time.Time { return &t }

	var out []event.CareEvent
	doses := []struct {
		med        string
		scheduled  time.Time
		taken      *time.Time
		source     event.Source
		confidence float64
	}{
		{"M1", day(-2, 8, 0), ptr(day(-2, 8, 10)), event.SourceDeviceMeasured, 0.95},
		{"M1", day(-2, 20, 0), ptr(day(-2, 21, 5)), event.SourceSelfReported, 0.7},
		{"M1", day(-1, 8, 0), nil, event.SourceInferred, 0.5},
		{"M2", day(-2, 21, 0), ptr(day(-2, 21, 2)), event.SourceDeviceMeasured, 0.95},
		{"M2", day(-1, 21, 0), ptr(day(-1, 21, 40)), event.SourceSelfReported, 0.7},
		{"M3", day(-2, 21, 0), ptr(day(-2, 21, 0)), event.SourceDeviceMeasured, 0.95},
		{"M4", day(-4, 10, 0), nil, event.SourceInferred, 0.5},
	}
	for _, d := range doses {
		ce, err := event.NewDose(DemoPatientID, event.Dose{
			MedicationID: d.med,
			ScheduledAt:  d.scheduled,
			TakenAt:      d.taken,
			Source:       d.source,
			Confidence:   d.confidence,
		})
		if err == nil {
			out = append(out, ce)
		}
	}

	vitals := []struct {
		metric string
		value  float64
		unit   string
		at     time.Time
	}{
		{"glucose", 142, "mg/dL", day(-3, 7, 0)},
		{"glucose", 151, "mg/dL", day(-2, 7, 0)},
		{"glucose", 138, "mg/dL", day(-1, 7, 0)},
		{"glucose", 145, "mg/dL", day(0, 7, 0)},
		{"sbp", 138, "mmHg", day(-3, 8, 0)},
		{"sbp", 136, "mmHg", day(-2, 8, 0)},
		{"sbp", 134, "mmHg", day(-1, 8, 0)},
		{"dbp", 87, "mmHg", day(-3, 8, 0)},
		{"dbp", 84, "mmHg", day(-1, 8, 0)},
		{"hr", 74, "bpm", day(-1, 8, 0)},
	}
	for _, v := range vitals {
		ce, err := event.NewVital(DemoPatientID, event.Vital{
			Metric: v.metric,
			Value:  v.value,
			Unit:   v.unit,
			At:     v.at,
		})
		if err == nil {
			out = append(out, ce)
		}
	}

	comms := []event.Communication{
		{Direction: event.DirectionOutbound, Channel: "SMS", Actor: "Twin Agent", At: day(-2, 7, 30), Subject: "Fasting glucose reminder", Metadata: "Delivered"},
		{Direction: event.DirectionInbound, Channel: "App", Actor: "Patient", At: day(-2, 8, 12), Subject: "Dose taken confirm (Metformin)", Metadata: "Self-report + photo"},
		{Direction: event.DirectionOutbound, Channel: "VoiceAI", Actor: "Twin Agent", At: day(-1, 10, 0), Subject: "PT check-in post-PT session", Metadata: "Call completed (38s)"},
		{Direction: event.DirectionInbound, Channel: "WhatsAppBot", Actor: "Patient", At: day(-1, 21, 10), Subject: "BP log uploaded", Metadata: "Image parsed"},
		{Direction: event.DirectionOutbound, Channel: "Phone", Actor: "Care Coordinator", At: day(0, 11, 5), Subject: "Diet coaching follow-up", Metadata: "Reached"},
	}
	for _, c := range comms {
		ce, err := event.NewCommunication(DemoPatientID, c)
		if err == nil {
			out = append(out, ce)
		}
	}
	return out
}

// Surveys seeds the satisfaction store with the demo NPS and CSAT history.
func Surveys(store *engagement.Store, now time.Time) {
	intp := func(v int) *int { return &v }
	entries := []engagement.Response{
		{PatientID: DemoPatientID, EpisodeID: "Trauma ORIF", NPS: intp(9), CSAT: intp(5), At: now.AddDate(0, -4, 5)},
		{PatientID: DemoPatientID, CSAT: intp(4), At: now.AddDate(0, -3, 0)},
		{PatientID: DemoPatientID, EpisodeID: "Flu OPD", NPS: intp(8), CSAT: intp(4), At: now.AddDate(0, 0, -18)},
		{PatientID: DemoPatientID, NPS: intp(8), CSAT: intp(5), Comment: "Coaching helped. App reminders useful; fewer calls please.", At: now.AddDate(0, 0, -2)},
	}
	for _, e := range entries {
		_ = store.Record(e)
	}
}
