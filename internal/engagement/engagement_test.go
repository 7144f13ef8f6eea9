package engagement

import (
	"errors"
	"testing"
	"time"

	"github.com/luminacare/twinpulse/internal/errs"
)

func intp(v int) *int { return &v }

func TestRecordValidation(t *testing.T) {
	s := NewStore()
	cases := []struct {
		name      string
		r         Response
		detailKey string
		detailVal string
	}{
		{"missing patient", Response{CSAT: intp(4)}, "", ""},
		{"no score", Response{PatientID: "p1"}, "", ""},
		{"nps too high", Response{PatientID: "p1", NPS: intp(11)}, "nps", "11"},
		{"csat too low", Response{PatientID: "p1", CSAT: intp(0)}, "csat", "0"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := s.Record(tc.r)
			if !errors.Is(err, errs.ErrValidation) {
				t.Fatalf("err = %v, want validation", err)
			}
			if tc.detailKey == "" {
				return
			}
			var app *errs.AppError
			if !errors.As(err, &app) {
				t.Fatalf("err = %T, want *errs.AppError", err)
			}
			if app.Details[tc.detailKey] != tc.detailVal {
				t.Fatalf("details[%q] = %q, want %q", tc.detailKey, app.Details[tc.detailKey], tc.detailVal)
			}
		})
	}
}

func TestSummarize(t *testing.T) {
	s := NewStore()
	base := time.Date(2026, 1, 5, 12, 0, 0, 0, time.UTC)

	entries := []Response{
		{PatientID: "p1", NPS: intp(7), At: base},
		{PatientID: "p1", CSAT: intp(3), EpisodeID: "ep-1", At: base.Add(24 * time.Hour)},
		{PatientID: "p1", CSAT: intp(5), EpisodeID: "ep-2", At: base.Add(48 * time.Hour)},
		{PatientID: "p1", NPS: intp(9), At: base.Add(72 * time.Hour)},
		{PatientID: "p2", CSAT: intp(1), At: base},
	}
	for _, r := range entries {
		if err := s.Record(r); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}

	sum := s.Summarize("p1")
	if sum.LatestNPS == nil || *sum.LatestNPS != 9 {
		t.Fatalf("LatestNPS = %v, want 9", sum.LatestNPS)
	}
	if sum.CSATSamples != 2 || sum.AverageCSAT != 4.0 {
		t.Fatalf("CSAT samples/avg = %d/%v, want 2/4.0", sum.CSATSamples, sum.AverageCSAT)
	}
	if sum.ByEpisode["ep-1"] != 3 || sum.ByEpisode["ep-2"] != 5 {
		t.Fatalf("ByEpisode = %v", sum.ByEpisode)
	}
	if len(sum.CSATTrend) != 2 || sum.CSATTrend[0].CSAT != 3 {
		t.Fatalf("CSATTrend = %v", sum.CSATTrend)
	}

	empty := s.Summarize("nobody")
	if empty.LatestNPS != nil || empty.CSATSamples != 0 {
		t.Fatalf("empty summary = %+v", empty)
	}
}
