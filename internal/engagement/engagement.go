// Package engagement stores patient satisfaction survey responses (NPS and
// CSAT) and summarizes them for the dashboard. Entries are append-only.
package engagement

import (
	"strconv"
	"sync"
	"time"

	"github.com/luminacare/twinpulse/internal/errs"
)

// NPS scores run 0..10, CSAT 1..5.
const (
	npsMax  = 10
	csatMin = 1
	csatMax = 5
)

// Response is one survey answer, optionally tied to a care episode.
type Response struct {
	PatientID string    `json:"patient_id"`
	EpisodeID string    `json:"episode_id,omitempty"`
	NPS       *int      `json:"nps,omitempty"`
	CSAT      *int      `json:"csat,omitempty"`
	Comment   string    `json:"comment,omitempty"`
	At        time.Time `json:"at"`
}

// Summary is the aggregate the read model exposes.
type Summary struct {
	LatestNPS   *int           `json:"latest_nps,omitempty"`
	AverageCSAT float64        `json:"average_csat"`
	CSATSamples int            `json:"csat_samples"`
	ByEpisode   map[string]int `json:"by_episode,omitempty"` // episode id -> latest CSAT
	CSATTrend   []TrendPoint   `json:"csat_trend,omitempty"`
}

// TrendPoint is one CSAT sample in chronological order.
type TrendPoint struct {
	At   time.Time `json:"at"`
	CSAT int       `json:"csat"`
}

// Store holds responses per patient.
type Store struct {
	mu        sync.RWMutex
	byPatient map[string][]Response
}

func NewStore() *Store {
	return &Store{byPatient: make(map[string][]Response)}
}

// Record validates and appends a survey response.
func (s *Store) Record(r Response) error {
	if r.PatientID == "" {
		return errs.Validation("patient id is required", nil)
	}
	if r.NPS == nil && r.CSAT == nil {
		return errs.Validation("response must carry an NPS or CSAT score", nil)
	}
	if r.NPS != nil && (*r.NPS < 0 || *r.NPS > npsMax) {
		return errs.Validation("nps out of range", map[string]string{"nps": strconv.Itoa(*r.NPS)})
	}
	if r.CSAT != nil && (*r.CSAT < csatMin || *r.CSAT > csatMax) {
		return errs.Validation("csat out of range", map[string]string{"csat": strconv.Itoa(*r.CSAT)})
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.byPatient[r.PatientID] = append(s.byPatient[r.PatientID], r)
	return nil
}

// Summarize aggregates a patient's responses. An empty history yields a zero
// Summary, not an error.
func (s *Store) Summarize(patientID string) Summary {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var sum Summary
	var csatTotal int
	for _, r := range s.byPatient[patientID] {
		if r.NPS != nil {
			v := *r.NPS
			sum.LatestNPS = &v
		}
		if r.CSAT != nil {
			csatTotal += *r.CSAT
			sum.CSATSamples++
			sum.CSATTrend = append(sum.CSATTrend, TrendPoint{At: r.At, CSAT: *r.CSAT})
			if r.EpisodeID != "" {
				if sum.ByEpisode == nil {
					sum.ByEpisode = make(map[string]int)
				}
				sum.ByEpisode[r.EpisodeID] = *r.CSAT
			}
		}
	}
	if sum.CSATSamples > 0 {
		sum.AverageCSAT = float64(csatTotal) / float64(sum.CSATSamples)
	}
	return sum
}
