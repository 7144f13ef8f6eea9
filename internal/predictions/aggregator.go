// Package predictions normalizes raw risk-scorer output into a stable,
// ranked prediction feed.
package predictions

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/luminacare/twinpulse/internal/errs"
	"github.com/luminacare/twinpulse/pkg/clock"
)

// RawScore is one tuple from the external scorer, taken as-is. Probabilities
// may fall outside [0,1] due to upstream defects; drivers arrive pre-ranked
// by influence.
type RawScore struct {
	Label       string   `json:"label"`
	Probability float64  `json:"probability"`
	Drivers     []string `json:"drivers"`
}

// Scorer is the consumed risk-scorer boundary. The core only normalizes its
// output; invoking and time-bounding the call is the caller's concern.
type Scorer interface {
	Score(ctx context.Context, patientID string, features map[string]float64) ([]RawScore, error)
}

// Prediction is a normalized risk prediction.
type Prediction struct {
	ID          string    `json:"id"`
	Label       string    `json:"label"`
	Probability float64   `json:"probability"`
	Drivers     []string  `json:"drivers"`
	AsOf        time.Time `json:"as_of"`
}

// Aggregator holds the current prediction set for one patient. Ingest
// replaces the set wholesale; readers never observe a half-updated feed.
type Aggregator struct {
	mu            sync.RWMutex
	current       []Prediction
	maxDrivers    int
	clk           clock.Clock
	logger        *zap.Logger
	rangeWarnings prometheus.Counter
}

// NewAggregator creates an aggregator keeping at most maxDrivers drivers per
// prediction. rangeWarnings counts clamped probabilities and may be nil.
func NewAggregator(maxDrivers int, clk clock.Clock, logger *zap.Logger, rangeWarnings prometheus.Counter) *Aggregator {
	if maxDrivers <= 0 {
		maxDrivers = 3
	}
	if clk == nil {
		clk = clock.System{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Aggregator{maxDrivers: maxDrivers, clk: clk, logger: logger, rangeWarnings: rangeWarnings}
}

// Ingest normalizes raw scorer output and swaps it in as the new prediction
// set. Out-of-range probabilities are clamped and logged as range warnings
// rather than failing the run. Ordering is descending probability with label
// as the deterministic tie-break.
func (a *Aggregator) Ingest(raw []RawScore) []Prediction {
	asOf := a.clk.Now()
	next := make([]Prediction, 0, len(raw))

	for _, r := range raw {
		p := Prediction{
			ID:          uuid.New().String(),
			Label:       r.Label,
			Probability: r.Probability,
			AsOf:        asOf,
		}

		if r.Probability < 0 || r.Probability > 1 {
			clamped := minFloat(1, maxFloat(0, r.Probability))
			w := errs.RangeWarning{Field: "probability", Value: r.Probability, Clamped: clamped}
			a.logger.Warn("scorer probability out of range",
				zap.String("label", r.Label),
				zap.String("warning", w.String()))
			if a.rangeWarnings != nil {
				a.rangeWarnings.Inc()
			}
			p.Probability = clamped
		}

		drivers := r.Drivers
		if len(drivers) > a.maxDrivers {
			drivers = drivers[:a.maxDrivers]
		}
		p.Drivers = append([]string(nil), drivers...)
		next = append(next, p)
	}

	sort.Slice(next, func(i, j int) bool {
		if next[i].Probability != next[j].Probability {
			return next[i].Probability > next[j].Probability
		}
		return next[i].Label < next[j].Label
	})

	a.mu.Lock()
	a.current = next
	a.mu.Unlock()

	return append([]Prediction(nil), next...)
}

// Current returns the latest prediction set in display order.
func (a *Aggregator) Current() []Prediction {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return append([]Prediction(nil), a.current...)
}

func minFloat(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

func maxFloat(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}
