package predictions

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/luminacare/twinpulse/internal/errs"
	"github.com/luminacare/twinpulse/pkg/circuitbreaker"
)

// HTTPScorer calls the external risk-scorer service. Calls run through a
// circuit breaker; failures and open-circuit rejections surface as
// upstream-unavailable errors for the orchestrator to retry.
type HTTPScorer struct {
	baseURL string
	client  *http.Client
	breaker *circuitbreaker.CircuitBreaker
	logger  *zap.Logger
}

// NewHTTPScorer builds a scorer client against baseURL.
func NewHTTPScorer(baseURL string, timeout time.Duration, breaker *circuitbreaker.CircuitBreaker, logger *zap.Logger) *HTTPScorer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTPScorer{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
		breaker: breaker,
		logger:  logger,
	}
}

type scoreRequest struct {
	Features map[string]float64 `json:"features"`
}

type scoreResponse struct {
	Scores []RawScore `json:"scores"`
}

// Score implements Scorer.
func (s *HTTPScorer) Score(ctx context.Context, patientID string, features map[string]float64) ([]RawScore, error) {
	result, err := s.breaker.Execute(ctx, func() (interface{}, error) {
		return s.call(ctx, patientID, features)
	})
	if err != nil {
		return nil, errs.Upstream("risk-scorer", err)
	}
	return result.([]RawScore), nil
}

func (s *HTTPScorer) call(ctx context.Context, patientID string, features map[string]float64) ([]RawScore, error) {
	body, err := json.Marshal(scoreRequest{Features: features})
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	url := fmt.Sprintf("%s/v1/patients/%s/score", s.baseURL, patientID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("call scorer: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("scorer returned status %d", resp.StatusCode)
	}

	var out scoreResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return out.Scores, nil
}
