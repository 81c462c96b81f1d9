package strategy

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sbenson/condorbot/internal/models"
)

// Advisor suggests short strikes from an external model. The pipeline must
// work without one; a nil suggestion with a nil error means "no opinion" and
// the selector falls through to the next source.
type Advisor interface {
	Suggest(ctx context.Context, snap *models.MarketSnapshot, expectedMove float64) (*models.StrikeSuggestion, error)
}

// NoopAdvisor never suggests strikes.
type NoopAdvisor struct{}

func (NoopAdvisor) Suggest(_ context.Context, _ *models.MarketSnapshot, _ float64) (*models.StrikeSuggestion, error) {
	return nil, nil
}

// HTTPAdvisor queries a strike-suggestion service over JSON/HTTP.
type HTTPAdvisor struct {
	url    string
	client *http.Client
}

// NewHTTPAdvisor creates an advisor client for the given endpoint URL.
func NewHTTPAdvisor(url string) *HTTPAdvisor {
	return &HTTPAdvisor{
		url:    strings.TrimRight(url, "/"),
		client: &http.Client{Timeout: 5 * time.Second},
	}
}

// WithHTTPClient overrides the HTTP client, for tests.
func (a *HTTPAdvisor) WithHTTPClient(c *http.Client) *HTTPAdvisor {
	if c != nil {
		a.client = c
	}
	return a
}

type advisorRequest struct {
	Symbol       string  `json:"symbol"`
	Spot         float64 `json:"spot"`
	VIX          float64 `json:"vix"`
	ExpectedMove float64 `json:"expected_move"`
}

type advisorResponse struct {
	PutStrike      float64 `json:"suggested_put_strike"`
	CallStrike     float64 `json:"suggested_call_strike"`
	WinProbability float64 `json:"win_probability"`
	Confidence     float64 `json:"confidence"`
	SourceName     string  `json:"source_name"`
}

// Suggest posts the snapshot and expected-move band to the advisor service.
// A service that declines to suggest (zero strikes) yields a nil suggestion,
// not an error.
func (a *HTTPAdvisor) Suggest(ctx context.Context, snap *models.MarketSnapshot, expectedMove float64) (*models.StrikeSuggestion, error) {
	payload, err := json.Marshal(advisorRequest{
		Symbol:       snap.Symbol,
		Spot:         snap.Spot,
		VIX:          snap.VIX,
		ExpectedMove: expectedMove,
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.url+"/suggest", strings.NewReader(string(payload)))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNoContent {
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return nil, fmt.Errorf("advisor returned %d: %s", resp.StatusCode, string(body))
	}

	var out advisorResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode advisor response: %w", err)
	}
	if out.PutStrike <= 0 || out.CallStrike <= 0 {
		return nil, nil
	}

	return &models.StrikeSuggestion{
		PutStrike:      out.PutStrike,
		CallStrike:     out.CallStrike,
		WinProbability: out.WinProbability,
		Confidence:     out.Confidence,
		SourceName:     out.SourceName,
	}, nil
}
