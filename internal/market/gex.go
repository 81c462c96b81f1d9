package market

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// HTTPWallSource fetches gamma-exposure wall levels from a JSON endpoint.
type HTTPWallSource struct {
	url    string
	client *http.Client
}

// NewHTTPWallSource creates a wall source for the given endpoint URL.
func NewHTTPWallSource(url string) *HTTPWallSource {
	return &HTTPWallSource{
		url:    strings.TrimRight(url, "/"),
		client: &http.Client{Timeout: 5 * time.Second},
	}
}

// WithHTTPClient overrides the HTTP client, for tests.
func (w *HTTPWallSource) WithHTTPClient(c *http.Client) *HTTPWallSource {
	if c != nil {
		w.client = c
	}
	return w
}

type wallsResponse struct {
	CallWall float64 `json:"call_wall"`
	PutWall  float64 `json:"put_wall"`
}

// GetWalls fetches wall levels for a symbol. A provider with no current
// walls returns zeros, which the snapshot provider treats as absent.
func (w *HTTPWallSource) GetWalls(ctx context.Context, symbol string) (float64, float64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("%s/walls/%s", w.url, symbol), http.NoBody)
	if err != nil {
		return 0, 0, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return 0, 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNoContent || resp.StatusCode == http.StatusNotFound {
		return 0, 0, nil
	}
	if resp.StatusCode != http.StatusOK {
		return 0, 0, fmt.Errorf("wall source returned %d", resp.StatusCode)
	}

	var out wallsResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return 0, 0, fmt.Errorf("decode wall response: %w", err)
	}
	return out.CallWall, out.PutWall, nil
}
