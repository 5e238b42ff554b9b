package rules

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"codeshield/services/scanner"
)

// DefaultTimeout bounds one rules service call.
const DefaultTimeout = 10 * time.Second

// HTTPClient calls a remote rules service.
type HTTPClient struct {
	url     string
	timeout time.Duration
	client  *http.Client
}

// NewHTTPClient posts to url. Requests are bounded by timeout.
func NewHTTPClient(url string, timeout time.Duration) (*HTTPClient, error) {
	url = strings.TrimSpace(url)
	if url == "" {
		return nil, errors.New("rules url is required")
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &HTTPClient{url: url, timeout: timeout, client: &http.Client{Timeout: timeout}}, nil
}

type applyRequest struct {
	Analysis *scanner.Analysis `json:"analysis"`
}

func (c *HTTPClient) Apply(ctx context.Context, analysis *scanner.Analysis) (*Result, error) {
	body, err := json.Marshal(applyRequest{Analysis: analysis})
	if err != nil {
		return nil, fmt.Errorf("marshal analysis: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("post rules: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return nil, fmt.Errorf("rules unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}

	var res Result
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&res); err != nil {
		return nil, fmt.Errorf("decode rules response: %w", err)
	}
	if res.AppliedRules == nil {
		res.AppliedRules = []string{}
	}
	if res.Penalties == nil {
		res.Penalties = []Penalty{}
	}
	res.AdjustedScore = scanner.Clamp(res.AdjustedScore)
	return &res, nil
}
