package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"codeshield/services/registry"
)

// ErrScanNotFound is returned by Client.Get on 404.
var ErrScanNotFound = errors.New("scan not found")

// Client calls the scan API over HTTP.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient returns a Client for baseURL. A nil httpClient selects one with a
// 30 second timeout.
func NewClient(baseURL string, httpClient *http.Client) (*Client, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, errors.New("api base url is required")
	}
	if _, err := url.ParseRequestURI(baseURL); err != nil {
		return nil, fmt.Errorf("invalid api base url: %w", err)
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{baseURL: baseURL, http: httpClient}, nil
}

// Submit posts a scan and returns its id.
func (c *Client) Submit(ctx context.Context, target, codeHash, source string) (string, error) {
	encoded, err := json.Marshal(source)
	if err != nil {
		return "", fmt.Errorf("marshal source: %w", err)
	}
	payload, err := json.Marshal(submitRequest{Target: target, CodeHash: codeHash, Source: encoded})
	if err != nil {
		return "", fmt.Errorf("marshal scan request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/scan", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("post scan: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusAccepted {
		data, _ := io.ReadAll(resp.Body)
		msg := strings.TrimSpace(string(data))
		if resp.StatusCode == http.StatusTooManyRequests {
			return "", fmt.Errorf("scanner busy, retry after %ss: %s", resp.Header.Get("Retry-After"), msg)
		}
		return "", fmt.Errorf("submit failed (%d): %s", resp.StatusCode, msg)
	}

	var out submitResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode scan response: %w", err)
	}
	if out.ScanID == "" {
		return "", errors.New("api response missing scan id")
	}
	return out.ScanID, nil
}

// Get fetches one scan record.
func (c *Client) Get(ctx context.Context, id string) (*registry.Record, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/scan/"+url.PathEscape(id), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("get scan: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return nil, fmt.Errorf("%w: %s", ErrScanNotFound, id)
	default:
		data, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("get scan failed (%d): %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}

	var rec registry.Record
	if err := json.NewDecoder(resp.Body).Decode(&rec); err != nil {
		return nil, fmt.Errorf("decode scan: %w", err)
	}
	return &rec, nil
}

// Wait polls until the scan reaches a terminal status or ctx ends.
func (c *Client) Wait(ctx context.Context, id string, interval time.Duration) (*registry.Record, error) {
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		rec, err := c.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if rec.Status.Terminal() {
			return rec, nil
		}
		select {
		case <-ctx.Done():
			return rec, ctx.Err()
		case <-ticker.C:
		}
	}
}
