package source

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	defaultProviderBaseURL = "https://api.anthropic.com/v1/organizations/usage_report"
	requestTimeout         = 10 * time.Second
	maxBodySize            = 1 << 20 // 1 MB
)

var (
	// ErrUnauthorized indicates the API key is expired or invalid.
	ErrUnauthorized = errors.New("provider: unauthorized (API key expired or invalid)")
	// ErrRateLimited indicates the usage API rate limit was hit.
	ErrRateLimited = errors.New("provider: rate limited")
)

// ProviderClient fetches per-model daily usage buckets from the
// provider usage API.
type ProviderClient struct {
	apiKey  string
	baseURL string
	http    *http.Client
}

// NewProviderClient creates a client for the given API key.
// Returns nil if the key is empty.
func NewProviderClient(apiKey, baseURL string) *ProviderClient {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return nil
	}
	if baseURL == "" {
		baseURL = defaultProviderBaseURL
	}
	return &ProviderClient{
		apiKey:  apiKey,
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{},
	}
}

// usageDayResponse is the raw API response for one requested date.
type usageDayResponse struct {
	Date    string           `json:"date"`
	Buckets []ProviderBucket `json:"buckets"`
}

// FetchDay returns the usage buckets for one calendar date.
func (c *ProviderClient) FetchDay(ctx context.Context, date time.Time) ([]ProviderBucket, error) {
	body, err := c.get(ctx, "?date="+date.UTC().Format("2006-01-02"))
	if err != nil {
		return nil, err
	}

	var raw usageDayResponse
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("provider: parsing usage response: %w", err)
	}
	return raw.Buckets, nil
}

// get performs an authenticated GET request and returns the response body.
func (c *ProviderClient) get(ctx context.Context, query string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+query, nil)
	if err != nil {
		return nil, fmt.Errorf("provider: creating request: %w", err)
	}

	req.Header.Set("X-Api-Key", c.apiKey)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "costpilot/1.0")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("provider: request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch resp.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return nil, ErrUnauthorized
	case http.StatusTooManyRequests:
		return nil, ErrRateLimited
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("provider: unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, fmt.Errorf("provider: reading response: %w", err)
	}
	return body, nil
}
