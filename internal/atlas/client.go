// Package atlas is the remote query service for the Atlas GraphQL API.
// It issues the three query shapes the pipeline needs (project view, status
// history, project updates) and returns normalized flat node lists; the
// pagination envelope never leaks past this package.
package atlas

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// DefaultTimeout bounds a single GraphQL call so a stalled request cannot
// hang a pipeline run indefinitely.
const DefaultTimeout = 30 * time.Second

// Client issues GraphQL queries against an Atlas-compatible endpoint.
type Client struct {
	baseURL string
	cloudID string
	token   string
	hc      *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client (used in tests).
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.hc = hc }
}

// WithTimeout sets the per-call timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.hc.Timeout = d }
}

// NewClient creates a client for the given API base URL and cloud id.
// token may be empty when the endpoint relies on ambient session auth.
func NewClient(baseURL, cloudID, token string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		cloudID: cloudID,
		token:   token,
		hc:      &http.Client{Timeout: DefaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// graphQLRequest is the wire format for a single query.
type graphQLRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables"`
}

// graphQLResponse is the common response wrapper.
type graphQLResponse struct {
	Data   json.RawMessage `json:"data"`
	Errors []graphQLError  `json:"errors"`
}

type graphQLError struct {
	Message    string `json:"message"`
	Extensions struct {
		StatusCode int    `json:"statusCode"`
		ErrorType  string `json:"errorType"`
	} `json:"extensions"`
}

// do posts a query and decodes the data payload into out.
func (c *Client) do(ctx context.Context, query string, variables map[string]any, out any) error {
	body, err := json.Marshal(graphQLRequest{Query: query, Variables: variables})
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/graphql", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		return fmt.Errorf("graphql request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		return &RateLimitError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(raw))}
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("graphql request: unexpected status %d: %s", resp.StatusCode, truncate(string(raw), 200))
	}

	var gr graphQLResponse
	if err := json.Unmarshal(raw, &gr); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	if len(gr.Errors) > 0 {
		if rateLimitedBody(gr.Errors) {
			return &RateLimitError{StatusCode: resp.StatusCode, Message: gr.Errors[0].Message}
		}
		return fmt.Errorf("graphql error: %s", gr.Errors[0].Message)
	}

	if out != nil {
		if err := json.Unmarshal(gr.Data, out); err != nil {
			return fmt.Errorf("decode data: %w", err)
		}
	}
	return nil
}

// rateLimitedBody reports whether any GraphQL error is a rate-limit marker.
func rateLimitedBody(errs []graphQLError) bool {
	for _, e := range errs {
		if e.Extensions.StatusCode == http.StatusTooManyRequests {
			return true
		}
		msg := strings.ToLower(e.Message)
		if strings.Contains(msg, "rate_limited") || strings.Contains(msg, "rate limited") ||
			strings.Contains(msg, "too many requests") {
			return true
		}
	}
	return false
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
