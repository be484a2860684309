// Package ctxasm is a Go client for the ctxasm HTTP API.
package ctxasm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

const (
	// DefaultTimeout is the default HTTP client timeout.
	DefaultTimeout = 30 * time.Second
	// DefaultBaseURL is the default ctxasm server URL.
	DefaultBaseURL = "http://localhost:8080"
)

// Client talks to a ctxasm server.
type Client struct {
	baseURL    string
	httpClient *http.Client
	headers    map[string]string
}

// ClientOption is a function that configures a Client.
type ClientOption func(*Client)

// WithBaseURL sets the base URL for the client.
func WithBaseURL(baseURL string) ClientOption {
	return func(c *Client) {
		c.baseURL = baseURL
	}
}

// WithTimeout sets the HTTP client timeout.
func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) {
		c.httpClient.Timeout = timeout
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithHeader adds a custom header to all requests.
func WithHeader(key, value string) ClientOption {
	return func(c *Client) {
		if c.headers == nil {
			c.headers = make(map[string]string)
		}
		c.headers[key] = value
	}
}

// WithAPIKey authenticates every request with key.
func WithAPIKey(key string) ClientOption {
	return WithHeader("X-API-Key", key)
}

// New creates a new client with the given options.
func New(opts ...ClientOption) *Client {
	c := &Client{
		baseURL: DefaultBaseURL,
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
		headers: make(map[string]string),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// do performs an HTTP request and decodes the response.
func (c *Client) do(ctx context.Context, method, path string, body, result any) error {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	for k, v := range c.headers {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		apiErr := APIError{StatusCode: resp.StatusCode}
		if err := json.Unmarshal(respBody, &apiErr); err == nil && apiErr.Message != "" {
			return &apiErr
		}
		return &APIError{
			StatusCode: resp.StatusCode,
			Message:    fmt.Sprintf("server error: %s", string(respBody)),
		}
	}

	if result != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}

	return nil
}

// Health checks if the server is healthy.
func (c *Client) Health(ctx context.Context) (*HealthResponse, error) {
	var resp HealthResponse
	if err := c.do(ctx, http.MethodGet, "/health", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Ready checks if the server can encode text and reach its cache.
func (c *Client) Ready(ctx context.Context) (*ReadyResponse, error) {
	var resp ReadyResponse
	if err := c.do(ctx, http.MethodGet, "/ready", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Assemble builds a context on the server.
func (c *Client) Assemble(ctx context.Context, req *AssembleRequest) (*AssembledContext, error) {
	if req == nil {
		return nil, fmt.Errorf("request cannot be nil")
	}
	if len(req.Entries) == 0 {
		return nil, fmt.Errorf("at least one entry is required")
	}

	var out AssembledContext
	if err := c.do(ctx, http.MethodPost, "/v1/assemble", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Trim fits a single text into a token budget.
func (c *Client) Trim(ctx context.Context, req *TrimRequest) (*TrimResult, error) {
	if req == nil {
		return nil, fmt.Errorf("request cannot be nil")
	}

	var out TrimResult
	if err := c.do(ctx, http.MethodPost, "/v1/trim", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Tokens encodes text with the server's vocabulary.
func (c *Client) Tokens(ctx context.Context, text string) (*TokensResult, error) {
	var out TokensResult
	body := map[string]string{"text": text}
	if err := c.do(ctx, http.MethodPost, "/v1/tokens", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Cache administration

// CacheStats returns the size of the server's token cache.
func (c *Client) CacheStats(ctx context.Context) (*CacheStats, error) {
	var stats CacheStats
	if err := c.do(ctx, http.MethodGet, "/admin/cache/stats", nil, &stats); err != nil {
		return nil, err
	}
	return &stats, nil
}

// PurgeCache removes cached encodings whose keys start with prefix, or all
// of them when prefix is empty. It returns the number removed.
func (c *Client) PurgeCache(ctx context.Context, prefix string) (int, error) {
	path := "/admin/cache"
	if prefix != "" {
		path += "?prefix=" + url.QueryEscape(prefix)
	}

	var resp struct {
		Purged int `json:"purged"`
	}
	if err := c.do(ctx, http.MethodDelete, path, nil, &resp); err != nil {
		return 0, err
	}
	return resp.Purged, nil
}

// CollectCache asks the server to reclaim space in its cache's value log.
// A zero ratio uses the server default.
func (c *Client) CollectCache(ctx context.Context, discardRatio float64) error {
	path := "/admin/cache/gc"
	if discardRatio != 0 {
		path += "?discard_ratio=" + strconv.FormatFloat(discardRatio, 'f', -1, 64)
	}
	return c.do(ctx, http.MethodPost, path, nil, nil)
}
