// Package llm holds the HTTP plumbing shared by the chat-style OCR backends:
// request types, retries with backoff, and SSE stream parsing.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/spherical/ocr-bench/internal/domain"
	"github.com/spherical/ocr-bench/internal/observability"
)

// maxErrorBody bounds how much of a failed response is copied into errors
const maxErrorBody = 2048

// Authorizer decorates an outgoing request with credentials
type Authorizer func(ctx context.Context, req *http.Request) error

// HeaderAuthorizer sets a fixed header on every request.
func HeaderAuthorizer(key, value string) Authorizer {
	return func(_ context.Context, req *http.Request) error {
		req.Header.Set(key, value)
		return nil
	}
}

// BearerAuthorizer sets a static bearer token.
func BearerAuthorizer(token string) Authorizer {
	return HeaderAuthorizer("Authorization", "Bearer "+token)
}

// Client sends JSON requests to one backend with retries
type Client struct {
	httpClient *http.Client
	authorize  Authorizer
	headers    map[string]string
	retry      *RetryConfig
	logger     *observability.Logger
}

// Option configures a Client
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithAuthorizer sets the credential decorator.
func WithAuthorizer(a Authorizer) Option {
	return func(c *Client) { c.authorize = a }
}

// WithHeader adds a static header to every request.
func WithHeader(key, value string) Option {
	return func(c *Client) { c.headers[key] = value }
}

// WithRetry overrides the retry policy.
func WithRetry(cfg *RetryConfig) Option {
	return func(c *Client) {
		if cfg != nil {
			c.retry = cfg
		}
	}
}

// WithLogger sets the logger used for retry warnings.
func WithLogger(l *observability.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// NewClient creates a new backend client
func NewClient(opts ...Option) *Client {
	c := &Client{
		httpClient: &http.Client{},
		headers:    map[string]string{},
		retry:      DefaultRetryConfig(),
		logger:     observability.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// PostJSON sends payload to url and decodes a 2xx response into out.
func (c *Client) PostJSON(ctx context.Context, url string, payload, out interface{}) error {
	resp, err := c.post(ctx, url, payload)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return domain.ProviderCallError("malformed response body", err)
	}
	return nil
}

// Stream sends payload to url and parses the SSE response.
func (c *Client) Stream(ctx context.Context, url string, payload interface{}) (string, *Usage, error) {
	resp, err := c.post(ctx, url, payload)
	if err != nil {
		return "", nil, err
	}
	defer resp.Body.Close()

	text, usage, err := NewStreamParser(resp.Body).ParseAll()
	if err != nil {
		return "", nil, domain.ProviderCallError("failed to parse stream", err)
	}
	return text, usage, nil
}

func (c *Client) post(ctx context.Context, url string, payload interface{}) (*http.Response, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, domain.ProviderCallError("failed to marshal request", err)
	}

	resp, err := c.withRetry(ctx, func() (*http.Response, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}

		req.Header.Set("Content-Type", "application/json")
		for k, v := range c.headers {
			req.Header.Set(k, v)
		}
		if c.authorize != nil {
			if err := c.authorize(ctx, req); err != nil {
				return nil, domain.ProviderCallError("failed to authorize request", err)
			}
		}

		return c.httpClient.Do(req)
	})
	if err != nil {
		return nil, domain.ProviderCallError("failed to send request", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer resp.Body.Close()
		bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, domain.ProviderCallError(fmt.Sprintf("API returned status %d: %s", resp.StatusCode, string(bodyBytes)), nil)
	}

	return resp, nil
}
