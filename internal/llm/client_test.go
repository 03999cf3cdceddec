package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spherical/ocr-bench/internal/domain"
)

func fastRetry() *RetryConfig {
	return &RetryConfig{MaxRetries: 2, InitialBackoff: time.Millisecond, MaxBackoff: 5 * time.Millisecond}
}

func TestPostJSONDecodesResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "secret", r.Header.Get("api-key"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var req Request
		if assert.NoError(t, json.NewDecoder(r.Body).Decode(&req)) && assert.Len(t, req.Messages, 1) {
			assert.Equal(t, "image_url", req.Messages[0].Content[1].Type)
		}

		fmt.Fprint(w, `{"choices":[{"message":{"content":"hello"}}],"usage":{"prompt_tokens":7,"completion_tokens":3,"total_tokens":10}}`)
	}))
	defer srv.Close()

	client := NewClient(WithAuthorizer(HeaderAuthorizer("api-key", "secret")), WithRetry(fastRetry()))
	msgs := BuildOCRMessages(domain.PageContent{PageNumber: 1, Image: []byte{0xff, 0xd8}})

	var resp Response
	require.NoError(t, client.PostJSON(context.Background(), srv.URL, Request{Messages: msgs}, &resp))

	text, ok := resp.FirstContent()
	assert.True(t, ok)
	assert.Equal(t, "hello", text)
	assert.Equal(t, domain.Usage{InputTokens: 7, OutputTokens: 3, TotalTokens: 10}, resp.Usage.Domain())
}

func TestPostJSONRetriesServerErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		fmt.Fprint(w, `{"choices":[{"message":{"content":"ok"}}]}`)
	}))
	defer srv.Close()

	client := NewClient(WithRetry(fastRetry()))
	var resp Response
	require.NoError(t, client.PostJSON(context.Background(), srv.URL, Request{}, &resp))
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestPostJSONErrors(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantMsg string
	}{
		{"client error is not retried", http.StatusUnauthorized, `{"error":"bad key"}`, "status 401"},
		{"server error exhausts retries", http.StatusInternalServerError, "boom", "status 500"},
		{"malformed json", http.StatusOK, "{not json", "malformed response body"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				fmt.Fprint(w, tt.body)
			}))
			defer srv.Close()

			client := NewClient(WithRetry(fastRetry()))
			var resp Response
			err := client.PostJSON(context.Background(), srv.URL, Request{}, &resp)
			require.Error(t, err)
			assert.True(t, domain.IsType(err, domain.ErrorTypeProviderCall))
			assert.Contains(t, err.Error(), tt.wantMsg)
		})
	}
}

func TestStreamCollectsContentAndUsage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprintln(w, `data: {"choices":[{"delta":{"content":"Hel"}}]}`)
		fmt.Fprintln(w, `: keep-alive`)
		fmt.Fprintln(w, `data: {"choices":[{"delta":{"content":"lo"},"finish_reason":"stop"}]}`)
		fmt.Fprintln(w, `data: {"choices":[],"usage":{"prompt_tokens":4,"completion_tokens":2,"total_tokens":6}}`)
		fmt.Fprintln(w, `data: [DONE]`)
	}))
	defer srv.Close()

	client := NewClient(WithRetry(fastRetry()))
	text, usage, err := client.Stream(context.Background(), srv.URL, Request{Stream: true})
	require.NoError(t, err)
	assert.Equal(t, "Hello", text)
	require.NotNil(t, usage)
	assert.Equal(t, 6, usage.TotalTokens)
}

func TestRetryHonoursCancellation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	client := NewClient(WithRetry(fastRetry()))
	var resp Response
	err := client.PostJSON(ctx, srv.URL, Request{}, &resp)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestBackoff(t *testing.T) {
	cfg := &RetryConfig{InitialBackoff: time.Second, MaxBackoff: 5 * time.Second}
	tests := []struct {
		attempt    int
		retryAfter string
		want       time.Duration
	}{
		{attempt: 0, want: time.Second},
		{attempt: 1, want: 2 * time.Second},
		{attempt: 2, want: 4 * time.Second},
		{attempt: 5, want: 5 * time.Second},
		{attempt: 0, retryAfter: "3", want: 3 * time.Second},
		{attempt: 0, retryAfter: "120", want: 5 * time.Second},
		{attempt: 1, retryAfter: "soon", want: 2 * time.Second},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("attempt %d retry-after %q", tt.attempt, tt.retryAfter), func(t *testing.T) {
			var resp *http.Response
			if tt.retryAfter != "" {
				resp = &http.Response{Header: http.Header{"Retry-After": []string{tt.retryAfter}}}
			}
			assert.Equal(t, tt.want, cfg.backoff(tt.attempt, resp))
		})
	}
}

func TestBuildOCRMessagesTextOnly(t *testing.T) {
	msgs := BuildOCRMessages(domain.PageContent{PageNumber: 2, Text: "layer text"})
	require.Len(t, msgs, 1)
	require.Len(t, msgs[0].Content, 2)
	assert.Equal(t, TextPrompt, msgs[0].Content[0].Text)
	assert.Equal(t, "layer text", msgs[0].Content[1].Text)
	assert.Nil(t, msgs[0].Content[1].ImageURL)
}

func TestImageDataURL(t *testing.T) {
	url := ImageDataURL("", []byte("abc"))
	assert.True(t, strings.HasPrefix(url, "data:image/jpeg;base64,"))
	assert.Equal(t, "data:image/png;base64,YWJj", ImageDataURL("image/png", []byte("abc")))
}
