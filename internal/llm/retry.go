package llm

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/spherical/ocr-bench/internal/domain"
)

// RetryConfig bounds how often and how patiently a call is retried.
// MaxRetries counts retries, not attempts.
type RetryConfig struct {
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// DefaultRetryConfig retries three times starting at one second.
func DefaultRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxRetries:     3,
		InitialBackoff: time.Second,
		MaxBackoff:     30 * time.Second,
	}
}

// transient responses are worth another attempt; everything else is final.
var transient = map[int]bool{
	http.StatusTooManyRequests:     true,
	http.StatusInternalServerError: true,
	http.StatusBadGateway:          true,
	http.StatusServiceUnavailable:  true,
	http.StatusGatewayTimeout:      true,
}

// backoff doubles from InitialBackoff per attempt. A Retry-After header in
// seconds takes precedence. Both are capped at MaxBackoff.
func (r *RetryConfig) backoff(attempt int, resp *http.Response) time.Duration {
	wait := r.InitialBackoff << attempt
	if wait <= 0 || wait > r.MaxBackoff {
		wait = r.MaxBackoff
	}
	if resp != nil {
		if secs, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil && secs >= 0 {
			wait = time.Duration(secs) * time.Second
			if wait > r.MaxBackoff {
				wait = r.MaxBackoff
			}
		}
	}
	return wait
}

// withRetry calls send until it yields a 2xx, a non-transient response, or the
// retry budget runs out. The last response is handed back when it is a
// non-transient failure or the final transient one, so callers can report the
// provider's error body.
func (c *Client) withRetry(ctx context.Context, send func() (*http.Response, error)) (*http.Response, error) {
	var lastErr error

	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		resp, err := send()
		switch {
		case err != nil:
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			lastErr = err
		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			return resp, nil
		case !transient[resp.StatusCode] || attempt == c.retry.MaxRetries:
			return resp, nil
		default:
			lastErr = fmt.Errorf("HTTP %d", resp.StatusCode)
		}

		if attempt >= c.retry.MaxRetries {
			return nil, domain.ProviderCallError(fmt.Sprintf("request failed after %d retries", c.retry.MaxRetries), lastErr)
		}

		wait := c.retry.backoff(attempt, resp)
		if resp != nil {
			resp.Body.Close()
		}
		c.logger.Warn().
			Int("attempt", attempt+1).
			Int("max_retries", c.retry.MaxRetries).
			Dur("backoff", wait).
			Err(lastErr).
			Msg("provider call failed, retrying")

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
}
