package clob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/time/rate"
)

const (
	defaultBaseURL = "https://clob.polymarket.com"

	// Rate limits at 60% of the documented API limits.
	// /books: 500/10s → 300/10s → 30/s
	booksRatePerSec = 30
	// general endpoints: 9000/10s → 5400/10s → 540/s
	generalRatePerSec = 540

	maxRetries    = 3
	baseRetryWait = 500 * time.Millisecond
	maxRetryAfter = 30 * time.Second
)

// Client is the venue HTTP client with rate limiting and retries. It
// implements ports.MarketDataSource.
type Client struct {
	http         *http.Client
	baseURL      string
	limiter      *rate.Limiter
	booksLimiter *rate.Limiter
}

// NewClient creates a Client for the given base URL. An empty baseURL uses
// the production endpoint.
func NewClient(baseURL string) *Client {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &Client{
		http:         &http.Client{Timeout: 10 * time.Second},
		baseURL:      baseURL,
		limiter:      rate.NewLimiter(generalRatePerSec, 50),
		booksLimiter: rate.NewLimiter(booksRatePerSec, 5),
	}
}

// get does a GET with rate limiting and retries.
func (c *Client) get(ctx context.Context, limiter *rate.Limiter, url string, out any) error {
	return c.doWithRetry(ctx, limiter, func() (*http.Response, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "application/json")
		return c.http.Do(req)
	}, out)
}

// post does a JSON POST with rate limiting and retries.
func (c *Client) post(ctx context.Context, limiter *rate.Limiter, url string, body, out any) error {
	return c.doWithRetry(ctx, limiter, func() (*http.Response, error) {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal body: %w", err)
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(b))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "application/json")
		return c.http.Do(req)
	}, out)
}

// doWithRetry runs the request with exponential backoff. 429s and 5xx are
// retried; 4xx fail immediately.
func (c *Client) doWithRetry(ctx context.Context, limiter *rate.Limiter, fn func() (*http.Response, error), out any) error {
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if err := limiter.Wait(ctx); err != nil {
			return fmt.Errorf("rate limiter: %w", err)
		}

		resp, err := fn()
		if err != nil {
			if attempt == maxRetries {
				return fmt.Errorf("request failed after %d retries: %w", maxRetries, err)
			}
			c.sleep(ctx, attempt, 0)
			continue
		}

		if resp.StatusCode == http.StatusTooManyRequests {
			hint := retryAfterHint(resp.Header)
			resp.Body.Close()
			slog.Warn("rate limited by API", "attempt", attempt+1, "retry_after", hint)
			c.sleep(ctx, attempt, hint)
			continue
		}

		if resp.StatusCode >= 500 {
			resp.Body.Close()
			if attempt == maxRetries {
				return fmt.Errorf("server error %d after %d retries", resp.StatusCode, maxRetries)
			}
			c.sleep(ctx, attempt, 0)
			continue
		}

		if resp.StatusCode >= 400 {
			body, _ := io.ReadAll(resp.Body)
			resp.Body.Close()
			return fmt.Errorf("client error %d: %s", resp.StatusCode, string(body))
		}

		defer resp.Body.Close()
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
		return nil
	}
	return fmt.Errorf("exhausted %d retries", maxRetries)
}

// sleep waits with exponential backoff, respecting the context. A longer
// server hint wins over the computed backoff.
func (c *Client) sleep(ctx context.Context, attempt int, hint time.Duration) {
	wait := time.Duration(math.Pow(2, float64(attempt))) * baseRetryWait
	if hint > wait {
		wait = hint
	}
	select {
	case <-time.After(wait):
	case <-ctx.Done():
	}
}

// retryAfterHint parses a Retry-After header, delta-seconds or HTTP date.
// Capped so a bad header cannot stall the scan loop.
func retryAfterHint(h http.Header) time.Duration {
	v := h.Get("Retry-After")
	if v == "" {
		return 0
	}
	var hint time.Duration
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		hint = time.Duration(secs) * time.Second
	} else if at, err := http.ParseTime(v); err == nil {
		hint = time.Until(at)
	}
	if hint > maxRetryAfter {
		return maxRetryAfter
	}
	return hint
}
