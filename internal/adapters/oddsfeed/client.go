package oddsfeed

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/alejandrodnm/edgebot/internal/domain"
)

const (
	defaultBaseURL  = "https://api.the-odds-api.com/v4"
	defaultCacheTTL = 2 * time.Minute

	// Reference feeds meter aggressively; stay well under.
	oddsRatePerSec = 5

	maxRetries    = 2
	baseRetryWait = 300 * time.Millisecond
)

// Raw DTOs for the odds feed.

type oddsResponse struct {
	MarketID string        `json:"market_id"`
	Outcomes []oddsOutcome `json:"outcomes"`
}

type oddsOutcome struct {
	Name    string  `json:"name"`
	TokenID string  `json:"token_id"`
	Odds    float64 `json:"odds"`
}

type cachedOdds struct {
	odds      domain.ReferenceOdds
	fetchedAt time.Time
}

// Client fetches decimal odds from an external reference feed. It implements
// ports.OddsReferenceSource. Responses are cached per market: reference odds
// move slowly and the feed quota does not.
type Client struct {
	http    *http.Client
	baseURL string
	apiKey  string
	limiter *rate.Limiter
	ttl     time.Duration

	mu    sync.Mutex
	cache map[string]cachedOdds
}

// NewClient creates a Client. Empty baseURL uses the production feed; a
// non-positive cacheTTL uses the default.
func NewClient(baseURL, apiKey string, cacheTTL time.Duration) *Client {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	if cacheTTL <= 0 {
		cacheTTL = defaultCacheTTL
	}
	return &Client{
		http:    &http.Client{Timeout: 10 * time.Second},
		baseURL: baseURL,
		apiKey:  apiKey,
		limiter: rate.NewLimiter(oddsRatePerSec, 2),
		ttl:     cacheTTL,
		cache:   make(map[string]cachedOdds),
	}
}

// FetchOdds returns the reference odds for one market, from cache when
// still fresh.
func (c *Client) FetchOdds(ctx context.Context, marketID string) (domain.ReferenceOdds, error) {
	now := time.Now()

	c.mu.Lock()
	if hit, ok := c.cache[marketID]; ok && now.Sub(hit.fetchedAt) < c.ttl {
		c.mu.Unlock()
		return hit.odds, nil
	}
	c.mu.Unlock()

	endpoint := fmt.Sprintf("%s/odds/%s", c.baseURL, url.PathEscape(marketID))
	if c.apiKey != "" {
		endpoint += "?apiKey=" + url.QueryEscape(c.apiKey)
	}

	var resp oddsResponse
	if err := c.get(ctx, endpoint, &resp); err != nil {
		return domain.ReferenceOdds{}, fmt.Errorf("oddsfeed.FetchOdds %s: %w", marketID, err)
	}
	if len(resp.Outcomes) == 0 {
		return domain.ReferenceOdds{}, fmt.Errorf("oddsfeed.FetchOdds %s: feed has no odds", marketID)
	}

	odds := domain.ReferenceOdds{MarketID: marketID, FetchedAt: now}
	for _, o := range resp.Outcomes {
		odds.Outcomes = append(odds.Outcomes, domain.OutcomeOdds{
			Name:    o.Name,
			TokenID: o.TokenID,
			Decimal: o.Odds,
		})
	}

	c.mu.Lock()
	c.cache[marketID] = cachedOdds{odds: odds, fetchedAt: now}
	c.mu.Unlock()
	return odds, nil
}

// get does a GET with rate limiting and retries. 429s and 5xx are retried,
// 4xx fail immediately.
func (c *Client) get(ctx context.Context, endpoint string, out any) error {
	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("rate limiter: %w", err)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return err
		}
		req.Header.Set("Accept", "application/json")

		resp, err := c.http.Do(req)
		if err != nil {
			lastErr = err
			c.sleep(ctx, attempt)
			continue
		}

		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			resp.Body.Close()
			lastErr = fmt.Errorf("status %d", resp.StatusCode)
			c.sleep(ctx, attempt)
			continue
		}

		if resp.StatusCode >= 400 {
			body, _ := io.ReadAll(resp.Body)
			resp.Body.Close()
			return fmt.Errorf("client error %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
		}

		err = json.NewDecoder(resp.Body).Decode(out)
		resp.Body.Close()
		if err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
		return nil
	}
	return fmt.Errorf("exhausted %d retries: %w", maxRetries, lastErr)
}

func (c *Client) sleep(ctx context.Context, attempt int) {
	wait := time.Duration(1<<attempt) * baseRetryWait
	select {
	case <-time.After(wait):
	case <-ctx.Done():
	}
}
