package clob

// Market snapshots from the CLOB API.
//
// FetchSnapshots pages through /markets and then fires the /books batches
// from concurrent goroutines. The token-bucket limiter inside doWithRetry
// paces them automatically, no explicit semaphore needed.

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alejandrodnm/edgebot/internal/domain"
)

const (
	marketsPath = "/markets"
	booksPath   = "/books"
	pageSize    = 100
	batchSize   = 20 // max token_ids per /books request

	// base64-encoded empty cursor, marks the last page
	endCursor = "LTE="
)

// FetchSnapshots returns the current state of every open market. The book
// touch is merged in best-effort: if /books fails, snapshots carry the last
// trade prices only.
func (c *Client) FetchSnapshots(ctx context.Context) ([]domain.MarketSnapshot, error) {
	var raw []clobMarket
	cursor := ""

	for {
		url := fmt.Sprintf("%s%s?limit=%d", c.baseURL, marketsPath, pageSize)
		if cursor != "" {
			url += "&next_cursor=" + cursor
		}

		var resp marketsResponse
		if err := c.get(ctx, c.limiter, url, &resp); err != nil {
			return nil, fmt.Errorf("clob.FetchSnapshots: %w", err)
		}

		raw = append(raw, resp.Data...)

		slog.Debug("fetched markets page",
			"count", len(resp.Data),
			"total", len(raw),
			"has_more", resp.NextCursor != "" && resp.NextCursor != endCursor,
		)

		if resp.NextCursor == "" || resp.NextCursor == endCursor {
			break
		}
		cursor = resp.NextCursor
	}

	snapshots := mapMarkets(raw)
	c.mergeBookTouch(ctx, snapshots)

	slog.Debug("market snapshots fetched", "markets", len(snapshots))
	return snapshots, nil
}

// FetchSnapshot returns one market's current state, used to re-check prices
// between scan and execute.
func (c *Client) FetchSnapshot(ctx context.Context, marketID string) (domain.MarketSnapshot, error) {
	url := fmt.Sprintf("%s%s/%s", c.baseURL, marketsPath, marketID)

	var raw clobMarket
	if err := c.get(ctx, c.limiter, url, &raw); err != nil {
		return domain.MarketSnapshot{}, fmt.Errorf("clob.FetchSnapshot %s: %w", marketID, err)
	}
	if raw.ConditionID == "" {
		return domain.MarketSnapshot{}, fmt.Errorf("clob.FetchSnapshot %s: market not found", marketID)
	}

	snapshots := []domain.MarketSnapshot{mapMarket(raw, time.Now())}
	c.mergeBookTouch(ctx, snapshots)
	return snapshots[0], nil
}

// mergeBookTouch fetches the order books for every outcome token and merges
// the best bid/ask into the snapshots. Failures degrade to last prices.
func (c *Client) mergeBookTouch(ctx context.Context, snapshots []domain.MarketSnapshot) {
	var tokenIDs []string
	for _, s := range snapshots {
		for _, o := range s.Outcomes {
			if o.TokenID != "" {
				tokenIDs = append(tokenIDs, o.TokenID)
			}
		}
	}
	if len(tokenIDs) == 0 {
		return
	}

	touches, err := c.fetchBooks(ctx, tokenIDs)
	if err != nil {
		slog.Warn("book fetch failed, keeping last prices", "err", err)
		return
	}
	mergeTouches(snapshots, touches)
}

// fetchBooks POSTs /books in concurrent batches of batchSize tokens.
func (c *Client) fetchBooks(ctx context.Context, tokenIDs []string) (map[string]bookTouch, error) {
	batches := splitBatches(tokenIDs, batchSize)

	type batchResult struct {
		touches map[string]bookTouch
		err     error
		idx     int
	}

	resultCh := make(chan batchResult, len(batches))
	var wg sync.WaitGroup

	for i, batch := range batches {
		wg.Add(1)
		go func(i int, batch []string) {
			defer wg.Done()
			touches, err := c.fetchBooksBatch(ctx, batch)
			resultCh <- batchResult{touches: touches, err: err, idx: i}
		}(i, batch)
	}

	go func() {
		wg.Wait()
		close(resultCh)
	}()

	result := make(map[string]bookTouch, len(tokenIDs))
	var firstErr error

	for r := range resultCh {
		if r.err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("clob.fetchBooks batch %d: %w", r.idx, r.err)
			}
			continue
		}
		for k, v := range r.touches {
			result[k] = v
		}
	}

	if firstErr != nil {
		return nil, firstErr
	}
	return result, nil
}

// fetchBooksBatch does one POST /books for up to batchSize token_ids.
func (c *Client) fetchBooksBatch(ctx context.Context, tokenIDs []string) (map[string]bookTouch, error) {
	body := make([]orderBookRequest, len(tokenIDs))
	for i, id := range tokenIDs {
		body[i] = orderBookRequest{TokenID: id}
	}

	var resp []orderBookResponse
	if err := c.post(ctx, c.booksLimiter, c.baseURL+booksPath, body, &resp); err != nil {
		return nil, fmt.Errorf("POST /books: %w", err)
	}
	return mapBookTouches(resp), nil
}

// splitBatches splits tokenIDs into slices of at most size elements.
func splitBatches(tokenIDs []string, size int) [][]string {
	if size <= 0 {
		size = batchSize
	}
	batches := make([][]string, 0, (len(tokenIDs)+size-1)/size)
	for i := 0; i < len(tokenIDs); i += size {
		end := i + size
		if end > len(tokenIDs) {
			end = len(tokenIDs)
		}
		batches = append(batches, tokenIDs[i:end])
	}
	return batches
}
