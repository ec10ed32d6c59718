package clob

import (
	"strconv"
	"time"

	"github.com/alejandrodnm/edgebot/internal/domain"
)

// mapMarkets converts CLOB DTOs to snapshots, dropping resolved markets.
func mapMarkets(raw []clobMarket) []domain.MarketSnapshot {
	now := time.Now()
	snapshots := make([]domain.MarketSnapshot, 0, len(raw))
	for _, r := range raw {
		if r.Closed {
			continue
		}
		snapshots = append(snapshots, mapMarket(r, now))
	}
	return snapshots
}

// mapMarket converts one clobMarket DTO to a domain.MarketSnapshot. Bid and
// ask stay zero until the book touch is merged in.
func mapMarket(r clobMarket, now time.Time) domain.MarketSnapshot {
	snap := domain.MarketSnapshot{
		MarketID:   r.ConditionID,
		Question:   r.Question,
		EndDate:    parseEndDate(r.EndDateISO),
		Active:     r.Active && r.AcceptingOrders,
		CapturedAt: now,
	}
	for _, t := range r.Tokens {
		snap.Outcomes = append(snap.Outcomes, domain.OutcomeQuote{
			TokenID: t.TokenID,
			Name:    t.Outcome,
			Price:   t.Price,
		})
	}
	return snap
}

// parseEndDate tries the date formats the venue is known to emit.
func parseEndDate(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	for _, layout := range []string{
		time.RFC3339,
		"2006-01-02T15:04:05.000Z",
		"2006-01-02T15:04:05Z",
		"2006-01-02",
	} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}

// bookTouch is the best bid/ask extracted from one raw order book.
type bookTouch struct {
	bid float64
	ask float64
}

// mapBookTouches reduces raw books to their touch, keyed by token ID.
// Levels arrive unsorted; non-positive prices or sizes are ignored.
func mapBookTouches(raw []orderBookResponse) map[string]bookTouch {
	touches := make(map[string]bookTouch, len(raw))
	for _, r := range raw {
		var t bookTouch
		for _, e := range r.Bids {
			if price, size := parseLevel(e); size > 0 && price > t.bid {
				t.bid = price
			}
		}
		for _, e := range r.Asks {
			if price, size := parseLevel(e); size > 0 && price > 0 && (t.ask == 0 || price < t.ask) {
				t.ask = price
			}
		}
		touches[r.AssetID] = t
	}
	return touches
}

func parseLevel(e bookEntryRaw) (price, size float64) {
	price, _ = strconv.ParseFloat(e.Price, 64)
	size, _ = strconv.ParseFloat(e.Size, 64)
	return price, size
}

// mergeTouches writes the book touch into each matching outcome quote.
func mergeTouches(snapshots []domain.MarketSnapshot, touches map[string]bookTouch) {
	for i := range snapshots {
		for j := range snapshots[i].Outcomes {
			if t, ok := touches[snapshots[i].Outcomes[j].TokenID]; ok {
				snapshots[i].Outcomes[j].Bid = t.bid
				snapshots[i].Outcomes[j].Ask = t.ask
			}
		}
	}
}
