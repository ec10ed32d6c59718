package domain

import "time"

// OutcomeQuote is the current quote for one outcome token of a market.
// Price is the tradable price (best ask for buys); Bid/Ask carry the touch
// when the data source exposes it.
type OutcomeQuote struct {
	TokenID string
	Name    string // "Yes" | "No" for binary markets, team/selection otherwise
	Price   float64
	Bid     float64
	Ask     float64
}

// Spread returns ask - bid, 0 when either side is missing.
func (q OutcomeQuote) Spread() float64 {
	if q.Bid <= 0 || q.Ask <= 0 {
		return 0
	}
	return q.Ask - q.Bid
}

// MarketSnapshot is one market's state at scan time, as delivered by the
// market-data source. Detection reads these; nothing in the core mutates
// them.
type MarketSnapshot struct {
	MarketID   string
	Question   string
	Outcomes   []OutcomeQuote
	EndDate    time.Time
	Active     bool
	CapturedAt time.Time
}

// IsBinary reports whether the market has exactly two outcomes.
func (s MarketSnapshot) IsBinary() bool {
	return len(s.Outcomes) == 2
}

// Yes returns the YES outcome of a binary market, falling back to the
// first outcome when names are unconventional.
func (s MarketSnapshot) Yes() OutcomeQuote {
	for _, o := range s.Outcomes {
		if o.Name == "Yes" {
			return o
		}
	}
	if len(s.Outcomes) > 0 {
		return s.Outcomes[0]
	}
	return OutcomeQuote{}
}

// No returns the NO outcome of a binary market, falling back to the second
// outcome.
func (s MarketSnapshot) No() OutcomeQuote {
	for _, o := range s.Outcomes {
		if o.Name == "No" {
			return o
		}
	}
	if len(s.Outcomes) > 1 {
		return s.Outcomes[1]
	}
	return OutcomeQuote{}
}

// Outcome returns the quote whose token matches, and whether it was found.
func (s MarketSnapshot) Outcome(tokenID string) (OutcomeQuote, bool) {
	for _, o := range s.Outcomes {
		if o.TokenID == tokenID {
			return o, true
		}
	}
	return OutcomeQuote{}, false
}

// HoursToEnd returns the hours until the market resolves, 0 when unknown
// or already past.
func (s MarketSnapshot) HoursToEnd() float64 {
	if s.EndDate.IsZero() {
		return 0
	}
	h := time.Until(s.EndDate).Hours()
	if h < 0 {
		return 0
	}
	return h
}

// OutcomeOdds is one outcome's decimal odds at a reference source.
type OutcomeOdds struct {
	Name    string
	TokenID string // matching market token when the feed maps one
	Decimal float64
}

// ReferenceOdds is a reference source's view of one market, used by the
// odds-referenced strategy for vig removal.
type ReferenceOdds struct {
	MarketID  string
	Outcomes  []OutcomeOdds
	FetchedAt time.Time
}

// DecimalOdds returns the raw odds in outcome order.
func (r ReferenceOdds) DecimalOdds() []float64 {
	out := make([]float64, len(r.Outcomes))
	for i, o := range r.Outcomes {
		out[i] = o.Decimal
	}
	return out
}
