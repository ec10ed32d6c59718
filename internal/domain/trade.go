package domain

import "time"

// OrderRequest is sent to the order executor for one leg.
type OrderRequest struct {
	MarketID string
	TokenID  string
	Side     OrderSide
	Price    float64
	Size     float64 // shares
}

// OrderResult is the executor's answer. A rejected or unfilled order is a
// normal result, not an error: Success is false and ErrorMsg says why.
type OrderResult struct {
	Success  bool
	OrderID  string
	ErrorMsg string
}

// TradeResult is the outcome of executing one opportunity.
type TradeResult struct {
	OpportunityID string
	Strategy      string
	Success       bool
	OrderIDs      []string
	FilledSize    float64 // shares across all legs
	AvgPrice      float64
	PnL           float64 // expected PnL booked at execution time
	Error         string
	ExecutedAt    time.Time
}

// RunSummary is one strategy's row in a synchronous run-all report.
type RunSummary struct {
	Strategy      string
	Opportunities int
	Executed      int
	Err           string
}

// CycleResult aggregates one engine cycle across all strategies. A halted
// cycle ran nothing: the circuit breaker was cooling down or tripped.
type CycleResult struct {
	Summaries  []RunSummary
	Duration   time.Duration
	StartedAt  time.Time
	Halted     bool
	HaltReason string
}

// Found returns the opportunity count across all strategies in the cycle.
func (c CycleResult) Found() int {
	n := 0
	for _, s := range c.Summaries {
		n += s.Opportunities
	}
	return n
}

// Executed returns the executed count across all strategies in the cycle.
func (c CycleResult) Executed() int {
	n := 0
	for _, s := range c.Summaries {
		n += s.Executed
	}
	return n
}

// StrategyLedger is the per-strategy slice of the persisted trade journal.
type StrategyLedger struct {
	Strategy string
	Trades   int
	Wins     int
	PnL      float64
}

// LedgerSummary is the aggregate view of the persisted trade journal, used
// for the shutdown report.
type LedgerSummary struct {
	TotalTrades int
	Wins        int
	TotalPnL    float64
	FirstTrade  time.Time
	LastTrade   time.Time
	ByStrategy  []StrategyLedger
}

// WinRate returns wins/trades, 0 when no trades were recorded.
func (s LedgerSummary) WinRate() float64 {
	if s.TotalTrades == 0 {
		return 0
	}
	return float64(s.Wins) / float64(s.TotalTrades)
}
