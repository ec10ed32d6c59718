// Package strategy holds the detection strategies and the shared
// orchestration that runs them: scan, filter, rank, size, execute, with
// per-opportunity failure isolation.
package strategy

import (
	"context"
	"math"
	"time"

	"github.com/alejandrodnm/edgebot/internal/domain"
)

// Strategy is the capability a concrete strategy must supply. Everything
// else in the scan→execute pipeline is shared and lives in the Runner.
type Strategy interface {
	Name() string
	Type() domain.OpportunityType

	// Scan inspects current market data and returns the detected
	// opportunities, unfiltered and unsorted.
	Scan(ctx context.Context) ([]*domain.Opportunity, error)

	// Execute places the orders for one sized opportunity. Venue
	// rejections come back as typed errors, never as panics.
	Execute(ctx context.Context, opp *domain.Opportunity) (domain.TradeResult, error)
}

// Validator is the optional revalidation hook. Strategies that can
// re-check live prices between scan and execute implement it; the default
// is the opportunity's own IsValid.
type Validator interface {
	ValidateOpportunity(ctx context.Context, opp *domain.Opportunity) error
}

// Filterer is the optional candidate-filter hook, replacing the default
// "valid and profitable" filter.
type Filterer interface {
	FilterOpportunities(opps []*domain.Opportunity) []*domain.Opportunity
}

// Config is the per-strategy runner configuration, replaceable at runtime
// through UpdateConfig.
type Config struct {
	Enabled          bool
	Capital          float64 // currency units the sizer may draw from per trade
	MaxFraction      float64 // cap on the capital fraction per trade
	MinSize          float64 // smallest share count worth placing
	FallbackFraction float64 // stake for the default sizer when none is injected
}

// DefaultConfig returns conservative runner defaults.
func DefaultConfig() Config {
	return Config{
		Enabled:          true,
		Capital:          1000,
		MaxFraction:      0.25,
		MinSize:          1,
		FallbackFraction: 0.02,
	}
}

// Stats tracks one strategy's lifetime counters. The win rate is kept
// incrementally: wins are reconstructed from the previous rate, so no trade
// list is retained.
type Stats struct {
	OpportunitiesFound    int
	OpportunitiesExecuted int
	TotalPnL              float64
	WinRate               float64
	LastRunAt             time.Time
}

// recordExecution books one executed trade into the counters.
//
//	wins = round(winRate × (n-1)) + (1 if pnl > 0)
//	winRate = wins / n
func (s *Stats) recordExecution(pnl float64) {
	s.OpportunitiesExecuted++
	s.TotalPnL += pnl
	n := float64(s.OpportunitiesExecuted)
	wins := math.Round(s.WinRate * (n - 1))
	if pnl > 0 {
		wins++
	}
	s.WinRate = wins / n
}
