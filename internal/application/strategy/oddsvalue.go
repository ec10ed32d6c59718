package strategy

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alejandrodnm/edgebot/internal/domain"
	"github.com/alejandrodnm/edgebot/internal/ports"
)

// OddsValueConfig tunes the odds-referenced value detection.
type OddsValueConfig struct {
	MinEdge      float64       // fair probability minus price must reach this
	MaxOverround float64       // skip references with a margin fatter than this
	Capital      float64       // nominal capital for the indicative size
	TTL          time.Duration // opportunity lifetime
}

// DefaultOddsValueConfig returns the tuning used when config omits it.
func DefaultOddsValueConfig() OddsValueConfig {
	return OddsValueConfig{MinEdge: 0.03, MaxOverround: 0.12, Capital: 100, TTL: 60 * time.Second}
}

// OddsValue compares market prices against vig-removed probabilities from
// a reference odds source and buys outcomes the market underprices.
type OddsValue struct {
	cfg  OddsValueConfig
	data ports.MarketDataSource
	odds ports.OddsReferenceSource
	exec ports.OrderExecutor
}

// NewOddsValue builds the strategy with its collaborators injected.
func NewOddsValue(cfg OddsValueConfig, data ports.MarketDataSource, odds ports.OddsReferenceSource, exec ports.OrderExecutor) *OddsValue {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultOddsValueConfig().TTL
	}
	return &OddsValue{cfg: cfg, data: data, odds: odds, exec: exec}
}

// Name implements Strategy.
func (s *OddsValue) Name() string { return "odds-value" }

// Type implements Strategy.
func (s *OddsValue) Type() domain.OpportunityType { return domain.TypeEventArbitrage }

// Scan implements Strategy. A market whose reference feed errors is
// skipped, not fatal: odds coverage is always spotty.
func (s *OddsValue) Scan(ctx context.Context) ([]*domain.Opportunity, error) {
	snaps, err := s.data.FetchSnapshots(ctx)
	if err != nil {
		return nil, fmt.Errorf("strategy.OddsValue: fetch snapshots: %w", err)
	}

	var opps []*domain.Opportunity
	for _, snap := range snaps {
		if !snap.Active || len(snap.Outcomes) == 0 {
			continue
		}
		ref, err := s.odds.FetchOdds(ctx, snap.MarketID)
		if err != nil {
			slog.Debug("no reference odds", "market_id", snap.MarketID, "err", err)
			continue
		}
		opps = append(opps, s.detect(snap, ref)...)
	}
	return opps, nil
}

// detect runs vig removal on one market's reference odds and builds an
// opportunity per underpriced outcome.
func (s *OddsValue) detect(snap domain.MarketSnapshot, ref domain.ReferenceOdds) []*domain.Opportunity {
	fair, overround := domain.RemoveVig(ref.DecimalOdds())
	if len(fair) == 0 {
		return nil
	}
	if s.cfg.MaxOverround > 0 && overround > s.cfg.MaxOverround {
		slog.Debug("reference margin too fat",
			"market_id", snap.MarketID,
			"overround", fmt.Sprintf("%.4f", overround),
		)
		return nil
	}

	var opps []*domain.Opportunity
	for i, ro := range ref.Outcomes {
		quote, ok := matchQuote(snap, ro, i)
		if !ok {
			continue
		}
		price := buyPrice(quote)
		if price <= 0 {
			continue
		}
		edge := domain.Edge(fair[i], price)
		if edge < s.cfg.MinEdge {
			continue
		}
		opp, err := domain.NewEventArbitrageOpportunity(
			snap.MarketID, quote.TokenID, domain.SideBuy,
			price, fair[i], overround, s.cfg.Capital, s.cfg.TTL,
		)
		if err != nil {
			continue
		}
		slog.Debug("value edge found",
			"market_id", snap.MarketID,
			"outcome", quote.Name,
			"fair", fmt.Sprintf("%.4f", fair[i]),
			"price", fmt.Sprintf("%.4f", price),
			"edge", fmt.Sprintf("%.4f", edge),
		)
		opps = append(opps, opp)
	}
	return opps
}

// Execute implements Strategy.
func (s *OddsValue) Execute(ctx context.Context, opp *domain.Opportunity) (domain.TradeResult, error) {
	return ExecuteLegs(ctx, s.exec, opp)
}

// ValidateOpportunity re-fetches the market price and confirms the edge
// against the fair probability captured at detection time.
func (s *OddsValue) ValidateOpportunity(ctx context.Context, opp *domain.Opportunity) error {
	if !opp.IsValid() {
		return &domain.ValidationError{OpportunityID: opp.ID, Reason: "no longer valid"}
	}
	leg := opp.PrimaryLeg()
	snap, err := s.data.FetchSnapshot(ctx, leg.MarketID)
	if err != nil {
		return &domain.ValidationError{OpportunityID: opp.ID, Reason: fmt.Sprintf("refetch failed: %v", err)}
	}
	quote, ok := snap.Outcome(leg.TokenID)
	if !ok {
		return &domain.ValidationError{OpportunityID: opp.ID, Reason: "outcome gone from snapshot"}
	}
	edge := domain.Edge(opp.Metadata["fair_probability"], buyPrice(quote))
	if edge < s.cfg.MinEdge {
		return &domain.ValidationError{
			OpportunityID: opp.ID,
			Reason:        fmt.Sprintf("edge decayed to %.4f", edge),
		}
	}
	return nil
}

// matchQuote pairs a reference outcome with the market quote, by token ID
// first, then name, then position.
func matchQuote(snap domain.MarketSnapshot, ro domain.OutcomeOdds, idx int) (domain.OutcomeQuote, bool) {
	if ro.TokenID != "" {
		if q, ok := snap.Outcome(ro.TokenID); ok {
			return q, true
		}
	}
	for _, q := range snap.Outcomes {
		if q.Name == ro.Name {
			return q, true
		}
	}
	if idx < len(snap.Outcomes) {
		return snap.Outcomes[idx], true
	}
	return domain.OutcomeQuote{}, false
}
