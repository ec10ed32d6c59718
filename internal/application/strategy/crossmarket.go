package strategy

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alejandrodnm/edgebot/internal/domain"
	"github.com/alejandrodnm/edgebot/internal/ports"
)

// CrossMarketConfig tunes the cross-market arbitrage detection.
type CrossMarketConfig struct {
	MinSpread     float64       // qualify when 1-(pYes+pNo) is at least this
	Capital       float64       // nominal capital used for the indicative size
	TTL           time.Duration // how long a detected opportunity stays tradable
	MinHoursToEnd float64       // skip markets resolving sooner; negative disables
}

// DefaultCrossMarketConfig returns the tuning used when config omits it.
func DefaultCrossMarketConfig() CrossMarketConfig {
	return CrossMarketConfig{MinSpread: 0.01, Capital: 100, TTL: 30 * time.Second, MinHoursToEnd: 1}
}

// CrossMarket scans binary markets for YES+NO ask pairs that sum below 1.
// Buying both sides of such a pair locks in the spread: exactly one side
// always pays out 1 per share.
type CrossMarket struct {
	cfg  CrossMarketConfig
	data ports.MarketDataSource
	exec ports.OrderExecutor
}

// NewCrossMarket builds the strategy with its collaborators injected.
func NewCrossMarket(cfg CrossMarketConfig, data ports.MarketDataSource, exec ports.OrderExecutor) *CrossMarket {
	def := DefaultCrossMarketConfig()
	if cfg.TTL <= 0 {
		cfg.TTL = def.TTL
	}
	if cfg.MinHoursToEnd == 0 {
		cfg.MinHoursToEnd = def.MinHoursToEnd
	}
	return &CrossMarket{cfg: cfg, data: data, exec: exec}
}

// Name implements Strategy.
func (s *CrossMarket) Name() string { return "cross-market" }

// Type implements Strategy.
func (s *CrossMarket) Type() domain.OpportunityType { return domain.TypeCrossMarket }

// Scan implements Strategy.
func (s *CrossMarket) Scan(ctx context.Context) ([]*domain.Opportunity, error) {
	snaps, err := s.data.FetchSnapshots(ctx)
	if err != nil {
		return nil, fmt.Errorf("strategy.CrossMarket: fetch snapshots: %w", err)
	}

	var opps []*domain.Opportunity
	for _, snap := range snaps {
		if !snap.Active || !snap.IsBinary() {
			continue
		}
		// Books lock up near resolution; a spread there rarely fills both legs.
		if s.cfg.MinHoursToEnd > 0 && !snap.EndDate.IsZero() && snap.HoursToEnd() < s.cfg.MinHoursToEnd {
			continue
		}
		yes, no := snap.Yes(), snap.No()
		yesPrice, noPrice := buyPrice(yes), buyPrice(no)
		if yesPrice <= 0 || noPrice <= 0 {
			continue
		}
		spread := domain.CrossMarketSpread(yesPrice, noPrice)
		if spread < s.cfg.MinSpread {
			continue
		}

		opp, err := domain.NewCrossMarketOpportunity(
			snap.MarketID, yes.TokenID, no.TokenID,
			yesPrice, noPrice, s.cfg.Capital, s.cfg.TTL,
		)
		if err != nil {
			slog.Debug("cross-market candidate rejected",
				"market_id", snap.MarketID,
				"err", err,
			)
			continue
		}
		slog.Debug("cross-market spread found",
			"market_id", snap.MarketID,
			"yes", fmt.Sprintf("%.4f", yesPrice),
			"no", fmt.Sprintf("%.4f", noPrice),
			"spread", fmt.Sprintf("%.4f", spread),
		)
		opps = append(opps, opp)
	}
	return opps, nil
}

// Execute implements Strategy.
func (s *CrossMarket) Execute(ctx context.Context, opp *domain.Opportunity) (domain.TradeResult, error) {
	return ExecuteLegs(ctx, s.exec, opp)
}

// ValidateOpportunity re-fetches the market and confirms the spread still
// clears the minimum at prices no worse than the legs were built with.
func (s *CrossMarket) ValidateOpportunity(ctx context.Context, opp *domain.Opportunity) error {
	if !opp.IsValid() {
		return &domain.ValidationError{OpportunityID: opp.ID, Reason: "no longer valid"}
	}
	snap, err := s.data.FetchSnapshot(ctx, opp.PrimaryLeg().MarketID)
	if err != nil {
		return &domain.ValidationError{OpportunityID: opp.ID, Reason: fmt.Sprintf("refetch failed: %v", err)}
	}
	yesPrice, noPrice := buyPrice(snap.Yes()), buyPrice(snap.No())
	spread := domain.CrossMarketSpread(yesPrice, noPrice)
	if spread < s.cfg.MinSpread {
		return &domain.ValidationError{
			OpportunityID: opp.ID,
			Reason:        fmt.Sprintf("spread narrowed to %.4f", spread),
		}
	}
	return nil
}

// buyPrice returns the price a buy order would cross: the ask when the
// source exposes one, the last price otherwise.
func buyPrice(q domain.OutcomeQuote) float64 {
	if q.Ask > 0 {
		return q.Ask
	}
	return q.Price
}
