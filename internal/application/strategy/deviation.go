package strategy

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alejandrodnm/edgebot/internal/domain"
	"github.com/alejandrodnm/edgebot/internal/ports"
)

// DeviationConfig tunes the z-score mean-reversion detection. ExitZ must
// sit strictly below EntryZ: the gap is the hysteresis band that keeps the
// strategy from flapping at the threshold.
type DeviationConfig struct {
	WindowSize int           // rolling window length per instrument
	MinSamples int           // samples required before any signal
	EntryZ     float64       // |z| at which a position is entered
	ExitZ      float64       // |z| at or below which an entry is unwound
	Capital    float64       // nominal capital for the indicative size
	TTL        time.Duration // opportunity lifetime
}

// DefaultDeviationConfig returns the tuning used when config omits it.
func DefaultDeviationConfig() DeviationConfig {
	return DeviationConfig{
		WindowSize: 30,
		MinSamples: 10,
		EntryZ:     2.0,
		ExitZ:      0.5,
		Capital:    100,
		TTL:        60 * time.Second,
	}
}

// Deviation trades mean reversion: prices stretched EntryZ standard
// deviations from their rolling mean are faded, and unwound once the
// z-score decays inside ExitZ. The strategy tracks its own entries; real
// position exits (stop-loss, take-profit) belong to the risk layer.
type Deviation struct {
	cfg  DeviationConfig
	data ports.MarketDataSource
	exec ports.OrderExecutor

	windows map[string]*domain.RollingWindow
	entered map[string]domain.OrderSide // open signal per token
}

// NewDeviation builds the strategy with its collaborators injected.
func NewDeviation(cfg DeviationConfig, data ports.MarketDataSource, exec ports.OrderExecutor) *Deviation {
	def := DefaultDeviationConfig()
	if cfg.WindowSize <= 0 {
		cfg.WindowSize = def.WindowSize
	}
	if cfg.MinSamples <= 0 {
		cfg.MinSamples = def.MinSamples
	}
	if cfg.TTL <= 0 {
		cfg.TTL = def.TTL
	}
	if cfg.ExitZ >= cfg.EntryZ {
		// Collapse bad tuning back to the defaults instead of flapping.
		cfg.EntryZ, cfg.ExitZ = def.EntryZ, def.ExitZ
	}
	return &Deviation{
		cfg:     cfg,
		data:    data,
		exec:    exec,
		windows: make(map[string]*domain.RollingWindow),
		entered: make(map[string]domain.OrderSide),
	}
}

// Name implements Strategy.
func (s *Deviation) Name() string { return "deviation" }

// Type implements Strategy.
func (s *Deviation) Type() domain.OpportunityType { return domain.TypeDeviation }

// Scan implements Strategy. Every observed price feeds the instrument's
// window whether or not it signals, so the statistics stay current.
func (s *Deviation) Scan(ctx context.Context) ([]*domain.Opportunity, error) {
	snaps, err := s.data.FetchSnapshots(ctx)
	if err != nil {
		return nil, fmt.Errorf("strategy.Deviation: fetch snapshots: %w", err)
	}

	var opps []*domain.Opportunity
	for _, snap := range snaps {
		if !snap.Active {
			continue
		}
		for _, q := range snap.Outcomes {
			if q.Price <= 0 {
				continue
			}
			if opp := s.observe(snap.MarketID, q); opp != nil {
				opps = append(opps, opp)
			}
		}
	}
	return opps, nil
}

// observe feeds one price into its window and returns an entry or unwind
// opportunity when a threshold is crossed.
func (s *Deviation) observe(marketID string, q domain.OutcomeQuote) *domain.Opportunity {
	w, ok := s.windows[q.TokenID]
	if !ok {
		w = domain.NewRollingWindow(s.cfg.WindowSize)
		s.windows[q.TokenID] = w
	}
	w.Add(q.Price)
	if w.Count() < s.cfg.MinSamples {
		return nil
	}

	z := w.ZScore(q.Price)
	mean := w.Mean()

	if side, open := s.entered[q.TokenID]; open {
		// Hysteresis: unwind only once the stretch has decayed inside
		// ExitZ, not the moment it dips under EntryZ.
		if absZ(z) > s.cfg.ExitZ {
			return nil
		}
		delete(s.entered, q.TokenID)
		opp, err := domain.NewDeviationOpportunity(
			marketID, q.TokenID, opposite(side), q.Price, mean, z, s.cfg.Capital, s.cfg.TTL,
		)
		if err != nil {
			return nil
		}
		// An unwind is a close, not a bet: its expected profit against the
		// mean is ~0 by construction, and Kelly would size it to nothing.
		// Flag it so the filter keeps it and the sizer treats it like a
		// structural fill.
		opp.Metadata["unwind"] = 1
		opp.Metadata["win_probability"] = 1
		slog.Debug("reversion complete, unwinding",
			"token_id", q.TokenID,
			"z", fmt.Sprintf("%.2f", z),
		)
		return opp
	}

	var side domain.OrderSide
	switch {
	case z <= -s.cfg.EntryZ:
		side = domain.SideBuy
	case z >= s.cfg.EntryZ:
		side = domain.SideSell
	default:
		return nil
	}

	opp, err := domain.NewDeviationOpportunity(
		marketID, q.TokenID, side, q.Price, mean, z, s.cfg.Capital, s.cfg.TTL,
	)
	if err != nil {
		return nil
	}
	s.entered[q.TokenID] = side
	slog.Debug("deviation entry",
		"token_id", q.TokenID,
		"side", side,
		"z", fmt.Sprintf("%.2f", z),
		"mean", fmt.Sprintf("%.4f", mean),
	)
	return opp
}

// Execute implements Strategy.
func (s *Deviation) Execute(ctx context.Context, opp *domain.Opportunity) (domain.TradeResult, error) {
	return ExecuteLegs(ctx, s.exec, opp)
}

// FilterOpportunities keeps profitable entries and every unwind. Unwinds
// would fail the default profit>0 filter and leave the entry open forever.
func (s *Deviation) FilterOpportunities(opps []*domain.Opportunity) []*domain.Opportunity {
	out := make([]*domain.Opportunity, 0, len(opps))
	for _, o := range opps {
		if !o.IsValid() {
			continue
		}
		if o.ExpectedProfit > 0 || o.Metadata["unwind"] == 1 {
			out = append(out, o)
		}
	}
	return out
}

func opposite(side domain.OrderSide) domain.OrderSide {
	if side == domain.SideBuy {
		return domain.SideSell
	}
	return domain.SideBuy
}

func absZ(z float64) float64 {
	if z < 0 {
		return -z
	}
	return z
}
