package strategy

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alejandrodnm/edgebot/internal/domain"
	"github.com/alejandrodnm/edgebot/internal/ports"
)

// Runner wraps one Strategy with the shared orchestration: lifecycle,
// filtering, ranking, sizing, sequential execution and stats. One Runner
// per strategy; the engine owns them.
type Runner struct {
	strategy Strategy
	sizer    domain.PositionSizer
	sink     ports.EventSink

	mu    sync.Mutex
	cfg   Config
	stats Stats

	started atomic.Bool
	running atomic.Bool // re-entrancy guard: one Run at a time per strategy
}

// NewRunner wires a strategy to its sizer and event sink. A nil sizer
// falls back to staking a fixed fraction of capital per trade.
func NewRunner(s Strategy, cfg Config, sizer domain.PositionSizer, sink ports.EventSink) *Runner {
	if sizer == nil {
		fraction := cfg.FallbackFraction
		if fraction <= 0 {
			fraction = DefaultConfig().FallbackFraction
		}
		sizer = &domain.FixedFractionSizer{Fraction: fraction}
	}
	return &Runner{strategy: s, cfg: cfg, sizer: sizer, sink: sink}
}

// Name returns the wrapped strategy's name.
func (r *Runner) Name() string { return r.strategy.Name() }

// Type returns the wrapped strategy's opportunity type.
func (r *Runner) Type() domain.OpportunityType { return r.strategy.Type() }

// Strategy exposes the wrapped strategy.
func (r *Runner) Strategy() Strategy { return r.strategy }

// Enabled reports whether the configuration allows this strategy to run.
func (r *Runner) Enabled() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cfg.Enabled
}

// Config returns a copy of the current configuration.
func (r *Runner) Config() Config {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cfg
}

// UpdateConfig replaces the configuration wholesale.
func (r *Runner) UpdateConfig(cfg Config) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cfg = cfg
}

// Stats returns a copy of the lifetime counters.
func (r *Runner) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stats
}

// Start marks the strategy as running and emits STARTED. Idempotent.
func (r *Runner) Start(ctx context.Context) {
	if r.started.CompareAndSwap(false, true) {
		r.emit(ctx, domain.EventStarted, nil)
		slog.Info("strategy started", "strategy", r.Name())
	}
}

// Stop marks the strategy as stopped and emits STOPPED. An execution
// already in flight is not aborted; it simply is not invoked again.
func (r *Runner) Stop(ctx context.Context) {
	if r.started.CompareAndSwap(true, false) {
		r.emit(ctx, domain.EventStopped, nil)
		slog.Info("strategy stopped", "strategy", r.Name())
	}
}

// IsRunning reports whether Start has been called without a later Stop.
func (r *Runner) IsRunning() bool { return r.started.Load() }

// Run executes one full scan→execute cycle. The shape is fixed for every
// strategy:
//
//  1. No-op when disabled or stopped.
//  2. Scan; empty results end the cycle.
//  3. Keep valid, profitable opportunities; rank by expected profit
//     descending (stable, so scan order breaks ties).
//  4. Per opportunity, sequentially: revalidate → size → execute. Any
//     failure is contained to that opportunity and the loop moves on.
//
// Run never lets a scan or execution error escape as a panic; the only
// error it returns is a failed scan.
func (r *Runner) Run(ctx context.Context) error {
	if !r.Enabled() || !r.IsRunning() {
		return nil
	}
	if !r.running.CompareAndSwap(false, true) {
		slog.Debug("previous run still in flight, skipping", "strategy", r.Name())
		return nil
	}
	defer r.running.Store(false)

	r.mu.Lock()
	r.stats.LastRunAt = time.Now()
	r.mu.Unlock()

	opps, err := r.strategy.Scan(ctx)
	if err != nil {
		return fmt.Errorf("strategy.Run: %s scan: %w", r.Name(), err)
	}
	if len(opps) == 0 {
		return nil
	}

	r.mu.Lock()
	r.stats.OpportunitiesFound += len(opps)
	r.mu.Unlock()
	for _, opp := range opps {
		r.emit(ctx, domain.EventOpportunityFound, opp)
	}

	candidates := r.filter(opps)
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].ExpectedProfit > candidates[j].ExpectedProfit
	})

	for _, opp := range candidates {
		r.processOpportunity(ctx, opp)
	}
	return nil
}

// filter applies the strategy's filter hook, defaulting to "still valid
// and expected profit strictly positive".
func (r *Runner) filter(opps []*domain.Opportunity) []*domain.Opportunity {
	if f, ok := r.strategy.(Filterer); ok {
		return f.FilterOpportunities(opps)
	}
	out := make([]*domain.Opportunity, 0, len(opps))
	for _, o := range opps {
		if o.IsValid() && o.ExpectedProfit > 0 {
			out = append(out, o)
		}
	}
	return out
}

// processOpportunity runs revalidate→size→execute for one opportunity.
// Errors and panics stay inside this call; siblings in the same cycle are
// untouched.
func (r *Runner) processOpportunity(ctx context.Context, opp *domain.Opportunity) {
	defer func() {
		if rec := recover(); rec != nil {
			opp.MarkFailed()
			err := fmt.Errorf("strategy %s panicked on opportunity %s: %v", r.Name(), opp.ID, rec)
			slog.Error("opportunity processing panicked",
				"strategy", r.Name(),
				"opportunity_id", opp.ID,
				"panic", rec,
			)
			r.emit(ctx, domain.EventError, err)
		}
	}()

	// Revalidate: scan and execute are not instantaneous, prices move.
	if err := r.validate(ctx, opp); err != nil {
		if opp.IsExpired() {
			opp.MarkExpired()
		} else {
			opp.MarkSkipped()
		}
		slog.Debug("opportunity skipped on revalidation",
			"strategy", r.Name(),
			"opportunity_id", opp.ID,
			"reason", err.Error(),
		)
		return
	}

	// Size the stake. Zero means the edge does not justify a trade; that
	// is a skip, not an error.
	cfg := r.Config()
	shares := r.sizer.Calculate(sizingInput(opp, cfg))
	if shares <= 0 {
		opp.MarkSkipped()
		slog.Debug("opportunity sized to zero",
			"strategy", r.Name(),
			"opportunity_id", opp.ID,
		)
		return
	}
	opp.ApplySize(shares)

	opp.MarkExecuting()
	result, err := r.strategy.Execute(ctx, opp)
	if err != nil {
		opp.MarkFailed()
		slog.Warn("execution failed",
			"strategy", r.Name(),
			"opportunity_id", opp.ID,
			"err", err,
		)
		r.emit(ctx, domain.EventError, err)
		return
	}
	if !result.Success {
		opp.MarkFailed()
		r.emit(ctx, domain.EventError, &domain.ExecutionError{
			OpportunityID: opp.ID,
			Reason:        result.Error,
		})
		return
	}

	opp.MarkExecuted()
	result.Strategy = r.Name()
	r.mu.Lock()
	r.stats.recordExecution(result.PnL)
	r.mu.Unlock()
	r.emit(ctx, domain.EventTradeExecuted, result)
	slog.Info("trade executed",
		"strategy", r.Name(),
		"opportunity_id", opp.ID,
		"shares", fmt.Sprintf("%.0f", shares),
		"expected_pnl", fmt.Sprintf("%.4f", result.PnL),
	)
}

func (r *Runner) validate(ctx context.Context, opp *domain.Opportunity) error {
	if v, ok := r.strategy.(Validator); ok {
		return v.ValidateOpportunity(ctx, opp)
	}
	if !opp.IsValid() {
		return &domain.ValidationError{OpportunityID: opp.ID, Reason: "no longer valid"}
	}
	return nil
}

func (r *Runner) emit(ctx context.Context, typ domain.EventType, payload any) {
	if r.sink == nil {
		return
	}
	r.sink.Publish(ctx, domain.NewEvent(typ, r.Name(), payload))
}

// sizingInput assembles the sizer's view of one opportunity. Factories
// record the probabilistic inputs in metadata; absent entries fall back to
// the opportunity's confidence and the primary leg's price.
func sizingInput(opp *domain.Opportunity, cfg Config) domain.SizingInput {
	price := opp.Metadata["cost_per_share"]
	if price <= 0 {
		price = opp.PrimaryLeg().Price
	}
	p := opp.Metadata["win_probability"]
	if p <= 0 {
		p = opp.Confidence
	}
	return domain.SizingInput{
		Capital:        cfg.Capital,
		WinProbability: p,
		Odds:           opp.Metadata["odds"],
		Price:          price,
		MaxFraction:    cfg.MaxFraction,
		MinSize:        cfg.MinSize,
	}
}
