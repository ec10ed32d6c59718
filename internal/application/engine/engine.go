package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/alejandrodnm/edgebot/internal/application/risk"
	"github.com/alejandrodnm/edgebot/internal/application/strategy"
	"github.com/alejandrodnm/edgebot/internal/domain"
	"github.com/alejandrodnm/edgebot/internal/ports"
)

const (
	defaultCapital         = 1000
	defaultBreakerLosses   = 3
	defaultBreakerCooldown = 30 * time.Minute
	breakerDrawdownRatio   = 0.20 // hard-trip floor as a fraction of starting capital
)

// Config holds the engine-level protection settings.
type Config struct {
	InitialCapital  float64
	BreakerLosses   int           // consecutive losing trades before a cooldown
	BreakerCooldown time.Duration // how long a cooldown pause lasts
}

// Engine coordinates the registered strategy runners: concurrent scan
// cycles, the shared risk evaluation, and the circuit breaker protecting
// the whole book. One strategy's failure never reaches its siblings.
type Engine struct {
	mu      sync.Mutex
	runners map[string]*strategy.Runner
	breaker domain.CircuitBreaker

	risk      *risk.Manager
	positions ports.PositionProvider
	store     ports.Store
	sink      ports.EventSink
	cfg       Config
}

// New creates an engine. risk and positions are required; store may be nil
// when nothing is persisted.
func New(cfg Config, riskMgr *risk.Manager, positions ports.PositionProvider, store ports.Store, sink ports.EventSink) *Engine {
	if cfg.InitialCapital <= 0 {
		cfg.InitialCapital = defaultCapital
	}
	if cfg.BreakerLosses <= 0 {
		cfg.BreakerLosses = defaultBreakerLosses
	}
	if cfg.BreakerCooldown <= 0 {
		cfg.BreakerCooldown = defaultBreakerCooldown
	}
	return &Engine{
		runners:   make(map[string]*strategy.Runner),
		breaker:   *domain.NewCircuitBreaker(cfg.BreakerLosses, cfg.BreakerCooldown, -cfg.InitialCapital*breakerDrawdownRatio),
		risk:      riskMgr,
		positions: positions,
		store:     store,
		sink:      sink,
		cfg:       cfg,
	}
}

// Register adds a runner under its strategy name.
func (e *Engine) Register(r *strategy.Runner) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	name := r.Name()
	if name == "" {
		return fmt.Errorf("engine.Register: empty strategy name")
	}
	if _, exists := e.runners[name]; exists {
		return fmt.Errorf("engine.Register: strategy %q already registered", name)
	}
	e.runners[name] = r
	return nil
}

// Unregister stops a runner and removes it from the registry. Reports
// whether the name was registered.
func (e *Engine) Unregister(ctx context.Context, name string) bool {
	e.mu.Lock()
	r, ok := e.runners[name]
	delete(e.runners, name)
	e.mu.Unlock()
	if ok {
		r.Stop(ctx)
	}
	return ok
}

// Runner looks a runner up by strategy name.
func (e *Engine) Runner(name string) (*strategy.Runner, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	r, ok := e.runners[name]
	return r, ok
}

// Names returns the registered strategy names, sorted.
func (e *Engine) Names() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	names := make([]string, 0, len(e.runners))
	for name := range e.runners {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// sorted returns the runners in name order, for deterministic sequential
// runs and stable reports.
func (e *Engine) sorted() []*strategy.Runner {
	e.mu.Lock()
	defer e.mu.Unlock()
	names := make([]string, 0, len(e.runners))
	for name := range e.runners {
		names = append(names, name)
	}
	sort.Strings(names)
	out := make([]*strategy.Runner, len(names))
	for i, name := range names {
		out[i] = e.runners[name]
	}
	return out
}

// StartAll starts every registered runner.
func (e *Engine) StartAll(ctx context.Context) {
	for _, r := range e.sorted() {
		r.Start(ctx)
	}
}

// StopAll stops every registered runner.
func (e *Engine) StopAll(ctx context.Context) {
	for _, r := range e.sorted() {
		r.Stop(ctx)
	}
}

// Stats returns the lifetime counters per strategy name.
func (e *Engine) Stats() map[string]strategy.Stats {
	runners := e.sorted()
	out := make(map[string]strategy.Stats, len(runners))
	for _, r := range runners {
		out[r.Name()] = r.Stats()
	}
	return out
}

// RunOnce executes one concurrent scan cycle: protection gate first, then
// every runner in parallel, joined before returning. No ordering across
// strategies is guaranteed; each row isolates its own failure.
func (e *Engine) RunOnce(ctx context.Context) domain.CycleResult {
	start := time.Now()
	result := domain.CycleResult{StartedAt: start}

	e.mu.Lock()
	allowed := e.breaker.IsOpen()
	reason := e.breaker.TrippedReason
	until := e.breaker.CooldownUntil
	e.mu.Unlock()
	if !allowed {
		result.Halted = true
		result.HaltReason = reason
		slog.Warn("circuit breaker active, skipping cycle",
			"reason", reason,
			"until", until.Format("15:04:05"),
		)
		return result
	}

	runners := e.sorted()
	rows := make([]domain.RunSummary, len(runners))
	var wg sync.WaitGroup
	for i, r := range runners {
		wg.Add(1)
		go func(i int, r *strategy.Runner) {
			defer wg.Done()
			rows[i] = runStrategy(ctx, r)
		}(i, r)
	}
	wg.Wait()

	result.Summaries = rows
	result.Duration = time.Since(start)
	slog.Info("cycle complete",
		"strategies", len(rows),
		"found", result.Found(),
		"executed", result.Executed(),
		"duration", result.Duration.Round(time.Millisecond),
	)
	return result
}

// RunAll executes every runner sequentially in name order and returns the
// per-strategy summaries. It never returns an error; failures land in the
// summary rows.
func (e *Engine) RunAll(ctx context.Context) []domain.RunSummary {
	runners := e.sorted()
	rows := make([]domain.RunSummary, 0, len(runners))
	for _, r := range runners {
		rows = append(rows, runStrategy(ctx, r))
	}
	return rows
}

// runStrategy runs one runner and reduces the outcome to a summary row.
// A panicking strategy is contained here, at the coordinator boundary.
func runStrategy(ctx context.Context, r *strategy.Runner) (row domain.RunSummary) {
	row.Strategy = r.Name()
	before := r.Stats()
	defer func() {
		if rec := recover(); rec != nil {
			row.Err = fmt.Sprintf("panic: %v", rec)
			slog.Error("strategy run panicked", "strategy", r.Name(), "panic", rec)
		}
		after := r.Stats()
		row.Opportunities = after.OpportunitiesFound - before.OpportunitiesFound
		row.Executed = after.OpportunitiesExecuted - before.OpportunitiesExecuted
	}()
	if err := r.Run(ctx); err != nil {
		row.Err = err.Error()
		slog.Warn("strategy run failed", "strategy", r.Name(), "err", err)
	}
	return row
}

// EvaluateRisk runs one risk cycle: fetch the live positions, emit alerts,
// refresh the metrics and position snapshots, persist both. Store failures
// are logged, never fatal.
func (e *Engine) EvaluateRisk(ctx context.Context) (domain.RiskMetrics, error) {
	positions, err := e.positions.Positions(ctx)
	if err != nil {
		return domain.RiskMetrics{}, fmt.Errorf("engine.EvaluateRisk: positions: %w", err)
	}
	e.risk.EvaluateAllPositions(ctx, positions)
	metrics := e.risk.EvaluateRisk(positions)
	if e.store != nil {
		if err := e.store.SaveMetrics(ctx, metrics); err != nil {
			slog.Warn("persist risk metrics failed", "err", err)
		}
		if err := e.store.SavePositions(ctx, positions); err != nil {
			slog.Warn("persist positions failed", "err", err)
		}
	}
	return metrics, nil
}

// RecordTrade folds one executed trade into the protection state: the
// daily PnL for the risk gates and the circuit breaker's loss streak.
// Wired to TRADE_EXECUTED events by the composition root.
func (e *Engine) RecordTrade(result domain.TradeResult) {
	if !result.Success {
		return
	}
	e.risk.UpdateDailyPnL(result.PnL)

	e.mu.Lock()
	defer e.mu.Unlock()
	if result.PnL < 0 {
		e.breaker.RecordLoss(result.PnL)
		if !e.breaker.IsOpen() {
			slog.Warn("circuit breaker engaged",
				"reason", e.breaker.TrippedReason,
				"total_pnl", fmt.Sprintf("%.4f", e.breaker.TotalPnL),
			)
		}
	} else {
		e.breaker.RecordWin(result.PnL)
	}
}

// Halted reports whether the circuit breaker is blocking cycles, and why.
func (e *Engine) Halted() (bool, string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.breaker.IsOpen() {
		return false, ""
	}
	return true, e.breaker.TrippedReason
}
