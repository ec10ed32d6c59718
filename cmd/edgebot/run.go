package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/alejandrodnm/edgebot/config"
	"github.com/alejandrodnm/edgebot/internal/adapters/notify"
	"github.com/alejandrodnm/edgebot/internal/adapters/storage"
	"github.com/alejandrodnm/edgebot/internal/application/risk"
	"github.com/alejandrodnm/edgebot/internal/domain"
	"github.com/alejandrodnm/edgebot/internal/ports"
)

const stopFile = "STOP"

// runLoop drives the continuous session: scan cycles on one ticker, risk
// evaluation on another, until a signal or the STOP file ends it.
func runLoop(ctx context.Context, a *app, cfg *config.Config, console *notify.Console, store *storage.SQLiteStore) {
	a.engine.StartAll(ctx)

	scanTicker := time.NewTicker(cfg.ScanInterval())
	defer scanTicker.Stop()
	riskTicker := time.NewTicker(cfg.RiskInterval())
	defer riskTicker.Stop()

	stops := newStopTracker(a.risk, cfg.Risk)

	slog.Info("paper trading started, press Ctrl+C or create STOP file to exit",
		"strategies", a.engine.Names())

	runCycle(ctx, a, console)

	for {
		select {
		case <-ctx.Done():
			slog.Info("edgebot stopping (signal)")
			shutdown(a, console, store)
			return
		case <-scanTicker.C:
			if _, err := os.Stat(stopFile); err == nil {
				slog.Info("STOP file detected, shutting down")
				os.Remove(stopFile)
				shutdown(a, console, store)
				return
			}
			runCycle(ctx, a, console)
		case <-riskTicker.C:
			stops.sync(ctx, a.book)
			if _, err := a.engine.EvaluateRisk(ctx); err != nil {
				slog.Warn("risk evaluation failed", "err", err)
			}
		}
	}
}

func runCycle(ctx context.Context, a *app, console *notify.Console) {
	result := a.engine.RunOnce(ctx)
	console.PrintCycle(result)
}

// shutdown stops the runners and prints the session report. Runs on a
// fresh context: the caller's is usually already canceled.
func shutdown(a *app, console *notify.Console, store *storage.SQLiteStore) {
	ctx := context.Background()
	a.engine.StopAll(ctx)

	summary, err := store.Summary(ctx)
	if err != nil {
		slog.Warn("could not build session summary", "err", err)
	} else {
		console.PrintSummary(summary)
	}

	slog.Info("paper book at shutdown",
		"cash", fmt.Sprintf("$%.2f", a.exec.Cash()),
		"closed_pnl", fmt.Sprintf("$%.4f", a.book.ClosedPnL()),
	)
}

// stopTracker attaches the configured exit rules to positions as they
// appear in the book and drops the rules once the position is gone.
type stopTracker struct {
	risk    *risk.Manager
	cfg     config.RiskConfig
	tracked map[string]bool
}

func newStopTracker(riskMgr *risk.Manager, cfg config.RiskConfig) *stopTracker {
	return &stopTracker{risk: riskMgr, cfg: cfg, tracked: make(map[string]bool)}
}

func (t *stopTracker) sync(ctx context.Context, book ports.PositionProvider) {
	positions, err := book.Positions(ctx)
	if err != nil {
		slog.Warn("position fetch failed", "err", err)
		return
	}

	seen := make(map[string]bool, len(positions))
	for _, pos := range positions {
		seen[pos.ID] = true
		if t.tracked[pos.ID] {
			continue
		}
		t.tracked[pos.ID] = true

		if t.cfg.StopLossPercent > 0 {
			kind := domain.StopPercentage
			if t.cfg.TrailingStop {
				kind = domain.StopTrailing
			}
			t.risk.SetStopLoss(pos, domain.StopLossConfig{
				Kind:    kind,
				Value:   t.cfg.StopLossPercent,
				Enabled: true,
			})
		}
		if t.cfg.TakeProfitPercent > 0 {
			t.risk.SetTakeProfit(pos, domain.TakeProfitConfig{
				Kind:    domain.ProfitPercentage,
				Value:   t.cfg.TakeProfitPercent,
				Enabled: true,
			})
		}
	}

	for id := range t.tracked {
		if !seen[id] {
			t.risk.RemoveSettings(id)
			delete(t.tracked, id)
		}
	}
}
