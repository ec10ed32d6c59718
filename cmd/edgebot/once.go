package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/alejandrodnm/edgebot/internal/adapters/notify"
)

// runOnce executes a single sequential cycle and prints the per-strategy
// report. Useful for smoke tests and cron-style runs.
func runOnce(ctx context.Context, a *app, console *notify.Console) {
	slog.Info("running one scan cycle")
	a.engine.StartAll(ctx)

	summaries := a.engine.RunAll(ctx)
	console.PrintRunReport(summaries)

	metrics, err := a.engine.EvaluateRisk(ctx)
	if err != nil {
		slog.Warn("risk evaluation failed", "err", err)
	} else {
		console.PrintMetrics(metrics)
	}

	a.engine.StopAll(ctx)
	slog.Info("cycle complete", "cash", fmt.Sprintf("$%.2f", a.exec.Cash()))
}
