package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/alejandrodnm/edgebot/internal/adapters/notify"
	"github.com/alejandrodnm/edgebot/internal/adapters/storage"
)

// runReport prints what previous sessions left in the store: the aggregated
// trade journal, open positions, the latest risk snapshot and the tail of
// the event log.
func runReport(ctx context.Context, store *storage.SQLiteStore, console *notify.Console) {
	summary, err := store.Summary(ctx)
	if err != nil {
		slog.Error("failed to read trade journal", "err", err)
		os.Exit(1)
	}
	console.PrintSummary(summary)

	positions, err := store.OpenPositions(ctx)
	if err != nil {
		slog.Warn("failed to read open positions", "err", err)
	} else if len(positions) > 0 {
		fmt.Printf("\n── OPEN POSITIONS (%d) ──\n", len(positions))
		console.PrintPositions(positions)
	}

	now := time.Now().UTC()
	history, err := store.MetricsHistory(ctx, now.Add(-24*time.Hour), now)
	if err != nil {
		slog.Warn("failed to read metrics history", "err", err)
	} else if len(history) > 0 {
		fmt.Printf("\n── RISK (latest of %d snapshots in 24h) ──\n", len(history))
		console.PrintMetrics(history[0])
	}

	events, err := store.RecentEvents(ctx, 20)
	if err != nil {
		slog.Warn("failed to read event log", "err", err)
		return
	}
	if len(events) > 0 {
		fmt.Printf("\n── LAST %d EVENTS ──\n", len(events))
		for _, event := range events {
			console.Publish(ctx, event)
		}
	}
}
