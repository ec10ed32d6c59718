package ports

import (
	"context"

	"github.com/alejandrodnm/edgebot/internal/domain"
)

// Store persists the trade journal, open-position snapshot, risk-metric
// history, and event log. Persistence is best-effort from the engine's
// point of view: a failed write is logged and the cycle goes on.
type Store interface {
	// SaveTrade appends one executed (or failed) trade to the journal.
	SaveTrade(ctx context.Context, trade domain.TradeResult) error

	// SaveMetrics appends one risk-metrics snapshot.
	SaveMetrics(ctx context.Context, metrics domain.RiskMetrics) error

	// SavePositions replaces the open-position snapshot.
	SavePositions(ctx context.Context, positions []domain.Position) error

	// SaveEvent appends one lifecycle/risk event to the event log.
	SaveEvent(ctx context.Context, event domain.Event) error

	// Summary aggregates the trade journal for the shutdown report.
	Summary(ctx context.Context) (domain.LedgerSummary, error)

	// Close closes the underlying database cleanly.
	Close() error
}
