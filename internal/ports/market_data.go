package ports

import (
	"context"

	"github.com/alejandrodnm/edgebot/internal/domain"
)

// MarketDataSource supplies current market quotes for detection and for
// the pre-execution revalidation pass.
type MarketDataSource interface {
	// FetchSnapshots returns the current state of every tracked market.
	FetchSnapshots(ctx context.Context) ([]domain.MarketSnapshot, error)

	// FetchSnapshot returns the current state of a single market, used to
	// re-check prices between scan and execute.
	FetchSnapshot(ctx context.Context, marketID string) (domain.MarketSnapshot, error)
}
