package ports

import (
	"context"

	"github.com/alejandrodnm/edgebot/internal/domain"
)

// OddsReferenceSource supplies decimal odds from an external reference
// (sportsbook feed, aggregator) for vig-removed fair-probability
// estimation. Only the odds-referenced strategy consumes it.
type OddsReferenceSource interface {
	// FetchOdds returns the reference odds for one market's outcomes.
	FetchOdds(ctx context.Context, marketID string) (domain.ReferenceOdds, error)
}
