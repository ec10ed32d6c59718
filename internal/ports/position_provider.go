package ports

import (
	"context"

	"github.com/alejandrodnm/edgebot/internal/domain"
)

// PositionProvider supplies the current open positions. The risk manager
// reads these snapshots on its own cadence; ownership and mutation stay
// with the provider.
type PositionProvider interface {
	Positions(ctx context.Context) ([]domain.Position, error)
}
