package ports

import (
	"context"

	"github.com/alejandrodnm/edgebot/internal/domain"
)

// OrderExecutor places and cancels limit orders on a trading venue.
// Implementations fold venue rejections and transport failures into the
// OrderResult; a false Success is a recoverable per-opportunity outcome,
// not an error the caller has to untangle.
type OrderExecutor interface {
	// PlaceLimitOrder submits one limit order for one leg.
	PlaceLimitOrder(ctx context.Context, req domain.OrderRequest) domain.OrderResult

	// CancelOrder cancels an order by its ID. Returns whether the venue
	// accepted the cancel; a false return on an already-filled order is
	// normal, not exceptional.
	CancelOrder(ctx context.Context, orderID string) bool
}
