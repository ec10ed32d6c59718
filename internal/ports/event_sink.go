package ports

import (
	"context"

	"github.com/alejandrodnm/edgebot/internal/domain"
)

// EventSink receives every lifecycle and risk event the core emits.
// Publishing is fire-and-forget: the core never learns whether delivery
// succeeded, so implementations must swallow their own failures.
type EventSink interface {
	Publish(ctx context.Context, event domain.Event)
}
