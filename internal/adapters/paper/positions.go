package paper

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/alejandrodnm/edgebot/internal/domain"
	"github.com/alejandrodnm/edgebot/internal/ports"
)

// How often Positions refreshes marks from the data source.
const markEveryDefault = 30 * time.Second

// PositionBook tracks the virtual holdings created by simulated fills, one
// position per outcome token. It implements ports.PositionProvider: the
// risk manager reads marked-to-market snapshots from here.
type PositionBook struct {
	data      ports.MarketDataSource // nil disables marking
	markEvery time.Duration

	mu        sync.Mutex
	positions map[string]*domain.Position // tokenID → open position
	closedPnL float64
	lastMark  time.Time
}

// NewPositionBook creates an empty book. A nil data source is allowed;
// positions then stay marked at their last fill price.
func NewPositionBook(data ports.MarketDataSource) *PositionBook {
	return &PositionBook{
		data:      data,
		markEvery: markEveryDefault,
		positions: make(map[string]*domain.Position),
	}
}

// Positions returns a snapshot of the open positions, marked to the latest
// known market price. Mark refreshes are throttled and best-effort: a feed
// failure keeps the previous marks.
func (b *PositionBook) Positions(ctx context.Context) ([]domain.Position, error) {
	b.refreshMarks(ctx)

	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]domain.Position, 0, len(b.positions))
	for _, p := range b.positions {
		out = append(out, *p)
	}
	return out, nil
}

// ClosedPnL returns the realized PnL of positions that were fully closed
// and removed from the book.
func (b *PositionBook) ClosedPnL() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closedPnL
}

// apply books one simulated fill. Fills against an opposite-side position
// close it first; any remainder opens or extends a position on the order's
// side. Fully closed positions leave the book and their realized PnL moves
// to the closed accumulator.
func (b *PositionBook) apply(req domain.OrderRequest, price, size float64) {
	if size <= 0 {
		return
	}

	side := domain.PositionLong
	if req.Side == domain.SideSell {
		side = domain.PositionShort
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	pos, ok := b.positions[req.TokenID]
	if !ok {
		b.positions[req.TokenID] = &domain.Position{
			ID:            req.TokenID,
			MarketID:      req.MarketID,
			TokenID:       req.TokenID,
			Side:          side,
			Size:          size,
			AvgEntryPrice: price,
			CurrentPrice:  price,
			OpenedAt:      time.Now(),
		}
		return
	}

	if pos.Side == side {
		// Same direction: extend and re-average the entry.
		total := pos.Size + size
		pos.AvgEntryPrice = (pos.AvgEntryPrice*pos.Size + price*size) / total
		pos.Size = total
		pos.CurrentPrice = price
		return
	}

	// Opposite direction: close first, flip with the remainder.
	closed := size
	if closed > pos.Size {
		closed = pos.Size
	}
	if pos.Side == domain.PositionLong {
		pos.RealizedPnL += (price - pos.AvgEntryPrice) * closed
	} else {
		pos.RealizedPnL += (pos.AvgEntryPrice - price) * closed
	}
	pos.Size -= closed
	pos.CurrentPrice = price

	remainder := size - closed
	if pos.Size <= 1e-9 {
		b.closedPnL += pos.RealizedPnL
		delete(b.positions, req.TokenID)
		if remainder > 1e-9 {
			b.positions[req.TokenID] = &domain.Position{
				ID:            req.TokenID,
				MarketID:      req.MarketID,
				TokenID:       req.TokenID,
				Side:          side,
				Size:          remainder,
				AvgEntryPrice: price,
				CurrentPrice:  price,
				OpenedAt:      time.Now(),
			}
		}
	}
}

// unwind reverses a previous fill, applying the opposite side at the same
// price. Used by cancel: immediately after the fill this nets the book back
// to flat with zero realized PnL.
func (b *PositionBook) unwind(req domain.OrderRequest, price, size float64) {
	reverse := req
	if req.Side == domain.SideBuy {
		reverse.Side = domain.SideSell
	} else {
		reverse.Side = domain.SideBuy
	}
	b.apply(reverse, price, size)
}

// refreshMarks pulls current prices for every market with an open position.
func (b *PositionBook) refreshMarks(ctx context.Context) {
	if b.data == nil {
		return
	}

	b.mu.Lock()
	if time.Since(b.lastMark) < b.markEvery || len(b.positions) == 0 {
		b.mu.Unlock()
		return
	}
	b.lastMark = time.Now()
	markets := make(map[string]bool)
	for _, p := range b.positions {
		markets[p.MarketID] = true
	}
	b.mu.Unlock()

	for marketID := range markets {
		snap, err := b.data.FetchSnapshot(ctx, marketID)
		if err != nil {
			slog.Debug("mark refresh failed, keeping last price", "market", marketID, "err", err)
			continue
		}
		b.mu.Lock()
		for _, o := range snap.Outcomes {
			if pos, ok := b.positions[o.TokenID]; ok && o.Price > 0 {
				pos.CurrentPrice = o.Price
			}
		}
		b.mu.Unlock()
	}
}
