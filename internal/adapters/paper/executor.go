package paper

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/alejandrodnm/edgebot/internal/domain"
)

// Config tunes the fill simulation.
type Config struct {
	InitialCash float64 // virtual balance, default 1000
	FillRatio   float64 // share of each order that fills, (0,1], default 1
	Slippage    float64 // adverse price move applied to fills, default 0
}

// Executor simulates order execution against a virtual cash balance. It
// implements ports.OrderExecutor.
//
// Fills are immediate at the limit price worsened by Slippage: the slip
// stands in for quote staleness between scan and execution. With a
// FillRatio below 1 the residual rests in the open-order table until
// cancelled. Paper fills are reversible: cancelling an order unwinds its
// fill, so a multi-leg rollback leaves the virtual book flat.
type Executor struct {
	cfg  Config
	book *PositionBook

	mu     sync.Mutex
	cash   float64
	orders map[string]paperOrder
}

type paperOrder struct {
	req       domain.OrderRequest
	fillPrice float64
	filled    float64 // shares filled
	resting   float64 // residual shares still open
	placedAt  time.Time
}

// NewExecutor creates an Executor writing fills into the given book.
// Zero-value config fields fall back to defaults.
func NewExecutor(cfg Config, book *PositionBook) *Executor {
	if cfg.InitialCash <= 0 {
		cfg.InitialCash = 1000
	}
	if cfg.FillRatio <= 0 || cfg.FillRatio > 1 {
		cfg.FillRatio = 1
	}
	if cfg.Slippage < 0 {
		cfg.Slippage = 0
	}
	return &Executor{
		cfg:    cfg,
		book:   book,
		cash:   cfg.InitialCash,
		orders: make(map[string]paperOrder),
	}
}

// PlaceLimitOrder simulates one fill. Rejections (bad price, insufficient
// balance) come back as unsuccessful results, never as panics or errors.
func (e *Executor) PlaceLimitOrder(_ context.Context, req domain.OrderRequest) domain.OrderResult {
	if req.Size <= 0 || req.Price <= 0 || req.Price >= 1 {
		return domain.OrderResult{ErrorMsg: fmt.Sprintf("invalid order: size %.2f price %.4f", req.Size, req.Price)}
	}

	fillPrice := e.slipped(req)
	filled := req.Size * e.cfg.FillRatio
	cost := fillPrice * filled

	e.mu.Lock()
	if req.Side == domain.SideBuy {
		if cost > e.cash {
			have := e.cash
			e.mu.Unlock()
			return domain.OrderResult{ErrorMsg: fmt.Sprintf("insufficient balance: need %.2f have %.2f", cost, have)}
		}
		e.cash -= cost
	} else {
		e.cash += cost
	}

	order := paperOrder{
		req:       req,
		fillPrice: fillPrice,
		filled:    filled,
		resting:   req.Size - filled,
		placedAt:  time.Now(),
	}
	id := uuid.New().String()
	e.orders[id] = order
	e.mu.Unlock()

	e.book.apply(req, fillPrice, filled)

	slog.Debug("paper fill",
		"token", req.TokenID,
		"side", req.Side,
		"price", fmt.Sprintf("%.4f", fillPrice),
		"filled", fmt.Sprintf("%.0f", filled),
		"resting", fmt.Sprintf("%.0f", order.resting),
	)
	return domain.OrderResult{Success: true, OrderID: id}
}

// CancelOrder unwinds a paper order: the resting residual is dropped and
// the filled part is reversed, cash included. Unknown IDs return false.
func (e *Executor) CancelOrder(_ context.Context, orderID string) bool {
	e.mu.Lock()
	order, ok := e.orders[orderID]
	if !ok {
		e.mu.Unlock()
		return false
	}
	delete(e.orders, orderID)

	refund := order.fillPrice * order.filled
	if order.req.Side == domain.SideBuy {
		e.cash += refund
	} else {
		e.cash -= refund
	}
	e.mu.Unlock()

	if order.filled > 0 {
		e.book.unwind(order.req, order.fillPrice, order.filled)
	}
	return true
}

// Cash returns the current virtual balance.
func (e *Executor) Cash() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cash
}

// slipped worsens the limit price by the configured slippage, keeping the
// result inside the (0,1) price range of outcome shares.
func (e *Executor) slipped(req domain.OrderRequest) float64 {
	price := req.Price
	if req.Side == domain.SideBuy {
		price *= 1 + e.cfg.Slippage
		if price > 0.999 {
			price = 0.999
		}
	} else {
		price *= 1 - e.cfg.Slippage
		if price < 0.001 {
			price = 0.001
		}
	}
	return price
}
