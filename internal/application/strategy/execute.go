package strategy

import (
	"context"
	"log/slog"
	"time"

	"github.com/alejandrodnm/edgebot/internal/domain"
	"github.com/alejandrodnm/edgebot/internal/ports"
)

// ExecuteLegs places every leg of an opportunity in order. All three
// strategies execute through it.
//
// Failure handling:
//   - first leg rejected → ExecutionError, nothing to unwind.
//   - a later leg rejected → best-effort cancel of the already-placed
//     legs, then PartialExecutionError. The cancel can itself fail (the
//     leg may already be filled); the error records that, because the
//     caller is left holding one-sided exposure.
func ExecuteLegs(ctx context.Context, exec ports.OrderExecutor, opp *domain.Opportunity) (domain.TradeResult, error) {
	placed := make([]string, 0, len(opp.Legs))
	notional := 0.0
	shares := 0.0

	for i, leg := range opp.Legs {
		res := exec.PlaceLimitOrder(ctx, domain.OrderRequest{
			MarketID: leg.MarketID,
			TokenID:  leg.TokenID,
			Side:     leg.Side,
			Price:    leg.Price,
			Size:     leg.Size,
		})
		if !res.Success {
			if i == 0 {
				return domain.TradeResult{OpportunityID: opp.ID, Error: res.ErrorMsg, ExecutedAt: time.Now()},
					&domain.ExecutionError{OpportunityID: opp.ID, Reason: res.ErrorMsg}
			}
			return unwind(ctx, exec, opp, placed, i, res.ErrorMsg)
		}
		placed = append(placed, res.OrderID)
		notional += leg.Notional()
		shares += leg.Size
	}

	avg := 0.0
	if shares > 0 {
		avg = notional / shares
	}
	return domain.TradeResult{
		OpportunityID: opp.ID,
		Success:       true,
		OrderIDs:      placed,
		FilledSize:    shares,
		AvgPrice:      avg,
		PnL:           opp.ExpectedProfit,
		ExecutedAt:    time.Now(),
	}, nil
}

// unwind cancels the legs that did get placed after a sibling was
// rejected. Best effort only: a fill that raced the cancel stays.
func unwind(ctx context.Context, exec ports.OrderExecutor, opp *domain.Opportunity, placed []string, failedIdx int, reason string) (domain.TradeResult, error) {
	cancelled := true
	for i, orderID := range placed {
		if !exec.CancelOrder(ctx, orderID) {
			cancelled = false
			slog.Warn("leg rollback cancel failed",
				"opportunity_id", opp.ID,
				"order_id", orderID,
				"leg", i,
			)
		}
	}
	err := &domain.PartialExecutionError{
		OpportunityID: opp.ID,
		FilledOrderID: placed[len(placed)-1],
		FilledLeg:     opp.Legs[failedIdx-1],
		FailedLeg:     opp.Legs[failedIdx],
		Cancelled:     cancelled,
		Reason:        reason,
	}
	return domain.TradeResult{OpportunityID: opp.ID, Error: err.Error(), ExecutedAt: time.Now()}, err
}
