package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// OpportunityType classifies the signal that produced an opportunity.
type OpportunityType string

const (
	TypeCrossMarket    OpportunityType = "CROSS_MARKET"
	TypeEventArbitrage OpportunityType = "EVENT_ARBITRAGE"
	TypeDeviation      OpportunityType = "DEVIATION"
)

// OpportunityStatus is the lifecycle state of an opportunity.
// PENDING is the only state from which the opportunity can still trade;
// EXECUTED, FAILED, EXPIRED and SKIPPED are terminal.
type OpportunityStatus string

const (
	StatusPending   OpportunityStatus = "PENDING"
	StatusExecuting OpportunityStatus = "EXECUTING"
	StatusExecuted  OpportunityStatus = "EXECUTED"
	StatusFailed    OpportunityStatus = "FAILED"
	StatusExpired   OpportunityStatus = "EXPIRED"
	StatusSkipped   OpportunityStatus = "SKIPPED"
)

// OrderSide is the direction of a leg.
type OrderSide string

const (
	SideBuy  OrderSide = "BUY"
	SideSell OrderSide = "SELL"
)

// Leg is one instrument intent inside an opportunity: which token to trade,
// at what price, how many shares. Legs are built once at detection time and
// never mutated afterwards; sizing replaces the whole slice.
type Leg struct {
	MarketID string
	TokenID  string
	Side     OrderSide
	Price    float64
	Size     float64 // shares
}

// Notional returns the capital the leg consumes at its limit price.
func (l Leg) Notional() float64 {
	return l.Price * l.Size
}

// Opportunity is a detected, time-boxed trading signal. It is created by a
// strategy's detection logic through the New*Opportunity constructors and
// mutated only through the Mark* transition methods. Purging terminal or
// expired instances is the owner's job; the entity never deletes itself.
type Opportunity struct {
	ID                    string
	Type                  OpportunityType
	Legs                  []Leg
	ExpectedProfit        float64 // currency units
	ExpectedProfitPercent float64
	Confidence            float64 // [0,1], clamped at construction
	Status                OpportunityStatus
	ExpiresAt             time.Time
	CreatedAt             time.Time
	Metadata              map[string]float64
}

// newOpportunity builds the common fields shared by all constructors.
// Confidence outside [0,1] is clamped, never rejected.
func newOpportunity(typ OpportunityType, legs []Leg, profit, profitPct, confidence float64, ttl time.Duration) (*Opportunity, error) {
	if len(legs) == 0 {
		return nil, fmt.Errorf("domain.newOpportunity: %s opportunity needs at least one leg", typ)
	}
	now := time.Now()
	return &Opportunity{
		ID:                    uuid.New().String(),
		Type:                  typ,
		Legs:                  legs,
		ExpectedProfit:        profit,
		ExpectedProfitPercent: profitPct,
		Confidence:            Clamp01(confidence),
		Status:                StatusPending,
		ExpiresAt:             now.Add(ttl),
		CreatedAt:             now,
		Metadata:              make(map[string]float64),
	}, nil
}

// NewCrossMarketOpportunity builds a two-leg buy-both opportunity for a
// binary market whose YES and NO asks sum below 1. Exactly one leg pays out
// 1 per share, so profit = shares × spread regardless of the outcome.
func NewCrossMarketOpportunity(marketID, yesTokenID, noTokenID string, yesPrice, noPrice, capital float64, ttl time.Duration) (*Opportunity, error) {
	sum := yesPrice + noPrice
	if sum <= 0 || sum >= 1 {
		return nil, fmt.Errorf("domain.NewCrossMarketOpportunity: no spread at yes=%.4f no=%.4f", yesPrice, noPrice)
	}
	spread := CrossMarketSpread(yesPrice, noPrice)
	shares := CrossMarketShares(capital, yesPrice, noPrice)
	if shares <= 0 {
		return nil, fmt.Errorf("domain.NewCrossMarketOpportunity: capital %.2f buys zero shares", capital)
	}
	legs := []Leg{
		{MarketID: marketID, TokenID: yesTokenID, Side: SideBuy, Price: yesPrice, Size: shares},
		{MarketID: marketID, TokenID: noTokenID, Side: SideBuy, Price: noPrice, Size: shares},
	}
	// Payoff is structural; residual risk is fill risk on the second leg,
	// which shrinks as the spread widens.
	confidence := 0.90 + spread
	o, err := newOpportunity(TypeCrossMarket, legs, shares*spread, spread/sum*100, confidence, ttl)
	if err != nil {
		return nil, err
	}
	o.Metadata["spread"] = spread
	o.Metadata["cost_per_share"] = sum
	// One pair always pays 1 unit: outcome risk is nil, only fill risk
	// remains, so the sizer sees a certain payoff at tiny net odds.
	o.Metadata["win_probability"] = 1.0
	o.Metadata["odds"] = spread / sum
	return o, nil
}

// NewEventArbitrageOpportunity builds a single-leg value bet where the
// vig-removed fair probability from a reference source exceeds the market
// price. Confidence blends the edge with the reference source's own margin:
// a tighter overround means the fair probabilities are trusted more.
func NewEventArbitrageOpportunity(marketID, tokenID string, side OrderSide, price, fairProb, overround, capital float64, ttl time.Duration) (*Opportunity, error) {
	if price <= 0 || price >= 1 {
		return nil, fmt.Errorf("domain.NewEventArbitrageOpportunity: price %.4f outside (0,1)", price)
	}
	edge := fairProb - price
	ev := ExpectedValue(fairProb, price)
	shares := 0.0
	if price > 0 {
		shares = mathFloor(capital / price)
	}
	legs := []Leg{{MarketID: marketID, TokenID: tokenID, Side: side, Price: price, Size: shares}}
	confidence := BlendConfidence(edge, overround)
	o, err := newOpportunity(TypeEventArbitrage, legs, shares*edge, ev*100, confidence, ttl)
	if err != nil {
		return nil, err
	}
	o.Metadata["edge"] = edge
	o.Metadata["fair_probability"] = fairProb
	o.Metadata["overround"] = overround
	// The payout is the binary share itself, so the sizer derives net odds
	// from the price; the fair probability is the Kelly p.
	o.Metadata["win_probability"] = fairProb
	return o, nil
}

// NewDeviationOpportunity builds a single-leg mean-reversion entry or
// unwind. Expected profit assumes full reversion from the current price to
// the rolling mean; confidence grows with how many standard deviations the
// price has strayed.
func NewDeviationOpportunity(marketID, tokenID string, side OrderSide, price, mean, zScore, capital float64, ttl time.Duration) (*Opportunity, error) {
	if price <= 0 {
		return nil, fmt.Errorf("domain.NewDeviationOpportunity: price %.4f must be positive", price)
	}
	shares := mathFloor(capital / price)
	legs := []Leg{{MarketID: marketID, TokenID: tokenID, Side: side, Price: price, Size: shares}}
	reversion := mean - price
	if side == SideSell {
		reversion = price - mean
	}
	profit := shares * reversion
	profitPct := 0.0
	if price > 0 {
		profitPct = reversion / price * 100
	}
	confidence := Clamp01(abs(zScore) / 4.0)
	o, err := newOpportunity(TypeDeviation, legs, profit, profitPct, confidence, ttl)
	if err != nil {
		return nil, err
	}
	o.Metadata["z_score"] = zScore
	o.Metadata["mean"] = mean
	return o, nil
}

// IsValid reports whether the opportunity can still be traded: it must be
// PENDING and not past its expiry. This is the only authoritative
// tradability check.
func (o *Opportunity) IsValid() bool {
	return o.Status == StatusPending && time.Now().Before(o.ExpiresAt)
}

// IsExpired reports whether the expiry has passed, independent of status.
// An executed record ages into IsExpired()==true; that is expected.
func (o *Opportunity) IsExpired() bool {
	return !time.Now().Before(o.ExpiresAt)
}

// IsTerminal reports whether the status can no longer change.
func (o *Opportunity) IsTerminal() bool {
	switch o.Status {
	case StatusExecuted, StatusFailed, StatusExpired, StatusSkipped:
		return true
	}
	return false
}

// MarkExecuting moves PENDING → EXECUTING. Returns false without touching
// the status when the transition is not legal from the current state.
func (o *Opportunity) MarkExecuting() bool {
	return o.transition(StatusPending, StatusExecuting)
}

// MarkExecuted moves EXECUTING → EXECUTED.
func (o *Opportunity) MarkExecuted() bool {
	return o.transition(StatusExecuting, StatusExecuted)
}

// MarkFailed moves EXECUTING → FAILED.
func (o *Opportunity) MarkFailed() bool {
	return o.transition(StatusExecuting, StatusFailed)
}

// MarkExpired moves PENDING → EXPIRED.
func (o *Opportunity) MarkExpired() bool {
	return o.transition(StatusPending, StatusExpired)
}

// MarkSkipped moves PENDING → SKIPPED.
func (o *Opportunity) MarkSkipped() bool {
	return o.transition(StatusPending, StatusSkipped)
}

func (o *Opportunity) transition(from, to OpportunityStatus) bool {
	if o.Status != from {
		return false
	}
	o.Status = to
	return true
}

// ApplySize rescales every leg to the given share count. Detection sizes
// legs from the strategy's nominal capital; the sizer then decides the real
// stake, which replaces it here. Expected profit scales with the shares.
func (o *Opportunity) ApplySize(shares float64) {
	if shares <= 0 || len(o.Legs) == 0 {
		return
	}
	prev := o.Legs[0].Size
	for i := range o.Legs {
		o.Legs[i].Size = shares
	}
	if prev > 0 {
		o.ExpectedProfit = o.ExpectedProfit / prev * shares
	}
}

// Capital returns the total notional across all legs.
func (o *Opportunity) Capital() float64 {
	total := 0.0
	for _, l := range o.Legs {
		total += l.Notional()
	}
	return total
}

// PrimaryLeg returns the first leg, which detection orders as the one that
// carries the signal (the value leg, the entry leg).
func (o *Opportunity) PrimaryLeg() Leg {
	return o.Legs[0]
}
