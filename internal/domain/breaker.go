package domain

import "time"

// CircuitBreaker pauses trading after a streak of losing cycles and trips
// permanently when cumulative PnL falls through a hard floor. The engine
// checks IsOpen before every scan cycle; a closed breaker skips the cycle.
type CircuitBreaker struct {
	ConsecutiveLosses int
	MaxLosses         int
	CooldownUntil     time.Time
	CooldownDuration  time.Duration
	TotalPnL          float64
	MaxDrawdown       float64 // negative currency floor, e.g. -500
	Tripped           bool
	TrippedReason     string
}

// NewCircuitBreaker returns a breaker that cools down after maxLosses
// consecutive losing cycles and trips for good below maxDrawdown.
func NewCircuitBreaker(maxLosses int, cooldown time.Duration, maxDrawdown float64) *CircuitBreaker {
	return &CircuitBreaker{
		MaxLosses:        maxLosses,
		CooldownDuration: cooldown,
		MaxDrawdown:      maxDrawdown,
	}
}

// IsOpen reports whether trading is allowed.
func (cb *CircuitBreaker) IsOpen() bool {
	if cb.Tripped {
		return false
	}
	return !time.Now().Before(cb.CooldownUntil)
}

// RecordLoss books a losing cycle and may start a cooldown or trip the
// breaker outright.
func (cb *CircuitBreaker) RecordLoss(loss float64) {
	cb.ConsecutiveLosses++
	cb.TotalPnL += loss
	if cb.MaxLosses > 0 && cb.ConsecutiveLosses >= cb.MaxLosses {
		cb.CooldownUntil = time.Now().Add(cb.CooldownDuration)
		cb.ConsecutiveLosses = 0
		cb.TrippedReason = "consecutive losses"
	}
	if cb.MaxDrawdown < 0 && cb.TotalPnL < cb.MaxDrawdown {
		cb.Tripped = true
		cb.TrippedReason = "max drawdown exceeded"
	}
}

// RecordWin books a winning cycle and resets the loss streak.
func (cb *CircuitBreaker) RecordWin(profit float64) {
	cb.ConsecutiveLosses = 0
	cb.TotalPnL += profit
}
