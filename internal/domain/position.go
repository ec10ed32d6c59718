package domain

import "time"

// PositionSide is the direction of an open position.
type PositionSide string

const (
	PositionLong  PositionSide = "LONG"
	PositionShort PositionSide = "SHORT"
)

// Position is a read-only snapshot of one open holding, supplied by an
// external position tracker. The risk layer only reads these; opening,
// scaling and closing happen elsewhere.
type Position struct {
	ID            string
	MarketID      string
	TokenID       string
	Side          PositionSide
	Size          float64 // shares
	AvgEntryPrice float64
	CurrentPrice  float64
	RealizedPnL   float64
	OpenedAt      time.Time
}

// Exposure returns the capital currently tied up in the position at market
// value.
func (p Position) Exposure() float64 {
	return p.Size * p.CurrentPrice
}

// UnrealizedPnL returns the mark-to-market result of the open size. A short
// profits when price falls.
func (p Position) UnrealizedPnL() float64 {
	if p.Side == PositionShort {
		return (p.AvgEntryPrice - p.CurrentPrice) * p.Size
	}
	return (p.CurrentPrice - p.AvgEntryPrice) * p.Size
}

// PnL returns realized plus unrealized.
func (p Position) PnL() float64 {
	return p.RealizedPnL + p.UnrealizedPnL()
}
