package domain

import (
	"fmt"
	"time"
)

// RiskLimits is the portfolio-wide limit configuration. A zero field means
// "no limit of this kind"; Merge replaces only the fields the patch sets.
type RiskLimits struct {
	MaxPositionSize      float64 // currency units per single position
	MaxTotalExposure     float64 // currency units across all positions
	MaxDrawdownPercent   float64 // percent decline from peak, e.g. 10 = 10%
	MaxPositions         int     // open position count
	MaxPerMarketExposure float64 // currency units per market
	DailyLossLimit       float64 // currency units lost since day start
}

// Merge returns a copy of l with every non-zero field of patch applied.
func (l RiskLimits) Merge(patch RiskLimits) RiskLimits {
	out := l
	if patch.MaxPositionSize > 0 {
		out.MaxPositionSize = patch.MaxPositionSize
	}
	if patch.MaxTotalExposure > 0 {
		out.MaxTotalExposure = patch.MaxTotalExposure
	}
	if patch.MaxDrawdownPercent > 0 {
		out.MaxDrawdownPercent = patch.MaxDrawdownPercent
	}
	if patch.MaxPositions > 0 {
		out.MaxPositions = patch.MaxPositions
	}
	if patch.MaxPerMarketExposure > 0 {
		out.MaxPerMarketExposure = patch.MaxPerMarketExposure
	}
	if patch.DailyLossLimit > 0 {
		out.DailyLossLimit = patch.DailyLossLimit
	}
	return out
}

// CheckResult is the outcome of one risk gate. Gates reject, they never
// clamp: a failed check carries the reason and the numbers behind it so the
// caller can log or surface them, but the trade simply does not happen.
type CheckResult struct {
	OK      bool
	Reason  string
	Metrics map[string]float64
}

// Pass returns a passing result.
func Pass() CheckResult {
	return CheckResult{OK: true}
}

// Fail returns a failing result with a formatted reason.
func Fail(metrics map[string]float64, format string, args ...any) CheckResult {
	return CheckResult{OK: false, Reason: fmt.Sprintf(format, args...), Metrics: metrics}
}

// StopKind selects how a stop-loss trigger price is derived.
type StopKind string

const (
	StopFixed      StopKind = "FIXED"      // trigger at an absolute price
	StopPercentage StopKind = "PERCENTAGE" // trigger value percent away from entry
	StopTrailing   StopKind = "TRAILING"   // trigger trails the price by an offset percent
)

// ProfitKind selects how a take-profit trigger price is derived.
type ProfitKind string

const (
	ProfitFixed      ProfitKind = "FIXED"
	ProfitPercentage ProfitKind = "PERCENTAGE"
	ProfitPartial    ProfitKind = "PARTIAL" // percentage trigger that closes only part of the size
)

// StopLossConfig is the per-position stop-loss rule. TriggerPrice caches the
// resolved trigger; for trailing stops it ratchets favorably and is never
// loosened.
type StopLossConfig struct {
	Kind            StopKind
	Value           float64 // price for FIXED, percent for PERCENTAGE/TRAILING
	Enabled         bool
	TriggerPrice    float64
	TrailingPercent float64 // offset for TRAILING; falls back to Value when zero
}

// TakeProfitConfig is the per-position take-profit rule.
type TakeProfitConfig struct {
	Kind            ProfitKind
	Value           float64
	Enabled         bool
	TriggerPrice    float64
	ClosePercentage float64 // PARTIAL: fraction of the size to close, in percent
}

// PositionRiskSettings bundles the risk rules attached to one position.
// Created on the first setStopLoss/setTakeProfit call for a position and
// updated in place afterwards.
type PositionRiskSettings struct {
	PositionID string
	StopLoss   *StopLossConfig
	TakeProfit *TakeProfitConfig
	UpdatedAt  time.Time
}

// RiskMetrics is the recomputed-on-demand portfolio snapshot. Nothing here
// is persisted by the risk manager itself; the store keeps history if the
// caller wants it.
type RiskMetrics struct {
	TotalExposure   float64
	MaxPositionSize float64 // largest single-position exposure
	CurrentDrawdown float64 // currency units below the peak
	MaxDrawdown     float64 // worst drawdown ever observed
	DrawdownPercent float64
	PositionCount   int
	UnrealizedPnL   float64
	RealizedPnL     float64
	TotalPnL        float64
	RiskScore       float64 // 0-100 composite
	Timestamp       time.Time
}

// AlertLevel grades a risk alert.
type AlertLevel string

const (
	AlertInfo     AlertLevel = "INFO"
	AlertWarning  AlertLevel = "WARNING"
	AlertCritical AlertLevel = "CRITICAL"
)

// AlertKind names what tripped.
type AlertKind string

const (
	AlertDrawdown      AlertKind = "DRAWDOWN"
	AlertExposure      AlertKind = "EXPOSURE"
	AlertPositionCount AlertKind = "POSITION_COUNT"
	AlertStopLoss      AlertKind = "STOP_LOSS"
	AlertTakeProfit    AlertKind = "TAKE_PROFIT"
	AlertDailyLoss     AlertKind = "DAILY_LOSS"
)

// RiskAlert is one emitted risk event. The risk manager only emits these;
// acting on them (closing positions, halting strategies) belongs to
// whoever consumes the event stream.
type RiskAlert struct {
	Level      AlertLevel
	Kind       AlertKind
	Message    string
	PositionID string // empty for portfolio-level alerts
	Value      float64
	Limit      float64
	Timestamp  time.Time
}
