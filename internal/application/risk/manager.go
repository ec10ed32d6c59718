package risk

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/alejandrodnm/edgebot/internal/domain"
	"github.com/alejandrodnm/edgebot/internal/ports"
)

// riskScore band weights. Each term is capped before summing; the sum is
// capped at 100.
const (
	scoreExposureWeight      = 30.0
	scoreConcentrationWeight = 20.0
	scoreDrawdownWeight      = 30.0
	scoreCountWeight         = 10.0
	scoreDailyLossWeight     = 10.0
)

// Alerting thresholds relative to the hard limits.
const (
	drawdownWarnRatio = 0.80
	exposureWarnRatio = 0.90
)

// Manager holds the portfolio limits and the running risk aggregates: the
// peak portfolio value (a monotone high-water mark), the worst drawdown
// observed, and the PnL accumulated since the last calendar-day boundary.
//
// Gates reject, they never clamp. Alerts are emitted for the event stream;
// acting on them (halting, closing) belongs to the consumer. Everything is
// guarded by one mutex because both the engine loop and the risk ticker
// call in.
type Manager struct {
	mu sync.Mutex

	limits         domain.RiskLimits
	initialCapital float64

	peakValue   float64
	lastValue   float64
	maxDrawdown float64
	dailyPnL    float64
	dayStart    time.Time

	settings map[string]*domain.PositionRiskSettings

	callbacks []func(domain.RiskAlert)
	sink      ports.EventSink

	now func() time.Time
}

// NewManager creates a manager seeded with the starting capital as the
// initial portfolio peak. A nil sink disables event publication; callbacks
// registered through OnAlert still fire.
func NewManager(limits domain.RiskLimits, initialCapital float64, sink ports.EventSink) *Manager {
	m := &Manager{
		limits:         limits,
		initialCapital: initialCapital,
		peakValue:      initialCapital,
		lastValue:      initialCapital,
		settings:       make(map[string]*domain.PositionRiskSettings),
		sink:           sink,
		now:            time.Now,
	}
	m.dayStart = m.now()
	return m
}

// Limits returns a copy of the current limit configuration.
func (m *Manager) Limits() domain.RiskLimits {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.limits
}

// SetLimits replaces the limit configuration wholesale. Partial updates go
// through domain.RiskLimits.Merge on the caller's side.
func (m *Manager) SetLimits(limits domain.RiskLimits) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.limits = limits
}

// OnAlert registers a callback invoked for every emitted alert, in
// registration order, after the event sink.
func (m *Manager) OnAlert(fn func(domain.RiskAlert)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callbacks = append(m.callbacks, fn)
}

// UpdateDailyPnL folds one trade's realized PnL into the daily total,
// resetting first if the calendar day rolled over.
func (m *Manager) UpdateDailyPnL(delta float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.maybeResetDayLocked()
	m.dailyPnL += delta
}

// DailyPnL returns the PnL accumulated since the last day boundary.
func (m *Manager) DailyPnL() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.maybeResetDayLocked()
	return m.dailyPnL
}

// maybeResetDayLocked zeroes the daily PnL when the wall-clock date has
// changed since the last reset. Field comparison, not a 24h timer: a
// process started at 23:50 resets ten minutes in.
func (m *Manager) maybeResetDayLocked() {
	now := m.now()
	y1, mo1, d1 := m.dayStart.Date()
	y2, mo2, d2 := now.Date()
	if y1 != y2 || mo1 != mo2 || d1 != d2 {
		slog.Info("daily PnL reset",
			"previous", fmt.Sprintf("%.4f", m.dailyPnL),
			"day", now.Format("2006-01-02"),
		)
		m.dailyPnL = 0
		m.dayStart = now
	}
}

// --- Gates ---

// CheckPositionLimit gates one proposed position's notional value.
func (m *Manager) CheckPositionLimit(notional float64) domain.CheckResult {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.checkPositionLimitLocked(notional)
}

func (m *Manager) checkPositionLimitLocked(notional float64) domain.CheckResult {
	if m.limits.MaxPositionSize > 0 && notional > m.limits.MaxPositionSize {
		return domain.Fail(
			map[string]float64{"position_size": notional, "limit": m.limits.MaxPositionSize},
			"position size %.2f exceeds limit %.2f", notional, m.limits.MaxPositionSize,
		)
	}
	return domain.Pass()
}

// CheckExposureLimit gates the portfolio exposure after adding a proposed
// notional on top of the open positions.
func (m *Manager) CheckExposureLimit(positions []domain.Position, notional float64) domain.CheckResult {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.checkExposureLimitLocked(positions, notional)
}

func (m *Manager) checkExposureLimitLocked(positions []domain.Position, notional float64) domain.CheckResult {
	if m.limits.MaxTotalExposure <= 0 {
		return domain.Pass()
	}
	total := notional
	for _, p := range positions {
		total += p.Exposure()
	}
	if total > m.limits.MaxTotalExposure {
		return domain.Fail(
			map[string]float64{"total_exposure": total, "limit": m.limits.MaxTotalExposure},
			"total exposure %.2f exceeds limit %.2f", total, m.limits.MaxTotalExposure,
		)
	}
	return domain.Pass()
}

// CheckPerMarketExposure gates the exposure concentrated in one market.
func (m *Manager) CheckPerMarketExposure(positions []domain.Position, marketID string, notional float64) domain.CheckResult {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.checkPerMarketExposureLocked(positions, marketID, notional)
}

func (m *Manager) checkPerMarketExposureLocked(positions []domain.Position, marketID string, notional float64) domain.CheckResult {
	if m.limits.MaxPerMarketExposure <= 0 {
		return domain.Pass()
	}
	total := notional
	for _, p := range positions {
		if p.MarketID == marketID {
			total += p.Exposure()
		}
	}
	if total > m.limits.MaxPerMarketExposure {
		return domain.Fail(
			map[string]float64{"market_exposure": total, "limit": m.limits.MaxPerMarketExposure},
			"exposure %.2f in market %s exceeds limit %.2f", total, marketID, m.limits.MaxPerMarketExposure,
		)
	}
	return domain.Pass()
}

// CheckPositionCount gates opening one more position.
func (m *Manager) CheckPositionCount(positions []domain.Position) domain.CheckResult {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.checkPositionCountLocked(positions)
}

func (m *Manager) checkPositionCountLocked(positions []domain.Position) domain.CheckResult {
	if m.limits.MaxPositions > 0 && len(positions) >= m.limits.MaxPositions {
		return domain.Fail(
			map[string]float64{"position_count": float64(len(positions)), "limit": float64(m.limits.MaxPositions)},
			"position count %d at limit %d", len(positions), m.limits.MaxPositions,
		)
	}
	return domain.Pass()
}

// CheckDrawdown gates on the decline from the high-water mark. Pure: it
// reads the stored peak but never advances it; EvaluateRisk owns that.
func (m *Manager) CheckDrawdown(positions []domain.Position) domain.CheckResult {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.checkDrawdownLocked(positions)
}

func (m *Manager) checkDrawdownLocked(positions []domain.Position) domain.CheckResult {
	if m.limits.MaxDrawdownPercent <= 0 || m.peakValue <= 0 {
		return domain.Pass()
	}
	value := m.portfolioValue(positions)
	drawdown := m.peakValue - value
	if drawdown <= 0 {
		return domain.Pass()
	}
	pct := drawdown / m.peakValue * 100
	if pct > m.limits.MaxDrawdownPercent {
		return domain.Fail(
			map[string]float64{"drawdown_percent": pct, "limit": m.limits.MaxDrawdownPercent},
			"drawdown %.2f%% exceeds limit %.2f%%", pct, m.limits.MaxDrawdownPercent,
		)
	}
	return domain.Pass()
}

// CheckDailyLoss gates on the loss accumulated since the day boundary.
func (m *Manager) CheckDailyLoss() domain.CheckResult {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.maybeResetDayLocked()
	return m.checkDailyLossLocked()
}

func (m *Manager) checkDailyLossLocked() domain.CheckResult {
	if m.limits.DailyLossLimit <= 0 || m.dailyPnL >= 0 {
		return domain.Pass()
	}
	loss := -m.dailyPnL
	if loss >= m.limits.DailyLossLimit {
		return domain.Fail(
			map[string]float64{"daily_loss": loss, "limit": m.limits.DailyLossLimit},
			"daily loss %.2f exceeds limit %.2f", loss, m.limits.DailyLossLimit,
		)
	}
	return domain.Pass()
}

// CheckAllLimits runs every gate against a proposed trade and returns the
// first failure. notional is the proposed position value, marketID the
// market it would concentrate in.
func (m *Manager) CheckAllLimits(positions []domain.Position, notional float64, marketID string) domain.CheckResult {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.maybeResetDayLocked()

	checks := []domain.CheckResult{
		m.checkPositionLimitLocked(notional),
		m.checkExposureLimitLocked(positions, notional),
		m.checkPerMarketExposureLocked(positions, marketID, notional),
		m.checkPositionCountLocked(positions),
		m.checkDrawdownLocked(positions),
		m.checkDailyLossLocked(),
	}
	for _, c := range checks {
		if !c.OK {
			return c
		}
	}
	return domain.Pass()
}

// --- Metrics ---

// EvaluateRisk recomputes the full portfolio snapshot from the live
// position list, advancing the high-water mark and the max-drawdown floor
// as side effects.
func (m *Manager) EvaluateRisk(positions []domain.Position) domain.RiskMetrics {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.maybeResetDayLocked()
	return m.evaluateRiskLocked(positions)
}

func (m *Manager) evaluateRiskLocked(positions []domain.Position) domain.RiskMetrics {
	var exposure, maxSingle, unrealized, realized float64
	for _, p := range positions {
		e := p.Exposure()
		exposure += e
		if e > maxSingle {
			maxSingle = e
		}
		unrealized += p.UnrealizedPnL()
		realized += p.RealizedPnL
	}

	value := m.initialCapital + realized + unrealized
	if value > m.peakValue {
		m.peakValue = value
	}
	m.lastValue = value

	drawdown := m.peakValue - value
	if drawdown < 0 {
		drawdown = 0
	}
	if drawdown > m.maxDrawdown {
		m.maxDrawdown = drawdown
	}
	ddPct := 0.0
	if m.peakValue > 0 {
		ddPct = drawdown / m.peakValue * 100
	}

	return domain.RiskMetrics{
		TotalExposure:   exposure,
		MaxPositionSize: maxSingle,
		CurrentDrawdown: drawdown,
		MaxDrawdown:     m.maxDrawdown,
		DrawdownPercent: ddPct,
		PositionCount:   len(positions),
		UnrealizedPnL:   unrealized,
		RealizedPnL:     realized,
		TotalPnL:        realized + unrealized,
		RiskScore:       m.riskScoreLocked(exposure, maxSingle, ddPct, len(positions)),
		Timestamp:       m.now(),
	}
}

// riskScoreLocked composes the 0-100 score: exposure utilization up to 30,
// concentration up to 20, drawdown severity up to 30, position-count
// utilization up to 10, daily-loss severity up to 10.
func (m *Manager) riskScoreLocked(exposure, maxSingle, ddPct float64, count int) float64 {
	score := 0.0
	if m.limits.MaxTotalExposure > 0 {
		score += math.Min(exposure/m.limits.MaxTotalExposure, 1) * scoreExposureWeight
	}
	if exposure > 0 {
		score += maxSingle / exposure * scoreConcentrationWeight
	}
	if m.limits.MaxDrawdownPercent > 0 {
		score += math.Min(ddPct/m.limits.MaxDrawdownPercent, 1) * scoreDrawdownWeight
	}
	if m.limits.MaxPositions > 0 {
		score += math.Min(float64(count)/float64(m.limits.MaxPositions), 1) * scoreCountWeight
	}
	if m.dailyPnL < 0 && m.limits.DailyLossLimit > 0 {
		score += math.Min(-m.dailyPnL/m.limits.DailyLossLimit, 1) * scoreDailyLossWeight
	}
	return math.Min(score, 100)
}

func (m *Manager) portfolioValue(positions []domain.Position) float64 {
	value := m.initialCapital
	for _, p := range positions {
		value += p.RealizedPnL + p.UnrealizedPnL()
	}
	return value
}

// --- Stop-loss / take-profit ---

// SetStopLoss attaches or replaces the stop-loss rule for a position,
// resolving the trigger price from the position's entry (PERCENTAGE) or
// current (TRAILING) price when the config does not carry one.
func (m *Manager) SetStopLoss(pos domain.Position, cfg domain.StopLossConfig) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if cfg.TriggerPrice <= 0 {
		switch cfg.Kind {
		case domain.StopFixed:
			cfg.TriggerPrice = cfg.Value
		case domain.StopPercentage:
			if pos.Side == domain.PositionLong {
				cfg.TriggerPrice = pos.AvgEntryPrice * (1 - cfg.Value/100)
			} else {
				cfg.TriggerPrice = pos.AvgEntryPrice * (1 + cfg.Value/100)
			}
		case domain.StopTrailing:
			offset := cfg.TrailingPercent
			if offset <= 0 {
				offset = cfg.Value
			}
			if pos.Side == domain.PositionLong {
				cfg.TriggerPrice = pos.CurrentPrice * (1 - offset/100)
			} else {
				cfg.TriggerPrice = pos.CurrentPrice * (1 + offset/100)
			}
		}
	}

	s := m.settingsForLocked(pos.ID)
	s.StopLoss = &cfg
	s.UpdatedAt = m.now()
}

// SetTakeProfit attaches or replaces the take-profit rule for a position.
func (m *Manager) SetTakeProfit(pos domain.Position, cfg domain.TakeProfitConfig) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if cfg.TriggerPrice <= 0 {
		switch cfg.Kind {
		case domain.ProfitFixed:
			cfg.TriggerPrice = cfg.Value
		case domain.ProfitPercentage, domain.ProfitPartial:
			if pos.Side == domain.PositionLong {
				cfg.TriggerPrice = pos.AvgEntryPrice * (1 + cfg.Value/100)
			} else {
				cfg.TriggerPrice = pos.AvgEntryPrice * (1 - cfg.Value/100)
			}
		}
	}

	s := m.settingsForLocked(pos.ID)
	s.TakeProfit = &cfg
	s.UpdatedAt = m.now()
}

func (m *Manager) settingsForLocked(positionID string) *domain.PositionRiskSettings {
	s, ok := m.settings[positionID]
	if !ok {
		s = &domain.PositionRiskSettings{PositionID: positionID}
		m.settings[positionID] = s
	}
	return s
}

// Settings returns a copy of the risk rules attached to a position.
func (m *Manager) Settings(positionID string) (domain.PositionRiskSettings, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.settings[positionID]
	if !ok {
		return domain.PositionRiskSettings{}, false
	}
	out := domain.PositionRiskSettings{PositionID: s.PositionID, UpdatedAt: s.UpdatedAt}
	if s.StopLoss != nil {
		sl := *s.StopLoss
		out.StopLoss = &sl
	}
	if s.TakeProfit != nil {
		tp := *s.TakeProfit
		out.TakeProfit = &tp
	}
	return out, true
}

// RemoveSettings drops every rule attached to a position, typically after
// the position closed.
func (m *Manager) RemoveSettings(positionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.settings, positionID)
}

// CheckStopLoss reports whether the position's stop-loss is triggered at
// its current price. Trailing stops are ratcheted first: the stored
// trigger only ever moves in the position's favor.
func (m *Manager) CheckStopLoss(pos domain.Position) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	hit, _ := m.stopLossLocked(pos)
	return hit
}

func (m *Manager) stopLossLocked(pos domain.Position) (bool, float64) {
	s, ok := m.settings[pos.ID]
	if !ok || s.StopLoss == nil || !s.StopLoss.Enabled {
		return false, 0
	}
	sl := s.StopLoss

	if sl.Kind == domain.StopTrailing {
		offset := sl.TrailingPercent
		if offset <= 0 {
			offset = sl.Value
		}
		if offset > 0 {
			if pos.Side == domain.PositionLong {
				candidate := pos.CurrentPrice * (1 - offset/100)
				if candidate > sl.TriggerPrice {
					sl.TriggerPrice = candidate
				}
			} else {
				candidate := pos.CurrentPrice * (1 + offset/100)
				if sl.TriggerPrice <= 0 || candidate < sl.TriggerPrice {
					sl.TriggerPrice = candidate
				}
			}
		}
	}

	if sl.TriggerPrice <= 0 {
		return false, 0
	}
	if pos.Side == domain.PositionLong {
		return pos.CurrentPrice <= sl.TriggerPrice, sl.TriggerPrice
	}
	return pos.CurrentPrice >= sl.TriggerPrice, sl.TriggerPrice
}

// CheckTakeProfit reports whether the position's take-profit is triggered
// at its current price.
func (m *Manager) CheckTakeProfit(pos domain.Position) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	hit, _ := m.takeProfitLocked(pos)
	return hit
}

func (m *Manager) takeProfitLocked(pos domain.Position) (bool, float64) {
	s, ok := m.settings[pos.ID]
	if !ok || s.TakeProfit == nil || !s.TakeProfit.Enabled || s.TakeProfit.TriggerPrice <= 0 {
		return false, 0
	}
	tp := s.TakeProfit
	if pos.Side == domain.PositionLong {
		return pos.CurrentPrice >= tp.TriggerPrice, tp.TriggerPrice
	}
	return pos.CurrentPrice <= tp.TriggerPrice, tp.TriggerPrice
}

// --- Alerting ---

// EvaluateAllPositions runs one full risk cycle: refresh the aggregate
// metrics, alert on portfolio thresholds, then walk every position's
// stop-loss and take-profit. It only emits; nothing is closed or cancelled
// here.
func (m *Manager) EvaluateAllPositions(ctx context.Context, positions []domain.Position) []domain.RiskAlert {
	m.mu.Lock()
	m.maybeResetDayLocked()
	metrics := m.evaluateRiskLocked(positions)
	limits := m.limits

	var alerts []domain.RiskAlert
	if limits.MaxDrawdownPercent > 0 && metrics.DrawdownPercent > 0 {
		switch {
		case metrics.DrawdownPercent >= limits.MaxDrawdownPercent:
			alerts = append(alerts, m.newAlertLocked(domain.AlertCritical, domain.AlertDrawdown, "",
				metrics.DrawdownPercent, limits.MaxDrawdownPercent,
				"drawdown %.2f%% breached the %.2f%% limit", metrics.DrawdownPercent, limits.MaxDrawdownPercent))
		case metrics.DrawdownPercent >= limits.MaxDrawdownPercent*drawdownWarnRatio:
			alerts = append(alerts, m.newAlertLocked(domain.AlertWarning, domain.AlertDrawdown, "",
				metrics.DrawdownPercent, limits.MaxDrawdownPercent,
				"drawdown %.2f%% approaching the %.2f%% limit", metrics.DrawdownPercent, limits.MaxDrawdownPercent))
		}
	}
	if limits.MaxPositions > 0 && metrics.PositionCount >= limits.MaxPositions {
		alerts = append(alerts, m.newAlertLocked(domain.AlertWarning, domain.AlertPositionCount, "",
			float64(metrics.PositionCount), float64(limits.MaxPositions),
			"position count %d at limit %d", metrics.PositionCount, limits.MaxPositions))
	}
	if limits.MaxTotalExposure > 0 && metrics.TotalExposure >= limits.MaxTotalExposure*exposureWarnRatio {
		alerts = append(alerts, m.newAlertLocked(domain.AlertWarning, domain.AlertExposure, "",
			metrics.TotalExposure, limits.MaxTotalExposure,
			"exposure %.2f at %.0f%% of the %.2f limit", metrics.TotalExposure,
			metrics.TotalExposure/limits.MaxTotalExposure*100, limits.MaxTotalExposure))
	}
	if limits.DailyLossLimit > 0 && m.dailyPnL < 0 && -m.dailyPnL >= limits.DailyLossLimit {
		alerts = append(alerts, m.newAlertLocked(domain.AlertCritical, domain.AlertDailyLoss, "",
			-m.dailyPnL, limits.DailyLossLimit,
			"daily loss %.2f breached the %.2f limit", -m.dailyPnL, limits.DailyLossLimit))
	}

	for _, pos := range positions {
		if hit, trigger := m.stopLossLocked(pos); hit {
			alerts = append(alerts, m.newAlertLocked(domain.AlertCritical, domain.AlertStopLoss, pos.ID,
				pos.CurrentPrice, trigger,
				"stop-loss hit on %s at %.4f (trigger %.4f)", pos.ID, pos.CurrentPrice, trigger))
		}
		if hit, trigger := m.takeProfitLocked(pos); hit {
			alerts = append(alerts, m.newAlertLocked(domain.AlertInfo, domain.AlertTakeProfit, pos.ID,
				pos.CurrentPrice, trigger,
				"take-profit hit on %s at %.4f (trigger %.4f)", pos.ID, pos.CurrentPrice, trigger))
		}
	}
	callbacks := make([]func(domain.RiskAlert), len(m.callbacks))
	copy(callbacks, m.callbacks)
	m.mu.Unlock()

	for _, a := range alerts {
		m.deliver(ctx, a, callbacks)
	}
	return alerts
}

func (m *Manager) newAlertLocked(level domain.AlertLevel, kind domain.AlertKind, positionID string,
	value, limit float64, format string, args ...any) domain.RiskAlert {
	return domain.RiskAlert{
		Level:      level,
		Kind:       kind,
		Message:    fmt.Sprintf(format, args...),
		PositionID: positionID,
		Value:      value,
		Limit:      limit,
		Timestamp:  m.now(),
	}
}

// deliver fans an alert out to the log, the event sink and the registered
// callbacks. Runs outside the mutex so a slow listener cannot stall gate
// checks.
func (m *Manager) deliver(ctx context.Context, alert domain.RiskAlert, callbacks []func(domain.RiskAlert)) {
	switch alert.Level {
	case domain.AlertCritical:
		slog.Error("risk alert", "kind", alert.Kind, "msg", alert.Message)
	case domain.AlertWarning:
		slog.Warn("risk alert", "kind", alert.Kind, "msg", alert.Message)
	default:
		slog.Info("risk alert", "kind", alert.Kind, "msg", alert.Message)
	}
	if m.sink != nil {
		m.sink.Publish(ctx, domain.NewEvent(domain.EventRiskAlert, "risk", alert))
	}
	for _, fn := range callbacks {
		fn(alert)
	}
}
