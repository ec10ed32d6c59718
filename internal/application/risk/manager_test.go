package risk

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alejandrodnm/edgebot/internal/domain"
)

func longPos(id string, size, entry, current float64) domain.Position {
	return domain.Position{
		ID:            id,
		MarketID:      "mkt-" + id,
		TokenID:       "tok-" + id,
		Side:          domain.PositionLong,
		Size:          size,
		AvgEntryPrice: entry,
		CurrentPrice:  current,
		OpenedAt:      time.Now(),
	}
}

func shortPos(id string, size, entry, current float64) domain.Position {
	p := longPos(id, size, entry, current)
	p.Side = domain.PositionShort
	return p
}

// recordingSink captures published events for assertions.
type recordingSink struct {
	mu     sync.Mutex
	events []domain.Event
}

func (r *recordingSink) Publish(ctx context.Context, e domain.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recordingSink) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

// --- Gates ---

func TestManager_CheckPositionLimit(t *testing.T) {
	m := NewManager(domain.RiskLimits{MaxPositionSize: 500}, 1000, nil)

	assert.True(t, m.CheckPositionLimit(400).OK)
	assert.True(t, m.CheckPositionLimit(500).OK) // at the limit is allowed

	res := m.CheckPositionLimit(600)
	assert.False(t, res.OK)
	assert.Contains(t, res.Reason, "exceeds limit")
	assert.Equal(t, 600.0, res.Metrics["position_size"])
	assert.Equal(t, 500.0, res.Metrics["limit"])
}

func TestManager_CheckExposureLimit(t *testing.T) {
	m := NewManager(domain.RiskLimits{MaxTotalExposure: 500}, 1000, nil)
	positions := []domain.Position{
		longPos("a", 100, 2.0, 2.0), // exposure 200
		longPos("b", 100, 1.0, 1.0), // exposure 100
	}

	assert.True(t, m.CheckExposureLimit(positions, 150).OK) // 450 total

	res := m.CheckExposureLimit(positions, 250) // 550 total
	assert.False(t, res.OK)
	assert.Contains(t, res.Reason, "exceeds limit")
	assert.Equal(t, 550.0, res.Metrics["total_exposure"])
}

func TestManager_CheckPerMarketExposure(t *testing.T) {
	m := NewManager(domain.RiskLimits{MaxPerMarketExposure: 300}, 1000, nil)
	positions := []domain.Position{longPos("a", 100, 2.0, 2.0)} // 200 in mkt-a

	assert.True(t, m.CheckPerMarketExposure(positions, "mkt-a", 100).OK)
	assert.True(t, m.CheckPerMarketExposure(positions, "mkt-other", 250).OK) // different market

	res := m.CheckPerMarketExposure(positions, "mkt-a", 150)
	assert.False(t, res.OK)
	assert.Contains(t, res.Reason, "mkt-a")
}

func TestManager_CheckPositionCount(t *testing.T) {
	m := NewManager(domain.RiskLimits{MaxPositions: 2}, 1000, nil)

	assert.True(t, m.CheckPositionCount([]domain.Position{longPos("a", 1, 1, 1)}).OK)

	two := []domain.Position{longPos("a", 1, 1, 1), longPos("b", 1, 1, 1)}
	res := m.CheckPositionCount(two)
	assert.False(t, res.OK)
	assert.Contains(t, res.Reason, "at limit")
}

func TestManager_CheckDrawdownFailsPastLimit(t *testing.T) {
	// Peak 1000 (initial capital), unrealized -150 → value 850 →
	// drawdown 15% against a 10% limit.
	m := NewManager(domain.RiskLimits{MaxDrawdownPercent: 10}, 1000, nil)
	positions := []domain.Position{longPos("a", 100, 2.0, 0.5)} // -150 unrealized

	res := m.CheckDrawdown(positions)
	assert.False(t, res.OK)
	assert.Contains(t, res.Reason, "exceeds limit")
	assert.InDelta(t, 15.0, res.Metrics["drawdown_percent"], 0.0001)
}

func TestManager_CheckDrawdownPassesInsideLimit(t *testing.T) {
	m := NewManager(domain.RiskLimits{MaxDrawdownPercent: 10}, 1000, nil)
	positions := []domain.Position{longPos("a", 100, 2.0, 1.5)} // -50 → 5%

	assert.True(t, m.CheckDrawdown(positions).OK)
}

func TestManager_CheckDailyLoss(t *testing.T) {
	m := NewManager(domain.RiskLimits{DailyLossLimit: 400}, 1000, nil)

	m.UpdateDailyPnL(-200)
	assert.True(t, m.CheckDailyLoss().OK)

	m.UpdateDailyPnL(-200) // -400 total, at the limit
	res := m.CheckDailyLoss()
	assert.False(t, res.OK)
	assert.Contains(t, res.Reason, "exceeds limit")
	assert.Equal(t, 400.0, res.Metrics["daily_loss"])
}

func TestManager_DailyPnLResetsOnCalendarDay(t *testing.T) {
	m := NewManager(domain.RiskLimits{DailyLossLimit: 400}, 1000, nil)
	day1 := time.Date(2025, 6, 10, 23, 50, 0, 0, time.UTC)
	m.now = func() time.Time { return day1 }
	m.dayStart = day1

	m.UpdateDailyPnL(-500)
	assert.False(t, m.CheckDailyLoss().OK)
	assert.Equal(t, -500.0, m.DailyPnL())

	// Ten minutes later it is a new calendar day; the counter resets even
	// though far less than 24h passed.
	m.now = func() time.Time { return day1.Add(10 * time.Minute) }
	assert.Equal(t, 0.0, m.DailyPnL())
	assert.True(t, m.CheckDailyLoss().OK)
}

func TestManager_CheckAllLimitsReturnsFirstFailure(t *testing.T) {
	m := NewManager(domain.RiskLimits{
		MaxPositionSize:  500,
		MaxTotalExposure: 1000,
		MaxPositions:     5,
	}, 1000, nil)
	positions := []domain.Position{longPos("a", 100, 2.0, 2.0)}

	assert.True(t, m.CheckAllLimits(positions, 300, "mkt-x").OK)

	res := m.CheckAllLimits(positions, 600, "mkt-x")
	assert.False(t, res.OK)
	assert.Contains(t, res.Reason, "position size")
}

func TestManager_ZeroLimitsMeanNoLimits(t *testing.T) {
	m := NewManager(domain.RiskLimits{}, 1000, nil)
	positions := []domain.Position{longPos("a", 10000, 1.0, 0.2)}

	assert.True(t, m.CheckAllLimits(positions, 1e9, "mkt-a").OK)
}

// --- Metrics ---

func TestManager_EvaluateRiskSnapshot(t *testing.T) {
	m := NewManager(domain.RiskLimits{
		MaxTotalExposure:   1000,
		MaxDrawdownPercent: 10,
		MaxPositions:       10,
		DailyLossLimit:     100,
	}, 1000, nil)
	m.UpdateDailyPnL(-50)
	positions := []domain.Position{
		longPos("a", 100, 3.0, 3.0), // exposure 300
		longPos("b", 100, 1.0, 1.0), // exposure 100
	}

	metrics := m.EvaluateRisk(positions)

	assert.Equal(t, 400.0, metrics.TotalExposure)
	assert.Equal(t, 300.0, metrics.MaxPositionSize)
	assert.Equal(t, 2, metrics.PositionCount)
	assert.Equal(t, 0.0, metrics.UnrealizedPnL)
	assert.Equal(t, 0.0, metrics.CurrentDrawdown)
	// Score: exposure 400/1000×30=12, concentration 300/400×20=15,
	// drawdown 0, count 2/10×10=2, daily loss 50/100×10=5 → 34.
	assert.InDelta(t, 34.0, metrics.RiskScore, 0.0001)
}

func TestManager_PeakIsMonotoneHighWaterMark(t *testing.T) {
	m := NewManager(domain.RiskLimits{MaxDrawdownPercent: 50}, 1000, nil)

	up := []domain.Position{longPos("a", 100, 1.0, 3.0)} // +200 → value 1200
	metrics := m.EvaluateRisk(up)
	assert.Equal(t, 0.0, metrics.CurrentDrawdown)

	flat := []domain.Position{longPos("a", 100, 1.0, 1.0)} // value back to 1000
	metrics = m.EvaluateRisk(flat)
	assert.Equal(t, 200.0, metrics.CurrentDrawdown) // measured against peak 1200
	assert.InDelta(t, 16.6667, metrics.DrawdownPercent, 0.001)
	assert.Equal(t, 200.0, metrics.MaxDrawdown)

	// Recovery shrinks the current drawdown but never the max.
	up = []domain.Position{longPos("a", 100, 1.0, 1.5)} // value 1050
	metrics = m.EvaluateRisk(up)
	assert.Equal(t, 150.0, metrics.CurrentDrawdown)
	assert.Equal(t, 200.0, metrics.MaxDrawdown)
}

func TestManager_RiskScoreEachTermCapped(t *testing.T) {
	// Every band pinned at its maximum sums to exactly 100.
	m := NewManager(domain.RiskLimits{
		MaxTotalExposure:   100,
		MaxDrawdownPercent: 5,
		MaxPositions:       1,
		DailyLossLimit:     10,
	}, 1000, nil)
	m.UpdateDailyPnL(-20)
	positions := []domain.Position{longPos("a", 200, 2.5, 1.0)} // exposure 200, unrealized -300

	metrics := m.EvaluateRisk(positions)

	assert.InDelta(t, 30.0, metrics.DrawdownPercent, 0.0001)
	assert.Equal(t, 100.0, metrics.RiskScore)
}

// --- Stop-loss / take-profit ---

func TestManager_StopLossSideMirroring(t *testing.T) {
	m := NewManager(domain.RiskLimits{}, 1000, nil)

	long := longPos("l", 100, 0.50, 0.50)
	m.SetStopLoss(long, domain.StopLossConfig{Kind: domain.StopFixed, Value: 0.45, Enabled: true})
	long.CurrentPrice = 0.46
	assert.False(t, m.CheckStopLoss(long))
	long.CurrentPrice = 0.44
	assert.True(t, m.CheckStopLoss(long))

	short := shortPos("s", 100, 0.50, 0.50)
	m.SetStopLoss(short, domain.StopLossConfig{Kind: domain.StopFixed, Value: 0.55, Enabled: true})
	short.CurrentPrice = 0.54
	assert.False(t, m.CheckStopLoss(short))
	short.CurrentPrice = 0.56
	assert.True(t, m.CheckStopLoss(short))
}

func TestManager_PercentageStopResolvesTriggerFromEntry(t *testing.T) {
	m := NewManager(domain.RiskLimits{}, 1000, nil)

	long := longPos("l", 100, 0.50, 0.50)
	m.SetStopLoss(long, domain.StopLossConfig{Kind: domain.StopPercentage, Value: 10, Enabled: true})
	s, ok := m.Settings("l")
	require.True(t, ok)
	require.NotNil(t, s.StopLoss)
	assert.InDelta(t, 0.45, s.StopLoss.TriggerPrice, 0.0001)

	short := shortPos("s", 100, 0.50, 0.50)
	m.SetStopLoss(short, domain.StopLossConfig{Kind: domain.StopPercentage, Value: 10, Enabled: true})
	s, ok = m.Settings("s")
	require.True(t, ok)
	assert.InDelta(t, 0.55, s.StopLoss.TriggerPrice, 0.0001)
}

func TestManager_TrailingStopRatchetsAndNeverLoosens(t *testing.T) {
	m := NewManager(domain.RiskLimits{}, 1000, nil)
	pos := longPos("t", 100, 1.00, 1.00)
	m.SetStopLoss(pos, domain.StopLossConfig{Kind: domain.StopTrailing, TrailingPercent: 10, Enabled: true})

	trigger := func() float64 {
		s, ok := m.Settings("t")
		require.True(t, ok)
		return s.StopLoss.TriggerPrice
	}
	assert.InDelta(t, 0.90, trigger(), 0.0001)

	// Rising prices ratchet the trigger up.
	pos.CurrentPrice = 1.20
	assert.False(t, m.CheckStopLoss(pos))
	assert.InDelta(t, 1.08, trigger(), 0.0001)

	pos.CurrentPrice = 1.50
	assert.False(t, m.CheckStopLoss(pos))
	assert.InDelta(t, 1.35, trigger(), 0.0001)

	// A pullback must not loosen the trigger.
	pos.CurrentPrice = 1.40
	assert.False(t, m.CheckStopLoss(pos))
	assert.InDelta(t, 1.35, trigger(), 0.0001)

	// Falling through the ratcheted trigger fires.
	pos.CurrentPrice = 1.30
	assert.True(t, m.CheckStopLoss(pos))
}

func TestManager_TrailingStopShortSide(t *testing.T) {
	m := NewManager(domain.RiskLimits{}, 1000, nil)
	pos := shortPos("t", 100, 1.00, 1.00)
	m.SetStopLoss(pos, domain.StopLossConfig{Kind: domain.StopTrailing, TrailingPercent: 10, Enabled: true})

	// Falling prices (favorable for a short) pull the trigger down.
	pos.CurrentPrice = 0.80
	assert.False(t, m.CheckStopLoss(pos))
	s, _ := m.Settings("t")
	assert.InDelta(t, 0.88, s.StopLoss.TriggerPrice, 0.0001)

	// A bounce above the trigger fires.
	pos.CurrentPrice = 0.90
	assert.True(t, m.CheckStopLoss(pos))
}

func TestManager_TakeProfitSideMirroring(t *testing.T) {
	m := NewManager(domain.RiskLimits{}, 1000, nil)

	long := longPos("l", 100, 0.50, 0.50)
	m.SetTakeProfit(long, domain.TakeProfitConfig{Kind: domain.ProfitPercentage, Value: 20, Enabled: true})
	long.CurrentPrice = 0.59
	assert.False(t, m.CheckTakeProfit(long))
	long.CurrentPrice = 0.61 // trigger 0.60
	assert.True(t, m.CheckTakeProfit(long))

	short := shortPos("s", 100, 0.50, 0.50)
	m.SetTakeProfit(short, domain.TakeProfitConfig{Kind: domain.ProfitPercentage, Value: 20, Enabled: true})
	short.CurrentPrice = 0.41
	assert.False(t, m.CheckTakeProfit(short))
	short.CurrentPrice = 0.39 // trigger 0.40
	assert.True(t, m.CheckTakeProfit(short))
}

func TestManager_DisabledOrMissingRulesNeverFire(t *testing.T) {
	m := NewManager(domain.RiskLimits{}, 1000, nil)
	pos := longPos("p", 100, 0.50, 0.01)

	assert.False(t, m.CheckStopLoss(pos)) // no settings at all

	m.SetStopLoss(pos, domain.StopLossConfig{Kind: domain.StopFixed, Value: 0.45, Enabled: false})
	assert.False(t, m.CheckStopLoss(pos))

	m.RemoveSettings("p")
	_, ok := m.Settings("p")
	assert.False(t, ok)
}

// --- Alerting ---

func TestManager_EvaluateAllPositionsDrawdownBands(t *testing.T) {
	sink := &recordingSink{}
	m := NewManager(domain.RiskLimits{MaxDrawdownPercent: 10}, 1000, sink)
	ctx := context.Background()

	// 8.5% drawdown: inside the 80% warning band.
	alerts := m.EvaluateAllPositions(ctx, []domain.Position{longPos("a", 100, 2.0, 1.15)})
	require.Len(t, alerts, 1)
	assert.Equal(t, domain.AlertWarning, alerts[0].Level)
	assert.Equal(t, domain.AlertDrawdown, alerts[0].Kind)

	// 15% drawdown: at/above the limit is critical.
	alerts = m.EvaluateAllPositions(ctx, []domain.Position{longPos("a", 100, 2.0, 0.5)})
	require.Len(t, alerts, 1)
	assert.Equal(t, domain.AlertCritical, alerts[0].Level)
	assert.Equal(t, 2, sink.count()) // one event per alert
}

func TestManager_EvaluateAllPositionsExposureAndCount(t *testing.T) {
	m := NewManager(domain.RiskLimits{MaxTotalExposure: 1000, MaxPositions: 2}, 1000, nil)

	// Exposure 950 is 95% of the limit; two positions hit the count limit.
	positions := []domain.Position{
		longPos("a", 500, 1.0, 1.0), // exposure 500
		longPos("b", 450, 1.0, 1.0), // exposure 450
	}
	alerts := m.EvaluateAllPositions(context.Background(), positions)

	require.Len(t, alerts, 2)
	kinds := map[domain.AlertKind]domain.AlertLevel{}
	for _, a := range alerts {
		kinds[a.Kind] = a.Level
	}
	assert.Equal(t, domain.AlertWarning, kinds[domain.AlertPositionCount])
	assert.Equal(t, domain.AlertWarning, kinds[domain.AlertExposure])
}

func TestManager_EvaluateAllPositionsStopAndProfitAlerts(t *testing.T) {
	m := NewManager(domain.RiskLimits{}, 1000, nil)
	var received []domain.RiskAlert
	m.OnAlert(func(a domain.RiskAlert) { received = append(received, a) })

	stopped := longPos("sl", 100, 0.50, 0.40)
	m.SetStopLoss(stopped, domain.StopLossConfig{Kind: domain.StopFixed, Value: 0.45, Enabled: true})
	taken := longPos("tp", 100, 0.50, 0.70)
	m.SetTakeProfit(taken, domain.TakeProfitConfig{Kind: domain.ProfitFixed, Value: 0.65, Enabled: true})

	alerts := m.EvaluateAllPositions(context.Background(), []domain.Position{stopped, taken})

	require.Len(t, alerts, 2)
	byKind := map[domain.AlertKind]domain.RiskAlert{}
	for _, a := range alerts {
		byKind[a.Kind] = a
	}
	sl := byKind[domain.AlertStopLoss]
	assert.Equal(t, domain.AlertCritical, sl.Level)
	assert.Equal(t, "sl", sl.PositionID)
	assert.Equal(t, 0.40, sl.Value)
	tp := byKind[domain.AlertTakeProfit]
	assert.Equal(t, domain.AlertInfo, tp.Level)
	assert.Equal(t, "tp", tp.PositionID)

	assert.Len(t, received, 2) // callbacks saw every alert
}

func TestManager_QuietPortfolioEmitsNothing(t *testing.T) {
	sink := &recordingSink{}
	m := NewManager(domain.RiskLimits{
		MaxTotalExposure:   1000,
		MaxDrawdownPercent: 10,
		MaxPositions:       10,
	}, 1000, sink)

	alerts := m.EvaluateAllPositions(context.Background(), []domain.Position{longPos("a", 100, 1.0, 1.0)})

	assert.Empty(t, alerts)
	assert.Equal(t, 0, sink.count())
}
