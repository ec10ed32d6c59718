package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pendingOpportunity(t *testing.T, ttl time.Duration) *Opportunity {
	t.Helper()
	o, err := NewCrossMarketOpportunity("mkt-1", "tok-yes", "tok-no", 0.45, 0.50, 100, ttl)
	require.NoError(t, err)
	return o
}

// --- Construction ---

func TestNewCrossMarketOpportunity_Math(t *testing.T) {
	// pYes=0.45, pNo=0.50 → spread=0.05
	// capital=100 → shares=floor(100/0.95)=105 → profit=105×0.05=5.25
	o := pendingOpportunity(t, time.Minute)

	assert.Equal(t, TypeCrossMarket, o.Type)
	assert.Len(t, o.Legs, 2)
	assert.Equal(t, 105.0, o.Legs[0].Size)
	assert.Equal(t, 105.0, o.Legs[1].Size)
	assert.Equal(t, SideBuy, o.Legs[0].Side)
	assert.InDelta(t, 5.25, o.ExpectedProfit, 0.0001)
	assert.InDelta(t, 0.05, o.Metadata["spread"], 0.0001)
	assert.Equal(t, StatusPending, o.Status)
	assert.NotEmpty(t, o.ID)
}

func TestNewCrossMarketOpportunity_NoSpread(t *testing.T) {
	_, err := NewCrossMarketOpportunity("mkt-1", "y", "n", 0.55, 0.50, 100, time.Minute)
	assert.Error(t, err)
}

func TestNewEventArbitrageOpportunity_ClampsConfidence(t *testing.T) {
	// Huge edge and zero overround would blend above the edge-term cap;
	// confidence must still land inside [0,1].
	o, err := NewEventArbitrageOpportunity("mkt-2", "tok", SideBuy, 0.10, 0.90, 0.0, 100, time.Minute)
	assert.NoError(t, err)
	assert.LessOrEqual(t, o.Confidence, 1.0)
	assert.GreaterOrEqual(t, o.Confidence, 0.0)
	assert.InDelta(t, 0.80, o.Metadata["edge"], 0.0001)
}

func TestNewDeviationOpportunity_SellProfitsFromReversion(t *testing.T) {
	// price=0.80 three sigmas above mean=0.60 → SELL, reversion 0.20/share
	o, err := NewDeviationOpportunity("mkt-3", "tok", SideSell, 0.80, 0.60, 3.0, 80, time.Minute)
	assert.NoError(t, err)
	assert.Equal(t, TypeDeviation, o.Type)
	assert.Equal(t, 100.0, o.Legs[0].Size) // floor(80/0.80)
	assert.InDelta(t, 20.0, o.ExpectedProfit, 0.0001)
	assert.InDelta(t, 0.75, o.Confidence, 0.0001) // |z|/4
}

// --- Validity ---

func TestOpportunity_IsValid_PendingAndFresh(t *testing.T) {
	o := pendingOpportunity(t, time.Minute)
	assert.True(t, o.IsValid())
	assert.False(t, o.IsExpired())
}

func TestOpportunity_IsValid_FalseWhenExpired(t *testing.T) {
	o := pendingOpportunity(t, -time.Second)
	assert.False(t, o.IsValid())
	assert.True(t, o.IsExpired())
	assert.Equal(t, StatusPending, o.Status) // expiry alone does not flip status
}

func TestOpportunity_IsExpired_IndependentOfStatus(t *testing.T) {
	o := pendingOpportunity(t, 10*time.Millisecond)
	o.MarkExecuting()
	o.MarkExecuted()
	time.Sleep(20 * time.Millisecond)

	assert.True(t, o.IsExpired())
	assert.Equal(t, StatusExecuted, o.Status)
	assert.False(t, o.IsValid())
}

// --- Transitions ---

func TestOpportunity_HappyPathTransitions(t *testing.T) {
	o := pendingOpportunity(t, time.Minute)

	assert.True(t, o.MarkExecuting())
	assert.Equal(t, StatusExecuting, o.Status)
	assert.False(t, o.IsValid()) // EXECUTING is no longer tradable

	assert.True(t, o.MarkExecuted())
	assert.Equal(t, StatusExecuted, o.Status)
	assert.True(t, o.IsTerminal())
}

func TestOpportunity_TerminalStatesAreOneWay(t *testing.T) {
	for _, mark := range []func(*Opportunity) bool{
		(*Opportunity).MarkExpired,
		(*Opportunity).MarkSkipped,
	} {
		o := pendingOpportunity(t, time.Minute)
		assert.True(t, mark(o))
		terminal := o.Status

		assert.False(t, o.MarkExecuting())
		assert.False(t, o.MarkExecuted())
		assert.False(t, o.MarkFailed())
		assert.False(t, o.MarkExpired())
		assert.Equal(t, terminal, o.Status)
		assert.False(t, o.IsValid())
	}
}

func TestOpportunity_CannotExecuteFromTerminal(t *testing.T) {
	o := pendingOpportunity(t, time.Minute)
	o.MarkExecuting()
	o.MarkFailed()

	assert.False(t, o.MarkExecuting())
	assert.False(t, o.MarkExecuted())
	assert.Equal(t, StatusFailed, o.Status)
}

func TestOpportunity_SkipOnlyFromPending(t *testing.T) {
	o := pendingOpportunity(t, time.Minute)
	o.MarkExecuting()
	assert.False(t, o.MarkSkipped())
	assert.Equal(t, StatusExecuting, o.Status)
}

// --- Sizing ---

func TestOpportunity_ApplySize_RescalesLegsAndProfit(t *testing.T) {
	o := pendingOpportunity(t, time.Minute) // 105 shares, profit 5.25
	o.ApplySize(50)

	assert.Equal(t, 50.0, o.Legs[0].Size)
	assert.Equal(t, 50.0, o.Legs[1].Size)
	assert.InDelta(t, 2.5, o.ExpectedProfit, 0.0001) // 50×0.05
}

func TestOpportunity_ApplySize_IgnoresNonPositive(t *testing.T) {
	o := pendingOpportunity(t, time.Minute)
	o.ApplySize(0)
	assert.Equal(t, 105.0, o.Legs[0].Size)
}

func TestOpportunity_Capital(t *testing.T) {
	o := pendingOpportunity(t, time.Minute)
	// 105×0.45 + 105×0.50 = 99.75
	assert.InDelta(t, 99.75, o.Capital(), 0.0001)
}
