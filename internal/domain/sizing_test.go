package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// --- KellySizer ---

func TestKellySizer_HalfKellyTextbookCase(t *testing.T) {
	// capital=1000, p=0.6, price=0.5 → b=(1-0.5)/0.5=1
	// f* = (1×0.6 - 0.4)/1 = 0.2 → half-Kelly 0.1 → $100 → 200 shares
	k := &KellySizer{Multiplier: 0.5, MinBetFraction: 0.01}
	shares := k.Calculate(SizingInput{Capital: 1000, WinProbability: 0.6, Price: 0.5})
	assert.Equal(t, 200.0, shares)
}

func TestKellySizer_ExplicitOddsOverridePrice(t *testing.T) {
	// b=2 (decimal net odds), p=0.5 → f*=(2×0.5-0.5)/2=0.25 → ×0.5=0.125
	// 0.125×1000=$125 at price 0.5 → 250 shares
	k := &KellySizer{Multiplier: 0.5, MinBetFraction: 0.01}
	shares := k.Calculate(SizingInput{Capital: 1000, WinProbability: 0.5, Odds: 2, Price: 0.5})
	assert.Equal(t, 250.0, shares)
}

func TestKellySizer_NegativeEdgeReturnsZero(t *testing.T) {
	// p=0.4 at even odds → f* = (0.4-0.6)/1 < 0 → never bet the other way
	k := NewKellySizer()
	shares := k.Calculate(SizingInput{Capital: 1000, WinProbability: 0.4, Price: 0.5})
	assert.Equal(t, 0.0, shares)
}

func TestKellySizer_ClampsToMaxFraction(t *testing.T) {
	// p=0.9, price=0.5 → f*=(0.9-0.1)/1=0.8 → half 0.4, capped at 0.25
	// 0.25×1000=$250 → 500 shares
	k := &KellySizer{Multiplier: 0.5, MinBetFraction: 0.01}
	shares := k.Calculate(SizingInput{Capital: 1000, WinProbability: 0.9, Price: 0.5, MaxFraction: 0.25})
	assert.Equal(t, 500.0, shares)
}

func TestKellySizer_FloorsToMinBetFraction(t *testing.T) {
	// Tiny positive edge: p=0.51 → f*=0.02, half=0.01 → already at floor 0.05
	// → 0.05×1000=$50 → 100 shares
	k := &KellySizer{Multiplier: 0.5, MinBetFraction: 0.05}
	shares := k.Calculate(SizingInput{Capital: 1000, WinProbability: 0.51, Price: 0.5})
	assert.Equal(t, 100.0, shares)
}

func TestKellySizer_BelowMinSizeReturnsZero(t *testing.T) {
	// Sized to 200 shares but minSize demands 500 → no trade, never round up
	k := &KellySizer{Multiplier: 0.5, MinBetFraction: 0.01}
	shares := k.Calculate(SizingInput{Capital: 1000, WinProbability: 0.6, Price: 0.5, MinSize: 500})
	assert.Equal(t, 0.0, shares)
}

func TestKellySizer_InvalidInputs(t *testing.T) {
	k := NewKellySizer()
	assert.Equal(t, 0.0, k.Calculate(SizingInput{Capital: 0, WinProbability: 0.6, Price: 0.5}))
	assert.Equal(t, 0.0, k.Calculate(SizingInput{Capital: 1000, WinProbability: 0.6, Price: 0}))
}

func TestKellySizer_FlooredShares(t *testing.T) {
	// 0.1×1000=$100 at price 0.33 → 303.03… → 303 whole shares
	k := &KellySizer{Multiplier: 0.5, MinBetFraction: 0.01}
	shares := k.Calculate(SizingInput{Capital: 1000, WinProbability: 0.6, Odds: 1, Price: 0.33})
	assert.Equal(t, 303.0, shares)
}

// --- FixedFractionSizer ---

func TestFixedFractionSizer_Basic(t *testing.T) {
	// 2% of 1000 = $20 at 0.5 → 40 shares
	f := &FixedFractionSizer{Fraction: 0.02}
	assert.Equal(t, 40.0, f.Calculate(SizingInput{Capital: 1000, Price: 0.5}))
}

func TestFixedFractionSizer_RespectsMaxFraction(t *testing.T) {
	f := &FixedFractionSizer{Fraction: 0.50}
	// capped to 10% → $100 → 200 shares
	assert.Equal(t, 200.0, f.Calculate(SizingInput{Capital: 1000, Price: 0.5, MaxFraction: 0.10}))
}

func TestFixedFractionSizer_MinSize(t *testing.T) {
	f := &FixedFractionSizer{Fraction: 0.01}
	assert.Equal(t, 0.0, f.Calculate(SizingInput{Capital: 100, Price: 0.5, MinSize: 10}))
}

// --- FixedAmountSizer ---

func TestFixedAmountSizer_Basic(t *testing.T) {
	f := &FixedAmountSizer{Amount: 50}
	assert.Equal(t, 100.0, f.Calculate(SizingInput{Capital: 1000, Price: 0.5}))
}

func TestFixedAmountSizer_TruncatedToCapital(t *testing.T) {
	f := &FixedAmountSizer{Amount: 500}
	// only $100 available → 200 shares
	assert.Equal(t, 200.0, f.Calculate(SizingInput{Capital: 100, Price: 0.5}))
}
