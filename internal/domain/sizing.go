package domain

import "math"

// SizingInput carries everything a sizer may look at. Capital and Price are
// required; the probabilistic fields only matter to the Kelly sizer.
type SizingInput struct {
	Capital        float64 // currency units available to this trade
	WinProbability float64 // p in [0,1]
	Odds           float64 // decimal net odds; <=0 means derive from price
	Price          float64 // cost per share in (0,1]
	MaxFraction    float64 // hard cap on the capital fraction, 0 = no cap
	MinSize        float64 // smallest share count worth placing
}

// PositionSizer turns a sizing input into a whole-share count. Zero means
// "do not trade"; sizers never return an error, a bad input is just zero.
type PositionSizer interface {
	Calculate(in SizingInput) float64
}

// Kelly sizing bounds. The floor keeps a positive-edge trade from rounding
// to dust; the default cap mirrors the usual quarter-portfolio discipline.
const (
	defaultMinBetFraction = 0.01
	defaultMaxFraction    = 0.25
	defaultKellyFraction  = 0.5 // half-Kelly
)

// KellySizer sizes by the Kelly criterion, scaled down by Multiplier
// (fractional Kelly) and clamped between MinBetFraction and the input's
// MaxFraction.
//
//	b  = odds, or (1-price)/price when no odds are supplied
//	f* = (b·p - q) / b,  q = 1-p
//
// f* ≤ 0 means the edge is negative: stake nothing, never bet the other way.
type KellySizer struct {
	Multiplier     float64 // fraction of full Kelly, e.g. 0.5
	MinBetFraction float64 // floor on the capital fraction once an edge exists
}

// NewKellySizer returns a sizer with the default half-Kelly multiplier.
func NewKellySizer() *KellySizer {
	return &KellySizer{Multiplier: defaultKellyFraction, MinBetFraction: defaultMinBetFraction}
}

// Calculate implements PositionSizer.
//
// Worked example: capital 1000, p 0.6, price 0.5 → b = (1-0.5)/0.5 = 1,
// f* = (1×0.6 - 0.4)/1 = 0.2, half-Kelly 0.1 → 100 units → 200 shares.
func (k *KellySizer) Calculate(in SizingInput) float64 {
	if in.Capital <= 0 || in.Price <= 0 {
		return 0
	}
	p := Clamp01(in.WinProbability)
	q := 1.0 - p

	b := in.Odds
	if b <= 0 {
		// A binary share bought at price pays 1: net odds (1-price)/price.
		b = (1.0 - in.Price) / in.Price
	}
	if b <= 0 {
		return 0
	}

	full := (b*p - q) / b
	if full <= 0 {
		return 0
	}

	mult := k.Multiplier
	if mult <= 0 {
		mult = defaultKellyFraction
	}
	fraction := full * mult

	minFrac := k.MinBetFraction
	if minFrac <= 0 {
		minFrac = defaultMinBetFraction
	}
	maxFrac := in.MaxFraction
	if maxFrac <= 0 {
		maxFrac = defaultMaxFraction
	}
	if fraction < minFrac {
		fraction = minFrac
	}
	if fraction > maxFrac {
		fraction = maxFrac
	}

	shares := math.Floor(fraction * in.Capital / in.Price)
	if shares < in.MinSize {
		return 0
	}
	return shares
}

// FixedFractionSizer stakes a constant fraction of capital on every trade.
// The conservative fallback when no probability model is trusted.
type FixedFractionSizer struct {
	Fraction float64
}

// Calculate implements PositionSizer.
func (f *FixedFractionSizer) Calculate(in SizingInput) float64 {
	if in.Capital <= 0 || in.Price <= 0 {
		return 0
	}
	fraction := f.Fraction
	if fraction <= 0 {
		fraction = defaultMinBetFraction
	}
	if in.MaxFraction > 0 && fraction > in.MaxFraction {
		fraction = in.MaxFraction
	}
	shares := math.Floor(fraction * in.Capital / in.Price)
	if shares < in.MinSize {
		return 0
	}
	return shares
}

// FixedAmountSizer stakes the same currency amount on every trade,
// truncated to what the capital can actually cover.
type FixedAmountSizer struct {
	Amount float64
}

// Calculate implements PositionSizer.
func (f *FixedAmountSizer) Calculate(in SizingInput) float64 {
	if in.Capital <= 0 || in.Price <= 0 || f.Amount <= 0 {
		return 0
	}
	amount := f.Amount
	if amount > in.Capital {
		amount = in.Capital
	}
	if in.MaxFraction > 0 && amount > in.MaxFraction*in.Capital {
		amount = in.MaxFraction * in.Capital
	}
	shares := math.Floor(amount / in.Price)
	if shares < in.MinSize {
		return 0
	}
	return shares
}
