package domain

import "math"

// --- Cross-market arbitrage ---

// CrossMarketSpread returns the guaranteed margin of buying both sides of a
// binary market: 1 - (pYes + pNo). Positive means the pair costs less than
// the 1 unit it always pays out.
func CrossMarketSpread(yesPrice, noPrice float64) float64 {
	return 1.0 - (yesPrice + noPrice)
}

// CrossMarketShares returns how many full share pairs the capital buys at
// the combined price. One pair = one YES share + one NO share, costing
// pYes+pNo together, so shares = floor(capital / (pYes+pNo)).
func CrossMarketShares(capital, yesPrice, noPrice float64) float64 {
	sum := yesPrice + noPrice
	if sum <= 0 || capital <= 0 {
		return 0
	}
	return math.Floor(capital / sum)
}

// --- Odds-referenced value ---

// ImpliedProbability converts decimal odds to the bookmaker's implied
// probability, 1/odds. Odds at or below 1 carry no information and map to 0.
func ImpliedProbability(decimalOdds float64) float64 {
	if decimalOdds <= 1 {
		return 0
	}
	return 1.0 / decimalOdds
}

// RemoveVig normalizes implied probabilities so they sum to 1, stripping
// the bookmaker's margin. Returns the fair probabilities (same order as the
// input odds) and the overround: how far the raw implied sum sits above 1,
// e.g. two-way odds of 1.91/1.91 imply 0.5236+0.5236 = 1.047 → fair
// probabilities 0.5/0.5 and overround 0.047.
func RemoveVig(decimalOdds []float64) (fair []float64, overround float64) {
	if len(decimalOdds) == 0 {
		return nil, 0
	}
	implied := make([]float64, len(decimalOdds))
	sum := 0.0
	for i, odds := range decimalOdds {
		implied[i] = ImpliedProbability(odds)
		sum += implied[i]
	}
	if sum <= 0 {
		return implied, 0
	}
	fair = make([]float64, len(implied))
	for i, p := range implied {
		fair[i] = p / sum
	}
	return fair, sum - 1.0
}

// Edge is the value margin of a market price against the fair probability.
func Edge(fairProb, marketPrice float64) float64 {
	return fairProb - marketPrice
}

// ExpectedValue is the per-unit return of buying at marketPrice when the
// true win probability is fairProb: fair/price - 1.
func ExpectedValue(fairProb, marketPrice float64) float64 {
	if marketPrice <= 0 {
		return 0
	}
	return fairProb/marketPrice - 1.0
}

// Confidence blend weights. Edge magnitude dominates; the reference
// source's own margin discounts it, since a fat overround means the fair
// probabilities themselves are mushy.
//
//	edge 0.05 at overround 0.02 → 0.7×(0.05/0.10) + 0.3×(1-0.02/0.10) = 0.59
//	edge 0.05 at overround 0.08 → 0.7×0.5 + 0.3×0.2 = 0.41
const (
	confEdgeWeight     = 0.7
	confMarginWeight   = 0.3
	confEdgeScale      = 0.10 // edge at which the edge term saturates
	confOverroundScale = 0.10 // overround at which the margin term hits zero
)

// BlendConfidence maps an edge and the reference overround to [0,1].
func BlendConfidence(edge, overround float64) float64 {
	edgeTerm := Clamp01(edge / confEdgeScale)
	marginTerm := Clamp01(1.0 - overround/confOverroundScale)
	return Clamp01(confEdgeWeight*edgeTerm + confMarginWeight*marginTerm)
}

// --- Statistical deviation ---

// RollingWindow keeps the last N prices of one instrument and answers
// mean/stddev/z-score questions about them. Not safe for concurrent use;
// each strategy owns its windows.
type RollingWindow struct {
	values []float64
	size   int
}

// NewRollingWindow creates a window that keeps at most size samples.
func NewRollingWindow(size int) *RollingWindow {
	if size < 2 {
		size = 2
	}
	return &RollingWindow{values: make([]float64, 0, size), size: size}
}

// Add appends a sample, evicting the oldest when the window is full.
func (w *RollingWindow) Add(v float64) {
	if len(w.values) == w.size {
		copy(w.values, w.values[1:])
		w.values[len(w.values)-1] = v
		return
	}
	w.values = append(w.values, v)
}

// Count returns how many samples the window currently holds.
func (w *RollingWindow) Count() int {
	return len(w.values)
}

// Mean returns the arithmetic mean of the samples, 0 when empty.
func (w *RollingWindow) Mean() float64 {
	if len(w.values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range w.values {
		sum += v
	}
	return sum / float64(len(w.values))
}

// StdDev returns the population standard deviation of the samples.
func (w *RollingWindow) StdDev() float64 {
	n := len(w.values)
	if n < 2 {
		return 0
	}
	mean := w.Mean()
	sumSq := 0.0
	for _, v := range w.values {
		d := v - mean
		sumSq += d * d
	}
	return math.Sqrt(sumSq / float64(n))
}

// ZScore standardizes a price against the window: (price - mean) / stddev.
// Returns 0 while the window has no dispersion, so a flat series never
// signals.
func (w *RollingWindow) ZScore(price float64) float64 {
	sd := w.StdDev()
	if sd == 0 {
		return 0
	}
	return (price - w.Mean()) / sd
}

// --- Small shared helpers ---

// Clamp01 clamps v into [0,1].
func Clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func mathFloor(v float64) float64 {
	if v <= 0 {
		return 0
	}
	return math.Floor(v)
}

func abs(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}
