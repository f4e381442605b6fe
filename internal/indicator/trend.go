// Package indicator computes the ATR-band trend detector that drives entries and exits.
package indicator

import (
	"math"

	"github.com/bipulsin/trademanthan-sub001/internal/market"
)

// Engine recomputes the trend state from a full candle window on every call.
// The window is small (~100 bars), so a from-scratch pass per cycle is cheaper
// than persisting incremental state across crashes.
type Engine struct {
	length int
	factor float64
}

// State exposes the last bar's band values alongside the committed direction.
type State struct {
	ATR        float64
	UpperBand  float64
	LowerBand  float64
	TrendValue float64
	Direction  market.Direction
}

// New builds a trend engine with the given ATR lookback and band multiplier.
func New(length int, factor float64) *Engine {
	if length <= 0 {
		length = 10
	}
	if factor <= 0 {
		factor = 3
	}
	return &Engine{length: length, factor: factor}
}

// Evaluate runs the detector over the candle series and returns the cycle
// signal plus the final band state. Fewer than length+1 bars yields a hold
// signal with an undefined direction rather than an error.
func (e *Engine) Evaluate(candles []market.Candle) (market.Signal, State) {
	n := len(candles)
	if n < e.length+1 {
		var sig market.Signal
		if n > 0 {
			last := candles[n-1]
			sig.UnderlyingPrice = last.Close
			sig.Ts = last.Ts
		}
		return sig, State{}
	}

	// True range needs the prior close, so index 0 has none.
	tr := make([]float64, n)
	for i := 1; i < n; i++ {
		c := candles[i]
		prevClose := candles[i-1].Close
		tr[i] = math.Max(c.High-c.Low, math.Max(math.Abs(c.High-prevClose), math.Abs(c.Low-prevClose)))
	}

	// ATR = rolling mean of true range over length bars, defined from index length.
	atr := make([]float64, n)
	var sum float64
	for i := 1; i < n; i++ {
		sum += tr[i]
		if i > e.length {
			sum -= tr[i-e.length]
		}
		if i >= e.length {
			atr[i] = sum / float64(e.length)
		}
	}

	first := e.length
	finalUpper := make([]float64, n)
	finalLower := make([]float64, n)
	dir := make([]market.Direction, n)

	basicUpper := func(i int) float64 {
		hl2 := (candles[i].High + candles[i].Low) / 2
		return hl2 + e.factor*atr[i]
	}
	basicLower := func(i int) float64 {
		hl2 := (candles[i].High + candles[i].Low) / 2
		return hl2 - e.factor*atr[i]
	}

	finalUpper[first] = basicUpper(first)
	finalLower[first] = basicLower(first)
	dir[first] = market.Up

	for i := first + 1; i < n; i++ {
		upper := basicUpper(i)
		lower := basicLower(i)
		prevClose := candles[i-1].Close

		// Band ratchet: bands only tighten toward price unless the prior
		// close already breached them.
		if upper < finalUpper[i-1] || prevClose > finalUpper[i-1] {
			finalUpper[i] = upper
		} else {
			finalUpper[i] = finalUpper[i-1]
		}
		if lower > finalLower[i-1] || prevClose < finalLower[i-1] {
			finalLower[i] = lower
		} else {
			finalLower[i] = finalLower[i-1]
		}

		close := candles[i].Close
		switch dir[i-1] {
		case market.Up:
			if close <= finalLower[i] {
				dir[i] = market.Down
			} else {
				dir[i] = market.Up
			}
		default:
			if close >= finalUpper[i] {
				dir[i] = market.Up
			} else {
				dir[i] = market.Down
			}
		}
	}

	last := n - 1
	st := State{
		ATR:       atr[last],
		UpperBand: finalUpper[last],
		LowerBand: finalLower[last],
		Direction: dir[last],
	}
	if st.Direction == market.Up {
		st.TrendValue = finalLower[last]
	} else {
		st.TrendValue = finalUpper[last]
	}

	sig := market.Signal{
		Direction:       st.Direction,
		TrendValue:      st.TrendValue,
		UnderlyingPrice: candles[last].Close,
		Ts:              candles[last].Ts,
		Confidence:      e.confidence(candles[last].Close, st),
	}
	if last > first {
		sig.TrendChange = dir[last] != dir[last-1]
	}
	return sig, st
}

// Row flattens the cycle inputs into the feature map consumed by the
// condition evaluator.
func (e *Engine) Row(sig market.Signal, st State) map[string]float64 {
	return map[string]float64{
		"close":      sig.UnderlyingPrice,
		"atr":        st.ATR,
		"upper_band": st.UpperBand,
		"lower_band": st.LowerBand,
		"trend":      st.TrendValue,
		"direction":  float64(st.Direction),
	}
}

// confidence normalizes the distance between price and the trend line by the
// band width, clamped to [0,1].
func (e *Engine) confidence(close float64, st State) float64 {
	width := e.factor * st.ATR
	if width <= 0 {
		return 0
	}
	c := math.Abs(close-st.TrendValue) / width
	if c > 1 {
		return 1
	}
	return c
}
