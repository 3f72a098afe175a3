package calculator

import "PerpSentinel/internal/model"

// RSIDivergence compares the last lookback bars with the window before it.
// Bullish divergence: price printed a lower low while RSI printed a higher low.
// Bearish divergence: price printed a higher high while RSI printed a lower high.
// rsi must be aligned to the tail of closes.
func RSIDivergence(closes, rsi []float64, lookback int) model.Trend {
	if lookback <= 0 || len(rsi) < 2*lookback || len(closes) < len(rsi) {
		return model.TrendNeutral
	}
	px := closes[len(closes)-len(rsi):]
	n := len(rsi)
	prev, cur := n-2*lookback, n-lookback

	prevPxLow, prevPxHigh := extremes(px[prev:cur])
	curPxLow, curPxHigh := extremes(px[cur:])
	prevRSILow, prevRSIHigh := extremes(rsi[prev:cur])
	curRSILow, curRSIHigh := extremes(rsi[cur:])

	switch {
	case curPxLow < prevPxLow && curRSILow > prevRSILow:
		return model.TrendBullish
	case curPxHigh > prevPxHigh && curRSIHigh < prevRSIHigh:
		return model.TrendBearish
	}
	return model.TrendNeutral
}

func extremes(xs []float64) (lo, hi float64) {
	lo, hi = xs[0], xs[0]
	for _, x := range xs[1:] {
		if x < lo {
			lo = x
		}
		if x > hi {
			hi = x
		}
	}
	return lo, hi
}
