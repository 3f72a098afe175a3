package calculator

import "math"

// CalculateATR computes the Wilder-smoothed average true range.
func CalculateATR(highs, lows, closes []float64, period int) (float64, error) {
	if period <= 0 {
		return 0, errPeriod
	}
	n := len(closes)
	if n < period+1 || len(highs) != n || len(lows) != n {
		return 0, errInsufficient
	}
	tr := func(i int) float64 {
		return math.Max(highs[i]-lows[i], math.Max(math.Abs(highs[i]-closes[i-1]), math.Abs(lows[i]-closes[i-1])))
	}
	atr := 0.0
	for i := 1; i <= period; i++ {
		atr += tr(i)
	}
	atr /= float64(period)
	for i := period + 1; i < n; i++ {
		atr = (atr*float64(period-1) + tr(i)) / float64(period)
	}
	return atr, nil
}
