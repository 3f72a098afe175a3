package calculator

import (
	"errors"
	"math"
)

// HighLow scans the most recent lookback values and returns the highest high and lowest low.
// A lookback <= 0 scans the whole series.
func HighLow(highs, lows []float64, lookback int) (high, low float64, err error) {
	n := len(highs)
	if n == 0 || len(lows) != n {
		return 0, 0, errors.New("no bars provided")
	}
	start := n - lookback
	if lookback <= 0 || start < 0 {
		start = 0
	}
	high = math.Inf(-1)
	low = math.Inf(1)
	for i := start; i < n; i++ {
		if highs[i] > high {
			high = highs[i]
		}
		if lows[i] < low {
			low = lows[i]
		}
	}
	return high, low, nil
}

// Midpoint returns (highest high + lowest low) / 2 over the lookback window.
// This is the Ichimoku conversion line for 9 and the base line for 26.
func Midpoint(highs, lows []float64, lookback int) (float64, error) {
	if len(highs) < lookback {
		return 0, errInsufficient
	}
	h, l, err := HighLow(highs, lows, lookback)
	if err != nil {
		return 0, err
	}
	return (h + l) / 2, nil
}

// RangePosition returns where the current price sits within the range (0.0~1.0).
func RangePosition(current, high, low float64) (float64, error) {
	if high == low {
		return 0.5, nil
	}
	if high < low {
		return 0, errors.New("high must be >= low")
	}
	pos := (current - low) / (high - low)
	if pos < 0 {
		pos = 0
	}
	if pos > 1 {
		pos = 1
	}
	return pos, nil
}
