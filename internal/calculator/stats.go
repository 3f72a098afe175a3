package calculator

import (
	"errors"
	"math"
)

// LogReturns returns ln(p[i]/p[i-1]) for the series. Non-positive prices yield zero returns.
func LogReturns(prices []float64) []float64 {
	if len(prices) < 2 {
		return nil
	}
	out := make([]float64, len(prices)-1)
	for i := 1; i < len(prices); i++ {
		if prices[i] > 0 && prices[i-1] > 0 {
			out[i-1] = math.Log(prices[i] / prices[i-1])
		}
	}
	return out
}

// Volatility returns the sample standard deviation of the last period log returns, in percent.
func Volatility(closes []float64, period int) (float64, error) {
	if period <= 1 {
		return 0, errPeriod
	}
	if len(closes) < period+1 {
		return 0, errInsufficient
	}
	rets := LogReturns(closes[len(closes)-period-1:])
	return stdev(rets) * 100, nil
}

// Pearson returns the correlation coefficient of two equally long series.
func Pearson(a, b []float64) (float64, error) {
	if len(a) != len(b) || len(a) < 2 {
		return 0, errors.New("series must have equal length >= 2")
	}
	ma, mb := mean(a), mean(b)
	var cov, va, vb float64
	for i := range a {
		da, db := a[i]-ma, b[i]-mb
		cov += da * db
		va += da * da
		vb += db * db
	}
	if va == 0 || vb == 0 {
		return 0, nil
	}
	return cov / math.Sqrt(va*vb), nil
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	sum := 0.0
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

func stdev(xs []float64) float64 {
	if len(xs) < 2 {
		return 0
	}
	m := mean(xs)
	ss := 0.0
	for _, x := range xs {
		ss += (x - m) * (x - m)
	}
	return math.Sqrt(ss / float64(len(xs)-1))
}
