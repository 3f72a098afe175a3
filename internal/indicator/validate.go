package indicator

import (
	"errors"
	"fmt"
	"math"

	"PerpSentinel/internal/model"
)

var (
	ErrInsufficientData = errors.New("insufficient candle data")
	ErrInvalidCandle    = errors.New("invalid candle")
)

// Validate checks a candle series and returns it with bad bars removed.
// A bad bar at a spot-checked index (first, middle, last five) rejects the whole series.
func Validate(c model.Candles, minCandles int) (model.Candles, error) {
	n := len(c.Close)
	if len(c.Open) != n || len(c.High) != n || len(c.Low) != n || len(c.Volume) != n ||
		(len(c.Time) != 0 && len(c.Time) != n) {
		return model.Candles{}, fmt.Errorf("%w: mismatched array lengths", ErrInsufficientData)
	}
	if n < minCandles || n == 0 {
		return model.Candles{}, fmt.Errorf("%w: %d candles, need %d", ErrInsufficientData, n, minCandles)
	}

	for _, i := range spotIndices(n) {
		if err := checkBar(c, i); err != nil {
			return model.Candles{}, fmt.Errorf("%w: index %d: %v", ErrInvalidCandle, i, err)
		}
	}

	bad := 0
	for i := 0; i < n; i++ {
		if checkBar(c, i) != nil {
			bad++
		}
	}
	if bad == 0 {
		return c, nil
	}

	clean := model.Candles{}
	for i := 0; i < n; i++ {
		if checkBar(c, i) != nil {
			continue
		}
		if len(c.Time) > 0 {
			clean.Time = append(clean.Time, c.Time[i])
		}
		clean.Open = append(clean.Open, c.Open[i])
		clean.High = append(clean.High, c.High[i])
		clean.Low = append(clean.Low, c.Low[i])
		clean.Close = append(clean.Close, c.Close[i])
		clean.Volume = append(clean.Volume, c.Volume[i])
	}
	if clean.Len() < minCandles {
		return model.Candles{}, fmt.Errorf("%w: %d valid candles after excluding %d, need %d",
			ErrInsufficientData, clean.Len(), bad, minCandles)
	}
	return clean, nil
}

func spotIndices(n int) []int {
	idx := []int{0, n / 2}
	for i := n - 5; i < n; i++ {
		if i >= 0 {
			idx = append(idx, i)
		}
	}
	return idx
}

func checkBar(c model.Candles, i int) error {
	o, h, l, cl, v := c.Open[i], c.High[i], c.Low[i], c.Close[i], c.Volume[i]
	for _, x := range []float64{o, h, l, cl, v} {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return errors.New("non-finite value")
		}
	}
	if o <= 0 || h <= 0 || l <= 0 || cl <= 0 || v < 0 {
		return errors.New("non-positive price or negative volume")
	}
	if h < l || h < o || h < cl || l > o || l > cl {
		return fmt.Errorf("inconsistent OHLC o=%v h=%v l=%v c=%v", o, h, l, cl)
	}
	return nil
}
