package indicator

import (
	"context"

	"PerpSentinel/internal/calculator"
	"PerpSentinel/internal/model"
)

// GridTuner picks the RSI period and MA pair with the best forward hit rate over the series.
type GridTuner struct {
	RSIPeriods []int
	MAPairs    [][2]int
	Horizon    int // bars ahead used to judge a call
	MinSignals int
}

// NewGridTuner returns a tuner with the standard search grid.
func NewGridTuner() *GridTuner {
	return &GridTuner{
		RSIPeriods: []int{7, 9, 14, 21},
		MAPairs:    [][2]int{{9, 21}, {20, 50}},
		Horizon:    5,
		MinSignals: 3,
	}
}

// Tune returns current with RSIPeriod, ShortMA and LongMA replaced by the best candidates.
// Candidates without enough signals never replace the current value.
func (g *GridTuner) Tune(ctx context.Context, candles model.Candles, current model.TunedParameters) (model.TunedParameters, error) {
	closes := candles.Close
	out := current

	bestRSI := -1.0
	for _, p := range g.RSIPeriods {
		if err := ctx.Err(); err != nil {
			return current, err
		}
		if rate, ok := g.rsiHitRate(closes, p); ok && rate > bestRSI {
			bestRSI = rate
			out.RSIPeriod = p
		}
	}

	bestMA := -1.0
	for _, pair := range g.MAPairs {
		if err := ctx.Err(); err != nil {
			return current, err
		}
		if rate, ok := g.maHitRate(closes, pair[0], pair[1]); ok && rate > bestMA {
			bestMA = rate
			out.ShortMA, out.LongMA = pair[0], pair[1]
		}
	}
	return out, nil
}

// rsiHitRate scores mean reversion: oversold should be followed by a higher close, overbought by a lower one.
func (g *GridTuner) rsiHitRate(closes []float64, period int) (float64, bool) {
	rsi, err := calculator.RSISeries(closes, period)
	if err != nil || len(rsi) == 0 {
		return 0, false
	}
	hits, signals := 0, 0
	for j, v := range rsi {
		i := j + period
		if i+g.Horizon >= len(closes) {
			break
		}
		move := closes[i+g.Horizon] - closes[i]
		switch {
		case v < 30:
			signals++
			if move > 0 {
				hits++
			}
		case v > 70:
			signals++
			if move < 0 {
				hits++
			}
		}
	}
	if signals < g.MinSignals {
		return 0, false
	}
	return float64(hits) / float64(signals), true
}

// maHitRate scores trend following: the sign of short-minus-long MA should predict the forward move.
func (g *GridTuner) maHitRate(closes []float64, short, long int) (float64, bool) {
	if long <= short || len(closes) < long+g.Horizon+1 {
		return 0, false
	}
	prefix := make([]float64, len(closes)+1)
	for i, c := range closes {
		prefix[i+1] = prefix[i] + c
	}
	sma := func(end, n int) float64 { return (prefix[end+1] - prefix[end+1-n]) / float64(n) }

	hits, signals := 0, 0
	for i := long - 1; i+g.Horizon < len(closes); i++ {
		diff := sma(i, short) - sma(i, long)
		if diff == 0 {
			continue
		}
		signals++
		move := closes[i+g.Horizon] - closes[i]
		if (diff > 0 && move > 0) || (diff < 0 && move < 0) {
			hits++
		}
	}
	if signals < g.MinSignals {
		return 0, false
	}
	return float64(hits) / float64(signals), true
}
