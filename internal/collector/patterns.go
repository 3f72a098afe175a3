package collector

import (
	"context"
	"fmt"
	"math"

	"PerpSentinel/internal/calculator"
	"PerpSentinel/internal/model"
)

// PatternDetector finds chart and candlestick patterns in a candle series.
type PatternDetector interface {
	Detect(ctx context.Context, symbol, timeframe string, candles model.Candles) (model.PatternSet, error)
}

// BreakoutDetector reports a breakout when the last close leaves the range of the previous
// Lookback bars, and engulfing candles on the last two bars.
type BreakoutDetector struct {
	Lookback  int
	ATRPeriod int
}

func NewBreakoutDetector() *BreakoutDetector {
	return &BreakoutDetector{Lookback: 20, ATRPeriod: 14}
}

func (d *BreakoutDetector) Detect(_ context.Context, _, _ string, c model.Candles) (model.PatternSet, error) {
	var ps model.PatternSet
	n := c.Len()
	if n < d.Lookback+2 || len(c.High) != n || len(c.Low) != n || len(c.Open) != n {
		return ps, fmt.Errorf("need %d aligned candles, have %d", d.Lookback+2, n)
	}

	last := c.Close[n-1]
	high, low, err := calculator.HighLow(c.High[:n-1], c.Low[:n-1], d.Lookback)
	if err != nil {
		return ps, err
	}
	atr, err := calculator.CalculateATR(c.High, c.Low, c.Close, d.ATRPeriod)
	if err != nil || !(atr > 0) {
		atr = (high - low) / float64(d.Lookback)
	}
	if !(atr > 0) {
		atr = math.Abs(last) * 0.001
	}

	switch {
	case last > high:
		ps.Breakout = breakout(model.TrendBullish, (last-high)/atr)
	case last < low:
		ps.Breakout = breakout(model.TrendBearish, (low-last)/atr)
	}
	if p := engulfing(c.Bar(n-2), c.Bar(n-1)); p != nil {
		ps.Candlesticks = append(ps.Candlesticks, *p)
	}
	return ps, nil
}

// breakout maps the distance beyond the range, in ATRs, to a 0.5..1 confidence.
func breakout(bias model.Trend, atrs float64) *model.Pattern {
	conf := 0.5 + math.Min(0.5, atrs/2)
	return &model.Pattern{
		Name:       "range breakout",
		Type:       "breakout",
		Bias:       bias,
		Confidence: conf,
		Strength:   atrs,
	}
}

func engulfing(prev, cur model.OHLCV) *model.Pattern {
	prevBody := prev.Close - prev.Open
	curBody := cur.Close - cur.Open
	switch {
	case prevBody < 0 && curBody > 0 && cur.Open <= prev.Close && cur.Close >= prev.Open:
		return &model.Pattern{Name: "bullish engulfing", Type: "candlestick", Bias: model.TrendBullish, Confidence: 0.6}
	case prevBody > 0 && curBody < 0 && cur.Open >= prev.Close && cur.Close <= prev.Open:
		return &model.Pattern{Name: "bearish engulfing", Type: "candlestick", Bias: model.TrendBearish, Confidence: 0.6}
	}
	return nil
}
