package collector

import (
	"context"
	"hash/fnv"
	"math"
	"time"

	"PerpSentinel/internal/model"
)

// MockFetcher returns deterministic synthetic data for development and testing.
type MockFetcher struct {
	Price   float64
	Candles map[string]model.Candles // keyed by symbol; overrides generation
	Now     func() time.Time
}

func (m *MockFetcher) Name() string { return "mock" }

func (m *MockFetcher) FetchCandles(_ context.Context, symbol, timeframe string, limit int) (model.Candles, error) {
	if c, ok := m.Candles[symbol]; ok {
		return c, nil
	}
	now := time.Now
	if m.Now != nil {
		now = m.Now
	}
	base := m.Price
	if base <= 0 {
		base = 100
	}
	if limit <= 0 {
		limit = 200
	}
	return model.CandlesFromBars(generateMockBars(symbol, base, limit, timeframeDuration(timeframe), now())), nil
}

// generateMockBars builds a drifting sine wave whose phase depends on the symbol.
func generateMockBars(symbol string, basePrice float64, count int, step time.Duration, end time.Time) []model.OHLCV {
	h := fnv.New32a()
	_, _ = h.Write([]byte(symbol))
	phase := float64(h.Sum32()%360) * math.Pi / 180

	bars := make([]model.OHLCV, count)
	for i := 0; i < count; i++ {
		x := float64(i)
		p := basePrice * (1 + 0.03*math.Sin(x/12+phase) + 0.0005*x)
		bars[i] = model.OHLCV{
			Time:   end.Add(-time.Duration(count-i) * step),
			Open:   p * 0.999,
			High:   p * 1.004,
			Low:    p * 0.996,
			Close:  p,
			Volume: 1000 * (1.5 + math.Sin(x/5+phase)),
		}
	}
	return bars
}

func timeframeDuration(tf string) time.Duration {
	switch tf {
	case "1m":
		return time.Minute
	case "3m":
		return 3 * time.Minute
	case "5m":
		return 5 * time.Minute
	case "15m":
		return 15 * time.Minute
	case "30m":
		return 30 * time.Minute
	case "1h":
		return time.Hour
	case "2h":
		return 2 * time.Hour
	case "4h":
		return 4 * time.Hour
	case "1d":
		return 24 * time.Hour
	}
	return time.Hour
}
