package collector

import (
	"context"
	"fmt"
	"math"
	"strings"

	"golang.org/x/sync/singleflight"

	"PerpSentinel/internal/calculator"
	"PerpSentinel/internal/model"
)

// CorrelationSource relates a symbol to a broader market reference.
type CorrelationSource interface {
	Correlate(ctx context.Context, symbol, timeframe string, candles model.Candles) (*model.CorrelationSignal, error)
}

// BenchmarkCorrelation compares a symbol with a benchmark: the benchmark's MA trend gives the
// direction, the absolute Pearson correlation of log returns gives the strength.
// Concurrent requests for the same benchmark timeframe share one fetch.
type BenchmarkCorrelation struct {
	Fetcher   Fetcher
	Benchmark string
	Limit     int
	ShortMA   int
	LongMA    int
	DeadBand  float64 // percent

	group singleflight.Group
}

func NewBenchmarkCorrelation(f Fetcher, benchmark string) *BenchmarkCorrelation {
	return &BenchmarkCorrelation{Fetcher: f, Benchmark: benchmark, Limit: 100, ShortMA: 20, LongMA: 50, DeadBand: 0.1}
}

func (b *BenchmarkCorrelation) benchmark(ctx context.Context, timeframe string) (model.Candles, error) {
	v, err, _ := b.group.Do(timeframe, func() (interface{}, error) {
		return b.Fetcher.FetchCandles(ctx, b.Benchmark, timeframe, b.Limit)
	})
	if err != nil {
		return model.Candles{}, err
	}
	return v.(model.Candles), nil
}

// Correlate returns nil for the benchmark itself.
func (b *BenchmarkCorrelation) Correlate(ctx context.Context, symbol, timeframe string, candles model.Candles) (*model.CorrelationSignal, error) {
	if strings.EqualFold(symbol, b.Benchmark) {
		return nil, nil
	}
	bench, err := b.benchmark(ctx, timeframe)
	if err != nil {
		return nil, fmt.Errorf("fetch benchmark %s: %w", b.Benchmark, err)
	}

	short, err := calculator.CalculateSMA(bench.Close, b.ShortMA)
	if err != nil {
		return nil, fmt.Errorf("benchmark short MA: %w", err)
	}
	long, err := calculator.CalculateSMA(bench.Close, b.LongMA)
	if err != nil {
		return nil, fmt.Errorf("benchmark long MA: %w", err)
	}
	trend := model.TrendNeutral
	if long > 0 {
		sep := (short - long) / long * 100
		switch {
		case sep > b.DeadBand:
			trend = model.TrendBullish
		case sep < -b.DeadBand:
			trend = model.TrendBearish
		}
	}

	a := calculator.LogReturns(candles.Close)
	r := calculator.LogReturns(bench.Close)
	n := min(len(a), len(r), b.Limit)
	if n < 2 {
		return nil, fmt.Errorf("not enough overlapping returns: %d", n)
	}
	rho, err := calculator.Pearson(a[len(a)-n:], r[len(r)-n:])
	if err != nil {
		return nil, err
	}
	return &model.CorrelationSignal{
		Trend:     trend,
		Strength:  math.Abs(rho),
		Alignment: rho,
		Source:    b.Benchmark,
	}, nil
}
