package strategy

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"PerpSentinel/internal/adaptive"
	"PerpSentinel/internal/config"
	"PerpSentinel/internal/model"
)

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func newTestEngine(t *testing.T, mutate func(*config.Scoring)) (*Engine, *adaptive.Store, *testClock) {
	t.Helper()
	clock := &testClock{t: time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)}
	store, err := adaptive.NewStore(adaptive.WithClock(clock.Now))
	require.NoError(t, err)
	cfg := config.Default().Scoring
	if mutate != nil {
		mutate(&cfg)
	}
	return NewEngine(cfg, store), store, clock
}

func testCandles(n int) model.Candles {
	bars := make([]model.OHLCV, n)
	for i := range bars {
		p := 100 + float64(i%5)
		bars[i] = model.OHLCV{Open: p, High: p + 1, Low: p - 1, Close: p, Volume: 100}
	}
	return model.CandlesFromBars(bars)
}

// strongLong scores 56 from factors, 66 with the neutral ML default and 82 after the
// confirmation bonus and trend alignment.
func strongLong() Input {
	return Input{
		Symbol:    "BTCUSDT",
		Timeframe: "1h",
		Candles:   testCandles(60),
		Snapshot: &model.IndicatorSnapshot{
			Symbol:   "BTCUSDT",
			Close:    100,
			Volume:   250,
			VolumeMA: 100,
			RSI:      25,
			MACD:     model.MACD{Line: 0.5, Signal: 0.2, Histogram: 0.3},
			ShortMA:  102,
			LongMA:   100,
		},
	}
}

func prob(p float64) *float64 { return &p }

func component(res model.SignalResult, name string) (model.ScoreComponent, bool) {
	for _, c := range res.ScoreComponents {
		if c.Name == name {
			return c, true
		}
	}
	return model.ScoreComponent{}, false
}

func TestEvaluate_RejectsMissingData(t *testing.T) {
	e, _, _ := newTestEngine(t, nil)

	res := e.Evaluate(context.Background(), Input{Symbol: "BTCUSDT", Timeframe: "1h"})
	assert.False(t, res.IsValid)
	assert.Zero(t, res.TotalScore)
	assert.Equal(t, model.DirectionNone, res.Direction)
	assert.Equal(t, "missing candles or indicators", res.Reason)

	in := strongLong()
	in.Snapshot = nil
	res = e.Evaluate(context.Background(), in)
	assert.False(t, res.IsValid)
	assert.Empty(t, res.ScoreComponents)
}

func TestEvaluate_StrongLong(t *testing.T) {
	e, _, _ := newTestEngine(t, nil)

	res := e.Evaluate(context.Background(), strongLong())
	assert.True(t, res.IsValid, res.Reason)
	assert.Equal(t, model.DirectionLong, res.Direction)
	assert.Equal(t, model.TrendBullish, res.SignalTrend)
	assert.Equal(t, model.TrendBullish, res.EffectiveTrend)
	assert.False(t, res.CounterTrend)
	assert.InDelta(t, 82, res.TotalScore, 1e-6)
	assert.Equal(t, 4, res.ConfirmationCount)
	assert.InDelta(t, 0.5, res.MLProbability, 1e-9)
	assert.False(t, res.IsMLDriven)
	assert.Equal(t, []string{"strong_macd", "strong_trend"}, res.StrengthFactors)

	align, ok := component(res, "trend_alignment")
	require.True(t, ok)
	assert.InDelta(t, 10, align.WeightedValue, 1e-9)
	bonus, ok := component(res, "confirmation_bonus")
	require.True(t, ok)
	assert.InDelta(t, 6, bonus.WeightedValue, 1e-9)
}

func TestEvaluate_ComponentsSumToTotal(t *testing.T) {
	inputs := map[string]func(*Input){
		"strong long": func(*Input) {},
		"short": func(in *Input) {
			in.Snapshot.RSI = 85
			in.Snapshot.MACD = model.MACD{Line: -0.5, Signal: -0.1, Histogram: -0.4}
			in.Snapshot.ShortMA, in.Snapshot.LongMA = 95, 100
		},
		"clamped high": func(in *Input) {
			in.MLProbability = prob(1)
			in.Correlation = &model.CorrelationSignal{Trend: model.TrendBullish, Strength: 1, Bonus: 10}
			in.Regime = model.RegimeBull
		},
		"volatile with patterns": func(in *Input) {
			in.Regime = model.RegimeVolatile
			in.Patterns = model.PatternSet{
				Breakout:     &model.Pattern{Name: "range breakout", Bias: model.TrendBullish, Confidence: 0.8},
				DoubleBottom: &model.Pattern{Name: "double bottom"},
				Candlesticks: []model.Pattern{{Name: "hammer", Bias: model.TrendBullish}},
			}
		},
	}
	for name, mutate := range inputs {
		t.Run(name, func(t *testing.T) {
			e, _, _ := newTestEngine(t, nil)
			in := strongLong()
			mutate(&in)
			res := e.Evaluate(context.Background(), in)
			assert.InDelta(t, res.TotalScore, res.ComponentSum(), 1e-9)
			assert.GreaterOrEqual(t, res.TotalScore, 0.0)
			assert.LessOrEqual(t, res.TotalScore, 100.0)
		})
	}
}

func TestEvaluate_QualityFilters(t *testing.T) {
	e, store, _ := newTestEngine(t, func(c *config.Scoring) {
		c.Filters.StrictRSIBand = true
	})
	in := strongLong()
	in.Snapshot.RSI = 50
	in.Snapshot.MACD = model.MACD{Line: 0.02, Signal: 0.01, Histogram: 0.01}
	in.Snapshot.Volume = 90
	in.Snapshot.ShortMA = 100

	res := e.Evaluate(context.Background(), in)
	assert.False(t, res.IsValid)
	require.True(t, strings.HasPrefix(res.Reason, "quality filters failed: "), res.Reason)
	assert.Equal(t, 2, strings.Count(res.Reason, "; "))
	assert.Contains(t, res.Reason, "volume ratio 0.90 below 1.00")
	assert.Contains(t, res.Reason, "RSI 50.0 inside neutral band")
	assert.Contains(t, res.Reason, "MACD histogram")
	assert.InDelta(t, res.TotalScore, res.ComponentSum(), 1e-9)

	_, ok := component(res, "ml_probability")
	assert.False(t, ok)

	d, ok := store.LastDecision(adaptive.Key("BTCUSDT", "1h"))
	require.True(t, ok)
	assert.False(t, d.Valid)
}

func TestEvaluate_RequireConfirmations(t *testing.T) {
	e, _, _ := newTestEngine(t, func(c *config.Scoring) {
		c.Filters.RequireConfirmations = true
		c.Filters.MinConfirmations = 5
	})
	res := e.Evaluate(context.Background(), strongLong())
	assert.False(t, res.IsValid)
	assert.Contains(t, res.Reason, "4 confirmations below 5")
}

func TestEvaluate_Hysteresis(t *testing.T) {
	e, _, clock := newTestEngine(t, func(c *config.Scoring) {
		c.ValidityThreshold = 81
	})
	eval := func(p float64) model.SignalResult {
		in := strongLong()
		in.MLProbability = prob(p)
		return e.Evaluate(context.Background(), in)
	}

	// 72 + 20p: 82, 80, 76, 82, 90
	res := eval(0.5)
	require.True(t, res.IsValid, res.Reason)

	res = eval(0.4)
	assert.True(t, res.IsValid, "held valid inside the band")
	assert.Contains(t, res.Reason, "held valid")

	res = eval(0.2)
	assert.False(t, res.IsValid, "dropped below threshold - band")

	res = eval(0.5)
	assert.False(t, res.IsValid, "needs threshold + band to turn valid again")
	assert.Contains(t, res.Reason, "held invalid")

	res = eval(0.9)
	assert.True(t, res.IsValid)

	clock.Advance(25 * time.Hour)
	res = eval(0.4)
	assert.False(t, res.IsValid, "stale decision does not hold")
}

func TestEvaluate_HysteresisStableNearThreshold(t *testing.T) {
	e, _, _ := newTestEngine(t, func(c *config.Scoring) {
		c.ValidityThreshold = 81
	})
	in := strongLong()
	in.MLProbability = prob(0.5)
	require.True(t, e.Evaluate(context.Background(), in).IsValid)

	// alternating 82 and 80 never flips
	for i := 0; i < 6; i++ {
		p := 0.4
		if i%2 == 1 {
			p = 0.5
		}
		in.MLProbability = prob(p)
		assert.True(t, e.Evaluate(context.Background(), in).IsValid)
	}
}

func TestEvaluate_NoDirectionalBias(t *testing.T) {
	e, _, _ := newTestEngine(t, func(c *config.Scoring) {
		c.ValidityThreshold = 10
	})
	in := strongLong()
	in.Snapshot.RSI = 50
	in.Snapshot.MACD = model.MACD{Line: 0.1, Signal: 0.3, Histogram: 0.1}
	in.Snapshot.ShortMA = 100
	in.Snapshot.Volume = 100

	res := e.Evaluate(context.Background(), in)
	assert.Equal(t, model.DirectionNone, res.Direction)
	assert.InDelta(t, 15, res.TotalScore, 1e-9)
	assert.False(t, res.IsValid)
	assert.Equal(t, "no directional bias", res.Reason)
}

func TestEvaluate_InvalidProbabilityDefaults(t *testing.T) {
	e, _, _ := newTestEngine(t, nil)
	in := strongLong()
	in.MLProbability = prob(1.5)
	res := e.Evaluate(context.Background(), in)
	assert.InDelta(t, 0.5, res.MLProbability, 1e-9)
}

func TestEvaluate_MLDriven(t *testing.T) {
	e, _, _ := newTestEngine(t, func(c *config.Scoring) {
		c.Weights.ML = 100
	})
	in := strongLong()
	in.MLProbability = prob(0.9)
	res := e.Evaluate(context.Background(), in)
	assert.Equal(t, 100.0, res.TotalScore)
	assert.True(t, res.IsMLDriven)

	in.MLProbability = prob(0.6)
	res = e.Evaluate(context.Background(), in)
	assert.False(t, res.IsMLDriven, "probability must exceed 0.7")
}

func TestEvaluate_Deterministic(t *testing.T) {
	a, _, _ := newTestEngine(t, nil)
	b, _, _ := newTestEngine(t, nil)
	in := strongLong()
	in.Regime = model.RegimeBull
	in.Correlation = &model.CorrelationSignal{Trend: model.TrendBullish, Strength: 0.6}

	assert.Equal(t, a.Evaluate(context.Background(), in), b.Evaluate(context.Background(), in))
}

func TestEvaluate_CorrelationAlignment(t *testing.T) {
	e, _, _ := newTestEngine(t, nil)
	in := strongLong()
	in.Correlation = &model.CorrelationSignal{Trend: model.TrendBullish, Strength: 0.8}

	res := e.Evaluate(context.Background(), in)
	corr, ok := component(res, "correlation")
	require.True(t, ok)
	assert.Greater(t, corr.WeightedValue, 0.0)
	_, ok = component(res, "trend_correlation_alignment")
	assert.True(t, ok)

	e2, _, _ := newTestEngine(t, nil)
	in.Correlation = &model.CorrelationSignal{Trend: model.TrendBearish, Strength: 0.8}
	res = e2.Evaluate(context.Background(), in)
	corr, ok = component(res, "correlation")
	require.True(t, ok)
	assert.Less(t, corr.WeightedValue, 0.0)
}

func TestEvaluate_SidewaysBreakout(t *testing.T) {
	e, _, _ := newTestEngine(t, nil)
	in := strongLong()
	in.Regime = model.RegimeSideways
	in.Patterns.Breakout = &model.Pattern{Name: "range breakout", Bias: model.TrendBullish, Confidence: 0.9}

	res := e.Evaluate(context.Background(), in)
	assert.Equal(t, model.TrendNeutral, res.EffectiveTrend)
	_, ok := component(res, "sideways_breakout")
	assert.True(t, ok)
	_, ok = component(res, "trend_alignment")
	assert.False(t, ok)
}

// counterLong is strongLong against a bear regime: 59.4 after the regime penalty,
// 65.4 after the confirmation bonus, reversal strength exactly 40.
func counterLong() Input {
	in := strongLong()
	in.Regime = model.RegimeBear
	return in
}

func TestEvaluate_CounterTrendGranted(t *testing.T) {
	e, store, _ := newTestEngine(t, nil)

	res := e.Evaluate(context.Background(), counterLong())
	assert.True(t, res.CounterTrend)
	assert.Equal(t, model.TrendBearish, res.EffectiveTrend)
	assert.InDelta(t, 70.4, res.TotalScore, 1e-6)
	assert.True(t, res.IsValid, res.Reason)
	_, ok := component(res, "counter_trend_moderate")
	assert.True(t, ok)

	count, last := store.CounterTrendUsage()
	assert.Equal(t, 1, count)
	assert.False(t, last.IsZero())
}

func TestEvaluate_CounterTrendCap(t *testing.T) {
	e, store, _ := newTestEngine(t, nil)
	for i := 0; i < 3; i++ {
		require.True(t, store.TryRecordCounterTrend(3))
	}

	res := e.Evaluate(context.Background(), counterLong())
	assert.True(t, res.CounterTrend)
	assert.LessOrEqual(t, res.TotalScore, 25.0)
	assert.False(t, res.IsValid)
	_, ok := component(res, "counter_trend_blocked")
	assert.True(t, ok)

	count, _ := store.CounterTrendUsage()
	assert.Equal(t, 3, count)
}

func TestEvaluate_CounterTrendCooldown(t *testing.T) {
	e, store, clock := newTestEngine(t, nil)
	require.True(t, store.TryRecordCounterTrend(3))

	res := e.Evaluate(context.Background(), counterLong())
	assert.InDelta(t, 39.24, res.TotalScore, 1e-6)
	assert.False(t, res.IsValid)
	_, ok := component(res, "counter_trend_cooldown")
	assert.True(t, ok)

	clock.Advance(5 * time.Hour)
	res = e.Evaluate(context.Background(), counterLong())
	assert.True(t, res.IsValid, res.Reason)
	count, _ := store.CounterTrendUsage()
	assert.Equal(t, 2, count)
}

func TestEvaluate_WeakReversal(t *testing.T) {
	e, store, _ := newTestEngine(t, nil)
	in := counterLong()
	in.Snapshot.Volume = 160

	res := e.Evaluate(context.Background(), in)
	assert.True(t, res.CounterTrend)
	_, ok := component(res, "counter_trend_weak")
	assert.True(t, ok)

	count, _ := store.CounterTrendUsage()
	assert.Zero(t, count, "weak reversals do not consume the daily allowance")
}

func TestEvaluate_ConcurrentCounterTrendRespectsCap(t *testing.T) {
	e, store, _ := newTestEngine(t, nil)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			in := counterLong()
			in.Symbol = "SYM" + string(rune('A'+i))
			e.Evaluate(context.Background(), in)
		}(i)
	}
	wg.Wait()

	count, _ := store.CounterTrendUsage()
	assert.LessOrEqual(t, count, 3)
}

func TestDivergenceClosesFollowSnapshotSeries(t *testing.T) {
	in := strongLong()
	assert.Equal(t, in.Candles.Close, divergenceCloses(in))

	clean := testCandles(59)
	in.Snapshot.Candles = clean
	assert.Equal(t, clean.Close, divergenceCloses(in))
}

func TestEvaluate_ConfiguredFactorPoints(t *testing.T) {
	base, _, _ := newTestEngine(t, nil)
	tuned, _, _ := newTestEngine(t, func(c *config.Scoring) {
		c.Volume.HighPoints = 4
	})

	res := base.Evaluate(context.Background(), strongLong())
	assert.InDelta(t, 82, res.TotalScore, 1e-6)
	vol, ok := component(res, "volume")
	require.True(t, ok)
	assert.Equal(t, 10.0, vol.RawValue)

	res = tuned.Evaluate(context.Background(), strongLong())
	assert.InDelta(t, 76, res.TotalScore, 1e-6)
	vol, _ = component(res, "volume")
	assert.Equal(t, 4.0, vol.RawValue)
}

func TestEvaluate_ConfiguredReversalPoints(t *testing.T) {
	e, store, _ := newTestEngine(t, func(c *config.Scoring) {
		c.CounterTrend.Reversal.Volume = 10
	})

	res := e.Evaluate(context.Background(), counterLong())
	assert.True(t, res.CounterTrend)
	weak, ok := component(res, "counter_trend_weak")
	require.True(t, ok)
	assert.InDelta(t, 35, weak.RawValue, 1e-9)

	count, _ := store.CounterTrendUsage()
	assert.Zero(t, count)
}

func TestEvaluate_BreakoutWithoutPrevailingTrend(t *testing.T) {
	e, _, _ := newTestEngine(t, nil)
	in := strongLong()
	in.Snapshot.ShortMA, in.Snapshot.LongMA = 100.05, 100
	in.Patterns.Breakout = &model.Pattern{Name: "range breakout", Bias: model.TrendBullish, Confidence: 0.8}

	res := e.Evaluate(context.Background(), in)
	assert.Equal(t, model.TrendNeutral, res.EffectiveTrend)
	bonus, ok := component(res, "sideways_breakout")
	require.True(t, ok)
	assert.InDelta(t, 8, bonus.WeightedValue, 1e-9)
}
