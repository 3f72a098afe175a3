package collector

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"PerpSentinel/internal/adaptive"
	"PerpSentinel/internal/model"
)

const klines = `[
 [1772438400000,"100.0","101.5","99.5","101.0","1200.5",1772441999999,"0",10,"0","0","0"],
 [1772442000000,"101.0","102.0","100.5","101.8","900",1772445599999,"0",8,"0","0","0"]
]`

func TestBinanceFetcher(t *testing.T) {
	var query string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/fapi/v1/klines", r.URL.Path)
		query = r.URL.RawQuery
		_, _ = w.Write([]byte(klines))
	}))
	defer srv.Close()

	f := NewBinanceFetcher(srv.URL+"/", "", time.Second)
	c, err := f.FetchCandles(context.Background(), "btcusdt", "1h", 2)
	require.NoError(t, err)
	assert.Equal(t, "interval=1h&limit=2&symbol=BTCUSDT", query)
	require.Equal(t, 2, c.Len())
	assert.Equal(t, 101.0, c.Close[0])
	assert.Equal(t, 102.0, c.High[1])
	assert.Equal(t, 900.0, c.Volume[1])
	assert.Equal(t, int64(1772438400000), c.Time[0].UnixMilli())
}

func TestBinanceFetcher_Errors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("symbol") == "BAD" {
			_, _ = w.Write([]byte(`[[1,"x","1","1","1","1"]]`))
			return
		}
		http.Error(w, `{"code":-1121,"msg":"Invalid symbol."}`, http.StatusBadRequest)
	}))
	defer srv.Close()

	f := NewBinanceFetcher(srv.URL, "", time.Second)
	_, err := f.FetchCandles(context.Background(), "NOPE", "1h", 10)
	assert.ErrorContains(t, err, "status 400")
	_, err = f.FetchCandles(context.Background(), "BAD", "1h", 10)
	assert.Error(t, err)
}

func TestMockFetcher_Deterministic(t *testing.T) {
	now := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	m := &MockFetcher{Price: 50, Now: func() time.Time { return now }}
	a, err := m.FetchCandles(context.Background(), "BTCUSDT", "15m", 120)
	require.NoError(t, err)
	b, _ := m.FetchCandles(context.Background(), "BTCUSDT", "15m", 120)
	assert.Equal(t, a, b)
	assert.Equal(t, 120, a.Len())
	assert.Equal(t, 15*time.Minute, a.Time[1].Sub(a.Time[0]))

	other, _ := m.FetchCandles(context.Background(), "ETHUSDT", "15m", 120)
	assert.NotEqual(t, a.Close, other.Close)
}

func flatCandles(n int, price float64) []model.OHLCV {
	bars := make([]model.OHLCV, n)
	for i := range bars {
		bars[i] = model.OHLCV{Open: price, High: price + 1, Low: price - 1, Close: price, Volume: 100}
	}
	return bars
}

func TestBreakoutDetector(t *testing.T) {
	d := NewBreakoutDetector()

	bars := flatCandles(30, 100)
	bars[29] = model.OHLCV{Open: 100, High: 104.5, Low: 100, Close: 104, Volume: 300}
	ps, err := d.Detect(context.Background(), "BTCUSDT", "1h", model.CandlesFromBars(bars))
	require.NoError(t, err)
	require.NotNil(t, ps.Breakout)
	assert.Equal(t, model.TrendBullish, ps.Breakout.Bias)
	assert.GreaterOrEqual(t, ps.Breakout.Confidence, 0.5)
	assert.LessOrEqual(t, ps.Breakout.Confidence, 1.0)

	bars[29] = model.OHLCV{Open: 100, High: 100, Low: 95, Close: 96, Volume: 300}
	ps, err = d.Detect(context.Background(), "BTCUSDT", "1h", model.CandlesFromBars(bars))
	require.NoError(t, err)
	require.NotNil(t, ps.Breakout)
	assert.Equal(t, model.TrendBearish, ps.Breakout.Bias)

	ps, err = d.Detect(context.Background(), "BTCUSDT", "1h", model.CandlesFromBars(flatCandles(30, 100)))
	require.NoError(t, err)
	assert.True(t, ps.Empty())

	_, err = d.Detect(context.Background(), "BTCUSDT", "1h", model.CandlesFromBars(flatCandles(5, 100)))
	assert.Error(t, err)
}

func TestEngulfing(t *testing.T) {
	p := engulfing(
		model.OHLCV{Open: 101, Close: 100},
		model.OHLCV{Open: 99.5, Close: 101.5},
	)
	require.NotNil(t, p)
	assert.Equal(t, model.TrendBullish, p.Bias)
	assert.Nil(t, engulfing(model.OHLCV{Open: 100, Close: 101}, model.OHLCV{Open: 101, Close: 102}))
}

type statsStub adaptive.Stats

func (s statsStub) SymbolStats(string) adaptive.Stats { return adaptive.Stats(s) }

func TestEstimators(t *testing.T) {
	p, err := NeutralEstimator{}.Estimate(context.Background(), "BTCUSDT", "1h", nil)
	require.NoError(t, err)
	assert.Equal(t, 0.5, p)

	p, _ = OutcomeEstimator{Stats: statsStub{}}.Estimate(context.Background(), "BTCUSDT", "1h", nil)
	assert.Equal(t, 0.5, p)
	p, _ = OutcomeEstimator{Stats: statsStub{Trades: 8, Wins: 6}}.Estimate(context.Background(), "BTCUSDT", "1h", nil)
	assert.InDelta(t, 0.7, p, 1e-9)
}

func TestIndicatorRegime(t *testing.T) {
	r := NewIndicatorRegime()
	cases := []struct {
		name string
		snap model.IndicatorSnapshot
		want model.Regime
	}{
		{"volatile", model.IndicatorSnapshot{Volatility: 3, ShortMA: 110, LongMA: 100}, model.RegimeVolatile},
		{"bull", model.IndicatorSnapshot{Volatility: 1, ShortMA: 102, LongMA: 100}, model.RegimeBull},
		{"bear", model.IndicatorSnapshot{Volatility: 1, ShortMA: 97, LongMA: 100}, model.RegimeBear},
		{"sideways", model.IndicatorSnapshot{Volatility: 1, ShortMA: 100.2, LongMA: 100}, model.RegimeSideways},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := r.Classify(context.Background(), &tc.snap)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
	_, err := r.Classify(context.Background(), &model.IndicatorSnapshot{})
	assert.Error(t, err)
}

type countingFetcher struct {
	MockFetcher
	calls int32
}

func (c *countingFetcher) FetchCandles(ctx context.Context, symbol, tf string, limit int) (model.Candles, error) {
	atomic.AddInt32(&c.calls, 1)
	return c.MockFetcher.FetchCandles(ctx, symbol, tf, limit)
}

func TestBenchmarkCorrelation(t *testing.T) {
	now := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	f := &countingFetcher{MockFetcher: MockFetcher{Price: 100, Now: func() time.Time { return now }}}
	bc := NewBenchmarkCorrelation(f, "BTCUSDT")

	bench, _ := f.MockFetcher.FetchCandles(context.Background(), "BTCUSDT", "1h", 100)
	sig, err := bc.Correlate(context.Background(), "ALTUSDT", "1h", bench)
	require.NoError(t, err)
	require.NotNil(t, sig)
	assert.InDelta(t, 1, sig.Strength, 1e-9, "identical series correlate perfectly")
	assert.Equal(t, "BTCUSDT", sig.Source)
	assert.NotEqual(t, model.Trend(""), sig.Trend)

	sig, err = bc.Correlate(context.Background(), "btcusdt", "1h", bench)
	require.NoError(t, err)
	assert.Nil(t, sig)
	assert.Equal(t, int32(1), atomic.LoadInt32(&f.calls))
}

type slowDetector struct{}

func (slowDetector) Detect(ctx context.Context, _, _ string, _ model.Candles) (model.PatternSet, error) {
	<-ctx.Done()
	return model.PatternSet{Breakout: &model.Pattern{}}, nil
}

type panicRegime struct{}

func (panicRegime) Classify(context.Context, *model.IndicatorSnapshot) (model.Regime, error) {
	panic("boom")
}

type failingCorrelation struct{}

func (failingCorrelation) Correlate(context.Context, string, string, model.Candles) (*model.CorrelationSignal, error) {
	return &model.CorrelationSignal{Trend: model.TrendBullish}, errors.New("unavailable")
}

func TestFallbacks(t *testing.T) {
	ctx := context.Background()

	start := time.Now()
	ps := DetectPatterns(ctx, slowDetector{}, 20*time.Millisecond, "BTCUSDT", "1h", model.Candles{})
	assert.True(t, ps.Empty())
	assert.Less(t, time.Since(start), time.Second)

	assert.Equal(t, model.RegimeUnknown, ClassifyRegime(ctx, panicRegime{}, time.Second, "BTCUSDT", nil))
	assert.Nil(t, Correlate(ctx, failingCorrelation{}, time.Second, "BTCUSDT", "1h", model.Candles{}))
	assert.Nil(t, EstimateProbability(ctx, nil, time.Second, "BTCUSDT", "1h", nil))

	p := EstimateProbability(ctx, NeutralEstimator{}, time.Second, "BTCUSDT", "1h", nil)
	require.NotNil(t, p)
	assert.Equal(t, 0.5, *p)
}
