package indicator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"PerpSentinel/internal/config"
	"PerpSentinel/internal/logger"
	"PerpSentinel/internal/model"

	"golang.org/x/sync/singleflight"
)

// Tuner searches indicator periods for a series. Implementations should honor ctx.
type Tuner interface {
	Tune(ctx context.Context, candles model.Candles, current model.TunedParameters) (model.TunedParameters, error)
}

// Aggregator computes and caches indicator snapshots per (symbol, timeframe).
type Aggregator struct {
	cfg   config.Indicators
	tuner Tuner
	now   func() time.Time

	mu       sync.RWMutex
	cache    map[string]*model.IndicatorSnapshot
	params   map[string]model.TunedParameters
	lastTune map[string]time.Time

	group singleflight.Group
	wg    sync.WaitGroup
}

// NewAggregator creates an Aggregator. A nil tuner disables tuning.
func NewAggregator(cfg config.Indicators, tuner Tuner) *Aggregator {
	return &Aggregator{
		cfg:      cfg,
		tuner:    tuner,
		now:      time.Now,
		cache:    make(map[string]*model.IndicatorSnapshot),
		params:   make(map[string]model.TunedParameters),
		lastTune: make(map[string]time.Time),
	}
}

// SetClock overrides time.Now.
func (a *Aggregator) SetClock(now func() time.Time) { a.now = now }

// Key builds the cache key for a (symbol, timeframe) pair.
func Key(symbol, timeframe string) string {
	return symbol + "|" + timeframe
}

// GetIndicators returns the snapshot for the candles, served from cache when the candle set is
// unchanged and the timeframe TTL has not expired. The snapshot carries the validated candles, which
// callers must use instead of the raw input. On invalid input it returns a nil snapshot
// and an error wrapping ErrInsufficientData or ErrInvalidCandle.
func (a *Aggregator) GetIndicators(_ context.Context, symbol, timeframe string, candles model.Candles) (*model.IndicatorSnapshot, error) {
	clean, err := Validate(candles, a.cfg.MinCandles)
	if err != nil {
		logger.Warnf("%s %s candles rejected: %v", symbol, timeframe, err)
		return nil, fmt.Errorf("%s %s: %w", symbol, timeframe, err)
	}

	key := Key(symbol, timeframe)
	coh := model.CoherenceKey{CandleCount: candles.Len(), LastClose: candles.LastClose()}
	now := a.now()

	a.mu.RLock()
	cached := a.cache[key]
	a.mu.RUnlock()
	if cached != nil && cached.CoherenceKey == coh && now.Sub(cached.ComputedAt) < a.TTL(timeframe) {
		return cached, nil
	}

	snap := compute(symbol, timeframe, clean, a.Parameters(symbol, timeframe), a.cfg.VolumeMA, a.cfg.ATRPeriod)
	snap.ComputedAt = now
	snap.CoherenceKey = coh
	snap.Candles = clean

	a.mu.Lock()
	a.cache[key] = snap
	a.mu.Unlock()

	a.maybeTune(key, clean)
	return snap, nil
}

// Parameters returns the tuned parameters for the pair, or the configured defaults.
func (a *Aggregator) Parameters(symbol, timeframe string) model.TunedParameters {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.paramsLocked(Key(symbol, timeframe))
}

func (a *Aggregator) paramsLocked(key string) model.TunedParameters {
	if p, ok := a.params[key]; ok {
		return p
	}
	return model.TunedParameters{
		RSIPeriod:  a.cfg.RSIPeriod,
		MACDFast:   a.cfg.MACDFast,
		MACDSlow:   a.cfg.MACDSlow,
		MACDSignal: a.cfg.MACDSignal,
		ShortMA:    a.cfg.ShortMA,
		LongMA:     a.cfg.LongMA,
	}
}

// Cached returns the cached snapshot for the pair without recomputing.
func (a *Aggregator) Cached(symbol, timeframe string) *model.IndicatorSnapshot {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.cache[Key(symbol, timeframe)]
}

// Evict drops the cached snapshot for the pair.
func (a *Aggregator) Evict(symbol, timeframe string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.cache, Key(symbol, timeframe))
}

// Len returns the number of cached snapshots.
func (a *Aggregator) Len() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.cache)
}

// Wait blocks until every in-flight tuning run has finished or timed out.
func (a *Aggregator) Wait() { a.wg.Wait() }

// maybeTune starts a detached tuning run unless the key is cooling down or already tuning.
func (a *Aggregator) maybeTune(key string, candles model.Candles) {
	if a.tuner == nil || !a.cfg.Tuning.Enabled {
		return
	}
	now := a.now()
	a.mu.Lock()
	if last, ok := a.lastTune[key]; ok && now.Sub(last) < a.cfg.Tuning.Cooldown {
		a.mu.Unlock()
		return
	}
	a.lastTune[key] = now
	a.mu.Unlock()

	// A concurrent run for the same key joins the in-flight call instead of tuning twice.
	ch := a.group.DoChan(key, func() (interface{}, error) {
		a.tune(key, candles)
		return nil, nil
	})
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		<-ch
	}()
}

func (a *Aggregator) tune(key string, candles model.Candles) {
	defer func() {
		if r := recover(); r != nil {
			logger.Errorf("tuning %s panicked: %v", key, r)
		}
	}()

	a.mu.RLock()
	prev := a.paramsLocked(key)
	a.mu.RUnlock()

	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.Tuning.Timeout)
	defer cancel()

	type result struct {
		params model.TunedParameters
		err    error
	}
	done := make(chan result, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- result{err: fmt.Errorf("tuner panic: %v", r)}
			}
		}()
		p, err := a.tuner.Tune(ctx, candles, prev)
		done <- result{params: p, err: err}
	}()

	var res result
	select {
	case res = <-done:
	case <-ctx.Done():
		res.err = ctx.Err()
	}
	if res.err != nil {
		logger.Warnf("tuning %s failed, keeping previous parameters: %v", key, res.err)
		return
	}
	if err := checkParams(res.params); err != nil {
		logger.Warnf("tuning %s returned unusable parameters, keeping previous: %v", key, err)
		return
	}

	next := res.params
	next.TunedAt = a.now()
	a.mu.Lock()
	a.params[key] = next
	if snap := a.cache[key]; snap != nil {
		cp := *snap
		cp.TunedParameters = next
		a.cache[key] = &cp
	}
	a.mu.Unlock()
	logger.Infof("tuned %s: rsi=%d ma=%d/%d macd=%d/%d/%d", key,
		next.RSIPeriod, next.ShortMA, next.LongMA, next.MACDFast, next.MACDSlow, next.MACDSignal)
}

func checkParams(p model.TunedParameters) error {
	switch {
	case p.RSIPeriod <= 1:
		return fmt.Errorf("rsi period %d", p.RSIPeriod)
	case p.ShortMA <= 0 || p.LongMA <= p.ShortMA:
		return fmt.Errorf("ma pair %d/%d", p.ShortMA, p.LongMA)
	case p.MACDFast <= 0 || p.MACDSlow <= p.MACDFast || p.MACDSignal <= 0:
		return fmt.Errorf("macd %d/%d/%d", p.MACDFast, p.MACDSlow, p.MACDSignal)
	}
	return nil
}
