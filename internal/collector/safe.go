package collector

import (
	"context"
	"time"

	"PerpSentinel/internal/logger"
	"PerpSentinel/internal/model"
)

// call runs fn with a timeout. A timeout, error or panic yields the zero value and false.
func call[T any](ctx context.Context, timeout time.Duration, what string, fn func(context.Context) (T, error)) (T, bool) {
	var zero T
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	type result struct {
		v   T
		err error
	}
	ch := make(chan result, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				logger.Errorf("%s panicked: %v", what, r)
				ch <- result{v: zero, err: context.Canceled}
			}
		}()
		v, err := fn(ctx)
		ch <- result{v: v, err: err}
	}()

	select {
	case r := <-ch:
		if r.err != nil {
			logger.Warnf("%s failed, using fallback: %v", what, r.err)
			return zero, false
		}
		return r.v, true
	case <-ctx.Done():
		logger.Warnf("%s timed out, using fallback: %v", what, ctx.Err())
		return zero, false
	}
}

// DetectPatterns falls back to an empty set.
func DetectPatterns(ctx context.Context, d PatternDetector, timeout time.Duration, symbol, timeframe string, c model.Candles) model.PatternSet {
	if d == nil {
		return model.PatternSet{}
	}
	ps, _ := call(ctx, timeout, "pattern detection "+symbol, func(ctx context.Context) (model.PatternSet, error) {
		return d.Detect(ctx, symbol, timeframe, c)
	})
	return ps
}

// EstimateProbability falls back to nil, which the engine treats as 0.5.
func EstimateProbability(ctx context.Context, e ProbabilityEstimator, timeout time.Duration, symbol, timeframe string, snap *model.IndicatorSnapshot) *float64 {
	if e == nil {
		return nil
	}
	p, ok := call(ctx, timeout, "probability estimate "+symbol, func(ctx context.Context) (float64, error) {
		return e.Estimate(ctx, symbol, timeframe, snap)
	})
	if !ok {
		return nil
	}
	return &p
}

// ClassifyRegime falls back to the unknown regime.
func ClassifyRegime(ctx context.Context, r RegimeClassifier, timeout time.Duration, symbol string, snap *model.IndicatorSnapshot) model.Regime {
	if r == nil {
		return model.RegimeUnknown
	}
	regime, _ := call(ctx, timeout, "regime classification "+symbol, func(ctx context.Context) (model.Regime, error) {
		return r.Classify(ctx, snap)
	})
	return regime
}

// Correlate falls back to nil (no correlation adjustment).
func Correlate(ctx context.Context, s CorrelationSource, timeout time.Duration, symbol, timeframe string, c model.Candles) *model.CorrelationSignal {
	if s == nil {
		return nil
	}
	sig, _ := call(ctx, timeout, "correlation "+symbol, func(ctx context.Context) (*model.CorrelationSignal, error) {
		return s.Correlate(ctx, symbol, timeframe, c)
	})
	return sig
}
