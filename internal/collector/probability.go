package collector

import (
	"context"

	"PerpSentinel/internal/adaptive"
	"PerpSentinel/internal/model"
)

// ProbabilityEstimator estimates the probability that a signal reaches its targets.
type ProbabilityEstimator interface {
	Estimate(ctx context.Context, symbol, timeframe string, snap *model.IndicatorSnapshot) (float64, error)
}

// NeutralEstimator always answers 0.5.
type NeutralEstimator struct{}

func (NeutralEstimator) Estimate(context.Context, string, string, *model.IndicatorSnapshot) (float64, error) {
	return 0.5, nil
}

// StatsSource exposes per-symbol outcome statistics.
type StatsSource interface {
	SymbolStats(symbol string) adaptive.Stats
}

// OutcomeEstimator is the Laplace-smoothed win rate of the symbol's recorded outcomes.
type OutcomeEstimator struct {
	Stats StatsSource
}

func (e OutcomeEstimator) Estimate(_ context.Context, symbol, _ string, _ *model.IndicatorSnapshot) (float64, error) {
	st := e.Stats.SymbolStats(symbol)
	return float64(st.Wins+1) / float64(st.Trades+2), nil
}
