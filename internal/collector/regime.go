package collector

import (
	"context"
	"errors"

	"PerpSentinel/internal/model"
)

// RegimeClassifier tags the market regime of a snapshot.
type RegimeClassifier interface {
	Classify(ctx context.Context, snap *model.IndicatorSnapshot) (model.Regime, error)
}

// IndicatorRegime classifies from realized volatility and MA separation, both in percent.
type IndicatorRegime struct {
	VolatilePct float64
	TrendPct    float64
}

func NewIndicatorRegime() IndicatorRegime {
	return IndicatorRegime{VolatilePct: 2.5, TrendPct: 1.0}
}

func (r IndicatorRegime) Classify(_ context.Context, snap *model.IndicatorSnapshot) (model.Regime, error) {
	if snap == nil || !(snap.LongMA > 0) {
		return model.RegimeUnknown, errors.New("snapshot has no long MA")
	}
	if r.VolatilePct > 0 && snap.Volatility >= r.VolatilePct {
		return model.RegimeVolatile, nil
	}
	sep := (snap.ShortMA - snap.LongMA) / snap.LongMA * 100
	switch {
	case sep >= r.TrendPct:
		return model.RegimeBull, nil
	case sep <= -r.TrendPct:
		return model.RegimeBear, nil
	}
	return model.RegimeSideways, nil
}
