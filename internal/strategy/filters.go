package strategy

import (
	"fmt"

	"PerpSentinel/internal/model"
)

// qualityFilters returns one reason per failed hard check, in a fixed order.
func (e *Engine) qualityFilters(snap *model.IndicatorSnapshot, confirmations int) []string {
	f := e.cfg.Filters
	var reasons []string

	if ratio := snap.VolumeRatio(); f.MinVolumeRatio > 0 && ratio < f.MinVolumeRatio {
		reasons = append(reasons, fmt.Sprintf("volume ratio %.2f below %.2f", ratio, f.MinVolumeRatio))
	}
	if f.StrictRSIBand && snap.RSI >= f.NeutralRSILow && snap.RSI <= f.NeutralRSIHigh {
		reasons = append(reasons, fmt.Sprintf("RSI %.1f inside neutral band [%.0f, %.0f]", snap.RSI, f.NeutralRSILow, f.NeutralRSIHigh))
	}
	if f.RequireConfirmations && confirmations < f.MinConfirmations {
		reasons = append(reasons, fmt.Sprintf("%d confirmations below %d", confirmations, f.MinConfirmations))
	}
	if pct := macdHistPct(snap); f.MinMACDHistPct > 0 && pct < f.MinMACDHistPct {
		reasons = append(reasons, fmt.Sprintf("MACD histogram %.3f%% below %.3f%%", pct, f.MinMACDHistPct))
	}
	return reasons
}

// applyRegime scales the running score by a bounded percentage for the market regime.
func (e *Engine) applyRegime(sc *scorer, regime model.Regime, signal model.Trend) {
	c := e.cfg
	var pct float64
	switch regime {
	case model.RegimeBull, model.RegimeBear:
		if signal == model.TrendNeutral {
			return
		}
		if regime.Trend() == signal {
			pct = c.RegimeAlignedPct
		} else {
			pct = -c.RegimeOpposedPct
		}
	case model.RegimeVolatile:
		pct = -c.RegimeVolatilePct
	default:
		return
	}
	pct = bound(pct, c.MaxRegimeAdjustPct)
	sc.adjust("regime", pct, positive(sc.running)*pct/100, fmt.Sprintf("%s regime %+.1f%%", regime, pct))
}

// applyCorrelation scales the running score by the benchmark correlation. Weak correlation is damped.
func (e *Engine) applyCorrelation(sc *scorer, corr *model.CorrelationSignal, signal model.Trend) {
	if corr == nil || corr.Trend == model.TrendNeutral || corr.Trend == "" || signal == model.TrendNeutral {
		return
	}
	c := e.cfg
	strength := clamp01(corr.Strength)

	var pct float64
	if corr.Trend == signal {
		pct = corr.Bonus
		if pct == 0 {
			pct = c.CorrelationBonusPct
		}
	} else {
		pct = corr.Penalty
		if pct == 0 {
			pct = c.CorrelationPenaltyPct
		}
		pct = -pct
	}
	pct *= strength
	if strength < c.WeakCorrelation {
		pct *= 0.5
	}
	pct = bound(pct, c.MaxCorrelationAdjustPct)
	sc.adjust("correlation", pct, positive(sc.running)*pct/100,
		fmt.Sprintf("%s benchmark, strength %.2f, %+.1f%%", corr.Trend, strength, pct))
}

func bound(v, limit float64) float64 {
	if limit <= 0 {
		return v
	}
	if v > limit {
		return limit
	}
	if v < -limit {
		return -limit
	}
	return v
}

func positive(v float64) float64 {
	if v < 0 {
		return 0
	}
	return v
}
