package strategy

import (
	"fmt"
	"math"
	"time"

	"PerpSentinel/internal/calculator"
	"PerpSentinel/internal/model"
)

// effectiveTrend is the regime's trend when the regime is directional, else the local MA trend.
func (e *Engine) effectiveTrend(regime model.Regime, snap *model.IndicatorSnapshot) model.Trend {
	if t := regime.Trend(); t != model.TrendNeutral {
		return t
	}
	if regime == model.RegimeSideways || !(snap.LongMA > 0) {
		return model.TrendNeutral
	}
	sep := (snap.ShortMA - snap.LongMA) / snap.LongMA * 100
	switch {
	case sep > e.cfg.TrendDeadBandPct:
		return model.TrendBullish
	case sep < -e.cfg.TrendDeadBandPct:
		return model.TrendBearish
	}
	return model.TrendNeutral
}

// applyTrendPolicy rewards trend-following signals and rate-limits counter-trend ones.
// It reports whether the signal was treated as counter-trend.
func (e *Engine) applyTrendPolicy(sc *scorer, in Input, signal, effective model.Trend, now time.Time) bool {
	c := e.cfg

	if in.Regime == model.RegimeSideways || effective == model.TrendNeutral {
		if b := in.Patterns.Breakout; b != nil && signal != model.TrendNeutral && b.Confidence >= c.Patterns.StrongBreakout &&
			(b.Bias == signal || b.Bias == model.TrendNeutral || b.Bias == "") {
			sc.adjust("sideways_breakout", b.Confidence, c.SidewaysBreakoutBonus,
				fmt.Sprintf("breakout without a prevailing trend, confidence %.2f", b.Confidence))
		}
		return false
	}
	if signal == model.TrendNeutral {
		return false
	}

	if signal == effective {
		sc.adjust("trend_alignment", 1, c.TrendAlignBonus, fmt.Sprintf("aligned with %s trend", effective))
		if in.Correlation != nil && in.Correlation.Trend == signal {
			sc.adjust("trend_correlation_alignment", 1, c.TrendAlignCorrelationBonus, "benchmark agrees with trend")
		}
		return false
	}

	ct := c.CounterTrend
	count, last := e.state.CounterTrendUsage()
	if count >= ct.DailyCap {
		e.blockCounterTrend(sc, fmt.Sprintf("daily counter-trend cap %d reached", ct.DailyCap))
		return true
	}
	if !last.IsZero() && now.Sub(last) < ct.Cooldown {
		delta := -positive(sc.running) * (1 - ct.CooldownMultiplier)
		sc.adjust("counter_trend_cooldown", ct.CooldownMultiplier, delta,
			fmt.Sprintf("last counter-trend signal %s ago, cooldown %s", now.Sub(last).Round(time.Minute), ct.Cooldown))
		return true
	}

	strength := e.reversalStrength(in, signal, sc.confirmations)
	switch {
	case strength < ct.MinReversalStrength:
		delta := -positive(sc.running) * (1 - ct.WeakReversalMultiplier)
		sc.adjust("counter_trend_weak", strength, delta,
			fmt.Sprintf("reversal strength %.0f below %.0f", strength, ct.MinReversalStrength))
	case !e.state.TryRecordCounterTrend(ct.DailyCap):
		e.blockCounterTrend(sc, fmt.Sprintf("daily counter-trend cap %d reached", ct.DailyCap))
	case strength >= ct.ExtremeReversalStrength:
		sc.adjust("counter_trend_extreme", strength, ct.ExtremeReversalBonus,
			fmt.Sprintf("extreme reversal strength %.0f", strength))
	default:
		sc.adjust("counter_trend_moderate", strength, ct.ModerateReversalBonus,
			fmt.Sprintf("moderate reversal strength %.0f", strength))
	}
	return true
}

// blockCounterTrend pushes the running score down to the blocked tier.
func (e *Engine) blockCounterTrend(sc *scorer, desc string) {
	ct := e.cfg.CounterTrend
	target := math.Min(positive(sc.running)*ct.BlockedMultiplier, ct.BlockedScoreCap)
	delta := math.Min(0, target-sc.running)
	sc.adjust("counter_trend_blocked", ct.BlockedScoreCap, delta, desc)
}

// reversalStrength scores, 0 to 100, how convincing a reversal against the trend looks.
func (e *Engine) reversalStrength(in Input, signal model.Trend, confirmations int) float64 {
	c := e.cfg
	rp := c.CounterTrend.Reversal
	snap := in.Snapshot
	strength := 0.0

	switch signal {
	case model.TrendBullish:
		if snap.RSI <= c.RSIExtremeOversold {
			strength += rp.ExtremeRSI
		} else if snap.RSI <= c.RSIOversold {
			strength += rp.RSIZone
		}
	case model.TrendBearish:
		if snap.RSI >= c.RSIExtremeOverbought {
			strength += rp.ExtremeRSI
		} else if snap.RSI >= c.RSIOverbought {
			strength += rp.RSIZone
		}
	}
	if calculator.RSIDivergence(divergenceCloses(in), snap.RSISeries, c.CounterTrend.DivergenceLookback) == signal {
		strength += rp.Divergence
	}
	for _, p := range in.Patterns.Reversals() {
		if p.Bias == signal {
			strength += rp.Pattern
			break
		}
	}
	if snap.VolumeRatio() >= rp.VolumeRatio {
		strength += rp.Volume
	}
	if confirmations >= rp.MinConfirmations {
		strength += rp.Confirmations
	}
	return math.Min(100, strength)
}

// divergenceCloses returns the closes the snapshot's RSI series was computed from, so both
// series end on the same bar.
func divergenceCloses(in Input) []float64 {
	if in.Snapshot.Candles.Len() > 0 {
		return in.Snapshot.Candles.Close
	}
	return in.Candles.Close
}
