package strategy

import (
	"fmt"
	"math"

	"PerpSentinel/internal/model"
)

// factor is a scored input before the trade side is known. Directional factors carry signed
// points (positive is bullish) and are re-signed once the direction is fixed.
type factor struct {
	name        string
	raw         float64
	weight      float64
	directional bool
	desc        string
}

func (e *Engine) indicatorFactors(sc *scorer, snap *model.IndicatorSnapshot) []factor {
	return []factor{
		e.scoreRSI(sc, snap.RSI),
		e.scoreMACD(sc, snap),
		e.scoreMACrossover(sc, snap),
	}
}

// scoreRSI grades RSI by zone; the deeper into a zone, the more points.
func (e *Engine) scoreRSI(sc *scorer, rsi float64) factor {
	c := e.cfg
	fp := c.Factors
	var points float64
	switch {
	case rsi <= c.RSIExtremeOversold:
		points = fp.RSIExtreme
		sc.confirm()
		sc.tag("extreme_rsi")
	case rsi <= c.RSIOversold:
		points = fp.RSIZone
		sc.confirm()
	case rsi < fp.RSIMildLow:
		points = fp.RSIMild
	case rsi >= c.RSIExtremeOverbought:
		points = -fp.RSIExtreme
		sc.confirm()
		sc.tag("extreme_rsi")
	case rsi >= c.RSIOverbought:
		points = -fp.RSIZone
		sc.confirm()
	case rsi > fp.RSIMildHigh:
		points = -fp.RSIMild
	}
	return factor{
		name: "rsi", raw: points, weight: c.Weights.RSI, directional: true,
		desc: fmt.Sprintf("RSI %.1f", rsi),
	}
}

// macdHistPct is the MACD histogram magnitude as a percentage of price.
func macdHistPct(snap *model.IndicatorSnapshot) float64 {
	if !(snap.Close > 0) {
		return 0
	}
	return math.Abs(snap.MACD.Histogram) / snap.Close * 100
}

// scoreMACD only counts a histogram above the minimum magnitude whose line/signal order agrees with it.
func (e *Engine) scoreMACD(sc *scorer, snap *model.IndicatorSnapshot) factor {
	m := snap.MACD
	pct := macdHistPct(snap)
	f := factor{name: "macd", weight: e.cfg.Weights.MACD, directional: true}

	agree := (m.Histogram > 0 && m.Line > m.Signal) || (m.Histogram < 0 && m.Line < m.Signal)
	switch {
	case pct < e.cfg.Filters.MinMACDHistPct:
		f.desc = fmt.Sprintf("histogram %.3f%% below minimum", pct)
	case !agree:
		f.desc = "histogram disagrees with line/signal order"
	default:
		fp := e.cfg.Factors
		f.raw = math.Copysign(math.Min(fp.MACDCap, fp.MACDBase+pct*fp.MACDScale), m.Histogram)
		f.desc = fmt.Sprintf("histogram %+.3f%%", math.Copysign(pct, m.Histogram))
		sc.confirm()
		if pct >= e.cfg.StrongMACDHistPct {
			sc.tag("strong_macd")
		}
	}
	return f
}

// scoreMACrossover scores short-vs-long MA separation above the minimum gap.
func (e *Engine) scoreMACrossover(sc *scorer, snap *model.IndicatorSnapshot) factor {
	f := factor{name: "ma_crossover", weight: e.cfg.Weights.MA, directional: true}
	if !(snap.LongMA > 0) {
		f.desc = "long MA unavailable"
		return f
	}
	sep := (snap.ShortMA - snap.LongMA) / snap.LongMA * 100
	f.desc = fmt.Sprintf("separation %+.2f%%", sep)
	if math.Abs(sep) < e.cfg.MinMASeparationPct {
		return f
	}
	fp := e.cfg.Factors
	f.raw = math.Copysign(math.Min(fp.MACap, fp.MABase+math.Abs(sep)*fp.MAScale), sep)
	sc.confirm()
	if math.Abs(sep) >= e.cfg.StrongTrendPct {
		sc.tag("strong_trend")
	}
	return f
}

func biasSign(t model.Trend) float64 {
	switch t {
	case model.TrendBullish:
		return 1
	case model.TrendBearish:
		return -1
	}
	return 0
}

func (e *Engine) patternFactors(sc *scorer, ps model.PatternSet) []factor {
	w := e.cfg.Weights.Pattern
	pp := e.cfg.Patterns
	if ps.Empty() {
		return []factor{{
			name: "pattern_base", raw: e.cfg.PatternBaseScore, weight: w,
			desc: "no pattern detected",
		}}
	}

	var out []factor
	if b := ps.Breakout; b != nil {
		conf := clamp01(b.Confidence)
		out = append(out, factor{
			name: "breakout", raw: biasSign(b.Bias) * pp.Breakout * conf, weight: w, directional: true,
			desc: fmt.Sprintf("%s breakout, confidence %.2f", b.Bias, conf),
		})
		if conf >= pp.StrongBreakout {
			sc.confirm()
			sc.tag("breakout")
		}
	}
	for _, p := range ps.Reversals() {
		out = append(out, factor{
			name: "reversal_pattern", raw: biasSign(p.Bias) * pp.Reversal, weight: w, directional: true,
			desc: fmt.Sprintf("%s (%s)", p.Name, p.Bias),
		})
	}
	for _, p := range ps.Continuations() {
		out = append(out, factor{
			name: "continuation_pattern", raw: biasSign(p.Bias) * pp.Continuation * clamp01(p.Confidence), weight: w, directional: true,
			desc: fmt.Sprintf("%s (%s), confidence %.2f", p.Name, p.Bias, p.Confidence),
		})
	}
	if len(ps.Candlesticks) > 0 {
		points := 0.0
		for _, p := range ps.Candlesticks {
			points += biasSign(p.Bias) * pp.Candlestick
		}
		points = math.Max(-pp.CandlestickCap, math.Min(pp.CandlestickCap, points))
		out = append(out, factor{
			name: "candlesticks", raw: points, weight: w, directional: true,
			desc: fmt.Sprintf("%d candlestick patterns", len(ps.Candlesticks)),
		})
	}
	return out
}

// volumeFactor rewards volume above its average and penalizes thin volume. It has no direction.
func (e *Engine) volumeFactor(sc *scorer, snap *model.IndicatorSnapshot) factor {
	f := factor{name: "volume", weight: e.cfg.Weights.Volume}
	if !(snap.VolumeMA > 0) {
		f.desc = "volume MA unavailable, treated as neutral"
		return f
	}
	ratio := snap.VolumeRatio()
	v := e.cfg.Volume
	switch {
	case ratio > v.Surge:
		f.raw = v.SurgePoints
		sc.tag("high_volume")
	case ratio > v.High:
		f.raw = v.HighPoints
	case ratio > v.Elevated:
		f.raw = v.ElevatedPoints
	case ratio < v.Dry:
		f.raw = v.DryPoints
	case ratio < v.Thin:
		f.raw = v.ThinPoints
	}
	if ratio > v.Elevated {
		sc.confirm()
	}
	f.desc = fmt.Sprintf("volume %.2fx average", ratio)
	return f
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Max(0, math.Min(1, v))
}
