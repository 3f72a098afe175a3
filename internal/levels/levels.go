package levels

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"PerpSentinel/internal/config"
	"PerpSentinel/internal/logger"
	"PerpSentinel/internal/model"

	"github.com/shopspring/decimal"
)

var (
	ErrInvalidEntry     = errors.New("entry price must be positive and finite")
	ErrInvalidDirection = errors.New("direction must be long or short")
)

var (
	canonicalTargetPercents = []float64{1, 2, 3}
	canonicalStopPercent    = 2.0
)

// Calculator derives the entry, target ladder and stop for a signal.
type Calculator struct {
	cfg config.Levels
}

// NewCalculator creates a Calculator.
func NewCalculator(cfg config.Levels) *Calculator {
	return &Calculator{cfg: cfg}
}

// Compute builds the levels for entry in direction dir. A finite positive volatilityHint (ATR, in
// price units) selects the volatility ladder; otherwise the percentage ladder is used.
// Levels that violate the direction invariant are recomputed from the canonical rule.
func (c *Calculator) Compute(entry float64, dir model.Direction, volatilityHint float64) (model.TradingLevels, error) {
	if !finitePositive(entry) {
		return model.TradingLevels{}, fmt.Errorf("%w: %v", ErrInvalidEntry, entry)
	}
	sign := dir.Sign()
	if sign == 0 {
		return model.TradingLevels{}, fmt.Errorf("%w: %q", ErrInvalidDirection, dir)
	}

	var lv model.TradingLevels
	if finitePositive(volatilityHint) && len(c.cfg.TargetATRMultiples) > 0 && c.cfg.StopATRMultiple > 0 {
		lv = fromDistances(entry, dir, volatilityHint, c.cfg.TargetATRMultiples, c.cfg.StopATRMultiple, "volatility")
	} else {
		lv = fromPercents(entry, dir, c.cfg.TargetPercents, c.cfg.StopLossPercent, "percentage")
	}
	lv = c.round(lv)

	if err := Validate(lv); err != nil {
		logger.Warnf("levels for entry %.6f %s violate invariant (%v), recomputing canonically", entry, dir, err)
		lv = c.canonical(entry, dir)
	}
	lv.RiskRewardRatio = RiskReward(lv)
	return lv, nil
}

// Validate checks the direction invariant: for longs stop < entry < T1 < T2 < ...,
// for shorts stop > entry > T1 > T2 > ... > 0.
func Validate(lv model.TradingLevels) error {
	if len(lv.Targets) == 0 {
		return errors.New("no targets")
	}
	if !finitePositive(lv.Entry) || !finitePositive(lv.StopLoss) {
		return errors.New("entry and stop must be positive and finite")
	}
	sign := lv.Direction.Sign()
	if sign == 0 {
		return ErrInvalidDirection
	}
	if (lv.StopLoss-lv.Entry)*sign >= 0 {
		return fmt.Errorf("stop %.6f on the wrong side of entry %.6f", lv.StopLoss, lv.Entry)
	}
	prev := lv.Entry
	for i, t := range lv.Targets {
		if !finitePositive(t) {
			return fmt.Errorf("target %d is not positive and finite", i+1)
		}
		if (t-prev)*sign <= 0 {
			return fmt.Errorf("target %d (%.6f) does not extend past %.6f", i+1, t, prev)
		}
		prev = t
	}
	return nil
}

// RiskReward returns |T1 - entry| / |stop - entry|.
func RiskReward(lv model.TradingLevels) float64 {
	if len(lv.Targets) == 0 {
		return 0
	}
	risk := math.Abs(lv.StopLoss - lv.Entry)
	if risk == 0 {
		return 0
	}
	return math.Abs(lv.Targets[0]-lv.Entry) / risk
}

// canonical rebuilds the levels from the sanitized percentage ladder, without tick rounding.
// A degenerate configuration falls back to the built-in ladder.
func (c *Calculator) canonical(entry float64, dir model.Direction) model.TradingLevels {
	pcts := sanitize(c.cfg.TargetPercents)
	stop := c.cfg.StopLossPercent
	if !finitePositive(stop) || stop >= 100 {
		stop = canonicalStopPercent
	}
	lv := fromPercents(entry, dir, pcts, stop, "canonical")
	if Validate(lv) != nil {
		lv = fromPercents(entry, dir, canonicalTargetPercents, canonicalStopPercent, "canonical")
	}
	lv.Corrected = true
	return lv
}

func fromPercents(entry float64, dir model.Direction, targetPcts []float64, stopPct float64, method string) model.TradingLevels {
	dists := make([]float64, len(targetPcts))
	for i, p := range targetPcts {
		dists[i] = entry * p / 100
	}
	return fromDistances(entry, dir, 1, dists, entry*stopPct/100, method)
}

func fromDistances(entry float64, dir model.Direction, unit float64, targetMults []float64, stopMult float64, method string) model.TradingLevels {
	sign := dir.Sign()
	targets := make([]float64, len(targetMults))
	for i, m := range targetMults {
		targets[i] = entry + sign*m*unit
	}
	return model.TradingLevels{
		Entry:     entry,
		Targets:   targets,
		StopLoss:  entry - sign*stopMult*unit,
		Direction: dir,
		Method:    method,
	}
}

func (c *Calculator) round(lv model.TradingLevels) model.TradingLevels {
	if !finitePositive(c.cfg.TickSize) {
		return lv
	}
	tick := decimal.NewFromFloat(c.cfg.TickSize)
	roundTo := func(p float64) float64 {
		v, _ := decimal.NewFromFloat(p).Div(tick).Round(0).Mul(tick).Float64()
		return v
	}
	out := lv
	out.Targets = make([]float64, len(lv.Targets))
	for i, t := range lv.Targets {
		out.Targets[i] = roundTo(t)
	}
	out.StopLoss = roundTo(lv.StopLoss)
	return out
}

func sanitize(pcts []float64) []float64 {
	out := make([]float64, 0, len(pcts))
	for _, p := range pcts {
		if finitePositive(p) {
			out = append(out, p)
		}
	}
	sort.Float64s(out)
	dedup := make([]float64, 0, len(out))
	for _, p := range out {
		if len(dedup) == 0 || p != dedup[len(dedup)-1] {
			dedup = append(dedup, p)
		}
	}
	return dedup
}

func finitePositive(v float64) bool {
	return v > 0 && !math.IsInf(v, 0) && !math.IsNaN(v)
}
