package strategy

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"PerpSentinel/internal/adaptive"
	"PerpSentinel/internal/config"
	"PerpSentinel/internal/model"
)

// Input is everything the engine needs for one (symbol, timeframe) evaluation.
type Input struct {
	Symbol        string
	Timeframe     string
	Candles       model.Candles
	Snapshot      *model.IndicatorSnapshot
	Patterns      model.PatternSet
	MLProbability *float64
	Regime        model.Regime
	Correlation   *model.CorrelationSignal
}

// Evaluator produces a signal result for an input.
type Evaluator interface {
	Evaluate(ctx context.Context, in Input) model.SignalResult
}

// Engine is the composite scoring engine. It is deterministic for identical input and adaptive state.
type Engine struct {
	cfg   config.Scoring
	state *adaptive.Store
}

var _ Evaluator = (*Engine)(nil)

// NewEngine creates an Engine. A nil state gets a private in-memory store.
func NewEngine(cfg config.Scoring, state *adaptive.Store) *Engine {
	if state == nil {
		state, _ = adaptive.NewStore()
	}
	return &Engine{cfg: cfg, state: state}
}

// Evaluate scores the input and decides validity against the previous decision for the same key.
func (e *Engine) Evaluate(_ context.Context, in Input) model.SignalResult {
	now := e.state.Now()
	res := model.SignalResult{
		Symbol:         in.Symbol,
		Timeframe:      in.Timeframe,
		Direction:      model.DirectionNone,
		SignalTrend:    model.TrendNeutral,
		EffectiveTrend: model.TrendNeutral,
		Regime:         in.Regime,
		EvaluatedAt:    now,
	}

	// Step 1: reject fast
	if in.Candles.Len() == 0 || in.Snapshot == nil {
		res.Reason = "missing candles or indicators"
		return res
	}
	snap := in.Snapshot
	res.Price = snap.Close

	// Steps 2-4: indicator, pattern and volume factors
	sc := newScorer()
	var factors []factor
	factors = append(factors, e.indicatorFactors(sc, snap)...)
	factors = append(factors, e.patternFactors(sc, in.Patterns)...)
	factors = append(factors, e.volumeFactor(sc, snap))

	// Step 5: directional bias fixes the trade side
	bias := 0.0
	for _, f := range factors {
		if f.directional {
			bias += f.raw * f.weight
		}
	}
	switch {
	case bias > 0:
		res.SignalTrend = model.TrendBullish
	case bias < 0:
		res.SignalTrend = model.TrendBearish
	}
	res.Direction = res.SignalTrend.Direction()
	sign := res.Direction.Sign()
	for _, f := range factors {
		weighted := f.raw * f.weight
		if f.directional {
			weighted *= sign
		}
		sc.add(f.name, f.raw, f.weight, weighted, f.desc)
	}

	// Step 6: quality filters
	if reasons := e.qualityFilters(snap, sc.confirmations); len(reasons) > 0 {
		sc.clamp()
		e.fill(&res, sc)
		res.Reason = "quality filters failed: " + strings.Join(reasons, "; ")
		e.state.UpdateDecision(adaptive.Key(in.Symbol, in.Timeframe), func(adaptive.Decision, bool) adaptive.Decision {
			return adaptive.Decision{Score: res.TotalScore, Valid: false, At: now}
		})
		return res
	}

	// Step 7: ML contribution
	prob := normalizeProbability(in.MLProbability)
	res.MLProbability = prob
	mlContribution := prob * e.cfg.Weights.ML
	sc.add("ml_probability", prob, e.cfg.Weights.ML, mlContribution,
		fmt.Sprintf("success probability %.2f", prob))

	// Steps 8-10: bounded regime and correlation adjustments, confirmation bonus
	e.applyRegime(sc, in.Regime, res.SignalTrend)
	e.applyCorrelation(sc, in.Correlation, res.SignalTrend)
	if extra := sc.confirmations - e.cfg.Filters.MinConfirmations; extra > 0 {
		sc.add("confirmation_bonus", float64(extra), e.cfg.ConfirmationBonus, float64(extra)*e.cfg.ConfirmationBonus,
			fmt.Sprintf("%d confirmations, %d above minimum", sc.confirmations, extra))
	}

	// Step 11: trend priority and counter-trend policy
	res.EffectiveTrend = e.effectiveTrend(in.Regime, snap)
	res.CounterTrend = e.applyTrendPolicy(sc, in, res.SignalTrend, res.EffectiveTrend, now)

	// Step 12: clamp, then hysteresis
	sc.clamp()
	e.fill(&res, sc)
	res.IsMLDriven = mlContribution > 0.4*res.TotalScore && prob > 0.7
	e.decide(&res, now)
	return res
}

func (e *Engine) fill(res *model.SignalResult, sc *scorer) {
	res.ScoreComponents = sc.comps
	res.TotalScore = sc.running
	res.ConfirmationCount = sc.confirmations
	res.StrengthFactors = sc.strengthFactors()
}

// decide applies the hysteresis band against the previous decision for the key and stores the result.
func (e *Engine) decide(res *model.SignalResult, now time.Time) {
	threshold, band := e.cfg.ValidityThreshold, e.cfg.HysteresisBand
	score := res.TotalScore
	var reason string

	d := e.state.UpdateDecision(adaptive.Key(res.Symbol, res.Timeframe), func(prev adaptive.Decision, ok bool) adaptive.Decision {
		valid := score >= threshold
		if valid {
			reason = fmt.Sprintf("score %.1f >= threshold %.1f", score, threshold)
		} else {
			reason = fmt.Sprintf("score %.1f < threshold %.1f", score, threshold)
		}
		if ok && (e.cfg.HysteresisTTL <= 0 || now.Sub(prev.At) <= e.cfg.HysteresisTTL) {
			switch {
			case prev.Valid && !valid && score >= threshold-band:
				valid = true
				reason = fmt.Sprintf("score %.1f held valid within hysteresis band %.1f", score, band)
			case !prev.Valid && valid && score < threshold+band:
				valid = false
				reason = fmt.Sprintf("score %.1f held invalid within hysteresis band %.1f", score, band)
			}
		}
		if valid && res.Direction == model.DirectionNone {
			valid = false
			reason = "no directional bias"
		}
		return adaptive.Decision{Score: score, Valid: valid, At: now}
	})
	res.IsValid = d.Valid
	res.Reason = reason
}

func normalizeProbability(p *float64) float64 {
	if p == nil || math.IsNaN(*p) || *p < 0 || *p > 1 {
		return 0.5
	}
	return *p
}

// scorer accumulates the audit trail. running always equals the sum of weighted values.
type scorer struct {
	comps         []model.ScoreComponent
	running       float64
	confirmations int
	tags          map[string]struct{}
}

func newScorer() *scorer {
	return &scorer{tags: make(map[string]struct{})}
}

func (s *scorer) add(name string, raw, weight, weighted float64, desc string) {
	s.comps = append(s.comps, model.ScoreComponent{
		Name:          name,
		RawValue:      raw,
		Weight:        weight,
		WeightedValue: weighted,
		Description:   desc,
	})
	s.running += weighted
}

// adjust records a delta to the running score, skipping no-ops.
func (s *scorer) adjust(name string, raw, delta float64, desc string) {
	if delta == 0 {
		return
	}
	s.add(name, raw, 1, delta, desc)
}

func (s *scorer) confirm() { s.confirmations++ }

func (s *scorer) tag(t string) { s.tags[t] = struct{}{} }

func (s *scorer) clamp() {
	switch {
	case s.running < 0:
		s.adjust("clamp", s.running, -s.running, "clamped to 0")
		s.running = 0
	case s.running > 100:
		s.adjust("clamp", s.running, 100-s.running, "clamped to 100")
		s.running = 100
	}
}

func (s *scorer) strengthFactors() []string {
	out := make([]string, 0, len(s.tags))
	for t := range s.tags {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}
