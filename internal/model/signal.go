package model

import "time"

// Direction is the side of a trade.
type Direction string

const (
	DirectionLong  Direction = "long"
	DirectionShort Direction = "short"
	DirectionNone  Direction = "none"
)

// Sign returns +1 for long, -1 for short and 0 otherwise.
func (d Direction) Sign() float64 {
	switch d {
	case DirectionLong:
		return 1
	case DirectionShort:
		return -1
	}
	return 0
}

// Trend is a directional bias.
type Trend string

const (
	TrendBullish Trend = "bullish"
	TrendBearish Trend = "bearish"
	TrendNeutral Trend = "neutral"
)

// Direction maps a trend to the trade side that follows it.
func (t Trend) Direction() Direction {
	switch t {
	case TrendBullish:
		return DirectionLong
	case TrendBearish:
		return DirectionShort
	}
	return DirectionNone
}

// Regime is an externally supplied market-regime tag.
type Regime string

const (
	RegimeUnknown  Regime = ""
	RegimeBull     Regime = "bull"
	RegimeBear     Regime = "bear"
	RegimeVolatile Regime = "volatile"
	RegimeSideways Regime = "sideways"
)

// Trend returns the trend implied by the regime, neutral for non-directional regimes.
func (r Regime) Trend() Trend {
	switch r {
	case RegimeBull:
		return TrendBullish
	case RegimeBear:
		return TrendBearish
	}
	return TrendNeutral
}

// ScoreComponent is one step of the scoring audit trail.
// The WeightedValue of every component of a result sums to its TotalScore.
type ScoreComponent struct {
	Name          string  `json:"name"`
	RawValue      float64 `json:"raw_value"`
	Weight        float64 `json:"weight"`
	WeightedValue float64 `json:"weighted_value"`
	Description   string  `json:"description"`
}

// CorrelationSignal describes how the symbol currently relates to a benchmark.
type CorrelationSignal struct {
	Trend     Trend   `json:"trend"`
	Strength  float64 `json:"strength"`  // 0..1
	Alignment float64 `json:"alignment"` // -1..1
	Bonus     float64 `json:"bonus"`     // percent, 0 means use the configured default
	Penalty   float64 `json:"penalty"`   // percent, 0 means use the configured default
	Source    string  `json:"source"`
}

// SignalResult is the final output of the scoring engine.
type SignalResult struct {
	Symbol            string           `json:"symbol"`
	Timeframe         string           `json:"timeframe"`
	TotalScore        float64          `json:"total_score"`
	IsValid           bool             `json:"is_valid"`
	ConfirmationCount int              `json:"confirmation_count"`
	StrengthFactors   []string         `json:"strength_factors"`
	IsMLDriven        bool             `json:"is_ml_driven"`
	Reason            string           `json:"reason"`
	ScoreComponents   []ScoreComponent `json:"score_components"`

	Direction      Direction `json:"direction"`
	SignalTrend    Trend     `json:"signal_trend"`
	EffectiveTrend Trend     `json:"effective_trend"`
	CounterTrend   bool      `json:"counter_trend"`
	Regime         Regime    `json:"regime"`
	Price          float64   `json:"price"`
	MLProbability  float64   `json:"ml_probability"`
	EvaluatedAt    time.Time `json:"evaluated_at"`
}

// ComponentSum returns the sum of all weighted component values.
func (r *SignalResult) ComponentSum() float64 {
	sum := 0.0
	for _, c := range r.ScoreComponents {
		sum += c.WeightedValue
	}
	return sum
}

// TradingLevels holds the entry, the ordered exit ladder and the stop.
type TradingLevels struct {
	Entry           float64   `json:"entry"`
	Targets         []float64 `json:"targets"`
	StopLoss        float64   `json:"stop_loss"`
	RiskRewardRatio float64   `json:"risk_reward_ratio"`
	Direction       Direction `json:"direction"`
	Method          string    `json:"method"`
	Corrected       bool      `json:"corrected"`
}
