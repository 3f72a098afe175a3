package model

import "strings"

// Pattern is a single detected chart or candlestick pattern.
type Pattern struct {
	Name       string  `json:"name"`
	Type       string  `json:"type"`
	Bias       Trend   `json:"bias"`
	Confidence float64 `json:"confidence"` // 0..1
	Strength   float64 `json:"strength"`
}

// PatternSet is the output of a pattern detector. Nil fields mean "not detected".
type PatternSet struct {
	Breakout         *Pattern  `json:"breakout,omitempty"`
	Triangle         *Pattern  `json:"triangle,omitempty"`
	Flag             *Pattern  `json:"flag,omitempty"`
	Wedge            *Pattern  `json:"wedge,omitempty"`
	DoubleTop        *Pattern  `json:"double_top,omitempty"`
	DoubleBottom     *Pattern  `json:"double_bottom,omitempty"`
	HeadAndShoulders *Pattern  `json:"head_and_shoulders,omitempty"`
	Candlesticks     []Pattern `json:"candlesticks,omitempty"`
}

// Empty reports whether no pattern of any kind was detected.
func (p PatternSet) Empty() bool {
	return p.Breakout == nil && p.Triangle == nil && p.Flag == nil && p.Wedge == nil &&
		p.DoubleTop == nil && p.DoubleBottom == nil && p.HeadAndShoulders == nil &&
		len(p.Candlesticks) == 0
}

// Reversals returns the detected reversal patterns with their bias resolved.
func (p PatternSet) Reversals() []Pattern {
	var out []Pattern
	add := func(pt *Pattern, fallback Trend) {
		if pt == nil {
			return
		}
		c := *pt
		if c.Bias == "" || c.Bias == TrendNeutral {
			c.Bias = fallback
		}
		out = append(out, c)
	}
	add(p.DoubleBottom, TrendBullish)
	add(p.DoubleTop, TrendBearish)
	if p.HeadAndShoulders != nil {
		bias := TrendBearish
		if strings.Contains(strings.ToLower(p.HeadAndShoulders.Type+p.HeadAndShoulders.Name), "inverse") {
			bias = TrendBullish
		}
		add(p.HeadAndShoulders, bias)
	}
	return out
}

// Continuations returns triangle, flag and wedge patterns that were detected.
func (p PatternSet) Continuations() []Pattern {
	var out []Pattern
	for _, pt := range []*Pattern{p.Triangle, p.Flag, p.Wedge} {
		if pt != nil {
			out = append(out, *pt)
		}
	}
	return out
}
