package model

import "time"

// MACD holds the last values of the MACD line, its signal line and the histogram.
type MACD struct {
	Line      float64 `json:"line"`
	Signal    float64 `json:"signal"`
	Histogram float64 `json:"histogram"`
}

// Ichimoku holds the conversion (tenkan) and base (kijun) lines.
type Ichimoku struct {
	ConversionLine float64 `json:"conversion_line"`
	BaseLine       float64 `json:"base_line"`
}

// TunedParameters are the per-(symbol, timeframe) indicator periods chosen by the tuner.
type TunedParameters struct {
	RSIPeriod  int       `json:"rsi_period"`
	MACDFast   int       `json:"macd_fast"`
	MACDSlow   int       `json:"macd_slow"`
	MACDSignal int       `json:"macd_signal"`
	ShortMA    int       `json:"short_ma"`
	LongMA     int       `json:"long_ma"`
	TunedAt    time.Time `json:"tuned_at"`
}

// CoherenceKey identifies the candle series a snapshot was computed from.
type CoherenceKey struct {
	CandleCount int
	LastClose   float64
}

// IndicatorSnapshot holds all computed technical indicators for one (symbol, timeframe).
// Snapshots are never mutated after being published to the cache.
type IndicatorSnapshot struct {
	Symbol     string
	Timeframe  string
	Close      float64
	Volume     float64
	RSI        float64
	RSISeries  []float64 // tail of the RSI series, oldest first
	MACD       MACD
	ShortMA    float64
	LongMA     float64
	VolumeMA   float64
	ATR        float64
	Ichimoku   Ichimoku
	Volatility float64 // stdev of log returns, percent

	TunedParameters TunedParameters
	ComputedAt      time.Time
	CoherenceKey    CoherenceKey

	// Candles is the validated series the indicators were computed from, with rejected bars removed.
	Candles Candles `json:"-"`
}

// VolumeRatio returns last volume over its moving average, or 1 when the average is unusable.
func (s *IndicatorSnapshot) VolumeRatio() float64 {
	if s == nil || !(s.VolumeMA > 0) || s.Volume < 0 {
		return 1
	}
	return s.Volume / s.VolumeMA
}
