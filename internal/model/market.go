package model

import "time"

// OHLCV represents a single candlestick bar.
type OHLCV struct {
	Time   time.Time
	Open   float64
	High   float64
	Low    float64
	Close  float64
	Volume float64
}

// Candles holds a bar series as parallel arrays, oldest first.
type Candles struct {
	Time   []time.Time
	Open   []float64
	High   []float64
	Low    []float64
	Close  []float64
	Volume []float64
}

// CandlesFromBars converts a bar slice into the parallel-array form.
func CandlesFromBars(bars []OHLCV) Candles {
	c := Candles{
		Time:   make([]time.Time, len(bars)),
		Open:   make([]float64, len(bars)),
		High:   make([]float64, len(bars)),
		Low:    make([]float64, len(bars)),
		Close:  make([]float64, len(bars)),
		Volume: make([]float64, len(bars)),
	}
	for i, b := range bars {
		c.Time[i] = b.Time
		c.Open[i] = b.Open
		c.High[i] = b.High
		c.Low[i] = b.Low
		c.Close[i] = b.Close
		c.Volume[i] = b.Volume
	}
	return c
}

// Len returns the number of closes. Other arrays may disagree; see the indicator validator.
func (c Candles) Len() int { return len(c.Close) }

// LastClose returns the most recent close, or 0 for an empty series.
func (c Candles) LastClose() float64 {
	if len(c.Close) == 0 {
		return 0
	}
	return c.Close[len(c.Close)-1]
}

// Bar returns the i-th bar. The caller must ensure all arrays are long enough.
func (c Candles) Bar(i int) OHLCV {
	b := OHLCV{Open: c.Open[i], High: c.High[i], Low: c.Low[i], Close: c.Close[i], Volume: c.Volume[i]}
	if i < len(c.Time) {
		b.Time = c.Time[i]
	}
	return b
}

// Tick is a single live price update for a symbol.
type Tick struct {
	Symbol    string
	Price     float64
	Timestamp time.Time
}
