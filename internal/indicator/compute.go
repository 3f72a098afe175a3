package indicator

import (
	"PerpSentinel/internal/calculator"
	"PerpSentinel/internal/logger"
	"PerpSentinel/internal/model"
)

const rsiTail = 60

// compute derives every indicator from a validated series. Individual failures fall back to
// neutral values, the same way a partial data outage degrades a single indicator.
func compute(symbol, timeframe string, c model.Candles, p model.TunedParameters, volumeMA, atrPeriod int) *model.IndicatorSnapshot {
	last := c.LastClose()
	snap := &model.IndicatorSnapshot{
		Symbol:          symbol,
		Timeframe:       timeframe,
		Close:           last,
		Volume:          c.Volume[len(c.Volume)-1],
		TunedParameters: p,
	}

	rsiSeries, err := calculator.RSISeries(c.Close, p.RSIPeriod)
	if err != nil || len(rsiSeries) == 0 {
		logger.Warnf("%s %s RSI calculation failed: %v, defaulting to 50", symbol, timeframe, err)
		snap.RSI = 50
	} else {
		snap.RSI = rsiSeries[len(rsiSeries)-1]
		if len(rsiSeries) > rsiTail {
			rsiSeries = rsiSeries[len(rsiSeries)-rsiTail:]
		}
		snap.RSISeries = append([]float64(nil), rsiSeries...)
	}

	if m, err := calculator.CalculateMACD(c.Close, p.MACDFast, p.MACDSlow, p.MACDSignal); err != nil {
		logger.Warnf("%s %s MACD calculation failed: %v", symbol, timeframe, err)
	} else {
		snap.MACD = m
	}

	if ma, err := calculator.CalculateSMA(c.Close, p.ShortMA); err != nil {
		logger.Warnf("%s %s short MA calculation failed: %v, using last close", symbol, timeframe, err)
		snap.ShortMA = last
	} else {
		snap.ShortMA = ma
	}
	if ma, err := calculator.CalculateSMA(c.Close, p.LongMA); err != nil {
		logger.Warnf("%s %s long MA calculation failed: %v, using last close", symbol, timeframe, err)
		snap.LongMA = last
	} else {
		snap.LongMA = ma
	}

	if vma, err := calculator.CalculateSMA(c.Volume, volumeMA); err != nil {
		logger.Warnf("%s %s volume MA calculation failed: %v", symbol, timeframe, err)
	} else {
		snap.VolumeMA = vma
	}

	if atr, err := calculator.CalculateATR(c.High, c.Low, c.Close, atrPeriod); err != nil {
		logger.Warnf("%s %s ATR calculation failed: %v", symbol, timeframe, err)
	} else {
		snap.ATR = atr
	}

	conv, errConv := calculator.Midpoint(c.High, c.Low, 9)
	base, errBase := calculator.Midpoint(c.High, c.Low, 26)
	if errConv != nil || errBase != nil {
		snap.Ichimoku = model.Ichimoku{ConversionLine: last, BaseLine: last}
	} else {
		snap.Ichimoku = model.Ichimoku{ConversionLine: conv, BaseLine: base}
	}

	if vol, err := calculator.Volatility(c.Close, 20); err == nil {
		snap.Volatility = vol
	}
	return snap
}
