package calculator

import (
	"fmt"

	"PerpSentinel/internal/model"
)

// CalculateMACD returns the last MACD line, signal and histogram values.
func CalculateMACD(closes []float64, fast, slow, signal int) (model.MACD, error) {
	if fast <= 0 || slow <= 0 || signal <= 0 {
		return model.MACD{}, errPeriod
	}
	if fast >= slow {
		return model.MACD{}, fmt.Errorf("fast period %d must be below slow period %d", fast, slow)
	}
	if len(closes) < slow+signal {
		return model.MACD{}, errInsufficient
	}
	fastEMA, err := EMASeries(closes, fast)
	if err != nil {
		return model.MACD{}, err
	}
	slowEMA, err := EMASeries(closes, slow)
	if err != nil {
		return model.MACD{}, err
	}

	line := make([]float64, 0, len(closes)-slow+1)
	for i := slow - 1; i < len(closes); i++ {
		line = append(line, fastEMA[i]-slowEMA[i])
	}
	sig, err := EMASeries(line, signal)
	if err != nil {
		return model.MACD{}, err
	}
	last := line[len(line)-1]
	lastSig := sig[len(sig)-1]
	return model.MACD{Line: last, Signal: lastSig, Histogram: last - lastSig}, nil
}
