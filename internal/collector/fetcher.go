package collector

import (
	"context"

	"PerpSentinel/internal/model"
)

// Fetcher defines the interface for fetching market data.
type Fetcher interface {
	FetchCandles(ctx context.Context, symbol, timeframe string, limit int) (model.Candles, error)
	Name() string
}
