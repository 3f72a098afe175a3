package indicator

import "time"

const fallbackTTL = 5 * time.Minute

// defaultTTL maps a timeframe to how long its snapshot stays fresh.
var defaultTTL = map[string]time.Duration{
	"1m":  30 * time.Second,
	"3m":  30 * time.Second,
	"5m":  30 * time.Second,
	"15m": 2 * time.Minute,
	"30m": 5 * time.Minute,
	"1h":  10 * time.Minute,
	"2h":  30 * time.Minute,
	"4h":  30 * time.Minute,
	"6h":  time.Hour,
	"8h":  time.Hour,
	"12h": time.Hour,
	"1d":  4 * time.Hour,
}

// TTL returns the cache lifetime for timeframe, honoring configured overrides.
func (a *Aggregator) TTL(timeframe string) time.Duration {
	if d, ok := a.cfg.CacheTTL[timeframe]; ok && d > 0 {
		return d
	}
	if d, ok := defaultTTL[timeframe]; ok {
		return d
	}
	return fallbackTTL
}
