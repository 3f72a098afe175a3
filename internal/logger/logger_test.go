package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestSetRoutesPrintfCalls(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	prev := L()
	Set(zap.New(core))
	t.Cleanup(func() { Set(prev) })

	Infof("evaluated %s", "BTCUSDT")
	Warnf("fallback after %d attempts", 3)
	With("symbol", "ETHUSDT").Errorf("boom")

	entries := logs.All()
	if assert.Len(t, entries, 3) {
		assert.Equal(t, "evaluated BTCUSDT", entries[0].Message)
		assert.Equal(t, zap.WarnLevel, entries[1].Level)
		assert.Equal(t, "ETHUSDT", entries[2].ContextMap()["symbol"])
	}
}
