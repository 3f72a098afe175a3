package levels

import (
	"errors"
	"math"
	"testing"

	"PerpSentinel/internal/config"
	"PerpSentinel/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func defaultLevels() config.Levels {
	return config.Default().Levels
}

func TestCompute_VolatilityLadderLong(t *testing.T) {
	c := NewCalculator(defaultLevels())
	lv, err := c.Compute(100, model.DirectionLong, 2)
	require.NoError(t, err)

	assert.Equal(t, "volatility", lv.Method)
	assert.InDeltaSlice(t, []float64{102, 104, 106}, lv.Targets, 1e-9)
	assert.InDelta(t, 97, lv.StopLoss, 1e-9)
	assert.InDelta(t, 2.0/3.0, lv.RiskRewardRatio, 1e-9)
	assert.False(t, lv.Corrected)
}

func TestCompute_PercentageLadderShort(t *testing.T) {
	c := NewCalculator(defaultLevels())
	lv, err := c.Compute(200, model.DirectionShort, math.NaN())
	require.NoError(t, err)

	assert.Equal(t, "percentage", lv.Method)
	assert.InDeltaSlice(t, []float64{197, 194, 190}, lv.Targets, 1e-9)
	assert.InDelta(t, 204, lv.StopLoss, 1e-9)
	assert.InDelta(t, 0.75, lv.RiskRewardRatio, 1e-9)
}

func TestCompute_TickRounding(t *testing.T) {
	cfg := defaultLevels()
	cfg.TickSize = 0.5
	lv, err := NewCalculator(cfg).Compute(100.2, model.DirectionLong, 0)
	require.NoError(t, err)
	for _, tgt := range lv.Targets {
		assert.InDelta(t, 0, math.Mod(tgt, 0.5), 1e-9)
	}
	assert.NoError(t, Validate(lv))
}

func TestCompute_SelfCorrects(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *config.Levels)
		hint    float64
		targets []float64
	}{
		{
			name:    "unsorted percentages",
			mutate:  func(c *config.Levels) { c.TargetPercents = []float64{3, 1, 2, 2} },
			targets: []float64{101, 102, 103},
		},
		{
			name:    "tick collapses ladder",
			mutate:  func(c *config.Levels) { c.TickSize = 10 },
			targets: []float64{101.5, 103, 105},
		},
		{
			name:    "non-monotonic atr multiples",
			mutate:  func(c *config.Levels) { c.TargetATRMultiples = []float64{2, 1} },
			hint:    1,
			targets: []float64{101.5, 103, 105},
		},
		{
			name: "degenerate percentages",
			mutate: func(c *config.Levels) {
				c.TargetPercents = []float64{-1, 0}
				c.StopLossPercent = -3
			},
			targets: []float64{101, 102, 103},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultLevels()
			tt.mutate(&cfg)
			lv, err := NewCalculator(cfg).Compute(100, model.DirectionLong, tt.hint)
			require.NoError(t, err)
			assert.True(t, lv.Corrected)
			assert.Equal(t, "canonical", lv.Method)
			assert.InDeltaSlice(t, tt.targets, lv.Targets, 1e-9)
			assert.NoError(t, Validate(lv))
		})
	}
}

func TestCompute_DirectionInvariantHolds(t *testing.T) {
	c := NewCalculator(defaultLevels())
	for _, entry := range []float64{0.0001, 0.5, 1, 97.3, 25000, 1e6} {
		for _, hint := range []float64{0, entry * 0.001, entry * 0.05, entry * 0.5, math.Inf(1)} {
			for _, dir := range []model.Direction{model.DirectionLong, model.DirectionShort} {
				lv, err := c.Compute(entry, dir, hint)
				require.NoError(t, err)
				assert.NoError(t, Validate(lv), "entry=%v hint=%v dir=%s", entry, hint, dir)
			}
		}
	}
}

func TestCompute_InvalidInput(t *testing.T) {
	c := NewCalculator(defaultLevels())
	_, err := c.Compute(0, model.DirectionLong, 1)
	assert.True(t, errors.Is(err, ErrInvalidEntry))
	_, err = c.Compute(math.Inf(1), model.DirectionLong, 1)
	assert.True(t, errors.Is(err, ErrInvalidEntry))
	_, err = c.Compute(100, model.DirectionNone, 1)
	assert.True(t, errors.Is(err, ErrInvalidDirection))
}
