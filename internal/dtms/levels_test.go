package dtms

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"dtms/internal/types"
)

func TestTightenedStopLong(t *testing.T) {
	pos := &types.Position{
		Direction:    types.DirectionLong,
		StopLoss:     0.99,
		CurrentPrice: 1.01,
	}
	assert.InDelta(t, 1.00, tightenedStop(pos), 1e-9)
}

func TestTightenedStopShort(t *testing.T) {
	pos := &types.Position{
		Direction:    types.DirectionShort,
		StopLoss:     1.02,
		CurrentPrice: 1.00,
	}
	assert.InDelta(t, 1.01, tightenedStop(pos), 1e-9)
}

func TestTightenedStopNoStopSet(t *testing.T) {
	pos := &types.Position{Direction: types.DirectionLong, CurrentPrice: 1.01}
	assert.Zero(t, tightenedStop(pos))
}

func TestTightenedStopDoesNotLoosen(t *testing.T) {
	// Price below the stop on a long: the midpoint would widen risk.
	pos := &types.Position{
		Direction:    types.DirectionLong,
		StopLoss:     1.00,
		CurrentPrice: 0.98,
	}
	assert.Zero(t, tightenedStop(pos))
}

func TestStopTightensDirectional(t *testing.T) {
	assert.True(t, stopTightens(types.DirectionLong, 1.00, 0.99))
	assert.False(t, stopTightens(types.DirectionLong, 0.98, 0.99))
	assert.True(t, stopTightens(types.DirectionShort, 1.01, 1.02))
	assert.False(t, stopTightens(types.DirectionShort, 1.03, 1.02))
	// Equal within epsilon is not a tighten.
	assert.False(t, stopTightens(types.DirectionLong, 0.99, 0.99))
}

func TestHalfVolumeRoundsDownToLotStep(t *testing.T) {
	cases := []struct {
		volume float64
		want   float64
	}{
		{1.0, 0.5},
		{0.5, 0.25},
		{0.15, 0.07},
		{0.03, 0.01},
		{0.01, 0.01},
		{0, 0},
	}
	for _, tc := range cases {
		assert.InDelta(t, tc.want, halfVolume(tc.volume), 1e-9, "volume %v", tc.volume)
	}
}
