package orchestrate

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestMoveTimeTrapezoidal(t *testing.T) {
	// vmax=10 units/s, accel=10 units/s^2: reaches vmax after 1s / 5 units,
	// so a 20-unit move spends 1s accelerating, 1s decelerating, and
	// (20-10)/10 = 1s at full speed: 3s total.
	got := MoveTime(20, 10, 10)
	assert.InDelta(t, 3*time.Second, got, float64(10*time.Millisecond))
}

func TestMoveTimeTriangular(t *testing.T) {
	// Too short to reach vmax: pure accelerate/decelerate.
	got := MoveTime(1, 100, 10)
	assert.Greater(t, got, time.Duration(0))
	assert.Less(t, got, time.Second)
}

func TestMoveTimeZeroDistance(t *testing.T) {
	assert.Equal(t, time.Duration(0), MoveTime(0, 10, 10))
}

func TestCoordinatedMoveTimeTakesSlowest(t *testing.T) {
	got := CoordinatedMoveTime([]time.Duration{time.Second, 3 * time.Second, 2 * time.Second})
	assert.Equal(t, 3*time.Second, got)
}

func TestCoordinatedMoveTimeEmpty(t *testing.T) {
	assert.Equal(t, time.Duration(0), CoordinatedMoveTime(nil))
}
