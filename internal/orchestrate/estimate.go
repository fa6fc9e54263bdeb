// Package orchestrate is the motion orchestrator: move-time
// estimation, move/jog dispatch, homing, and abort, built on top of the
// PMAC link's command queue and status-edge events.
package orchestrate

import (
	"math"
	"time"

	"gonum.org/v1/gonum/floats"
)

// MoveTimeMargin is added to every estimated move time before it is used as
// a wait deadline, absorbing controller and network latency the trapezoidal
// model does not account for.
const MoveTimeMargin = 2 * time.Second

// MoveTime estimates the duration of a single-axis move of distance
// (engineering units) at at most vmax with constant acceleration accel,
// using a trapezoidal velocity profile. If the move is too
// short to reach vmax, the profile degenerates to triangular.
func MoveTime(distance, vmax, accel float64) time.Duration {
	distance = math.Abs(distance)
	if vmax <= 0 || accel <= 0 || distance == 0 {
		return 0
	}
	tAccel := vmax / accel
	dAccel := 0.5 * accel * tAccel * tAccel

	var seconds float64
	if 2*dAccel >= distance {
		peakV := math.Sqrt(distance * accel)
		seconds = 2 * peakV / accel
	} else {
		seconds = 2*tAccel + (distance-2*dAccel)/vmax
	}
	return time.Duration(seconds * float64(time.Second))
}

// CoordinatedMoveTime returns the longest of several per-axis move-time
// estimates: a coordinated move across a coordinate system completes when
// its slowest axis does.
func CoordinatedMoveTime(times []time.Duration) time.Duration {
	if len(times) == 0 {
		return 0
	}
	seconds := make([]float64, len(times))
	for i, t := range times {
		seconds[i] = t.Seconds()
	}
	return time.Duration(floats.Max(seconds) * float64(time.Second))
}
