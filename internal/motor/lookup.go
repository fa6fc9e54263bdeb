// Package motor models the PMAC motor read/write algorithms, lookup tables,
// and non-PMAC "motor" abstractions (binary I/O, DAC, fast shutter, soft
// motor): everything the orchestrator treats as a
// movable axis, whether or not it is backed by a real PMAC coordinate system.
package motor

import (
	"fmt"
	"sort"
)

// Point is one calibration point: raw controller counts paired with the
// corresponding engineering-unit value.
type Point struct {
	Counts float64
	Value  float64
}

// LookupTable is a monotone piecewise-linear map between controller counts
// and engineering units. Both Lut and Rlut clamp to the table's
// endpoints rather than extrapolating.
type LookupTable struct {
	points []Point // sorted ascending by Counts
}

// NewLookupTable builds a table from unsorted points. Points must already be
// monotone in Value once sorted by Counts — this is the precondition that
// makes Rlut well-defined; it is not re-validated here.
func NewLookupTable(points []Point) (*LookupTable, error) {
	if len(points) < 2 {
		return nil, fmt.Errorf("motor: lookup table needs at least 2 points, got %d", len(points))
	}
	sorted := make([]Point, len(points))
	copy(sorted, points)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Counts < sorted[j].Counts })
	return &LookupTable{points: sorted}, nil
}

// Lut converts raw counts to an engineering-unit value, clamping to the
// table's range and interpolating linearly between bracketing points.
func (t *LookupTable) Lut(counts float64) float64 {
	return interpolate(t.points, counts, func(p Point) float64 { return p.Counts }, func(p Point) float64 { return p.Value })
}

// Rlut is the inverse of Lut: converts an engineering-unit value back to
// counts. Rlut(Lut(x)) == x for any x within the table's range, up to
// interpolation error.
func (t *LookupTable) Rlut(value float64) float64 {
	byValue := make([]Point, len(t.points))
	copy(byValue, t.points)
	sort.Slice(byValue, func(i, j int) bool { return byValue[i].Value < byValue[j].Value })
	return interpolate(byValue, value, func(p Point) float64 { return p.Value }, func(p Point) float64 { return p.Counts })
}

func interpolate(sorted []Point, x float64, key, out func(Point) float64) float64 {
	n := len(sorted)
	if x <= key(sorted[0]) {
		return out(sorted[0])
	}
	if x >= key(sorted[n-1]) {
		return out(sorted[n-1])
	}
	lo := 0
	hi := n - 1
	for hi-lo > 1 {
		mid := (lo + hi) / 2
		if key(sorted[mid]) <= x {
			lo = mid
		} else {
			hi = mid
		}
	}
	x0, x1 := key(sorted[lo]), key(sorted[hi])
	y0, y1 := out(sorted[lo]), out(sorted[hi])
	if x1 == x0 {
		return y0
	}
	frac := (x - x0) / (x1 - x0)
	return y0 + frac*(y1-y0)
}
