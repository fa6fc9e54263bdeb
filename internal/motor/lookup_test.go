package motor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLookupTableInterpolates(t *testing.T) {
	lut, err := NewLookupTable([]Point{{Counts: 0, Value: 0}, {Counts: 1000, Value: 10}})
	require.NoError(t, err)
	assert.InDelta(t, 5.0, lut.Lut(500), 1e-9)
	assert.InDelta(t, 500.0, lut.Rlut(5), 1e-9)
}

func TestLookupTableClampsOutOfRange(t *testing.T) {
	lut, err := NewLookupTable([]Point{{Counts: 0, Value: 0}, {Counts: 1000, Value: 10}})
	require.NoError(t, err)
	assert.Equal(t, 0.0, lut.Lut(-500))
	assert.Equal(t, 10.0, lut.Lut(5000))
}

func TestLookupTableRoundTripInvariant(t *testing.T) {
	lut, err := NewLookupTable([]Point{
		{Counts: 0, Value: 0},
		{Counts: 400, Value: 12.5},
		{Counts: 1000, Value: 40},
	})
	require.NoError(t, err)
	for _, x := range []float64{0, 3, 12.5, 25, 40} {
		assert.InDelta(t, x, lut.Lut(lut.Rlut(x)), 1e-6)
	}
}

func TestLookupTableSortsUnorderedPoints(t *testing.T) {
	lut, err := NewLookupTable([]Point{{Counts: 1000, Value: 10}, {Counts: 0, Value: 0}})
	require.NoError(t, err)
	assert.InDelta(t, 5.0, lut.Lut(500), 1e-9)
}

func TestNewLookupTableRejectsTooFewPoints(t *testing.T) {
	_, err := NewLookupTable([]Point{{Counts: 0, Value: 0}})
	assert.Error(t, err)
}
