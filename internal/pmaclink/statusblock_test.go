package pmaclink

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func encodeTestBlock(t *testing.T, b Block) []byte {
	t.Helper()
	buf := make([]byte, blockWireLen)
	off := 0
	for i := 0; i < MaxAxes; i++ {
		binary.BigEndian.PutUint32(buf[off:], b.Axes[i].Status1)
		off += 4
		binary.BigEndian.PutUint32(buf[off:], b.Axes[i].Status2)
		off += 4
		binary.BigEndian.PutUint32(buf[off:], uint32(b.Axes[i].ActualCounts))
		off += 4
	}
	binary.BigEndian.PutUint32(buf[off:], b.DigitalIn)
	off += 4
	binary.BigEndian.PutUint32(buf[off:], b.DigitalOut)
	off += 4
	for _, d := range b.DAC {
		binary.BigEndian.PutUint32(buf[off:], uint32(d))
		off += 4
	}
	if b.ShutterOpen {
		buf[off] = 1
	}
	off++
	if b.ShutterOpenedSinceReset {
		buf[off] = 1
	}
	off++
	binary.BigEndian.PutUint16(buf[off:], b.CoordSysMoving)
	return buf
}

func TestDecodeBlockRoundTrip(t *testing.T) {
	var want Block
	want.Axes[0] = AxisStatus{Status1: Status1InPosition | Status1HomeComplete, Status2: Status2Disabled, ActualCounts: -4200}
	want.DigitalIn = 0xA5A5
	want.DAC[2] = 1234
	want.ShutterOpen = true
	want.CoordSysMoving = CoordSysBit(1) | CoordSysBit(3)

	raw := encodeTestBlock(t, want)
	got, err := DecodeBlock(raw)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestDecodeBlockShort(t *testing.T) {
	_, err := DecodeBlock([]byte{1, 2, 3})
	assert.Error(t, err)
}

func TestCoordSysBit(t *testing.T) {
	assert.Equal(t, uint16(1), CoordSysBit(1))
	assert.Equal(t, uint16(1<<15), CoordSysBit(16))
}
