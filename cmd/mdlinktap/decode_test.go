package main

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/md2ctl/md2d/internal/pmaclink"
)

func encodeFrame(t *testing.T, f pmaclink.Frame) []byte {
	t.Helper()
	return f.Encode()
}

func TestStreamDecoderEmitsCompleteFrame(t *testing.T) {
	d := newStreamDecoder()
	frame, err := pmaclink.NewSendLine("rotate omega", false)
	require.NoError(t, err)

	d.feed(false, encodeFrame(t, frame))

	require.Empty(t, d.toController)
}

func TestStreamDecoderHandlesSplitHeader(t *testing.T) {
	d := newStreamDecoder()
	frame, err := pmaclink.NewSendLine("moveAbs phi 10", false)
	require.NoError(t, err)
	wire := encodeFrame(t, frame)

	d.feed(true, wire[:3])
	require.Len(t, d.fromController, 3)
	d.feed(true, wire[3:])
	require.Empty(t, d.fromController)
}

func TestStreamDecoderKeepsDirectionsIndependent(t *testing.T) {
	d := newStreamDecoder()
	out, err := pmaclink.NewSendLine("status", false)
	require.NoError(t, err)
	in := pmaclink.NewGetMem(0, 4)

	d.feed(false, encodeFrame(t, out))
	d.feed(true, in.Encode())

	require.Empty(t, d.toController)
	require.Empty(t, d.fromController)
}

func TestStreamDecoderConsumesZeroLengthFrame(t *testing.T) {
	d := newStreamDecoder()
	d.feed(false, bytes.Repeat([]byte{0}, pmaclink.HeaderLen))
	require.Empty(t, d.toController)
}

func TestStreamDecoderBuffersPartialHeader(t *testing.T) {
	d := newStreamDecoder()
	d.feed(false, bytes.Repeat([]byte{0}, pmaclink.HeaderLen-2))
	require.Len(t, d.toController, pmaclink.HeaderLen-2)
}
