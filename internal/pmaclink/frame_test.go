package pmaclink

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHeaderEncodeDecodeRoundTrip(t *testing.T) {
	h := Header{RequestType: ReqGetMem, RequestCode: 0x02, Arg1: 0x0400, Arg2: 132, Length: 0}
	buf := h.Encode()
	require.Len(t, buf, HeaderLen)

	got, err := DecodeHeader(buf[:])
	require.NoError(t, err)
	assert.Equal(t, h, got)
}

func TestDecodeHeaderShort(t *testing.T) {
	_, err := DecodeHeader([]byte{0x01, 0x02})
	assert.Error(t, err)
}

func TestNewSendLineTooLong(t *testing.T) {
	text := make([]byte, MaxPayload+1)
	_, err := NewSendLine(string(text), false)
	assert.Error(t, err)
}

func TestNewSendLineReplyType(t *testing.T) {
	f, err := NewSendLine("#1J+", false)
	require.NoError(t, err)
	assert.Equal(t, ReqSendLine, f.Header.RequestType)

	nr, err := NewSendLine("#1J+", true)
	require.NoError(t, err)
	assert.Equal(t, ReqSendLineNR, nr.Header.RequestType)
}

func TestNewGetMemFrame(t *testing.T) {
	f := NewGetMem(0x400, 132)
	assert.Equal(t, ReqGetMem, f.Header.RequestType)
	assert.Equal(t, uint16(0x400), f.Header.Arg1)
	assert.Equal(t, uint16(132), f.Header.Arg2)
}

func TestFrameEncodeIncludesPayload(t *testing.T) {
	f, err := NewSetMem(0x10, []byte{1, 2, 3})
	require.NoError(t, err)
	wire := f.Encode()
	assert.Len(t, wire, HeaderLen+3)
	assert.Equal(t, []byte{1, 2, 3}, wire[HeaderLen:])
}
