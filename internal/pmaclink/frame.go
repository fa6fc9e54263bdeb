// Package pmaclink is the PMAC protocol engine: a single TCP
// connection to the motion controller, framing an 8-byte binary header plus
// optional payload, an in-flight command queue, and a status-block poller.
package pmaclink

import (
	"encoding/binary"
	"fmt"
)

// Request types (the controller's Ethernet command set).
type RequestType byte

const (
	ReqSendLine     RequestType = 0x01 // SENDLINE: ASCII line, expects ack
	ReqSendLineNR   RequestType = 0x02 // SENDLINE_NR: ack only, no reply text
	ReqGetMem       RequestType = 0x03 // GETMEM: read DPRAM range, returns raw binary
	ReqSetMem       RequestType = 0x04 // SETMEM: write DPRAM range
	ReqSetBit       RequestType = 0x05 // SETBIT: atomic bit-set on a DPRAM word
	ReqSetBits      RequestType = 0x06 // SETBITS: atomic multi-bit-set on a DPRAM word
	ReqSendCtrlChar RequestType = 0x07 // SENDCTRLCHAR: send a control character
	ReqReadReady    RequestType = 0x08 // READREADY: poll whether a buffer is ready
	ReqGetBuffer    RequestType = 0x09 // GETBUFFER: fetch the next response buffer
	ReqFlush        RequestType = 0x0A // FLUSH: reset the controller-side command channel
)

// HeaderLen is the fixed 8-byte request header: type, code, arg1 (u16 BE),
// arg2 (u16 BE), length (u16 BE).
const HeaderLen = 8

// MaxPayload is the largest payload a single frame may carry.
const MaxPayload = 1492

// MaxBinaryChunk is the largest binary data frame returned per GETMEM reply.
const MaxBinaryChunk = 1400

const (
	AckByte   byte = 0x06
	ErrByte   byte = 0x07
	MoreLines byte = 0x0D // ASCII mailbox: "more lines follow, repeat"
)

// Header is the 8-byte request/response framing prefix.
type Header struct {
	RequestType RequestType
	RequestCode byte
	Arg1        uint16
	Arg2        uint16
	Length      uint16
}

// Encode serializes the header into an 8-byte big-endian wire form.
func (h Header) Encode() [HeaderLen]byte {
	var buf [HeaderLen]byte
	buf[0] = byte(h.RequestType)
	buf[1] = h.RequestCode
	binary.BigEndian.PutUint16(buf[2:4], h.Arg1)
	binary.BigEndian.PutUint16(buf[4:6], h.Arg2)
	binary.BigEndian.PutUint16(buf[6:8], h.Length)
	return buf
}

// DecodeHeader parses an 8-byte buffer into a Header.
func DecodeHeader(buf []byte) (Header, error) {
	if len(buf) < HeaderLen {
		return Header{}, fmt.Errorf("pmaclink: short header (%d bytes)", len(buf))
	}
	return Header{
		RequestType: RequestType(buf[0]),
		RequestCode: buf[1],
		Arg1:        binary.BigEndian.Uint16(buf[2:4]),
		Arg2:        binary.BigEndian.Uint16(buf[4:6]),
		Length:      binary.BigEndian.Uint16(buf[6:8]),
	}, nil
}

// Frame is a fully encoded request ready to write to the wire.
type Frame struct {
	Header  Header
	Payload []byte
}

// Encode returns the header followed by the payload, ready for a single Write.
func (f Frame) Encode() []byte {
	h := f.Header.Encode()
	out := make([]byte, 0, HeaderLen+len(f.Payload))
	out = append(out, h[:]...)
	out = append(out, f.Payload...)
	return out
}

// NewSendLine builds a SENDLINE frame for the given ASCII command text.
func NewSendLine(text string, noReply bool) (Frame, error) {
	if len(text) > MaxPayload {
		return Frame{}, fmt.Errorf("pmaclink: command too long (%d bytes)", len(text))
	}
	rt := ReqSendLine
	if noReply {
		rt = ReqSendLineNR
	}
	return Frame{
		Header:  Header{RequestType: rt, Length: uint16(len(text))},
		Payload: []byte(text),
	}, nil
}

// NewGetMem builds a GETMEM frame reading length bytes starting at offset.
func NewGetMem(offset uint16, length uint16) Frame {
	return Frame{Header: Header{RequestType: ReqGetMem, Arg1: offset, Arg2: length}}
}

// NewSetMem builds a SETMEM frame writing data starting at offset.
func NewSetMem(offset uint16, data []byte) (Frame, error) {
	if len(data) > MaxPayload {
		return Frame{}, fmt.Errorf("pmaclink: SETMEM payload too long (%d bytes)", len(data))
	}
	return Frame{
		Header:  Header{RequestType: ReqSetMem, Arg1: offset, Length: uint16(len(data))},
		Payload: data,
	}, nil
}

// NewSetBits builds a SETBIT(S) frame atomically OR-ing mask into the word at offset.
func NewSetBits(offset uint16, mask uint16) Frame {
	return Frame{Header: Header{RequestType: ReqSetBits, Arg1: offset, Arg2: mask}}
}

// ControlChar enumerates the fixed set of control characters SENDCTRLCHAR accepts.
type ControlChar byte

const (
	CtrlAbort  ControlChar = 0x01 // control-A: abort
	CtrlQuit   ControlChar = 0x11
	CtrlPause  ControlChar = 0x10
)

// NewSendCtrlChar builds a SENDCTRLCHAR frame.
func NewSendCtrlChar(c ControlChar) Frame {
	return Frame{Header: Header{RequestType: ReqSendCtrlChar, RequestCode: byte(c)}}
}

// NewFlush builds a FLUSH frame resetting the controller-side command channel.
func NewFlush() Frame {
	return Frame{Header: Header{RequestType: ReqFlush}}
}
