package main

import (
	"github.com/md2ctl/md2d/internal/pmaclink"
)

// streamDecoder reassembles the two independent byte streams of a TCP
// connection (operator -> controller, controller -> operator) into
// pmaclink frames, tolerating a frame header arriving split across packet
// boundaries.
type streamDecoder struct {
	toController   []byte
	fromController []byte
}

func newStreamDecoder() *streamDecoder {
	return &streamDecoder{}
}

// feed appends a captured TCP payload chunk to the appropriate direction's
// buffer and emits every complete frame it can now decode.
func (d *streamDecoder) feed(fromController bool, payload []byte) {
	buf := &d.toController
	if fromController {
		buf = &d.fromController
	}
	*buf = append(*buf, payload...)

	for {
		if len(*buf) < pmaclink.HeaderLen {
			return
		}
		hdr, err := pmaclink.DecodeHeader(*buf)
		if err != nil {
			// Unrecoverable desync for this direction; drop the buffer
			// rather than spin forever on a header that will never parse.
			*buf = nil
			return
		}
		total := pmaclink.HeaderLen + int(hdr.Length)
		if len(*buf) < total {
			return
		}
		payload := append([]byte(nil), (*buf)[pmaclink.HeaderLen:total]...)
		printSegment(segment{fromController: fromController}, hdr, payload)
		*buf = (*buf)[total:]
	}
}
