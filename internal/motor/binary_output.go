package motor

import (
	"context"

	"github.com/md2ctl/md2d/internal/pmaclink"
)

// BinaryOutput is a "motor" whose only motion is a single digital output bit:
// moveAbs(1) sets the bit, moveAbs(0) clears it. Both
// directions share the controller's SETBIT(S) request.
type BinaryOutput struct {
	Name     string
	Offset   uint16 // DPRAM word offset holding the bit
	Bit      uint16
	link     *pmaclink.Link
}

// NewBinaryOutput creates a BinaryOutput controlling bit of the word at offset.
func NewBinaryOutput(name string, offset uint16, bit uint16, link *pmaclink.Link) *BinaryOutput {
	return &BinaryOutput{Name: name, Offset: offset, Bit: bit, link: link}
}

// setBitsClear marks a SETBITS request as clearing rather than setting mask
// bits (distinguished by RequestCode, since the wire Frame carries no other
// signed-ness field).
const setBitsClear = 0x01

// Set drives the bit high (v=true) or low (v=false).
func (o *BinaryOutput) Set(ctx context.Context, v bool) error {
	mask := uint16(1) << o.Bit
	frame := pmaclink.NewSetBits(o.Offset, mask)
	if !v {
		frame.Header.RequestCode = setBitsClear
	}
	_, err := o.link.Exec(ctx, frame)
	return err
}
