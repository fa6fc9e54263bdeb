package motor

import (
	"context"
	"fmt"

	"github.com/md2ctl/md2d/internal/pmaclink"
)

// DACCount is one of the four DAC channels readable in the status block and
// writable via SETMEM.
type DACCount int

const (
	DAC0 DACCount = iota
	DAC1
	DAC2
	DAC3
)

// DACMotor is a "motor" whose position is an analog output channel, such as
// a beam attenuator or focus stage driven open-loop from a DAC. Its lookup
// table converts engineering units to DAC counts.
type DACMotor struct {
	Name    string
	Channel DACCount
	Offset  uint16 // DPRAM base offset of the DAC register bank

	link *pmaclink.Link
	lut  *LookupTable
}

// NewDACMotor creates a DACMotor on the given channel, writing through offset.
func NewDACMotor(name string, channel DACCount, offset uint16, link *pmaclink.Link, lut *LookupTable) *DACMotor {
	return &DACMotor{Name: name, Channel: channel, Offset: offset, link: link, lut: lut}
}

// MoveTo converts value to DAC counts via the lookup table and writes it.
func (d *DACMotor) MoveTo(ctx context.Context, value float64) error {
	counts := value
	if d.lut != nil {
		counts = d.lut.Rlut(value)
	}
	buf := make([]byte, 4)
	c := int32(counts)
	buf[0] = byte(c >> 24)
	buf[1] = byte(c >> 16)
	buf[2] = byte(c >> 8)
	buf[3] = byte(c)
	offset := d.Offset + uint16(d.Channel)*4
	frame, err := pmaclink.NewSetMem(offset, buf)
	if err != nil {
		return fmt.Errorf("motor: %s setmem: %w", d.Name, err)
	}
	_, err = d.link.Exec(ctx, frame)
	return err
}

// Read returns the channel's current engineering-unit value from a status block.
func (d *DACMotor) Read(block pmaclink.Block) float64 {
	counts := float64(block.DAC[d.Channel])
	if d.lut != nil {
		return d.lut.Lut(counts)
	}
	return counts
}
