package motor

import (
	"fmt"
	"sync"

	"github.com/md2ctl/md2d/internal/eventbus"
	"github.com/md2ctl/md2d/internal/pmaclink"
)

// BinaryInput reads a single bit out of the ACC-11C digital input word and
// publishes edge events, with the same glitch filter as a real axis.
type BinaryInput struct {
	Name string
	Bit  uint

	bus *eventbus.Bus

	mu           sync.Mutex
	value        bool
	haveRead     bool
	pendingValue bool
	pendingCount int
}

// NewBinaryInput creates a BinaryInput watching bit of the digital input word.
func NewBinaryInput(name string, bit uint, bus *eventbus.Bus) *BinaryInput {
	return &BinaryInput{Name: name, Bit: bit, bus: bus}
}

// Read derives this input's value from a freshly polled status block.
func (b *BinaryInput) Read(block pmaclink.Block) {
	next := block.DigitalIn&(1<<b.Bit) != 0

	b.mu.Lock()
	prev := b.value
	if !b.haveRead {
		b.value = next
		b.pendingValue = next
		b.pendingCount = GlitchFilterCount
		b.haveRead = true
	} else if next == b.pendingValue {
		b.pendingCount++
	} else {
		b.pendingValue = next
		b.pendingCount = 1
	}
	accept := b.pendingCount >= GlitchFilterCount
	if accept {
		b.value = next
	}
	b.mu.Unlock()

	if !accept || next == prev {
		return
	}
	if next {
		b.bus.Send(fmt.Sprintf("%s.rising", b.Name))
	} else {
		b.bus.Send(fmt.Sprintf("%s.falling", b.Name))
	}
}

// Value returns the input's current glitch-filtered state.
func (b *BinaryInput) Value() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.value
}
