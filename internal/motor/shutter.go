package motor

import (
	"context"
	"sync"
	"time"

	"github.com/md2ctl/md2d/internal/eventbus"
	"github.com/md2ctl/md2d/internal/pmaclink"
)

// FastShutter tracks the ACC-11C fast-shutter "is open" flag and gates
// waiters on open edges with a mutex/condition-variable pair, the same idiom
// the orchestrator uses for move completion. It does not read the status
// block's "has opened since last reset" latch (ShutterOpenedSinceReset);
// close edges are published as events, but no wait on them is offered.
type FastShutter struct {
	bus *eventbus.Bus

	mu       sync.Mutex
	cond     *sync.Cond
	open     bool
	openedAt uint64 // monotonically bumped on every open edge
}

// NewFastShutter creates a FastShutter publishing edge events on bus.
func NewFastShutter(bus *eventbus.Bus) *FastShutter {
	s := &FastShutter{bus: bus}
	s.cond = sync.NewCond(&s.mu)
	return s
}

// Read updates the shutter's state from a freshly polled status block.
func (s *FastShutter) Read(block pmaclink.Block) {
	s.mu.Lock()
	wasOpen := s.open
	s.open = block.ShutterOpen
	if s.open && !wasOpen {
		s.openedAt++
	}
	changed := s.open != wasOpen
	s.mu.Unlock()

	if !changed {
		return
	}
	s.cond.Broadcast()
	if s.open {
		s.bus.Send("shutter.open")
	} else {
		s.bus.Send("shutter.close")
	}
}

// IsOpen reports the shutter's current state.
func (s *FastShutter) IsOpen() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.open
}

// WaitOpenEdge blocks until the shutter opens (its openedAt counter
// advances), honoring ctx as an abort checkpoint. Used to confirm a
// triggered exposure actually fired during a raster/collect sequence.
func (s *FastShutter) WaitOpenEdge(ctx context.Context, deadline time.Time) error {
	done := make(chan struct{})
	go func() {
		s.mu.Lock()
		start := s.openedAt
		for s.openedAt == start {
			s.cond.Wait()
		}
		s.mu.Unlock()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(time.Until(deadline)):
		return context.DeadlineExceeded
	}
}
