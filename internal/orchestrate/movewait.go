package orchestrate

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/md2ctl/md2d/internal/eventbus"
)

// MoveWaiter blocks callers until a coordinate system's moving bit falls.
// One MoveWaiter is created per coordinate system at startup and registers
// a single permanent bus listener, rather
// than adding a fresh listener per move — eventbus listeners are never
// individually removed, so registering one per call would leak.
type MoveWaiter struct {
	mu         sync.Mutex
	cond       *sync.Cond
	generation uint64
}

// NewMoveWaiter registers a listener for the given coordinate system's
// "done" event (published by pmaclink on the moving-bit falling edge).
func NewMoveWaiter(bus *eventbus.Bus, cs int) *MoveWaiter {
	w := &MoveWaiter{}
	w.cond = sync.NewCond(&w.mu)
	bus.AddListener(fmt.Sprintf(`^cs\.%d\.done$`, cs), func(string) {
		w.mu.Lock()
		w.generation++
		w.mu.Unlock()
		w.cond.Broadcast()
	})
	return w
}

// Wait blocks until the next completion edge, ctx is canceled, or deadline
// passes — every wait in the orchestrator is an abort checkpoint
// (move_wait/home_wait/cond_wait are all abort points).
func (w *MoveWaiter) Wait(ctx context.Context, deadline time.Time) error {
	done := make(chan struct{})
	go func() {
		w.mu.Lock()
		start := w.generation
		for w.generation == start {
			w.cond.Wait()
		}
		w.mu.Unlock()
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
