package orchestrate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/md2ctl/md2d/internal/motor"
	"github.com/md2ctl/md2d/internal/pmaclink"
)

// MaxHomingAttempts bounds the homing retry loop.
const MaxHomingAttempts = 3

// CoordSysClearTimeout bounds how long MoveAbs waits for a coordinate
// system's motion mask bit to clear before dispatching into it (H.3).
const CoordSysClearTimeout = 60 * time.Second

// CoordSysPropagateTimeout bounds how long MoveAbs waits, after asking the
// controller to set a coordinate system's motion mask bit, for the status
// block to reflect it before dispatching the move itself (H.3).
const CoordSysPropagateTimeout = 4 * time.Second

// coordSysPollInterval is how often gateCoordSys re-checks the status block
// while waiting on the motion mask.
const coordSysPollInterval = 10 * time.Millisecond

// axisBank and axisSlot give the Q-variable/buffer-bank pair a coordinate-
// system motion program uses for a given axis letter: X->140, Y->141,
// Z->142, U->143, V->144, W->145, A->146, B->147, C->148, with the matching
// Q40..Q48 delta slot.
var axisBank = map[byte]int{
	'X': 140, 'Y': 141, 'Z': 142, 'U': 143, 'V': 144, 'W': 145, 'A': 146, 'B': 147, 'C': 148,
}

var axisSlot = map[byte]int{
	'X': 40, 'Y': 41, 'Z': 42, 'U': 43, 'V': 44, 'W': 45, 'A': 46, 'B': 47, 'C': 48,
}

// MoveAbs commands m to an absolute engineering-unit target and waits for
// completion, within estimate+MoveTimeMargin.
//
// A target outside m's configured limits is rejected before any wire
// traffic: a "<name> Move Aborted" event fires and a statusReport entry is
// written (S2). A target already within m's in-position band is satisfied
// synthetically, also with no wire traffic.
//
// A motor with no configured axis letter (the zero-value MotionPolicy)
// dispatches as a plain jog, exactly as before. A motor with an axis letter
// dispatches through its coordinate system's motion program: the CS's
// M5075 motion mask bit is gated (wait for it to clear, set it, wait for
// the controller to reflect the set) before the program is triggered, and
// the call additionally waits for the motor's own motion_seen/not_done
// lifecycle to settle once the coordinate system reports done (H.2).
func MoveAbs(ctx context.Context, link *pmaclink.Link, m *motor.Motor, waiter *MoveWaiter, target float64, estimate time.Duration) error {
	if !m.WithinLimits(target) {
		reason := fmt.Sprintf("requested %.4f outside configured limits", target)
		m.PublishMoveAborted(reason)
		return fmt.Errorf("orchestrate: %s move aborted: %s", m.Name, reason)
	}
	if m.WithinBand(target) {
		return nil
	}

	letter := m.AxisLetter()
	counts := m.CountsFor(target)
	deadline := time.Now().Add(estimate + MoveTimeMargin)

	if letter == 0 {
		ack, err := link.SendLine(ctx, fmt.Sprintf("#%dJ=%d", m.Axis, int64(counts)))
		if err != nil {
			return fmt.Errorf("orchestrate: %s move: %w", m.Name, err)
		}
		if !ack {
			return fmt.Errorf("orchestrate: %s move not acknowledged", m.Name)
		}
		return waiter.Wait(ctx, deadline)
	}

	slot, ok := axisSlot[letter]
	if !ok {
		return fmt.Errorf("orchestrate: %s: no motion-program slot for axis %q", m.Name, string(letter))
	}
	bank := axisBank[letter]
	bit := pmaclink.CoordSysBit(m.CS)

	if err := gateCoordSys(ctx, link, m.CS); err != nil {
		return fmt.Errorf("orchestrate: %s move: %w", m.Name, err)
	}

	m.MarkCommandSent()
	line := fmt.Sprintf("&%d Q%d=%d Q49=%d Q100=%d B%dR", m.CS, slot, int64(counts), int64(estimate.Seconds()*1000), bit, bank)
	ack, err := link.SendLine(ctx, line)
	if err != nil {
		return fmt.Errorf("orchestrate: %s move: %w", m.Name, err)
	}
	if !ack {
		return fmt.Errorf("orchestrate: %s move not acknowledged", m.Name)
	}

	if err := waiter.Wait(ctx, deadline); err != nil {
		return err
	}
	return m.WaitMotionDone(ctx, deadline)
}

// gateCoordSys serializes entry into a coordinate system's motion program
// (Invariant 2 / S4): it waits for cs's M5075 bit to clear (another move
// already in flight there), asks the controller to set it, then waits for
// the status block to reflect the set before returning. The caller
// dispatches the actual motion-program line only after gateCoordSys
// succeeds.
func gateCoordSys(ctx context.Context, link *pmaclink.Link, cs int) error {
	bit := pmaclink.CoordSysBit(cs)

	if err := pollCoordSys(ctx, link, CoordSysClearTimeout, func(b pmaclink.Block) bool {
		return b.CoordSysMoving&bit == 0
	}); err != nil {
		return fmt.Errorf("cs %d: timed out waiting for motion mask to clear: %w", cs, err)
	}

	if _, err := link.SendLine(ctx, fmt.Sprintf("M5075=M5075|$%X", bit)); err != nil {
		return fmt.Errorf("cs %d: set motion mask: %w", cs, err)
	}

	if err := pollCoordSys(ctx, link, CoordSysPropagateTimeout, func(b pmaclink.Block) bool {
		return b.CoordSysMoving&bit != 0
	}); err != nil {
		return fmt.Errorf("cs %d: motion mask set did not propagate: %w", cs, err)
	}
	return nil
}

func pollCoordSys(ctx context.Context, link *pmaclink.Link, timeout time.Duration, satisfied func(pmaclink.Block) bool) error {
	deadline := time.Now().Add(timeout)
	for {
		if b, ok := link.Status(); ok && satisfied(b) {
			return nil
		}
		if time.Now().After(deadline) {
			return context.DeadlineExceeded
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(coordSysPollInterval):
		}
	}
}

// MoveRel commands m by a relative engineering-unit delta from its last
// known position.
func MoveRel(ctx context.Context, link *pmaclink.Link, m *motor.Motor, waiter *MoveWaiter, delta float64, estimate time.Duration) error {
	return MoveAbs(ctx, link, m, waiter, m.Position()+delta, estimate)
}

// Jog starts continuous motion in the given direction until JogStop is
// called or a limit is hit.
func Jog(ctx context.Context, link *pmaclink.Link, m *motor.Motor, positive bool) error {
	dir := "-"
	if positive {
		dir = "+"
	}
	ack, err := link.SendLine(ctx, fmt.Sprintf("#%dJ%s", m.Axis, dir))
	if err != nil {
		return fmt.Errorf("orchestrate: %s jog: %w", m.Name, err)
	}
	if !ack {
		return fmt.Errorf("orchestrate: %s jog not acknowledged", m.Name)
	}
	return nil
}

// JogStop halts a jog in progress.
func JogStop(ctx context.Context, link *pmaclink.Link, m *motor.Motor) error {
	_, err := link.SendLine(ctx, fmt.Sprintf("#%dJ/", m.Axis))
	return err
}

// Home issues the homing command for m and retries up to MaxHomingAttempts
// times on a timed-out or unacknowledged attempt. A context cancellation
// aborts immediately rather than retrying.
func Home(ctx context.Context, link *pmaclink.Link, m *motor.Motor, waiter *MoveWaiter, timeout time.Duration) error {
	var lastErr error
	for attempt := 0; attempt < MaxHomingAttempts; attempt++ {
		ack, err := link.SendLine(ctx, fmt.Sprintf("#%dHM", m.Axis))
		if err != nil {
			return fmt.Errorf("orchestrate: %s home: %w", m.Name, err)
		}
		if !ack {
			lastErr = fmt.Errorf("orchestrate: %s home not acknowledged", m.Name)
			continue
		}
		waitErr := waiter.Wait(ctx, time.Now().Add(timeout))
		if waitErr == nil && m.Status().HomeComplete {
			return nil
		}
		lastErr = waitErr
		if errors.Is(waitErr, context.Canceled) {
			return waitErr
		}
	}
	return fmt.Errorf("orchestrate: %s failed to home after %d attempts: %w", m.Name, MaxHomingAttempts, lastErr)
}

// Abort sends the controller abort control character, forces the motion
// mask to zero, and re-closes the fast shutter. shutter may be nil if
// nothing is wired to it.
func Abort(ctx context.Context, link *pmaclink.Link, shutter *motor.BinaryOutput) error {
	if _, err := link.Exec(ctx, pmaclink.NewSendCtrlChar(pmaclink.CtrlAbort)); err != nil {
		return fmt.Errorf("orchestrate: abort: %w", err)
	}
	if _, err := link.SendLine(ctx, "M5075=0"); err != nil {
		return fmt.Errorf("orchestrate: abort: force mask zero: %w", err)
	}
	if shutter != nil {
		if err := shutter.Set(ctx, false); err != nil {
			return fmt.Errorf("orchestrate: abort: close shutter: %w", err)
		}
	}
	return nil
}
