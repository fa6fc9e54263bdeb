package motor

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/md2ctl/md2d/internal/eventbus"
	"github.com/md2ctl/md2d/internal/kvmirror"
	"github.com/md2ctl/md2d/internal/pmaclink"
)

// GlitchFilterCount is the number of consecutive identical readings required
// before a status transition is accepted (a "glitch filter").
const GlitchFilterCount = 3

// Status summarizes a motor's current condition in priority order: the
// first true field, read top to bottom in Summary, is the one reported.
type Status struct {
	FollowWarn     bool
	FollowError    bool
	I2TFault       bool
	AmpFault       bool
	StoppedOnLimit bool
	OpenLoop       bool
	Disabled       bool
	HomeSearch     bool
	NegLimit       bool
	PosLimit       bool
	Moving         bool
	InPosition     bool
	HomeComplete   bool
}

// Summary returns the single highest-priority condition name, or "ok". The
// order follows the controller's own fault-priority convention: faults first
// (following error/warning, I2T, amplifier, stopped-on-limit), then
// configuration states (open loop, disabled), then motion states (homing,
// limits, not-homed, moving), with "ok" only once everything else is clear.
func (s Status) Summary() string {
	switch {
	case s.FollowWarn:
		return "follow_warn"
	case s.FollowError:
		return "follow_error"
	case s.I2TFault:
		return "i2t_fault"
	case s.AmpFault:
		return "amp_fault"
	case s.StoppedOnLimit:
		return "stopped_on_limit"
	case s.OpenLoop:
		return "open_loop"
	case s.Disabled:
		return "disabled"
	case s.HomeSearch:
		return "home_search"
	case s.NegLimit && s.PosLimit:
		return "both_limits"
	case s.PosLimit:
		return "pos_limit"
	case s.NegLimit:
		return "neg_limit"
	case !s.HomeComplete:
		return "not_homed"
	case !s.InPosition:
		return "moving"
	default:
		return "ok"
	}
}

// homing phase values, per the controller's open-loop-then-script homing
// sequence.
const (
	HomingIdle              = 0
	HomingOpenLoopRequested = 1
	HomingScriptDispatched  = 2
)

// MotionPolicy carries the per-motor limits and trapezoidal-move parameters
// an axis is configured with after construction. The zero value means
// "unlimited, jog-dispatch only" — a Motor that New creates but nobody ever
// calls Configure on moves exactly as it always has (this is relied on by
// axes with no coordinate-system motion program, such as binary-style
// presets, and by tests that construct a bare Motor).
type MotionPolicy struct {
	HasLimits bool
	MinPos    float64
	MaxPos    float64

	MaxVelocity float64
	MaxAccel    float64

	// InPositionBand is the distance, in engineering units, within which a
	// requested move is considered already satisfied (no wire traffic).
	InPositionBand float64

	// GlitchThreshold is the counts jump, while in-position stays set, above
	// which Read drops the sample outright rather than just debouncing the
	// status bitfield. Zero disables the check.
	GlitchThreshold float64

	// AxisLetter selects the coordinate-system motion-program Q-slot/bank
	// pair this motor dispatches through (see axisSlot and axisBank in
	// package orchestrate). Zero means this motor has no coordinate-system program
	// and always dispatches as a plain jog.
	AxisLetter byte
}

// Motor is one real PMAC coordinate-system axis.
type Motor struct {
	Name string
	Axis int // 1-based PMAC motor number
	CS   int // coordinate system this axis belongs to

	link *pmaclink.Link
	kv   *kvmirror.Mirror
	bus  *eventbus.Bus
	lut  *LookupTable // counts <-> engineering units; nil means raw counts

	mu           sync.Mutex
	status       Status
	pendingCount int
	pendingOf    Status
	position     float64
	lastCounts   float64
	haveRead     bool

	policy MotionPolicy

	motionCond  *sync.Cond
	commandSent bool
	motionSeen  bool
	notDone     bool
	homingPhase int

	zeroCrossArmed      bool
	zeroCrossHook       func(ZeroCrossEvent)
	haveZeroCrossSample bool
	lastZeroCrossPos    float64
	lastZeroCrossTime   time.Time
}

// New creates a Motor bound to axis/cs on link, mirroring limit flags and
// position through kv and publishing edge events on bus. lut may be nil if
// the axis reports directly in engineering units.
func New(name string, axis, cs int, link *pmaclink.Link, kv *kvmirror.Mirror, bus *eventbus.Bus, lut *LookupTable) *Motor {
	m := &Motor{Name: name, Axis: axis, CS: cs, link: link, kv: kv, bus: bus, lut: lut}
	m.motionCond = sync.NewCond(&m.mu)
	return m
}

// Configure attaches a MotionPolicy to the motor after construction, the
// same additive-setter pattern ArmZeroCross uses: it does not change New's
// signature or any existing call site.
func (m *Motor) Configure(p MotionPolicy) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.policy = p
}

// Policy returns the motor's current MotionPolicy.
func (m *Motor) Policy() MotionPolicy {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.policy
}

// WithinLimits reports whether target lies within the motor's configured
// range. A motor with no limits configured accepts anything.
func (m *Motor) WithinLimits(target float64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.policy.HasLimits {
		return true
	}
	return target >= m.policy.MinPos && target <= m.policy.MaxPos
}

// AxisLetter returns the motor's coordinate-system Q-slot letter, or 0 if
// this motor has no motion program and always dispatches as a jog.
func (m *Motor) AxisLetter() byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.policy.AxisLetter
}

// WithinBand reports whether target is already satisfied by the motor's
// last known position, within its configured in-position band.
func (m *Motor) WithinBand(target float64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.policy.InPositionBand <= 0 {
		return false
	}
	return math.Abs(target-m.position) <= m.policy.InPositionBand
}

// PublishMoveAborted emits a "<name> Move Aborted" event and a statusReport
// entry, the same convention scripted.go's transfer/collect phases use for
// their own abort reports.
func (m *Motor) PublishMoveAborted(reason string) {
	m.bus.Send(fmt.Sprintf("%s Move Aborted", m.Name))
	if m.kv != nil {
		_ = m.kv.SetStr("statusReport", fmt.Sprintf("%s Move Aborted: %s", m.Name, reason))
	}
}

// MarkCommandSent records that a move has just been dispatched to this
// motor's coordinate-system program: motion_seen and not_done both reset so
// WaitMotionDone blocks until the controller actually starts and finishes
// the new move, per Invariant 1.
func (m *Motor) MarkCommandSent() {
	m.mu.Lock()
	m.commandSent = true
	m.motionSeen = false
	m.notDone = true
	m.mu.Unlock()
}

// WaitMotionDone blocks until motion_seen=1 and not_done=0 for the last
// commanded move, ctx is canceled, or deadline passes.
func (m *Motor) WaitMotionDone(ctx context.Context, deadline time.Time) error {
	done := make(chan struct{})
	go func() {
		m.mu.Lock()
		for !(m.motionSeen && !m.notDone) {
			m.motionCond.Wait()
		}
		m.mu.Unlock()
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

// Read derives this motor's status and position from a freshly polled status
// block. It applies the glitch filter before accepting a status change,
// publishes edge events for limits and homing, mirrors the limit flags into
// the KV store, and advances the motion_seen/not_done lifecycle.
func (m *Motor) Read(b pmaclink.Block) {
	if m.Axis < 1 || m.Axis > pmaclink.MaxAxes {
		return
	}
	axis := b.Axes[m.Axis-1]
	next := Status{
		FollowWarn:     axis.Status1&pmaclink.Status1WarnFollowErr != 0,
		FollowError:    axis.Status1&pmaclink.Status1FatalFollowErr != 0,
		I2TFault:       axis.Status2&pmaclink.Status2I2TFault != 0,
		AmpFault:       axis.Status1&pmaclink.Status1AmpFault != 0,
		StoppedOnLimit: axis.Status2&pmaclink.Status2StoppedOnLimit != 0,
		OpenLoop:       axis.Status1&pmaclink.Status1OpenLoop != 0,
		Disabled:       axis.Status2&pmaclink.Status2Disabled != 0,
		HomeSearch:     axis.Status1&pmaclink.Status1HomeSearchActive != 0,
		NegLimit:       axis.Status1&pmaclink.Status1NegLimitSet != 0,
		PosLimit:       axis.Status1&pmaclink.Status1PosLimitSet != 0,
		InPosition:     axis.Status1&pmaclink.Status1InPosition != 0,
		HomeComplete:   axis.Status1&pmaclink.Status1HomeComplete != 0,
	}
	next.Moving = !next.InPosition

	counts := float64(axis.ActualCounts)
	pos := counts
	if m.lut != nil {
		pos = m.lut.Lut(counts)
	}

	m.mu.Lock()

	// Glitch filter (S6): a sample reporting in-position both before and
	// after, but whose raw counts jumped by more than this motor's
	// threshold, is a wire/ADC glitch, not a real position change. Drop it
	// outright before it touches status, position, events, or KV — the
	// 3-sample debounce below addresses a different failure mode (a
	// flickering status bitfield) and does not substitute for this check.
	if m.haveRead && m.policy.GlitchThreshold > 0 && m.status.InPosition && next.InPosition {
		if math.Abs(counts-m.lastCounts) > m.policy.GlitchThreshold {
			m.mu.Unlock()
			return
		}
	}

	prev := m.status
	if !m.haveRead {
		m.status = next
		m.pendingOf = next
		m.pendingCount = GlitchFilterCount
		m.haveRead = true
	} else if next == m.pendingOf {
		m.pendingCount++
	} else {
		m.pendingOf = next
		m.pendingCount = 1
	}
	accept := m.pendingCount >= GlitchFilterCount
	if accept {
		m.status = next
	}
	m.position = pos
	m.lastCounts = counts
	reported := m.status

	moveActive := axis.Status1&(pmaclink.Status1MoveTimerActive|pmaclink.Status1HomeSearchActive) != 0
	if m.commandSent && !m.motionSeen && moveActive {
		m.motionSeen = true
	}
	if m.motionSeen && next.InPosition {
		m.notDone = false
	}
	m.motionCond.Broadcast()

	var crossing ZeroCrossEvent
	var fireCrossing bool
	if m.zeroCrossArmed {
		now := time.Now()
		if m.haveZeroCrossSample && (pos >= 0) != (m.lastZeroCrossPos >= 0) {
			elapsed := now.Sub(m.lastZeroCrossTime).Seconds()
			var velocity float64
			if elapsed > 0 {
				velocity = (pos - m.lastZeroCrossPos) / elapsed
			}
			crossing = ZeroCrossEvent{Timestamp: now, Position: pos, Velocity: velocity}
			fireCrossing = m.zeroCrossHook != nil
		}
		m.lastZeroCrossPos = pos
		m.lastZeroCrossTime = now
		m.haveZeroCrossSample = true
	}
	hook := m.zeroCrossHook
	m.mu.Unlock()

	if fireCrossing {
		hook(crossing)
	}

	if !accept {
		return
	}
	m.publishTransitions(prev, reported)
}

func (m *Motor) publishTransitions(prev, next Status) {
	if next.NegLimit && !prev.NegLimit {
		m.bus.Send(fmt.Sprintf("%s.neg_limit", m.Name))
		m.kvSetBool("neg_limit", true)
	} else if !next.NegLimit && prev.NegLimit {
		m.kvSetBool("neg_limit", false)
	}
	if next.PosLimit && !prev.PosLimit {
		m.bus.Send(fmt.Sprintf("%s.pos_limit", m.Name))
		m.kvSetBool("pos_limit", true)
	} else if !next.PosLimit && prev.PosLimit {
		m.kvSetBool("pos_limit", false)
	}
	if next.HomeComplete && !prev.HomeComplete {
		m.bus.Send(fmt.Sprintf("%s.homed", m.Name))
	}
	if next.InPosition && !prev.InPosition {
		m.bus.Send(fmt.Sprintf("%s.in_position", m.Name))
	}
}

func (m *Motor) kvSetBool(suffix string, v bool) {
	if m.kv == nil {
		return
	}
	val := "0"
	if v {
		val = "1"
	}
	if err := m.kv.SetStr(fmt.Sprintf("%s.%s", m.Name, suffix), val); err != nil {
		// Best-effort mirroring; the PMAC status block remains authoritative.
		_ = err
	}
}

// Status returns the motor's current (glitch-filtered) status.
func (m *Motor) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// Position returns the motor's current engineering-unit position.
func (m *Motor) Position() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.position
}

// CountsFor converts an engineering-unit target to raw controller counts
// using this motor's lookup table, or returns it unchanged if none is set.
func (m *Motor) CountsFor(value float64) float64 {
	if m.lut == nil {
		return value
	}
	return m.lut.Rlut(value)
}
