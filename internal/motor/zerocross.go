package motor

import "time"

// ZeroCrossEvent reports the wall-clock instant a motor's position swept
// through zero while zero-cross detection was armed ("flag
// omega_zero_search=1 so that the status reader computes the wall-clock
// instant omega crosses zero").
type ZeroCrossEvent struct {
	Timestamp time.Time
	Position  float64
	Velocity  float64 // engineering units per second, signed
}

// ArmZeroCross enables zero-crossing detection: the next Read that observes
// a sign change in Position calls hook once with the crossing's estimated
// timestamp and velocity, then stays armed for subsequent crossings until
// DisarmZeroCross is called.
func (m *Motor) ArmZeroCross(hook func(ZeroCrossEvent)) {
	m.mu.Lock()
	m.zeroCrossArmed = true
	m.zeroCrossHook = hook
	m.haveZeroCrossSample = false
	m.mu.Unlock()
}

// DisarmZeroCross stops zero-crossing detection.
func (m *Motor) DisarmZeroCross() {
	m.mu.Lock()
	m.zeroCrossArmed = false
	m.zeroCrossHook = nil
	m.mu.Unlock()
}
