package motor

import (
	"strconv"

	"github.com/md2ctl/md2d/internal/kvmirror"
)

// SoftMotor is a purely software "motor": no PMAC axis backs it, its
// position lives entirely in the KV mirror. It is used for
// derived or operator-only setpoints that the orchestrator still wants to
// address uniformly alongside real axes, such as a nominal beam energy.
type SoftMotor struct {
	Name string
	kv   *kvmirror.Mirror
}

// NewSoftMotor creates a SoftMotor backed by the "<name>.position" KV key.
func NewSoftMotor(name string, kv *kvmirror.Mirror) *SoftMotor {
	return &SoftMotor{Name: name, kv: kv}
}

// Position returns the motor's current value, defaulting to 0 if never set.
func (s *SoftMotor) Position() float64 {
	v, err := s.kv.GetDouble(s.Name + ".position")
	if err != nil {
		return 0
	}
	return v
}

// MoveTo writes a new position directly; there is no physical move to wait for.
func (s *SoftMotor) MoveTo(value float64) error {
	return s.kv.SetStr(s.Name+".position", strconv.FormatFloat(value, 'f', -1, 64))
}
