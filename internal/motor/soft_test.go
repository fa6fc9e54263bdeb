package motor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/md2ctl/md2d/internal/eventbus"
	"github.com/md2ctl/md2d/internal/kvmirror"
)

func TestSoftMotorDefaultsToZero(t *testing.T) {
	bus := eventbus.New(0)
	defer bus.Close()
	kv := kvmirror.New(kvmirror.NewLocal(), bus, "test", "test.events", "")
	defer kv.Close()

	m := NewSoftMotor("beam_energy", kv)
	assert.Equal(t, 0.0, m.Position())
}

func TestSoftMotorMoveToPersists(t *testing.T) {
	bus := eventbus.New(0)
	defer bus.Close()
	kv := kvmirror.New(kvmirror.NewLocal(), bus, "test", "test.events", "")
	defer kv.Close()

	m := NewSoftMotor("beam_energy", kv)
	require.NoError(t, m.MoveTo(12.4))
	assert.InDelta(t, 12.4, m.Position(), 1e-9)
}
