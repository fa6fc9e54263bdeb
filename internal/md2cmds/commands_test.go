package md2cmds

import (
	"context"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/md2ctl/md2d/internal/eventbus"
	"github.com/md2ctl/md2d/internal/kvmirror"
	"github.com/md2ctl/md2d/internal/motor"
	"github.com/md2ctl/md2d/internal/orchestrate"
)

func newTestExecutor(t *testing.T) (*Executor, *kvmirror.Mirror) {
	t.Helper()
	bus := eventbus.New(16)
	kv := kvmirror.New(kvmirror.NewLocal(), bus, "test", "test.notify", "test.ui")
	e := New(nil, bus, kv, nil)
	return e, kv
}

func withMotor(e *Executor, name string, axis, cs int) *motor.Motor {
	m := motor.New(name, axis, cs, nil, e.KV, nil, nil)
	e.Motors[name] = m
	if _, ok := e.Waiters[cs]; !ok {
		e.Waiters[cs] = orchestrate.NewMoveWaiter(e.Bus, cs)
	}
	return m
}

func TestMotorLookupUnknown(t *testing.T) {
	e, _ := newTestExecutor(t)
	_, err := e.motor("bogus")
	assert.Error(t, err)
}

func TestMotorLookupKnown(t *testing.T) {
	e, _ := newTestExecutor(t)
	want := withMotor(e, "kappa", 1, 1)
	got, err := e.motor("kappa")
	require.NoError(t, err)
	assert.Same(t, want, got)
}

func TestWaiterForReturnsRegisteredWaiter(t *testing.T) {
	e, _ := newTestExecutor(t)
	m := withMotor(e, "omega", 1, 2)
	assert.Same(t, e.Waiters[2], e.waiterFor(m))
}

func TestResolveTargetNumeric(t *testing.T) {
	e, _ := newTestExecutor(t)
	m := withMotor(e, "kappa", 1, 1)
	v, err := e.resolveTarget(m, "12.5")
	require.NoError(t, err)
	assert.Equal(t, 12.5, v)
}

func TestResolveTargetPresetFallback(t *testing.T) {
	e, kv := newTestExecutor(t)
	m := withMotor(e, "capz", 8, 1)
	require.NoError(t, kv.SetPreset("capz", "Park", 42))

	v, err := e.resolveTarget(m, "Park")
	require.NoError(t, err)
	assert.Equal(t, 42.0, v)
}

func TestResolveTargetUnknownPreset(t *testing.T) {
	e, _ := newTestExecutor(t)
	m := withMotor(e, "capz", 8, 1)
	_, err := e.resolveTarget(m, "NotAPreset")
	assert.ErrorIs(t, err, kvmirror.ErrPresetNotFound)
}

func TestCmdSetStoresCurrentPositionAsPreset(t *testing.T) {
	e, kv := newTestExecutor(t)
	withMotor(e, "kappa", 1, 1)

	err := cmdSet(context.Background(), e, []string{"kappa", "Home"})
	require.NoError(t, err)

	pos, err := kv.FindPreset("kappa", "Home")
	require.NoError(t, err)
	assert.Equal(t, 0.0, pos) // motor.Position() defaults to 0 without a Read
}

func TestCmdSetRequiresTwoArgs(t *testing.T) {
	e, _ := newTestExecutor(t)
	withMotor(e, "kappa", 1, 1)
	err := cmdSet(context.Background(), e, []string{"kappa"})
	assert.Error(t, err)
}

func TestCmdSetUnknownMotor(t *testing.T) {
	e, _ := newTestExecutor(t)
	err := cmdSet(context.Background(), e, []string{"bogus", "Home"})
	assert.Error(t, err)
}

func TestCmdSetBackVectorComputesOffsetFromBeamPreset(t *testing.T) {
	e, kv := newTestExecutor(t)
	withMotor(e, "align_x", 1, 1)
	withMotor(e, "align_y", 2, 1)
	withMotor(e, "align_z", 3, 1)

	require.NoError(t, kv.SetPreset("align_x", "Beam", 10))
	require.NoError(t, kv.SetPreset("align_y", "Beam", -5))
	require.NoError(t, kv.SetPreset("align_z", "Beam", 2.5))

	require.NoError(t, cmdSetBackVector(context.Background(), e, nil))

	wantVectors := map[string]float64{"align_x": -10, "align_y": 5, "align_z": -2.5}
	gotVectors := map[string]float64{}
	for name := range wantVectors {
		back, err := kv.FindPreset(name, "Back")
		require.NoError(t, err)
		assert.Equal(t, 0.0, back) // motor.Position() defaults to 0

		vector, err := kv.FindPreset(name, "Back_Vector")
		require.NoError(t, err)
		gotVectors[name] = vector
	}
	if diff := cmp.Diff(wantVectors, gotVectors); diff != "" {
		t.Errorf("Back_Vector mismatch (-want +got):\n%s", diff)
	}
}

func TestCmdSetBackVectorFailsWithoutBeamPreset(t *testing.T) {
	e, _ := newTestExecutor(t)
	withMotor(e, "align_x", 1, 1)
	withMotor(e, "align_y", 2, 1)
	withMotor(e, "align_z", 3, 1)

	err := cmdSetBackVector(context.Background(), e, nil)
	assert.Error(t, err)
}

func TestCmdSetBackVectorSkipsUnconfiguredAxes(t *testing.T) {
	e, kv := newTestExecutor(t)
	withMotor(e, "align_x", 1, 1)
	require.NoError(t, kv.SetPreset("align_x", "Beam", 1))
	// align_y / align_z are not configured on this deployment.
	err := cmdSetBackVector(context.Background(), e, nil)
	assert.NoError(t, err)
}

func TestCmdChangeModeUnknownModeMarksPhaseUnknown(t *testing.T) {
	e, kv := newTestExecutor(t)
	err := cmdChangeMode(context.Background(), e, []string{"bogusMode"})
	assert.Error(t, err)
	assert.Equal(t, "unknown", kv.GetStr("phase"))
}

func TestCmdChangeModeRequiresMode(t *testing.T) {
	e, _ := newTestExecutor(t)
	err := cmdChangeMode(context.Background(), e, nil)
	assert.Error(t, err)
}

func TestCmdChangeModeSkipsAxesNotConfigured(t *testing.T) {
	e, kv := newTestExecutor(t)
	// "center" recipe references capz and scint; neither is configured.
	err := cmdChangeMode(context.Background(), e, []string{"center"})
	require.NoError(t, err)
	assert.Equal(t, "center", kv.GetStr("phase"))
}

func TestSubmitUnknownCommand(t *testing.T) {
	e, _ := newTestExecutor(t)
	err := e.Submit("nosuchcommand")
	assert.ErrorIs(t, err, ErrUnknownCommand)
}

func TestSubmitEmptyLine(t *testing.T) {
	e, _ := newTestExecutor(t)
	err := e.Submit("   ")
	assert.ErrorIs(t, err, ErrUnknownCommand)
}

func TestSubmitGatewayDependentCommandWithoutGateway(t *testing.T) {
	e, _ := newTestExecutor(t)
	err := e.Submit("transfer")
	assert.ErrorIs(t, err, ErrUnknownCommand)
}

func TestSubmitReportsBusyWhenMailboxHeld(t *testing.T) {
	e, _ := newTestExecutor(t)
	e.mailbox.Lock()
	defer e.mailbox.Unlock()

	err := e.Submit("set kappa Home")
	assert.ErrorIs(t, err, ErrBusy)
}

func TestSubmitDispatchesAlwaysCommand(t *testing.T) {
	e, kv := newTestExecutor(t)
	withMotor(e, "kappa", 1, 1)

	err := e.Submit("set kappa Home")
	require.NoError(t, err)

	pos, err := kv.FindPreset("kappa", "Home")
	require.NoError(t, err)
	assert.Equal(t, 0.0, pos)
}

func TestAbortRequestedRoundTrip(t *testing.T) {
	e, _ := newTestExecutor(t)
	assert.False(t, e.AbortRequested())
	e.RequestAbort()
	assert.True(t, e.AbortRequested())
	e.clearAbort()
	assert.False(t, e.AbortRequested())
}

func TestCheckpointReportsAbortedOverCancellation(t *testing.T) {
	e, _ := newTestExecutor(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	e.RequestAbort()

	err := e.checkpoint(ctx)
	assert.ErrorIs(t, err, ErrAborted)
}

func TestCheckpointReportsContextErrorWhenNotAborted(t *testing.T) {
	e, _ := newTestExecutor(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := e.checkpoint(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
