package kvmirror

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/md2ctl/md2d/internal/eventbus"
)

func TestParsePGArraySimple(t *testing.T) {
	assert.Equal(t, []string{"foo", "bar", "qux"}, ParsePGArray("{foo,bar,qux}"))
}

func TestParsePGArrayEmpty(t *testing.T) {
	got := ParsePGArray("{}")
	assert.NotNil(t, got)
	assert.Empty(t, got)
}

func TestParsePGArrayQuotedWithComma(t *testing.T) {
	assert.Equal(t, []string{"foo", "bar baz", "qux"}, ParsePGArray(`{foo,"bar baz",qux}`))
}

func TestParsePGArrayEscapedQuote(t *testing.T) {
	assert.Equal(t, []string{`a "quoted" word`}, ParsePGArray(`{"a \"quoted\" word"}`))
}

func TestParsePGArrayTrimsUnquotedWhitespace(t *testing.T) {
	assert.Equal(t, []string{"foo", "bar"}, ParsePGArray("{ foo , bar }"))
}

func TestLocalHGetMissingKey(t *testing.T) {
	l := NewLocal()
	v, ok, err := l.HGet(context.Background(), "nope")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Empty(t, v)
}

func TestLocalHSetThenHGet(t *testing.T) {
	l := NewLocal()
	require.NoError(t, l.HSet(context.Background(), "md2.kappa.position", "12.5"))
	v, ok, err := l.HGet(context.Background(), "md2.kappa.position")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "12.5", v)
}

func TestLocalPublishFansOutToSubscribers(t *testing.T) {
	l := NewLocal()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := l.Subscribe(ctx, "md2.events")
	require.NoError(t, err)

	require.NoError(t, l.Publish(context.Background(), "md2.events", "md2.kappa", "pub-1"))

	select {
	case n := <-ch:
		assert.Equal(t, "md2.kappa", n.Key)
		assert.Equal(t, "pub-1", n.PublisherID)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for notification")
	}
}

func TestLocalRPopLPushMovesTail(t *testing.T) {
	l := NewLocal()
	l.PushList("raster.queue", "a", "b", "c")

	v, ok, err := l.RPopLPush(context.Background(), "raster.queue", "raster.inflight")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "c", v)

	_, ok, err = l.RPopLPush(context.Background(), "raster.empty", "raster.inflight")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestLocalLRemRemovesMatching(t *testing.T) {
	l := NewLocal()
	l.PushList("q", "x", "y", "x", "z")
	require.NoError(t, l.LRem(context.Background(), "q", 1, "x"))

	var remaining []string
	for {
		v, ok, err := l.RPopLPush(context.Background(), "q", "drained")
		require.NoError(t, err)
		if !ok {
			break
		}
		remaining = append(remaining, v)
	}
	assert.ElementsMatch(t, []string{"x", "y", "z"}, remaining)
}

func TestLocalKeysFiltersByPrefix(t *testing.T) {
	l := NewLocal()
	require.NoError(t, l.HSet(context.Background(), "md2.kappa.position", "1"))
	require.NoError(t, l.HSet(context.Background(), "md2.omega.position", "2"))
	require.NoError(t, l.HSet(context.Background(), "other.key", "3"))

	keys, err := l.Keys(context.Background(), "md2.")
	require.NoError(t, err)
	assert.Equal(t, []string{"md2.kappa.position", "md2.omega.position"}, keys)
}

func newTestMirror(t *testing.T) (*Mirror, *Local) {
	t.Helper()
	backend := NewLocal()
	bus := eventbus.New(16)
	m := New(backend, bus, "md2", "md2.events", "md2.ui")
	t.Cleanup(m.Close)
	return m, backend
}

func TestMirrorGetStrReadsThroughOnFirstAccess(t *testing.T) {
	m, backend := newTestMirror(t)
	require.NoError(t, backend.HSet(context.Background(), "md2.phase", "center"))

	assert.Equal(t, "center", m.GetStr("phase"))
}

func TestMirrorGetStrDefaultsEmptyForUnsetKey(t *testing.T) {
	m, _ := newTestMirror(t)
	assert.Equal(t, "", m.GetStr("nonexistent"))
}

func TestMirrorSetStrWritesThroughToBackend(t *testing.T) {
	m, backend := newTestMirror(t)
	require.NoError(t, m.SetStr("phase", "dataCollection"))

	v, ok, err := backend.HGet(context.Background(), "md2.phase")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "dataCollection", v)
	assert.Equal(t, "dataCollection", m.GetStr("phase"))
}

func TestMirrorSetStrNoOpWhenValueUnchanged(t *testing.T) {
	m, _ := newTestMirror(t)
	require.NoError(t, m.SetStr("phase", "safe"))
	require.NoError(t, m.SetStr("phase", "safe")) // no-op path, must not error or deadlock
	assert.Equal(t, "safe", m.GetStr("phase"))
}

func TestMirrorGetDoubleParsesAndCaches(t *testing.T) {
	m, _ := newTestMirror(t)
	require.NoError(t, m.SetStr("kappa.position", "12.5"))

	v, err := m.GetDouble("kappa.position")
	require.NoError(t, err)
	assert.Equal(t, 12.5, v)
}

func TestMirrorGetDoubleErrorsOnNonNumeric(t *testing.T) {
	m, _ := newTestMirror(t)
	require.NoError(t, m.SetStr("phase", "safe"))

	_, err := m.GetDouble("phase")
	assert.Error(t, err)
}

func TestMirrorGetBoolParsesVariants(t *testing.T) {
	m, _ := newTestMirror(t)
	for in, want := range map[string]bool{"1": true, "true": true, "True": true, "0": false, "false": false, "": false} {
		require.NoError(t, m.SetStr("flag", in))
		got, err := m.GetBool("flag")
		require.NoError(t, err)
		assert.Equal(t, want, got, "input %q", in)
	}
}

func TestMirrorSnapshotOnlyIncludesValidObjects(t *testing.T) {
	m, _ := newTestMirror(t)
	require.NoError(t, m.SetStr("phase", "safe"))
	_ = m.GetStr("phase")

	snap := m.Snapshot()
	assert.Equal(t, "safe", snap["md2.phase"])
}

func TestFindPresetAndSetPresetRoundTrip(t *testing.T) {
	m, _ := newTestMirror(t)
	require.NoError(t, m.SetPreset("kappa", "Park", 90))

	v, err := m.FindPreset("kappa", "Park")
	require.NoError(t, err)
	assert.Equal(t, 90.0, v)
}

func TestFindPresetUnknownReturnsErrPresetNotFound(t *testing.T) {
	m, _ := newTestMirror(t)
	require.NoError(t, m.SetPreset("kappa", "Park", 90))

	_, err := m.FindPreset("kappa", "NotThere")
	assert.ErrorIs(t, err, ErrPresetNotFound)
}

func TestSetPresetOverwritesExistingEntry(t *testing.T) {
	m, _ := newTestMirror(t)
	require.NoError(t, m.SetPreset("kappa", "Park", 90))
	require.NoError(t, m.SetPreset("kappa", "Park", 95))

	v, err := m.FindPreset("kappa", "Park")
	require.NoError(t, err)
	assert.Equal(t, 95.0, v)
}

func TestSetPresetKeepsDistinctMotorsSeparate(t *testing.T) {
	m, _ := newTestMirror(t)
	require.NoError(t, m.SetPreset("kappa", "Park", 90))
	require.NoError(t, m.SetPreset("phi", "Park", -45))

	kappaPark, err := m.FindPreset("kappa", "Park")
	require.NoError(t, err)
	phiPark, err := m.FindPreset("phi", "Park")
	require.NoError(t, err)

	assert.Equal(t, 90.0, kappaPark)
	assert.Equal(t, -45.0, phiPark)
}
