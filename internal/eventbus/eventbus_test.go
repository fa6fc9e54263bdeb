package eventbus

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSendDeliversToMatchingListener(t *testing.T) {
	b := New(4)
	defer b.Close()

	got := make(chan string, 1)
	require.NoError(t, b.AddListener(`^cs\.1\.done$`, func(name string) { got <- name }))

	b.Send("cs.1.done")

	select {
	case name := <-got:
		assert.Equal(t, "cs.1.done", name)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for delivery")
	}
}

func TestSendSkipsNonMatchingListener(t *testing.T) {
	b := New(4)
	defer b.Close()

	got := make(chan string, 1)
	require.NoError(t, b.AddListener(`^(cs\.2\.done|sentinel)$`, func(name string) { got <- name }))

	b.Send("cs.1.done")
	b.Send("sentinel")

	select {
	case name := <-got:
		assert.Equal(t, "sentinel", name)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for delivery")
	}
}

func TestAddListenerRejectsInvalidPattern(t *testing.T) {
	b := New(4)
	defer b.Close()

	err := b.AddListener("(unclosed", func(string) {})
	assert.Error(t, err)
}

func TestMultipleListenersAllFire(t *testing.T) {
	b := New(4)
	defer b.Close()

	var calls int
	done := make(chan struct{}, 2)
	for i := 0; i < 2; i++ {
		require.NoError(t, b.AddListener(".*", func(string) {
			calls++
			done <- struct{}{}
		}))
	}

	b.Send("anything")

	for i := 0; i < 2; i++ {
		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for listener")
		}
	}
	assert.Equal(t, 2, calls)
}

func TestCloseStopsDelivery(t *testing.T) {
	b := New(1)
	got := make(chan string, 4)
	require.NoError(t, b.AddListener(".*", func(name string) { got <- name }))

	b.Close()
	b.Send("after-close") // must not panic or block

	select {
	case <-got:
		t.Fatal("listener should not fire after Close")
	case <-time.After(50 * time.Millisecond):
	}
}
