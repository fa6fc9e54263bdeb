package pmaclink

import (
	"context"
	"encoding/binary"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/md2ctl/md2d/internal/eventbus"
)

// fakeController accepts one connection and answers requests according to
// handle, run on its own goroutine so the test can drive timing.
func fakeController(t *testing.T, handle func(conn net.Conn, hdr Header, payload []byte)) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			hdrBuf := make([]byte, HeaderLen)
			if _, err := readFull(conn, hdrBuf); err != nil {
				return
			}
			hdr, err := DecodeHeader(hdrBuf)
			if err != nil {
				return
			}
			var payload []byte
			if hdr.RequestType != ReqGetMem && hdr.Length > 0 {
				payload = make([]byte, hdr.Length)
				if _, err := readFull(conn, payload); err != nil {
					return
				}
			}
			handle(conn, hdr, payload)
		}
	}()
	return ln.Addr().String()
}

func readFull(conn net.Conn, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := conn.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

func TestSendLineAck(t *testing.T) {
	addr := fakeController(t, func(conn net.Conn, hdr Header, payload []byte) {
		if hdr.RequestType == ReqGetMem {
			conn.Write(make([]byte, hdr.Arg2))
			return
		}
		conn.Write([]byte{AckByte})
	})

	bus := eventbus.New(0)
	defer bus.Close()
	link := New(addr, time.Millisecond, time.Second, 1000, 0, bus)
	defer link.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	ack, err := link.SendLine(ctx, "#1J+")
	require.NoError(t, err)
	assert.True(t, ack)
}

func TestSendLineRetriesOnceOnRetryableError(t *testing.T) {
	var attempts int32
	addr := fakeController(t, func(conn net.Conn, hdr Header, payload []byte) {
		if hdr.RequestType == ReqGetMem {
			conn.Write(make([]byte, hdr.Arg2))
			return
		}
		n := atomic.AddInt32(&attempts, 1)
		if n == 1 {
			conn.Write(append([]byte{ErrByte}, []byte("ERR001\r")...))
			return
		}
		conn.Write([]byte{AckByte})
	})

	bus := eventbus.New(0)
	defer bus.Close()
	link := New(addr, time.Millisecond, time.Second, 1000, 0, bus)
	defer link.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	ack, err := link.SendLine(ctx, "#1J+")
	require.NoError(t, err)
	assert.True(t, ack)
	assert.Equal(t, int32(2), atomic.LoadInt32(&attempts))
}

func TestSendLineNonRetryableErrorFails(t *testing.T) {
	addr := fakeController(t, func(conn net.Conn, hdr Header, payload []byte) {
		if hdr.RequestType == ReqGetMem {
			conn.Write(make([]byte, hdr.Arg2))
			return
		}
		conn.Write(append([]byte{ErrByte}, []byte("ERR011\r")...))
	})

	bus := eventbus.New(0)
	defer bus.Close()
	link := New(addr, time.Millisecond, time.Second, 1000, 0, bus)
	defer link.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := link.SendLine(ctx, "#1J+")
	require.Error(t, err)
	var pe *ProtocolError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, 11, pe.Code)
}

func TestStatusPollUpdatesAndPublishesDoneEvent(t *testing.T) {
	var moving uint32 = 1
	addr := fakeController(t, func(conn net.Conn, hdr Header, payload []byte) {
		if hdr.RequestType != ReqGetMem {
			conn.Write([]byte{AckByte})
			return
		}
		var b Block
		if atomic.LoadUint32(&moving) == 1 {
			b.CoordSysMoving = CoordSysBit(1)
		}
		raw := make([]byte, blockWireLen)
		off := MaxAxes * 12
		off += 4 + 4 + 4*4 + 1 + 1
		binary.BigEndian.PutUint16(raw[off:], b.CoordSysMoving)
		conn.Write(raw)
	})

	bus := eventbus.New(0)
	defer bus.Close()

	done := make(chan struct{}, 1)
	require.NoError(t, bus.AddListener(`^cs\.1\.done$`, func(name string) {
		select {
		case done <- struct{}{}:
		default:
		}
	}))

	link := New(addr, time.Millisecond, time.Second, 200, 0, bus)
	defer link.Close()

	require.Eventually(t, func() bool {
		_, ok := link.Status()
		return ok
	}, 2*time.Second, 10*time.Millisecond)

	atomic.StoreUint32(&moving, 0)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("expected cs.1.done event after moving bit fell")
	}
}

func TestSubmitDropsWhenQueueFull(t *testing.T) {
	addr := fakeController(t, func(conn net.Conn, hdr Header, payload []byte) {
		// never reply, so the queue backs up
	})

	bus := eventbus.New(0)
	defer bus.Close()
	link := New(addr, time.Millisecond, time.Second, 1000, 1, bus)
	defer link.Close()

	frame, err := NewSendLine("#1J+", false)
	require.NoError(t, err)

	// Give the owning goroutine time to connect and send its first status
	// poll; the fake controller never answers it, so the goroutine stays
	// blocked reading and nothing drains the queue. With room for one
	// entry, the first Submit is queued and the second is dropped.
	time.Sleep(50 * time.Millisecond)
	_, err1 := link.Submit(frame)
	_, err2 := link.Submit(frame)
	assert.NoError(t, err1)
	assert.Equal(t, ErrQueueFull, err2)
}
