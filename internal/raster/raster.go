// Package raster runs the raster-scan worker: it holds one extra connection
// to the in-memory KV store and drains a named list of queued raster-step
// payloads into the experiment database, one at a time.
package raster

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/md2ctl/md2d/internal/kvmirror"
	"github.com/md2ctl/md2d/internal/monitoring"
)

// stepDeadline bounds each raster_step(jsonb) dispatch's wait for the SQL
// gateway to report back.
const stepDeadline = 10 * time.Second

func deadlineFromNow() time.Time { return time.Now().Add(stepDeadline) }

// Dispatcher is the narrow surface raster needs from the SQL gateway —
// *sqlgateway.Gateway satisfies it directly.
type Dispatcher interface {
	RasterStep(deadline time.Time, payload string) error
}

// DefaultSignalQueueLen is not used by Worker: each key's step() signal
// channel holds a single pending signal, so a burst of redundant step()
// calls while a drain is already running collapses to one pending
// retrigger rather than growing unbounded.
const DefaultSignalQueueLen = 8

// Worker drains key_working-staged raster-step payloads: step(key) signals
// that the list at key should be drained. Each popped payload is dispatched
// as the sole argument to the SQL function raster_step(jsonb), then removed
// from the working list. The drain stops when RPOPLPUSH reports the source
// list is empty.
type Worker struct {
	backend kvmirror.ListBackend
	sql     Dispatcher

	mu      sync.Mutex
	signals map[string]chan struct{}

	stop chan struct{}
	wg   sync.WaitGroup
}

// New creates a Worker against backend (which must implement ListBackend;
// a backend that doesn't disables raster stepping entirely — step() then
// always returns an error) and sql, the gateway raster_step(jsonb) is
// dispatched through.
func New(backend kvmirror.Backend, sql Dispatcher) *Worker {
	lb, _ := backend.(kvmirror.ListBackend)
	return &Worker{
		backend: lb,
		sql:     sql,
		signals: make(map[string]chan struct{}),
		stop:    make(chan struct{}),
	}
}

// Step signals that the list at key should be drained. It returns
// immediately; the drain runs on a dedicated per-key goroutine, started
// lazily on first use and kept alive for the Worker's lifetime.
func (w *Worker) Step(key string) error {
	if w.backend == nil {
		return fmt.Errorf("raster: backend has no list operations, raster stepping disabled")
	}

	w.mu.Lock()
	ch, ok := w.signals[key]
	if !ok {
		ch = make(chan struct{}, 1)
		w.signals[key] = ch
		w.wg.Add(1)
		go w.drainLoop(key, ch)
	}
	w.mu.Unlock()

	select {
	case ch <- struct{}{}:
	default:
		// a drain is already pending/running for this key; one signal is enough
	}
	return nil
}

// Close stops all per-key drain goroutines and waits for them to exit.
func (w *Worker) Close() {
	close(w.stop)
	w.wg.Wait()
}

func (w *Worker) drainLoop(key string, signal chan struct{}) {
	defer w.wg.Done()
	working := key + "_working"
	for {
		select {
		case <-w.stop:
			return
		case <-signal:
			w.drain(key, working)
		}
	}
}

func (w *Worker) drain(key, working string) {
	ctx := context.Background()
	for {
		select {
		case <-w.stop:
			return
		default:
		}

		payload, ok, err := w.backend.RPopLPush(ctx, key, working)
		if err != nil {
			monitoring.Logf("raster: rpoplpush %s: %v", key, err)
			return
		}
		if !ok {
			return
		}

		if err := w.sql.RasterStep(deadlineFromNow(), payload); err != nil {
			monitoring.Logf("raster: raster_step dispatch for %s failed: %v", key, err)
		}

		if err := w.backend.LRem(ctx, working, 0, payload); err != nil {
			monitoring.Logf("raster: lrem %s: %v", working, err)
		}
	}
}
