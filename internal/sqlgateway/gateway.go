// Package sqlgateway is the single-consumer asynchronous query queue against
// the experiment database. A single goroutine owns the database/sql handle
// (forced to one connection, so only one statement is ever in flight) and
// drains a bounded FIFO of query entries pushed from any goroutine; each
// entry's callback is invoked with the results, off the caller's goroutine,
// and any waiting caller is released through a condition variable following
// a call(); wait(); done(); contract.
package sqlgateway

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"
)

// DefaultQueueLen is the bound on the SQL query queue.
const DefaultQueueLen = 16384

// entry is one queued query.
type entry struct {
	ctx      context.Context
	exec     func(*sql.DB) error
	onError  func(error)
}

// Gateway owns the experiment-database connection and its query queue.
type Gateway struct {
	db      *sql.DB
	queue   chan entry
	notify  Notifier
	minGap  time.Duration

	stop chan struct{}
	done chan struct{}
}

// Notifier abstracts the driver-specific LISTEN/NOTIFY surface: the gateway
// also consumes asynchronous notifications from the database. Production
// deployments backed by Postgres wire a real listener; the
// default NullNotifier never delivers anything, matching any driver (such
// as the sqlite driver used in this repo's tests) that has no equivalent.
type Notifier interface {
	Listen(ctx context.Context, channel string) (<-chan string, error)
}

// NullNotifier never delivers notifications.
type NullNotifier struct{}

// Listen returns a channel that is never written to, closed when ctx ends.
func (NullNotifier) Listen(ctx context.Context, _ string) (<-chan string, error) {
	c := make(chan string)
	go func() { <-ctx.Done(); close(c) }()
	return c, nil
}

// New opens driverName/dsn (forcing a single connection, so only one query
// is ever in flight) and starts the consumer goroutine. queueLen <= 0 uses
// DefaultQueueLen.
func New(driverName, dsn string, queueLen int, notify Notifier) (*Gateway, error) {
	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlgateway: open %s: %w", driverName, err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if queueLen <= 0 {
		queueLen = DefaultQueueLen
	}
	if notify == nil {
		notify = NullNotifier{}
	}

	g := &Gateway{
		db:     db,
		queue:  make(chan entry, queueLen),
		notify: notify,
		minGap: 10 * time.Second,
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	go g.run()
	return g, nil
}

// ListenAndDispatch subscribes to a notification channel and calls dispatch
// once for each delivery; multiple notifications in one poll cycle each get
// their own call, not coalesced. The gateway does not look at the channel
// name: which query a delivery leads to (MD2QueueNext, NextAction, ...) is
// decided by dispatch alone.
func (g *Gateway) ListenAndDispatch(ctx context.Context, channel string, dispatch func()) error {
	notifications, err := g.notify.Listen(ctx, channel)
	if err != nil {
		return fmt.Errorf("sqlgateway: listen %s: %w", channel, err)
	}
	go func() {
		for range notifications {
			dispatch()
		}
	}()
	return nil
}

// push enqueues a query entry. A full queue silently drops the request
// (logging is the caller's responsibility via onError).
func (g *Gateway) push(ctx context.Context, onError func(error), exec func(*sql.DB) error) {
	e := entry{ctx: ctx, exec: exec, onError: onError}
	select {
	case g.queue <- e:
	default:
		if onError != nil {
			onError(fmt.Errorf("sqlgateway: query queue full, dropped"))
		}
	}
}

func (g *Gateway) run() {
	defer close(g.done)
	for {
		select {
		case <-g.stop:
			return
		case e := <-g.queue:
			if err := e.exec(g.db); err != nil && e.onError != nil {
				e.onError(err)
			}
		}
	}
}

// Close stops the consumer goroutine and closes the database handle.
func (g *Gateway) Close() error {
	close(g.stop)
	<-g.done
	return g.db.Close()
}

// waiter is the per-call waiting record: call() pushes a query whose
// callback fills the record and signals cond; wait() blocks; done()
// releases. A query error sets Err and still signals, so callers can check
// and return.
type waiter struct {
	mu    sync.Mutex
	cond  *sync.Cond
	ready bool
	Err   error
	NoRows bool
}

func newWaiter() *waiter {
	w := &waiter{}
	w.cond = sync.NewCond(&w.mu)
	return w
}

func (w *waiter) signal(err error) {
	w.mu.Lock()
	w.Err = err
	w.ready = true
	w.mu.Unlock()
	w.cond.Signal()
}

// wait blocks until signaled or the deadline passes, returning a timeout error.
func (w *waiter) wait(deadline time.Time) error {
	done := make(chan struct{})
	go func() {
		w.mu.Lock()
		for !w.ready {
			w.cond.Wait()
		}
		w.mu.Unlock()
		close(done)
	}()

	if deadline.IsZero() {
		<-done
		return w.Err
	}
	select {
	case <-done:
		return w.Err
	case <-time.After(time.Until(deadline)):
		return context.DeadlineExceeded
	}
}
