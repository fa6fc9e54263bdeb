// Package eventbus is the named-event distribution layer: a
// bounded FIFO of event names drained by a single worker, which fans each
// name out to regex-subscribed listeners. First observation of a name is
// matched against every listener once and cached in a hash table; later
// sends of the same name skip the regex pass entirely.
package eventbus

import (
	"fmt"
	"regexp"
	"sync"
)

// DefaultQueueLen is the bounded ring length for the event queue.
const DefaultQueueLen = 512

type listener struct {
	re *regexp.Regexp
	fn func(name string)
}

// Bus is a regex-subscribed, ordered event distributor.
type Bus struct {
	queue chan string

	listenerMu sync.Mutex
	listeners  []*listener // prepended on Add, so iteration is registration-reverse order

	matchMu sync.Mutex
	matched map[string][]*listener // name -> matching listeners, built on first observation

	stop chan struct{}
	done chan struct{}
}

// New creates a Bus with a bounded send queue of the given length. Producers
// block (they do not drop events) once the queue is full.
func New(queueLen int) *Bus {
	if queueLen <= 0 {
		queueLen = DefaultQueueLen
	}
	b := &Bus{
		queue:   make(chan string, queueLen),
		matched: make(map[string][]*listener),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	go b.run()
	return b
}

// Send enqueues an event name. It blocks if the queue is full rather than
// dropping the event.
func (b *Bus) Send(name string) {
	select {
	case b.queue <- name:
	case <-b.stop:
	}
}

// AddListener compiles re (POSIX-extended semantics are not required by
// Go's regexp/Compile, which already supports the superset we need) and
// prepends it to the listener list, so listeners fire in registration-reverse
// order for any event observed afterward. Events already cached in the
// match table are not retroactively rebuilt — a listener only ever sees
// event names observed after it registered, matching a one-pass-at-first-
// observation design.
func (b *Bus) AddListener(pattern string, fn func(name string)) error {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return fmt.Errorf("eventbus: invalid listener pattern %q: %w", pattern, err)
	}
	b.listenerMu.Lock()
	b.listeners = append([]*listener{{re: re, fn: fn}}, b.listeners...)
	b.listenerMu.Unlock()
	return nil
}

// Close stops the worker goroutine. Pending Send calls unblock with the
// event silently discarded; Close does not drain the queue.
func (b *Bus) Close() {
	close(b.stop)
	<-b.done
}

func (b *Bus) run() {
	defer close(b.done)
	for {
		select {
		case name := <-b.queue:
			b.dispatch(name)
		case <-b.stop:
			return
		}
	}
}

func (b *Bus) dispatch(name string) {
	b.matchMu.Lock()
	cbs, ok := b.matched[name]
	if !ok {
		b.listenerMu.Lock()
		all := b.listeners
		b.listenerMu.Unlock()
		for _, l := range all {
			if l.re.MatchString(name) {
				cbs = append(cbs, l)
			}
		}
		b.matched[name] = cbs
	}
	b.matchMu.Unlock()

	for _, l := range cbs {
		l.fn(name)
	}
}
