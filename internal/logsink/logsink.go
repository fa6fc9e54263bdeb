// Package logsink is the fire-and-forget free-text log surface:
// every call writes immediately to the process log, then — unless it matches
// an ignore pattern — is appended to a bounded ring that a worker drains
// toward the KV-published log channel. It also hosts the single event-bus
// listener that forwards most events into the log under an "EVENT:" prefix.
package logsink

import (
	"fmt"
	"log"
	"regexp"
	"sync"
	"time"

	"github.com/md2ctl/md2d/internal/eventbus"
)

// DefaultCapacity is the ring size for the log queue.
const DefaultCapacity = 8192

// Entry is one retained log line.
type Entry struct {
	Time    time.Time
	Message string
}

// Drain receives entries as the worker drains the ring; implementations
// forward to the local TUI / KV-published log channel (out of core scope,
// the sink only needs to call whatever is wired here).
type Drain func(Entry)

// defaultBlacklist mirrors the hard-coded ignore list the event forwarder
// applies on top of the general ignore regex, for noisy high-frequency
// control-variable echoes that would otherwise flood the ring.
var defaultBlacklist = regexp.MustCompile(`^(StatusUpdate|.*\.heartbeat)$`)

// Sink is the bounded log ring plus its ignore filter.
type Sink struct {
	ignore *regexp.Regexp

	mu      sync.Mutex
	entries []Entry
	head    int
	count   int
	cap     int

	notify chan struct{}
	stop   chan struct{}
	done   chan struct{}
	drain  Drain
}

// New creates a Sink with the given capacity (0 uses DefaultCapacity),
// ignore regex (empty matches nothing), and drain function for the worker.
func New(capacity int, ignorePattern string, drain Drain) (*Sink, error) {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	var ignore *regexp.Regexp
	if ignorePattern != "" {
		var err error
		ignore, err = regexp.Compile(ignorePattern)
		if err != nil {
			return nil, err
		}
	}
	s := &Sink{
		ignore:  ignore,
		entries: make([]Entry, capacity),
		cap:     capacity,
		notify:  make(chan struct{}, 1),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
		drain:   drain,
	}
	go s.run()
	return s, nil
}

// LogMessage writes immediately to the process log (no filtering), then
// appends to the bounded ring unless the message matches the ignore
// pattern, overwriting the oldest entry when full.
func (s *Sink) LogMessage(format string, args ...interface{}) {
	log.Printf(format, args...)

	msg := fmt.Sprintf(format, args...)
	if s.ignore != nil && s.ignore.MatchString(msg) {
		return
	}

	s.mu.Lock()
	idx := (s.head + s.count) % s.cap
	if s.count == s.cap {
		s.head = (s.head + 1) % s.cap
	} else {
		s.count++
	}
	s.entries[idx] = Entry{Time: time.Now(), Message: msg}
	s.mu.Unlock()

	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// AttachEventForwarder registers a listener on bus that logs most events
// under an "EVENT:" prefix, skipping names in the hard-coded blacklist.
func (s *Sink) AttachEventForwarder(bus *eventbus.Bus) error {
	return bus.AddListener(".*", func(name string) {
		if defaultBlacklist.MatchString(name) {
			return
		}
		s.LogMessage("EVENT: %s", name)
	})
}

// Close stops the draining worker.
func (s *Sink) Close() {
	close(s.stop)
	<-s.done
}

func (s *Sink) run() {
	defer close(s.done)
	for {
		select {
		case <-s.stop:
			return
		case <-s.notify:
			s.drainOnce()
		}
	}
}

func (s *Sink) drainOnce() {
	if s.drain == nil {
		return
	}
	s.mu.Lock()
	pending := make([]Entry, s.count)
	for i := 0; i < s.count; i++ {
		pending[i] = s.entries[(s.head+i)%s.cap]
	}
	s.head = 0
	s.count = 0
	s.mu.Unlock()

	for _, e := range pending {
		s.drain(e)
	}
}
