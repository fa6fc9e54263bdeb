// Package timersvc implements the one-shot and repeating named alarm pool.
// A single scheduling goroutine tracks the nearest deadline across all live
// entries and fires whichever are due, publishing the configured event name
// on an eventbus.Bus.
package timersvc

import (
	"sync"
	"time"

	"github.com/md2ctl/md2d/internal/eventbus"
)

// MaxEntries is the fixed pool size of the named alarm table.
const MaxEntries = 1024

// Forever is the sentinel shots value meaning "repeat indefinitely".
const Forever = -1

// resolution bounds how finely the scheduler polls for due entries.
const resolution = 100 * time.Microsecond

type entry struct {
	name       string
	shots      int // remaining shots; Forever repeats indefinitely
	period     time.Duration
	nextFire   time.Time
	callCount  int
}

// Service is the fixed-capacity alarm pool.
type Service struct {
	bus *eventbus.Bus

	mu      sync.Mutex
	entries map[string][]*entry // name -> entries sharing that name (unset clears all of them)

	wake chan struct{}
	stop chan struct{}
	done chan struct{}
}

// New creates a Service that publishes fired alarms onto bus.
func New(bus *eventbus.Bus) *Service {
	s := &Service{
		bus:     bus,
		entries: make(map[string][]*entry),
		wake:    make(chan struct{}, 1),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	go s.run()
	return s
}

// Set schedules a named alarm. shots == Forever repeats forever; shots == 1
// is a one-shot. delay is the time until the first fire.
func (s *Service) Set(name string, shots int, delay time.Duration) {
	e := &entry{
		name:     name,
		shots:    shots,
		period:   delay,
		nextFire: time.Now().Add(delay),
	}
	s.mu.Lock()
	if len(s.allEntriesLocked()) >= MaxEntries {
		s.mu.Unlock()
		return // pool exhausted; silently refuse like the other bounded queues in this daemon
	}
	s.entries[name] = append(s.entries[name], e)
	s.mu.Unlock()
	s.nudge()
}

// Unset clears every entry with the given name.
func (s *Service) Unset(name string) {
	s.mu.Lock()
	delete(s.entries, name)
	s.mu.Unlock()
}

func (s *Service) allEntriesLocked() []*entry {
	var all []*entry
	for _, es := range s.entries {
		all = append(all, es...)
	}
	return all
}

func (s *Service) nudge() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Close stops the scheduling goroutine.
func (s *Service) Close() {
	close(s.stop)
	<-s.done
}

func (s *Service) run() {
	defer close(s.done)
	timer := time.NewTimer(resolution)
	defer timer.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-s.wake:
			if !timer.Stop() {
				drain(timer)
			}
			timer.Reset(resolution)
		case <-timer.C:
			next := s.pass()
			d := next.Sub(time.Now())
			if d < resolution {
				d = resolution
			}
			timer.Reset(d)
		}
	}
}

func drain(t *time.Timer) {
	select {
	case <-t.C:
	default:
	}
}

// pass fires every entry due within half a resolution of now, and returns
// the earliest remaining deadline across all live entries (or now+1h if
// none; Set wakes the scheduler early).
func (s *Service) pass() time.Time {
	now := time.Now()
	var due []*entry

	s.mu.Lock()
	next := now.Add(time.Hour)
	for name, es := range s.entries {
		kept := es[:0]
		for _, e := range es {
			if now.Sub(e.nextFire) >= -resolution/2 {
				due = append(due, e)
				e.callCount++
				if e.shots != Forever {
					e.shots--
				}
				e.nextFire = e.nextFire.Add(e.period)
				if e.period <= 0 {
					e.nextFire = now.Add(resolution)
				}
				if e.shots == 0 {
					continue // drop expired one-/N-shot entries
				}
			}
			kept = append(kept, e)
			if e.nextFire.Before(next) {
				next = e.nextFire
			}
		}
		if len(kept) == 0 {
			delete(s.entries, name)
		} else {
			s.entries[name] = kept
		}
	}
	s.mu.Unlock()

	// The scheduling pass masks re-entrance into its own callback set: the
	// bus's worker goroutine, not this goroutine, actually executes
	// listener callbacks, so this loop never re-enters Set/Unset while
	// holding s.mu.
	for _, e := range due {
		s.bus.Send(e.name)
	}
	return next
}
