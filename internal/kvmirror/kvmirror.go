// Package kvmirror is the KV mirror: a local read-through cache
// of remote hash values plus a write-through publisher, reconciled against
// an external hash store via pub/sub. Naming: every mirrored key begins with
// a configured prefix; the unprefixed remainder is the event name published
// on invalidation/validation.
package kvmirror

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"github.com/google/uuid"

	"github.com/md2ctl/md2d/internal/eventbus"
)

// Object is a single mirrored key/value. All parsed
// interpretations are derived once from value and cached; a fresh
// HGET (or an eventual write-through) invalidates the cache and re-derives.
type Object struct {
	key string

	mu         sync.Mutex
	cond       *sync.Cond
	valid      bool
	value      string
	hasDouble  bool
	double     float64
	hasLong    bool
	long       int64
	hasBool    bool
	boolean    bool
	hasArray   bool
	array      []string
	waitForMe  int
	onSet      func(v string)
}

// Key returns the object's fully-qualified (prefixed) key.
func (o *Object) Key() string { return o.key }

func newObject(key string) *Object {
	o := &Object{key: key}
	o.cond = sync.NewCond(&o.mu)
	return o
}

// Mirror is the process-wide KV mirror service.
type Mirror struct {
	backend     Backend
	prefix      string
	channel     string
	uiChannel   string
	publisherID string
	bus         *eventbus.Bus

	listMu  sync.Mutex
	objects map[string]*Object
	order   []*Object // LRU-reordered linear lookup list; front = most recently touched

	cancel context.CancelFunc
}

// New creates a Mirror against backend, publishing invalidation/validation
// events onto bus and write notifications on channel. prefix is the key
// "head" of the mirrored object list.
func New(backend Backend, bus *eventbus.Bus, prefix, channel, uiChannel string) *Mirror {
	ctx, cancel := context.WithCancel(context.Background())
	m := &Mirror{
		backend:     backend,
		prefix:      prefix,
		channel:     channel,
		uiChannel:   uiChannel,
		publisherID: uuid.NewString(),
		bus:         bus,
		objects:     make(map[string]*Object),
		cancel:      cancel,
	}
	go m.subscribeLoop(ctx, channel)
	if uiChannel != "" && uiChannel != channel {
		go m.subscribeLoop(ctx, uiChannel)
	}
	return m
}

// Close stops the mirror's subscription goroutines.
func (m *Mirror) Close() { m.cancel() }

// Snapshot returns a copy of every currently cached key/value pair, for
// opsdb's periodic persistence of mirror state across restarts. Keys not
// yet fetched into the cache (no GetObj call has touched them) are absent.
func (m *Mirror) Snapshot() map[string]string {
	m.listMu.Lock()
	objs := make([]*Object, len(m.order))
	copy(objs, m.order)
	m.listMu.Unlock()

	out := make(map[string]string, len(objs))
	for _, obj := range objs {
		obj.mu.Lock()
		if obj.valid {
			out[obj.key] = obj.value
		}
		obj.mu.Unlock()
	}
	return out
}

func (m *Mirror) fqKey(name string) string {
	return m.prefix + "." + name
}

// GetObj looks up or creates the object for key. If
// just created, it issues an asynchronous fetch; any caller — this one or a
// concurrent one — blocks on the object's condition variable until the
// fetch completes and Valid becomes true.
func (m *Mirror) GetObj(key string) *Object {
	m.listMu.Lock()
	obj, ok := m.objects[key]
	if !ok {
		obj = newObject(key)
		m.objects[key] = obj
		m.order = append([]*Object{obj}, m.order...)
		m.listMu.Unlock()
		go m.fetch(obj)
	} else {
		m.touchLocked(obj)
		m.listMu.Unlock()
	}

	obj.mu.Lock()
	for !obj.valid {
		obj.cond.Wait()
	}
	obj.mu.Unlock()
	return obj
}

// touchLocked moves obj to the front of the LRU order; callers hold listMu.
func (m *Mirror) touchLocked(obj *Object) {
	for i, o := range m.order {
		if o == obj {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	m.order = append([]*Object{obj}, m.order...)
}

func (m *Mirror) fetch(obj *Object) {
	ctx := context.Background()
	v, _, err := m.backend.HGet(ctx, obj.key)
	obj.mu.Lock()
	var hook func(v string)
	if err == nil {
		obj.value = v
		resetDerived(obj)
		hook = obj.onSet
	}
	obj.valid = true
	obj.mu.Unlock()
	obj.cond.Broadcast()

	if hook != nil {
		hook(v)
	}
}

func resetDerived(obj *Object) {
	obj.hasDouble, obj.hasLong, obj.hasBool, obj.hasArray = false, false, false, false
}

// GetStr returns an owned copy of the current value, blocking until valid.
// Go strings are immutable value copies, so no caller can observe a mutation
// racing a concurrent write-through.
func (m *Mirror) GetStr(name string) string {
	obj := m.GetObj(m.fqKey(name))
	obj.mu.Lock()
	defer obj.mu.Unlock()
	return obj.value
}

// GetDouble parses and caches the value as a float64.
func (m *Mirror) GetDouble(name string) (float64, error) {
	obj := m.GetObj(m.fqKey(name))
	obj.mu.Lock()
	defer obj.mu.Unlock()
	if !obj.hasDouble {
		v, err := strconv.ParseFloat(obj.value, 64)
		if err != nil {
			return 0, fmt.Errorf("kvmirror: %s is not a float: %w", obj.key, err)
		}
		obj.double, obj.hasDouble = v, true
	}
	return obj.double, nil
}

// GetLong parses and caches the value as an int64.
func (m *Mirror) GetLong(name string) (int64, error) {
	obj := m.GetObj(m.fqKey(name))
	obj.mu.Lock()
	defer obj.mu.Unlock()
	if !obj.hasLong {
		v, err := strconv.ParseInt(obj.value, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("kvmirror: %s is not an integer: %w", obj.key, err)
		}
		obj.long, obj.hasLong = v, true
	}
	return obj.long, nil
}

// GetBool parses and caches the value as a bool ("1"/"true"/"True" → true).
func (m *Mirror) GetBool(name string) (bool, error) {
	obj := m.GetObj(m.fqKey(name))
	obj.mu.Lock()
	defer obj.mu.Unlock()
	if !obj.hasBool {
		switch obj.value {
		case "1", "true", "True", "TRUE":
			obj.boolean = true
		case "0", "false", "False", "FALSE", "":
			obj.boolean = false
		default:
			return false, fmt.Errorf("kvmirror: %s is not a boolean: %q", obj.key, obj.value)
		}
		obj.hasBool = true
	}
	return obj.boolean, nil
}

// GetStrArray parses and caches the value as a PostgreSQL array literal.
func (m *Mirror) GetStrArray(name string) []string {
	obj := m.GetObj(m.fqKey(name))
	obj.mu.Lock()
	defer obj.mu.Unlock()
	if !obj.hasArray {
		obj.array, obj.hasArray = ParsePGArray(obj.value), true
	}
	out := make([]string, len(obj.array))
	copy(out, obj.array)
	return out
}

// OnSet registers a hook invoked (off the object's lock) whenever name's
// value is written, locally through SetStr or remotely (after the re-fetch
// that another publisher's notification triggers). The command executor
// does not register one; its abort flag is set through
// Executor.RequestAbort.
func (m *Mirror) OnSet(name string, hook func(v string)) {
	obj := m.GetObj(m.fqKey(name))
	obj.mu.Lock()
	obj.onSet = hook
	obj.mu.Unlock()
}

// SetStr implements the write-through path. A no-op
// write (new value equals the current valid value) returns immediately.
// Otherwise: invalidate + publish "<name> Invalid"; HSET+PUBLISH; bump the
// wait-for-me counter; optimistically adopt the value; publish "<name> Valid".
func (m *Mirror) SetStr(name, v string) error {
	fq := m.fqKey(name)
	obj := m.GetObj(fq)

	obj.mu.Lock()
	if obj.valid && obj.value == v {
		obj.mu.Unlock()
		return nil
	}
	obj.valid = false
	obj.mu.Unlock()
	m.bus.Send(name + " Invalid")

	ctx := context.Background()
	if err := m.backend.HSet(ctx, fq, v); err != nil {
		return fmt.Errorf("kvmirror: HSET %s: %w", fq, err)
	}
	if err := m.backend.Publish(ctx, m.channel, fq, m.publisherID); err != nil {
		return fmt.Errorf("kvmirror: PUBLISH %s: %w", fq, err)
	}

	obj.mu.Lock()
	obj.waitForMe++
	obj.value = v
	resetDerived(obj)
	obj.valid = true
	hook := obj.onSet
	obj.mu.Unlock()
	obj.cond.Broadcast()

	if hook != nil {
		hook(v)
	}
	m.bus.Send(name + " Valid")
	return nil
}

func (m *Mirror) subscribeLoop(ctx context.Context, channel string) {
	notifications, err := m.backend.Subscribe(ctx, channel)
	if err != nil {
		return
	}
	for n := range notifications {
		m.handleNotification(n)
	}
}

// handleNotification implements the reconciliation rule:
// our own publisher's notifications decrement waitForMe and are otherwise
// ignored (we already adopted the value optimistically); another
// publisher's notification is ignored while waitForMe is nonzero (we are
// still the source of truth) and triggers a re-fetch once it reaches zero.
func (m *Mirror) handleNotification(n Notification) {
	m.listMu.Lock()
	obj, ok := m.objects[n.Key]
	if ok {
		m.touchLocked(obj)
	}
	m.listMu.Unlock()
	if !ok {
		return
	}

	obj.mu.Lock()
	if n.PublisherID == m.publisherID {
		if obj.waitForMe > 0 {
			obj.waitForMe--
		}
		obj.mu.Unlock()
		return
	}
	if obj.waitForMe > 0 {
		obj.mu.Unlock()
		return
	}
	obj.valid = false
	obj.mu.Unlock()
	go m.fetch(obj)
}
