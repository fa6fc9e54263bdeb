package kvmirror

import (
	"context"
	"sort"
	"strings"
	"sync"
)

// Local is an in-process Backend standing in for the remote hash store when
// no network credentials are configured. It is fully functional (not a
// no-op stub): HGet/HSet really store values and Publish really fans out to
// Subscribe channels, so unit tests of Mirror exercise the real
// write-through/invalidation logic against it.
type Local struct {
	mu     sync.Mutex
	values map[string]string
	lists  map[string][]string

	subMu sync.Mutex
	subs  map[string][]chan Notification
}

// NewLocal creates an empty in-process backend.
func NewLocal() *Local {
	return &Local{
		values: make(map[string]string),
		lists:  make(map[string][]string),
		subs:   make(map[string][]chan Notification),
	}
}

// RPopLPush implements ListBackend.
func (l *Local) RPopLPush(_ context.Context, src, dst string) (string, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	s := l.lists[src]
	if len(s) == 0 {
		return "", false, nil
	}
	v := s[len(s)-1]
	l.lists[src] = s[:len(s)-1]
	l.lists[dst] = append([]string{v}, l.lists[dst]...)
	return v, true, nil
}

// LRem implements ListBackend.
func (l *Local) LRem(_ context.Context, key string, count int, value string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	src := l.lists[key]
	out := src[:0:0]
	removed := 0
	for _, v := range src {
		if v == value && (count <= 0 || removed < count) {
			removed++
			continue
		}
		out = append(out, v)
	}
	l.lists[key] = out
	return nil
}

// PushList is a test/bootstrap helper that appends values to the tail of
// key in the order given, so RPopLPush drains the last value first.
func (l *Local) PushList(key string, values ...string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.lists[key] = append(l.lists[key], values...)
}

func (l *Local) HGet(_ context.Context, key string) (string, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	v, ok := l.values[key]
	return v, ok, nil
}

func (l *Local) HSet(_ context.Context, key, value string) error {
	l.mu.Lock()
	l.values[key] = value
	l.mu.Unlock()
	return nil
}

func (l *Local) Publish(_ context.Context, channel, key, publisherID string) error {
	l.subMu.Lock()
	chans := append([]chan Notification(nil), l.subs[channel]...)
	l.subMu.Unlock()
	n := Notification{Key: key, PublisherID: publisherID}
	for _, c := range chans {
		select {
		case c <- n:
		default:
		}
	}
	return nil
}

func (l *Local) Subscribe(ctx context.Context, channel string) (<-chan Notification, error) {
	c := make(chan Notification, 64)
	l.subMu.Lock()
	l.subs[channel] = append(l.subs[channel], c)
	l.subMu.Unlock()

	go func() {
		<-ctx.Done()
		l.subMu.Lock()
		defer l.subMu.Unlock()
		cs := l.subs[channel]
		for i, existing := range cs {
			if existing == c {
				l.subs[channel] = append(cs[:i], cs[i+1:]...)
				break
			}
		}
		close(c)
	}()

	return c, nil
}

func (l *Local) Keys(_ context.Context, prefix string) ([]string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []string
	for k := range l.values {
		if strings.HasPrefix(k, prefix) {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out, nil
}
