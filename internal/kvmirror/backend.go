package kvmirror

import "context"

// Notification is a single pub/sub delivery: key name plus the identity of
// whoever published it, so the write-through loop can detect and ignore
// its own writes.
type Notification struct {
	Key         string
	PublisherID string
}

// Backend is the pluggable remote hash-store client. Production deployments
// back this with a real client (e.g. a Redis client dialed over TCP); this
// package ships only an in-process Local implementation (local.go) — the
// same "no hardware, no network" fallback shape used elsewhere in this
// codebase for disabled/unavailable transports — with no fabricated wire
// client pretending to speak a real protocol.
type Backend interface {
	// HGet reads the VALUE field of key. ok is false if the key has never been set.
	HGet(ctx context.Context, key string) (value string, ok bool, err error)
	// HSet writes the VALUE field of key.
	HSet(ctx context.Context, key, value string) error
	// Publish announces that key changed, carrying the given publisher identity.
	Publish(ctx context.Context, channel, key, publisherID string) error
	// Subscribe delivers notifications for the given channel until ctx is done.
	Subscribe(ctx context.Context, channel string) (<-chan Notification, error)
	// Keys lists all remote keys beginning with prefix; may return a nil
	// slice if the backend has no efficient enumeration. Mirror does not
	// call it: mirrored objects populate lazily on first Get.
	Keys(ctx context.Context, prefix string) ([]string, error)
}

// ListBackend is the optional list-queue surface the raster worker needs.
// Not every Backend implements it; callers type-assert and disable raster
// stepping if it's absent.
type ListBackend interface {
	// RPopLPush atomically pops the tail of src and pushes it onto the head
	// of dst, returning the moved element. ok is false if src is empty.
	RPopLPush(ctx context.Context, src, dst string) (value string, ok bool, err error)
	// LRem removes up to count occurrences of value from key (count<=0 means
	// "all occurrences"), matching Redis LREM semantics.
	LRem(ctx context.Context, key string, count int, value string) error
}
