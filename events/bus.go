// Package events is the small in-process publish/subscribe bus the cache
// core uses to report structured events (cache_hit, cache_miss,
// memory_usage, performance_warning, preload_paused/resumed) and to
// receive the two events it consumes (frame_changed, project_opened).
//
// No third-party pub/sub library fits an in-process, single-binary fan-out
// this small, so the bus is hand-rolled.
// Topics are identified by the Go type of the payload, which keeps
// publishers and subscribers compile-time matched without a registry of
// string names to typo.
package events

import (
	"reflect"
	"sync"
)

// Bus fans out typed payloads to subscribers. Safe for concurrent use.
type Bus struct {
	mu   sync.RWMutex
	subs map[reflect.Type][]func(any)
}

// NewBus constructs an empty bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[reflect.Type][]func(any))}
}

// Subscribe registers fn to be called with every payload of type T
// published after this call. Subscriptions cannot be individually removed;
// the bus is meant to live for the lifetime of one Cache instance.
func Subscribe[T any](b *Bus, fn func(T)) {
	t := reflect.TypeOf((*T)(nil)).Elem()
	wrapped := func(v any) { fn(v.(T)) }

	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[t] = append(b.subs[t], wrapped)
}

// Publish fans payload out to every subscriber registered for its type.
// Subscribers run synchronously, in registration order, on the caller's
// goroutine — callers that need async delivery should hop a goroutine in
// their own handler, keeping this bus allocation-free in the common case
// of zero or one subscriber.
func Publish[T any](b *Bus, payload T) {
	t := reflect.TypeOf((*T)(nil)).Elem()

	b.mu.RLock()
	fns := b.subs[t]
	b.mu.RUnlock()

	for _, fn := range fns {
		fn(payload)
	}
}
