package ballast

import (
	"context"
	"sync"
)

// Listener receives updated values for a single setting.
//
// Implementations must have a comparable dynamic type (pointer receivers are
// the expected shape); the Manager deduplicates registrations by interface
// identity, so subscribing the same listener twice is a no-op.
type Listener[T Value] interface {
	// OnSettingUpdate is called with the new value each time the setting
	// changes cluster-wide, and once during bootstrap if the setting is
	// present in the snapshot. Returning an error marks the delivery as
	// failed for this listener only; other listeners are unaffected.
	OnSettingUpdate(ctx context.Context, value T) error
}

// registry holds the listener lists for one value kind, keyed by setting key.
type registry[T Value] struct {
	mu        sync.RWMutex
	listeners map[string][]Listener[T]
}

func newRegistry[T Value]() *registry[T] {
	return &registry[T]{listeners: make(map[string][]Listener[T])}
}

// add registers a listener for a key. Re-adding a listener already present
// is a no-op; first-registration order is preserved.
func (r *registry[T]) add(key string, l Listener[T]) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.listeners[key] {
		if existing == l {
			return
		}
	}
	r.listeners[key] = append(r.listeners[key], l)
}

// remove deregisters a listener for a key. Unknown listeners are a no-op.
func (r *registry[T]) remove(key string, l Listener[T]) {
	r.mu.Lock()
	defer r.mu.Unlock()

	list := r.listeners[key]
	for i, existing := range list {
		if existing == l {
			r.listeners[key] = append(list[:i], list[i+1:]...)
			if len(r.listeners[key]) == 0 {
				delete(r.listeners, key)
			}
			return
		}
	}
}

// snapshot returns a copy of the listener list for a key, or nil if none.
// Dispatch iterates the copy so listener calls run outside the lock; a
// listener added concurrently with an in-flight notification may miss that
// one but observes all later ones.
func (r *registry[T]) snapshot(key string) []Listener[T] {
	r.mu.RLock()
	defer r.mu.RUnlock()

	list := r.listeners[key]
	if len(list) == 0 {
		return nil
	}
	out := make([]Listener[T], len(list))
	copy(out, list)
	return out
}
