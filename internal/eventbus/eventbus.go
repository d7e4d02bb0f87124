// Package eventbus implements the small typed event bus described in
// spec.md §9 ("replace inheritance-based event infrastructure with a
// small typed event-bus per component: a mapping from channel name to an
// ordered list of callbacks, plus on/once/off/emit").
package eventbus

import "sync"

// Handler receives a payload of whatever type a given channel carries.
// Callers type-assert inside their handler; Bus itself is untyped so it
// can back every channel a component exposes (connect, disconnect,
// message, error, stateChange, entity, state, ...).
type Handler func(payload any)

type subscription struct {
	id      uint64
	handler Handler
	once    bool
}

// Bus is an ordered, multi-channel callback registry. It is safe for
// concurrent use; Emit delivers to a snapshot of the current
// subscriber list so handlers may themselves call On/Off without
// deadlocking.
type Bus struct {
	mu     sync.Mutex
	nextID uint64
	subs   map[string][]subscription
}

// New returns an empty Bus.
func New() *Bus {
	return &Bus{subs: make(map[string][]subscription)}
}

// On registers handler on channel and returns a token Off can later use
// to unregister it.
func (b *Bus) On(channel string, handler Handler) uint64 {
	return b.register(channel, handler, false)
}

// Once registers handler to fire at most once; it is removed
// automatically after its first delivery.
func (b *Bus) Once(channel string, handler Handler) uint64 {
	return b.register(channel, handler, true)
}

func (b *Bus) register(channel string, handler Handler, once bool) uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	id := b.nextID
	b.subs[channel] = append(b.subs[channel], subscription{id: id, handler: handler, once: once})
	return id
}

// Off unregisters the subscription identified by id from channel.
func (b *Bus) Off(channel string, id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	list := b.subs[channel]
	for i, s := range list {
		if s.id == id {
			b.subs[channel] = append(list[:i:i], list[i+1:]...)
			return
		}
	}
}

// Emit delivers payload to every handler registered on channel, in
// registration order. Handlers registered via Once are removed after
// this call. Panics inside a handler are recovered and swallowed so one
// misbehaving subscriber cannot disrupt delivery to the others (spec.md
// §4.5/§7: "Subscriber callback exceptions are caught and logged").
func (b *Bus) Emit(channel string, payload any) {
	b.mu.Lock()
	list := append([]subscription(nil), b.subs[channel]...)
	var remaining []subscription
	for _, s := range list {
		if !s.once {
			remaining = append(remaining, s)
		}
	}
	b.subs[channel] = remaining
	b.mu.Unlock()

	for _, s := range list {
		invoke(s.handler, payload)
	}
}

func invoke(h Handler, payload any) {
	defer func() {
		recover() //nolint:errcheck // a panicking subscriber must not break the others
	}()
	h(payload)
}

// Destroy detaches every listener on every channel.
func (b *Bus) Destroy() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs = make(map[string][]subscription)
}
