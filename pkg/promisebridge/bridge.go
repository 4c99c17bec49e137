// Package promisebridge converts host-submitted asynchronous outcomes into
// script-visible promise resolutions delivered on the script thread. Each
// async host operation owns one Slot; the pool worker that produces its
// outcome posts it through the event loop, and the bridge resolves or
// rejects the slot at most once.
package promisebridge

import (
	"sync"

	"github.com/andromeda-rt/andromeda/pkg/eventloop"
)

// SlotID identifies a promise slot.
type SlotID uint64

// Outcome is the {Ok(value) | Err(error)} payload a pool worker posts back.
type Outcome struct {
	Value any
	Err error
}

// Resolver is invoked exactly once when a slot settles, on the script
// thread. Implementations typically call into the script engine's promise
// resolve/reject hooks.
type Resolver func(Outcome)

type slot struct {
	resolver Resolver
	settled bool
}

// Bridge owns the slot table. The zero value is not usable; use New.
type Bridge struct {
	loop *eventloop.Loop

	mu sync.Mutex
	nextID SlotID
	slots map[SlotID]*slot
}

// New constructs a Bridge delivering resolutions through loop.
func New(loop *eventloop.Loop) *Bridge {
	return &Bridge{loop: loop, slots: make(map[SlotID]*slot)}
}

// NewSlot allocates a fresh slot and registers resolver as the function to
// call (on the script thread) when the slot settles. Returns the slot's ID
// so the caller can correlate a later Settle call.
func (b *Bridge) NewSlot(resolver Resolver) SlotID {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	id := b.nextID
	b.slots[id] = &slot{resolver: resolver}
	return id
}

// Settle delivers outcome to the slot's resolver on the script thread via
// the event loop. A slot is resolved at most once: a second Settle call for
// the same id (a late arrival) is silently discarded.
func (b *Bridge) Settle(id SlotID, outcome Outcome) {
	b.mu.Lock()
	s, ok := b.slots[id]
	if !ok || s.settled {
		b.mu.Unlock()
		return
	}
	s.settled = true
	delete(b.slots, id)
	b.mu.Unlock()

	b.loop.PostReady(func() {
		s.resolver(outcome)
	})
}

// Pending reports how many slots are awaiting settlement, used by
// diagnostics and tests.
func (b *Bridge) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.slots)
}
