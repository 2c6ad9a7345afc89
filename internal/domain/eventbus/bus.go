// Package eventbus implements the per-session Event Bus described in
// spec §4.1: an append-only, ordered log of sysevent.Event values with a
// watermark-read API. Unlike the teacher's topic-based pub/sub bus
// (internal/infrastructure/eventbus), this is not a dispatch mechanism —
// nothing is delivered to subscribers. Readers (the HTTP SSE handler, the
// System Worker) poll slice_from(idx) at their own pace and track their own
// watermark.
package eventbus

import (
	"sync"

	"github.com/aomi-labs/orchestrator/internal/domain/sysevent"
)

// Bus is a single session's event log. The zero value is not usable; use
// New. A Bus is safe for concurrent use by multiple goroutines.
type Bus struct {
	mu     sync.RWMutex
	events []sysevent.Event
}

// New returns an empty event bus.
func New() *Bus {
	return &Bus{}
}

// Push appends an event to the log. Push never blocks on readers: it only
// ever contends on the bus's own mutex, held for the duration of an O(1)
// append.
func (b *Bus) Push(evt sysevent.Event) {
	b.mu.Lock()
	b.events = append(b.events, evt)
	b.mu.Unlock()
}

// SliceFrom returns a copy of every event at index >= idx, in push order.
// A negative or out-of-range idx is clamped. Callers retain the returned
// idx+len(result) as their next watermark.
func (b *Bus) SliceFrom(idx int) []sysevent.Event {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if idx < 0 {
		idx = 0
	}
	if idx >= len(b.events) {
		return nil
	}
	out := make([]sysevent.Event, len(b.events)-idx)
	copy(out, b.events[idx:])
	return out
}

// Len returns the number of events pushed so far.
func (b *Bus) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.events)
}
