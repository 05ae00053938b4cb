// Package eventbuf provides the per-fixture sliding event log: an
// arena-backed ring holding the most recent N match events. Single
// writer (ingestion) and many readers (pattern engine, condition
// evaluator); readers take a snapshot copy of the ring before scanning.
package eventbuf

import (
	"sync"

	"matchpulse/internal/model"
)

// Ring is a fixed-capacity event ring for one fixture. The backing array
// is allocated once; appends overwrite the oldest slot when full.
type Ring struct {
	buf   []model.Event
	head  int // next write index
	count int
}

func newRing(capacity int) *Ring {
	if capacity < 1 {
		capacity = 1
	}
	return &Ring{buf: make([]model.Event, capacity)}
}

// append writes one event, overwriting the oldest when full.
func (r *Ring) append(ev model.Event) {
	r.buf[r.head] = ev
	r.head = (r.head + 1) % len(r.buf)
	if r.count < len(r.buf) {
		r.count++
	}
}

// snapshot copies the ring contents in insertion order.
func (r *Ring) snapshot() []model.Event {
	out := make([]model.Event, 0, r.count)
	start := r.head - r.count
	if start < 0 {
		start += len(r.buf)
	}
	for i := 0; i < r.count; i++ {
		out = append(out, r.buf[(start+i)%len(r.buf)])
	}
	return out
}

// Buffer maps fixture ids to their event rings.
type Buffer struct {
	mu       sync.RWMutex
	rings    map[string]*Ring
	capacity int
}

// New creates an event buffer retaining capacity events per fixture.
func New(capacity int) *Buffer {
	return &Buffer{
		rings:    make(map[string]*Ring),
		capacity: capacity,
	}
}

// Append records events for a fixture. Events arrive in minute order
// from the snapshot differ.
func (b *Buffer) Append(fixtureID string, events ...model.Event) {
	if len(events) == 0 {
		return
	}
	b.mu.Lock()
	r, ok := b.rings[fixtureID]
	if !ok {
		r = newRing(b.capacity)
		b.rings[fixtureID] = r
	}
	for _, ev := range events {
		r.append(ev)
	}
	b.mu.Unlock()
}

// Events returns a copy of the fixture's retained events in insertion
// order. Safe for concurrent readers; the copy never aliases the ring.
func (b *Buffer) Events(fixtureID string) []model.Event {
	b.mu.RLock()
	r, ok := b.rings[fixtureID]
	if !ok {
		b.mu.RUnlock()
		return nil
	}
	out := r.snapshot()
	b.mu.RUnlock()
	return out
}

// Drop discards the ring for an evicted fixture.
func (b *Buffer) Drop(fixtureID string) {
	b.mu.Lock()
	delete(b.rings, fixtureID)
	b.mu.Unlock()
}

// Fixtures returns the ids currently holding events.
func (b *Buffer) Fixtures() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	ids := make([]string, 0, len(b.rings))
	for id := range b.rings {
		ids = append(ids, id)
	}
	return ids
}
