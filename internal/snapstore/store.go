// Package snapstore holds the latest snapshot per fixture with
// status-aware TTLs. Single writer (ingestion), many readers
// (evaluators); replacement is atomic at fixture-id granularity so a
// reader observes either the prior snapshot or the next, never a torn
// value.
package snapstore

import (
	"sync"
	"time"

	"matchpulse/internal/model"
)

// TTLs per fixture status.
const (
	ttlLive      = 60 * time.Second
	ttlFinished  = 300 * time.Second
	ttlScheduled = 600 * time.Second

	// finishedRetention is how long a finished fixture stays in the store
	// before eviction.
	finishedRetention = 2 * time.Hour
)

// TTLFor returns the cache TTL for a snapshot of the given status.
func TTLFor(status model.Status) time.Duration {
	switch status {
	case model.StatusLive1H, model.StatusLive2H, model.StatusHalftime,
		model.StatusExtraTime, model.StatusPenalties:
		return ttlLive
	case model.StatusFinished, model.StatusPostponed:
		return ttlFinished
	default:
		return ttlScheduled
	}
}

type entry struct {
	snap     *model.Snapshot
	storedAt time.Time
}

// Store is the in-memory tiered snapshot cache.
type Store struct {
	mu      sync.RWMutex
	entries map[string]entry

	// now is swappable for tests.
	now func() time.Time
}

// New creates an empty store.
func New() *Store {
	return &Store{
		entries: make(map[string]entry),
		now:     time.Now,
	}
}

// Put replaces the fixture's snapshot. The pointer is stored as-is;
// snapshots are immutable by contract so no copy is taken.
func (s *Store) Put(snap *model.Snapshot) {
	s.mu.Lock()
	s.entries[snap.Fixture.ID] = entry{snap: snap, storedAt: s.now()}
	s.mu.Unlock()
}

// Get returns the latest snapshot for a fixture, regardless of
// freshness. Stale snapshots are still served: evaluation degrades to
// cached data when the upstream budget is exhausted.
func (s *Store) Get(fixtureID string) (*model.Snapshot, bool) {
	s.mu.RLock()
	e, ok := s.entries[fixtureID]
	s.mu.RUnlock()
	if !ok {
		return nil, false
	}
	return e.snap, true
}

// Fresh reports whether the cached snapshot is within its status TTL.
// A fresh snapshot suppresses the upstream fetch for that fixture.
func (s *Store) Fresh(fixtureID string) bool {
	s.mu.RLock()
	e, ok := s.entries[fixtureID]
	s.mu.RUnlock()
	if !ok {
		return false
	}
	return s.now().Sub(e.storedAt) < TTLFor(e.snap.Fixture.Status)
}

// All returns the current snapshots. The returned slice is a private
// copy; the snapshots themselves are shared immutable values.
func (s *Store) All() []*model.Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*model.Snapshot, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, e.snap)
	}
	return out
}

// Len returns the number of tracked fixtures.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Evict drops fixtures finished (or postponed) longer than the retention
// window ago. Returns the evicted fixture ids so callers can discard
// their event and pattern state too. Called by the ingestion scheduler
// between ticks.
func (s *Store) Evict() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := s.now().Add(-finishedRetention)
	var evicted []string
	for id, e := range s.entries {
		st := e.snap.Fixture.Status
		if (st == model.StatusFinished || st == model.StatusPostponed) && e.storedAt.Before(cutoff) {
			delete(s.entries, id)
			evicted = append(evicted, id)
		}
	}
	return evicted
}
