package upstream

import (
	"sync"
	"time"
)

// Budget enforces the global upstream call allowance over a rolling
// 60-minute window. A plain refilling token bucket can exceed the
// allowance within a rolling hour (burst plus refill), so the budget
// keeps the timestamps of recent calls instead: in any rolling window
// the number of admitted calls never exceeds the limit.
//
// Single shared counter guarded by a mutex; Take is called from the
// ingestion worker pool.
type Budget struct {
	mu     sync.Mutex
	limit  int
	window time.Duration
	calls  []time.Time

	// now is swappable for tests.
	now func() time.Time
}

// NewBudget creates a budget of limit calls per rolling hour.
func NewBudget(limit int) *Budget {
	return &Budget{
		limit:  limit,
		window: time.Hour,
		calls:  make([]time.Time, 0, limit),
		now:    time.Now,
	}
}

// Take consumes one call from the budget. Fails fast with
// ErrBudgetExceeded when the rolling window is full.
func (b *Budget) Take() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	b.evict(now)
	if len(b.calls) >= b.limit {
		return ErrBudgetExceeded
	}
	b.calls = append(b.calls, now)
	return nil
}

// Remaining returns the number of calls left in the current window.
func (b *Budget) Remaining() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.evict(b.now())
	return b.limit - len(b.calls)
}

// Used returns the number of calls consumed in the current window.
func (b *Budget) Used() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.evict(b.now())
	return len(b.calls)
}

// evict drops timestamps older than the window. Caller holds b.mu.
func (b *Budget) evict(now time.Time) {
	cutoff := now.Add(-b.window)
	i := 0
	for i < len(b.calls) && !b.calls[i].After(cutoff) {
		i++
	}
	if i > 0 {
		b.calls = append(b.calls[:0], b.calls[i:]...)
	}
}
