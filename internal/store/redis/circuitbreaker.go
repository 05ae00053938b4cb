package redis

import (
	"errors"
	"sync"
	"time"
)

// ErrCircuitOpen rejects mirror writes while the breaker is open.
var ErrCircuitOpen = errors.New("redis: circuit open")

// State is the breaker position.
type State int

const (
	StateClosed   State = iota // writes pass through
	StateOpen                  // writes rejected without touching Redis
	StateHalfOpen              // one probe write allowed
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// CircuitBreaker fails Redis writes fast once the server stops
// answering, so an outage costs the mirror one queue slot instead of a
// blocked connection per envelope. threshold consecutive failures open
// the breaker; after cooldown the next write goes through as a probe,
// closing the breaker on success and reopening it on failure.
type CircuitBreaker struct {
	threshold int
	cooldown  time.Duration

	mu       sync.Mutex
	state    State
	fails    int
	openedAt time.Time

	// now is swappable for tests.
	now func() time.Time

	// OnStateChange observes transitions.
	OnStateChange func(from, to State)
}

// NewCircuitBreaker creates a closed breaker tripping after threshold
// consecutive failures and probing again after cooldown.
func NewCircuitBreaker(threshold int, cooldown time.Duration) *CircuitBreaker {
	return &CircuitBreaker{
		threshold: threshold,
		cooldown:  cooldown,
		now:       time.Now,
	}
}

// Execute runs fn through the breaker. An open breaker inside its
// cooldown returns ErrCircuitOpen without invoking fn.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	if err := cb.admit(); err != nil {
		return err
	}
	err := fn()
	cb.record(err)
	return err
}

// CurrentState reports the breaker position.
func (cb *CircuitBreaker) CurrentState() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

func (cb *CircuitBreaker) admit() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state == StateOpen {
		if cb.now().Sub(cb.openedAt) <= cb.cooldown {
			return ErrCircuitOpen
		}
		cb.shift(StateHalfOpen)
	}
	return nil
}

func (cb *CircuitBreaker) record(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if err == nil {
		if cb.state == StateHalfOpen {
			cb.shift(StateClosed)
		}
		cb.fails = 0
		return
	}

	cb.fails++
	cb.openedAt = cb.now()
	if cb.state == StateHalfOpen || cb.fails >= cb.threshold {
		cb.shift(StateOpen)
	}
}

func (cb *CircuitBreaker) shift(to State) {
	from := cb.state
	if from == to {
		return
	}
	cb.state = to
	if to == StateClosed {
		cb.fails = 0
	}
	if cb.OnStateChange != nil {
		cb.OnStateChange(from, to)
	}
}
