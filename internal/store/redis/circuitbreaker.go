package redis

import (
	"fmt"
	"sync"
	"time"
)

// State is the circuit breaker state for the Redis mirror path.
type State int

const (
	StateClosed   State = 0 // writes pass through
	StateOpen     State = 1 // writes rejected, BufferedWriter queues locally
	StateHalfOpen State = 2 // one probe write allowed through
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

// ErrCircuitOpen is returned while the breaker rejects calls.
var ErrCircuitOpen = fmt.Errorf("circuit breaker is open")

// CircuitBreaker keeps a failing Redis from stalling the candle pipeline.
// A streak of maxFailures consecutive errors opens it; while open every call
// fails fast with ErrCircuitOpen. After resetTimeout one probe call is let
// through half-open: success closes the breaker, failure reopens it.
type CircuitBreaker struct {
	mu           sync.Mutex
	state        State
	streak       int // consecutive failures while closed
	maxFailures  int
	resetTimeout time.Duration
	openedAt     time.Time

	// OnStateChange fires on every transition, under the lock.
	OnStateChange func(from, to State)
}

// NewCircuitBreaker creates a closed breaker that trips after maxFailures
// consecutive errors and probes again after resetTimeout.
func NewCircuitBreaker(maxFailures int, resetTimeout time.Duration) *CircuitBreaker {
	return &CircuitBreaker{
		maxFailures:  maxFailures,
		resetTimeout: resetTimeout,
	}
}

// Execute runs fn unless the breaker is open and the reset timeout has not
// elapsed, in which case it returns ErrCircuitOpen without calling fn.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	cb.mu.Lock()
	if cb.state == StateOpen {
		if time.Since(cb.openedAt) <= cb.resetTimeout {
			cb.mu.Unlock()
			return ErrCircuitOpen
		}
		cb.transition(StateHalfOpen)
	}
	cb.mu.Unlock()

	err := fn()

	cb.mu.Lock()
	defer cb.mu.Unlock()

	if err == nil {
		if cb.state == StateHalfOpen {
			cb.transition(StateClosed)
		}
		cb.streak = 0
		return nil
	}

	cb.streak++
	cb.openedAt = time.Now()
	switch {
	case cb.state == StateHalfOpen:
		// Probe failed.
		cb.transition(StateOpen)
	case cb.streak >= cb.maxFailures:
		cb.transition(StateOpen)
	}
	return err
}

// CurrentState returns the breaker state.
func (cb *CircuitBreaker) CurrentState() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

func (cb *CircuitBreaker) transition(to State) {
	from := cb.state
	cb.state = to
	if to == StateClosed {
		cb.streak = 0
	}
	if cb.OnStateChange != nil {
		cb.OnStateChange(from, to)
	}
}
