package errors

import (
	"errors"
	"sync"
	"time"
)

// ErrCircuitOpen is returned when the breaker is refusing requests.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// State is the breaker's position.
type State int

const (
	// StateClosed: requests flow normally.
	StateClosed State = iota
	// StateOpen: the dependency is considered down; fail fast.
	StateOpen
	// StateHalfOpen: the reset timeout elapsed; requests are allowed
	// through as probes to test recovery.
	StateHalfOpen
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

// CircuitBreaker fails fast against a dependency that keeps failing;
// the sync path wraps the embedding backend in one so a dead backend
// costs one timeout, not one per batch.
type CircuitBreaker struct {
	name         string
	maxFailures  int
	resetTimeout time.Duration

	mu          sync.RWMutex
	state       State
	failures    int
	lastFailure time.Time
}

// CircuitBreakerOption configures a CircuitBreaker.
type CircuitBreakerOption func(*CircuitBreaker)

// WithMaxFailures sets how many consecutive failures open the circuit.
func WithMaxFailures(n int) CircuitBreakerOption {
	return func(cb *CircuitBreaker) { cb.maxFailures = n }
}

// WithResetTimeout sets how long the circuit stays open before a probe
// is allowed.
func WithResetTimeout(d time.Duration) CircuitBreakerOption {
	return func(cb *CircuitBreaker) { cb.resetTimeout = d }
}

// NewCircuitBreaker defaults to 5 failures and a 30s reset timeout.
func NewCircuitBreaker(name string, opts ...CircuitBreakerOption) *CircuitBreaker {
	cb := &CircuitBreaker{
		name:         name,
		maxFailures:  5,
		resetTimeout: 30 * time.Second,
		state:        StateClosed,
	}
	for _, opt := range opts {
		opt(cb)
	}
	return cb
}

// Name identifies the breaker in logs and status.
func (cb *CircuitBreaker) Name() string { return cb.name }

// State reports the current position, accounting for the open→half-open
// transition the reset timeout earns.
func (cb *CircuitBreaker) State() State {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.currentState()
}

// currentState must be called with at least a read lock held.
func (cb *CircuitBreaker) currentState() State {
	if cb.state == StateOpen && time.Since(cb.lastFailure) > cb.resetTimeout {
		return StateHalfOpen
	}
	return cb.state
}

// Failures is the consecutive-failure count.
func (cb *CircuitBreaker) Failures() int {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.failures
}

// Allow reports whether a request may proceed right now.
func (cb *CircuitBreaker) Allow() bool {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.currentState() != StateOpen
}

// RecordSuccess closes the circuit and clears the failure count.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.failures = 0
	cb.state = StateClosed
}

// RecordFailure counts a failure, opening the circuit at the limit.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.failures++
	cb.lastFailure = time.Now()
	if cb.failures >= cb.maxFailures {
		cb.state = StateOpen
	}
}

// Execute runs fn under the breaker: ErrCircuitOpen while open, normal
// accounting otherwise. In half-open every call runs as a probe; the
// number of concurrent probes is not limited to one.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	cb.mu.Lock()
	state := cb.currentState()

	switch state {
	case StateOpen:
		cb.mu.Unlock()
		return ErrCircuitOpen

	case StateHalfOpen:
		cb.state = StateHalfOpen
		cb.mu.Unlock()

		if err := fn(); err != nil {
			cb.mu.Lock()
			cb.state = StateOpen
			cb.lastFailure = time.Now()
			cb.mu.Unlock()
			return err
		}
		cb.RecordSuccess()
		return nil

	default: // StateClosed
		cb.mu.Unlock()

		if err := fn(); err != nil {
			cb.RecordFailure()
			return err
		}
		cb.RecordSuccess()
		return nil
	}
}

// CircuitExecuteWithResult is Execute for value-returning calls, with a
// fallback invoked instead of the primary while the circuit is open or
// when the half-open probe fails.
func CircuitExecuteWithResult[T any](cb *CircuitBreaker, fn func() (T, error), fallback func() (T, error)) (T, error) {
	cb.mu.Lock()
	state := cb.currentState()

	switch state {
	case StateOpen:
		cb.mu.Unlock()
		return fallback()

	case StateHalfOpen:
		cb.state = StateHalfOpen
		cb.mu.Unlock()

		result, err := fn()
		if err != nil {
			cb.mu.Lock()
			cb.state = StateOpen
			cb.lastFailure = time.Now()
			cb.mu.Unlock()
			return fallback()
		}
		cb.RecordSuccess()
		return result, nil

	default: // StateClosed
		cb.mu.Unlock()

		result, err := fn()
		if err != nil {
			cb.RecordFailure()
			return result, err
		}
		cb.RecordSuccess()
		return result, nil
	}
}
