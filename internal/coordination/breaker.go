package coordination

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/cineres/movie-booking/internal/obs"
)

// ErrCircuitOpen is returned by Execute when the breaker refuses the call
// without invoking the dependency.
var ErrCircuitOpen = errors.New("coordination: circuit breaker open")

// BreakerState enumerates the circuit breaker states.
type BreakerState int

const (
	StateClosed BreakerState = iota
	StateHalfOpen
	StateOpen
)

func (s BreakerState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateHalfOpen:
		return "half-open"
	case StateOpen:
		return "open"
	}
	return "unknown"
}

// CircuitBreaker guards calls to one unreliable remote dependency.  It is a
// purely in-process state machine: each service instance keeps its own
// breaker per dependency, with no cross-instance coordination.
//
// Closed passes all calls through and counts consecutive failures; reaching
// failureThreshold opens the circuit.  Open fails every call immediately
// with ErrCircuitOpen until recoveryTimeout has elapsed since the last
// failure, then the next call transitions to HalfOpen.  HalfOpen admits at
// most halfOpenMaxCalls probe calls; that many consecutive successes close
// the circuit again and any failure reopens it.
type CircuitBreaker struct {
	name             string
	failureThreshold int
	recoveryTimeout  time.Duration
	halfOpenMaxCalls int

	now func() time.Time

	mu            sync.Mutex
	state         BreakerState
	failures      int
	successes     int
	halfOpenCalls int
	lastFailure   time.Time
}

// NewCircuitBreaker builds a breaker for the named dependency.  One
// instance per dependency should live for the whole process.
func NewCircuitBreaker(name string, failureThreshold int, recoveryTimeout time.Duration, halfOpenMaxCalls int) *CircuitBreaker {
	if failureThreshold < 1 {
		failureThreshold = 1
	}
	if halfOpenMaxCalls < 1 {
		halfOpenMaxCalls = 1
	}
	cb := &CircuitBreaker{
		name:             name,
		failureThreshold: failureThreshold,
		recoveryTimeout:  recoveryTimeout,
		halfOpenMaxCalls: halfOpenMaxCalls,
		now:              time.Now,
		state:            StateClosed,
	}
	obs.BreakerState.WithLabelValues(name).Set(0)
	return cb
}

// State returns the current state, applying the open-to-half-open timeout.
func (cb *CircuitBreaker) State() BreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state == StateOpen && cb.now().Sub(cb.lastFailure) >= cb.recoveryTimeout {
		cb.transition(StateHalfOpen)
	}
	return cb.state
}

// Execute runs op through the breaker.  When the circuit is open, or the
// half-open probe budget is spent, it returns ErrCircuitOpen without
// invoking op.  Every op outcome updates the breaker state.
func (cb *CircuitBreaker) Execute(ctx context.Context, op func(context.Context) error) error {
	if err := cb.beforeCall(); err != nil {
		return err
	}
	err := op(ctx)
	cb.afterCall(err == nil)
	return err
}

func (cb *CircuitBreaker) beforeCall() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed:
		return nil
	case StateOpen:
		if cb.now().Sub(cb.lastFailure) < cb.recoveryTimeout {
			return fmt.Errorf("%w: %s", ErrCircuitOpen, cb.name)
		}
		cb.transition(StateHalfOpen)
		cb.halfOpenCalls++
		return nil
	case StateHalfOpen:
		if cb.halfOpenCalls >= cb.halfOpenMaxCalls {
			return fmt.Errorf("%w: %s: probe budget spent", ErrCircuitOpen, cb.name)
		}
		cb.halfOpenCalls++
		return nil
	}
	return nil
}

func (cb *CircuitBreaker) afterCall(success bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if success {
		switch cb.state {
		case StateHalfOpen:
			cb.successes++
			if cb.successes >= cb.halfOpenMaxCalls {
				cb.transition(StateClosed)
			}
		default:
			cb.failures = 0
		}
		return
	}

	cb.failures++
	cb.lastFailure = cb.now()
	switch cb.state {
	case StateHalfOpen:
		cb.transition(StateOpen)
	case StateClosed:
		if cb.failures >= cb.failureThreshold {
			cb.transition(StateOpen)
		}
	}
}

// transition must be called with the mutex held.
func (cb *CircuitBreaker) transition(next BreakerState) {
	if cb.state == next {
		return
	}
	log.Printf("circuit-breaker %s: %s -> %s (consecutive failures=%d)", cb.name, cb.state, next, cb.failures)
	cb.state = next
	cb.successes = 0
	cb.halfOpenCalls = 0
	if next == StateClosed {
		cb.failures = 0
	}
	obs.BreakerTransitions.WithLabelValues(cb.name, next.String()).Inc()
	var gauge float64
	switch next {
	case StateHalfOpen:
		gauge = 1
	case StateOpen:
		gauge = 2
	}
	obs.BreakerState.WithLabelValues(cb.name).Set(gauge)
}
