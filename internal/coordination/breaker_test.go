package coordination

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errDependency = errors.New("dependency exploded")

func failingOp(calls *int) func(context.Context) error {
	return func(context.Context) error {
		*calls++
		return errDependency
	}
}

func succeedingOp(calls *int) func(context.Context) error {
	return func(context.Context) error {
		*calls++
		return nil
	}
}

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	cb := NewCircuitBreaker("catalog", 3, 30*time.Second, 1)

	var calls int
	for i := 0; i < 3; i++ {
		err := cb.Execute(context.Background(), failingOp(&calls))
		assert.ErrorIs(t, err, errDependency)
	}
	require.Equal(t, StateOpen, cb.State())
	require.Equal(t, 3, calls)

	// open circuit refuses the call without invoking the dependency
	err := cb.Execute(context.Background(), failingOp(&calls))
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.Equal(t, 3, calls)
}

func TestBreakerSuccessResetsFailureCount(t *testing.T) {
	cb := NewCircuitBreaker("catalog", 3, 30*time.Second, 1)

	var calls int
	require.Error(t, cb.Execute(context.Background(), failingOp(&calls)))
	require.Error(t, cb.Execute(context.Background(), failingOp(&calls)))
	require.NoError(t, cb.Execute(context.Background(), succeedingOp(&calls)))
	require.Error(t, cb.Execute(context.Background(), failingOp(&calls)))
	require.Error(t, cb.Execute(context.Background(), failingOp(&calls)))

	assert.Equal(t, StateClosed, cb.State(), "non-consecutive failures must not open the circuit")
}

func TestBreakerRecoversThroughHalfOpen(t *testing.T) {
	clock := newFakeClock()
	cb := NewCircuitBreaker("payment", 2, 30*time.Second, 2)
	cb.now = clock.Now

	var calls int
	require.Error(t, cb.Execute(context.Background(), failingOp(&calls)))
	require.Error(t, cb.Execute(context.Background(), failingOp(&calls)))
	require.Equal(t, StateOpen, cb.State())

	clock.Advance(31 * time.Second)

	// first probe is admitted and succeeds
	require.NoError(t, cb.Execute(context.Background(), succeedingOp(&calls)))
	assert.Equal(t, StateHalfOpen, cb.State())

	// second consecutive success closes the circuit
	require.NoError(t, cb.Execute(context.Background(), succeedingOp(&calls)))
	assert.Equal(t, StateClosed, cb.State())
}

func TestBreakerHalfOpenFailureReopens(t *testing.T) {
	clock := newFakeClock()
	cb := NewCircuitBreaker("payment", 1, 30*time.Second, 2)
	cb.now = clock.Now

	var calls int
	require.Error(t, cb.Execute(context.Background(), failingOp(&calls)))
	require.Equal(t, StateOpen, cb.State())

	clock.Advance(31 * time.Second)
	require.Error(t, cb.Execute(context.Background(), failingOp(&calls)))
	assert.Equal(t, StateOpen, cb.State())

	// the reopened circuit starts a fresh recovery timeout
	err := cb.Execute(context.Background(), failingOp(&calls))
	assert.ErrorIs(t, err, ErrCircuitOpen)
}

func TestBreakerHalfOpenBoundsProbes(t *testing.T) {
	clock := newFakeClock()
	cb := NewCircuitBreaker("catalog", 1, 30*time.Second, 1)
	cb.now = clock.Now

	var calls int
	require.Error(t, cb.Execute(context.Background(), failingOp(&calls)))
	clock.Advance(31 * time.Second)

	// a second call arriving while the single probe is in flight is
	// refused without touching the dependency
	var innerErr error
	err := cb.Execute(context.Background(), func(ctx context.Context) error {
		innerErr = cb.Execute(ctx, succeedingOp(&calls))
		return nil
	})
	require.NoError(t, err)
	assert.ErrorIs(t, innerErr, ErrCircuitOpen)
	assert.Equal(t, 1, calls)
}
