package coordination

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRetryEventualSuccess(t *testing.T) {
	policy := NewRetryPolicy(3, time.Millisecond, 10*time.Millisecond)

	attempts := 0
	err := policy.Do(context.Background(), func(context.Context) error {
		attempts++
		if attempts < 3 {
			return errDependency
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestRetryExhaustionReturnsLastError(t *testing.T) {
	policy := NewRetryPolicy(3, time.Millisecond, 10*time.Millisecond)

	attempts := 0
	finalErr := errors.New("attempt 3 failed")
	err := policy.Do(context.Background(), func(context.Context) error {
		attempts++
		if attempts == 3 {
			return finalErr
		}
		return errDependency
	})
	assert.Equal(t, 3, attempts)
	assert.ErrorIs(t, err, finalErr, "the last observed error must be preserved")
}

func TestRetryPermanentErrorStopsImmediately(t *testing.T) {
	policy := NewRetryPolicy(5, time.Millisecond, 10*time.Millisecond)

	declined := errors.New("card declined")
	attempts := 0
	err := policy.Do(context.Background(), func(context.Context) error {
		attempts++
		return Permanent(declined)
	})
	assert.Equal(t, 1, attempts)
	assert.ErrorIs(t, err, declined)
}

func TestRetryStopsOnContextCancel(t *testing.T) {
	policy := NewRetryPolicy(10, 50*time.Millisecond, time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	attempts := 0
	err := policy.Do(ctx, func(context.Context) error {
		attempts++
		return errDependency
	})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 1, attempts, "no attempt may run after the deadline")
}

func TestRetryDelayBounds(t *testing.T) {
	policy := NewRetryPolicy(5, 100*time.Millisecond, 400*time.Millisecond)

	for n := 0; n < 10; n++ {
		for i := 0; i < 4; i++ {
			d := policy.delay(i)
			base := 100 * time.Millisecond * (1 << i)
			if base > 400*time.Millisecond {
				base = 400 * time.Millisecond
			}
			assert.GreaterOrEqual(t, d, base/2, "attempt %d", i)
			assert.LessOrEqual(t, d, base*3/2, "attempt %d", i)
		}
	}
}
