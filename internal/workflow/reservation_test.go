package workflow

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cineres/movie-booking/internal/client"
	"github.com/cineres/movie-booking/internal/model"
	"github.com/cineres/movie-booking/internal/queue"
)

func TestReserveCreatesPendingBooking(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	booking, err := f.service.Reserve(ctx, 7, 1, []string{"b2", "A1", "a1"})
	require.NoError(t, err)

	assert.Equal(t, model.StatusPending, booking.Status)
	assert.Equal(t, model.PaymentUnpaid, booking.PaymentStatus)
	assert.Equal(t, []string{"A1", "B2"}, booking.SeatIDs(), "seat ids are deduplicated and normalized")
	assert.Equal(t, uint32(3000), booking.TotalAmountCents)
	assert.WithinDuration(t, time.Now().Add(15*time.Minute), booking.ExpiresAt, time.Minute)

	holder, err := f.markers.Holder(ctx, 1, "A1")
	require.NoError(t, err)
	assert.NotEmpty(t, holder, "reserved seat must carry a marker")
}

func TestReserveSeatConflict(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	_, err := f.service.Reserve(ctx, 7, 1, []string{"A1", "A2"})
	require.NoError(t, err)

	_, err = f.service.Reserve(ctx, 8, 1, []string{"A2", "A3"})
	assert.ErrorIs(t, err, ErrSeatConflict)

	// A3 was never part of a successful reservation and stays free
	holder, err := f.markers.Holder(ctx, 1, "A3")
	require.NoError(t, err)
	assert.Empty(t, holder)
}

func TestReserveConcurrentSameSeat(t *testing.T) {
	f := newFixture()

	const contenders = 8
	var wg sync.WaitGroup
	outcomes := make([]error, contenders)
	for i := 0; i < contenders; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, outcomes[i] = f.service.Reserve(context.Background(), uint64(100+i), 1, []string{"A1"})
		}(i)
	}
	wg.Wait()

	wins := 0
	for _, err := range outcomes {
		if err == nil {
			wins++
		} else {
			assert.ErrorIs(t, err, ErrSeatConflict)
		}
	}
	assert.Equal(t, 1, wins, "exactly one contender may reserve the seat")
}

func TestReserveDifferentShowtimesIndependent(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	_, err := f.service.Reserve(ctx, 7, 1, []string{"A1"})
	require.NoError(t, err)

	_, err = f.service.Reserve(ctx, 8, 2, []string{"A1"})
	assert.NoError(t, err, "the same seat label on another showtime is unrelated")
}

func TestReserveValidation(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	_, err := f.service.Reserve(ctx, 7, 1, nil)
	assert.ErrorIs(t, err, ErrNoSeats)

	_, err = f.service.Reserve(ctx, 7, 1, []string{" ", ""})
	assert.ErrorIs(t, err, ErrNoSeats)

	tooMany := make([]string, 11)
	for i := range tooMany {
		tooMany[i] = string(rune('A')) + string(rune('0'+i%10)) + string(rune('a'+i))
	}
	_, err = f.service.Reserve(ctx, 7, 1, tooMany)
	assert.ErrorIs(t, err, ErrTooManySeats)
}

func TestReserveShowtimeNotFound(t *testing.T) {
	f := newFixture()
	f.catalog.err = client.ErrShowtimeNotFound

	_, err := f.service.Reserve(context.Background(), 7, 99, []string{"A1"})
	assert.ErrorIs(t, err, client.ErrShowtimeNotFound)
	assert.Equal(t, 1, f.catalog.calls, "a missing showtime is permanent and not retried")
}

func TestReserveCatalogDownSurfacesDependencyError(t *testing.T) {
	f := newFixture()
	f.catalog.err = errors.New("connection refused")
	ctx := context.Background()

	_, err := f.service.Reserve(ctx, 7, 1, []string{"A1"})
	assert.ErrorIs(t, err, ErrDependencyUnavailable)

	// the failed reservation must not leave the seat held
	holder, err := f.markers.Holder(ctx, 1, "A1")
	require.NoError(t, err)
	assert.Empty(t, holder)
}

func TestCancelFreesSeats(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	booking, err := f.service.Reserve(ctx, 7, 1, []string{"A1"})
	require.NoError(t, err)

	require.NoError(t, f.service.Cancel(ctx, 7, booking.ID))

	got, err := f.bookings.GetByID(ctx, booking.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusCancelled, got.Status)

	holder, err := f.markers.Holder(ctx, 1, "A1")
	require.NoError(t, err)
	assert.Empty(t, holder)

	// the freed seat is immediately reservable by someone else
	_, err = f.service.Reserve(ctx, 8, 1, []string{"A1"})
	assert.NoError(t, err)

	cancelled := f.events.byType(queue.TypeBookingCancelled)
	require.Len(t, cancelled, 1)
	assert.Equal(t, booking.ID, cancelled[0].BookingID)
}

func TestCancelRejectsWrongStates(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	booking, err := f.service.Reserve(ctx, 7, 1, []string{"A1"})
	require.NoError(t, err)

	err = f.service.Cancel(ctx, 8, booking.ID)
	assert.Error(t, err, "another user's booking cannot be cancelled")

	require.NoError(t, f.service.Cancel(ctx, 7, booking.ID))
	assert.ErrorIs(t, f.service.Cancel(ctx, 7, booking.ID), ErrAlreadyCancelled)
}

func TestCancelPaidBookingRejected(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	booking, err := f.service.Reserve(ctx, 7, 1, []string{"A1"})
	require.NoError(t, err)
	ok, err := f.bookings.MarkPaid(ctx, booking.ID, "txn-x")
	require.NoError(t, err)
	require.True(t, ok)

	assert.ErrorIs(t, f.service.Cancel(ctx, 7, booking.ID), ErrAlreadyPaid)
}
