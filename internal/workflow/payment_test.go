package workflow

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cineres/movie-booking/internal/client"
	"github.com/cineres/movie-booking/internal/model"
	"github.com/cineres/movie-booking/internal/queue"
	"github.com/cineres/movie-booking/internal/repository"
)

func reservePending(t *testing.T, f *fixture) *model.Booking {
	t.Helper()
	booking, err := f.service.Reserve(context.Background(), 7, 1, []string{"A1", "A2"})
	require.NoError(t, err)
	return booking
}

func TestPayConfirmsBooking(t *testing.T) {
	f := newFixture()
	booking := reservePending(t, f)
	ctx := context.Background()

	receipt, replayed, err := f.payments.Pay(ctx, 7, booking.ID, "key-1", booking.TotalAmountCents)
	require.NoError(t, err)
	assert.False(t, replayed)
	assert.Equal(t, booking.ID, receipt.BookingID)
	assert.Equal(t, "txn-1", receipt.TransactionID)
	assert.Equal(t, string(model.StatusConfirmed), receipt.Status)

	got, err := f.bookings.GetByID(ctx, booking.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusConfirmed, got.Status)
	assert.Equal(t, model.PaymentPaid, got.PaymentStatus)
	require.NotNil(t, got.PaymentRef)
	assert.Equal(t, "txn-1", *got.PaymentRef)

	assert.Eventually(t, func() bool {
		return len(f.events.byType(queue.TypePaymentCompleted)) == 1
	}, time.Second, 5*time.Millisecond, "payment.completed must be emitted")
}

func TestPayReplaySameKeyChargesOnce(t *testing.T) {
	f := newFixture()
	booking := reservePending(t, f)
	ctx := context.Background()

	first, replayed, err := f.payments.Pay(ctx, 7, booking.ID, "key-1", booking.TotalAmountCents)
	require.NoError(t, err)
	require.False(t, replayed)

	second, replayed, err := f.payments.Pay(ctx, 7, booking.ID, "key-1", booking.TotalAmountCents)
	require.NoError(t, err)
	assert.True(t, replayed)
	assert.Equal(t, first, second, "replay must return the stored receipt")
	assert.Equal(t, 1, f.gateway.chargeCount(), "the gateway must be charged exactly once")
}

func TestPayDistinctKeysAreDistinctAttempts(t *testing.T) {
	f := newFixture()
	booking := reservePending(t, f)
	ctx := context.Background()

	_, _, err := f.payments.Pay(ctx, 7, booking.ID, "key-1", booking.TotalAmountCents)
	require.NoError(t, err)

	// a second key against the now-paid booking is a fresh attempt and
	// fails validation instead of replaying
	_, _, err = f.payments.Pay(ctx, 7, booking.ID, "key-2", booking.TotalAmountCents)
	assert.ErrorIs(t, err, ErrAlreadyPaid)
	assert.Equal(t, 1, f.gateway.chargeCount())
}

func TestPayAmountMismatch(t *testing.T) {
	f := newFixture()
	booking := reservePending(t, f)

	_, _, err := f.payments.Pay(context.Background(), 7, booking.ID, "key-1", booking.TotalAmountCents+1)
	assert.ErrorIs(t, err, ErrAmountMismatch)
	assert.Equal(t, 0, f.gateway.chargeCount(), "validation failures must not reach the gateway")
}

func TestPayValidatesOwnershipAndState(t *testing.T) {
	f := newFixture()
	booking := reservePending(t, f)
	ctx := context.Background()

	_, _, err := f.payments.Pay(ctx, 8, booking.ID, "key-1", booking.TotalAmountCents)
	assert.ErrorIs(t, err, repository.ErrForbidden)

	_, _, err = f.payments.Pay(ctx, 7, 999, "key-2", booking.TotalAmountCents)
	assert.ErrorIs(t, err, repository.ErrBookingNotFound)

	require.NoError(t, f.service.Cancel(ctx, 7, booking.ID))
	_, _, err = f.payments.Pay(ctx, 7, booking.ID, "key-3", booking.TotalAmountCents)
	assert.ErrorIs(t, err, ErrAlreadyCancelled)
}

func TestPayExpiredWindowRejected(t *testing.T) {
	f := newFixture()
	booking := reservePending(t, f)

	f.bookings.mu.Lock()
	f.bookings.rows[booking.ID].ExpiresAt = time.Now().Add(-time.Second)
	f.bookings.mu.Unlock()

	_, _, err := f.payments.Pay(context.Background(), 7, booking.ID, "key-1", booking.TotalAmountCents)
	assert.ErrorIs(t, err, ErrBookingExpired)
	assert.Equal(t, 0, f.gateway.chargeCount())
}

func TestPayDeclinedIsRetryableWithSameKey(t *testing.T) {
	f := newFixture()
	booking := reservePending(t, f)
	ctx := context.Background()

	f.gateway.err = client.ErrPaymentDeclined
	_, _, err := f.payments.Pay(ctx, 7, booking.ID, "key-1", booking.TotalAmountCents)
	assert.ErrorIs(t, err, client.ErrPaymentDeclined)

	got, err := f.bookings.GetByID(ctx, booking.ID)
	require.NoError(t, err)
	assert.Equal(t, model.PaymentUnpaid, got.PaymentStatus, "a declined charge must not confirm anything")

	// the failure stored no idempotency record, so retrying the same key
	// after fixing the card works
	f.gateway.err = nil
	_, replayed, err := f.payments.Pay(ctx, 7, booking.ID, "key-1", booking.TotalAmountCents)
	require.NoError(t, err)
	assert.False(t, replayed)
	assert.Equal(t, 1, f.gateway.chargeCount())
}

func TestPayRequiresIdempotencyKey(t *testing.T) {
	f := newFixture()
	booking := reservePending(t, f)

	_, _, err := f.payments.Pay(context.Background(), 7, booking.ID, "", booking.TotalAmountCents)
	assert.Error(t, err)
	assert.Equal(t, 0, f.gateway.chargeCount())
}
