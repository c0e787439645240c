package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/cineres/movie-booking/internal/client"
	"github.com/cineres/movie-booking/internal/coordination"
	"github.com/cineres/movie-booking/internal/model"
	"github.com/cineres/movie-booking/internal/obs"
	"github.com/cineres/movie-booking/internal/queue"
	"github.com/cineres/movie-booking/internal/repository"
)

// Receipt is the stored outcome of a successful payment.  It is what a
// replayed request with the same idempotency key gets back.
type Receipt struct {
	BookingID     uint64 `json:"booking_id"`
	TransactionID string `json:"transaction_id"`
	AmountCents   uint32 `json:"amount_cents"`
	Status        string `json:"status"`
	PaidAt        string `json:"paid_at"`
}

// PaymentFlow charges a booking exactly once per idempotency key.  The
// receipt is committed through the guard only after the charge succeeded
// and the booking was confirmed, so a failed attempt stores nothing and
// the client may retry with the same key.
type PaymentFlow struct {
	bookings BookingStore
	guard    *coordination.IdempotencyGuard
	gateway  client.PaymentGateway
	breaker  *coordination.CircuitBreaker
	retry    *coordination.RetryPolicy
	events   EventPublisher

	now func() time.Time
}

// NewPaymentFlow wires the payment workflow.
func NewPaymentFlow(bookings BookingStore, guard *coordination.IdempotencyGuard,
	gateway client.PaymentGateway, breaker *coordination.CircuitBreaker,
	retry *coordination.RetryPolicy, events EventPublisher) *PaymentFlow {
	return &PaymentFlow{
		bookings: bookings,
		guard:    guard,
		gateway:  gateway,
		breaker:  breaker,
		retry:    retry,
		events:   events,
		now:      time.Now,
	}
}

// Pay settles the booking.  replayed reports that the idempotency key had
// already completed and the stored receipt was returned instead of
// charging again.
func (f *PaymentFlow) Pay(ctx context.Context, userID, bookingID uint64, idempotencyKey string, amountCents uint32) (receipt Receipt, replayed bool, err error) {
	if idempotencyKey == "" {
		return Receipt{}, false, errors.New("idempotency key is required")
	}

	isNew, result, err := f.guard.CheckAndExecute(ctx, "payment:"+idempotencyKey, func(ctx context.Context) ([]byte, error) {
		r, err := f.settle(ctx, userID, bookingID, amountCents)
		if err != nil {
			return nil, err
		}
		return json.Marshal(r)
	})
	if err != nil {
		obs.Payments.WithLabelValues("failed").Inc()
		return Receipt{}, false, err
	}
	if err := json.Unmarshal(result, &receipt); err != nil {
		return Receipt{}, false, fmt.Errorf("decode stored receipt: %w", err)
	}
	if isNew {
		obs.Payments.WithLabelValues("charged").Inc()
	} else {
		obs.Payments.WithLabelValues("replayed").Inc()
	}
	return receipt, !isNew, nil
}

func (f *PaymentFlow) settle(ctx context.Context, userID, bookingID uint64, amountCents uint32) (Receipt, error) {
	booking, err := f.bookings.GetByID(ctx, bookingID)
	if err != nil {
		return Receipt{}, err
	}
	if booking.UserID != userID {
		return Receipt{}, repository.ErrForbidden
	}
	switch {
	case booking.PaymentStatus == model.PaymentPaid:
		return Receipt{}, ErrAlreadyPaid
	case booking.Status == model.StatusCancelled:
		return Receipt{}, ErrAlreadyCancelled
	case booking.Status == model.StatusExpired || f.now().UTC().After(booking.ExpiresAt):
		return Receipt{}, ErrBookingExpired
	}
	if amountCents != booking.TotalAmountCents {
		return Receipt{}, fmt.Errorf("%w: got %d, booking total is %d",
			ErrAmountMismatch, amountCents, booking.TotalAmountCents)
	}

	charge, err := f.charge(ctx, client.ChargeRequest{
		BookingID:   bookingID,
		UserID:      userID,
		AmountCents: amountCents,
	})
	if err != nil {
		return Receipt{}, err
	}

	ok, err := f.bookings.MarkPaid(ctx, bookingID, charge.TransactionID)
	if err != nil {
		log.Printf("payment: charge %s succeeded but confirming booking %d failed: %v",
			charge.TransactionID, bookingID, err)
		return Receipt{}, err
	}
	if !ok {
		// booking expired or was cancelled between validation and the
		// charge; the money needs a refund, flag it for operations
		log.Printf("payment: charge %s succeeded but booking %d was no longer payable, refund required",
			charge.TransactionID, bookingID)
		return Receipt{}, ErrBookingExpired
	}

	ev := queue.NewBookingEvent(queue.TypePaymentCompleted, userID, bookingID, amountCents, charge.TransactionID)
	go func() {
		// fire and forget, the notification pipeline is best effort
		if err := f.events.Publish(context.WithoutCancel(ctx), ev); err != nil {
			log.Printf("payment: publishing %s for booking %d failed: %v", ev.Type, bookingID, err)
		}
	}()

	return Receipt{
		BookingID:     bookingID,
		TransactionID: charge.TransactionID,
		AmountCents:   amountCents,
		Status:        string(model.StatusConfirmed),
		PaidAt:        f.now().UTC().Format(time.RFC3339),
	}, nil
}

// charge calls the gateway behind the retry policy and circuit breaker.
// A decline is permanent and surfaces as is; transport failures and an
// open breaker surface as ErrDependencyUnavailable.
func (f *PaymentFlow) charge(ctx context.Context, req client.ChargeRequest) (client.ChargeResult, error) {
	var result client.ChargeResult
	err := f.retry.Do(ctx, func(ctx context.Context) error {
		return f.breaker.Execute(ctx, func(ctx context.Context) error {
			res, err := f.gateway.Charge(ctx, req)
			if errors.Is(err, client.ErrPaymentDeclined) {
				return coordination.Permanent(err)
			}
			if err != nil {
				return err
			}
			result = res
			return nil
		})
	})
	if err != nil {
		if errors.Is(err, client.ErrPaymentDeclined) {
			return client.ChargeResult{}, err
		}
		return client.ChargeResult{}, fmt.Errorf("%w: payment gateway: %v", ErrDependencyUnavailable, err)
	}
	return result, nil
}
