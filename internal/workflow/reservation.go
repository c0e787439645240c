package workflow

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"
	"time"

	"github.com/cineres/movie-booking/internal/client"
	"github.com/cineres/movie-booking/internal/coordination"
	"github.com/cineres/movie-booking/internal/model"
	"github.com/cineres/movie-booking/internal/obs"
	"github.com/cineres/movie-booking/internal/queue"
	"github.com/cineres/movie-booking/internal/repository"
)

// BookingStore is the persistence surface the workflows need.  It is
// satisfied by repository.BookingRepo.
type BookingStore interface {
	Create(ctx context.Context, b *model.Booking) error
	GetByID(ctx context.Context, id uint64) (*model.Booking, error)
	ListByUser(ctx context.Context, userID uint64) ([]*model.Booking, error)
	ListExpiredPending(ctx context.Context, now time.Time, limit int) ([]*model.Booking, error)
	Transition(ctx context.Context, id uint64, from, to model.BookingStatus) (bool, error)
	MarkPaid(ctx context.Context, id uint64, paymentRef string) (bool, error)
}

// EventPublisher emits booking lifecycle events to the broker.
type EventPublisher interface {
	Publish(ctx context.Context, ev queue.BookingEvent) error
}

// Config carries the reservation knobs.
type Config struct {
	LockTTL            time.Duration // showtime lock lifetime
	PaymentWindow      time.Duration // time a Pending booking has to get paid
	MaxSeatsPerBooking int
}

// Service runs the seat reservation flow.  All seat-state mutations for a
// showtime happen under the distributed lock showtime:{id}, so two
// requests for the same showtime are serialized even across processes.
type Service struct {
	bookings BookingStore
	markers  *SeatMarkers
	locks    *coordination.DistributedLock
	catalog  client.Catalog
	breaker  *coordination.CircuitBreaker
	retry    *coordination.RetryPolicy
	events   EventPublisher
	cfg      Config

	now func() time.Time
}

// NewService wires the reservation workflow.
func NewService(bookings BookingStore, markers *SeatMarkers, locks *coordination.DistributedLock,
	catalog client.Catalog, breaker *coordination.CircuitBreaker, retry *coordination.RetryPolicy,
	events EventPublisher, cfg Config) *Service {
	return &Service{
		bookings: bookings,
		markers:  markers,
		locks:    locks,
		catalog:  catalog,
		breaker:  breaker,
		retry:    retry,
		events:   events,
		cfg:      cfg,
		now:      time.Now,
	}
}

// Reserve books the seats for the user on the showtime.  On success the
// booking is Pending with a payment window; the caller must pay before it
// expires.  Failure leaves no seat held: markers are only placed after the
// booking row exists, and a marker conflict rolls the row back to
// Cancelled.
func (s *Service) Reserve(ctx context.Context, userID, showtimeID uint64, seatIDs []string) (*model.Booking, error) {
	seatIDs = normalizeSeats(seatIDs)
	if len(seatIDs) == 0 {
		return nil, ErrNoSeats
	}
	if s.cfg.MaxSeatsPerBooking > 0 && len(seatIDs) > s.cfg.MaxSeatsPerBooking {
		return nil, fmt.Errorf("%w (max %d)", ErrTooManySeats, s.cfg.MaxSeatsPerBooking)
	}

	handle, err := s.locks.Acquire(ctx, fmt.Sprintf("showtime:%d", showtimeID), s.cfg.LockTTL)
	if err != nil {
		obs.Reservations.WithLabelValues("lock_unavailable").Inc()
		return nil, err
	}
	defer func() {
		// release must run even when the request context is already
		// cancelled, otherwise the showtime stays locked for the TTL
		released, rerr := s.locks.Release(context.WithoutCancel(ctx), handle)
		if rerr != nil {
			log.Printf("reservation: releasing lock for showtime %d failed: %v", showtimeID, rerr)
		} else if !released {
			log.Printf("reservation: lock for showtime %d expired before release", showtimeID)
		}
	}()

	for _, seatID := range seatIDs {
		holder, err := s.markers.Holder(ctx, showtimeID, seatID)
		if err != nil {
			return nil, err
		}
		if holder != "" {
			obs.Reservations.WithLabelValues("seat_conflict").Inc()
			return nil, fmt.Errorf("seat %s: %w", seatID, ErrSeatConflict)
		}
	}

	showtime, err := s.fetchShowtime(ctx, showtimeID)
	if err != nil {
		obs.Reservations.WithLabelValues("dependency_failed").Inc()
		return nil, err
	}

	now := s.now().UTC()
	booking := &model.Booking{
		UserID:           userID,
		ShowtimeID:       showtimeID,
		Status:           model.StatusPending,
		PaymentStatus:    model.PaymentUnpaid,
		TotalAmountCents: showtime.PriceCents * uint32(len(seatIDs)),
		ExpiresAt:        now.Add(s.cfg.PaymentWindow),
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	for _, seatID := range seatIDs {
		booking.Seats = append(booking.Seats, model.BookingSeat{
			ShowtimeID: showtimeID,
			SeatID:     seatID,
			PriceCents: showtime.PriceCents,
			Status:     model.StatusPending,
		})
	}
	if err := s.bookings.Create(ctx, booking); err != nil {
		obs.Reservations.WithLabelValues("store_failed").Inc()
		return nil, err
	}

	if err := s.markers.Place(ctx, showtimeID, booking.ID, seatIDs, s.cfg.PaymentWindow); err != nil {
		// cannot happen while we hold the showtime lock, unless the
		// cache lost our earlier reads; undo the row either way
		if _, terr := s.bookings.Transition(ctx, booking.ID, model.StatusPending, model.StatusCancelled); terr != nil {
			log.Printf("reservation: rollback of booking %d failed: %v", booking.ID, terr)
		}
		obs.Reservations.WithLabelValues("seat_conflict").Inc()
		return nil, err
	}

	obs.Reservations.WithLabelValues("success").Inc()
	return booking, nil
}

// Cancel voids a not-yet-paid booking owned by the user and frees its
// seats.  It takes no showtime lock: the status transition is conditional
// and the marker release is compare-and-delete, both safe against races.
func (s *Service) Cancel(ctx context.Context, userID, bookingID uint64) error {
	booking, err := s.bookings.GetByID(ctx, bookingID)
	if err != nil {
		return err
	}
	if booking.UserID != userID {
		return repository.ErrForbidden
	}
	switch {
	case booking.PaymentStatus == model.PaymentPaid:
		return ErrAlreadyPaid
	case booking.Status == model.StatusCancelled:
		return ErrAlreadyCancelled
	case booking.Status == model.StatusExpired:
		return ErrBookingExpired
	}

	ok, err := s.bookings.Transition(ctx, bookingID, booking.Status, model.StatusCancelled)
	if err != nil {
		return err
	}
	if !ok {
		// someone else moved the booking first; report what it became
		fresh, err := s.bookings.GetByID(ctx, bookingID)
		if err != nil {
			return err
		}
		if fresh.PaymentStatus == model.PaymentPaid {
			return ErrAlreadyPaid
		}
		if fresh.Status == model.StatusExpired {
			return ErrBookingExpired
		}
		return ErrAlreadyCancelled
	}

	if err := s.markers.ReleaseOwned(ctx, booking.ShowtimeID, bookingID, booking.SeatIDs()); err != nil {
		log.Printf("reservation: releasing seat markers for booking %d failed: %v", bookingID, err)
	}

	ev := queue.NewBookingEvent(queue.TypeBookingCancelled, userID, bookingID, booking.TotalAmountCents, "")
	if err := s.events.Publish(ctx, ev); err != nil {
		log.Printf("reservation: publishing %s for booking %d failed: %v", ev.Type, bookingID, err)
	}
	return nil
}

// GetBooking returns the booking when it belongs to the user.
func (s *Service) GetBooking(ctx context.Context, userID, bookingID uint64) (*model.Booking, error) {
	booking, err := s.bookings.GetByID(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if booking.UserID != userID {
		return nil, repository.ErrForbidden
	}
	return booking, nil
}

// ListBookings returns the user's bookings, newest first.
func (s *Service) ListBookings(ctx context.Context, userID uint64) ([]*model.Booking, error) {
	return s.bookings.ListByUser(ctx, userID)
}

// fetchShowtime calls the catalog behind the retry policy and circuit
// breaker.  A missing showtime is permanent and surfaces as is; transport
// failures and an open breaker surface as ErrDependencyUnavailable.
func (s *Service) fetchShowtime(ctx context.Context, showtimeID uint64) (client.Showtime, error) {
	var showtime client.Showtime
	err := s.retry.Do(ctx, func(ctx context.Context) error {
		return s.breaker.Execute(ctx, func(ctx context.Context) error {
			st, err := s.catalog.GetShowtime(ctx, showtimeID)
			if errors.Is(err, client.ErrShowtimeNotFound) {
				return coordination.Permanent(err)
			}
			if err != nil {
				return err
			}
			showtime = st
			return nil
		})
	})
	if err != nil {
		if errors.Is(err, client.ErrShowtimeNotFound) {
			return client.Showtime{}, err
		}
		return client.Showtime{}, fmt.Errorf("%w: catalog: %v", ErrDependencyUnavailable, err)
	}
	return showtime, nil
}

func normalizeSeats(seatIDs []string) []string {
	seen := make(map[string]struct{}, len(seatIDs))
	out := make([]string, 0, len(seatIDs))
	for _, id := range seatIDs {
		id = strings.ToUpper(strings.TrimSpace(id))
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
