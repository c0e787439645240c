package workflow

import (
	"context"
	"log"
	"time"

	"github.com/cineres/movie-booking/internal/model"
	"github.com/cineres/movie-booking/internal/obs"
	"github.com/cineres/movie-booking/internal/queue"
)

// Reconciler sweeps Pending bookings whose payment window lapsed, marking
// them Expired and freeing their seats.  The sweep is the safety net
// behind the marker TTLs: even if a marker outlives its booking or the
// cache was flushed, the database row always ends up in a terminal state.
//
// Multiple instances may run concurrently; the conditional transition
// makes each booking expire exactly once, and a booking paid between the
// list and the transition is skipped.
type Reconciler struct {
	bookings  BookingStore
	markers   *SeatMarkers
	events    EventPublisher
	interval  time.Duration
	batchSize int

	now func() time.Time
}

// NewReconciler builds a reconciler sweeping every interval, at most
// batchSize bookings per pass.
func NewReconciler(bookings BookingStore, markers *SeatMarkers, events EventPublisher,
	interval time.Duration, batchSize int) *Reconciler {
	return &Reconciler{
		bookings:  bookings,
		markers:   markers,
		events:    events,
		interval:  interval,
		batchSize: batchSize,
		now:       time.Now,
	}
}

// Run sweeps on a ticker until ctx is cancelled.
func (r *Reconciler) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n, err := r.Sweep(ctx); err != nil {
				log.Printf("expiry: sweep failed: %v", err)
			} else if n > 0 {
				log.Printf("expiry: expired %d bookings", n)
			}
		}
	}
}

// Sweep runs one reconciliation pass and returns how many bookings it
// expired.  A failure on one booking is logged and does not stop the rest
// of the batch.
func (r *Reconciler) Sweep(ctx context.Context) (int, error) {
	stale, err := r.bookings.ListExpiredPending(ctx, r.now().UTC(), r.batchSize)
	if err != nil {
		return 0, err
	}
	expired := 0
	for _, booking := range stale {
		ok, err := r.bookings.Transition(ctx, booking.ID, model.StatusPending, model.StatusExpired)
		if err != nil {
			log.Printf("expiry: transition of booking %d failed: %v", booking.ID, err)
			continue
		}
		if !ok {
			// paid or cancelled since the list query, nothing to do
			continue
		}
		if err := r.markers.ReleaseOwned(ctx, booking.ShowtimeID, booking.ID, booking.SeatIDs()); err != nil {
			log.Printf("expiry: releasing seat markers for booking %d failed: %v", booking.ID, err)
		}
		obs.BookingsExpired.Inc()
		expired++

		ev := queue.NewBookingEvent(queue.TypeBookingExpired, booking.UserID, booking.ID, booking.TotalAmountCents, "")
		if err := r.events.Publish(ctx, ev); err != nil {
			log.Printf("expiry: publishing %s for booking %d failed: %v", ev.Type, booking.ID, err)
		}
	}
	return expired, nil
}
