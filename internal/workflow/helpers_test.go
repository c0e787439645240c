package workflow

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cineres/movie-booking/internal/client"
	"github.com/cineres/movie-booking/internal/coordination"
	"github.com/cineres/movie-booking/internal/model"
	"github.com/cineres/movie-booking/internal/queue"
	"github.com/cineres/movie-booking/internal/repository"
	"github.com/cineres/movie-booking/internal/store"
)

// fakeBookings is an in-memory BookingStore with the same conditional
// transition semantics as the MySQL repository.
type fakeBookings struct {
	mu     sync.Mutex
	nextID uint64
	rows   map[uint64]*model.Booking
}

func newFakeBookings() *fakeBookings {
	return &fakeBookings{rows: make(map[uint64]*model.Booking)}
}

func cloneBooking(b *model.Booking) *model.Booking {
	c := *b
	c.Seats = append([]model.BookingSeat(nil), b.Seats...)
	if b.PaymentRef != nil {
		ref := *b.PaymentRef
		c.PaymentRef = &ref
	}
	return &c
}

func (f *fakeBookings) Create(_ context.Context, b *model.Booking) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	b.ID = f.nextID
	for i := range b.Seats {
		b.Seats[i].BookingID = b.ID
	}
	f.rows[b.ID] = cloneBooking(b)
	return nil
}

func (f *fakeBookings) GetByID(_ context.Context, id uint64) (*model.Booking, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.rows[id]
	if !ok {
		return nil, repository.ErrBookingNotFound
	}
	return cloneBooking(b), nil
}

func (f *fakeBookings) ListByUser(_ context.Context, userID uint64) ([]*model.Booking, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*model.Booking
	for _, b := range f.rows {
		if b.UserID == userID {
			out = append(out, cloneBooking(b))
		}
	}
	return out, nil
}

func (f *fakeBookings) ListExpiredPending(_ context.Context, now time.Time, limit int) ([]*model.Booking, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*model.Booking
	for _, b := range f.rows {
		if b.Status == model.StatusPending && b.ExpiresAt.Before(now) {
			out = append(out, cloneBooking(b))
			if len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

func (f *fakeBookings) Transition(_ context.Context, id uint64, from, to model.BookingStatus) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.rows[id]
	if !ok || b.Status != from {
		return false, nil
	}
	b.Status = to
	for i := range b.Seats {
		b.Seats[i].Status = to
	}
	return true, nil
}

func (f *fakeBookings) MarkPaid(_ context.Context, id uint64, paymentRef string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.rows[id]
	if !ok || b.Status != model.StatusPending || b.PaymentStatus != model.PaymentUnpaid {
		return false, nil
	}
	b.Status = model.StatusConfirmed
	b.PaymentStatus = model.PaymentPaid
	b.PaymentRef = &paymentRef
	for i := range b.Seats {
		b.Seats[i].Status = model.StatusConfirmed
	}
	return true, nil
}

type stubCatalog struct {
	showtime client.Showtime
	err      error

	mu    sync.Mutex
	calls int
}

func (s *stubCatalog) GetShowtime(context.Context, uint64) (client.Showtime, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	if s.err != nil {
		return client.Showtime{}, s.err
	}
	return s.showtime, nil
}

type stubGateway struct {
	err error

	mu      sync.Mutex
	charges int
}

func (g *stubGateway) Charge(context.Context, client.ChargeRequest) (client.ChargeResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.err != nil {
		return client.ChargeResult{}, g.err
	}
	g.charges++
	return client.ChargeResult{TransactionID: fmt.Sprintf("txn-%d", g.charges)}, nil
}

func (g *stubGateway) chargeCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.charges
}

type stubPublisher struct {
	mu     sync.Mutex
	events []queue.BookingEvent
}

func (p *stubPublisher) Publish(_ context.Context, ev queue.BookingEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return nil
}

func (p *stubPublisher) byType(eventType string) []queue.BookingEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []queue.BookingEvent
	for _, ev := range p.events {
		if ev.Type == eventType {
			out = append(out, ev)
		}
	}
	return out
}

type fixture struct {
	bookings *fakeBookings
	mem      *store.Memory
	markers  *SeatMarkers
	catalog  *stubCatalog
	gateway  *stubGateway
	events   *stubPublisher
	service  *Service
	payments *PaymentFlow
}

func newFixture() *fixture {
	mem := store.NewMemory()
	bookings := newFakeBookings()
	markers := NewSeatMarkers(mem)
	locks := coordination.NewDistributedLock(mem, 100, time.Millisecond)
	retry := coordination.NewRetryPolicy(2, time.Millisecond, 10*time.Millisecond)
	catalog := &stubCatalog{showtime: client.Showtime{ID: 1, MovieTitle: "Heat", PriceCents: 1500, Capacity: 100}}
	gateway := &stubGateway{}
	events := &stubPublisher{}

	service := NewService(bookings, markers, locks, catalog,
		coordination.NewCircuitBreaker("catalog-test", 5, 30*time.Second, 2), retry, events,
		Config{LockTTL: 30 * time.Second, PaymentWindow: 15 * time.Minute, MaxSeatsPerBooking: 10})

	guard := coordination.NewIdempotencyGuard(mem, locks, 24*time.Hour)
	payments := NewPaymentFlow(bookings, guard, gateway,
		coordination.NewCircuitBreaker("payment-test", 5, 30*time.Second, 2), retry, events)

	return &fixture{
		bookings: bookings,
		mem:      mem,
		markers:  markers,
		catalog:  catalog,
		gateway:  gateway,
		events:   events,
		service:  service,
		payments: payments,
	}
}
