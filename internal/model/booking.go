// Package model defines the persisted booking aggregate.
package model

import "time"

// BookingStatus enumerates the reservation state machine.  A booking moves
// Pending -> Confirmed on payment, Pending -> Cancelled on user cancel,
// Pending -> Expired when the payment window lapses, and Confirmed ->
// Cancelled only while unpaid.  Bookings are never physically deleted so
// history stays auditable.
type BookingStatus string

const (
	StatusPending   BookingStatus = "PENDING"
	StatusConfirmed BookingStatus = "CONFIRMED"
	StatusCancelled BookingStatus = "CANCELLED"
	StatusExpired   BookingStatus = "EXPIRED"
)

// PaymentStatus tracks whether the booking has been paid for.
type PaymentStatus string

const (
	PaymentUnpaid PaymentStatus = "UNPAID"
	PaymentPaid   PaymentStatus = "PAID"
)

// Booking groups the seats a user reserved for one showtime.
//
// The seat set is non-empty and deduplicated.  A seat may belong to at most
// one Pending or Confirmed booking per showtime at any time; that invariant
// is enforced by the cache seat markers inside the reservation workflow,
// not by a database constraint, because the markers and these rows live in
// different stores.
type Booking struct {
	ID               uint64        // bookings.id
	UserID           uint64        // bookings.user_id
	ShowtimeID       uint64        // bookings.showtime_id
	Status           BookingStatus // bookings.status
	PaymentStatus    PaymentStatus // bookings.payment_status
	TotalAmountCents uint32        // bookings.total_amount_cents
	PaymentRef       *string       // bookings.payment_ref (nullable transaction id)
	ExpiresAt        time.Time     // end of the payment window
	CreatedAt        time.Time
	UpdatedAt        time.Time

	Seats []BookingSeat // rows from booking_seats, loaded with the booking
}

// BookingSeat is one reserved seat under a booking.  Seat ids are the
// labels the catalog service uses ("A1", "B12", ...).
type BookingSeat struct {
	ID         uint64        // booking_seats.id
	BookingID  uint64        // booking_seats.booking_id
	ShowtimeID uint64        // booking_seats.showtime_id
	SeatID     string        // booking_seats.seat_id
	PriceCents uint32        // booking_seats.price_cents
	Status     BookingStatus // mirrors the booking status per seat
}

// SeatIDs returns the seat labels of the booking in row order.
func (b *Booking) SeatIDs() []string {
	ids := make([]string, 0, len(b.Seats))
	for _, s := range b.Seats {
		ids = append(ids, s.SeatID)
	}
	return ids
}
