// Package workflow composes the coordination primitives into the booking
// flows: seat reservation, cancellation, payment and expiry reconciliation.
package workflow

import "errors"

var (
	// ErrSeatConflict means at least one requested seat is already held
	// by another live booking for the showtime.
	ErrSeatConflict = errors.New("one or more seats are no longer available")

	// ErrDependencyUnavailable means a downstream service (catalog,
	// payment gateway) could not be reached, including when its circuit
	// breaker is open.
	ErrDependencyUnavailable = errors.New("a required service is temporarily unavailable")

	// ErrNoSeats rejects a reservation request with an empty seat list.
	ErrNoSeats = errors.New("at least one seat must be requested")

	// ErrTooManySeats caps the seats a single booking may hold.
	ErrTooManySeats = errors.New("too many seats requested")

	ErrAlreadyPaid      = errors.New("booking has already been paid")
	ErrAlreadyCancelled = errors.New("booking is already cancelled")
	ErrBookingExpired   = errors.New("payment window for this booking has expired")
	ErrAmountMismatch   = errors.New("payment amount does not match the booking total")
)
