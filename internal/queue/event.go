// Package queue defines the message payloads exchanged over the broker and
// the publisher/consumer endpoints for them.
package queue

import (
	"time"

	"github.com/google/uuid"
)

// Event types consumed by the notification service.  Delivery is
// at-least-once; consumers deduplicate by EventID.
const (
	TypePaymentCompleted = "payment.completed"
	TypeBookingCancelled = "booking.cancelled"
	TypeBookingExpired   = "booking.expired"
)

// eventsQueue is the durable queue notification consumers read from.
const eventsQueue = "booking.events"

// BookingEvent is published when a booking changes state in a way the
// notification service cares about.  It carries enough information for
// downstream consumers to act without querying the primary database.
type BookingEvent struct {
	EventID       string `json:"event_id"`
	Type          string `json:"type"`
	UserID        uint64 `json:"user_id"`
	BookingID     uint64 `json:"booking_id"`
	AmountCents   uint32 `json:"amount_cents"`
	TransactionID string `json:"transaction_id,omitempty"`
	OccurredAt    string `json:"occurred_at"`
}

// NewBookingEvent stamps a fresh event with a unique id and the current
// UTC time.
func NewBookingEvent(eventType string, userID, bookingID uint64, amountCents uint32, transactionID string) BookingEvent {
	return BookingEvent{
		EventID:       uuid.NewString(),
		Type:          eventType,
		UserID:        userID,
		BookingID:     bookingID,
		AmountCents:   amountCents,
		TransactionID: transactionID,
		OccurredAt:    time.Now().UTC().Format(time.RFC3339),
	}
}
