package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cineres/movie-booking/internal/store"
)

// SeatMarkers tracks which seats are currently held, per showtime, in the
// shared cache.  A marker maps seat:{showtimeID}:{seatID} to the id of the
// booking holding it and carries a TTL equal to the payment window, so an
// abandoned hold disappears on its own even if the expiry sweep never runs.
type SeatMarkers struct {
	store store.Store
}

// NewSeatMarkers returns markers backed by st.
func NewSeatMarkers(st store.Store) *SeatMarkers {
	return &SeatMarkers{store: st}
}

func seatKey(showtimeID uint64, seatID string) string {
	return fmt.Sprintf("seat:%d:%s", showtimeID, seatID)
}

// Holder returns the booking id string holding the seat, or "" when the
// seat is free.
func (m *SeatMarkers) Holder(ctx context.Context, showtimeID uint64, seatID string) (string, error) {
	v, err := m.store.Get(ctx, seatKey(showtimeID, seatID))
	if errors.Is(err, store.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return v, nil
}

// Place writes a marker for every seat with SetNX.  If any seat is already
// held it removes the markers written so far and returns ErrSeatConflict,
// so a partially placed hold never survives.
func (m *SeatMarkers) Place(ctx context.Context, showtimeID, bookingID uint64, seatIDs []string, ttl time.Duration) error {
	value := fmt.Sprintf("%d", bookingID)
	placed := make([]string, 0, len(seatIDs))
	for _, seatID := range seatIDs {
		key := seatKey(showtimeID, seatID)
		ok, err := m.store.SetNX(ctx, key, value, ttl)
		if err == nil && !ok {
			err = fmt.Errorf("seat %s: %w", seatID, ErrSeatConflict)
		}
		if err != nil {
			if len(placed) > 0 {
				_ = m.store.Del(ctx, placed...)
			}
			return err
		}
		placed = append(placed, key)
	}
	return nil
}

// ReleaseOwned deletes the seat markers that still belong to the booking.
// Markers already re-taken by a newer booking are left alone, which is why
// the delete is a compare-and-delete rather than a plain delete.
func (m *SeatMarkers) ReleaseOwned(ctx context.Context, showtimeID, bookingID uint64, seatIDs []string) error {
	value := fmt.Sprintf("%d", bookingID)
	var firstErr error
	for _, seatID := range seatIDs {
		if _, err := m.store.CompareAndDelete(ctx, seatKey(showtimeID, seatID), value); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
