package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/cineres/movie-booking/internal/model"
)

// BookingRepo provides data access to the bookings and booking_seats
// tables.  All timestamps are stored in UTC.  Status transitions are
// conditional updates guarded by the expected current status, so a booking
// already moved forward by a racing request (payment, cancel, expiry sweep)
// is left untouched.
type BookingRepo struct {
	db *sql.DB
}

// NewBookingRepo returns a BookingRepo bound to the given database.
func NewBookingRepo(db *sql.DB) *BookingRepo { return &BookingRepo{db: db} }

// DB exposes the underlying handle so callers can open transactions.
func (r *BookingRepo) DB() *sql.DB { return r.db }

// CreateTx inserts the booking and its seat rows within the provided
// transaction and populates the generated booking id.  The caller commits
// or rolls back.
func (r *BookingRepo) CreateTx(ctx context.Context, tx *sql.Tx, b *model.Booking) error {
	const q = `INSERT INTO bookings
        (user_id, showtime_id, status, payment_status, total_amount_cents, expires_at)
        VALUES (?, ?, ?, ?, ?, ?)`
	result, err := tx.ExecContext(ctx, q,
		b.UserID, b.ShowtimeID, b.Status, b.PaymentStatus, b.TotalAmountCents,
		b.ExpiresAt.UTC().Format("2006-01-02 15:04:05"))
	if err != nil {
		return err
	}
	id, err := result.LastInsertId()
	if err != nil {
		return err
	}
	b.ID = uint64(id)

	if len(b.Seats) == 0 {
		return nil
	}
	query := `INSERT INTO booking_seats (booking_id, showtime_id, seat_id, price_cents, status) VALUES `
	args := make([]interface{}, 0, len(b.Seats)*5)
	for i := range b.Seats {
		if i > 0 {
			query += ","
		}
		query += "(?, ?, ?, ?, ?)"
		b.Seats[i].BookingID = b.ID
		s := b.Seats[i]
		args = append(args, s.BookingID, s.ShowtimeID, s.SeatID, s.PriceCents, s.Status)
	}
	_, err = tx.ExecContext(ctx, query, args...)
	return err
}

// GetByID loads a booking with its seats.  It returns ErrBookingNotFound
// when no row exists.
func (r *BookingRepo) GetByID(ctx context.Context, id uint64) (*model.Booking, error) {
	const q = `SELECT id, user_id, showtime_id, status, payment_status,
                      total_amount_cents, payment_ref, expires_at, created_at, updated_at
               FROM bookings WHERE id = ?`
	b, err := scanBooking(r.db.QueryRowContext(ctx, q, id))
	if err != nil {
		return nil, err
	}
	if err := r.loadSeats(ctx, b); err != nil {
		return nil, err
	}
	return b, nil
}

// ListByUser returns all bookings created by the user, newest first, with
// seats populated.
func (r *BookingRepo) ListByUser(ctx context.Context, userID uint64) ([]*model.Booking, error) {
	const q = `SELECT id, user_id, showtime_id, status, payment_status,
                      total_amount_cents, payment_ref, expires_at, created_at, updated_at
               FROM bookings WHERE user_id = ? ORDER BY created_at DESC`
	rows, err := r.db.QueryContext(ctx, q, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var bookings []*model.Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, err
		}
		bookings = append(bookings, b)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for _, b := range bookings {
		if err := r.loadSeats(ctx, b); err != nil {
			return nil, err
		}
	}
	return bookings, nil
}

// ListExpiredPending returns up to limit bookings that are still Pending
// although their payment window lapsed before now.  Seats are populated so
// the reconciler can release the matching markers.
func (r *BookingRepo) ListExpiredPending(ctx context.Context, now time.Time, limit int) ([]*model.Booking, error) {
	const q = `SELECT id, user_id, showtime_id, status, payment_status,
                      total_amount_cents, payment_ref, expires_at, created_at, updated_at
               FROM bookings
               WHERE status = 'PENDING' AND expires_at < ?
               ORDER BY expires_at
               LIMIT ?`
	rows, err := r.db.QueryContext(ctx, q, now.UTC().Format("2006-01-02 15:04:05"), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var bookings []*model.Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, err
		}
		bookings = append(bookings, b)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for _, b := range bookings {
		if err := r.loadSeats(ctx, b); err != nil {
			return nil, err
		}
	}
	return bookings, nil
}

// TransitionTx flips the booking status from to the given target only when
// the current status still equals from.  It reports whether the row
// changed; false means a racing request won and the caller must re-read
// instead of mutating further.
func (r *BookingRepo) TransitionTx(ctx context.Context, tx *sql.Tx, id uint64, from, to model.BookingStatus) (bool, error) {
	const q = `UPDATE bookings SET status = ? WHERE id = ? AND status = ?`
	res, err := tx.ExecContext(ctx, q, to, id, from)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// MarkPaidTx confirms the booking and records the payment reference, but
// only while it is still Pending and Unpaid.
func (r *BookingRepo) MarkPaidTx(ctx context.Context, tx *sql.Tx, id uint64, paymentRef string) (bool, error) {
	const q = `UPDATE bookings
               SET status = 'CONFIRMED', payment_status = 'PAID', payment_ref = ?
               WHERE id = ? AND status = 'PENDING' AND payment_status = 'UNPAID'`
	res, err := tx.ExecContext(ctx, q, paymentRef, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// UpdateSeatsStatusTx sets the status of every seat row of the booking in
// one statement, so seat release is applied to all seats or none.
func (r *BookingRepo) UpdateSeatsStatusTx(ctx context.Context, tx *sql.Tx, bookingID uint64, status model.BookingStatus) error {
	const q = `UPDATE booking_seats SET status = ? WHERE booking_id = ?`
	_, err := tx.ExecContext(ctx, q, status, bookingID)
	return err
}

// Create inserts the booking and its seats in one transaction.
func (r *BookingRepo) Create(ctx context.Context, b *model.Booking) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := r.CreateTx(ctx, tx, b); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// Transition applies a conditional status change to the booking and, when
// it took effect, mirrors the new status onto its seat rows in the same
// transaction.
func (r *BookingRepo) Transition(ctx context.Context, id uint64, from, to model.BookingStatus) (bool, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	ok, err := r.TransitionTx(ctx, tx, id, from, to)
	if err != nil {
		_ = tx.Rollback()
		return false, err
	}
	if ok {
		if err := r.UpdateSeatsStatusTx(ctx, tx, id, to); err != nil {
			_ = tx.Rollback()
			return false, err
		}
	}
	if err := tx.Commit(); err != nil {
		return false, err
	}
	return ok, nil
}

// MarkPaid confirms the booking with its payment reference and mirrors the
// confirmed status onto the seat rows.  It reports false when the booking
// was no longer Pending and Unpaid.
func (r *BookingRepo) MarkPaid(ctx context.Context, id uint64, paymentRef string) (bool, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	ok, err := r.MarkPaidTx(ctx, tx, id, paymentRef)
	if err != nil {
		_ = tx.Rollback()
		return false, err
	}
	if ok {
		if err := r.UpdateSeatsStatusTx(ctx, tx, id, model.StatusConfirmed); err != nil {
			_ = tx.Rollback()
			return false, err
		}
	}
	if err := tx.Commit(); err != nil {
		return false, err
	}
	return ok, nil
}

func (r *BookingRepo) loadSeats(ctx context.Context, b *model.Booking) error {
	const q = `SELECT id, booking_id, showtime_id, seat_id, price_cents, status
               FROM booking_seats WHERE booking_id = ? ORDER BY seat_id`
	rows, err := r.db.QueryContext(ctx, q, b.ID)
	if err != nil {
		return err
	}
	defer rows.Close()
	b.Seats = b.Seats[:0]
	for rows.Next() {
		var s model.BookingSeat
		if err := rows.Scan(&s.ID, &s.BookingID, &s.ShowtimeID, &s.SeatID, &s.PriceCents, &s.Status); err != nil {
			return err
		}
		b.Seats = append(b.Seats, s)
	}
	return rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanBooking(row rowScanner) (*model.Booking, error) {
	var b model.Booking
	var paymentRef sql.NullString
	err := row.Scan(&b.ID, &b.UserID, &b.ShowtimeID, &b.Status, &b.PaymentStatus,
		&b.TotalAmountCents, &paymentRef, &b.ExpiresAt, &b.CreatedAt, &b.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrBookingNotFound
	}
	if err != nil {
		return nil, err
	}
	if paymentRef.Valid {
		ref := paymentRef.String
		b.PaymentRef = &ref
	}
	return &b, nil
}
