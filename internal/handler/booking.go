package handler

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/cineres/movie-booking/internal/client"
	"github.com/cineres/movie-booking/internal/coordination"
	"github.com/cineres/movie-booking/internal/middleware"
	"github.com/cineres/movie-booking/internal/model"
	"github.com/cineres/movie-booking/internal/repository"
	"github.com/cineres/movie-booking/internal/workflow"
)

// BookingHandler exposes the reservation and payment workflows over HTTP.
// Authentication has already happened in middleware; every method reads
// the caller's id from context and returns 401 when it is missing.
type BookingHandler struct {
	Reservations *workflow.Service
	Payments     *workflow.PaymentFlow
}

// NewBookingHandler constructs a BookingHandler.  Both workflows must be
// non-nil.
func NewBookingHandler(reservations *workflow.Service, payments *workflow.PaymentFlow) *BookingHandler {
	if reservations == nil || payments == nil {
		panic("nil workflow passed to NewBookingHandler")
	}
	return &BookingHandler{Reservations: reservations, Payments: payments}
}

// Reserve handles POST /v1/showtimes/:id/reserve.  The body carries a
// "seat_ids" array of seat labels.  On success it returns 201 with the
// Pending booking and its payment deadline; the seats stay held until
// that deadline or until the booking is cancelled.
func (h *BookingHandler) Reserve(c echo.Context) error {
	userID, ok := middleware.CurrentUserID(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	showtimeID, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || showtimeID == 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid showtime id"})
	}
	var body struct {
		SeatIDs []string `json:"seat_ids"`
	}
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}

	booking, err := h.Reservations.Reserve(c.Request().Context(), userID, showtimeID, body.SeatIDs)
	switch {
	case err == nil:
		return c.JSON(http.StatusCreated, bookingResponse(booking))
	case errors.Is(err, workflow.ErrNoSeats), errors.Is(err, workflow.ErrTooManySeats):
		return c.JSON(http.StatusBadRequest, echo.Map{"error": err.Error()})
	case errors.Is(err, workflow.ErrSeatConflict):
		return c.JSON(http.StatusConflict, echo.Map{"error": err.Error()})
	case errors.Is(err, client.ErrShowtimeNotFound):
		return c.JSON(http.StatusNotFound, echo.Map{"error": "showtime not found"})
	case errors.Is(err, coordination.ErrLockUnavailable):
		c.Response().Header().Set("Retry-After", "1")
		return c.JSON(http.StatusServiceUnavailable, echo.Map{"error": "showtime is busy, please retry"})
	case errors.Is(err, workflow.ErrDependencyUnavailable):
		return c.JSON(http.StatusServiceUnavailable, echo.Map{"error": "a required service is temporarily unavailable"})
	default:
		c.Logger().Errorf("reserve failed: %v", err)
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal error"})
	}
}

// Cancel handles DELETE /v1/bookings/:id.  Only unpaid bookings owned by
// the caller can be cancelled; the seats are freed immediately.
func (h *BookingHandler) Cancel(c echo.Context) error {
	userID, ok := middleware.CurrentUserID(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	bookingID, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || bookingID == 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid booking id"})
	}

	err = h.Reservations.Cancel(c.Request().Context(), userID, bookingID)
	switch {
	case err == nil:
		return c.JSON(http.StatusOK, echo.Map{"status": "cancelled"})
	case errors.Is(err, repository.ErrBookingNotFound):
		return c.JSON(http.StatusNotFound, echo.Map{"error": "booking not found"})
	case errors.Is(err, repository.ErrForbidden):
		return c.JSON(http.StatusForbidden, echo.Map{"error": "forbidden"})
	case errors.Is(err, workflow.ErrAlreadyPaid),
		errors.Is(err, workflow.ErrAlreadyCancelled),
		errors.Is(err, workflow.ErrBookingExpired):
		return c.JSON(http.StatusConflict, echo.Map{"error": err.Error()})
	default:
		c.Logger().Errorf("cancel failed: %v", err)
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal error"})
	}
}

// Pay handles POST /v1/bookings/:id/pay.  The Idempotency-Key header is
// mandatory; retrying with the same key returns the stored receipt
// instead of charging again.
func (h *BookingHandler) Pay(c echo.Context) error {
	userID, ok := middleware.CurrentUserID(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	bookingID, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || bookingID == 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid booking id"})
	}
	idemKey := c.Request().Header.Get("Idempotency-Key")
	if idemKey == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "Idempotency-Key header is required"})
	}
	var body struct {
		AmountCents uint32 `json:"amount_cents"`
	}
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}

	receipt, replayed, err := h.Payments.Pay(c.Request().Context(), userID, bookingID, idemKey, body.AmountCents)
	switch {
	case err == nil:
		status := http.StatusCreated
		if replayed {
			status = http.StatusOK
		}
		return c.JSON(status, echo.Map{"receipt": receipt, "replayed": replayed})
	case errors.Is(err, repository.ErrBookingNotFound):
		return c.JSON(http.StatusNotFound, echo.Map{"error": "booking not found"})
	case errors.Is(err, repository.ErrForbidden):
		return c.JSON(http.StatusForbidden, echo.Map{"error": "forbidden"})
	case errors.Is(err, workflow.ErrAmountMismatch):
		return c.JSON(http.StatusBadRequest, echo.Map{"error": err.Error()})
	case errors.Is(err, workflow.ErrAlreadyPaid),
		errors.Is(err, workflow.ErrAlreadyCancelled),
		errors.Is(err, workflow.ErrBookingExpired):
		return c.JSON(http.StatusConflict, echo.Map{"error": err.Error()})
	case errors.Is(err, client.ErrPaymentDeclined):
		return c.JSON(http.StatusPaymentRequired, echo.Map{"error": "payment declined"})
	case errors.Is(err, coordination.ErrLockUnavailable):
		c.Response().Header().Set("Retry-After", "1")
		return c.JSON(http.StatusServiceUnavailable, echo.Map{"error": "payment is being processed, please retry"})
	case errors.Is(err, workflow.ErrDependencyUnavailable):
		return c.JSON(http.StatusServiceUnavailable, echo.Map{"error": "payment service is temporarily unavailable"})
	default:
		c.Logger().Errorf("payment failed: %v", err)
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal error"})
	}
}

// GetBooking handles GET /v1/bookings/:id.
func (h *BookingHandler) GetBooking(c echo.Context) error {
	userID, ok := middleware.CurrentUserID(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	bookingID, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || bookingID == 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid booking id"})
	}
	booking, err := h.Reservations.GetBooking(c.Request().Context(), userID, bookingID)
	switch {
	case err == nil:
		return c.JSON(http.StatusOK, bookingResponse(booking))
	case errors.Is(err, repository.ErrBookingNotFound):
		return c.JSON(http.StatusNotFound, echo.Map{"error": "booking not found"})
	case errors.Is(err, repository.ErrForbidden):
		return c.JSON(http.StatusForbidden, echo.Map{"error": "forbidden"})
	default:
		c.Logger().Errorf("get booking failed: %v", err)
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal error"})
	}
}

// ListMyBookings handles GET /v1/my-bookings.
func (h *BookingHandler) ListMyBookings(c echo.Context) error {
	userID, ok := middleware.CurrentUserID(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	bookings, err := h.Reservations.ListBookings(c.Request().Context(), userID)
	if err != nil {
		c.Logger().Errorf("list bookings failed: %v", err)
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal error"})
	}
	out := make([]echo.Map, 0, len(bookings))
	for _, b := range bookings {
		out = append(out, bookingResponse(b))
	}
	return c.JSON(http.StatusOK, echo.Map{"bookings": out})
}

func bookingResponse(b *model.Booking) echo.Map {
	return echo.Map{
		"id":                 b.ID,
		"showtime_id":        b.ShowtimeID,
		"status":             b.Status,
		"payment_status":     b.PaymentStatus,
		"total_amount_cents": b.TotalAmountCents,
		"seat_ids":           b.SeatIDs(),
		"expires_at":         b.ExpiresAt.UTC().Format(time.RFC3339),
		"created_at":         b.CreatedAt.UTC().Format(time.RFC3339),
	}
}
