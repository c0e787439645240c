package router // package router defines how HTTP routes are registered for the API

import (
	"database/sql"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/cineres/movie-booking/internal/client"
	"github.com/cineres/movie-booking/internal/coordination"
	"github.com/cineres/movie-booking/internal/handler"
	"github.com/cineres/movie-booking/internal/middleware"
)

// RegisterRoutes registers the unauthenticated operational endpoints: the
// health check used by load balancers and the Prometheus scrape endpoint.
func RegisterRoutes(e *echo.Echo, db *sql.DB, rdb *redis.Client) {
	e.GET("/healthz", handler.Health(db, rdb))
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
}

// RegisterBooking registers the booking endpoints under /v1.  All routes
// require a valid bearer token; rate limiting runs after authentication so
// admission is counted per user rather than per shared NAT address.
func RegisterBooking(e *echo.Echo, h *handler.BookingHandler,
	verifier client.AuthVerifier, limiter *coordination.RateLimiter) {
	g := e.Group(
		"/v1",
		middleware.Auth(verifier),
		middleware.RateLimit(limiter),
	)
	g.POST("/showtimes/:id/reserve", h.Reserve)
	g.GET("/bookings/:id", h.GetBooking)
	g.DELETE("/bookings/:id", h.Cancel)
	g.POST("/bookings/:id/pay", h.Pay)
	g.GET("/my-bookings", h.ListMyBookings)
}
