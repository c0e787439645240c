package middleware

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/cineres/movie-booking/internal/coordination"
)

// RateLimit throttles requests per caller with the sliding-window limiter.
// Authenticated requests are keyed by user id, anonymous ones by client
// IP.  A store failure lets the request through; the limiter protects
// capacity and must not turn a cache outage into a full API outage.
func RateLimit(limiter *coordination.RateLimiter) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			key := rateKey(c)
			ctx := c.Request().Context()

			allowed, err := limiter.IsAllowed(ctx, key)
			if err != nil {
				c.Logger().Warnf("ratelimit: check failed for key=%s: %v", key, err)
				return next(c)
			}

			c.Response().Header().Set("X-RateLimit-Limit", strconv.FormatInt(limiter.Limit(), 10))
			if remaining, err := limiter.Remaining(ctx, key); err == nil {
				c.Response().Header().Set("X-RateLimit-Remaining", strconv.FormatInt(remaining, 10))
			}

			if !allowed {
				retryAfter := int(limiter.Window() / time.Second)
				c.Response().Header().Set("Retry-After", strconv.Itoa(retryAfter))
				return c.JSON(http.StatusTooManyRequests, echo.Map{
					"error":       "too_many_requests",
					"message":     "rate limit exceeded",
					"retry_after": retryAfter,
				})
			}
			return next(c)
		}
	}
}

func rateKey(c echo.Context) string {
	if uid, ok := CurrentUserID(c); ok {
		return fmt.Sprintf("user:%d", uid)
	}
	ip := c.RealIP()
	if ip == "" {
		ip = "unknown"
	}
	return "ip:" + ip
}
