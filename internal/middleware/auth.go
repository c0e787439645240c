package middleware // middleware provides reusable HTTP middleware for the booking API

import (
	"errors"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/cineres/movie-booking/internal/client"
)

// Auth returns an Echo middleware that validates the Bearer token through
// the configured verifier and injects the caller's identity into the
// request context.  Handlers read it back via CurrentUserID.  The verifier
// may parse the token locally or call the auth service, the middleware
// does not care which.
func Auth(verifier client.AuthVerifier) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			auth := c.Request().Header.Get("Authorization")
			if !strings.HasPrefix(auth, "Bearer ") {
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "missing bearer token"})
			}
			raw := strings.TrimPrefix(auth, "Bearer ")

			identity, err := verifier.Verify(c.Request().Context(), raw)
			if errors.Is(err, client.ErrInvalidToken) {
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid token"})
			}
			if err != nil {
				return c.JSON(http.StatusServiceUnavailable, echo.Map{"error": "authentication service unavailable"})
			}

			c.Set("user_id", identity.UserID)
			c.Set("role", identity.Role)
			return next(c)
		}
	}
}

// CurrentUserID returns the authenticated user id stored by Auth.  The
// second return is false on routes that skipped authentication.
func CurrentUserID(c echo.Context) (uint64, bool) {
	v, ok := c.Get("user_id").(uint64)
	return v, ok
}
