package handler // declare the package name; contains HTTP handlers

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
)

// Health returns a health-check handler used by load balancers and
// monitoring.  It pings the database and the cache with a short timeout
// and reports 503 with per-component status when either is down, since
// the booking flow cannot make progress without both.
func Health(db *sql.DB, rdb *redis.Client) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx, cancel := context.WithTimeout(c.Request().Context(), 2*time.Second)
		defer cancel()

		dbStatus, cacheStatus := "ok", "ok"
		healthy := true
		if err := db.PingContext(ctx); err != nil {
			dbStatus = err.Error()
			healthy = false
		}
		if err := rdb.Ping(ctx).Err(); err != nil {
			cacheStatus = err.Error()
			healthy = false
		}

		status := http.StatusOK
		if !healthy {
			status = http.StatusServiceUnavailable
		}
		return c.JSON(status, echo.Map{
			"database": dbStatus,
			"cache":    cacheStatus,
		})
	}
}
