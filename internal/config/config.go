package config // package config loads application configuration from environment variables

import (
	"log"
	"os"
	"strconv"
	"time"
)

// Config holds all runtime configuration values.  Each field corresponds to
// an environment variable.  Coordination knobs carry defaults tuned for the
// booking flow and only need overriding in tests or unusual deployments.
type Config struct {
	Env  string // application environment (e.g. "dev", "prod")
	Port string // HTTP port to listen on

	DBUser string // database username
	DBPass string // database password (optional)
	DBHost string // database host address
	DBPort string // database port number
	DBName string // database name

	AMQPURL string // RabbitMQ connection string

	// AuthMode selects how bearer tokens are verified: "local" parses
	// the JWT with JWTSecret, "remote" delegates to the auth service.
	AuthMode  string
	JWTSecret string
	AuthURL   string

	CatalogURL string // base URL of the movie catalog service
	PaymentURL string // base URL of the payment gateway

	// Distributed lock over a showtime's seat map.
	LockTTL        time.Duration
	LockAttempts   int
	LockRetryDelay time.Duration

	// Circuit breakers guarding the catalog and payment calls.
	BreakerFailureThreshold int
	BreakerRecoveryTimeout  time.Duration
	BreakerHalfOpenMax      int

	// Retry policy for calls through the breakers.
	RetryMaxAttempts int
	RetryBaseDelay   time.Duration
	RetryMaxDelay    time.Duration

	IdempotencyTTL time.Duration // how long payment receipts are replayable

	RateLimit       int64         // requests allowed per identifier per window
	RateLimitWindow time.Duration // sliding window length

	PaymentWindow      time.Duration // time a Pending booking has to get paid
	MaxSeatsPerBooking int

	ReconcilerInterval time.Duration // expiry sweep cadence
	ReconcilerBatch    int           // bookings expired per sweep
}

// Load reads configuration values from environment variables and returns a
// Config.  Required variables are enforced by must() and missing values
// cause the program to exit with a fatal log message.
func Load() Config {
	cfg := Config{
		Env:  must("APP_ENV"),
		Port: must("APP_PORT"),

		DBUser: must("DB_USER"),
		DBPass: os.Getenv("DB_PASS"), // empty allowed
		DBHost: must("DB_HOST"),
		DBPort: must("DB_PORT"),
		DBName: must("DB_NAME"),

		AMQPURL: must("AMQP_URL"),

		AuthMode: envStr("AUTH_MODE", "local"),

		CatalogURL: must("CATALOG_SERVICE_URL"),
		PaymentURL: must("PAYMENT_SERVICE_URL"),

		LockTTL:        envDur("LOCK_TTL", 30*time.Second),
		LockAttempts:   envInt("LOCK_ATTEMPTS", 3),
		LockRetryDelay: envDur("LOCK_RETRY_DELAY", 100*time.Millisecond),

		BreakerFailureThreshold: envInt("BREAKER_FAILURE_THRESHOLD", 5),
		BreakerRecoveryTimeout:  envDur("BREAKER_RECOVERY_TIMEOUT", 30*time.Second),
		BreakerHalfOpenMax:      envInt("BREAKER_HALF_OPEN_MAX_CALLS", 2),

		RetryMaxAttempts: envInt("RETRY_MAX_ATTEMPTS", 3),
		RetryBaseDelay:   envDur("RETRY_BASE_DELAY", 100*time.Millisecond),
		RetryMaxDelay:    envDur("RETRY_MAX_DELAY", 10*time.Second),

		IdempotencyTTL: envDur("IDEMPOTENCY_TTL", 24*time.Hour),

		RateLimit:       int64(envInt("RATE_LIMIT_REQUESTS", 100)),
		RateLimitWindow: envDur("RATE_LIMIT_WINDOW", time.Minute),

		PaymentWindow:      envDur("PAYMENT_WINDOW", 15*time.Minute),
		MaxSeatsPerBooking: envInt("MAX_SEATS_PER_BOOKING", 10),

		ReconcilerInterval: envDur("RECONCILER_INTERVAL", time.Minute),
		ReconcilerBatch:    envInt("RECONCILER_BATCH", 100),
	}

	switch cfg.AuthMode {
	case "local":
		cfg.JWTSecret = must("JWT_SECRET")
	case "remote":
		cfg.AuthURL = must("AUTH_SERVICE_URL")
	default:
		log.Fatalf("invalid AUTH_MODE: %q (want local or remote)", cfg.AuthMode)
	}
	return cfg
}

// must retrieves the value of a required environment variable.  If the
// variable is unset or empty, the application logs a fatal error and exits.
func must(key string) string {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		log.Fatalf("missing required env var: %s", key)
	}
	return v
}

func envStr(k, d string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return d
}

func envInt(k string, d int) int {
	v := os.Getenv(k)
	if v == "" {
		return d
	}
	if n, err := strconv.Atoi(v); err == nil {
		return n
	}
	return d
}

func envDur(k string, d time.Duration) time.Duration {
	v := os.Getenv(k)
	if v == "" {
		return d
	}
	if dur, err := time.ParseDuration(v); err == nil {
		return dur
	}
	return d
}
