// Package obs registers the Prometheus collectors exported by the service.
package obs

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// BreakerState reports the current circuit breaker state per remote
	// dependency: 0 closed, 1 half-open, 2 open.
	BreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state per dependency (0=closed, 1=half-open, 2=open)",
		},
		[]string{"dependency"},
	)

	BreakerTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_transitions_total",
			Help: "Circuit breaker state transitions per dependency and target state",
		},
		[]string{"dependency", "state"},
	)

	LockAcquires = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "distributed_lock_acquire_total",
			Help: "Distributed lock acquire attempts by result",
		},
		[]string{"result"},
	)

	RateLimitDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rate_limit_decisions_total",
			Help: "Rate limiter admission decisions",
		},
		[]string{"outcome"},
	)

	Reservations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reservations_total",
			Help: "Reservation attempts by outcome",
		},
		[]string{"outcome"},
	)

	BookingsExpired = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "bookings_expired_total",
			Help: "Bookings expired by the background reconciler",
		},
	)

	Payments = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payments_total",
			Help: "Payment applications by result",
		},
		[]string{"result"},
	)
)
