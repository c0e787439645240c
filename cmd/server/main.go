package main // Entry point package

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"

	"github.com/cineres/movie-booking/internal/client"
	"github.com/cineres/movie-booking/internal/config"
	"github.com/cineres/movie-booking/internal/coordination"
	"github.com/cineres/movie-booking/internal/database"
	"github.com/cineres/movie-booking/internal/handler"
	"github.com/cineres/movie-booking/internal/queue"
	"github.com/cineres/movie-booking/internal/repository"
	"github.com/cineres/movie-booking/internal/router"
	"github.com/cineres/movie-booking/internal/store"
	"github.com/cineres/movie-booking/internal/workflow"
)

func main() {
	_ = godotenv.Load() // .env is optional, real deployments use the environment
	cfg := config.Load()

	db, err := database.Open(cfg.DBUser, cfg.DBPass, cfg.DBHost, cfg.DBPort, cfg.DBName)
	if err != nil {
		log.Fatalf("database: %v", err)
	}
	defer db.Close()

	rdb, err := config.NewRedisClient()
	if err != nil {
		log.Fatalf("redis: %v", err)
	}
	defer rdb.Close()
	kv := store.NewRedisStore(rdb)

	publisher, err := queue.NewPublisher(cfg.AMQPURL)
	if err != nil {
		log.Fatalf("rabbitmq: %v", err)
	}
	defer publisher.Close()

	var verifier client.AuthVerifier
	switch cfg.AuthMode {
	case "remote":
		verifier = client.NewHTTPAuthVerifier(cfg.AuthURL)
	default:
		verifier = client.NewLocalVerifier(cfg.JWTSecret)
	}

	locks := coordination.NewDistributedLock(kv, cfg.LockAttempts, cfg.LockRetryDelay)
	guard := coordination.NewIdempotencyGuard(kv, locks, cfg.IdempotencyTTL)
	limiter := coordination.NewRateLimiter(kv, cfg.RateLimit, cfg.RateLimitWindow)
	retry := coordination.NewRetryPolicy(cfg.RetryMaxAttempts, cfg.RetryBaseDelay, cfg.RetryMaxDelay)
	catalogBreaker := coordination.NewCircuitBreaker("catalog",
		cfg.BreakerFailureThreshold, cfg.BreakerRecoveryTimeout, cfg.BreakerHalfOpenMax)
	paymentBreaker := coordination.NewCircuitBreaker("payment",
		cfg.BreakerFailureThreshold, cfg.BreakerRecoveryTimeout, cfg.BreakerHalfOpenMax)

	bookings := repository.NewBookingRepo(db)
	markers := workflow.NewSeatMarkers(kv)
	reservations := workflow.NewService(bookings, markers, locks,
		client.NewHTTPCatalog(cfg.CatalogURL), catalogBreaker, retry, publisher,
		workflow.Config{
			LockTTL:            cfg.LockTTL,
			PaymentWindow:      cfg.PaymentWindow,
			MaxSeatsPerBooking: cfg.MaxSeatsPerBooking,
		})
	payments := workflow.NewPaymentFlow(bookings, guard,
		client.NewHTTPPaymentGateway(cfg.PaymentURL), paymentBreaker, retry, publisher)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var wg sync.WaitGroup

	reconciler := workflow.NewReconciler(bookings, markers, publisher,
		cfg.ReconcilerInterval, cfg.ReconcilerBatch)
	wg.Add(1)
	go func() {
		defer wg.Done()
		reconciler.Run(ctx)
	}()

	consumer := queue.NewNotificationConsumer(cfg.AMQPURL, guard)
	wg.Add(1)
	go func() {
		defer wg.Done()
		consumer.Run(ctx)
	}()

	e := echo.New()
	e.HideBanner = true
	router.RegisterRoutes(e, db, rdb)
	router.RegisterBooking(e, handler.NewBookingHandler(reservations, payments), verifier, limiter)

	addr := ":" + cfg.Port
	log.Printf("listening on %s (env=%s)", addr, cfg.Env)
	go func() {
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		log.Printf("server shutdown: %v", err)
	}
	cancel()
	wg.Wait()
}
