// Package client holds the capability interfaces for the remote
// collaborators (auth, catalog, payment gateway) and their HTTP adapters.
// The workflows depend only on the interfaces, so tests substitute fakes
// and the adapters stay swappable.
package client

import (
	"errors"
	"net/http"
	"time"
)

// Sentinel errors the adapters translate remote responses into.
var (
	// ErrInvalidToken means the auth service rejected the credential.
	ErrInvalidToken = errors.New("client: invalid token")
	// ErrShowtimeNotFound means the catalog has no such showtime.
	ErrShowtimeNotFound = errors.New("client: showtime not found")
	// ErrPaymentDeclined means the gateway refused the charge.
	ErrPaymentDeclined = errors.New("client: payment declined")
)

// requestTimeout bounds every dependency call independently of the
// retry/backoff budget wrapped around it.
const requestTimeout = 5 * time.Second

func newHTTPClient() *http.Client {
	return &http.Client{Timeout: requestTimeout}
}
