// Package repository persists the booking aggregate and defines the
// sentinel errors shared across repositories. These sentinel values allow
// higher layers such as handlers to distinguish between failure scenarios
// with errors.Is instead of string matching.
package repository

import "errors"

// ErrBookingNotFound is returned when no booking row exists for the
// requested id. Handlers translate it into an HTTP 404 response.
var ErrBookingNotFound = errors.New("booking not found")

// ErrForbidden is returned when the caller attempts an operation on a
// booking they do not own. Handlers translate it into an HTTP 403
// response.
var ErrForbidden = errors.New("forbidden")
