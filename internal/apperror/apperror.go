// Package apperror defines the single typed application error used across
// the service. Domain failures carry an HTTP status and a client-safe
// message; anything else is coerced to a logged 500 at the boundary so no
// internal detail reaches a client.
package apperror

import (
	"errors"
	"net/http"
)

// E is an application error with a client-facing message and HTTP status.
// The wrapped cause, when present, is for server-side logs only.
type E struct {
	Status  int
	Message string
	Err     error
}

func (e *E) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *E) Unwrap() error { return e.Err }

func New(status int, message string) *E {
	return &E{Status: status, Message: message}
}

func BadRequest(message string) *E {
	return &E{Status: http.StatusBadRequest, Message: message}
}

func Unauthorized(message string) *E {
	return &E{Status: http.StatusUnauthorized, Message: message}
}

func Forbidden(message string) *E {
	return &E{Status: http.StatusForbidden, Message: message}
}

func Conflict(message string) *E {
	return &E{Status: http.StatusConflict, Message: message}
}

func TooManyRequests(message string) *E {
	return &E{Status: http.StatusTooManyRequests, Message: message}
}

// Internal wraps an unexpected error. The client sees a generic message.
func Internal(err error) *E {
	return &E{Status: http.StatusInternalServerError, Message: "internal error", Err: err}
}

// FromError returns err as an *E, coercing unknown errors to Internal.
func FromError(err error) *E {
	var e *E
	if errors.As(err, &e) {
		return e
	}
	return Internal(err)
}
