// Package apperror defines the error kinds shared by every layer.
//
// Each kind is a sentinel error. Constructors wrap the sentinel in an AppError
// that carries a human-readable message, so callers match with errors.Is and
// show AppError.Message to people.
package apperror

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound   = errors.New("not found")
	ErrValidation = errors.New("validation error")
	ErrConflict   = errors.New("conflict")

	// ErrTransport covers every way a request/response cycle with a remote
	// service can fail: connection errors, unexpected status, bad payload.
	// No finer distinction is made.
	ErrTransport = errors.New("transport failure")
)

type AppError struct {
	Err     error  // sentinel kind
	Message string // Human-readable error message
	Field   string // Optional: field causing the error
}

func (e *AppError) Error() string {
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func NotFound(resource, id string) *AppError {
	return &AppError{
		Err:     ErrNotFound,
		Message: fmt.Sprintf("%s not found with id %s", resource, id),
	}
}

func ValidationFailed(field, message string) *AppError {
	return &AppError{
		Err:     ErrValidation,
		Message: message,
		Field:   field,
	}
}

func Conflict(resource, id string) *AppError {
	return &AppError{
		Err:     ErrConflict,
		Message: fmt.Sprintf("%s conflict with id %s", resource, id),
	}
}

// Transport reports a failed call to a remote service.
// op names the logical operation ("list users"); cause is folded into the
// message because the kind is all callers are allowed to branch on.
func Transport(op string, cause error) *AppError {
	msg := op + ": transport failure"
	if cause != nil {
		msg = op + ": " + cause.Error()
	}
	return &AppError{
		Err:     ErrTransport,
		Message: msg,
	}
}
