// Package apperror defines the failure taxonomy shared by every layer.
//
// Each failure is an *AppError that wraps one of the sentinel errors below,
// so callers classify failures with errors.Is and read the human message
// with errors.As:
//
//	var appErr *apperror.AppError
//	if errors.As(err, &appErr) && errors.Is(err, apperror.ErrNotFound) { ... }
//
// RETRY POLICY BY KIND:
//   - ErrValidation   caught before any store call, never retried
//   - ErrUnauthorized no session; callers send the user to sign-in
//   - ErrNotFound     stale id or another owner's id; the cache is reconciled
//   - ErrUnavailable  transport/server failure; safe to retry manually
package apperror

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrValidation   = errors.New("validation error")
	ErrConflict     = errors.New("conflict")
	ErrUnauthorized = errors.New("unauthorized")
	ErrUnavailable  = errors.New("unavailable")
)

type AppError struct {
	Err     error  // sentinel kind
	Message string // Human-readable error message
	Field   string // Optional: field causing the error
	Cause   error  // Optional: underlying driver/transport error
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

// Unwrap exposes both the sentinel kind and the underlying cause, so
// errors.Is(err, ErrUnavailable) and errors.Is(err, context.Canceled) both work.
func (e *AppError) Unwrap() []error {
	if e.Cause != nil {
		return []error{e.Err, e.Cause}
	}
	return []error{e.Err}
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

// Unauthorized reports that the caller has no valid session.
// HTTP handlers map this to 401 Unauthorized.
func Unauthorized(message string) *AppError {
	return &AppError{
		Err:     ErrUnauthorized,
		Message: message,
	}
}

// Unavailable wraps a transport or storage failure. op names what was being
// attempted ("listing snippets") and becomes the message prefix.
func Unavailable(op string, cause error) *AppError {
	return &AppError{
		Err:     ErrUnavailable,
		Message: op,
		Cause:   cause,
	}
}

// Kind returns the sentinel classifying err, or nil when err carries none.
func Kind(err error) error {
	for _, kind := range []error{ErrValidation, ErrUnauthorized, ErrNotFound, ErrUnavailable, ErrConflict} {
		if errors.Is(err, kind) {
			return kind
		}
	}
	return nil
}
