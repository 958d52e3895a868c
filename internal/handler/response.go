package handler

// RESPONSE HELPERS:
// Every handler answers through writeJSON or writeError, so every error
// response from the API has the same shape:
//
//	{"error": "not_found", "message": "snippet not found with id abc123"}
//
// The "error" code is machine-readable and stable; the message is for
// humans and may change.

import (
	"errors"
	"io"
	"log/slog"
	"net/http"

	jsoniter "github.com/json-iterator/go"

	"github.com/sakif/snippet-vault/internal/apperror"
)

// maxBodyBytes caps request bodies. The largest legal body is a snippet at
// the service's code limit plus its metadata.
const maxBodyBytes = 1 << 20

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ErrorResponse is the standard error format returned by all API endpoints.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
}

// writeJSON sends data with the given status code. Headers and status must
// be written before the body; once Encode writes, they are sent.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			// Headers are already sent; all we can do is log.
			slog.Error("failed to encode JSON response", slog.String("error", err.Error()))
		}
	}
}

// decodeJSON reads one JSON value from the request body into dst.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	body := http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		switch {
		case errors.As(err, &tooLarge):
			return apperror.ValidationFailed("body", "request body too large")
		case errors.Is(err, io.EOF):
			return apperror.ValidationFailed("body", "request body is empty")
		default:
			return apperror.ValidationFailed("body", "invalid JSON body: "+err.Error())
		}
	}
	return nil
}

// statusOf maps a domain error to its HTTP status and error code.
//
// ERROR MAPPING:
//
//	ErrValidation   → 400 validation_error  (fix the input, don't retry)
//	ErrUnauthorized → 401 unauthorized      (sign in again)
//	ErrNotFound     → 404 not_found
//	ErrConflict     → 409 conflict
//	ErrUnavailable  → 503 unavailable       (safe to retry)
//	anything else   → 500 internal_error
func statusOf(err error) (int, string) {
	switch apperror.Kind(err) {
	case apperror.ErrValidation:
		return http.StatusBadRequest, "validation_error"
	case apperror.ErrUnauthorized:
		return http.StatusUnauthorized, "unauthorized"
	case apperror.ErrNotFound:
		return http.StatusNotFound, "not_found"
	case apperror.ErrConflict:
		return http.StatusConflict, "conflict"
	case apperror.ErrUnavailable:
		return http.StatusServiceUnavailable, "unavailable"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

// writeError maps err to an HTTP response.
//
// Only the AppError message is sent to the client. Causes (driver errors,
// transport errors) can contain SQL or hostnames, so they go to the log and
// never into the response body.
func writeError(w http.ResponseWriter, err error) {
	status, code := statusOf(err)

	resp := ErrorResponse{Error: code, Message: "An internal error occurred"}
	var appErr *apperror.AppError
	if errors.As(err, &appErr) {
		resp.Message = appErr.Message
		resp.Field = appErr.Field
	}
	if status == http.StatusServiceUnavailable {
		w.Header().Set("Retry-After", "1")
	}

	writeJSON(w, status, resp)
}

// WriteUnauthorized is the auth.UnauthorizedFunc used by RequireAuth, so a
// rejected session gets the same JSON error shape as every other failure.
func WriteUnauthorized(w http.ResponseWriter, _ *http.Request, err error) {
	if apperror.Kind(err) != apperror.ErrUnauthorized {
		err = apperror.Unauthorized("valid authentication required")
	}
	writeError(w, err)
}
