package handler

// RESPONSE HELPERS:
// Every JSON response goes through writeJSON, every error through writeError,
// and every replay round through writeExecution. Errors always have the
// same shape:
//
//	{"error": "not_found", "message": "script not found with id abc123"}

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/sakif/replaybox/internal/apperror"
	"github.com/sakif/replaybox/internal/executor"
)

// maxBodyBytes caps request bodies. Code size is validated separately; this
// only stops a client from streaming an unbounded body at the decoder.
const maxBodyBytes = 4 << 20

// ErrorResponse is the standard error format returned by all API endpoints.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			// Headers are already sent; all that is left is to log it.
			slog.Error("failed to encode JSON response", slog.String("error", err.Error()))
		}
	}
}

// writeError maps a domain error to an HTTP status. Errors that are not an
// *apperror.AppError become a generic 500 and their text is never sent.
func writeError(w http.ResponseWriter, err error) {
	var appErr *apperror.AppError
	if !errors.As(err, &appErr) {
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{
			Error:   "internal_error",
			Message: "An internal error occurred",
		})
		return
	}

	status := http.StatusInternalServerError
	errorType := "internal_error"
	switch {
	case errors.Is(err, apperror.ErrValidation):
		status = http.StatusBadRequest
		errorType = "validation_error"
	case errors.Is(err, apperror.ErrNotFound):
		status = http.StatusNotFound
		errorType = "not_found"
	case errors.Is(err, apperror.ErrConflict):
		status = http.StatusConflict
		errorType = "conflict"
	case errors.Is(err, apperror.ErrRateLimited):
		status = http.StatusTooManyRequests
		errorType = "rate_limited"
	case errors.Is(err, apperror.ErrUnavailable):
		status = http.StatusServiceUnavailable
		errorType = "unavailable"
	}

	writeJSON(w, status, ErrorResponse{
		Error:   errorType,
		Message: appErr.Message,
		Field:   appErr.Field,
	})
}

// WriteError is writeError for callers outside the package, such as the
// rate limiting middleware.
func WriteError(w http.ResponseWriter, err error) {
	writeError(w, err)
}

// executionStatus is the HTTP status of a replay round. A round that ran is
// a 200 whatever the script did, timeouts included; only a round the host
// could not serve is an error status.
func executionStatus(res *executor.ExecutionResult) int {
	switch res.Kind() {
	case executor.KindResourceExhausted:
		return http.StatusServiceUnavailable
	case executor.KindHostFailure:
		return http.StatusInternalServerError
	}
	return http.StatusOK
}

func writeExecution(w http.ResponseWriter, res *executor.ExecutionResult) {
	if res.Kind() == executor.KindResourceExhausted {
		w.Header().Set("Retry-After", "1")
	}
	writeJSON(w, executionStatus(res), res)
}

// decodeJSON reads a JSON body into dst. Malformed or oversized bodies are
// validation errors. Numbers decode as json.Number so large integer inputs
// reach the script digit for digit.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)

	dec := json.NewDecoder(r.Body)
	dec.UseNumber()
	if err := dec.Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		switch {
		case errors.As(err, &tooLarge):
			return apperror.ValidationFailed("body",
				fmt.Sprintf("request body must be %d bytes or less", tooLarge.Limit))
		case errors.Is(err, io.EOF):
			return apperror.ValidationFailed("body", "request body is required")
		default:
			return apperror.ValidationFailed("body", "request body is not valid JSON")
		}
	}
	return nil
}
