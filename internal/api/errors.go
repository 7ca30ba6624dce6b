package api

import (
	"errors"
	"net/http"

	"github.com/bl1nk/agent-worker/internal/domain"
	"github.com/bl1nk/agent-worker/internal/store"
)

// MapErrorToStatusCode maps internal errors to appropriate HTTP status codes
// based on the error type. This prevents leaking internal error types or
// messages to clients.
func MapErrorToStatusCode(err error) int {
	switch {
	case store.IsNotFoundError(err):
		return http.StatusNotFound

	case errors.Is(err, domain.ErrPayloadConflict):
		return http.StatusConflict

	case errors.Is(err, domain.ErrValidation),
		errors.Is(err, domain.ErrInvalidTaskType),
		errors.Is(err, domain.ErrInvalidPriority),
		errors.Is(err, domain.ErrEmptyPayload):
		return http.StatusBadRequest

	case errors.Is(err, store.ErrQueueFull):
		return http.StatusServiceUnavailable

	default:
		return http.StatusInternalServerError
	}
}

// GetSafeErrorMessage returns a sanitized, user-friendly error message based
// on the error type.
func GetSafeErrorMessage(err error) string {
	if err == nil {
		return "An unexpected error occurred"
	}

	switch {
	case errors.Is(err, store.ErrTaskNotFound):
		return "Task not found"

	case store.IsNotFoundError(err):
		return "Not found"

	case errors.Is(err, domain.ErrPayloadConflict):
		return "Idempotency key was already used with a different payload"

	case errors.Is(err, domain.ErrValidation),
		errors.Is(err, domain.ErrInvalidTaskType),
		errors.Is(err, domain.ErrInvalidPriority),
		errors.Is(err, domain.ErrEmptyPayload):
		return err.Error()

	case errors.Is(err, store.ErrQueueFull):
		return "Service is at capacity, try again later"

	default:
		return "An unexpected error occurred"
	}
}
