// Package domain defines the core business entities and errors.
package domain

import "errors"

// Common domain errors used across the application.
var (
	// ErrValidation is returned when a domain entity fails validation.
	// This is often wrapped with a more specific error message.
	ErrValidation = errors.New("validation failed")

	// ErrInvalidID is returned when an ID is malformed or invalid.
	ErrInvalidID = errors.New("invalid ID")

	// ErrInvalidTaskType is returned when a task type is not one of the
	// known task types.
	ErrInvalidTaskType = errors.New("invalid task type")

	// ErrInvalidTaskStatus is returned when a task status is not valid.
	ErrInvalidTaskStatus = errors.New("invalid task status")

	// ErrInvalidTransition is returned when a status change would violate
	// the task lifecycle (e.g. mutating a terminal task).
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrInvalidPriority is returned when a priority value is out of range.
	ErrInvalidPriority = errors.New("invalid priority")

	// ErrEmptyPayload is returned when a required payload is empty.
	ErrEmptyPayload = errors.New("payload cannot be empty")

	// ErrPayloadConflict is returned when an idempotency key is reused with
	// a payload that does not match the originally stored one. This is a
	// caller bug and is never silently resolved.
	ErrPayloadConflict = errors.New("idempotency key reused with different payload")
)
