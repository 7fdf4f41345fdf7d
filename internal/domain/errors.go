// Package domain defines the core business entities and errors.
package domain

import "errors"

// Common domain errors used across the application.
var (
	// ErrValidation is returned when a domain entity or an operation argument
	// fails validation. It is usually wrapped with a more specific message.
	ErrValidation = errors.New("validation failed")

	// ErrInvalidID is returned when an ID is malformed or empty.
	ErrInvalidID = errors.New("invalid ID")

	// ErrInvalidStatus is returned when a task status is not one of the known values.
	ErrInvalidStatus = errors.New("invalid task status")

	// ErrInvalidAction is returned when a history action is not one of the known values.
	ErrInvalidAction = errors.New("invalid history action")

	// ErrInvalidRole is returned when a role name does not map to a known role.
	ErrInvalidRole = errors.New("invalid role")

	// ErrEmptyQueue is returned when a task has no work queue.
	ErrEmptyQueue = errors.New("work queue cannot be empty")

	// ErrEmptyActor is returned when an operation is attempted without an actor.
	ErrEmptyActor = errors.New("actor cannot be empty")
)
