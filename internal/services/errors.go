// Package services defines the business logic for generation requests and
// user accounts. This file centralizes service-level error values so that they
// can be consistently returned by service methods and checked by callers.
//
// Translation into user-facing messages or HTTP status codes is performed at
// the handler layer.
package services

import "errors"

// Request lifecycle errors.
var (
	// ErrUnauthorized is returned when the caller has no resolved identity.
	// It is always checked before any input validation or storage write.
	ErrUnauthorized = errors.New("authentication required")

	// ErrInvalidInput wraps schema or value violations in a submission.
	ErrInvalidInput = errors.New("invalid input")

	// ErrRequestNotFound indicates that the requested record does not exist
	// (or, with ownership enforcement on, belongs to someone else).
	ErrRequestNotFound = errors.New("request not found")

	// ErrGeneration wraps a failed outbound generation call.
	ErrGeneration = errors.New("text generation failed")
)

// Account errors.
var (
	// ErrUserExists is returned when a username or email is already registered.
	ErrUserExists = errors.New("username or email already registered")

	// ErrInvalidCredentials is returned for an unknown username or a wrong password.
	ErrInvalidCredentials = errors.New("invalid username or password")
)
