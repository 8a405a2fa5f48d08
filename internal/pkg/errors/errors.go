package errors

import "errors"

var (
	// ErrNotFound is a generic sentinel for missing resources.
	ErrNotFound = errors.New("not found")
	// ErrUnauthorized is a generic sentinel for auth failures.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrInvalidArgument is a generic sentinel for invalid input.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrRateLimited signals that the process-wide generation quota is exhausted.
	ErrRateLimited = errors.New("rate limited")
	// ErrConnClosed signals a send on a channel that is already gone.
	ErrConnClosed = errors.New("connection closed")
)
