package domain

import "errors"

var (
	// ErrNotFound is returned when a session or message document does not exist.
	ErrNotFound = errors.New("not found")
	// ErrUnauthorized is returned when a credential or token check fails.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrConflict is returned when an id is already taken.
	ErrConflict = errors.New("conflict")
	// ErrMalformed is returned for frames or documents that cannot be decoded.
	ErrMalformed = errors.New("malformed")
	// ErrSessionEnded is returned when an operation targets an ended session.
	ErrSessionEnded = errors.New("session has ended")
)
