package backend

import "errors"

var (
	// ErrUnsupportedOperation is returned when an adapter cannot serve an operation.
	ErrUnsupportedOperation = errors.New("unsupported operation")

	// ErrNotFound is returned when the requested record does not exist.
	ErrNotFound = errors.New("record not found")

	// ErrInvalidPayload is returned when an operation payload is missing fields or malformed.
	ErrInvalidPayload = errors.New("invalid payload")

	// ErrUnknownScheme is returned when a connection string has an unsupported scheme.
	ErrUnknownScheme = errors.New("unknown backend scheme")

	// ErrNoConnection is returned when no connection of a backend chain could be opened.
	ErrNoConnection = errors.New("no backend connection available")

	// ErrDatabaseError is returned when a database operation fails.
	ErrDatabaseError = errors.New("database error")

	// ErrDimensionMismatch is returned when vectors of different lengths are compared.
	ErrDimensionMismatch = errors.New("vector dimensions mismatch")
)
