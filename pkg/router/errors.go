package router

import (
	"errors"
	"fmt"
	"strings"

	"kmesh/pkg/models"
)

var (
	// ErrUnsupportedQueryType is matched by every *UnsupportedQueryTypeError.
	ErrUnsupportedQueryType = errors.New("unsupported query type")

	// ErrAllBackendsFailed is matched by every *AllBackendsFailedError.
	ErrAllBackendsFailed = errors.New("all backends failed")

	// ErrBackendNotConfigured is returned when no adapter serves a backend kind.
	ErrBackendNotConfigured = errors.New("backend not configured")
)

// UnsupportedQueryTypeError reports a query type outside the known set or
// without a routing descriptor. It is a caller error.
type UnsupportedQueryTypeError struct {
	QueryType models.QueryType
}

func (e *UnsupportedQueryTypeError) Error() string {
	return fmt.Sprintf("unsupported query type %q", e.QueryType)
}

// Is makes the error match ErrUnsupportedQueryType.
func (e *UnsupportedQueryTypeError) Is(target error) bool {
	return target == ErrUnsupportedQueryType
}

// AllBackendsFailedError is returned when every candidate backend of a query
// type failed. LastError is the failure of the final candidate.
type AllBackendsFailedError struct {
	QueryType models.QueryType
	Attempted []models.BackendKind
	LastError error
}

func (e *AllBackendsFailedError) Error() string {
	attempted := make([]string, len(e.Attempted))
	for i, kind := range e.Attempted {
		attempted[i] = string(kind)
	}
	return fmt.Sprintf("all backends failed for %q (tried %s): %v",
		e.QueryType, strings.Join(attempted, ", "), e.LastError)
}

func (e *AllBackendsFailedError) Unwrap() error {
	return e.LastError
}

// Is makes the error match ErrAllBackendsFailed.
func (e *AllBackendsFailedError) Is(target error) bool {
	return target == ErrAllBackendsFailed
}
