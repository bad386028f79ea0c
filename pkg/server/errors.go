package server

import (
	"errors"
	"net/http"

	"kmesh/pkg/backend"
	"kmesh/pkg/balancer"
	"kmesh/pkg/broadcast"
	"kmesh/pkg/router"
	"kmesh/pkg/transport"
)

var (
	// ErrBadRequest is returned when a request body cannot be decoded.
	ErrBadRequest = errors.New("bad request")

	// ErrUnknownAPIPath is returned for a mesh path outside the served set.
	ErrUnknownAPIPath = errors.New("unknown api path")

	// ErrNotConfigured is returned when the component behind an endpoint is absent.
	ErrNotConfigured = errors.New("not configured on this node")
)

// statusFor maps an error onto an HTTP status. Transient mesh conditions are
// 503 so callers may retry elsewhere; malformed requests are 400.
func statusFor(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, router.ErrAllBackendsFailed),
		errors.Is(err, balancer.ErrNoHealthyPeers),
		errors.Is(err, transport.ErrNoTransportAvailable),
		errors.Is(err, broadcast.ErrNoClusters),
		errors.Is(err, ErrNotConfigured):
		return http.StatusServiceUnavailable
	case errors.Is(err, router.ErrUnsupportedQueryType),
		errors.Is(err, backend.ErrInvalidPayload),
		errors.Is(err, backend.ErrDimensionMismatch),
		errors.Is(err, broadcast.ErrUnknownMode),
		errors.Is(err, balancer.ErrUnknownStrategy),
		errors.Is(err, ErrBadRequest):
		return http.StatusBadRequest
	case errors.Is(err, ErrUnknownAPIPath),
		errors.Is(err, backend.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, transport.ErrTransport):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
