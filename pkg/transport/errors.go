package transport

import (
	"context"
	"errors"
	"fmt"
	"net"

	"kmesh/pkg/models"

	"go.nanomsg.org/mangos/v3"
)

var (
	// ErrTransport matches every *Error via errors.Is.
	ErrTransport = errors.New("transport error")

	// ErrNoTransportAvailable is returned when none of the preferred transports was detected.
	ErrNoTransportAvailable = errors.New("no transport available")

	// ErrChannelClosed is returned by Send after Close.
	ErrChannelClosed = errors.New("channel closed")
)

// Reason classifies a transport failure. Callers treat every reason the same
// way; it exists for logs and metrics.
type Reason string

const (
	ReasonUnreachable Reason = "unreachable"
	ReasonTimeout     Reason = "timeout"
	ReasonMalformed   Reason = "malformed"
	ReasonRemote      Reason = "remote"
)

// Error is the single failure type that crosses the channel boundary.
type Error struct {
	Kind    models.TransportKind
	Target  models.PeerID
	APIPath string
	Reason  Reason
	Err     error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s %s%s: %s: %v", e.Kind, e.Target, e.APIPath, e.Reason, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is makes every transport error match ErrTransport.
func (e *Error) Is(target error) bool {
	return target == ErrTransport
}

// IsTimeout reports whether err is a transport error caused by a timeout.
func IsTimeout(err error) bool {
	var terr *Error
	return errors.As(err, &terr) && terr.Reason == ReasonTimeout
}

func newError(kind models.TransportKind, target models.PeerID, apiPath string, reason Reason, err error) *Error {
	return &Error{Kind: kind, Target: target, APIPath: apiPath, Reason: reason, Err: err}
}

// classify maps a low-level send/receive failure to a Reason.
func classify(ctx context.Context, err error) Reason {
	if ctx.Err() != nil || errors.Is(err, context.DeadlineExceeded) {
		return ReasonTimeout
	}
	if errors.Is(err, mangos.ErrRecvTimeout) || errors.Is(err, mangos.ErrSendTimeout) {
		return ReasonTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ReasonTimeout
	}
	return ReasonUnreachable
}
